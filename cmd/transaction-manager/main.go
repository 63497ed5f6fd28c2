package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/skalenetwork/transaction-manager/attempt"
	"github.com/skalenetwork/transaction-manager/config"
	"github.com/skalenetwork/transaction-manager/eth"
	"github.com/skalenetwork/transaction-manager/log"
	"github.com/skalenetwork/transaction-manager/pool"
	"github.com/skalenetwork/transaction-manager/processor"
	"github.com/skalenetwork/transaction-manager/signer"
)

func main() {
	boot, err := loadBootConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading boot configuration: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(boot.LogLevel, boot.LogOutput)
	log.HideHost(cfg.Endpoint)
	log.HideHost(cfg.SGXURL)
	log.Infow("starting transaction manager", "version", Version)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ethClient, err := eth.Dial(ctx, cfg.Endpoint, eth.Options{
		AvgGasPriceIncPercent:  cfg.AvgGasPriceIncPercent,
		TargetRewardPercentile: cfg.TargetRewardPercentile,
		DisableGasEstimation:   cfg.DisableGasEstimation,
		DefaultGasLimit:        cfg.DefaultGasLimit,
	})
	if err != nil {
		log.Fatalf("Failed to connect to eth node: %v", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURI)
	if err != nil {
		log.Fatalf("Invalid redis uri: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	txPool := pool.New(rdb, pool.Options{
		RecordTTL:     time.Duration(cfg.TxRecordExpiration) * time.Second,
		IDLen:         cfg.DefaultIDLen,
		BridgeSuffix:  cfg.IMAIDSuffix,
		GasMultiplier: cfg.GasMultiplier,
	})

	sgn, err := setupSigner(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize signer: %v", err)
	}
	log.Infow("signer ready", "address", sgn.Address().Hex())

	manager, err := setupAttemptManager(ctx, boot.FeePolicy, cfg, ethClient, rdb, sgn.Address())
	if err != nil {
		log.Fatalf("Failed to initialize attempt manager: %v", err)
	}
	// Recover the last on-wire attempt so fee bumping continues across
	// restarts.
	if err := manager.Fetch(ctx); err != nil {
		log.Fatalf("Failed to recover last attempt: %v", err)
	}

	proc := processor.New(ethClient, txPool, manager, sgn, processor.Config{
		MaxResubmitAmount:  cfg.MaxResubmitAmount,
		UnderpricedRetries: cfg.UnderpricedRetries,
		ConfirmationBlocks: uint64(cfg.ConfirmationBlocks),
		MaxWaitingTime:     cfg.MaxWaitingTime,
		RestartTimeout:     cfg.RestartTimeout,
		DefaultIDLen:       cfg.DefaultIDLen,
		IMAIDSuffix:        cfg.IMAIDSuffix,
	})
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("Processor stopped: %v", err)
	}
	log.Info("shutting down")
}

// setupSigner prefers the remote SGX signer when configured, falling back
// to the local key.
func setupSigner(ctx context.Context, cfg *config.Config) (signer.Signer, error) {
	if cfg.SGXURL != "" {
		return signer.NewSGX(ctx, signer.SGXConfig{
			URL:            cfg.SGXURL,
			CertsDir:       filepath.Join(cfg.NodeDataPath, "sgx_certs"),
			NodeConfigPath: filepath.Join(cfg.NodeDataPath, "node_config.json"),
		})
	}
	return signer.NewLocal(cfg.EthPrivateKey)
}

// setupAttemptManager picks the fee policy: the EIP-1559 manager when the
// chain supports dynamic fees (or when forced), the legacy one otherwise.
func setupAttemptManager(
	ctx context.Context,
	policy string,
	cfg *config.Config,
	ethClient *eth.Client,
	rdb *redis.Client,
	source common.Address,
) (attempt.Manager, error) {
	storage := attempt.NewStorage(rdb)

	if policy == feePolicyAuto {
		dynamic, err := ethClient.SupportsDynamicFees(ctx)
		if err != nil {
			return nil, fmt.Errorf("detect fee support: %w", err)
		}
		if dynamic {
			policy = feePolicyV2
		} else {
			policy = feePolicyV1
		}
	}

	switch policy {
	case feePolicyV2:
		log.Infow("using EIP-1559 fee policy")
		return attempt.NewV2(ethClient, storage, attempt.V2Config{
			Source:                   source,
			BaseWaitingTime:          cfg.BaseWaitingTime,
			MaxWaitingTime:           cfg.MaxWaitingTime,
			MinPriorityFee:           cfg.MinPriorityFeeWei(),
			FeeIncPercent:            cfg.FeeIncPercent,
			MinFeeIncPercent:         cfg.MinFeeIncPercent,
			MaxFeeValue:              cfg.MaxFeeValueWei(),
			BaseFeeAdjustmentPercent: cfg.BaseFeeAdjustmentPercent,
			HardReplaceStartIndex:    cfg.HardReplaceStartIndex,
			HardReplaceTipOffset:     cfg.HardReplaceTipOffsetWei(),
		}), nil
	case feePolicyV1:
		log.Infow("using legacy gas price fee policy")
		return attempt.NewV1(ethClient, storage, attempt.V1Config{
			Source:                 source,
			MaxGasPrice:            cfg.MaxGasPriceWei(),
			BaseWaitingTime:        cfg.BaseWaitingTime,
			MaxWaitingTime:         cfg.MaxWaitingTime,
			MinGasPriceInc:         cfg.MinGasPriceIncWei(),
			GasPriceIncPercent:     cfg.GasPriceIncPercent,
			GradGasPriceIncPercent: cfg.GradGasPriceIncPercent,
		}), nil
	default:
		return nil, fmt.Errorf("unknown fee policy %q", policy)
	}
}
