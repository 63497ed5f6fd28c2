// Package config holds the typed, environment-overridable tunables of the
// transaction manager. Every option is read once at boot; missing values
// fall back to documented defaults, except for the signer credentials
// where at least one of SGX_URL or ETH_PRIVATE_KEY must be present.
package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/spf13/viper"
)

const gwei = int64(1_000_000_000)

// Config is the full set of runtime options recognized by the service.
type Config struct {
	// External collaborators
	RedisURI      string `mapstructure:"REDIS_URI"`
	SGXURL        string `mapstructure:"SGX_URL"`
	EthPrivateKey string `mapstructure:"ETH_PRIVATE_KEY"`
	Endpoint      string `mapstructure:"ENDPOINT"`
	NodeDataPath  string `mapstructure:"NODE_DATA_PATH"`

	// Processor
	GasMultiplier        float64 `mapstructure:"GAS_MULTIPLIER"`
	RestartTimeout       int     `mapstructure:"RESTART_TIMEOUT"`
	BaseWaitingTime      int     `mapstructure:"BASE_WAITING_TIME"`
	ConfirmationBlocks   int     `mapstructure:"CONFIRMATION_BLOCKS"`
	MaxResubmitAmount    int     `mapstructure:"MAX_RESUBMIT_AMOUNT"`
	MaxWaitingTime       int     `mapstructure:"MAX_WAITING_TIME"`
	UnderpricedRetries   int     `mapstructure:"UNDERPRICED_RETRIES"`
	DisableGasEstimation bool    `mapstructure:"DISABLE_GAS_ESTIMATION"`

	// Pool
	TxRecordExpiration int    `mapstructure:"TXRECORD_EXPIRATION"`
	DefaultIDLen       int    `mapstructure:"DEFAULT_ID_LEN"`
	DefaultGasLimit    uint64 `mapstructure:"DEFAULT_GAS_LIMIT"`
	IMAIDSuffix        string `mapstructure:"IMA_ID_SUFFIX"`

	// Legacy (V1) pricing
	AvgGasPriceIncPercent  int   `mapstructure:"AVG_GAS_PRICE_INC_PERCENT"`
	MaxGasPrice            int64 `mapstructure:"MAX_GAS_PRICE"`
	GasPriceIncPercent     int   `mapstructure:"GAS_PRICE_INC_PERCENT"`
	GradGasPriceIncPercent int   `mapstructure:"GRAD_GAS_PRICE_INC_PERCENT"`
	MinGasPriceIncPercent  int64 `mapstructure:"MIN_GAS_PRICE_INC_PERCENT"`

	// EIP-1559 (V2) pricing
	BaseFeeAdjustmentPercent int   `mapstructure:"BASE_FEE_ADJUSTMENT_PERCENT"`
	TargetRewardPercentile   int   `mapstructure:"TARGET_REWARD_PERCENTILE"`
	MinPriorityFee           int64 `mapstructure:"MIN_PRIORITY_FEE"`
	FeeIncPercent            int   `mapstructure:"FEE_INC_PERCENT"`
	MaxFeeValue              int64 `mapstructure:"MAX_FEE_VALUE"`
	MinFeeIncPercent         int   `mapstructure:"MIN_FEE_INC_PERCENT"`
	MaxTxCap                 int64 `mapstructure:"MAX_TX_CAP"`
	HardReplaceStartIndex    int   `mapstructure:"HARD_REPLACE_START_INDEX"`
	HardReplaceTipOffset     int64 `mapstructure:"HARD_REPLACE_TIP_OFFSET"`
}

// Load reads the configuration from the environment, applying defaults for
// any option that is not set.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("REDIS_URI", "redis://@127.0.0.1:6379")
	v.SetDefault("SGX_URL", "")
	v.SetDefault("ETH_PRIVATE_KEY", "")
	v.SetDefault("ENDPOINT", "http://127.0.0.1:8545")
	v.SetDefault("NODE_DATA_PATH", "/skale_node_data")

	v.SetDefault("GAS_MULTIPLIER", 1.2)
	v.SetDefault("RESTART_TIMEOUT", 3)
	v.SetDefault("BASE_WAITING_TIME", 30)
	v.SetDefault("CONFIRMATION_BLOCKS", 2)
	v.SetDefault("MAX_RESUBMIT_AMOUNT", 10)
	v.SetDefault("MAX_WAITING_TIME", 500)
	v.SetDefault("UNDERPRICED_RETRIES", 5)
	v.SetDefault("DISABLE_GAS_ESTIMATION", false)

	v.SetDefault("TXRECORD_EXPIRATION", int((24 * time.Hour).Seconds()))
	v.SetDefault("DEFAULT_ID_LEN", 19)
	v.SetDefault("DEFAULT_GAS_LIMIT", 1_000_000)
	v.SetDefault("IMA_ID_SUFFIX", "js")

	v.SetDefault("AVG_GAS_PRICE_INC_PERCENT", 50)
	v.SetDefault("MAX_GAS_PRICE", 1000*gwei)
	v.SetDefault("GAS_PRICE_INC_PERCENT", 10)
	v.SetDefault("GRAD_GAS_PRICE_INC_PERCENT", 2)
	v.SetDefault("MIN_GAS_PRICE_INC_PERCENT", gwei)

	v.SetDefault("BASE_FEE_ADJUSTMENT_PERCENT", 50)
	v.SetDefault("TARGET_REWARD_PERCENTILE", 60)
	v.SetDefault("MIN_PRIORITY_FEE", gwei)
	v.SetDefault("FEE_INC_PERCENT", 12)
	v.SetDefault("MAX_FEE_VALUE", 1000*gwei)
	v.SetDefault("MIN_FEE_INC_PERCENT", 5)
	v.SetDefault("MAX_TX_CAP", 1000)
	v.SetDefault("HARD_REPLACE_START_INDEX", 3)
	v.SetDefault("HARD_REPLACE_TIP_OFFSET", 10*gwei)

	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Validate fails fast when no signer credential is configured. Everything
// else has a documented default.
func (c *Config) Validate() error {
	if c.SGXURL == "" && c.EthPrivateKey == "" {
		return fmt.Errorf("either SGX_URL or ETH_PRIVATE_KEY must be set")
	}
	return nil
}

// MaxGasPriceWei returns the legacy gas price ceiling as a big integer.
func (c *Config) MaxGasPriceWei() *big.Int { return big.NewInt(c.MaxGasPrice) }

// MaxFeeValueWei returns the EIP-1559 fee ceiling as a big integer.
func (c *Config) MaxFeeValueWei() *big.Int { return big.NewInt(c.MaxFeeValue) }

// MinGasPriceIncWei returns the absolute legacy bump floor as a big integer.
func (c *Config) MinGasPriceIncWei() *big.Int { return big.NewInt(c.MinGasPriceIncPercent) }

// MinPriorityFeeWei returns the tip floor as a big integer.
func (c *Config) MinPriorityFeeWei() *big.Int { return big.NewInt(c.MinPriorityFee) }

// HardReplaceTipOffsetWei returns the hard-replace cap-to-tip distance as
// a big integer.
func (c *Config) HardReplaceTipOffsetWei() *big.Int { return big.NewInt(c.HardReplaceTipOffset) }
