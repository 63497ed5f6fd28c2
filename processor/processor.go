// Package processor runs the dispatch state machine: a single-threaded
// loop that drains the pool one request at a time through send, wait and
// confirm, with bounded resubmission and crash recovery from the persisted
// last attempt.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skalenetwork/transaction-manager/attempt"
	"github.com/skalenetwork/transaction-manager/eth"
	"github.com/skalenetwork/transaction-manager/log"
	"github.com/skalenetwork/transaction-manager/pool"
	"github.com/skalenetwork/transaction-manager/signer"
	"github.com/skalenetwork/transaction-manager/types"
)

const pollInterval = time.Second

var (
	// ErrSending marks a submission failure that is not a fee problem:
	// the request goes back to the pool as UNSENT.
	ErrSending = errors.New("sending failed")
	// ErrWaitTimeout marks a receipt wait that ran out of the attempt
	// window: the request goes back as TIMEOUT for a fee bump.
	ErrWaitTimeout = errors.New("tx was not mined within the wait window")
	// ErrConfirmation marks a confirmation pass that found no receipt
	// behind any known hash.
	ErrConfirmation = errors.New("tx confirmation is indeterminate")
)

// Config tunes the processor loop.
type Config struct {
	// MaxResubmitAmount is the attempt budget before a request is dropped.
	MaxResubmitAmount int
	// UnderpricedRetries bounds in-attempt fee replacements.
	UnderpricedRetries int
	// ConfirmationBlocks is the depth a mined tx must reach.
	ConfirmationBlocks uint64
	// MaxWaitingTime caps every node wait, in seconds.
	MaxWaitingTime int
	// RestartTimeout is the pause after an iteration failure, in seconds.
	RestartTimeout int
	// DefaultIDLen and IMAIDSuffix identify bridge-originated requests.
	DefaultIDLen int
	IMAIDSuffix  string
}

// Processor owns the dispatch account: exactly one instance drains the
// pool, so nonce assignment needs no locking.
type Processor struct {
	eth      *eth.Client
	pool     *pool.Pool
	attempts attempt.Manager
	signer   signer.Signer
	cfg      Config
}

// New assembles the processor.
func New(e *eth.Client, p *pool.Pool, m attempt.Manager, s signer.Signer, cfg Config) *Processor {
	return &Processor{eth: e, pool: p, attempts: m, signer: s, cfg: cfg}
}

// Run polls the pool at 1 Hz until the context is cancelled. An iteration
// failure is logged and followed by the restart pause; the loop never
// stops on its own.
func (p *Processor) Run(ctx context.Context) error {
	log.Infow("processor started", "address", p.signer.Address().Hex())
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.ProcessNext(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Errorw(err, "failed to process next tx")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(p.cfg.RestartTimeout) * time.Second):
				}
			}
		}
	}
}

// ProcessNext handles at most one pending request. No pending request is
// not an error.
func (p *Processor) ProcessNext(ctx context.Context) error {
	tx, err := p.pool.FetchNext(ctx)
	if err != nil {
		return err
	}
	if tx == nil {
		return nil
	}
	log.Infow("received tx", "tx", tx.ID, "status", string(tx.Status), "attempts", tx.Attempts)
	return p.acquire(ctx, tx, func() error {
		return p.process(ctx, tx)
	})
}

// acquire scopes one handling attempt of tx: the attempt counter is
// consumed up front and the record is always persisted on the way out,
// whatever fn did. A request leaving non-terminal with an exhausted budget
// is force-dropped; a bridge request that failed pre-flight estimation is
// force-dropped immediately since bridge sends are idempotent.
func (p *Processor) acquire(ctx context.Context, tx *types.Tx, fn func() error) error {
	tx.Attempts++
	if tx.Status == types.TxStatusProposed {
		tx.Status = types.TxStatusSeen
	}

	procErr := fn()

	if !tx.IsCompleted() {
		switch {
		case tx.IsLastAttempt(p.cfg.MaxResubmitAmount):
			log.Warnw("dropping tx after max attempts", "tx", tx.ID, "attempts", tx.Attempts)
			tx.SetAsDropped()
		case errors.Is(procErr, eth.ErrEstimateGasRevert) &&
			tx.FromBridge(p.cfg.DefaultIDLen, p.cfg.IMAIDSuffix):
			log.Warnw("dropping bridge tx after estimation revert", "tx", tx.ID)
			tx.SetAsDropped()
		}
	}

	var persistErr error
	if tx.IsCompleted() {
		persistErr = p.pool.Release(ctx, tx)
	} else {
		persistErr = p.pool.Save(ctx, tx)
	}
	return errors.Join(procErr, persistErr)
}

// process walks tx through the state machine. Recovery first: a request
// that already has a mined hash (a crash hit between submit and persist)
// goes straight to confirmation instead of being re-sent.
func (p *Processor) process(ctx context.Context, tx *types.Tx) error {
	if tx.IsSent() {
		if _, status, err := p.execData(ctx, tx); err != nil {
			return err
		} else if status >= 0 {
			log.Infow("tx already mined, skipping to confirmation", "tx", tx.ID)
			tx.SetAsMined()
			return p.confirm(ctx, tx)
		}
	}

	if err := p.attempts.Make(ctx, tx); err != nil {
		return err
	}
	if err := p.send(ctx, tx); err != nil {
		return err
	}
	if err := p.pool.Save(ctx, tx); err != nil {
		return err
	}
	if err := p.wait(ctx, tx); err != nil {
		return err
	}
	return p.confirm(ctx, tx)
}

// send submits the current attempt, replacing the fee up to the
// underpriced-retry budget when the node refuses the bump. The attempt is
// persisted whenever it changed the wire state: after a successful
// submission and after every replacement.
func (p *Processor) send(ctx context.Context, tx *types.Tx) error {
	if tx.ChainID == nil {
		chainID, err := p.eth.ChainID(ctx)
		if err != nil {
			tx.Status = types.TxStatusUnsent
			return fmt.Errorf("%w: %v", ErrSending, err)
		}
		tx.ChainID = types.FromBig(chainID)
	}
	tx.From = p.signer.Address().Hex()

	for retry := 0; retry < p.cfg.UnderpricedRetries; retry++ {
		envelope, err := eth.ConvertTx(tx)
		if err != nil {
			tx.Status = types.TxStatusUnsent
			return fmt.Errorf("%w: %v", ErrSending, err)
		}
		signed, err := p.signer.SignTx(ctx, envelope, tx.ChainID.MathBigInt())
		if err != nil {
			tx.Status = types.TxStatusUnsent
			if signer.IsUnreachable(err) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrSending, err)
		}

		hash, err := p.eth.SendTx(ctx, signed)
		if err == nil {
			log.Infow("tx sent", "tx", tx.ID, "hash", hash, "nonce", *tx.Nonce)
			tx.SetAsSent(hash)
			return p.attempts.Save(ctx)
		}
		if !eth.IsReplacementUnderpriced(err) {
			tx.Status = types.TxStatusUnsent
			return fmt.Errorf("%w: %v", ErrSending, err)
		}
		log.Infow("replacement underpriced, bumping fee", "tx", tx.ID, "retry", retry)
		if err := p.attempts.Replace(ctx, tx, retry); err != nil {
			return err
		}
		if err := p.attempts.Save(ctx); err != nil {
			return err
		}
	}
	tx.Status = types.TxStatusUnsent
	return fmt.Errorf("%w: underpriced retries exhausted for tx %s", ErrSending, tx.ID)
}

// wait polls for the receipt of the last submission within the attempt
// wait window.
func (p *Processor) wait(ctx context.Context, tx *types.Tx) error {
	if !tx.IsSent() {
		log.Warnw("tx has no hash to wait for", "tx", tx.ID)
		return nil
	}
	waitTime := p.cfg.MaxWaitingTime
	if a := p.attempts.Current(); a != nil && a.WaitTime < waitTime {
		waitTime = a.WaitTime
	}
	log.Infow("waiting for tx", "tx", tx.ID, "hash", tx.TxHash, "timeout", waitTime)
	_, err := p.eth.WaitForReceipt(ctx, tx.TxHash, time.Duration(waitTime)*time.Second)
	if err != nil {
		if errors.Is(err, eth.ErrReceiptTimeout) {
			tx.Status = types.TxStatusTimeout
			return fmt.Errorf("%w: tx %s after %ds", ErrWaitTimeout, tx.ID, waitTime)
		}
		return err
	}
	tx.SetAsMined()
	return nil
}

// confirm waits the configured block depth and settles the request
// against the receipt found behind any of its hashes. A later
// resubmission may have displaced an earlier one, so every hash counts.
func (p *Processor) confirm(ctx context.Context, tx *types.Tx) error {
	maxTime := time.Duration(p.cfg.MaxWaitingTime) * time.Second
	if err := p.eth.WaitForBlocks(ctx, p.cfg.ConfirmationBlocks, maxTime); err != nil {
		if errors.Is(err, eth.ErrBlockTimeout) {
			tx.Status = types.TxStatusUnconfirmed
			return fmt.Errorf("%w: tx %s: %v", ErrConfirmation, tx.ID, err)
		}
		return err
	}
	hash, status, err := p.execData(ctx, tx)
	if err != nil {
		return err
	}
	if status < 0 {
		tx.Status = types.TxStatusUnconfirmed
		return fmt.Errorf("%w: tx %s", ErrConfirmation, tx.ID)
	}
	tx.SetAsCompleted(hash, status)
	log.Infow("tx confirmed", "tx", tx.ID, "hash", hash, "status", string(tx.Status))
	return nil
}

// execData scans the submission hashes newest-first and returns the first
// one backed by a receipt, with its status. (-1) when none is mined yet.
func (p *Processor) execData(ctx context.Context, tx *types.Tx) (string, int, error) {
	for i := len(tx.Hashes) - 1; i >= 0; i-- {
		status, err := p.eth.Status(ctx, tx.Hashes[i])
		if err != nil {
			return "", -1, err
		}
		if status >= 0 {
			return tx.Hashes[i], status, nil
		}
	}
	return "", -1, nil
}
