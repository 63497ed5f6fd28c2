// Package signer abstracts transaction signing for the dispatch account.
// Two implementations exist: a local software key and a remote SGX enclave
// reached over mutually-authenticated HTTPS. The processor treats both
// uniformly and only distinguishes reachable from unreachable failures.
package signer

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
)

// ErrUnreachable wraps transport failures talking to a remote signer. The
// processor retries the whole attempt later instead of burning the
// underpriced-retry budget.
var ErrUnreachable = errors.New("signer unreachable")

// Signer signs transaction envelopes for a single account.
type Signer interface {
	// Address returns the account the signer controls.
	Address() common.Address
	// SignTx returns a signed copy of the envelope.
	SignTx(ctx context.Context, tx *gtypes.Transaction, chainID *big.Int) (*gtypes.Transaction, error)
}

// IsUnreachable reports whether err means the signer could not be reached
// at all, as opposed to refusing the envelope.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
