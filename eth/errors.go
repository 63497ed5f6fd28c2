package eth

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrEstimateGasRevert marks a pre-flight gas estimation that failed
	// because the call itself reverts, as opposed to a network failure.
	ErrEstimateGasRevert = errors.New("gas estimation reverted")
	// ErrBlockTimeout marks a confirmation wait where fewer blocks than
	// required were mined within the window.
	ErrBlockTimeout = errors.New("blocks were not mined within max time")
	// ErrReceiptTimeout marks a receipt wait that exceeded the attempt
	// wait window.
	ErrReceiptTimeout = errors.New("receipt was not found within max time")
)

// revertCodes are the JSON-RPC error codes nodes use for failed
// estimations caused by contract logic rather than transport issues.
var revertCodes = map[int]struct{}{
	-32601: {},
	-32603: {},
}

// IsReplacementUnderpriced classifies a raw node rejection of a resubmit
// whose fee was not bumped enough to displace the pooled predecessor.
func IsReplacementUnderpriced(err error) bool {
	return containsErr(err, "replacement transaction underpriced")
}

// IsNonceTooLow classifies a raw node rejection caused by a stale nonce.
func IsNonceTooLow(err error) bool {
	return containsErr(err, "nonce too low")
}

// isEstimateRevert classifies an eth_estimateGas failure as a contract
// revert: either one of the known JSON-RPC codes, or an error carrying
// revert data, or the canonical revert message.
func isEstimateRevert(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		if _, ok := revertCodes[rpcErr.ErrorCode()]; ok {
			return true
		}
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	return containsErr(err, "execution reverted")
}

func containsErr(err error, sub string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), strings.ToLower(sub))
}
