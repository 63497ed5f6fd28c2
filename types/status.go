package types

import "fmt"

// TxStatus is the lifecycle state of a transaction request. It is stored
// by name in the serialized record.
type TxStatus string

const (
	// TxStatusProposed marks a freshly enqueued request.
	TxStatusProposed TxStatus = "PROPOSED"
	// TxStatusSeen marks a request picked up by the processor.
	TxStatusSeen TxStatus = "SEEN"
	// TxStatusSent marks a request submitted on-wire.
	TxStatusSent TxStatus = "SENT"
	// TxStatusUnsent marks a request that could not be submitted at this
	// attempt (signer or RPC outage); retried on the next poll.
	TxStatusUnsent TxStatus = "UNSENT"
	// TxStatusTimeout marks a request whose receipt did not appear within
	// the attempt wait window; retried with a bumped fee.
	TxStatusTimeout TxStatus = "TIMEOUT"
	// TxStatusMined marks a request with an observed receipt.
	TxStatusMined TxStatus = "MINED"
	// TxStatusUnconfirmed marks a mined request whose confirmation was not
	// observed within the block window; retried.
	TxStatusUnconfirmed TxStatus = "UNCONFIRMED"
	// TxStatusSuccess is terminal: confirmed with receipt status 1.
	TxStatusSuccess TxStatus = "SUCCESS"
	// TxStatusFailed is terminal: confirmed with receipt status 0.
	TxStatusFailed TxStatus = "FAILED"
	// TxStatusDropped is terminal: abandoned after the attempt budget or by
	// the bridge pre-flight drop policy.
	TxStatusDropped TxStatus = "DROPPED"
)

var knownStatuses = map[TxStatus]struct{}{
	TxStatusProposed:    {},
	TxStatusSeen:        {},
	TxStatusSent:        {},
	TxStatusUnsent:      {},
	TxStatusTimeout:     {},
	TxStatusMined:       {},
	TxStatusUnconfirmed: {},
	TxStatusSuccess:     {},
	TxStatusFailed:      {},
	TxStatusDropped:     {},
}

// ParseStatus validates a status name from a serialized record.
func ParseStatus(name string) (TxStatus, error) {
	s := TxStatus(name)
	if _, ok := knownStatuses[s]; !ok {
		return "", fmt.Errorf("%w: no such status %q", ErrInvalidFormat, name)
	}
	return s, nil
}

// IsTerminal reports whether the status never transitions further.
func (s TxStatus) IsTerminal() bool {
	return s == TxStatusSuccess || s == TxStatusFailed || s == TxStatusDropped
}
