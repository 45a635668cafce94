package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	// ErrBlockhashExpired means the transaction can no longer land
	ErrBlockhashExpired = errors.New("blockhash expired before confirmation")
	// ErrConfirmationTimeout means the deadline passed while still pending
	ErrConfirmationTimeout = errors.New("timed out waiting for confirmation")
)

// TransactionError carries the on-chain error of a landed transaction
type TransactionError struct {
	Signature solana.Signature
	Err       interface{}
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Signature, e.Err)
}

// StatusSource is what the poller needs from the transport
type StatusSource interface {
	SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error)
	BlockHeight(ctx context.Context) (uint64, error)
}

// SignaturePoller waits for a signature to reach a commitment level
type SignaturePoller struct {
	source    StatusSource
	signature solana.Signature
	target    rpc.CommitmentType
	interval  time.Duration

	// Zero disables the expiry check
	lastValidBlockHeight uint64

	lastStatus     rpc.ConfirmationStatusType
	onStatusChange func(status rpc.ConfirmationStatusType)
	onError        func(error)
}

// NewSignaturePoller creates a poller for one signature
func NewSignaturePoller(source StatusSource, sig solana.Signature, target rpc.CommitmentType) *SignaturePoller {
	return &SignaturePoller{
		source:    source,
		signature: sig,
		target:    target,
		interval:  2 * time.Second, // Default polling interval
	}
}

// SetInterval sets the polling interval
func (sp *SignaturePoller) SetInterval(interval time.Duration) {
	if interval > 0 {
		sp.interval = interval
	}
}

// SetLastValidBlockHeight enables the blockhash expiry check
func (sp *SignaturePoller) SetLastValidBlockHeight(height uint64) {
	sp.lastValidBlockHeight = height
}

// OnStatusChange sets a callback for when the confirmation status changes
func (sp *SignaturePoller) OnStatusChange(callback func(status rpc.ConfirmationStatusType)) {
	sp.onStatusChange = callback
}

// OnError sets a callback for transient polling errors
func (sp *SignaturePoller) OnError(callback func(error)) {
	sp.onError = callback
}

// LastStatus returns the last observed status without making a call
func (sp *SignaturePoller) LastStatus() rpc.ConfirmationStatusType {
	return sp.lastStatus
}

// Wait polls until the signature reaches the target commitment. Transient
// RPC errors are reported through OnError and polling continues; the
// context bounds the total wait.
func (sp *SignaturePoller) Wait(ctx context.Context) (*rpc.SignatureStatusesResult, error) {
	ticker := time.NewTicker(sp.interval)
	defer ticker.Stop()

	for {
		status, done, err := sp.PollOnce(ctx)
		if done {
			return status, err
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s (last status %q)", ErrConfirmationTimeout, sp.signature, sp.lastStatus)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce performs a single status check. done is true once the wait is
// over, successfully or not.
func (sp *SignaturePoller) PollOnce(ctx context.Context) (status *rpc.SignatureStatusesResult, done bool, err error) {
	status, err = sp.source.SignatureStatus(ctx, sp.signature)
	if err != nil {
		sp.reportError(err)
		return nil, false, nil
	}

	if status != nil {
		if status.ConfirmationStatus != sp.lastStatus {
			sp.lastStatus = status.ConfirmationStatus
			if sp.onStatusChange != nil {
				sp.onStatusChange(status.ConfirmationStatus)
			}
		}
		if status.Err != nil {
			return status, true, &TransactionError{Signature: sp.signature, Err: status.Err}
		}
		if reached(status.ConfirmationStatus, sp.target) {
			return status, true, nil
		}
		return status, false, nil
	}

	// Not seen yet: give up once the blockhash can no longer be used
	if sp.lastValidBlockHeight == 0 {
		return nil, false, nil
	}
	height, err := sp.source.BlockHeight(ctx)
	if err != nil {
		sp.reportError(err)
		return nil, false, nil
	}
	if height > sp.lastValidBlockHeight {
		return nil, true, fmt.Errorf("%w: %s (block height %d > %d)",
			ErrBlockhashExpired, sp.signature, height, sp.lastValidBlockHeight)
	}
	return nil, false, nil
}

func (sp *SignaturePoller) reportError(err error) {
	if sp.onError != nil {
		sp.onError(err)
	}
}

func commitmentRank(status rpc.ConfirmationStatusType) int {
	switch status {
	case rpc.ConfirmationStatusProcessed:
		return 1
	case rpc.ConfirmationStatusConfirmed:
		return 2
	case rpc.ConfirmationStatusFinalized:
		return 3
	default:
		return 0
	}
}

func reached(status rpc.ConfirmationStatusType, target rpc.CommitmentType) bool {
	return commitmentRank(status) >= commitmentRank(rpc.ConfirmationStatusType(target)) && commitmentRank(status) > 0
}
