package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	mu       sync.Mutex
	statuses []*rpc.SignatureStatusesResult
	errs     []error
	height   uint64
	calls    int
}

func (s *scriptedSource) SignatureStatus(context.Context, solana.Signature) (*rpc.SignatureStatusesResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.statuses) {
		return s.statuses[len(s.statuses)-1], nil
	}
	return s.statuses[i], nil
}

func (s *scriptedSource) BlockHeight(context.Context) (uint64, error) {
	return s.height, nil
}

func status(cs rpc.ConfirmationStatusType) *rpc.SignatureStatusesResult {
	return &rpc.SignatureStatusesResult{Slot: 10, ConfirmationStatus: cs}
}

func TestSignaturePollerReachesCommitment(t *testing.T) {
	source := &scriptedSource{statuses: []*rpc.SignatureStatusesResult{
		nil,
		status(rpc.ConfirmationStatusProcessed),
		status(rpc.ConfirmationStatusConfirmed),
		status(rpc.ConfirmationStatusFinalized),
	}}

	var seen []rpc.ConfirmationStatusType
	poller := NewSignaturePoller(source, solana.Signature{1}, rpc.CommitmentFinalized)
	poller.SetInterval(time.Millisecond)
	poller.OnStatusChange(func(s rpc.ConfirmationStatusType) { seen = append(seen, s) })

	got, err := poller.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, rpc.ConfirmationStatusFinalized, got.ConfirmationStatus)
	require.Equal(t, []rpc.ConfirmationStatusType{
		rpc.ConfirmationStatusProcessed,
		rpc.ConfirmationStatusConfirmed,
		rpc.ConfirmationStatusFinalized,
	}, seen)
	require.Equal(t, rpc.ConfirmationStatusFinalized, poller.LastStatus())
}

func TestSignaturePollerLowerCommitment(t *testing.T) {
	source := &scriptedSource{statuses: []*rpc.SignatureStatusesResult{
		status(rpc.ConfirmationStatusConfirmed),
	}}
	poller := NewSignaturePoller(source, solana.Signature{1}, rpc.CommitmentProcessed)
	poller.SetInterval(time.Millisecond)

	_, err := poller.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, source.calls)
}

func TestSignaturePollerTransactionError(t *testing.T) {
	failed := status(rpc.ConfirmationStatusProcessed)
	failed.Err = map[string]interface{}{"InstructionError": []interface{}{2, "Custom"}}
	source := &scriptedSource{statuses: []*rpc.SignatureStatusesResult{failed}}

	poller := NewSignaturePoller(source, solana.Signature{1}, rpc.CommitmentFinalized)
	poller.SetInterval(time.Millisecond)

	_, err := poller.Wait(context.Background())
	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	require.Contains(t, txErr.Error(), "InstructionError")
}

func TestSignaturePollerBlockhashExpired(t *testing.T) {
	source := &scriptedSource{statuses: []*rpc.SignatureStatusesResult{nil}, height: 200}
	poller := NewSignaturePoller(source, solana.Signature{1}, rpc.CommitmentFinalized)
	poller.SetInterval(time.Millisecond)
	poller.SetLastValidBlockHeight(150)

	_, err := poller.Wait(context.Background())
	require.ErrorIs(t, err, ErrBlockhashExpired)
}

func TestSignaturePollerTimeout(t *testing.T) {
	source := &scriptedSource{statuses: []*rpc.SignatureStatusesResult{status(rpc.ConfirmationStatusProcessed)}}
	poller := NewSignaturePoller(source, solana.Signature{1}, rpc.CommitmentFinalized)
	poller.SetInterval(time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := poller.Wait(ctx)
	require.ErrorIs(t, err, ErrConfirmationTimeout)
}

func TestSignaturePollerTransientErrors(t *testing.T) {
	boom := errors.New("502 bad gateway")
	source := &scriptedSource{
		errs:     []error{boom, boom},
		statuses: []*rpc.SignatureStatusesResult{nil, nil, status(rpc.ConfirmationStatusFinalized)},
	}

	var reported []error
	poller := NewSignaturePoller(source, solana.Signature{1}, rpc.CommitmentFinalized)
	poller.SetInterval(time.Millisecond)
	poller.OnError(func(err error) { reported = append(reported, err) })

	_, err := poller.Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, reported, 2)
}
