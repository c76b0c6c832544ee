package ledger

import "context"

// NoopRecorder discards everything. Used when no ledger path is configured.
type NoopRecorder struct{}

func (NoopRecorder) RecordRound(context.Context, *RoundEntry) error     { return nil }
func (NoopRecorder) RecordBalance(context.Context, *BalanceEvent) error { return nil }
func (NoopRecorder) RecentRounds(context.Context, string, int) ([]RoundEntry, error) {
	return nil, nil
}
func (NoopRecorder) Close() error { return nil }
