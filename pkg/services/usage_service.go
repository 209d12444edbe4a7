package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/resumeforge/resumeforge/pkg/models"
)

// UsageService persists per-user token accounting.
type UsageService struct {
	db *sql.DB
}

// NewUsageService creates a new UsageService
func NewUsageService(db *sql.DB) *UsageService {
	return &UsageService{db: db}
}

// AddUsage upserts a usage delta onto the user's counters.
func (s *UsageService) AddUsage(ctx context.Context, userID string, delta models.TokenLedger) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_usage (user_id, input_tokens, output_tokens, cost_microcents, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE SET
			input_tokens = user_usage.input_tokens + EXCLUDED.input_tokens,
			output_tokens = user_usage.output_tokens + EXCLUDED.output_tokens,
			cost_microcents = user_usage.cost_microcents + EXCLUDED.cost_microcents,
			updated_at = now()`,
		userID, delta.InputTokens, delta.OutputTokens, delta.CostMicrocents)
	if err != nil {
		return fmt.Errorf("failed to add usage: %w", err)
	}
	return nil
}

// GetUsage returns the user's lifetime counters; zero values for unknown users.
func (s *UsageService) GetUsage(ctx context.Context, userID string) (models.TokenLedger, error) {
	var ledger models.TokenLedger
	err := s.db.QueryRowContext(ctx, `
		SELECT input_tokens, output_tokens, cost_microcents
		FROM user_usage WHERE user_id = $1`,
		userID).Scan(&ledger.InputTokens, &ledger.OutputTokens, &ledger.CostMicrocents)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.TokenLedger{}, fmt.Errorf("failed to get usage: %w", err)
	}
	return ledger, nil
}

// usageSink is the durable write behind the flusher; satisfied by
// *UsageService and faked in tests.
type usageSink interface {
	AddUsage(ctx context.Context, userID string, delta models.TokenLedger) error
}

// UsageFlusher accumulates in-memory usage and flushes deltas to the sink
// using a watermark: the watermark records the last total that reached the
// database and advances only on a successful write, so a failed flush is
// simply retried with a larger delta and a retried flush never double-counts.
type UsageFlusher struct {
	sink usageSink

	mu      sync.Mutex
	totals  map[string]models.TokenLedger
	flushed map[string]models.TokenLedger
}

// NewUsageFlusher creates a flusher over the given sink.
func NewUsageFlusher(sink usageSink) *UsageFlusher {
	return &UsageFlusher{
		sink:    sink,
		totals:  make(map[string]models.TokenLedger),
		flushed: make(map[string]models.TokenLedger),
	}
}

// Record accumulates usage for a user. Totals only grow.
func (f *UsageFlusher) Record(userID string, usage models.TokenLedger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.totals[userID]
	t.Add(usage)
	f.totals[userID] = t
}

// Flush writes the unflushed delta for one user. No-op when nothing is
// pending.
func (f *UsageFlusher) Flush(ctx context.Context, userID string) error {
	f.mu.Lock()
	total := f.totals[userID]
	mark := f.flushed[userID]
	f.mu.Unlock()

	delta := models.TokenLedger{
		InputTokens:    total.InputTokens - mark.InputTokens,
		OutputTokens:   total.OutputTokens - mark.OutputTokens,
		CostMicrocents: total.CostMicrocents - mark.CostMicrocents,
	}
	if delta == (models.TokenLedger{}) {
		return nil
	}

	if err := f.sink.AddUsage(ctx, userID, delta); err != nil {
		return err
	}

	// Advance to the snapshot we flushed, not the current total: usage
	// recorded during the write stays pending for the next flush.
	f.mu.Lock()
	f.flushed[userID] = total
	f.mu.Unlock()
	return nil
}

// FlushAll flushes every user with pending usage. Failures are logged and do
// not stop the sweep.
func (f *UsageFlusher) FlushAll(ctx context.Context) {
	f.mu.Lock()
	users := make([]string, 0, len(f.totals))
	for userID := range f.totals {
		users = append(users, userID)
	}
	f.mu.Unlock()

	for _, userID := range users {
		if err := f.Flush(ctx, userID); err != nil {
			slog.Warn("usage flush failed", "user_id", userID, "error", err)
		}
	}
}

// Reset clears all in-memory accounting. Test-only.
func (f *UsageFlusher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totals = make(map[string]models.TokenLedger)
	f.flushed = make(map[string]models.TokenLedger)
}
