package services

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumeforge/resumeforge/pkg/models"
)

// flakySink fails AddUsage while failing is set and sums what it accepts.
type flakySink struct {
	failing bool
	applied map[string]models.TokenLedger
	calls   int
}

func newFlakySink() *flakySink {
	return &flakySink{applied: make(map[string]models.TokenLedger)}
}

func (s *flakySink) AddUsage(_ context.Context, userID string, delta models.TokenLedger) error {
	s.calls++
	if s.failing {
		return errors.New("database unavailable")
	}
	t := s.applied[userID]
	t.Add(delta)
	s.applied[userID] = t
	return nil
}

func TestUsageFlusher_FlushWritesDelta(t *testing.T) {
	sink := newFlakySink()
	f := NewUsageFlusher(sink)

	f.Record("user-1", models.TokenLedger{InputTokens: 100, OutputTokens: 20})
	f.Record("user-1", models.TokenLedger{InputTokens: 50, OutputTokens: 10, CostMicrocents: 7})

	require.NoError(t, f.Flush(context.Background(), "user-1"))
	assert.Equal(t, models.TokenLedger{InputTokens: 150, OutputTokens: 30, CostMicrocents: 7}, sink.applied["user-1"])

	// Nothing pending: no second write.
	require.NoError(t, f.Flush(context.Background(), "user-1"))
	assert.Equal(t, 1, sink.calls)
}

func TestUsageFlusher_FailedFlushDoesNotAdvanceWatermark(t *testing.T) {
	sink := newFlakySink()
	f := NewUsageFlusher(sink)

	f.Record("user-1", models.TokenLedger{InputTokens: 100})

	sink.failing = true
	require.Error(t, f.Flush(context.Background(), "user-1"))

	// More usage lands, then the sink recovers: one write carries everything.
	f.Record("user-1", models.TokenLedger{InputTokens: 40})
	sink.failing = false
	require.NoError(t, f.Flush(context.Background(), "user-1"))

	assert.Equal(t, models.TokenLedger{InputTokens: 140}, sink.applied["user-1"])
}

func TestUsageFlusher_FlushAllContinuesPastFailures(t *testing.T) {
	sink := newFlakySink()
	f := NewUsageFlusher(sink)

	f.Record("user-1", models.TokenLedger{InputTokens: 10})
	f.Record("user-2", models.TokenLedger{InputTokens: 20})

	sink.failing = true
	f.FlushAll(context.Background())
	assert.Empty(t, sink.applied)

	sink.failing = false
	f.FlushAll(context.Background())
	assert.Equal(t, int64(10), sink.applied["user-1"].InputTokens)
	assert.Equal(t, int64(20), sink.applied["user-2"].InputTokens)
}

func TestUsageFlusher_Reset(t *testing.T) {
	sink := newFlakySink()
	f := NewUsageFlusher(sink)

	f.Record("user-1", models.TokenLedger{InputTokens: 10})
	f.Reset()

	require.NoError(t, f.Flush(context.Background(), "user-1"))
	assert.Zero(t, sink.calls)
}

// The watermark invariant: whatever interleaving of records, failed flushes,
// and successful flushes occurs, a final successful flush leaves the sink
// holding exactly the recorded total. Nothing is lost or double-counted.
func TestUsageFlusher_WatermarkProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("sink converges to the recorded total", prop.ForAll(
		func(amounts []int64, failMask []bool) bool {
			sink := newFlakySink()
			f := NewUsageFlusher(sink)

			var want int64
			for i, n := range amounts {
				f.Record("user-1", models.TokenLedger{InputTokens: n})
				want += n

				sink.failing = i < len(failMask) && failMask[i]
				_ = f.Flush(context.Background(), "user-1")
			}

			sink.failing = false
			if err := f.Flush(context.Background(), "user-1"); err != nil {
				return false
			}
			return sink.applied["user-1"].InputTokens == want
		},
		gen.SliceOf(gen.Int64Range(0, 1000)),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
