package metrics

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/cascade"
)

func attempt(rank cascade.Rank, outcome cascade.Outcome, latency time.Duration) cascade.Attempt {
	return cascade.Attempt{
		Rank:    rank,
		Method:  "m",
		Outcome: outcome,
		Latency: latency,
		At:      time.Now(),
	}
}

// waitSummary polls until the condition holds or the deadline passes,
// since intake is drained by a background goroutine.
func waitSummary(t *testing.T, c *Collector, cond func(Summary) bool) Summary {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := c.Summary(0)
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("summary condition not met in time: %+v", s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSummaryPerRankStats(t *testing.T) {
	c := NewCollector(CollectorConfig{}, zap.NewNop())
	defer c.Close()

	c.RecordAttempt(attempt(cascade.RankPrimary, cascade.OutcomeSuccess, 100*time.Millisecond))
	c.RecordAttempt(attempt(cascade.RankPrimary, cascade.OutcomeTimeout, 300*time.Millisecond))
	c.RecordFallback(cascade.Fallback{FromRank: cascade.RankPrimary, ToRank: cascade.RankSecondary, At: time.Now()})
	c.RecordAttempt(attempt(cascade.RankSecondary, cascade.OutcomeSuccess, 200*time.Millisecond))

	s := waitSummary(t, c, func(s Summary) bool {
		return s.PerRank[cascade.RankPrimary].Attempts == 2 &&
			s.PerRank[cascade.RankSecondary].Attempts == 1
	})

	first := s.PerRank[cascade.RankPrimary]
	if first.Successes != 1 || first.SuccessRate != 0.5 {
		t.Errorf("rank 1 stats = %+v", first)
	}
	if first.AvgLatency != 200*time.Millisecond {
		t.Errorf("rank 1 avg latency = %v, want 200ms", first.AvgLatency)
	}
	if s.FirstRankSuccessRate != 0.5 {
		t.Errorf("first-rank success rate = %v", s.FirstRankSuccessRate)
	}
	if s.FallbackRate != 0.5 {
		t.Errorf("fallback rate = %v", s.FallbackRate)
	}
}

func TestSummaryTokenTotals(t *testing.T) {
	c := NewCollector(CollectorConfig{}, zap.NewNop())
	defer c.Close()

	a := attempt(cascade.RankPrimary, cascade.OutcomeSuccess, time.Millisecond)
	a.PromptTokens = 120
	a.CompletionTokens = 30
	c.RecordAttempt(a)

	s := waitSummary(t, c, func(s Summary) bool {
		return s.PerRank[cascade.RankPrimary].Attempts == 1
	})
	stats := s.PerRank[cascade.RankPrimary]
	if stats.PromptTokens != 120 || stats.OutputTokens != 30 {
		t.Errorf("token totals = %+v", stats)
	}
}

func TestSummaryLookbackExcludesOldEvents(t *testing.T) {
	c := NewCollector(CollectorConfig{Retention: time.Hour}, zap.NewNop())
	defer c.Close()

	old := attempt(cascade.RankPrimary, cascade.OutcomeSuccess, time.Millisecond)
	old.At = time.Now().Add(-30 * time.Minute)
	c.RecordAttempt(old)
	c.RecordAttempt(attempt(cascade.RankPrimary, cascade.OutcomeSuccess, time.Millisecond))

	waitSummary(t, c, func(s Summary) bool {
		return s.PerRank[cascade.RankPrimary].Attempts == 2
	})

	recent := c.Summary(time.Minute)
	if recent.PerRank[cascade.RankPrimary].Attempts != 1 {
		t.Errorf("lookback window leaked old events: %+v", recent.PerRank)
	}
}

func TestRecordNeverBlocksWhenFull(t *testing.T) {
	c := NewCollector(CollectorConfig{BufferSize: 1}, zap.NewNop())
	defer c.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			c.RecordAttempt(attempt(cascade.RankFallback, cascade.OutcomeSuccess, time.Millisecond))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RecordAttempt blocked on a full collector")
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	c := NewCollector(CollectorConfig{}, zap.NewNop())
	defer c.Close()

	feed, cancel := c.Subscribe(8)
	defer cancel()

	c.RecordAttempt(attempt(cascade.RankPrimary, cascade.OutcomeSuccess, time.Millisecond))

	select {
	case ev := <-feed:
		if ev.Attempt == nil || ev.Attempt.Rank != cascade.RankPrimary {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestSubscribeCancelCloses(t *testing.T) {
	c := NewCollector(CollectorConfig{}, zap.NewNop())
	defer c.Close()

	feed, cancel := c.Subscribe(1)
	cancel()
	cancel() // double cancel is safe

	if _, ok := <-feed; ok {
		t.Error("feed still open after cancel")
	}
}

func TestRecordAfterCloseDiscarded(t *testing.T) {
	c := NewCollector(CollectorConfig{}, zap.NewNop())
	c.Close()

	// Must neither panic nor block.
	c.RecordAttempt(attempt(cascade.RankPrimary, cascade.OutcomeSuccess, time.Millisecond))
	c.RecordFallback(cascade.Fallback{FromRank: cascade.RankPrimary, ToRank: cascade.RankFallback, At: time.Now()})
}
