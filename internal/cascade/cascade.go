// Package cascade runs ranked extraction over context windows. Model-backed
// ranks are tried in order; each failure advances to the next rank and the
// deterministic final rank always produces a result, so a window can never
// fail extraction outright.
package cascade

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/window"
)

type Cascade struct {
	primary   ModelExtractor
	secondary ModelExtractor
	fallback  *Deterministic
	reporter  Reporter
	log       *zap.Logger
}

type nopReporter struct{}

func (nopReporter) RecordAttempt(Attempt)   {}
func (nopReporter) RecordFallback(Fallback) {}

// New wires the cascade. Primary or secondary may be nil when a deployment
// runs without one of the model ranks; the fallback is mandatory.
func New(primary, secondary ModelExtractor, fallback *Deterministic, reporter Reporter, log *zap.Logger) *Cascade {
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Cascade{
		primary:   primary,
		secondary: secondary,
		fallback:  fallback,
		reporter:  reporter,
		log:       log,
	}
}

// Run extracts candidates from one window. There is exactly one attempt per
// rank and no in-rank retry; whatever happens, Run returns a result.
func (c *Cascade) Run(ctx context.Context, win window.ContextWindow) Result {
	stages := []struct {
		rank Rank
		ext  ModelExtractor
	}{
		{RankPrimary, c.primary},
		{RankSecondary, c.secondary},
	}

	var (
		failedRank   Rank
		failedReason string
	)

	for _, stage := range stages {
		if stage.ext == nil {
			continue
		}
		if failedRank != 0 {
			c.reporter.RecordFallback(Fallback{
				WindowIndex: win.Index,
				FromRank:    failedRank,
				ToRank:      stage.rank,
				Reason:      failedReason,
				At:          time.Now(),
			})
		}

		start := time.Now()
		extraction, err := stage.ext.Extract(ctx, win.Text)
		latency := time.Since(start)

		if err == nil {
			c.reporter.RecordAttempt(Attempt{
				WindowIndex:      win.Index,
				Rank:             stage.rank,
				Method:           stage.ext.Name(),
				Outcome:          OutcomeSuccess,
				Latency:          latency,
				PromptTokens:     extraction.PromptTokens,
				CompletionTokens: extraction.CompletionTokens,
				At:               time.Now(),
			})
			return Result{
				WindowIndex: win.Index,
				WinningRank: stage.rank,
				Method:      stage.ext.Name(),
				Candidates:  extraction.Candidates,
			}
		}

		outcome, pTokens, cTokens, reason := classify(err)
		c.reporter.RecordAttempt(Attempt{
			WindowIndex:      win.Index,
			Rank:             stage.rank,
			Method:           stage.ext.Name(),
			Outcome:          outcome,
			Latency:          latency,
			PromptTokens:     pTokens,
			CompletionTokens: cTokens,
			At:               time.Now(),
		})
		c.log.Warn("extraction rank failed",
			zap.Int("window", win.Index),
			zap.Int("rank", int(stage.rank)),
			zap.String("method", stage.ext.Name()),
			zap.String("outcome", string(outcome)),
			zap.String("reason", reason))

		failedRank, failedReason = stage.rank, reason
	}

	if failedRank != 0 {
		c.reporter.RecordFallback(Fallback{
			WindowIndex: win.Index,
			FromRank:    failedRank,
			ToRank:      RankFallback,
			Reason:      failedReason,
			At:          time.Now(),
		})
	}

	start := time.Now()
	extraction := c.fallback.Extract(win)
	c.reporter.RecordAttempt(Attempt{
		WindowIndex: win.Index,
		Rank:        RankFallback,
		Method:      c.fallback.Name(),
		Outcome:     OutcomeSuccess,
		Latency:     time.Since(start),
		At:          time.Now(),
	})
	return Result{
		WindowIndex: win.Index,
		WinningRank: RankFallback,
		Method:      c.fallback.Name(),
		Candidates:  extraction.Candidates,
	}
}

// classify maps an attempt error onto the outcome taxonomy. Malformed output
// carries the usage the attempt consumed; transient failures are split into
// timeouts and transport errors.
func classify(err error) (Outcome, int, int, string) {
	var malformed *MalformedOutputError
	if errors.As(err, &malformed) {
		return OutcomeMalformed, malformed.PromptTokens, malformed.CompletionTokens, malformed.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout, 0, 0, "attempt timed out"
	}
	return OutcomeError, 0, 0, err.Error()
}
