package metrics

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/cascade"
)

// Event is one collector intake item: an attempt or a fallback
// transition. Exactly one of the pointers is set.
type Event struct {
	Attempt  *cascade.Attempt  `json:"attempt,omitempty"`
	Fallback *cascade.Fallback `json:"fallback,omitempty"`
}

// RankStats is the rolling-window view of one rank.
type RankStats struct {
	Attempts     int           `json:"attempts"`
	Successes    int           `json:"successes"`
	SuccessRate  float64       `json:"success_rate"`
	AvgLatency   time.Duration `json:"avg_latency"`
	PromptTokens int           `json:"prompt_tokens"`
	OutputTokens int           `json:"completion_tokens"`
}

// Summary is the pull-based rolling-window report.
type Summary struct {
	Lookback             time.Duration              `json:"lookback"`
	PerRank              map[cascade.Rank]RankStats `json:"per_rank"`
	FirstRankSuccessRate float64                    `json:"first_rank_success_rate"`
	FallbackRate         float64                    `json:"fallback_rate"`
	DroppedEvents        int64                      `json:"dropped_events"`
}

// Collector is a passive sink for cascade events. Intake is a buffered
// channel drained by one goroutine; when the buffer is full the event is
// dropped rather than blocking the extraction path. Each pipeline gets
// its own handle, never a process-wide singleton.
type Collector struct {
	events    chan Event
	retention time.Duration

	mu          sync.RWMutex
	ring        []Event
	dropped     int64
	subscribers map[int]chan Event
	nextSub     int

	done chan struct{}
	log  *zap.Logger
}

// CollectorConfig sizes the intake buffer and the retention horizon.
type CollectorConfig struct {
	BufferSize int
	Retention  time.Duration
}

func NewCollector(cfg CollectorConfig, log *zap.Logger) *Collector {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}

	c := &Collector{
		events:      make(chan Event, cfg.BufferSize),
		retention:   cfg.Retention,
		subscribers: make(map[int]chan Event),
		done:        make(chan struct{}),
		log:         log,
	}
	go c.loop()
	return c
}

// RecordAttempt implements cascade.Reporter. It never blocks.
func (c *Collector) RecordAttempt(attempt cascade.Attempt) {
	c.offer(Event{Attempt: &attempt})
}

// RecordFallback implements cascade.Reporter. It never blocks.
func (c *Collector) RecordFallback(fallback cascade.Fallback) {
	c.offer(Event{Fallback: &fallback})
}

func (c *Collector) offer(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
	}
}

func (c *Collector) loop() {
	for {
		select {
		case ev := <-c.events:
			c.ingest(ev)
		case <-c.done:
			return
		}
	}
}

func (c *Collector) ingest(ev Event) {
	mirror(ev)

	c.mu.Lock()
	c.ring = append(c.ring, ev)
	c.prune(time.Now())
	subs := make([]chan Event, 0, len(c.subscribers))
	for _, sub := range c.subscribers {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- ev:
		default:
			// Slow subscriber loses the event; the cascade never waits.
		}
	}
}

// prune discards events past retention. Caller holds the lock.
func (c *Collector) prune(now time.Time) {
	cutoff := now.Add(-c.retention)
	idx := 0
	for idx < len(c.ring) && eventTime(c.ring[idx]).Before(cutoff) {
		idx++
	}
	if idx > 0 {
		c.ring = append([]Event(nil), c.ring[idx:]...)
	}
}

func eventTime(ev Event) time.Time {
	if ev.Attempt != nil {
		return ev.Attempt.At
	}
	if ev.Fallback != nil {
		return ev.Fallback.At
	}
	return time.Time{}
}

// Summary computes per-rank attempt counts, success rates and latencies
// over the lookback window, plus the first-rank success and fallback
// rates across windows.
func (c *Collector) Summary(lookback time.Duration) Summary {
	if lookback <= 0 || lookback > c.retention {
		lookback = c.retention
	}
	cutoff := time.Now().Add(-lookback)

	c.mu.RLock()
	defer c.mu.RUnlock()

	perRank := make(map[cascade.Rank]RankStats)
	latencySums := make(map[cascade.Rank]time.Duration)
	fallbacksFromFirst := 0

	for _, ev := range c.ring {
		if eventTime(ev).Before(cutoff) {
			continue
		}
		if ev.Fallback != nil {
			if ev.Fallback.FromRank == cascade.RankPrimary {
				fallbacksFromFirst++
			}
			continue
		}
		attempt := ev.Attempt
		stats := perRank[attempt.Rank]
		stats.Attempts++
		if attempt.Outcome == cascade.OutcomeSuccess {
			stats.Successes++
		}
		stats.PromptTokens += attempt.PromptTokens
		stats.OutputTokens += attempt.CompletionTokens
		latencySums[attempt.Rank] += attempt.Latency
		perRank[attempt.Rank] = stats
	}

	for rank, stats := range perRank {
		if stats.Attempts > 0 {
			stats.SuccessRate = float64(stats.Successes) / float64(stats.Attempts)
			stats.AvgLatency = latencySums[rank] / time.Duration(stats.Attempts)
		}
		perRank[rank] = stats
	}

	summary := Summary{
		Lookback:      lookback,
		PerRank:       perRank,
		DroppedEvents: c.dropped,
	}
	if first := perRank[cascade.RankPrimary]; first.Attempts > 0 {
		summary.FirstRankSuccessRate = first.SuccessRate
		summary.FallbackRate = float64(fallbacksFromFirst) / float64(first.Attempts)
	}
	return summary
}

// Subscribe returns a feed of future events. The channel drops events the
// subscriber is too slow to take. Call the returned cancel func when done.
func (c *Collector) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

// Close stops the intake loop. Events offered after Close are discarded;
// the intake channel itself is never closed so late producers cannot
// panic.
func (c *Collector) Close() {
	close(c.done)

	c.mu.Lock()
	for id, sub := range c.subscribers {
		delete(c.subscribers, id)
		close(sub)
	}
	c.mu.Unlock()
}

// mirror forwards an event to the prometheus registry, keeping the
// scrape endpoint in sync with the pull-based summary.
func mirror(ev Event) {
	if ev.Attempt != nil {
		a := ev.Attempt
		rank := rankLabel(a.Rank)
		CascadeAttempts.WithLabelValues(rank, string(a.Outcome)).Inc()
		AttemptLatency.WithLabelValues(rank).Observe(a.Latency.Seconds())
		if a.PromptTokens > 0 {
			TokensUsed.WithLabelValues(rank, "prompt").Add(float64(a.PromptTokens))
		}
		if a.CompletionTokens > 0 {
			TokensUsed.WithLabelValues(rank, "completion").Add(float64(a.CompletionTokens))
		}
		return
	}
	if ev.Fallback != nil {
		CascadeFallbacks.WithLabelValues(
			rankLabel(ev.Fallback.FromRank),
			rankLabel(ev.Fallback.ToRank),
		).Inc()
	}
}

func rankLabel(rank cascade.Rank) string {
	switch rank {
	case cascade.RankPrimary:
		return "1"
	case cascade.RankSecondary:
		return "2"
	case cascade.RankFallback:
		return "3"
	}
	return "unknown"
}
