package cascade

import (
	"context"
	"fmt"
	"time"
)

// Entity is a candidate entity emitted by one extraction rank, before
// quality filtering.
type Entity struct {
	Name string
	Type string
}

// Relation is a candidate relation. RawStrength is the model's 1-10
// self-assessment; zero means the rank did not produce one. Weight is
// filled in later by the weight assigner.
type Relation struct {
	Source      string
	Target      string
	Type        string
	RawStrength int
	Weight      float64
	Evidence    string
}

// Candidates bundles one rank's output for a single window.
type Candidates struct {
	Entities  []Entity
	Relations []Relation
}

// Extraction is a rank attempt's successful result, including the token
// usage the attempt consumed.
type Extraction struct {
	Candidates       Candidates
	PromptTokens     int
	CompletionTokens int
}

// Rank identifies a cascade stage. The fallback rank is total: it always
// produces a result.
type Rank int

const (
	RankPrimary   Rank = 1
	RankSecondary Rank = 2
	RankFallback  Rank = 3
)

// Outcome classifies how an attempt ended. Timeout and error are both
// transient; malformed means the model answered but the payload did not
// survive parsing and validation.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeMalformed Outcome = "malformed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeError     Outcome = "error"
)

// Attempt records a single rank attempt for the metrics collector.
type Attempt struct {
	WindowIndex      int
	Rank             Rank
	Method           string
	Outcome          Outcome
	Latency          time.Duration
	PromptTokens     int
	CompletionTokens int
	At               time.Time
}

// Fallback records a transition from a failed rank to the next one.
type Fallback struct {
	WindowIndex int
	FromRank    Rank
	ToRank      Rank
	Reason      string
	At          time.Time
}

// Reporter receives attempt and fallback events. Implementations must not
// block: the cascade calls these inline on the extraction path.
type Reporter interface {
	RecordAttempt(Attempt)
	RecordFallback(Fallback)
}

// ModelExtractor is a model-backed rank. Extract applies its own per-attempt
// timeout budget and returns either a validated extraction or an error the
// cascade classifies as malformed or transient.
type ModelExtractor interface {
	Name() string
	Extract(ctx context.Context, windowText string) (*Extraction, error)
}

// Result is the cascade's output for one window: the winning rank and its
// candidates.
type Result struct {
	WindowIndex int
	WinningRank Rank
	Method      string
	Candidates  Candidates
}

// MalformedOutputError reports model output that could not be parsed or
// validated. It carries the usage the failed attempt still consumed and a
// bounded excerpt of the raw payload for logs.
type MalformedOutputError struct {
	Reason           string
	Raw              string
	PromptTokens     int
	CompletionTokens int
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed model output: %s", e.Reason)
}
