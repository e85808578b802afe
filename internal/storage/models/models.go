package models

import "time"

// Document is one ingested source text. ID is the md5 of
// namespace + source, so re-ingesting the same document updates in place.
type Document struct {
	ID             string
	Namespace      string
	Source         string
	Title          string
	Language       string
	SentenceCount  int
	ResolvedLength int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IngestionJob records one pipeline run over a document, including which
// rank won how many windows.
type IngestionJob struct {
	ID           string
	DocumentID   string
	Status       string
	Windows      int
	Rank1Wins    int
	Rank2Wins    int
	Rank3Wins    int
	Entities     int
	Relations    int
	ErrorMessage string
	DurationMS   int
	CreatedAt    time.Time
}

// Job statuses.
const (
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// QueryRecord is one executed retrieval query.
type QueryRecord struct {
	ID        string
	Namespace string
	Seeds     string
	MaxHops   int
	MinWeight float64
	Limit     int
	Results   int
	CacheHit  bool
	LatencyMS int
	CreatedAt time.Time
}
