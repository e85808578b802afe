// Package kg defines the persisted graph model and the storage engine
// contracts. Entities are keyed by (namespace, normalized name) and
// relations by (source, type, target); upserting an existing relation
// keeps the maximum weight, which makes ingestion idempotent.
package kg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kgforge/backend/pkg/utils"
)

// Entity is a persisted graph node. Name is the normalized form; the
// original surface forms live in Aliases.
type Entity struct {
	ID          string   `json:"id"`
	Namespace   string   `json:"namespace"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Type        string   `json:"type"`
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Relation is a persisted weighted edge. Weight is always in [0,1].
type Relation struct {
	Namespace string    `json:"namespace"`
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Type      string    `json:"type"`
	Weight    float64   `json:"weight"`
	Evidence  string    `json:"evidence,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PathEdge is one traversed edge of a retrieval path.
type PathEdge struct {
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id"`
	Type     string  `json:"type"`
	Weight   float64 `json:"weight"`
}

// Path is one surviving path from a seed to a target entity. Every edge
// weight is at or above the query's minimum.
type Path struct {
	Target Entity     `json:"target"`
	Edges  []PathEdge `json:"edges"`
}

// GraphWriter is the ingestion-side storage contract.
type GraphWriter interface {
	UpsertEntity(ctx context.Context, entity *Entity) error
	UpsertRelation(ctx context.Context, relation *Relation) error
}

// GraphReader is the retrieval-side storage contract. PathsFrom
// enumerates paths from the seed entities up to maxHops, excluding any
// path crossing an edge below minWeight. No matching path is an empty
// slice, not an error.
type GraphReader interface {
	PathsFrom(ctx context.Context, namespace string, seedIDs []string, maxHops int, minWeight float64) ([]Path, error)
}

// NormalizeName lowercases and collapses whitespace so "GPT-4" and
// "gpt-4" dedupe to one node.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// EntityID derives the stable id for (namespace, normalized name).
func EntityID(namespace, normalizedName string) string {
	return utils.HashString(namespace + ":" + normalizedName)
}

// WriteError is a storage engine failure during persistence. It is fatal
// for the document's write; the caller owns the retry policy.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("graph write failed (%s): %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
