// Package query serves weight-aware traversal over the persisted graph.
// The engine filters every traversed edge against a minimum weight, keeps
// the best-scoring path per reached entity and ranks the survivors, so
// callers trade recall for precision by raising the threshold.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/kg"
	"github.com/kgforge/backend/pkg/utils"
)

// TraversalError is a storage engine failure during retrieval. It is
// distinct from an empty result: zero hits means nothing satisfied the
// threshold, a TraversalError means the search could not run.
type TraversalError struct {
	Err error
}

func (e *TraversalError) Error() string {
	return fmt.Sprintf("graph traversal failed: %v", e.Err)
}

func (e *TraversalError) Unwrap() error {
	return e.Err
}

// Request is one retrieval query. Seeds are entity names, resolved to ids
// under the namespace. MinWeight applies when Preset is empty.
type Request struct {
	Namespace string   `json:"namespace"`
	Seeds     []string `json:"seeds"`
	MaxHops   int      `json:"max_hops"`
	MinWeight *float64 `json:"min_weight,omitempty"`
	Preset    string   `json:"preset,omitempty"`
	Limit     int      `json:"limit"`
}

// Hit is one ranked result: a reached entity, the aggregate weight of the
// best surviving path to it and that path's hop count.
type Hit struct {
	Entity kg.Entity `json:"entity"`
	Weight float64   `json:"weight"`
	Hops   int       `json:"hops"`
}

// Response carries the ranked hits. Hits may be empty; that is a valid
// outcome, not an error.
type Response struct {
	ID        string  `json:"id"`
	Namespace string  `json:"namespace"`
	MinWeight float64 `json:"min_weight"`
	MaxHops   int     `json:"max_hops"`
	Hits      []Hit   `json:"hits"`
	CacheHit  bool    `json:"cache_hit"`
	LatencyMS int     `json:"latency_ms"`
}

// Config bounds and defaults for retrieval requests; values come from the
// configuration surface.
type Config struct {
	DefaultMaxHops int
	MaxHops        int
	DefaultLimit   int
	MaxLimit       int
	Presets        map[string]float64
	CacheTTL       time.Duration
}

// DefaultPresets are the named thresholds: exploratory favors recall,
// strict favors precision.
var DefaultPresets = map[string]float64{
	"exploratory": 0.25,
	"balanced":    0.5,
	"strict":      0.75,
}

// Cache is the optional retrieval response cache. A nil Cache disables
// caching entirely.
type Cache interface {
	GetRetrieval(ctx context.Context, namespace, key string, out interface{}) (bool, error)
	SetRetrieval(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error
}

// History records executed queries. Optional; failures are logged, never
// surfaced.
type History interface {
	RecordQuery(namespace string, seeds []string, maxHops int, minWeight float64, limit, results, latencyMS int, cacheHit bool) error
}

type Engine struct {
	reader  kg.GraphReader
	cache   Cache
	history History
	cfg     Config
	log     *zap.Logger
}

func NewEngine(reader kg.GraphReader, cache Cache, history History, cfg Config, log *zap.Logger) *Engine {
	if cfg.DefaultMaxHops <= 0 {
		cfg.DefaultMaxHops = 2
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 4
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	if cfg.Presets == nil {
		cfg.Presets = DefaultPresets
	}
	return &Engine{reader: reader, cache: cache, history: history, cfg: cfg, log: log}
}

// Retrieve validates the request, traverses the graph and ranks the
// results by aggregate weight descending, hop count ascending, id
// ascending. Storage failures come back as *TraversalError.
func (e *Engine) Retrieve(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	namespace := strings.TrimSpace(req.Namespace)
	if namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	if len(req.Seeds) == 0 {
		return nil, fmt.Errorf("at least one seed entity is required")
	}

	minWeight, err := e.resolveMinWeight(req)
	if err != nil {
		return nil, err
	}

	maxHops := req.MaxHops
	if maxHops <= 0 {
		maxHops = e.cfg.DefaultMaxHops
	}
	if maxHops > e.cfg.MaxHops {
		maxHops = e.cfg.MaxHops
	}

	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit > e.cfg.MaxLimit {
		limit = e.cfg.MaxLimit
	}

	seedIDs := make([]string, 0, len(req.Seeds))
	for _, seed := range req.Seeds {
		normalized := kg.NormalizeName(seed)
		if normalized == "" {
			continue
		}
		seedIDs = append(seedIDs, kg.EntityID(namespace, normalized))
	}
	if len(seedIDs) == 0 {
		return nil, fmt.Errorf("no usable seed entities")
	}

	cacheKey := e.cacheKey(namespace, seedIDs, maxHops, minWeight, limit)
	if e.cache != nil {
		var cached Response
		hit, err := e.cache.GetRetrieval(ctx, namespace, cacheKey, &cached)
		if err != nil {
			e.log.Warn("retrieval cache read failed", zap.Error(err))
		} else if hit {
			cached.CacheHit = true
			cached.LatencyMS = int(time.Since(start).Milliseconds())
			e.recordHistory(req, maxHops, minWeight, limit, len(cached.Hits), cached.LatencyMS, true)
			return &cached, nil
		}
	}

	paths, err := e.reader.PathsFrom(ctx, namespace, seedIDs, maxHops, minWeight)
	if err != nil {
		return nil, &TraversalError{Err: err}
	}

	hits := rank(paths, limit)

	resp := &Response{
		ID:        uuid.New().String(),
		Namespace: namespace,
		MinWeight: minWeight,
		MaxHops:   maxHops,
		Hits:      hits,
		LatencyMS: int(time.Since(start).Milliseconds()),
	}

	if e.cache != nil {
		if err := e.cache.SetRetrieval(ctx, namespace, cacheKey, resp, e.cfg.CacheTTL); err != nil {
			e.log.Warn("retrieval cache write failed", zap.Error(err))
		}
	}
	e.recordHistory(req, maxHops, minWeight, limit, len(hits), resp.LatencyMS, false)

	e.log.Info("retrieval completed",
		zap.String("namespace", namespace),
		zap.Int("seeds", len(seedIDs)),
		zap.Int("max_hops", maxHops),
		zap.Float64("min_weight", minWeight),
		zap.Int("hits", len(hits)),
		zap.Int("latency_ms", resp.LatencyMS))

	return resp, nil
}

func (e *Engine) resolveMinWeight(req Request) (float64, error) {
	if req.Preset != "" {
		weight, ok := e.cfg.Presets[strings.ToLower(req.Preset)]
		if !ok {
			return 0, fmt.Errorf("unknown min_weight preset %q", req.Preset)
		}
		return weight, nil
	}
	if req.MinWeight == nil {
		return e.cfg.Presets["balanced"], nil
	}
	if *req.MinWeight < 0 || *req.MinWeight > 1 {
		return 0, fmt.Errorf("min_weight %v outside [0,1]", *req.MinWeight)
	}
	return *req.MinWeight, nil
}

// rank keeps the best path per reached entity, scored by path-average
// weight, and orders the survivors: weight descending, hops ascending,
// then entity id for a stable total order.
func rank(paths []kg.Path, limit int) []Hit {
	best := make(map[string]Hit)
	for _, path := range paths {
		if len(path.Edges) == 0 {
			continue
		}
		var sum float64
		for _, edge := range path.Edges {
			sum += edge.Weight
		}
		hit := Hit{
			Entity: path.Target,
			Weight: sum / float64(len(path.Edges)),
			Hops:   len(path.Edges),
		}
		current, ok := best[path.Target.ID]
		if !ok || hit.Weight > current.Weight ||
			(hit.Weight == current.Weight && hit.Hops < current.Hops) {
			best[path.Target.ID] = hit
		}
	}

	hits := make([]Hit, 0, len(best))
	for _, hit := range best {
		hits = append(hits, hit)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Weight != hits[j].Weight {
			return hits[i].Weight > hits[j].Weight
		}
		if hits[i].Hops != hits[j].Hops {
			return hits[i].Hops < hits[j].Hops
		}
		return hits[i].Entity.ID < hits[j].Entity.ID
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (e *Engine) cacheKey(namespace string, seedIDs []string, maxHops int, minWeight float64, limit int) string {
	sorted := append([]string(nil), seedIDs...)
	sort.Strings(sorted)
	payload, _ := json.Marshal(struct {
		Namespace string   `json:"ns"`
		Seeds     []string `json:"seeds"`
		MaxHops   int      `json:"hops"`
		MinWeight float64  `json:"min"`
		Limit     int      `json:"limit"`
	}{namespace, sorted, maxHops, minWeight, limit})
	return utils.HashString(string(payload))
}

func (e *Engine) recordHistory(req Request, maxHops int, minWeight float64, limit, results, latencyMS int, cacheHit bool) {
	if e.history == nil {
		return
	}
	err := e.history.RecordQuery(req.Namespace, req.Seeds, maxHops, minWeight, limit, results, latencyMS, cacheHit)
	if err != nil {
		e.log.Warn("failed to record query history", zap.Error(err))
	}
}
