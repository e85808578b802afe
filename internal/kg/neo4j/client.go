// Package neo4j is the production graph storage engine. Upserts use MERGE
// with a max-weight ON MATCH clause and the path query filters every
// traversed edge against the query's minimum weight in Cypher.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/kg"
	"github.com/kgforge/backend/pkg/circuitbreaker"
	"github.com/kgforge/backend/pkg/logger"
	"github.com/kgforge/backend/pkg/retry"
)

// maxPathHops bounds the variable-length expansion baked into the path
// query. Requests above it are clamped by the caller.
const maxPathHops = 4

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// UpsertEntity merges the entity by id. Aliases accumulate across
// documents; the rest of the properties take the latest value.
func (c *Client) UpsertEntity(ctx context.Context, entity *kg.Entity) error {
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MERGE (e:Entity {id: $id})
			ON CREATE SET e.aliases = $aliases,
			              e.created_at = timestamp()
			ON MATCH SET e.aliases = coalesce(e.aliases, []) +
				[a IN $aliases WHERE NOT a IN coalesce(e.aliases, [])]
			SET e.namespace = $namespace,
			    e.name = $name,
			    e.display_name = $display_name,
			    e.type = $type,
			    e.description = $description,
			    e.updated_at = timestamp()
		`

		_, err := session.Run(ctx, query, map[string]interface{}{
			"id":           entity.ID,
			"namespace":    entity.Namespace,
			"name":         entity.Name,
			"display_name": entity.DisplayName,
			"type":         entity.Type,
			"aliases":      entity.Aliases,
			"description":  entity.Description,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert entity: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("entity upserted",
		zap.String("entity_id", entity.ID),
		zap.String("name", entity.Name))
	return nil
}

// UpsertRelation merges the edge by (source, type, target) and keeps the
// maximum weight on conflict, so replays and overlapping windows can only
// raise confidence, never lower it. The evidence follows the weight: it
// is only replaced when the new observation wins.
func (c *Client) UpsertRelation(ctx context.Context, relation *kg.Relation) error {
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (s:Entity {id: $source_id})
			MATCH (t:Entity {id: $target_id})
			MERGE (s)-[r:REL {type: $type}]->(t)
			ON CREATE SET r.weight = $weight,
			              r.evidence = $evidence,
			              r.namespace = $namespace,
			              r.created_at = timestamp()
			ON MATCH SET r.evidence = CASE WHEN $weight > r.weight THEN $evidence ELSE r.evidence END,
			             r.weight = CASE WHEN $weight > r.weight THEN $weight ELSE r.weight END
			SET r.updated_at = timestamp()
		`

		_, err := session.Run(ctx, query, map[string]interface{}{
			"source_id": relation.SourceID,
			"target_id": relation.TargetID,
			"type":      relation.Type,
			"weight":    relation.Weight,
			"evidence":  relation.Evidence,
			"namespace": relation.Namespace,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert relation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("relation upserted",
		zap.String("source", relation.SourceID),
		zap.String("type", relation.Type),
		zap.String("target", relation.TargetID),
		zap.Float64("weight", relation.Weight))
	return nil
}

// PathsFrom enumerates undirected paths from the seeds up to maxHops in
// which every edge weight is at or above minWeight. The hop bound must be
// a Cypher literal, so the validated value is interpolated, never the
// caller's raw input.
func (c *Client) PathsFrom(ctx context.Context, namespace string, seedIDs []string, maxHops int, minWeight float64) ([]kg.Path, error) {
	if len(seedIDs) == 0 {
		return nil, nil
	}
	if maxHops < 1 {
		maxHops = 1
	}
	if maxHops > maxPathHops {
		maxHops = maxPathHops
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var paths []kg.Path
	err := c.cb.Execute(ctx, func() error {
		var err error
		paths, err = retry.DoWithResult(ctx, c.retryConfig, func() ([]kg.Path, error) {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return c.runPathQuery(ctx, session, namespace, seedIDs, maxHops, minWeight)
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("path query completed",
		zap.String("namespace", namespace),
		zap.Int("seeds", len(seedIDs)),
		zap.Int("max_hops", maxHops),
		zap.Float64("min_weight", minWeight),
		zap.Int("paths", len(paths)))

	return paths, nil
}

func (c *Client) runPathQuery(ctx context.Context, session neo4j.SessionWithContext, namespace string, seedIDs []string, maxHops int, minWeight float64) ([]kg.Path, error) {
	query := fmt.Sprintf(`
		MATCH p = (s:Entity {namespace: $namespace})-[:REL*1..%d]-(t:Entity {namespace: $namespace})
		WHERE s.id IN $seeds
		  AND NOT t.id IN $seeds
		  AND ALL(r IN relationships(p) WHERE r.weight >= $min_weight)
		RETURN t.id AS id, t.name AS name, t.display_name AS display_name,
		       t.type AS type, t.aliases AS aliases, t.description AS description,
		       [r IN relationships(p) | r.weight] AS weights,
		       [r IN relationships(p) | r.type] AS types,
		       [n IN nodes(p) | n.id] AS node_ids
	`, maxHops)

	result, err := session.Run(ctx, query, map[string]interface{}{
		"namespace":  namespace,
		"seeds":      seedIDs,
		"min_weight": minWeight,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query paths: %w", err)
	}

	var paths []kg.Path
	for result.Next(ctx) {
		path, err := recordToPath(result.Record(), namespace)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("error iterating path results: %w", err)
	}
	return paths, nil
}

func recordToPath(record *neo4j.Record, namespace string) (kg.Path, error) {
	target := kg.Entity{Namespace: namespace}
	target.ID = stringValue(record, "id")
	target.Name = stringValue(record, "name")
	target.DisplayName = stringValue(record, "display_name")
	target.Type = stringValue(record, "type")
	target.Description = stringValue(record, "description")
	if aliases, ok := record.Get("aliases"); ok {
		if list, ok := aliases.([]interface{}); ok {
			for _, a := range list {
				if s, ok := a.(string); ok {
					target.Aliases = append(target.Aliases, s)
				}
			}
		}
	}

	weights := floatList(record, "weights")
	types := stringList(record, "types")
	nodeIDs := stringList(record, "node_ids")
	if len(weights) != len(types) || len(nodeIDs) != len(weights)+1 {
		return kg.Path{}, fmt.Errorf("inconsistent path record: %d weights, %d types, %d nodes",
			len(weights), len(types), len(nodeIDs))
	}

	edges := make([]kg.PathEdge, len(weights))
	for i := range weights {
		edges[i] = kg.PathEdge{
			SourceID: nodeIDs[i],
			TargetID: nodeIDs[i+1],
			Type:     types[i],
			Weight:   weights[i],
		}
	}
	return kg.Path{Target: target, Edges: edges}, nil
}

func stringValue(record *neo4j.Record, key string) string {
	if v, ok := record.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func stringList(record *neo4j.Record, key string) []string {
	v, ok := record.Get(key)
	if !ok {
		return nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func floatList(record *neo4j.Record, key string) []float64 {
	v, ok := record.Get(key)
	if !ok {
		return nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(list))
	for _, item := range list {
		if f, ok := item.(float64); ok {
			out = append(out, f)
		}
	}
	return out
}
