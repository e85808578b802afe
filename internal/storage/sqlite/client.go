package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kgforge/backend/internal/storage/models"
	"github.com/kgforge/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		namespace TEXT NOT NULL,
		source TEXT NOT NULL,
		title TEXT,
		language TEXT NOT NULL DEFAULT 'en',
		sentence_count INTEGER NOT NULL DEFAULT 0,
		resolved_length INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_namespace ON documents(namespace);
	CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at);

	CREATE TABLE IF NOT EXISTS ingestion_jobs (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		status TEXT NOT NULL,
		windows INTEGER NOT NULL DEFAULT 0,
		rank1_wins INTEGER NOT NULL DEFAULT 0,
		rank2_wins INTEGER NOT NULL DEFAULT 0,
		rank3_wins INTEGER NOT NULL DEFAULT 0,
		entities INTEGER NOT NULL DEFAULT 0,
		relations INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_document ON ingestion_jobs(document_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON ingestion_jobs(created_at);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		namespace TEXT NOT NULL,
		seeds TEXT NOT NULL,
		max_hops INTEGER NOT NULL,
		min_weight REAL NOT NULL,
		result_limit INTEGER NOT NULL,
		results INTEGER NOT NULL,
		cache_hit INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_namespace ON query_history(namespace);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertDocument(doc *models.Document) error {
	query := `
		INSERT INTO documents (id, namespace, source, title, language, sentence_count, resolved_length, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			language = excluded.language,
			sentence_count = excluded.sentence_count,
			resolved_length = excluded.resolved_length,
			updated_at = excluded.updated_at
	`

	_, err := c.db.Exec(
		query,
		doc.ID,
		doc.Namespace,
		doc.Source,
		doc.Title,
		doc.Language,
		doc.SentenceCount,
		doc.ResolvedLength,
		doc.CreatedAt.Unix(),
		doc.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("doc_id", doc.ID), zap.String("source", doc.Source))
	return nil
}

func (c *Client) GetDocument(id string) (*models.Document, error) {
	query := `SELECT id, namespace, source, title, language, sentence_count, resolved_length, created_at, updated_at FROM documents WHERE id = ?`

	var doc models.Document
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(
		&doc.ID,
		&doc.Namespace,
		&doc.Source,
		&doc.Title,
		&doc.Language,
		&doc.SentenceCount,
		&doc.ResolvedLength,
		&createdAt,
		&updatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)

	return &doc, nil
}

func (c *Client) InsertIngestionJob(job *models.IngestionJob) error {
	query := `
		INSERT INTO ingestion_jobs (id, document_id, status, windows, rank1_wins, rank2_wins, rank3_wins,
			entities, relations, error_message, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		job.ID,
		job.DocumentID,
		job.Status,
		job.Windows,
		job.Rank1Wins,
		job.Rank2Wins,
		job.Rank3Wins,
		job.Entities,
		job.Relations,
		job.ErrorMessage,
		job.DurationMS,
		job.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert ingestion job: %w", err)
	}

	logger.Info("Ingestion job recorded",
		zap.String("job_id", job.ID),
		zap.String("document_id", job.DocumentID),
		zap.String("status", job.Status),
	)

	return nil
}

func (c *Client) GetJobsForDocument(documentID string, limit int) ([]models.IngestionJob, error) {
	query := `
		SELECT id, document_id, status, windows, rank1_wins, rank2_wins, rank3_wins,
			entities, relations, error_message, duration_ms, created_at
		FROM ingestion_jobs
		WHERE document_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.IngestionJob
	for rows.Next() {
		var j models.IngestionJob
		var createdAt int64

		err := rows.Scan(&j.ID, &j.DocumentID, &j.Status, &j.Windows, &j.Rank1Wins, &j.Rank2Wins,
			&j.Rank3Wins, &j.Entities, &j.Relations, &j.ErrorMessage, &j.DurationMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		j.CreatedAt = time.Unix(createdAt, 0)
		jobs = append(jobs, j)
	}

	return jobs, nil
}

// RecordQuery satisfies the retrieval engine's history sink.
func (c *Client) RecordQuery(namespace string, seeds []string, maxHops int, minWeight float64, limit, results, latencyMS int, cacheHit bool) error {
	seedsJSON, _ := json.Marshal(seeds)

	record := &models.QueryRecord{
		ID:        uuid.NewString(),
		Namespace: namespace,
		Seeds:     string(seedsJSON),
		MaxHops:   maxHops,
		MinWeight: minWeight,
		Limit:     limit,
		Results:   results,
		CacheHit:  cacheHit,
		LatencyMS: latencyMS,
		CreatedAt: time.Now(),
	}

	return c.InsertQueryRecord(record)
}

func (c *Client) InsertQueryRecord(record *models.QueryRecord) error {
	query := `
		INSERT INTO query_history (id, namespace, seeds, max_hops, min_weight, result_limit,
			results, cache_hit, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	cacheHit := 0
	if record.CacheHit {
		cacheHit = 1
	}

	_, err := c.db.Exec(
		query,
		record.ID,
		record.Namespace,
		record.Seeds,
		record.MaxHops,
		record.MinWeight,
		record.Limit,
		record.Results,
		cacheHit,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Debug("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("namespace", record.Namespace),
		zap.Int("results", record.Results),
	)

	return nil
}

func (c *Client) GetQueryHistory(namespace string, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, namespace, seeds, max_hops, min_weight, result_limit, results, cache_hit, latency_ms, created_at
		FROM query_history
		WHERE namespace = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var cacheHit int
		var createdAt int64

		err := rows.Scan(&r.ID, &r.Namespace, &r.Seeds, &r.MaxHops, &r.MinWeight, &r.Limit,
			&r.Results, &cacheHit, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.CacheHit = cacheHit == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, nil
}
