package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kgforge/backend/internal/cascade"
	"github.com/kgforge/backend/internal/coref"
	"github.com/kgforge/backend/internal/kg/builder"
	"github.com/kgforge/backend/internal/metrics"
	"github.com/kgforge/backend/internal/quality"
	"github.com/kgforge/backend/internal/storage/models"
	"github.com/kgforge/backend/internal/window"
	"github.com/kgforge/backend/pkg/utils"
)

// Request is one document submitted for extraction. Text takes priority;
// when only HTML is given the processor strips it down to visible text.
type Request struct {
	Namespace string `json:"namespace"`
	Source    string `json:"source"`
	Title     string `json:"title,omitempty"`
	Text      string `json:"text,omitempty"`
	HTML      string `json:"html,omitempty"`
	Language  string `json:"language,omitempty"`
}

// Result summarizes one completed ingestion run.
type Result struct {
	JobID      string               `json:"job_id"`
	DocumentID string               `json:"document_id"`
	Windows    int                  `json:"windows"`
	RankWins   map[cascade.Rank]int `json:"rank_wins"`
	Entities   int                  `json:"entities"`
	Relations  int                  `json:"relations"`
	DurationMS int                  `json:"duration_ms"`
}

// JobStore persists documents and job outcomes. A nil store disables
// bookkeeping without affecting the pipeline.
type JobStore interface {
	InsertDocument(doc *models.Document) error
	InsertIngestionJob(job *models.IngestionJob) error
}

// CacheInvalidator drops cached retrieval responses after the graph changes.
type CacheInvalidator interface {
	InvalidateNamespace(ctx context.Context, namespace string) error
}

type Processor struct {
	resolver    *coref.Resolver
	windower    *window.Windower
	cascade     *cascade.Cascade
	filter      *quality.EntityFilter
	assigner    *quality.WeightAssigner
	builder     *builder.Builder
	store       JobStore
	cache       CacheInvalidator
	maxParallel int
	language    string
	log         *zap.Logger
}

func NewProcessor(
	resolver *coref.Resolver,
	windower *window.Windower,
	casc *cascade.Cascade,
	filter *quality.EntityFilter,
	assigner *quality.WeightAssigner,
	b *builder.Builder,
	store JobStore,
	cache CacheInvalidator,
	maxParallel int,
	language string,
	log *zap.Logger,
) *Processor {
	if maxParallel < 1 {
		maxParallel = 1
	}
	if language == "" {
		language = "en"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		resolver:    resolver,
		windower:    windower,
		cascade:     casc,
		filter:      filter,
		assigner:    assigner,
		builder:     b,
		store:       store,
		cache:       cache,
		maxParallel: maxParallel,
		language:    language,
		log:         log,
	}
}

// ProcessDocument runs the full extraction pipeline over one document: coreference
// resolution, windowing, the per-window extraction cascade, quality
// filtering, merge, and graph persistence. Windows run concurrently up to
// the configured limit; merging stays serialized in window order so the
// first-seen tie rules hold regardless of scheduling.
func (p *Processor) ProcessDocument(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	text := strings.TrimSpace(req.Text)
	title := req.Title
	if text == "" && req.HTML != "" {
		text = cleanHTML(req.HTML)
		if title == "" {
			title = extractTitle(req.HTML)
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no content extracted from request")
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	docID := utils.HashString(req.Namespace + ":" + req.Source)
	jobID := uuid.NewString()

	p.log.Info("Processing document",
		zap.String("document_id", docID),
		zap.String("namespace", req.Namespace),
		zap.String("source", req.Source),
	)

	resolved := p.resolver.Resolve(text, lang)

	windows, err := p.windower.Windows(resolved)
	if err != nil {
		p.recordJob(docID, jobID, req, title, lang, resolved, nil, models.JobStatusFailed, err.Error(), start, builder.PersistStats{}, nil)
		metrics.DocumentsProcessed.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to window document: %w", err)
	}

	results := make([]cascade.Result, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxParallel)

	for i, win := range windows {
		i, win := i, win
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := p.cascade.Run(gctx, win)
			res.Candidates.Entities = p.filter.Filter(res.Candidates.Entities, lang)
			res.Candidates.Relations = p.assigner.AssignAll(res.Candidates.Relations)
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.recordJob(docID, jobID, req, title, lang, resolved, windows, models.JobStatusCancelled, err.Error(), start, builder.PersistStats{}, nil)
		metrics.DocumentsProcessed.WithLabelValues("cancelled").Inc()
		return nil, fmt.Errorf("extraction cancelled: %w", err)
	}

	merger := builder.NewMerger()
	for _, res := range results {
		merger.Add(res)
	}
	merged := merger.Result()

	stats, err := p.builder.Persist(ctx, req.Namespace, merged)
	if err != nil {
		p.recordJob(docID, jobID, req, title, lang, resolved, windows, models.JobStatusFailed, err.Error(), start, stats, merged.RankWins)
		metrics.DocumentsProcessed.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to persist graph: %w", err)
	}

	metrics.DocumentsProcessed.WithLabelValues("success").Inc()
	metrics.WindowsProcessed.Add(float64(len(windows)))
	metrics.EntitiesPersisted.Add(float64(stats.Entities))
	metrics.RelationsPersisted.Add(float64(stats.Relations))

	p.recordJob(docID, jobID, req, title, lang, resolved, windows, models.JobStatusCompleted, "", start, stats, merged.RankWins)

	if p.cache != nil {
		if err := p.cache.InvalidateNamespace(ctx, req.Namespace); err != nil {
			p.log.Warn("failed to invalidate retrieval cache",
				zap.String("namespace", req.Namespace), zap.Error(err))
		}
	}

	durationMS := int(time.Since(start).Milliseconds())
	p.log.Info("Document processed",
		zap.String("document_id", docID),
		zap.Int("windows", len(windows)),
		zap.Int("entities", stats.Entities),
		zap.Int("relations", stats.Relations),
		zap.Int("duration_ms", durationMS),
	)

	return &Result{
		JobID:      jobID,
		DocumentID: docID,
		Windows:    len(windows),
		RankWins:   merged.RankWins,
		Entities:   stats.Entities,
		Relations:  stats.Relations,
		DurationMS: durationMS,
	}, nil
}

// recordJob writes the document and job rows. Storage is bookkeeping only;
// a failure here is logged and the pipeline result stands.
func (p *Processor) recordJob(docID, jobID string, req Request, title, lang, resolved string, windows []window.ContextWindow, status, errMsg string, start time.Time, stats builder.PersistStats, rankWins map[cascade.Rank]int) {
	if p.store == nil {
		return
	}

	sentenceCount := 0
	if len(windows) > 0 {
		sentenceCount = windows[len(windows)-1].End + 1
	}

	now := time.Now()
	doc := &models.Document{
		ID:             docID,
		Namespace:      req.Namespace,
		Source:         req.Source,
		Title:          title,
		Language:       lang,
		SentenceCount:  sentenceCount,
		ResolvedLength: len(resolved),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := p.store.InsertDocument(doc); err != nil {
		p.log.Warn("failed to record document", zap.String("document_id", docID), zap.Error(err))
		return
	}

	job := &models.IngestionJob{
		ID:           jobID,
		DocumentID:   docID,
		Status:       status,
		Windows:      len(windows),
		Rank1Wins:    rankWins[cascade.RankPrimary],
		Rank2Wins:    rankWins[cascade.RankSecondary],
		Rank3Wins:    rankWins[cascade.RankFallback],
		Entities:     stats.Entities,
		Relations:    stats.Relations,
		ErrorMessage: errMsg,
		DurationMS:   int(time.Since(start).Milliseconds()),
		CreatedAt:    now,
	}
	if err := p.store.InsertIngestionJob(job); err != nil {
		p.log.Warn("failed to record ingestion job", zap.String("job_id", jobID), zap.Error(err))
	}
}

var whitespaceRE = regexp.MustCompile(`\s+`)

func cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	text = whitespaceRE.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}

func extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	title := doc.Find("title").First().Text()
	if title == "" {
		title = doc.Find("h1").First().Text()
	}

	return strings.TrimSpace(title)
}
