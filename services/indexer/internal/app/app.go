package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"docqa/internal/util"
	"docqa/pkg/ai"
	"docqa/pkg/domain"
	"docqa/pkg/queue"
	"docqa/pkg/storage"
	"docqa/pkg/store"
)

const (
	DefaultMaxFileBytes = 10 << 20
	DefaultMaxPages     = 500
)

// Config holds runtime configuration.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Objects     storage.ObjectStore
	Queue       queue.Queue
	Embedder    ai.Embedder

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	QueueBackend           string
	RabbitURL              string
	RedisAddr              string
	RedisPassword          string
	QueueName              string
	QueueGroup             string
	QueueConcurrency       int
	QueueMaxRetries        int
	QueueRetryDelaySeconds int

	ChunkSize    int
	ChunkOverlap int
	MaxFileBytes int64
	MaxPages     int

	GeminiAPIKey         string
	EmbeddingProvider    string
	EmbeddingBaseURL     string
	EmbeddingModel       string
	EmbeddingDim         int
	EmbeddingBatchSize   int
	EmbeddingConcurrency int
}

// App turns uploaded documents into searchable chunks.
type App struct {
	store            store.Store
	objects          storage.ObjectStore
	queue            queue.Queue
	embedder         ai.Embedder
	embedDim         int
	embedBatchSize   int
	embedConcurrency int
	chunkSize        int
	chunkOverlap     int
	maxFileBytes     int64
	maxPages         int
	maxRetries       int
	concurrency      int
	extract          func(data []byte, maxPages int) ([]string, error)
}

// New constructs the indexer with persistence, object storage and a queue.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL, store.WithEmbeddingDim(cfg.EmbeddingDim))
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	objects := cfg.Objects
	if objects == nil {
		minioStore, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		objects = minioStore
	}
	embedder := cfg.Embedder
	dim := cfg.EmbeddingDim
	if embedder == nil {
		var err error
		embedder, dim, err = ai.NewEmbedder(ai.EmbeddingConfig{
			Provider:     cfg.EmbeddingProvider,
			BaseURL:      cfg.EmbeddingBaseURL,
			Model:        cfg.EmbeddingModel,
			Dim:          cfg.EmbeddingDim,
			GeminiAPIKey: cfg.GeminiAPIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("init embedder: %w", err)
		}
	}
	maxRetries := cfg.QueueMaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	q := cfg.Queue
	if q == nil {
		var err error
		q, err = queue.Open(queue.BackendConfig{
			Backend:       cfg.QueueBackend,
			Name:          DefaultQueueName(cfg.QueueName),
			RabbitURL:     cfg.RabbitURL,
			RedisAddr:     cfg.RedisAddr,
			RedisPassword: cfg.RedisPassword,
			Group:         defaultQueueGroup(cfg.QueueGroup),
			MaxRetries:    maxRetries,
			RetryDelay:    time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
		}, queue.BackendRedis)
		if err != nil {
			return nil, err
		}
	}

	a := &App{
		store:            dataStore,
		objects:          objects,
		queue:            q,
		embedder:         embedder,
		embedDim:         dim,
		embedBatchSize:   cfg.EmbeddingBatchSize,
		embedConcurrency: cfg.EmbeddingConcurrency,
		chunkSize:        cfg.ChunkSize,
		chunkOverlap:     cfg.ChunkOverlap,
		maxFileBytes:     cfg.MaxFileBytes,
		maxPages:         cfg.MaxPages,
		maxRetries:       maxRetries,
		concurrency:      cfg.QueueConcurrency,
		extract:          extractPDFPages,
	}
	if a.chunkSize <= 0 {
		a.chunkSize = 1000
	}
	if a.chunkOverlap < 0 || a.chunkOverlap >= a.chunkSize {
		a.chunkOverlap = 0
	}
	if a.maxFileBytes <= 0 {
		a.maxFileBytes = DefaultMaxFileBytes
	}
	if a.maxPages <= 0 {
		a.maxPages = DefaultMaxPages
	}
	return a, nil
}

// Start begins consuming document tasks until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	a.queue.Start(ctx, a.concurrency, a.Process)
}

func (a *App) Close() error {
	return a.queue.Close()
}

// Enqueue schedules an uploaded document for indexing.
func (a *App) Enqueue(ctx context.Context, documentID string) (queue.Task, error) {
	doc, ok, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return queue.Task{}, err
	}
	if !ok {
		return queue.Task{}, fmt.Errorf("document %s not found", documentID)
	}
	if doc.Status != domain.DocumentUploaded {
		return queue.Task{}, fmt.Errorf("document %s is %s", documentID, doc.Status)
	}
	return a.queue.Publish(ctx, documentID)
}

// Document returns the current indexing state of a document.
func (a *App) Document(ctx context.Context, documentID string) (domain.Document, bool, error) {
	return a.store.GetDocument(ctx, documentID)
}

// Process indexes the document named by task. Invalid files fail the
// document and are not retried; transient errors are returned for retry
// until the last attempt, which fails the document. Work interrupted by
// shutdown is returned unsettled so the queue hands it out again.
func (a *App) Process(ctx context.Context, task queue.Task) error {
	logger := util.LoggerFromContext(ctx).With("document_id", task.SubjectID, "attempt", task.Attempt)
	doc, ok, err := a.store.GetDocument(ctx, task.SubjectID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !ok {
		logger.Warn("document not found; dropping task")
		return nil
	}

	switch doc.Status {
	case domain.DocumentUploaded:
		claimed := doc
		claimed.Status = domain.DocumentProcessing
		if err := a.store.AdvanceDocument(ctx, claimed, domain.DocumentUploaded); err != nil {
			if errors.Is(err, store.ErrStaleDocument) {
				logger.Info("document claimed elsewhere; skipping")
				return nil
			}
			return fmt.Errorf("claim document: %w", err)
		}
		doc = claimed
	case domain.DocumentProcessing:
		// Redelivered after a crash or a retry; chunks are replaced wholesale.
	default:
		logger.Info("document already indexed; skipping", "status", doc.Status)
		return nil
	}

	pages, chunks, err := a.index(ctx, doc)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("document indexing interrupted", "err", err)
			return err
		}
		if errors.Is(err, ErrInvalidDocument) || task.Attempt >= a.maxRetries {
			logger.Warn("document indexing failed", "err", err)
			a.failDocument(ctx, doc, err)
			return nil
		}
		logger.Warn("document indexing error; will retry", "err", err)
		return err
	}

	ready := doc
	ready.Status = domain.DocumentReady
	ready.ErrorMessage = ""
	ready.PageCount = pages
	ready.ChunkCount = chunks
	if err := a.store.AdvanceDocument(ctx, ready, domain.DocumentProcessing); err != nil {
		return fmt.Errorf("mark document ready: %w", err)
	}
	logger.Info("document indexed", "pages", pages, "chunks", chunks)
	return nil
}

func (a *App) index(ctx context.Context, doc domain.Document) (int, int, error) {
	data, err := a.fetch(ctx, doc.StorageKey)
	if err != nil {
		return 0, 0, err
	}
	if err := validatePDF(data, a.maxFileBytes); err != nil {
		return 0, 0, err
	}
	pages, err := a.extract(data, a.maxPages)
	if err != nil {
		return 0, 0, err
	}
	payloads := chunkPages(pages, a.chunkSize, a.chunkOverlap)
	if len(payloads) == 0 {
		return 0, 0, fmt.Errorf("%w: no text extracted", ErrInvalidDocument)
	}

	now := time.Now().UTC()
	chunks := make([]domain.Chunk, 0, len(payloads))
	for _, p := range payloads {
		chunks = append(chunks, domain.Chunk{
			ID:         util.NewID(),
			DocumentID: doc.ID,
			Content:    p.Content,
			Metadata:   p.Metadata,
			CreatedAt:  now,
		})
	}
	if err := a.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return 0, 0, fmt.Errorf("store chunks: %w", err)
	}
	if err := a.embedAndStore(ctx, chunks); err != nil {
		return 0, 0, fmt.Errorf("embed chunks: %w", err)
	}
	return len(pages), len(chunks), nil
}

// fetch reads at most maxFileBytes+1 so oversize files are detected
// without buffering them whole.
func (a *App) fetch(ctx context.Context, key string) ([]byte, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: document has no stored file", ErrInvalidDocument)
	}
	rc, err := a.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, a.maxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (a *App) failDocument(ctx context.Context, doc domain.Document, cause error) {
	failed := doc
	failed.Status = domain.DocumentFailed
	failed.ErrorMessage = cause.Error()
	if err := a.store.AdvanceDocument(ctx, failed, domain.DocumentProcessing); err != nil {
		util.LoggerFromContext(ctx).Error("mark document failed", "document_id", doc.ID, "err", err)
	}
}

func (a *App) embedAndStore(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batchSize := a.embedBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	concurrency := a.embedConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	batches := make([][]domain.Chunk, 0, (len(chunks)/batchSize)+1)
	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[i:end])
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, batch := range batches {
		g.Go(func() error {
			return a.processBatch(gctx, batch)
		})
	}
	return g.Wait()
}

func (a *App) processBatch(ctx context.Context, batch []domain.Chunk) error {
	texts := make([]string, 0, len(batch))
	for _, chunk := range batch {
		texts = append(texts, chunk.Content)
	}
	var embeddings [][]float32
	if embedder, ok := a.embedder.(ai.BatchEmbedder); ok && len(texts) > 1 {
		out, err := embedder.EmbedTexts(ctx, texts, "RETRIEVAL_DOCUMENT")
		if err != nil {
			return err
		}
		embeddings = out
	} else {
		embeddings = make([][]float32, 0, len(texts))
		for _, text := range texts {
			embedding, err := a.embedder.EmbedText(ctx, text, "RETRIEVAL_DOCUMENT")
			if err != nil {
				return err
			}
			embeddings = append(embeddings, embedding)
		}
	}
	if len(embeddings) != len(batch) {
		return fmt.Errorf("embedding count mismatch: got %d, want %d", len(embeddings), len(batch))
	}
	for i, embedding := range embeddings {
		if a.embedDim > 0 && len(embedding) != a.embedDim {
			return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), a.embedDim)
		}
		if err := a.store.SetChunkEmbedding(ctx, batch[i].ID, embedding); err != nil {
			return err
		}
	}
	return nil
}

// DefaultQueueName is the document task queue shared with the API.
func DefaultQueueName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "docqa:documents"
	}
	return name
}

func defaultQueueGroup(name string) string {
	if strings.TrimSpace(name) == "" {
		return "indexer"
	}
	return name
}
