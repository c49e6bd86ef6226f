package app

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"docqa/pkg/ai"
	"docqa/pkg/ledger"
	"docqa/pkg/prompt"
	"docqa/pkg/queue"
	"docqa/pkg/rag"
	"docqa/pkg/store"
)

// Config holds runtime configuration.
type Config struct {
	DatabaseURL      string
	Store            store.Store
	Consumer         queue.Consumer
	QueueBackend     string
	RabbitURL        string
	RedisAddr        string
	RedisPassword    string
	QueueName        string
	QueueConcurrency int
	QueuePrefetch    int

	SearchLimit     int
	RerankTopN      int
	RatePerThousand string
	SystemPrompt    string

	GeminiAPIKey string

	EmbeddingProvider string
	EmbeddingBaseURL  string
	EmbeddingModel    string
	EmbeddingDim      int

	GenerationProvider string
	GenerationBaseURL  string
	GenerationModel    string
	GenerationAPIKey   string
}

// App consumes query tasks and settles them.
type App struct {
	store       store.Store
	consumer    queue.Consumer
	worker      *Worker
	concurrency int
}

// New wires persistence, model providers and the query queue.
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

	embedder, _, err := ai.NewEmbedder(ai.EmbeddingConfig{
		Provider:     cfg.EmbeddingProvider,
		BaseURL:      cfg.EmbeddingBaseURL,
		Model:        cfg.EmbeddingModel,
		Dim:          cfg.EmbeddingDim,
		GeminiAPIKey: cfg.GeminiAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	generator, err := ai.NewGenerator(ai.GenerationConfig{
		Provider:     cfg.GenerationProvider,
		BaseURL:      cfg.GenerationBaseURL,
		Model:        cfg.GenerationModel,
		APIKey:       cfg.GenerationAPIKey,
		GeminiAPIKey: cfg.GeminiAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("init generator: %w", err)
	}
	renderer, err := prompt.NewRenderer()
	if err != nil {
		return nil, err
	}
	rate := ledger.DefaultRatePerThousand
	if cfg.RatePerThousand != "" {
		rate, err = decimal.NewFromString(cfg.RatePerThousand)
		if err != nil {
			return nil, fmt.Errorf("invalid rate per thousand tokens %q: %w", cfg.RatePerThousand, err)
		}
	}

	executor, err := NewExecutor(ExecutorDeps{
		Store:     dataStore,
		Searcher:  rag.NewVectorSearcher(embedder, dataStore, cfg.SearchLimit),
		Reranker:  rag.NewLexicalReranker(cfg.RerankTopN),
		Completer: rag.NewGeneratorCompleter(generator, cfg.SystemPrompt),
		Prompts:   renderer,
		Tariff:    ledger.NewTariff(rate),
	})
	if err != nil {
		return nil, err
	}

	consumer := cfg.Consumer
	if consumer == nil {
		consumer, err = queue.Open(queue.BackendConfig{
			Backend:       cfg.QueueBackend,
			Name:          defaultQueueName(cfg.QueueName),
			RabbitURL:     cfg.RabbitURL,
			Prefetch:      cfg.QueuePrefetch,
			RedisAddr:     cfg.RedisAddr,
			RedisPassword: cfg.RedisPassword,
			Group:         "worker",
			MaxRetries:    1,
		}, queue.BackendRabbitMQ)
		if err != nil {
			return nil, err
		}
	}
	concurrency := cfg.QueueConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &App{
		store:       dataStore,
		consumer:    consumer,
		worker:      NewWorker(dataStore, executor),
		concurrency: concurrency,
	}, nil
}

// Start begins consuming; consumers stop when ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	a.consumer.Start(ctx, a.concurrency, a.worker.Handle)
}

// Close releases the queue connection when the consumer owns one.
func (a *App) Close() error {
	if c, ok := a.consumer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func defaultQueueName(name string) string {
	if name == "" {
		return "docqa.queries"
	}
	return name
}
