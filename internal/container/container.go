package container

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"aletheia/adapters/cache"
	"aletheia/adapters/docextract"
	"aletheia/adapters/llm"
	"aletheia/adapters/postgres"
	"aletheia/adapters/search"
	"aletheia/adapters/vectorstore"
	"aletheia/internal"
	"aletheia/internal/api"
	"aletheia/internal/config"
	"aletheia/internal/errors"
	"aletheia/internal/migration"
	"aletheia/internal/research"
	"aletheia/models"
	"aletheia/ports"
)

// ArtifactStore is what every artifact backend provides
type ArtifactStore interface {
	ports.ArtifactRepository
	ports.UsageRepository
}

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB    *sqlx.DB
	Redis *redis.Client

	// Artifact storage
	Store     ArtifactStore
	FileStore *research.ResearchStorage

	// Ports
	Model   ports.ModelClientPort
	Search  ports.SearchPort
	Vectors ports.VectorStorePort
	Docs    ports.DocExtractPort

	// Research components
	SSEHub       *api.SSEHub
	Orchestrator *research.Orchestrator
	Manager      *research.Manager
}

// New creates a new dependency injection container
func New(cfg *config.Config, logger *internal.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Container{Config: cfg, Logger: logger.With("Container")}, nil
}

// Init wires every component. Extra sinks receive stage events next to the logger and SSE hub.
func (c *Container) Init(ctx context.Context, sinks ...ports.TraceSink) error {
	if c.Config.Artifacts.Store == "postgres" {
		db, err := ConnectDatabase(ctx, c.Config.Database)
		if err != nil {
			return err
		}
		if err := c.InitWithDatabase(ctx, db); err != nil {
			return err
		}
	} else if err := c.initStore(); err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	if err := c.initAdapters(ctx); err != nil {
		return fmt.Errorf("failed to initialize adapters: %w", err)
	}

	c.initResearch(ctx, sinks)
	c.Logger.Info("container initialized (store=%s, search=%s, cache=%s)",
		c.Config.Artifacts.Store, c.Config.Search.Provider, c.Config.Cache.Backend)
	return nil
}

// ConnectDatabase opens the PostgreSQL pool and runs migrations
func ConnectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.URL == "" {
		return nil, errors.ConfigInvalid("DATABASE_URL is required")
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.URL)
	if err != nil {
		return nil, errors.DatabaseError("failed to connect to database", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := migration.NewRunner().Run(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "database migration failed")
	}
	return db, nil
}

// InitWithDatabase uses db as the artifact store
func (c *Container) InitWithDatabase(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}
	if err := db.PingContext(ctx); err != nil {
		return errors.DatabaseError("database connection test failed", err)
	}
	c.DB = db
	c.Store = postgres.NewArtifactRepository(db)
	return nil
}

func (c *Container) initStore() error {
	switch c.Config.Artifacts.Store {
	case "memory":
		c.Store = research.NewMemoryStore()
	case "file":
		fs := research.NewResearchStorage(c.Config.Artifacts.Dir)
		if err := fs.EnsureBaseDir(); err != nil {
			return err
		}
		c.FileStore = fs
		c.Store = fs
	default:
		return errors.ConfigInvalid("unknown artifact store " + c.Config.Artifacts.Store)
	}
	return nil
}

func (c *Container) initAdapters(ctx context.Context) error {
	model, err := llm.NewClient(llm.Config{
		Provider:             c.Config.LLM.Provider,
		APIKey:               c.Config.LLM.APIKey,
		BaseURL:              c.Config.LLM.BaseURL,
		Model:                c.Config.LLM.Model,
		Timeout:              c.Config.LLM.Timeout,
		PromptPricePer1K:     c.Config.LLM.PromptPricePer1K,
		CompletionPricePer1K: c.Config.LLM.CompletionPricePer1K,
	})
	if err != nil {
		return err
	}
	c.Model = model

	provider, err := c.searchProvider()
	if err != nil {
		return err
	}
	fetchCache, err := c.fetchCache(ctx)
	if err != nil {
		return err
	}
	if fetchCache != nil {
		c.Search = cache.NewCachedSearch(provider, fetchCache, c.Logger)
	} else {
		c.Search = provider
	}

	if c.Config.Engine.VectorStore {
		c.Vectors = vectorstore.NewMemoryStore()
	} else {
		c.Vectors = ports.NopVectorStore{}
	}
	c.Docs = docextract.New()
	return nil
}

func (c *Container) searchProvider() (ports.SearchPort, error) {
	switch c.Config.Search.Provider {
	case "tavily":
		t, err := search.NewTavily(c.Config.Search.TavilyKey, c.Config.Search.TavilyURL)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "brave":
		b, err := search.NewBrave(c.Config.Search.BraveKey, c.Config.Search.BraveURL)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, errors.ConfigInvalid("unknown search provider " + c.Config.Search.Provider)
}

func (c *Container) fetchCache(ctx context.Context) (ports.FetchCache, error) {
	switch c.Config.Cache.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return cache.NewMemoryCache(c.Config.Cache.TTL), nil
	case "redis":
		client, err := cache.NewRedisConnection(ctx, c.Config.Cache.RedisAddr, c.Config.Cache.RedisPassword, c.Config.Cache.RedisDB)
		if err != nil {
			return nil, errors.ExternalServiceError("redis", err)
		}
		c.Redis = client
		return cache.NewRedisCache(client, c.Config.Cache.TTL), nil
	}
	return nil, errors.ConfigInvalid("unknown fetch cache backend " + c.Config.Cache.Backend)
}

func (c *Container) initResearch(ctx context.Context, sinks []ports.TraceSink) {
	c.SSEHub = api.NewSSEHub(c.Logger)

	trace := research.MultiSink{research.NewLogSink(c.Logger), c.SSEHub}
	trace = append(trace, sinks...)

	engine := c.Config.Engine
	c.Orchestrator = research.NewOrchestrator(research.Deps{
		Model:   c.Model,
		Search:  c.Search,
		Vectors: c.Vectors,
		Docs:    c.Docs,
		Store:   c.Store,
		Usage:   c.Store,
		Trace:   trace,
		Logger:  c.Logger,
	}, research.Options{
		MaxParallel:        engine.MaxParallel,
		MaxConcurrentFetch: int64(engine.MaxConcurrentFetch),
		EvidenceCap:        engine.EvidenceCap,
		FetchTimeout:       engine.FetchTimeout,
		RetryBackoff:       c.Config.LLM.RetryBackoff,
		WriterMaxTokens:    c.Config.LLM.MaxTokens,
		SearchCostPerCall:  c.Config.Search.CostPerCall,
	})

	c.Manager = research.NewManager(ctx, c.Orchestrator, c.Store, engine.WorkerSlots,
		models.Budget{MaxIterations: engine.MaxIterations, MaxWallTime: engine.MaxWallTime}, c.Logger)
}

// Shutdown cancels running tasks and releases connections
func (c *Container) Shutdown(ctx context.Context) error {
	var firstErr error
	if c.Manager != nil {
		if err := c.Manager.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if c.SSEHub != nil {
		c.SSEHub.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
