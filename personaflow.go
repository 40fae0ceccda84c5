// Package personaflow orchestrates multi-persona conversations and one-shot
// persona simulations over a pluggable session store and completion backend.
//
// The typical wiring opens the configured backends directly:
//
//	cfg := config.MustLoad("personaflow.yaml")
//	engine, err := personaflow.NewEngineFromConfig(cfg, completion.NewGemini(cfg.Gemini, logger), prometheus.DefaultRegisterer)
//	turns, err := engine.Orchestrator.Advance(ctx, sessionID, "hello everyone")
//
// NewEngine takes a caller-built store instead, so deployments on other GORM
// dialectors hand in store.NewGormStore over their own *gorm.DB and tests
// inject memory stores and mock completers.
package personaflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/personaflow/briefing"
	"github.com/BaSui01/personaflow/completion"
	"github.com/BaSui01/personaflow/config"
	"github.com/BaSui01/personaflow/conversation"
	"github.com/BaSui01/personaflow/internal/database"
	"github.com/BaSui01/personaflow/internal/metrics"
	"github.com/BaSui01/personaflow/session"
	"github.com/BaSui01/personaflow/store"
)

// Engine bundles the orchestrator and session manager with their shared
// collaborators.
type Engine struct {
	Orchestrator *conversation.Orchestrator
	Sessions     *session.Manager
	Store        store.Store
	Assembler    *briefing.Assembler
	Logger       *zap.Logger

	db    *gorm.DB
	redis *redis.Client
}

// NewEngine wires an engine over a caller-supplied store. When
// cfg.Redis.Enabled is set the session manager caches turns in Redis with
// cfg.Session.TurnTTL; otherwise it uses an in-process cache. A nil
// registerer disables metrics.
func NewEngine(cfg *config.Config, st store.Store, completer completion.Completer, reg prometheus.Registerer) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		return nil, err
	}

	assembler, err := briefing.NewAssembler(cfg.Budget, logger)
	if err != nil {
		return nil, err
	}

	opts := []conversation.Option{
		conversation.WithLogger(logger),
		conversation.WithCompletionTimeout(cfg.Orchestrator.CompletionTimeout),
	}
	if reg != nil {
		opts = append(opts, conversation.WithMetrics(
			metrics.NewCollector(cfg.Orchestrator.MetricsNamespace, reg, logger)))
	}
	orch, err := conversation.New(st, completer, assembler, opts...)
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	var cache session.TurnCache
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		cache = session.NewRedisTurnCache(redisClient, cfg.Session.TurnTTL)
	}
	sessions, err := session.NewManager(st, session.NewFilePointer(cfg.Session.PointerPath), cache, logger)
	if err != nil {
		return nil, err
	}

	return &Engine{
		Orchestrator: orch,
		Sessions:     sessions,
		Store:        st,
		Assembler:    assembler,
		Logger:       logger,
		redis:        redisClient,
	}, nil
}

// NewEngineFromConfig opens the configured database, wraps it in the GORM
// store, and wires the engine around it. The engine owns the connections;
// call Close when done.
func NewEngineFromConfig(cfg *config.Config, completer completion.Completer, reg prometheus.Registerer) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	st, err := store.NewGormStore(db)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}

	engine, err := NewEngine(cfg, st, completer, reg)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	engine.db = db
	return engine, nil
}

// Close releases the connections the engine owns. Engines built over a
// caller-supplied store only close their own Redis client, if any.
func (e *Engine) Close() error {
	var firstErr error
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			firstErr = err
		}
	}
	if e.db != nil {
		if err := database.Close(e.db); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
