// Package control wires the resilience components together and manages
// their lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/resilience/internal/core/config"
	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/events"
	redisclient "github.com/vietddude/resilience/internal/infra/redis"
	"github.com/vietddude/resilience/internal/infra/storage"
	"github.com/vietddude/resilience/internal/infra/storage/memory"
	"github.com/vietddude/resilience/internal/infra/storage/postgres"
	"github.com/vietddude/resilience/internal/resilience/breaker"
	"github.com/vietddude/resilience/internal/resilience/classifier"
	"github.com/vietddude/resilience/internal/resilience/degradation"
	"github.com/vietddude/resilience/internal/resilience/escalation"
	"github.com/vietddude/resilience/internal/resilience/recovery"
	"github.com/vietddude/resilience/internal/status"
)

// auditTimeout bounds each audit write so a slow database never stalls
// bus delivery for long.
const auditTimeout = 5 * time.Second

// Service is the composition root for the error recovery subsystem.
type Service struct {
	cfg          *config.AppConfig
	bus          *events.Bus
	orchestrator *recovery.Manager
	statusServer *status.Server
	db           *postgres.DB
	redisClient  *redisclient.Client
	errorRepo    storage.ErrorRepository
	escRepo      storage.EscalationRepository
	log          *slog.Logger
}

// NewService creates a Service with all dependencies initialized.
func NewService(cfg *config.AppConfig) (*Service, error) {
	bus := events.NewBus()

	// 1. Initialize Storage
	var errorRepo storage.ErrorRepository
	var escRepo storage.EscalationRepository
	var db *postgres.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		// Run migrations
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		errorRepo = postgres.NewErrorRepo(db)
		escRepo = postgres.NewEscalationRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		errorRepo = memory.NewErrorRepo(store)
		escRepo = memory.NewEscalationRepo(store)
		slog.Info("Using Memory storage")
	}

	// 2. Initialize Resilience Components
	cls := classifier.New(bus)
	brk := breaker.NewManager(cfg.Breaker, bus)
	esc := escalation.NewManager(escalation.DefaultRules(), bus)

	degRules := degradation.DefaultRules()
	if len(cfg.Degradation.Rules) > 0 {
		degRules = cfg.Degradation.Rules
	}
	deg := degradation.NewManager(degRules, bus)
	orchestrator := recovery.New(cfg.Recovery, bus, cls, brk, esc, deg)

	s := &Service{
		cfg:          cfg,
		bus:          bus,
		orchestrator: orchestrator,
		statusServer: status.NewServer(orchestrator, cfg.Server.Port),
		db:           db,
		redisClient:  nil,
		errorRepo:    errorRepo,
		escRepo:      escRepo,
		log:          slog.Default(),
	}

	// 3. Audit subscriptions
	bus.Subscribe(domain.EventErrorClassified, s.auditError)
	bus.Subscribe(domain.EventResolved, s.auditResolved)
	bus.Subscribe(domain.EventEscalationTriggered, s.auditEscalation)

	// 4. Redis event sink
	if cfg.Redis.URL != "" {
		redisClient, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, event sink disabled", "error", err)
		} else {
			s.redisClient = redisClient
			bus.SubscribeAll(s.sinkEvent)
			slog.Info("Redis event sink enabled")
		}
	}

	return s, nil
}

// Orchestrator exposes the recovery manager for embedding callers.
func (s *Service) Orchestrator() *recovery.Manager {
	return s.orchestrator
}

// Start starts the status server and the orchestrator's background loops.
func (s *Service) Start(ctx context.Context) error {
	go func() {
		if err := s.statusServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Status server failed", "error", err)
		}
	}()

	s.orchestrator.Start(ctx)
	s.log.Info("Error recovery service started", "port", s.cfg.Server.Port)
	return nil
}

// Stop shuts the service down.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping error recovery service...")

	s.orchestrator.Shutdown()

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}

	return s.statusServer.Stop(ctx)
}

func (s *Service) auditError(ev domain.Event) {
	ce, ok := ev.Payload["error"].(*domain.CategorizedError)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := s.errorRepo.Save(ctx, ce); err != nil {
		s.log.Warn("Failed to persist error", "id", ce.ID, "error", err)
	}
}

func (s *Service) auditResolved(ev domain.Event) {
	id, ok := ev.Payload["error_id"].(string)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := s.errorRepo.MarkResolved(ctx, id, time.Now()); err != nil {
		s.log.Warn("Failed to persist resolution", "id", id, "error", err)
	}
}

func (s *Service) auditEscalation(ev domain.Event) {
	esc, ok := ev.Payload["escalation"].(*domain.EscalationEvent)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := s.escRepo.Save(ctx, esc); err != nil {
		s.log.Warn("Failed to persist escalation", "id", esc.ID, "error", err)
	}
}

// sinkEvent forwards every bus event to the Redis stream. Runs off the
// publishing goroutine so slow Redis never blocks delivery; payloads are
// detached snapshots, so marshaling off-thread is safe.
func (s *Service) sinkEvent(ev domain.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		if err := s.redisClient.PublishEvent(ctx, ev); err != nil {
			s.log.Debug("Failed to sink event to Redis", "type", ev.Type, "error", err)
		}
	}()
}
