package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/camforge/camforge/internal/admission"
	"github.com/camforge/camforge/internal/auth"
	"github.com/camforge/camforge/internal/config"
	"github.com/camforge/camforge/internal/events"
	"github.com/camforge/camforge/internal/handlers"
	"github.com/camforge/camforge/internal/queue"
	"github.com/camforge/camforge/internal/service"
	"github.com/camforge/camforge/internal/store"
	"github.com/camforge/camforge/internal/supervisor"
	"github.com/camforge/camforge/pkg/metrics"
	"github.com/camforge/camforge/pkg/middleware"
)

const gracefulShutdownTimeout = 5 * time.Second

type Server struct {
	cfg      *config.Config
	store    store.Store
	listener net.Listener
	producer *events.EventProducer
}

// New returns a new instance of the camforge API server.
func New(cfg *config.Config, store store.Store, listener net.Listener, producer *events.EventProducer) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		listener: listener,
		producer: producer,
	}
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	authenticator, err := auth.NewAuthenticator(s.cfg.Service.Auth)
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}

	rules, err := admission.ParseRules(s.cfg.Service.RateLimits)
	if err != nil {
		return fmt.Errorf("failed to parse rate limit rules: %w", err)
	}
	controller, err := newAdmissionController(s.cfg, rules)
	if err != nil {
		return err
	}

	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("api_server")
	metricMiddleware.MustRegisterDefault()

	allowedOrigins := []string{"*"}
	if s.cfg.Service.CorsOrigins != "" {
		allowedOrigins = strings.Split(s.cfg.Service.CorsOrigins, ",")
	}

	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "PUT", "POST", "DELETE", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		authenticator.Authenticator,
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
	)

	// pgx pool backing the insert side of the queue
	dsn := fmt.Sprintf("host=%s user=%s password=%s port=%s dbname=%s",
		s.cfg.Database.Hostname,
		s.cfg.Database.User,
		s.cfg.Database.Password,
		s.cfg.Database.Port,
		s.cfg.Database.Name,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("failed to parse pgx config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	dbPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer dbPool.Close()

	broker, err := queue.NewInsertOnlyClient(dbPool)
	if err != nil {
		return fmt.Errorf("failed to create queue client: %w", err)
	}

	// process-tree kills only work when API and workers share a host
	var killer service.Killer
	if s.cfg.Engine.RunDir != "" {
		killer = supervisor.New(s.cfg.Engine.RunDir)
	}

	h := handlers.NewServiceHandler(
		service.NewJobService(s.store, broker, controller, s.producer, killer, rules, s.cfg.Worker.MaxAttempts),
		service.NewDeadLetterService(s.store, broker, s.cfg.Worker.MaxAttempts),
		service.NewQueueService(controller, s.producer),
	)
	h.Routes(router)

	srv := http.Server{Addr: s.cfg.Service.Address, Handler: router}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}

func newAdmissionController(cfg *config.Config, rules map[string]admission.Rule) (admission.Controller, error) {
	switch cfg.Service.Admission.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Service.Admission.RedisAddress})
		return admission.NewRedisController(client, rules), nil
	case "memory", "":
		return admission.NewMemoryController(rules), nil
	default:
		return nil, fmt.Errorf("unknown admission backend %q", cfg.Service.Admission.Backend)
	}
}
