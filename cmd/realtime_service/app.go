package realtimeservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"transit-fleet/internal/general/config"
	"transit-fleet/internal/general/jwt"
	"transit-fleet/internal/general/logger"
	"transit-fleet/internal/general/postgres"
	"transit-fleet/internal/general/rabbitmq"
	"transit-fleet/internal/realtime/domain"
	"transit-fleet/internal/realtime/hub"
	"transit-fleet/internal/realtime/identity"
	"transit-fleet/internal/realtime/ingest"
	"transit-fleet/internal/realtime/liveness"
	"transit-fleet/internal/realtime/server"
)

const producerName = "realtime-service"

// Run wires the realtime service together and blocks until ctx is
// cancelled or the HTTP server fails.
func Run(ctx context.Context, configPath string) error {
	// set up a new logger with a static request ID for startup logs
	log := logger.New(producerName)
	ctx = log.WithRequestID(ctx, "startup-001")

	// load configuration
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load config", err, map[string]any{"path": configPath})
		return err
	}

	// set up a Postgres connection pool
	pool, err := postgres.NewPool(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
		return err
	}
	defer pool.Close()

	// connect to RabbitMQ
	rmq, err := rabbitmq.Connect(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
		return err
	}
	defer rmq.Close()

	// set up the repos and the broker bridge
	locationRepo := postgres.NewLocationRepo(pool)
	assignmentRepo := postgres.NewAssignmentRepo(pool)
	userRepo := postgres.NewUserRepo(pool)
	bridge := rabbitmq.NewMQPublisher(rmq, producerName)

	// pick the identity verifier: token-backed when a JWT secret is
	// configured, otherwise cross-check asserted identities against the
	// users table
	var verifier domain.IdentityVerifier
	if cfg.JWT.SecretKey != "" {
		verifier = identity.Token{Parser: jwt.NewManager(cfg.JWT.SecretKey, 2*time.Hour)}
		log.Info(ctx, "verifier_selected", "Using token-backed identity verification", nil)
	} else {
		verifier = identity.Directory{Users: userRepo}
		log.Info(ctx, "verifier_selected", "Using directory-backed identity verification", nil)
	}

	// set up the connection registry, router, and ingest pipeline
	registry := hub.NewRegistry(log)
	router := hub.NewRouter(registry, log)
	pipeline := ingest.NewPipeline(log, registry, router, locationRepo, assignmentRepo, bridge, cfg.MinReportInterval())

	// start the heartbeat supervisor
	supervisor := liveness.NewSupervisor(log, registry, cfg.PingInterval(), cfg.Realtime.MissedPongThreshold)
	go supervisor.Run(ctx)

	// set up the websocket handler and its routes
	mux := http.NewServeMux()
	ws := server.New(log, registry, router, pipeline, verifier, server.Options{
		WriteTimeout: cfg.WriteTimeout(),
		ReadLimit:    cfg.Realtime.ReadLimitBytes,
	})
	ws.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebSocket.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	log.Info(ctx, "service_started",
		fmt.Sprintf("Realtime service started on port %d", cfg.WebSocket.Port),
		map[string]any{"port": cfg.WebSocket.Port})

	// start the server in a background goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	// wait for context cancellation or server error
	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err, nil)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "http_server_error", "HTTP server terminated with error", err,
				map[string]any{"port": cfg.WebSocket.Port})
			return err
		}
	}

	log.Info(ctx, "service_stopped", "Realtime service stopped", nil)
	return nil
}
