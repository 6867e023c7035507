package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"escape-room-service/internal/catalog"
	"escape-room-service/internal/config"
	"escape-room-service/internal/domain"
	"escape-room-service/internal/game"
	pgloader "escape-room-service/internal/infra/postgres"
	"escape-room-service/internal/session"
	"escape-room-service/internal/store"
	memorystore "escape-room-service/internal/store/memory"
	redisstore "escape-room-service/internal/store/redis"
	transport "escape-room-service/internal/transport/http"
)

// NewServeCmd builds the CLI subcommand to start the server.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the escape-room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	readyInterval := config.Duration(cfg.Game.ReadyInterval, 100*time.Millisecond)
	readyTimeout := config.Duration(cfg.Game.ReadyTimeout, 10*time.Second)

	var st store.Store
	var gate *store.Gate
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rs := redisstore.New(client)
		st = rs
		gate = store.NewGate(rs.Probe, readyInterval, readyTimeout)
	} else {
		mem := memorystore.New()
		seedSampleTeams(ctx, mem)
		st = mem
		gate = store.NewGate(nil, readyInterval, readyTimeout)
		log.Info().Msg("no redis configured, using in-memory store with sample teams")
	}

	// Connection self-test: fail loudly at startup instead of on the
	// first login.
	probeCtx, cancelProbe := context.WithTimeout(ctx, readyTimeout)
	err = gate.Await(probeCtx)
	cancelProbe()
	if err != nil {
		log.Error().Err(err).Msg("remote store unreachable at startup")
	} else {
		log.Info().Msg("remote store reachable")
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	catalogPath := cfg.Catalog.Path
	if catalogPath == "" {
		catalogPath = "config/catalog.json"
	}
	var loader catalog.Loader = catalog.FileLoader{Path: catalogPath}
	if pool != nil {
		loader = pgloader.NewCatalogLoader(pool, cfg.Catalog.ID)
	}
	catalogTTL := config.Duration(cfg.Catalog.TTL, 10*time.Minute)
	repo := catalog.NewRepository(loader, catalogTTL)

	cat, err := repo.Get(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("levels", len(cat.Levels)).Int("questions", cat.TotalQuestions()).Msg("catalog loaded")

	totalQuestions := cfg.Game.TotalQuestions
	if totalQuestions == 0 {
		totalQuestions = 15
	}

	factory := func(ctx context.Context) (*game.Engine, error) {
		cat, err := repo.Get(ctx)
		if err != nil {
			return nil, err
		}
		var sessions session.Store = session.NewMemStore()
		if cfg.Game.SessionFile != "" {
			// single-kiosk mode: identity survives reconnects
			sessions = session.NewFileStore(cfg.Game.SessionFile)
		}
		return game.NewEngine(game.Options{
			Store:    st,
			Gate:     gate,
			Sessions: sessions,
			Catalog:  cat,
			Logger:   log,
			HintCost: cfg.Game.HintCost,
		}), nil
	}

	wsHandler := transport.NewWSHandler(factory, st, totalQuestions, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting escape-room service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedSampleTeams loads demo teams into the in-memory store; swap in
// Redis and provision teams out of band for a real event.
func seedSampleTeams(ctx context.Context, st store.Store) {
	for name, team := range map[string]domain.Team{
		"alpha": {Password: "alpha-pass"},
		"bravo": {Password: "bravo-pass"},
	} {
		_ = st.Set(ctx, store.TeamPath(name), team)
	}
}
