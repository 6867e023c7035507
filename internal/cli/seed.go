package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"escape-room-service/internal/catalog"
	"escape-room-service/internal/config"
	"escape-room-service/internal/domain"
	"escape-room-service/internal/store"
	redisstore "escape-room-service/internal/store/redis"
)

// NewSeedCmd loads the catalog document into Postgres and, optionally,
// provisions team records in the remote store. Team creation is an
// out-of-band admin action; the game itself never creates teams.
func NewSeedCmd(configPath *string) *cobra.Command {
	var catalogFile string
	var teams []string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the catalog and optionally provision teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if catalogFile != "" {
				if err := seedCatalog(ctx, cfg, catalogFile); err != nil {
					return err
				}
			}
			if len(teams) > 0 {
				if err := seedTeams(ctx, cfg, teams); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogFile, "catalog", "", "catalog JSON file to load into postgres")
	cmd.Flags().StringSliceVar(&teams, "team", nil, "team to provision, as name:password (repeatable)")
	return cmd
}

func seedCatalog(ctx context.Context, cfg config.Config, path string) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	if _, err := catalog.Parse(data); err != nil {
		return err
	}

	if err := runMigrationsWithConfig(ctx, cfg); err != nil {
		return err
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	id := cfg.Catalog.ID
	if id == "" {
		id = "default"
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO catalogs (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data, updated_at=now()`,
		id, string(data))
	if err != nil {
		return fmt.Errorf("insert catalog: %w", err)
	}
	log := newLogger()
	log.Info().Str("id", id).Msg("catalog seeded")
	return nil
}

func seedTeams(ctx context.Context, cfg config.Config, specs []string) error {
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr not configured")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	st := redisstore.New(client)

	log := newLogger()
	for _, spec := range specs {
		name, password, ok := strings.Cut(spec, ":")
		if !ok || name == "" || password == "" {
			return fmt.Errorf("bad team spec %q, want name:password", spec)
		}
		existing, err := st.Get(ctx, store.TeamPath(name))
		if err != nil {
			return err
		}
		if existing.Exists() {
			log.Warn().Str("team", name).Msg("team already exists, skipping")
			continue
		}
		if err := st.Set(ctx, store.TeamPath(name), domain.Team{Password: password}); err != nil {
			return err
		}
		log.Info().Str("team", name).Msg("team provisioned")
	}
	return nil
}
