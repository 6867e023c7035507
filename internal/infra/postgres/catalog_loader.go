package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"escape-room-service/internal/catalog"
	"escape-room-service/internal/domain"
)

// CatalogLoader loads the catalog JSONB document from Postgres.
type CatalogLoader struct {
	pool *pgxpool.Pool
	id   string
}

func NewCatalogLoader(pool *pgxpool.Pool, id string) *CatalogLoader {
	if id == "" {
		id = "default"
	}
	return &CatalogLoader{pool: pool, id: id}
}

func (l *CatalogLoader) Load(ctx context.Context) (domain.Catalog, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM catalogs WHERE id=$1`, l.id).Scan(&raw)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("load catalog: %w", err)
	}
	return catalog.Parse(raw)
}
