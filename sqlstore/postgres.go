package sqlstore

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/relayq/jobqueue"
)

func init() {
	jobqueue.RegisterBackend("postgres", openPostgres)
}

// openPostgres opens a pgx-backed database/sql connection for uri
// (passed through verbatim as a postgres connection string) and runs
// InitDB against it.
func openPostgres(ctx context.Context, uri string) (jobqueue.Storage, error) {
	sqlDB, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, err
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	if err := InitDB(ctx, db); err != nil {
		return nil, err
	}
	return NewStore(db), nil
}
