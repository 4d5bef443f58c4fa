package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"

	"github.com/relayq/jobqueue"
)

func init() {
	jobqueue.RegisterBackend("sqlite", openSQLite)
}

// openSQLite opens a modernc.org/sqlite database and runs InitDB
// against it. A "sqlite://" URI's remainder (after the scheme) is
// passed straight through to database/sql as the DSN, so
// "sqlite:///var/lib/jobqueue.db" and "sqlite://file::memory:?..." both
// work the way database/sql's own driver DSNs do.
func openSQLite(ctx context.Context, uri string) (jobqueue.Storage, error) {
	dsn := strings.TrimPrefix(uri, "sqlite://")
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single writer connection avoids SQLITE_BUSY under the
	// concurrent claim/update traffic PollForRunnableJob generates.
	sqlDB.SetMaxOpenConns(1)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	if err := InitDB(ctx, db); err != nil {
		return nil, err
	}
	return NewStore(db), nil
}
