package sqlstore_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"

	"github.com/relayq/jobqueue/sqlstore"
)

func newTestStoreHelper(t *testing.T) *sqlstore.Store {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", "file::memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	ctx := context.Background()
	if err := sqlstore.InitDB(ctx, db); err != nil {
		t.Fatal(err)
	}
	return sqlstore.NewStore(db)
}
