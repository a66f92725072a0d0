package repository

import (
	"context"
	"database/sql"
	"fmt"

	auth "github.com/goliatone/go-auth-link"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	_ "github.com/lib/pq"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the configured database and returns a Bun handle.
func Open(ctx context.Context, driver, dsn string) (*bun.DB, error) {
	var (
		sqldb *sql.DB
		db    *bun.DB
		err   error
	)

	switch driver {
	case DriverSQLite, "":
		sqldb, err = sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, err
		}
		// sqlite serializes writers, a single connection avoids SQLITE_BUSY
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DriverPostgres:
		sqldb, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, goerrors.New(fmt.Sprintf("unsupported database driver %q", driver), goerrors.CategoryBadInput)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "ping "+driver)
	}

	return db, nil
}

type index struct {
	table  string
	name   string
	unique bool
	cols   []string
}

var indexes = []index{
	{table: "identities", name: "identities_provider_id_idx", cols: []string{"provider_id"}},
	{table: "identities", name: "identities_provider_type_idx", cols: []string{"provider_type"}},
	{table: "identities", name: "identities_provider_pair_uidx", unique: true, cols: []string{"provider_id", "provider_type"}},
	{table: "identities", name: "identities_owner_id_idx", cols: []string{"owner_id"}},
	{table: "accounts", name: "accounts_one_time_token_idx", cols: []string{"one_time_token"}},
}

// Migrate creates the identities and accounts tables and their indexes.
func Migrate(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*auth.Identity)(nil),
		(*auth.Account)(nil),
	}

	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "create table")
		}
	}

	for _, idx := range indexes {
		q := db.NewCreateIndex().
			Table(idx.table).
			Index(idx.name).
			Column(idx.cols...).
			IfNotExists()
		if idx.unique {
			q = q.Unique()
		}
		if _, err := q.Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "create index "+idx.name)
		}
	}

	return nil
}
