package storage

import (
	"context"
	"database/sql"
	"embed"
	"strconv"
	"strings"
	"time"

	logx "nautconsole/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dialect captures the differences between the SQL drivers.
type dialect struct {
	name      string
	migration string
	// bind returns the placeholder for the i-th (1-based) argument.
	bind func(i int) string
}

var (
	sqliteDialect = dialect{
		name:      "sqlite",
		migration: "migrations/sqlite.sql",
		bind:      func(int) string { return "?" },
	}
	postgresDialect = dialect{
		name:      "postgres",
		migration: "migrations/postgres.sql",
		bind:      func(i int) string { return "$" + strconv.Itoa(i) },
	}
)

func (d dialect) placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = d.bind(i + 1)
	}
	return strings.Join(ps, ",")
}

func (d dialect) insertAudit() string {
	return `INSERT INTO audit(id, at_ms, actor, action, target, outcome, err, took_ms, detail) VALUES(` + d.placeholders(9) + `)`
}

func (d dialect) recentAudit() string {
	return `SELECT id, at_ms, actor, action, target, outcome, err, took_ms, detail FROM audit ORDER BY seq DESC LIMIT ` + d.bind(1)
}

// sqlStore implements Store over database/sql for every SQL dialect.
type sqlStore struct {
	db      *sql.DB
	log     logx.Logger
	dialect dialect
}

func newSQLStore(db *sql.DB, d dialect, log logx.Logger) *sqlStore {
	return &sqlStore{db: db, log: log, dialect: d}
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile(s.dialect.migration)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) AppendAudit(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	e = stamp(e)
	_, err := s.db.ExecContext(ctx, s.dialect.insertAudit(),
		e.ID, e.At.UnixMilli(), e.Actor, e.Action, nullStr(e.Target), e.Outcome, nullStr(e.Error), e.TookMS, nullStr(e.Detail),
	)
	return err
}

func (s *sqlStore) RecentAudit(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.recentAudit(), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                    Entry
			atMS                 int64
			target, errS, detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &atMS, &e.Actor, &e.Action, &target, &e.Outcome, &errS, &e.TookMS, &detail); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(atMS)
		e.Target = target.String
		e.Error = errS.String
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
