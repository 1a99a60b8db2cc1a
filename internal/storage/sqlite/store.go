// Package sqlite is an embedded Mission Control store backed by
// modernc.org/sqlite. It mirrors the method set of storage.DB so the
// services run unchanged against either backend, and delivers row change
// notifications in-process instead of through Postgres LISTEN/NOTIFY.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/ashita-ai/mission-control/internal/storage"
)

//go:embed schema.sql
var schema string

// notifyBuffer bounds queued change notifications. Notifications past the
// buffer are dropped; subscribers refetch on the next one.
const notifyBuffer = 256

type notification struct {
	channel string
	payload string
}

// Store is a SQLite-backed store.
type Store struct {
	db        *sql.DB
	logger    *slog.Logger
	notes     chan notification
	listening atomic.Bool
}

// Open opens (creating if needed) the database at dsn and applies the schema.
// dsn is a modernc.org/sqlite DSN such as "file:mc.db" or MemoryDSN(name).
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection serialises writers and keeps in-memory databases alive.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger,
		notes:  make(chan notification, notifyBuffer),
	}, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]`)

// MemoryDSN returns a DSN for a private named in-memory database.
func MemoryDSN(name string) string {
	return "file:" + unsafeName.ReplaceAllString(name, "_") + "_" + uuid.NewString()[:8] + "?mode=memory&cache=shared"
}

// DSNFromURL converts a sqlite:// URL (as accepted in DATABASE_URL) into
// a driver DSN. "sqlite://:memory:" yields a private in-memory database.
func DSNFromURL(raw string) (string, error) {
	rest, ok := strings.CutPrefix(raw, "sqlite://")
	if !ok {
		return "", fmt.Errorf("sqlite: not a sqlite URL: %q", raw)
	}
	if rest == "" {
		return "", fmt.Errorf("sqlite: missing database path in %q", raw)
	}
	if rest == ":memory:" {
		return MemoryDSN("mission_control"), nil
	}
	return "file:" + rest, nil
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	return dsn + sep + q.Encode()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Listen enables change notifications. Only storage.ChannelChanges exists.
func (s *Store) Listen(_ context.Context, channel string) error {
	if channel != storage.ChannelChanges {
		return fmt.Errorf("sqlite: listen %s: unknown channel", channel)
	}
	s.listening.Store(true)
	return nil
}

// WaitForNotification blocks until a change is published or ctx ends.
func (s *Store) WaitForNotification(ctx context.Context) (channel, payload string, err error) {
	select {
	case n := <-s.notes:
		return n.channel, n.payload, nil
	case <-ctx.Done():
		return "", "", fmt.Errorf("sqlite: wait for notification: %w", ctx.Err())
	}
}

func (s *Store) publish(channel, payload string) {
	if !s.listening.Load() {
		return
	}
	select {
	case s.notes <- notification{channel: channel, payload: payload}:
	default:
		s.logger.Debug("sqlite: notification dropped, buffer full", "channel", channel)
	}
}

func (s *Store) changed(table, op string, id uuid.UUID) {
	b, err := json.Marshal(storage.Change{Table: table, Op: op, ID: id.String()})
	if err != nil {
		return
	}
	s.publish(storage.ChannelChanges, string(b))
}

// constraintError returns the extended result code and message of a SQLite
// constraint failure, or ok=false for any other error.
func constraintError(err error) (code int, msg string, ok bool) {
	var se *msqlite.Error
	if !errors.As(err, &se) || se.Code()&0xff != sqlitelib.SQLITE_CONSTRAINT {
		return 0, "", false
	}
	return se.Code(), se.Error(), true
}

func isUniqueViolation(err error) bool {
	code, msg, ok := constraintError(err)
	if !ok {
		return false
	}
	return code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
		code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	code, msg, ok := constraintError(err)
	if !ok {
		return false
	}
	return code == sqlitelib.SQLITE_CONSTRAINT_FOREIGNKEY || strings.Contains(msg, "FOREIGN KEY constraint failed")
}

func micros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

func now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
