package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/jackc/pgx/v5"
)

// ChannelChanges is the LISTEN/NOTIFY channel on which table triggers
// publish row changes. Payloads decode into Change.
const ChannelChanges = "mc_changes"

// Change is the payload of a row change notification.
type Change struct {
	Table string `json:"table"`
	Op    string `json:"op"`
	ID    string `json:"id"`
}

var errNoNotify = errors.New("storage: notify connection not configured")

// listener owns the dedicated LISTEN connection. When the connection
// drops it is redialed on the next call and every channel is listened to
// again. It serves a single consumer: Listen and WaitForNotification must
// not run concurrently.
type listener struct {
	cfg *pgx.ConnConfig

	mu       sync.Mutex
	conn     *pgx.Conn
	channels []string
}

func newListener(dsn string) (*listener, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse notify DSN: %w", err)
	}
	tagSession(cfg.RuntimeParams)
	return &listener{cfg: cfg}, nil
}

// connect returns the live connection, dialing and re-listening if needed.
func (l *listener) connect(ctx context.Context) (*pgx.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil && !l.conn.IsClosed() {
		return l.conn, nil
	}

	conn, err := pgx.ConnectConfig(ctx, l.cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: connect notify: %w", err)
	}
	for _, ch := range l.channels {
		if err := execListen(ctx, conn, ch); err != nil {
			_ = conn.Close(ctx)
			return nil, err
		}
	}
	l.conn = conn
	return conn, nil
}

func (l *listener) listen(ctx context.Context, channel string) error {
	conn, err := l.connect(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if slices.Contains(l.channels, channel) {
		return nil
	}
	if err := execListen(ctx, conn, channel); err != nil {
		return err
	}
	l.channels = append(l.channels, channel)
	return nil
}

func (l *listener) close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close(ctx)
	l.conn = nil
	return err
}

func execListen(ctx context.Context, conn *pgx.Conn, channel string) error {
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("storage: listen %s: %w", channel, err)
	}
	return nil
}

// Listen subscribes the notify connection to channel. Repeated calls for
// the same channel are no-ops.
func (db *DB) Listen(ctx context.Context, channel string) error {
	if db.notify == nil {
		return errNoNotify
	}
	return db.notify.listen(ctx, channel)
}

// WaitForNotification blocks until a notification arrives on a listened
// channel. A dropped connection surfaces as an error once; the next call
// reconnects.
func (db *DB) WaitForNotification(ctx context.Context) (channel, payload string, err error) {
	if db.notify == nil {
		return "", "", errNoNotify
	}
	conn, err := db.notify.connect(ctx)
	if err != nil {
		return "", "", err
	}
	n, err := conn.WaitForNotification(ctx)
	if err != nil {
		return "", "", fmt.Errorf("storage: wait for notification: %w", err)
	}
	return n.Channel, n.Payload, nil
}
