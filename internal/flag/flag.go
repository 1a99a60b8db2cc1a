// Package flag publishes the run state to the enforcement surfaces agents
// poll outside the API: a local flag file, an HTTP endpoint, and a Redis
// key. All of them are best effort. Callers fire and forget.
package flag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashita-ai/mission-control/internal/model"
)

// DefaultRedisKey is the key (and pub/sub channel) carrying the flag word.
const DefaultRedisKey = "mission-control:kill-switch"

// Notifier propagates a run status. It matches killswitch.Notifier.
type Notifier interface {
	NotifyRunState(ctx context.Context, status model.RunStatus) error
}

// WriteFile replaces the flag file at path with value (STOP or RUNNING).
// The write goes through a temp file and rename so readers never see a
// partial word.
func WriteFile(path, value string) error {
	if _, err := model.ParseFlagValue(value); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("flag: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".flag-*")
	if err != nil {
		return fmt.Errorf("flag: create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flag: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("flag: close temp: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("flag: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("flag: rename: %w", err)
	}
	return nil
}

// ReadFile returns the run status recorded in the flag file.
func ReadFile(path string) (model.RunStatus, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("flag: read: %w", err)
	}
	st, err := model.ParseFlagValue(strings.TrimSpace(string(b)))
	if err != nil {
		return "", fmt.Errorf("flag: %s: %w", path, err)
	}
	return st, nil
}

// FileNotifier writes the flag word to a local file. A fixed Path wins;
// otherwise Lookup resolves the path on every notification so a path saved
// in settings applies to the next transition. With no path it does nothing.
type FileNotifier struct {
	Path   string
	Lookup func(ctx context.Context) (string, error)
}

func (n FileNotifier) NotifyRunState(ctx context.Context, status model.RunStatus) error {
	path := n.Path
	if path == "" && n.Lookup != nil {
		var err error
		if path, err = n.Lookup(ctx); err != nil {
			return fmt.Errorf("flag: resolve path: %w", err)
		}
	}
	if path == "" {
		return nil
	}
	return WriteFile(path, status.FlagValue())
}

// HTTPNotifier POSTs {"status":"STOP"|"RUNNING"} to a flag endpoint, such as
// the /api/kill-switch/file route of another instance.
type HTTPNotifier struct {
	URL    string
	Client *http.Client
}

func (n HTTPNotifier) NotifyRunState(ctx context.Context, status model.RunStatus) error {
	body, err := json.Marshal(model.FileFlagRequest{Status: status.FlagValue()})
	if err != nil {
		return fmt.Errorf("flag: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("flag: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("flag: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("flag: post: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// RedisNotifier sets Key to the flag word and publishes it on the channel
// of the same name, so agents can either poll or subscribe.
type RedisNotifier struct {
	Client *redis.Client
	Key    string
}

// NewRedisNotifier parses a redis:// URL.
func NewRedisNotifier(url, key string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("flag: parse redis url: %w", err)
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisNotifier{Client: redis.NewClient(opts), Key: key}, nil
}

func (n *RedisNotifier) NotifyRunState(ctx context.Context, status model.RunStatus) error {
	v := status.FlagValue()
	if err := n.Client.Set(ctx, n.Key, v, 0).Err(); err != nil {
		return fmt.Errorf("flag: redis set: %w", err)
	}
	if err := n.Client.Publish(ctx, n.Key, v).Err(); err != nil {
		return fmt.Errorf("flag: redis publish: %w", err)
	}
	return nil
}

// Status reads the current flag word from Redis.
func (n *RedisNotifier) Status(ctx context.Context) (model.RunStatus, error) {
	v, err := n.Client.Get(ctx, n.Key).Result()
	if err != nil {
		return "", fmt.Errorf("flag: redis get: %w", err)
	}
	return model.ParseFlagValue(v)
}

// Close releases the Redis connection pool.
func (n *RedisNotifier) Close() error { return n.Client.Close() }

// Multi fans a status out to every notifier. All are attempted; the
// errors are joined.
type Multi []Notifier

func (m Multi) NotifyRunState(ctx context.Context, status model.RunStatus) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyRunState(ctx, status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
