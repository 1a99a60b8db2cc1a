package flag_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mission-control/internal/flag"
	"github.com/ashita-ai/mission-control/internal/model"
)

func TestFileNotifierWritesFlagWord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "kill-switch.flag")
	n := flag.FileNotifier{Path: path}

	require.NoError(t, n.NotifyRunState(context.Background(), model.RunStatusStopped))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "STOP", string(b))

	require.NoError(t, n.NotifyRunState(context.Background(), model.RunStatusRunning))
	st, err := flag.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, st)
}

func TestFileNotifierResolvesPathPerNotification(t *testing.T) {
	dir := t.TempDir()
	var path string
	n := flag.FileNotifier{Lookup: func(context.Context) (string, error) { return path, nil }}

	require.NoError(t, n.NotifyRunState(context.Background(), model.RunStatusStopped), "no path yet is a no-op")

	path = filepath.Join(dir, "first")
	require.NoError(t, n.NotifyRunState(context.Background(), model.RunStatusStopped))
	st, err := flag.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusStopped, st)

	path = filepath.Join(dir, "second")
	require.NoError(t, n.NotifyRunState(context.Background(), model.RunStatusRunning))
	st, err = flag.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, st)

	fixed := flag.FileNotifier{Path: filepath.Join(dir, "fixed"), Lookup: func(context.Context) (string, error) {
		return "", errors.New("lookup should not run")
	}}
	require.NoError(t, fixed.NotifyRunState(context.Background(), model.RunStatusStopped))

	failing := flag.FileNotifier{Lookup: func(context.Context) (string, error) { return "", errors.New("db down") }}
	assert.ErrorContains(t, failing.NotifyRunState(context.Background(), model.RunStatusStopped), "db down")
}

func TestWriteFileRejectsUnknownWord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flag")
	require.Error(t, flag.WriteFile(path, "PAUSE"))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestReadFileTrimsAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flag")
	require.NoError(t, os.WriteFile(path, []byte("STOP\n"), 0o644))
	st, err := flag.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusStopped, st)

	require.NoError(t, os.WriteFile(path, []byte("maybe"), 0o644))
	_, err = flag.ReadFile(path)
	require.Error(t, err)
}

func TestHTTPNotifierPostsStatus(t *testing.T) {
	var got model.FileFlagRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := flag.HTTPNotifier{URL: srv.URL}
	require.NoError(t, n.NotifyRunState(context.Background(), model.RunStatusStopped))
	assert.Equal(t, "STOP", got.Status)
}

func TestHTTPNotifierReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := flag.HTTPNotifier{URL: srv.URL}.NotifyRunState(context.Background(), model.RunStatusRunning)
	require.Error(t, err)
}

func TestRedisNotifierSetsAndPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	n, err := flag.NewRedisNotifier("redis://"+mr.Addr()+"/0", "")
	require.NoError(t, err)
	defer func() { _ = n.Close() }()

	ctx := context.Background()
	sub := n.Client.Subscribe(ctx, flag.DefaultRedisKey)
	defer func() { _ = sub.Close() }()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, n.NotifyRunState(ctx, model.RunStatusStopped))

	v, err := mr.Get(flag.DefaultRedisKey)
	require.NoError(t, err)
	assert.Equal(t, "STOP", v)

	st, err := n.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusStopped, st)

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "STOP", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no pub/sub message")
	}
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) NotifyRunState(context.Context, model.RunStatus) error {
	s.calls++
	return s.err
}

func TestMultiAttemptsAllAndJoinsErrors(t *testing.T) {
	a := &stubNotifier{err: errors.New("a down")}
	b := &stubNotifier{}
	c := &stubNotifier{err: errors.New("c down")}

	err := flag.Multi{a, b, c}.NotifyRunState(context.Background(), model.RunStatusStopped)
	require.Error(t, err)
	assert.ErrorContains(t, err, "a down")
	assert.ErrorContains(t, err, "c down")
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 1, c.calls)

	assert.NoError(t, flag.Multi{b}.NotifyRunState(context.Background(), model.RunStatusRunning))
}

func TestWatcherReportsFlagChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kill-switch.flag")
	require.NoError(t, flag.WriteFile(path, model.FlagRunning))

	w, err := flag.NewWatcher(path)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, flag.WriteFile(path, model.FlagStop))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Err != nil {
				continue
			}
			assert.Equal(t, model.RunStatusStopped, ev.Status)
			return
		case <-deadline:
			t.Fatal("no flag event")
		}
	}
}
