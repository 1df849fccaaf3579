package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tOgg1/pushdeck/internal/apps"
	"github.com/tOgg1/pushdeck/internal/config"
	"github.com/tOgg1/pushdeck/internal/models"
	"github.com/tOgg1/pushdeck/internal/testutil"
)

const testToken = "tok"

var when = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func isolateConfigSearch(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type staticDirectory map[int64]string

func (d staticDirectory) Get(id int64) (apps.Info, bool) {
	name, ok := d[id]
	return apps.Info{ID: id, Name: name}, ok
}

func (d staticDirectory) Version() uint64 { return 1 }

func TestVersionCommand(t *testing.T) {
	isolateConfigSearch(t)

	var out bytes.Buffer
	cmd := newRootCmd("1.2.3")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "pushdeck 1.2.3")
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	isolateConfigSearch(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  url: http://file.example\n  token: from-file\n"), 0o600))

	opts := &rootOptions{configFile: path, token: "from-flag", logLevel: "debug"}
	cmd := &cobra.Command{Use: "tail"}
	cmd.SetErr(&bytes.Buffer{})

	require.NoError(t, opts.load(cmd))
	t.Cleanup(opts.close)
	require.Equal(t, "http://file.example", opts.cfg.Server.URL)
	require.Equal(t, "from-flag", opts.cfg.Server.Token)
	require.Equal(t, "debug", opts.cfg.Logging.Level)
}

func TestInvalidConfigFails(t *testing.T) {
	isolateConfigSearch(t)

	cmd := newRootCmd("dev")
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"tail", "--server", "ftp://nowhere"})

	require.ErrorContains(t, cmd.Execute(), "config validation failed")
}

func TestTUIRequiresTerminal(t *testing.T) {
	isolateConfigSearch(t)
	if hasTTY() {
		t.Skip("running inside a terminal")
	}

	cmd := newRootCmd("dev")
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"tui", "--config", "", "--server", "http://127.0.0.1:1"})

	require.ErrorIs(t, cmd.Execute(), errNoTTY)
}

func TestLogFormatFallsBackToJSON(t *testing.T) {
	require.Equal(t, "json", logFormat("console", &bytes.Buffer{}))
	require.Equal(t, "json", logFormat("json", os.Stderr))
}

func TestFormatLine(t *testing.T) {
	dir := staticDirectory{1: "backup"}

	line := formatLine(models.Message{ID: 1, AppID: 1, Title: "done", Message: "ok\nsecond", Priority: 5, Date: when}, dir)
	require.True(t, strings.HasSuffix(line, "[backup] P5 done: ok second"), line)

	line = formatLine(models.Message{ID: 2, AppID: 9, Message: "plain", Date: when}, dir)
	require.True(t, strings.HasSuffix(line, "[app-9] P0 plain"), line)
}

type tailServer struct {
	srv *httptest.Server

	mu   sync.Mutex
	conn *websocket.Conn
}

func newTailServer(t *testing.T, history ...models.Message) *tailServer {
	testutil.SkipIfNoNetwork(t)
	s := &tailServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /current/user", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.User{ID: 1, Name: "admin"})
	})
	mux.HandleFunc("GET /application", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []models.Application{{ID: 1, Name: "alerts"}, {ID: 2, Name: "backup"}})
	})
	mux.HandleFunc("GET /message", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.PagedMessages{Messages: history, Paging: models.Paging{Size: len(history)}})
	})
	mux.HandleFunc("GET /stream", func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		s.mu.Lock()
		s.conn = c
		s.mu.Unlock()
		for {
			if _, _, err := c.Read(context.Background()); err != nil {
				return
			}
		}
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *tailServer) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *tailServer) push(t *testing.T, m models.Message) {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	require.NoError(t, wsjson.Write(context.Background(), c, m))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestTailPrintsHistoryThenPushes(t *testing.T) {
	server := newTailServer(t,
		models.Message{ID: 2, AppID: 1, Message: "second", Date: when.Add(time.Minute)},
		models.Message{ID: 1, AppID: 1, Message: "first", Date: when},
	)
	cfg := config.DefaultConfig()
	cfg.Server.URL = server.srv.URL
	cfg.Server.Token = testToken

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- runTail(ctx, out, &rootOptions{cfg: cfg}, tailOptions{app: models.PartitionAll, history: true})
	}()

	require.Eventually(t, server.connected, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "second") }, 5*time.Second, 10*time.Millisecond)

	server.push(t, models.Message{ID: 3, AppID: 2, Title: "nightly", Message: "finished", Date: when.Add(2 * time.Minute)})
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "[backup] P0 nightly: finished") }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "first")
	require.Contains(t, lines[1], "second")
}

func TestTailFiltersByApp(t *testing.T) {
	server := newTailServer(t)
	cfg := config.DefaultConfig()
	cfg.Server.URL = server.srv.URL
	cfg.Server.Token = testToken

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- runTail(ctx, out, &rootOptions{cfg: cfg}, tailOptions{app: 2})
	}()

	require.Eventually(t, server.connected, 5*time.Second, 10*time.Millisecond)
	server.push(t, models.Message{ID: 1, AppID: 1, Message: "skipped", Date: when})
	server.push(t, models.Message{ID: 2, AppID: 2, Message: "kept", Date: when})
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "kept") }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.NotContains(t, out.String(), "skipped")
}
