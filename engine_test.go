package huddle

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/tokmz/huddle/pkg/auth"
	"github.com/tokmz/huddle/pkg/logger"
	"github.com/tokmz/huddle/pkg/ratelimit"
	"github.com/tokmz/huddle/pkg/room"
	"github.com/tokmz/huddle/pkg/store"
)

const testSecret = "engine-test-secret"

func testSettings(t *testing.T) *Settings {
	t.Helper()
	s := DefaultSettings()
	s.Server.Mode = "test"
	s.Auth.Secret = testSecret
	s.Database.Enabled = true
	s.Database.DSN = "file:" + t.Name() + "?mode=memory&cache=shared"
	return s
}

func newTestEngine(t *testing.T, s *Settings) (*Engine, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	e, err := New(ctx, s, nil)
	require.NoError(t, err)
	e.Start(ctx)

	srv := httptest.NewServer(e.Handler())
	t.Cleanup(func() {
		srv.Close()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		assert.NoError(t, e.Shutdown(sctx))
		cancel()
	})
	return e, srv
}

func token(t *testing.T, userID, username string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.TokenClaims{
		Username: username,
		Type:     "websocket",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, srv *httptest.Server, method, path, tok string) (int, gjson.Result) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, nil)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, gjson.ParseBytes(body)
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huddle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9100"
auth:
  secret: from-file
ws:
  max_connections: 50
  auto_join_rooms: [lobby]
rate_limit:
  message:
    limit: 7
    window: 2s
`), 0o600))
	t.Setenv("HUDDLE_LOG_LEVEL", "debug")

	s, cfg, err := LoadSettings(path)
	require.NoError(t, err)
	t.Cleanup(cfg.Close)

	assert.Equal(t, ":9100", s.Server.Addr)
	assert.Equal(t, "from-file", s.Auth.Secret)
	assert.Equal(t, 50, s.WS.MaxConnections)
	assert.Equal(t, []string{"lobby"}, s.WS.AutoJoinRooms)
	assert.Equal(t, ratelimit.Budget{Limit: 7, Window: 2 * time.Second}, s.RateLimit.Message)
	assert.Equal(t, "debug", s.Log.Level)

	defaults := DefaultSettings()
	assert.Equal(t, defaults.WS.HeartbeatInterval, s.WS.HeartbeatInterval, "absent keys keep their defaults")
	assert.Equal(t, defaults.RateLimit.Join, s.RateLimit.Join)
	assert.Equal(t, store.DriverMemory, s.Store.Driver)
}

func TestLoadSettingsValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing secret", "server:\n  addr: \":9100\"\n", "secret"},
		{"bad mode", "auth:\n  secret: x\nserver:\n  mode: turbo\n", "mode"},
		{"bad log level", "auth:\n  secret: x\nlog:\n  level: loud\n", "log"},
		{"bad database", "auth:\n  secret: x\ndatabase:\n  enabled: true\n  type: oracle\n", "oracle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "huddle.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))
			_, _, err := LoadSettings(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLogSettingsBuild(t *testing.T) {
	tests := []struct {
		name     string
		settings LogSettings
		want     int
	}{
		{"plain file", LogSettings{Level: "info"}, 5},
		{"rotated file", LogSettings{Level: "info", MaxSize: 1, MaxBackups: 2}, 5},
		{"sampled", LogSettings{Level: "info", Sampling: &logger.SamplingConfig{Initial: 1, Thereafter: 1000}}, 1},
		{"below level", LogSettings{Level: "error"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.settings.File = filepath.Join(t.TempDir(), "huddle.log")
			l, err := tt.settings.Build()
			require.NoError(t, err)
			for range 5 {
				l.Info("room created")
			}
			require.NoError(t, l.Sync())

			data, err := os.ReadFile(tt.settings.File)
			if tt.want == 0 && os.IsNotExist(err) {
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, strings.Count(string(data), `"msg":"room created"`))
		})
	}

	_, err := LogSettings{Level: "loud"}.Build()
	assert.Error(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	_, srv := newTestEngine(t, testSettings(t))

	code, body := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Get("status").String())

	code, body = do(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body.Get("status").String())

	code, body = do(t, srv, http.MethodGet, "/stats", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(0), body.Get("connections").Int())
	assert.True(t, body.Get("metrics").Exists())
}

func TestWebSocketRoute(t *testing.T) {
	e, srv := newTestEngine(t, testSettings(t))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token(t, "u1", "alice")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame := gjson.ParseBytes(data)
	assert.Equal(t, "connected", frame.Get("event").String())
	assert.Equal(t, "u1", frame.Get("data.user_id").String())

	require.Eventually(t, func() bool {
		return e.Manager().Connections() == 1
	}, 3*time.Second, 20*time.Millisecond)

	code, body := do(t, srv, http.MethodGet, "/stats", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(1), body.Get("connections").Int())
}

func TestRevoke(t *testing.T) {
	e, srv := newTestEngine(t, testSettings(t))
	tok := token(t, "u1", "alice")

	code, body := do(t, srv, http.MethodPost, "/auth/revoke", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "token_missing", body.Get("data.reason").String())

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?token="+tok, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "connected", gjson.GetBytes(data, "event").String())

	code, _ = do(t, srv, http.MethodPost, "/auth/revoke", tok)
	assert.Equal(t, http.StatusNoContent, code)

	// 登出后已有连接以 1008 关闭
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	require.Eventually(t, func() bool {
		return e.Manager().Connections() == 0
	}, 3*time.Second, 20*time.Millisecond)

	_, err = e.Verifier().Verify(context.Background(), tok)
	require.Error(t, err)
	assert.Equal(t, "revoked", auth.Reason(err))

	code, body = do(t, srv, http.MethodPost, "/auth/revoke", tok)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "revoked", body.Get("data.reason").String())
}

func TestInviteRoutes(t *testing.T) {
	e, srv := newTestEngine(t, testSettings(t))
	ctx := context.Background()
	rooms := e.Manager().Rooms()

	_, err := rooms.CreateRoom(ctx, room.Room{ID: "secret", Permission: room.Private, Owner: "owner"})
	require.NoError(t, err)
	owner, guest := token(t, "owner", "olivia"), token(t, "guest", "gus")

	code, body := do(t, srv, http.MethodPut, "/rooms/secret/invites/guest", guest)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "not_owner", body.Get("data.reason").String())

	code, _ = do(t, srv, http.MethodPut, "/rooms/missing/invites/guest", owner)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, srv, http.MethodPut, "/rooms/secret/invites/guest", owner)
	assert.Equal(t, http.StatusNoContent, code)

	code, body = do(t, srv, http.MethodGet, "/rooms/secret/invites", owner)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "guest", body.Get("users.0").String())

	ok, err := rooms.CheckAccess(ctx, "secret", "guest", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	code, _ = do(t, srv, http.MethodDelete, "/rooms/secret/invites/guest", owner)
	assert.Equal(t, http.StatusNoContent, code)

	ok, err = rooms.CheckAccess(ctx, "secret", "guest", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPRateLimit(t *testing.T) {
	s := testSettings(t)
	s.RateLimit.Message = ratelimit.Budget{Limit: 2, Window: time.Minute}
	_, srv := newTestEngine(t, s)

	for range 2 {
		code, _ := do(t, srv, http.MethodGet, "/stats", "")
		assert.Equal(t, http.StatusOK, code)
	}
	code, body := do(t, srv, http.MethodGet, "/stats", "")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate_limited", body.Get("data.reason").String())

	code, _ = do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code, "health checks are never limited")
}

func TestShutdownIsIdempotent(t *testing.T) {
	s := testSettings(t)
	s.Database.Enabled = false
	e, err := New(context.Background(), s, nil)
	require.NoError(t, err)
	e.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
	require.NoError(t, e.Shutdown(ctx))
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	s := DefaultSettings()
	_, err := New(context.Background(), s, nil)
	assert.ErrorContains(t, err, "secret")
}
