package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/icetop/internal/config"
	"github.com/harun/icetop/pkg/agent"
	"github.com/harun/icetop/pkg/catalog/catalogtest"
	"github.com/harun/icetop/pkg/toolexecutor"
)

type fakeChat struct {
	mu       sync.Mutex
	requests []agent.SendRequest
	resets   []string
	reloads  int
}

func (f *fakeChat) Send(ctx context.Context, req agent.SendRequest, progress toolexecutor.ProgressFunc) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if req.Catalog == "broken" {
		return "", errors.New("open catalog \"broken\": no such catalog")
	}
	progress.Emit(toolexecutor.Thinking("Thinking..."))
	progress.Emit(toolexecutor.ProgressEvent{Type: toolexecutor.EventToolStart, Tool: "list_namespaces"})
	return "There are 2 namespaces.", nil
}

func (f *fakeChat) Reset(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, id)
	return 1
}

func (f *fakeChat) ReloadAll() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return 0
}

func (f *fakeChat) reloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads
}

type testGateway struct {
	server  *Server
	http    *httptest.Server
	chat    *fakeChat
	loader  *config.Loader
	catalog *catalogtest.Memory
}

func setupTestGateway(t *testing.T, secret string) *testGateway {
	t.Helper()

	chat := &fakeChat{}
	cat := warehouseCatalog()
	loader := config.NewLoader(filepath.Join(t.TempDir(), "config.json"))
	srv, err := NewServer(Config{
		SharedSecret: secret,
		Chat:         chat,
		Catalogs: func(ctx context.Context) ([]string, error) {
			return []string{"local", "prod"}, nil
		},
		Handles:  fakeHandles{"local": cat},
		Settings: loader,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testGateway{server: srv, http: ts, chat: chat, loader: loader, catalog: cat}
}

func (g *testGateway) rpc(t *testing.T, method string, params map[string]interface{}, header http.Header) (*http.Response, RPCResponse) {
	t.Helper()

	body, err := json.Marshal(RPCRequest{ID: "1", Method: method, Params: params, JSONRPC: "2.0"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, g.http.URL+"/rpc", bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out RPCResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (g *testGateway) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(g.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestNewServer(t *testing.T) {
	t.Run("should require a chat service", func(t *testing.T) {
		_, err := NewServer(Config{Logger: zerolog.Nop()})
		assert.Error(t, err)
	})

	t.Run("should reject an out of range port", func(t *testing.T) {
		_, err := NewServer(Config{Port: 70000, Chat: &fakeChat{}})
		assert.Error(t, err)
	})

	t.Run("should register the chat methods", func(t *testing.T) {
		srv, err := NewServer(Config{Chat: &fakeChat{}, Logger: zerolog.Nop()})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"chat", "chat_reload", "chat_reset", "describe_table",
			"execute_sql", "get_query_history", "get_settings", "get_snapshots",
			"list_catalogs", "list_children", "list_namespaces", "list_tables",
			"ping", "update_settings",
		}, srv.Methods())
	})
}

func TestServer_HTTPRPC(t *testing.T) {
	t.Run("should answer ping", func(t *testing.T) {
		gw := setupTestGateway(t, "")

		resp, out := gw.rpc(t, "ping", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Nil(t, out.Error)
		assert.Equal(t, map[string]interface{}{"status": "ok"}, out.Result)
	})

	t.Run("should enforce the shared secret", func(t *testing.T) {
		gw := setupTestGateway(t, "s3cret")

		resp, _ := gw.rpc(t, "ping", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp, out := gw.rpc(t, "ping", nil, http.Header{SecretHeader: []string{"s3cret"}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Nil(t, out.Error)
	})

	t.Run("should reject non-POST requests", func(t *testing.T) {
		gw := setupTestGateway(t, "")

		resp, err := http.Get(gw.http.URL + "/rpc")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("should list catalogs", func(t *testing.T) {
		gw := setupTestGateway(t, "")

		_, out := gw.rpc(t, "list_catalogs", nil, nil)
		assert.Equal(t, []interface{}{"local", "prod"}, out.Result)
	})

	t.Run("should chat with the default session", func(t *testing.T) {
		gw := setupTestGateway(t, "")

		_, out := gw.rpc(t, "chat", map[string]interface{}{"catalog": "local", "message": "how many namespaces?"}, nil)
		require.Nil(t, out.Error)
		assert.Equal(t, "There are 2 namespaces.", out.Result)
		require.Len(t, gw.chat.requests, 1)
		assert.Equal(t, agent.SendRequest{Catalog: "local", Message: "how many namespaces?"}, gw.chat.requests[0])
	})

	t.Run("should reject chat without a message", func(t *testing.T) {
		gw := setupTestGateway(t, "")

		_, out := gw.rpc(t, "chat", map[string]interface{}{"catalog": "local", "message": "  "}, nil)
		require.NotNil(t, out.Error)
		assert.Equal(t, InvalidParams, out.Error.Code)
		assert.Empty(t, gw.chat.requests)
	})

	t.Run("should surface a chat that never ran as an error", func(t *testing.T) {
		gw := setupTestGateway(t, "")

		_, out := gw.rpc(t, "chat", map[string]interface{}{"catalog": "broken", "message": "hi"}, nil)
		require.NotNil(t, out.Error)
		assert.Equal(t, InternalError, out.Error.Code)
		assert.Contains(t, out.Error.Message, "no such catalog")
	})

	t.Run("should reset one session or all", func(t *testing.T) {
		gw := setupTestGateway(t, "")

		_, out := gw.rpc(t, "chat_reset", map[string]interface{}{"sessionId": "tab-1"}, nil)
		assert.Equal(t, map[string]interface{}{"status": "ok"}, out.Result)
		_, _ = gw.rpc(t, "chat_reset", nil, nil)

		assert.Equal(t, []string{"tab-1", ""}, gw.chat.resets)
	})

	t.Run("should reload sessions", func(t *testing.T) {
		gw := setupTestGateway(t, "")

		_, out := gw.rpc(t, "chat_reload", nil, nil)
		assert.Equal(t, map[string]interface{}{"status": "ok"}, out.Result)
		assert.Equal(t, 1, gw.chat.reloadCount())
	})
}

func TestServer_Settings(t *testing.T) {
	t.Run("should return defaults when no file exists", func(t *testing.T) {
		gw := setupTestGateway(t, "")

		_, out := gw.rpc(t, "get_settings", nil, nil)
		require.Nil(t, out.Error)
		settings := out.Result.(map[string]interface{})
		llm := settings["llm"].(map[string]interface{})
		assert.Equal(t, "openai", llm["provider"])
		assert.Equal(t, "gpt-4", llm["model"])
		assert.Equal(t, "", llm["apiKey"])
	})

	t.Run("should save, mask and reload", func(t *testing.T) {
		gw := setupTestGateway(t, "")

		_, out := gw.rpc(t, "update_settings", map[string]interface{}{
			"settings": map[string]interface{}{
				"llm": map[string]interface{}{
					"provider": "Anthropic",
					"apiKey":   "sk-ant-abc12345",
					"model":    "claude-sonnet-4-20250514",
				},
			},
		}, nil)
		require.Nil(t, out.Error)
		assert.Equal(t, 1, gw.chat.reloadCount())

		saved, err := gw.loader.Load()
		require.NoError(t, err)
		assert.Equal(t, "anthropic", saved.LLM.Provider)
		assert.Equal(t, "sk-ant-abc12345", saved.LLM.APIKey)
		assert.Equal(t, "dark", saved.Theme)

		_, out = gw.rpc(t, "get_settings", nil, nil)
		llm := out.Result.(map[string]interface{})["llm"].(map[string]interface{})
		assert.Equal(t, "****2345", llm["apiKey"])
	})

	t.Run("should keep the stored key when the masked value comes back", func(t *testing.T) {
		gw := setupTestGateway(t, "")
		cfg := config.DefaultConfig()
		cfg.LLM.APIKey = "sk-live-9876"
		require.NoError(t, gw.loader.Save(cfg))

		_, out := gw.rpc(t, "update_settings", map[string]interface{}{
			"llm":   map[string]interface{}{"provider": "openai", "apiKey": "****9876"},
			"theme": "light",
		}, nil)
		require.Nil(t, out.Error)

		saved, err := gw.loader.Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-live-9876", saved.LLM.APIKey)
		assert.Equal(t, "light", saved.Theme)
	})

	t.Run("should reject invalid settings without saving", func(t *testing.T) {
		gw := setupTestGateway(t, "")

		_, out := gw.rpc(t, "update_settings", map[string]interface{}{
			"settings": map[string]interface{}{"llm": map[string]interface{}{"provider": "cohere"}},
		}, nil)
		require.NotNil(t, out.Error)
		assert.Equal(t, InvalidParams, out.Error.Code)
		assert.Contains(t, out.Error.Message, "unknown provider")
		assert.Equal(t, 0, gw.chat.reloadCount())
		assert.NoFileExists(t, gw.loader.GetConfigPath())
	})
}

func TestServer_WebSocket(t *testing.T) {
	t.Run("should stream progress events before the chat response", func(t *testing.T) {
		gw := setupTestGateway(t, "")
		conn := gw.dial(t, nil)

		hello := readFrame(t, conn)
		assert.Equal(t, "auth.success", hello["event"])

		require.NoError(t, conn.WriteJSON(RPCRequest{
			ID:     "42",
			Method: "chat",
			Params: map[string]interface{}{"catalog": "local", "message": "list namespaces", "sessionId": "tab-1"},
		}))

		first := readFrame(t, conn)
		assert.Equal(t, ChatProgressEvent, first["event"])
		assert.Equal(t, "42", first["request_id"])
		assert.Equal(t, "tab-1", first["session_id"])
		assert.Equal(t, "thinking", first["data"].(map[string]interface{})["type"])

		second := readFrame(t, conn)
		assert.Equal(t, ChatProgressEvent, second["event"])
		assert.Equal(t, "list_namespaces", second["data"].(map[string]interface{})["tool"])

		response := readFrame(t, conn)
		assert.Equal(t, "42", response["id"])
		assert.Equal(t, "There are 2 namespaces.", response["result"])
	})

	t.Run("should accept the secret on the upgrade request", func(t *testing.T) {
		gw := setupTestGateway(t, "s3cret")
		conn := gw.dial(t, http.Header{SecretHeader: []string{"s3cret"}})

		assert.Equal(t, "auth.success", readFrame(t, conn)["event"])
	})

	t.Run("should require the challenge response without the secret header", func(t *testing.T) {
		gw := setupTestGateway(t, "s3cret")
		conn := gw.dial(t, nil)

		challenge := readFrame(t, conn)
		require.Equal(t, "auth.challenge", challenge["event"])

		require.NoError(t, conn.WriteJSON(RPCRequest{ID: "1", Method: "ping"}))
		denied := readFrame(t, conn)
		assert.Equal(t, float64(AuthenticationRequired), denied["error"].(map[string]interface{})["code"])

		require.NoError(t, conn.WriteJSON(AuthResponse{
			Method:    "auth.response",
			Signature: Sign("s3cret", challenge["challenge"].(string)),
		}))
		assert.Equal(t, true, readFrame(t, conn)["success"])

		require.NoError(t, conn.WriteJSON(RPCRequest{ID: "2", Method: "ping"}))
		pong := readFrame(t, conn)
		assert.Equal(t, "2", pong["id"])
		assert.Equal(t, map[string]interface{}{"status": "ok"}, pong["result"])
	})
}

func TestServer_Healthz(t *testing.T) {
	gw := setupTestGateway(t, "")

	resp, err := http.Get(gw.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StartStop(t *testing.T) {
	srv, err := NewServer(Config{Host: "127.0.0.1", Port: 0, Chat: &fakeChat{}, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Stop(ctx))
}
