package serve

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Paranoid-AF/ghostlet"
	"github.com/Paranoid-AF/ghostlet/generate"
)

// gatedCompleter blocks requests for one language until released.
type gatedCompleter struct {
	language string
	started  chan struct{}
	release  chan struct{}
}

func newGatedCompleter(language string) *gatedCompleter {
	return &gatedCompleter{
		language: language,
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
}

func (g *gatedCompleter) Complete(_ context.Context, req generate.Request) ([]string, error) {
	if req.Language == g.language {
		g.started <- struct{}{}
		<-g.release
	}
	return []string{req.Language + "()"}, nil
}

func completionParams(uri, language string) ghostlet.CompletionParams {
	return ghostlet.CompletionParams{Doc: ghostlet.DocumentParams{URI: uri, LanguageID: language}}
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func dialTestServer(t *testing.T, opts Options) *websocket.Conn {
	t.Helper()
	opts.Logger = zap.NewNop().Sugar()
	backend := NewBackend(opts)
	t.Cleanup(backend.Close)

	srv := NewServer(backend)
	ts := httptest.NewServer(http.HandlerFunc(srv.handleWebSocket))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// roundTrip sends a request and reads messages until its response arrives.
func roundTrip(t *testing.T, conn *websocket.Conn, id int, method string, params any) rpcMessage {
	t.Helper()
	require.NoError(t, conn.WriteJSON(rpcMessage{JSONRPC: "2.0", ID: &id, Method: method, Params: params}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg rpcMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.ID != nil && *msg.ID == id && msg.Method == "" {
			return msg
		}
	}
}

func TestWebSocketSession(t *testing.T) {
	stub := &stubCompleter{out: []string{"foo()"}}
	conn := dialTestServer(t, Options{Completer: stub, Version: "test"})

	initResp := roundTrip(t, conn, 1, "initialize", map[string]any{})
	require.Nil(t, initResp.Error)
	var result struct {
		ServerInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(initResp.Result, &result))
	assert.Equal(t, Name, result.ServerInfo.Name)
	assert.Equal(t, "test", result.ServerInfo.Version)

	params := ghostlet.CompletionParams{Doc: ghostlet.DocumentParams{URI: "a.kcl", LanguageID: "kcl"}}
	params.Doc.Position.Line = 3
	params.Doc.Position.Character = 10

	first := roundTrip(t, conn, 2, ghostlet.MethodGetCompletions, params)
	require.Nil(t, first.Error)
	var resp ghostlet.CompletionResponse
	require.NoError(t, json.Unmarshal(first.Result, &resp))
	require.Len(t, resp.Completions, 1)
	assert.Equal(t, "foo()", resp.Completions[0].Text)

	second := roundTrip(t, conn, 3, ghostlet.MethodGetCompletions, params)
	var again ghostlet.CompletionResponse
	require.NoError(t, json.Unmarshal(second.Result, &again))
	require.Len(t, again.Completions, 1)
	assert.Equal(t, resp.Completions[0].UUID, again.Completions[0].UUID)
}

func TestWebSocketErrorsReachClient(t *testing.T) {
	conn := dialTestServer(t, Options{})

	roundTrip(t, conn, 1, "initialize", map[string]any{})
	msg := roundTrip(t, conn, 2, ghostlet.MethodGetCompletions, ghostlet.CompletionParams{})
	require.NotNil(t, msg.Error)
	assert.Contains(t, msg.Error.Message, "not configured")
}

func TestRunUnknownTransport(t *testing.T) {
	backend := NewBackend(Options{})
	t.Cleanup(backend.Close)

	err := NewServer(backend).Run(context.Background(), "carrier-pigeon", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestRunWebSocketStopsOnCancel(t *testing.T) {
	backend := NewBackend(Options{})
	t.Cleanup(backend.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(backend).Run(ctx, TransportWebSocket, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestWebSocketCompletionsDoNotWaitForEachOther(t *testing.T) {
	gate := newGatedCompleter("kcl")
	conn := dialTestServer(t, Options{Completer: gate})
	roundTrip(t, conn, 1, "initialize", map[string]any{})

	slowID := 2
	require.NoError(t, conn.WriteJSON(rpcMessage{
		JSONRPC: "2.0", ID: &slowID, Method: ghostlet.MethodGetCompletions,
		Params: completionParams("a.kcl", "kcl"),
	}))
	select {
	case <-gate.started:
	case <-time.After(5 * time.Second):
		t.Fatal("generation for a.kcl did not start")
	}

	fast := roundTrip(t, conn, 3, ghostlet.MethodGetCompletions, completionParams("b.py", "python"))
	require.Nil(t, fast.Error)
	var resp ghostlet.CompletionResponse
	require.NoError(t, json.Unmarshal(fast.Result, &resp))
	require.Len(t, resp.Completions, 1)
	assert.Equal(t, "python()", resp.Completions[0].Text)

	// Other methods are answered while a.kcl is pending.
	editor := roundTrip(t, conn, 4, ghostlet.MethodSetEditorInfo, ghostlet.EditorInfo{})
	require.Nil(t, editor.Error)

	close(gate.release)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg rpcMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.ID != nil && *msg.ID == slowID && msg.Method == "" {
			require.Nil(t, msg.Error)
			require.NoError(t, json.Unmarshal(msg.Result, &resp))
			assert.Equal(t, "kcl()", resp.Completions[0].Text)
			return
		}
	}
}

func TestServeStreamCompletionsDoNotWaitForEachOther(t *testing.T) {
	gate := newGatedCompleter("kcl")
	backend := NewBackend(Options{Completer: gate, Logger: zap.NewNop().Sugar()})
	t.Cleanup(backend.Close)

	serverSide, clientSide := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		NewServer(backend).ServeStream(ctx, serverSide)
	}()

	client := jsonrpc2.NewConn(context.Background(),
		jsonrpc2.NewBufferedStream(clientSide, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) {
			return nil, nil
		}))
	t.Cleanup(func() { client.Close() })

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()

	var initResult json.RawMessage
	require.NoError(t, client.Call(callCtx, "initialize", map[string]any{}, &initResult))

	slow, err := client.DispatchCall(callCtx, ghostlet.MethodGetCompletions, completionParams("a.kcl", "kcl"))
	require.NoError(t, err)
	<-gate.started

	var fast ghostlet.CompletionResponse
	require.NoError(t, client.Call(callCtx, ghostlet.MethodGetCompletions, completionParams("b.py", "python"), &fast))
	require.Len(t, fast.Completions, 1)
	assert.Equal(t, "python()", fast.Completions[0].Text)

	close(gate.release)
	var resp ghostlet.CompletionResponse
	require.NoError(t, slow.Wait(callCtx, &resp))
	require.Len(t, resp.Completions, 1)
	assert.Equal(t, "kcl()", resp.Completions[0].Text)

	cancel()
	select {
	case <-served:
	case <-time.After(5 * time.Second):
		t.Fatal("stream was not closed on cancel")
	}
}

func TestServeStreamReportsUnknownMethod(t *testing.T) {
	backend := NewBackend(Options{Logger: zap.NewNop().Sugar()})
	t.Cleanup(backend.Close)

	serverSide, clientSide := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go NewServer(backend).ServeStream(ctx, serverSide)

	client := jsonrpc2.NewConn(context.Background(),
		jsonrpc2.NewBufferedStream(clientSide, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) {
			return nil, nil
		}))
	t.Cleanup(func() { client.Close() })

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()

	var result json.RawMessage
	require.NoError(t, client.Call(callCtx, "initialize", map[string]any{}, &result))
	err := client.Call(callCtx, "ghostlet/unknown", map[string]any{}, &result)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcErr.Code)
}
