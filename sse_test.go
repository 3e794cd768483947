package mcp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	mcp "github.com/TangGee/textutils-mcp"
	"github.com/TangGee/textutils-mcp/servers/textutils"
)

type sseFrame struct {
	event   string
	data    string
	comment string
}

func newTestSSEServer(
	t *testing.T,
	options ...mcp.SSEServerOption,
) (*httptest.Server, *mcp.SSEServer, *mcp.SessionStore) {
	t.Helper()

	store := mcp.NewSessionStore()
	server := mcp.NewSSEServer("/message", newTestDispatcher(), store, options...)

	mux := http.NewServeMux()
	mux.Handle("GET /sse", server.HandleSSE())
	mux.Handle("POST /message", server.HandleMessage())
	mux.Handle("GET /health", server.HandleHealth())

	testServer := httptest.NewServer(mux)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// Streams never end on their own, so they must be stopped before the test server
		// waits for outstanding requests.
		if err := server.Shutdown(ctx); err != nil {
			t.Errorf("failed to shutdown SSE server: %v", err)
		}
		testServer.Close()
	})

	return testServer, server, store
}

// openStream issues the GET that opens an event stream. The stream is closed when ctx is done.
func openStream(ctx context.Context, t *testing.T, url string) (*http.Response, *bufio.Reader) {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("got status %d opening stream, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("got content type %q, want text/event-stream", ct)
	}
	return resp, bufio.NewReader(resp.Body)
}

// readFrame reads lines up to the next blank line.
func readFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()

	var f sseFrame
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read stream: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if f == (sseFrame{}) {
				continue
			}
			return f
		case strings.HasPrefix(line, ":"):
			f.comment = strings.TrimSpace(strings.TrimPrefix(line, ":"))
		case strings.HasPrefix(line, "event:"):
			f.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			f.data += strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
		}
	}
}

func readEndpoint(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()

	f := readFrame(t, r)
	if f.event != "endpoint" {
		t.Fatalf("got first event %q, want endpoint", f.event)
	}
	path, query, ok := strings.Cut(f.data, "?sessionId=")
	if !ok || query == "" {
		t.Fatalf("endpoint %q does not carry a session id", f.data)
	}
	return path, query
}

func post(t *testing.T, url, body string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to post: %v", err)
	}
	defer resp.Body.Close()

	bs, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return resp, string(bs)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSSEServerAndClient(t *testing.T) {
	testServer, _, store := newTestSSEServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := mcp.NewSSEClient(testServer.URL+"/sse", testServer.Client())
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	if !strings.HasPrefix(client.MessageURL(), testServer.URL+"/message?sessionId=") {
		t.Errorf("got message URL %q", client.MessageURL())
	}
	if store.Len() != 1 {
		t.Errorf("got %d sessions, want 1", store.Len())
	}

	info, err := client.Initialize(ctx, mcp.Info{Name: "test-client", Version: "1.0"})
	if err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if info != testInfo {
		t.Errorf("got server info %+v, want %+v", info, testInfo)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	if len(tools) != 6 {
		t.Errorf("got %d tools, want 6", len(tools))
	}

	res, err := client.CallTool(ctx, "reverse_text", mcp.ToolArguments{"text": "abc"})
	if err != nil {
		t.Fatalf("failed to call tool: %v", err)
	}
	if res.IsError || len(res.Content) != 1 || res.Content[0].Text != "Reversed text: cba" {
		t.Errorf("got result %+v, want Reversed text: cba", res)
	}

	res, err = client.CallTool(ctx, "nope", nil)
	if err != nil {
		t.Fatalf("failed to call tool: %v", err)
	}
	if !res.IsError || res.Content[0].Text != "Unknown tool: nope" {
		t.Errorf("got result %+v, want unknown tool error", res)
	}

	_, err = client.Request(ctx, "resources/list", nil)
	var rpcErr mcp.JSONRPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Errorf("got error %v, want method not found", err)
	}

	client.Close()

	waitFor(t, func() bool { return store.Len() == 0 }, "session was not destroyed after client disconnect")

	if _, err := client.Request(ctx, "ping", nil); err == nil {
		t.Error("expected request after close to fail")
	}
}

func TestSSEServerConcurrentRequests(t *testing.T) {
	testServer, _, _ := newTestSSEServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := mcp.NewSSEClient(testServer.URL+"/sse", testServer.Client())
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	inputs := []string{"one", "two", "three", "four", "five", "six", "seven", "eight"}
	errs := make(chan error, len(inputs))
	for _, in := range inputs {
		go func() {
			res, err := client.CallTool(ctx, "uppercase_text", mcp.ToolArguments{"text": in})
			if err != nil {
				errs <- err
				return
			}
			if want := "Uppercase: " + strings.ToUpper(in); res.Content[0].Text != want {
				errs <- errors.New("got " + res.Content[0].Text + ", want " + want)
				return
			}
			errs <- nil
		}()
	}

	for range inputs {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}
}

func TestHandleSSEEndpointAndMessages(t *testing.T) {
	testServer, _, store := newTestSSEServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, r := openStream(ctx, t, testServer.URL+"/sse")
	defer resp.Body.Close()

	path, sessID := readEndpoint(t, r)
	if path != "/message" {
		t.Errorf("got endpoint path %q, want /message", path)
	}
	if _, ok := store.Lookup(sessID); !ok {
		t.Fatalf("session %s from endpoint event is not in the store", sessID)
	}

	messageURL := testServer.URL + path + "?sessionId=" + sessID

	// Responses arrive in the order the requests were accepted.
	for _, id := range []string{"1", "2", "3"} {
		httpResp, body := post(t, messageURL, `{"jsonrpc":"2.0","id":`+id+`,"method":"ping"}`)
		if httpResp.StatusCode != http.StatusAccepted {
			t.Fatalf("got status %d, want 202", httpResp.StatusCode)
		}
		if body != "Accepted" {
			t.Errorf("got body %q, want Accepted", body)
		}
	}

	// A notification produces nothing on the stream.
	httpResp, _ := post(t, messageURL, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if httpResp.StatusCode != http.StatusAccepted {
		t.Fatalf("got status %d for notification, want 202", httpResp.StatusCode)
	}

	for _, id := range []string{"1", "2", "3"} {
		f := readFrame(t, r)
		if f.event != "message" {
			t.Fatalf("got event %q, want message", f.event)
		}
		var msg mcp.JSONRPCMessage
		if err := json.Unmarshal([]byte(f.data), &msg); err != nil {
			t.Fatalf("failed to unmarshal message %q: %v", f.data, err)
		}
		if string(msg.ID) != id {
			t.Errorf("got id %s, want %s", msg.ID, id)
		}
	}
}

func TestHandleSSEKeepAlive(t *testing.T) {
	testServer, _, store := newTestSSEServer(t, mcp.WithKeepAliveInterval(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, r := openStream(ctx, t, testServer.URL+"/sse")
	defer resp.Body.Close()

	path, sessID := readEndpoint(t, r)

	for range 2 {
		f := readFrame(t, r)
		if f.comment != "keepalive" {
			t.Fatalf("got frame %+v, want keepalive comment", f)
		}
	}

	// The session survives idle periods.
	if _, ok := store.Lookup(sessID); !ok {
		t.Fatal("session was destroyed while idle")
	}

	httpResp, _ := post(t, testServer.URL+path+"?sessionId="+sessID, `{"jsonrpc":"2.0","id":"k","method":"ping"}`)
	if httpResp.StatusCode != http.StatusAccepted {
		t.Fatalf("got status %d, want 202", httpResp.StatusCode)
	}

	for {
		f := readFrame(t, r)
		if f.comment == "keepalive" {
			continue
		}
		if f.event != "message" || !strings.Contains(f.data, `"id":"k"`) {
			t.Fatalf("got frame %+v, want ping response", f)
		}
		break
	}
}

func TestHandleSSEDisconnect(t *testing.T) {
	var closed []string
	closedCh := make(chan string, 1)
	testServer, _, store := newTestSSEServer(t,
		mcp.WithSSEServerOnSessionClosed(func(id string) { closedCh <- id }))

	ctx, cancel := context.WithCancel(context.Background())

	resp, r := openStream(ctx, t, testServer.URL+"/sse")
	path, sessID := readEndpoint(t, r)

	if store.Len() != 1 {
		t.Fatalf("got %d sessions, want 1", store.Len())
	}

	cancel()
	resp.Body.Close()

	select {
	case id := <-closedCh:
		closed = append(closed, id)
	case <-time.After(2 * time.Second):
		t.Fatal("session close callback was not invoked")
	}
	if !slices.Equal(closed, []string{sessID}) {
		t.Errorf("got closed sessions %v, want [%s]", closed, sessID)
	}
	if store.Len() != 0 {
		t.Errorf("got %d sessions after disconnect, want 0", store.Len())
	}

	httpResp, body := post(t, testServer.URL+path+"?sessionId="+sessID, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if httpResp.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d posting to a closed session, want 400", httpResp.StatusCode)
	}
	if !strings.Contains(body, "No active session found") {
		t.Errorf("got body %q", body)
	}
}

func TestHandleMessageErrors(t *testing.T) {
	testServer, _, store := newTestSSEServer(t, mcp.WithMaxMessageBytes(1024))

	receiver := store.Create()
	defer receiver.Close()

	tests := []struct {
		name       string
		query      string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing session id",
			query:      "",
			body:       `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing sessionId parameter",
		},
		{
			name:       "unknown session",
			query:      "?sessionId=does-not-exist",
			body:       `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "No active session found",
		},
		{
			name:       "malformed body",
			query:      "?sessionId=" + receiver.ID(),
			body:       `{not json`,
			wantStatus: http.StatusInternalServerError,
			wantError:  "Invalid message: ",
		},
		{
			name:       "wrong jsonrpc version",
			query:      "?sessionId=" + receiver.ID(),
			body:       `{"jsonrpc":"1.0","id":1,"method":"ping"}`,
			wantStatus: http.StatusInternalServerError,
			wantError:  "Invalid message: ",
		},
		{
			name:       "body too large",
			query:      "?sessionId=" + receiver.ID(),
			body:       `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"reverse_text","arguments":{"text":"` + strings.Repeat("a", 2048) + `"}}}`,
			wantStatus: http.StatusInternalServerError,
			wantError:  "Invalid message: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, testServer.URL+"/message"+tt.query, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("got status %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("got content type %q, want application/json", ct)
			}

			var got struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal([]byte(body), &got); err != nil {
				t.Fatalf("failed to unmarshal body %q: %v", body, err)
			}
			if !strings.HasPrefix(got.Error, tt.wantError) {
				t.Errorf("got error %q, want prefix %q", got.Error, tt.wantError)
			}
		})
	}

	// None of the failures queued anything.
	q, _ := store.Lookup(receiver.ID())
	if q.Len() != 0 {
		t.Errorf("got %d queued messages, want 0", q.Len())
	}
}

func TestHandleMessageSessionIsolation(t *testing.T) {
	testServer, _, store := newTestSSEServer(t)

	a := store.Create()
	defer a.Close()
	b := store.Create()
	defer b.Close()

	resp, _ := post(t, testServer.URL+"/message?sessionId="+a.ID(),
		`{"jsonrpc":"2.0","id":"a1","method":"tools/call","params":{"name":"reverse_text","arguments":{"text":"xyz"}}}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("got status %d, want 202", resp.StatusCode)
	}

	msg, err := a.DrainOrWait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("failed to drain: %v", err)
	}
	if msg.ID.String() != "a1" || !strings.Contains(string(msg.Result), "Reversed text: zyx") {
		t.Errorf("got %+v", msg)
	}

	if _, err := b.DrainOrWait(context.Background(), 50*time.Millisecond); !errors.Is(err, mcp.ErrWaitTimeout) {
		t.Errorf("got error %v on the other session, want ErrWaitTimeout", err)
	}
}

func TestHandleHealth(t *testing.T) {
	testServer, _, store := newTestSSEServer(t)

	r := store.Create()
	defer r.Close()

	resp, err := http.Get(testServer.URL + "/health")
	if err != nil {
		t.Fatalf("failed to get health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}

	var health struct {
		Status         string   `json:"status"`
		Name           string   `json:"name"`
		Version        string   `json:"version"`
		Tools          []string `json:"tools"`
		ActiveSessions int      `json:"activeSessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode health: %v", err)
	}

	if health.Status != "ok" {
		t.Errorf("got status %q, want ok", health.Status)
	}
	if health.Name != testInfo.Name || health.Version != testInfo.Version {
		t.Errorf("got identity %s/%s", health.Name, health.Version)
	}
	if !slices.Equal(health.Tools, mcp.ToolNames(textutils.NewRegistry())) {
		t.Errorf("got tools %v", health.Tools)
	}
	if health.ActiveSessions != 1 {
		t.Errorf("got %d active sessions, want 1", health.ActiveSessions)
	}
}

func TestSSEServerShutdown(t *testing.T) {
	testServer, server, store := newTestSSEServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, r := openStream(ctx, t, testServer.URL+"/sse")
	defer resp.Body.Close()
	readEndpoint(t, r)

	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("failed to shutdown: %v", err)
	}

	if _, err := r.ReadString('\n'); !errors.Is(err, io.EOF) {
		t.Errorf("got error %v reading after shutdown, want EOF", err)
	}
	if store.Len() != 0 {
		t.Errorf("got %d sessions after shutdown, want 0", store.Len())
	}

	refused, err := http.Get(testServer.URL + "/sse")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	refused.Body.Close()
	if refused.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("got status %d opening a stream after shutdown, want 503", refused.StatusCode)
	}
}

func TestMessagePath(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"/message", "/message"},
		{"message", "/message"},
		{"https://example.com/rpc/message", "/rpc/message"},
		{"http://localhost:8081/message?x=1", "/message"},
		{"/custom/path", "/custom/path"},
	}

	for _, tt := range tests {
		if got := mcp.MessagePath(tt.endpoint); got != tt.want {
			t.Errorf("MessagePath(%q) = %q, want %q", tt.endpoint, got, tt.want)
		}
	}
}
