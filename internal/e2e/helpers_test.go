package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// rpcRequest is what the bridge sends to the printer daemon.
type rpcRequest struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// printerDaemon is a scripted Moonraker stand-in. Each method maps to the
// result it answers with; after the subscribe reply it pushes updates.
type printerDaemon struct {
	t       *testing.T
	srv     *httptest.Server
	results map[string]any
	pushes  []map[string]any

	mu      sync.Mutex
	methods []string
}

func newPrinterDaemon(t *testing.T, results map[string]any, pushes ...map[string]any) *printerDaemon {
	t.Helper()
	d := &printerDaemon{t: t, results: results, pushes: pushes}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		d.serve(conn)
	})
	d.srv = httptest.NewServer(mux)
	t.Cleanup(d.srv.Close)
	return d
}

// URL is the daemon's base http URL; the bridge derives the websocket path.
func (d *printerDaemon) URL() string { return d.srv.URL }

func (d *printerDaemon) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req rpcRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		d.mu.Lock()
		d.methods = append(d.methods, req.Method)
		d.mu.Unlock()

		result, ok := d.results[req.Method]
		var reply map[string]any
		if ok {
			reply = map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result}
		} else {
			reply = map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -32601, "message": "Method not found"}}
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
		if req.Method == "printer.objects.subscribe" {
			for _, p := range d.pushes {
				msg := map[string]any{"jsonrpc": "2.0", "method": "notify_status_update", "params": []any{p, 12345.6}}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}
		}
	}
}

func (d *printerDaemon) Methods() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.methods...)
}

// messagingAPI records print-start messages.
type messagingAPI struct {
	srv *httptest.Server

	mu       sync.Mutex
	messages []map[string]string
}

func newMessagingAPI(t *testing.T) *messagingAPI {
	t.Helper()
	m := &messagingAPI{}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.messages = append(m.messages, body)
		m.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *messagingAPI) Messages() []map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]string(nil), m.messages...)
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
