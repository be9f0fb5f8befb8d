package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHubBroadcast(t *testing.T) {
	GlobalHub = NewHub()
	go GlobalHub.Run()
	defer func() { GlobalHub = nil }()

	server := httptest.NewServer(http.HandlerFunc(handleWebSocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the hub a moment to register the client.
	time.Sleep(100 * time.Millisecond)

	BroadcastProgress("convert", "markdown", "Rendering markdown", 50)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg ProgressMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, data)
	}
	if msg.Type != "progress" || msg.Operation != "convert" || msg.Stage != "markdown" {
		t.Errorf("message = %+v", msg)
	}
	if msg.Progress != 50 {
		t.Errorf("progress = %d", msg.Progress)
	}
	if msg.Timestamp == "" {
		t.Error("timestamp not stamped")
	}
}

func TestBroadcastHelpers_NilHub(t *testing.T) {
	old := GlobalHub
	GlobalHub = nil
	defer func() { GlobalHub = old }()

	// All helpers must be no-ops without a hub.
	BroadcastProgress("convert", "stage", "msg", 10)
	BroadcastComplete("convert", "msg", nil)
	BroadcastError("convert", "msg")
}

func TestCheckOrigin(t *testing.T) {
	oldOrigins := ServerConfig.AllowedOrigins
	defer func() { ServerConfig.AllowedOrigins = oldOrigins }()

	request := func(origin string) *http.Request {
		req := httptest.NewRequest("GET", "/ws", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		return req
	}

	ServerConfig.AllowedOrigins = nil
	if !checkOrigin(request("https://evil.example")) {
		t.Error("open configuration should allow any origin")
	}

	ServerConfig.AllowedOrigins = []string{"https://app.example"}
	if !checkOrigin(request("https://app.example")) {
		t.Error("allowed origin rejected")
	}
	if checkOrigin(request("https://evil.example")) {
		t.Error("disallowed origin accepted")
	}
	if !checkOrigin(request("")) {
		t.Error("non-browser client without Origin rejected")
	}
}

func TestWebSocket_NoHub(t *testing.T) {
	old := GlobalHub
	GlobalHub = nil
	defer func() { GlobalHub = old }()

	rec := httptest.NewRecorder()
	handleWebSocket(rec, httptest.NewRequest("GET", "/ws", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d; want 500", rec.Code)
	}
}
