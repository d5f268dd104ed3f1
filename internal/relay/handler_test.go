package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/lexiqai/stt-relay/internal/config"
	"github.com/lexiqai/stt-relay/internal/upstream"
)

func toWS(url string) string {
	return "ws" + strings.TrimPrefix(url, "http")
}

// fakeRecognizer answers every audio frame with a Results message and
// closes normally after CloseStream
func fakeRecognizer(t *testing.T, queries chan<- string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		header := http.Header{}
		header.Set(upstream.HeaderRequestID, "req-e2e")
		conn, err := upgrader.Upgrade(w, r, header)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType == websocket.BinaryMessage {
				result := `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello"}]}}`
				if conn.WriteMessage(websocket.TextMessage, []byte(result)) != nil {
					return
				}
				continue
			}
			if gjson.GetBytes(data, "type").String() == TypeCloseStream {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata","request_id":"req-e2e","duration":0.1}`))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
				return
			}
		}
	}))
}

func relayConfig(upstreamURL string) *config.Config {
	return &config.Config{
		UpstreamURL:       upstreamURL,
		DeepgramAPIKey:    "test-key",
		UpstreamAuthMode:  config.AuthModeHeader,
		DeepgramModel:     "nova-3",
		DeepgramLanguage:  "multi",
		TargetSampleRate:  16000,
		InterimResults:    true,
		KeepAliveInterval: 5 * time.Second,
		StatsInterval:     time.Hour,
		CloseTimeout:      2 * time.Second,
		DialTimeout:       2 * time.Second,
		WriteTimeout:      2 * time.Second,
		PricePerMinUSD:    0.0052,
	}
}

// readUntil reads text frames until one of type msgType arrives, returning it and every type seen
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) (gjson.Result, []string) {
	t.Helper()
	var seen []string
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed waiting for %s (saw %v): %v", msgType, seen, err)
		}
		msg := gjson.ParseBytes(data)
		seen = append(seen, msg.Get("type").String())
		if msg.Get("type").String() == msgType {
			return msg, seen
		}
	}
}

func TestHandler_EndToEnd(t *testing.T) {
	queries := make(chan string, 1)
	recognizer := fakeRecognizer(t, queries)
	defer recognizer.Close()

	cfg := relayConfig(toWS(recognizer.URL) + "/v1/listen")
	relayServer := httptest.NewServer(NewHandler(cfg, upstream.NewDialer(cfg, upstream.StaticKey(cfg.DeepgramAPIKey))))
	defer relayServer.Close()

	client, _, err := websocket.DefaultDialer.Dial(toWS(relayServer.URL)+"/ws?model=nova-2&language=en", nil)
	if err != nil {
		t.Fatalf("Failed to dial relay: %v", err)
	}
	defer client.Close()

	open, _ := readUntil(t, client, TypeSessionOpen)
	if open.Get("request_id").String() != "req-e2e" {
		t.Errorf("Expected request_id req-e2e, got %s", open.Raw)
	}
	if open.Get("model").String() != "nova-2" || open.Get("language").String() != "en" {
		t.Errorf("Expected model nova-2 and language en, got %s", open.Raw)
	}

	query := <-queries
	if !strings.Contains(query, "model=nova-2") || !strings.Contains(query, "encoding=linear16") {
		t.Errorf("Expected upstream query to carry model and encoding, got %s", query)
	}

	if err := client.WriteMessage(websocket.BinaryMessage, make([]byte, 3200)); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}
	result, seen := readUntil(t, client, TypeResults)
	if result.Get("channel.alternatives.0.transcript").String() != "hello" {
		t.Errorf("Expected forwarded transcript 'hello', got %s", result.Raw)
	}
	metrics := 0
	for _, typ := range seen {
		if typ == TypeMetric {
			metrics++
		}
	}
	if metrics != 2 {
		t.Errorf("Expected 2 metrics before the first result, got %d in %v", metrics, seen)
	}

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		t.Fatalf("Failed to send CloseStream: %v", err)
	}
	closed, seen := readUntil(t, client, TypeUpstreamClose)
	if closed.Get("code").Int() != websocket.CloseNormalClosure || closed.Get("reason").String() != "done" {
		t.Errorf("Expected normal upstream close, got %s", closed.Raw)
	}
	if seen[0] != TypeMetadata {
		t.Errorf("Expected metadata drained before close, got %v", seen)
	}

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Error("Expected relay to close the client connection")
	}
}

func TestHandler_UpstreamRejected(t *testing.T) {
	recognizer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(upstream.HeaderError, "AUTH_FAILED")
		w.Header().Set(upstream.HeaderRequestID, "req-denied")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer recognizer.Close()

	cfg := relayConfig(toWS(recognizer.URL))
	relayServer := httptest.NewServer(NewHandler(cfg, upstream.NewDialer(cfg, upstream.StaticKey("bad"))))
	defer relayServer.Close()

	client, _, err := websocket.DefaultDialer.Dial(toWS(relayServer.URL), nil)
	if err != nil {
		t.Fatalf("Failed to dial relay: %v", err)
	}
	defer client.Close()

	proxyErr, _ := readUntil(t, client, TypeProxyError)
	if proxyErr.Get("upstream_error").String() != "AUTH_FAILED" {
		t.Errorf("Expected upstream_error AUTH_FAILED, got %s", proxyErr.Raw)
	}
	if proxyErr.Get("status").Int() != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %s", proxyErr.Raw)
	}

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := client.ReadMessage()
		if err != nil {
			break
		}
		if gjson.GetBytes(data, "type").String() == TypeProxyError {
			t.Fatal("Expected exactly one proxy_error")
		}
	}
}
