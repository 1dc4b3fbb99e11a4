package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-session/internal/auth"
	"github.com/vovakirdan/wirechat-session/internal/config"
	"github.com/vovakirdan/wirechat-session/internal/core"
	"github.com/vovakirdan/wirechat-session/internal/proto"
	"github.com/vovakirdan/wirechat-session/internal/store"
	"github.com/vovakirdan/wirechat-session/internal/store/sqlite"
)

const testSecret = "testsecret"

func testConfig() config.DevServerConfig {
	cfg := config.Default().DevServer
	cfg.Addr = ":0"
	cfg.JWTSecret = testSecret
	cfg.ReadHeaderTimeout = time.Second
	return cfg
}

func createTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// startTestServer runs a hub and the dev server over st, which may be nil.
func startTestServer(t *testing.T, st store.Store, cfg config.DevServerConfig) *httptest.Server {
	t.Helper()

	disabledLogger := zerolog.Nop()
	hub := core.NewHub(st, &disabledLogger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := NewServer(hub, st, cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
}

func makeToken(t *testing.T, cfg config.DevServerConfig, userID, name string, ttl time.Duration) string {
	t.Helper()
	jwtCfg := JWTConfig(cfg)
	jwtCfg.TTL = ttl
	token, err := auth.GenerateToken(jwtCfg, userID, name)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func dial(t *testing.T, ctx context.Context, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func writeFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, frameType string, data any) {
	t.Helper()
	frame, err := proto.NewClientFrame(frameType, data)
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		t.Fatalf("write %s: %v", frameType, err)
	}
}

// connect dials and completes the hello handshake.
func connect(t *testing.T, ctx context.Context, ts *httptest.Server, token string) (*websocket.Conn, proto.ReadyData) {
	t.Helper()
	conn := dial(t, ctx, ts)
	writeFrame(t, ctx, conn, proto.ClientTypeHello, proto.HelloData{Token: token, Protocol: proto.ProtocolVersion})

	frame := readFrame(t, ctx, conn)
	if frame.Type != proto.ServerTypeReady {
		t.Fatalf("expected ready, got %+v", frame)
	}
	var ready proto.ReadyData
	if err := json.Unmarshal(frame.Data, &ready); err != nil {
		t.Fatalf("decode ready: %v", err)
	}
	return conn, ready
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) proto.ServerFrame {
	t.Helper()
	var frame proto.ServerFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

// readUntil skips frames until one matches the frame type and, for events,
// the event name.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, frameType, event string) proto.ServerFrame {
	t.Helper()
	for {
		frame := readFrame(t, ctx, conn)
		if frame.Type == frameType && (event == "" || frame.Event == event) {
			return frame
		}
	}
}
