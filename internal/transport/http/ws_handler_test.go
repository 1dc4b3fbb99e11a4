package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-session/internal/core"
	"github.com/vovakirdan/wirechat-session/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t, nil, testConfig())

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestServerMountsWebSocketBesideRouter(t *testing.T) {
	cfg := testConfig()
	ts := startTestServer(t, createTestStore(t), cfg)

	resp, err := ts.Client().Get(ts.URL + "/api/chats/general/messages")
	if err != nil {
		t.Fatalf("history request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 401 {
		t.Fatalf("history without token: status %d, want 401", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, ready := connect(t, ctx, ts, makeToken(t, cfg, "alice", "", time.Minute))
	if ready.UserID != "alice" {
		t.Fatalf("ready user = %q", ready.UserID)
	}
}

func TestWebSocketHelloAndMessage(t *testing.T) {
	cfg := testConfig()
	ts := startTestServer(t, nil, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA, readyA := connect(t, ctx, ts, makeToken(t, cfg, "alice", "Alice", time.Minute))
	connB, _ := connect(t, ctx, ts, makeToken(t, cfg, "bob", "", time.Minute))
	if readyA.UserID != "alice" || readyA.SessionID == "" {
		t.Fatalf("unexpected ready: %+v", readyA)
	}

	writeFrame(t, ctx, connA, proto.ClientTypeJoinChat, proto.ChatRef{ChatID: "general"})
	readUntil(t, ctx, connA, proto.ServerTypeEvent, proto.EventChatUpdated)
	writeFrame(t, ctx, connB, proto.ClientTypeJoinChat, proto.ChatRef{ChatID: "general"})
	readUntil(t, ctx, connB, proto.ServerTypeEvent, proto.EventChatUpdated)

	writeFrame(t, ctx, connA, proto.ClientTypeSendMessage, proto.SendMessageData{
		ChatID:       "general",
		Content:      "hi there",
		ClientTempID: "tmp-1",
	})

	frame := readUntil(t, ctx, connB, proto.ServerTypeEvent, proto.EventNewMessage)
	var msg proto.NewMessageData
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		t.Fatalf("unmarshal event data: %v", err)
	}
	if msg.SenderID != "alice" || msg.SenderName != "Alice" || msg.Content != "hi there" || msg.ChatID != "general" {
		t.Fatalf("unexpected event payload: %+v", msg)
	}

	echo := readUntil(t, ctx, connA, proto.ServerTypeEvent, proto.EventNewMessage)
	var echoed proto.NewMessageData
	if err := json.Unmarshal(echo.Data, &echoed); err != nil {
		t.Fatalf("unmarshal echo: %v", err)
	}
	if echoed.ClientTempID != "tmp-1" || echoed.MessageID != msg.MessageID {
		t.Fatalf("unexpected echo: %+v", echoed)
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	cfg := testConfig()
	ts := startTestServer(t, nil, cfg)

	tests := []struct {
		name    string
		msgType websocket.MessageType
		payload string
	}{
		{name: "syntax error", msgType: websocket.MessageText, payload: "{not json"},
		{name: "wrong field type", msgType: websocket.MessageText, payload: `{"type":5}`},
		{name: "binary message", msgType: websocket.MessageBinary, payload: `{"type":"join-chat"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn, _ := connect(t, ctx, ts, makeToken(t, cfg, "alice", "", time.Minute))

			if err := conn.Write(ctx, tt.msgType, []byte(tt.payload)); err != nil {
				t.Fatalf("write: %v", err)
			}
			frame := readUntil(t, ctx, conn, proto.ServerTypeError, "")
			if frame.Error.Code != core.ErrCodeBadRequest {
				t.Fatalf("code = %s", frame.Error.Code)
			}

			writeFrame(t, ctx, conn, proto.ClientTypeJoinChat, proto.ChatRef{ChatID: "general"})
			readUntil(t, ctx, conn, proto.ServerTypeEvent, proto.EventChatUpdated)
		})
	}
}

func TestUnknownFrameType(t *testing.T) {
	cfg := testConfig()
	ts := startTestServer(t, nil, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _ := connect(t, ctx, ts, makeToken(t, cfg, "alice", "", time.Minute))
	writeFrame(t, ctx, conn, "dance", nil)

	frame := readUntil(t, ctx, conn, proto.ServerTypeError, "")
	if frame.Error.Code != core.ErrCodeInvalidMessage {
		t.Fatalf("code = %s", frame.Error.Code)
	}
}

func TestSendErrorNamesRejectedMessage(t *testing.T) {
	cfg := testConfig()
	ts := startTestServer(t, nil, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _ := connect(t, ctx, ts, makeToken(t, cfg, "alice", "", time.Minute))
	writeFrame(t, ctx, conn, proto.ClientTypeSendMessage, proto.SendMessageData{
		ChatID:       "general",
		Content:      "hello?",
		ClientTempID: "tmp-7",
	})

	frame := readUntil(t, ctx, conn, proto.ServerTypeError, "")
	if frame.Error.Code != core.ErrCodeNotInRoom {
		t.Fatalf("code = %s", frame.Error.Code)
	}
	if frame.Error.ChatID != "general" || frame.Error.ClientTempID != "tmp-7" {
		t.Fatalf("error must name the rejected send: %+v", frame.Error)
	}
}

func TestRateLimitResetsAfterWindow(t *testing.T) {
	cfg := testConfig()
	mock := clock.NewMock()
	logger := zerolog.Nop()
	hub := core.NewHub(nil, &logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	ts := httptest.NewServer(NewWSHandler(hub, WSConfig{
		JWT:               JWTConfig(cfg),
		MessagesPerMinute: 2,
		Clock:             mock,
	}, &logger))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	writeFrame(t, ctx, conn, proto.ClientTypeHello, proto.HelloData{Token: makeToken(t, cfg, "alice", "", time.Hour)})
	readUntil(t, ctx, conn, proto.ServerTypeReady, "")

	expectCode := func(code string) {
		t.Helper()
		var frame proto.ServerFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("read: %v", err)
		}
		if frame.Error == nil || frame.Error.Code != code {
			t.Fatalf("expected %s, got %+v", code, frame)
		}
		if frame.Error.ChatID != "general" {
			t.Fatalf("%s must name the chat, got %+v", code, frame.Error)
		}
	}

	for range 2 {
		writeFrame(t, ctx, conn, proto.ClientTypeTypingStop, proto.ChatRef{ChatID: "general"})
		expectCode(core.ErrCodeNotInRoom)
	}
	writeFrame(t, ctx, conn, proto.ClientTypeTypingStop, proto.ChatRef{ChatID: "general"})
	expectCode(core.ErrCodeRateLimited)

	mock.Add(time.Minute)
	writeFrame(t, ctx, conn, proto.ClientTypeTypingStop, proto.ChatRef{ChatID: "general"})
	expectCode(core.ErrCodeNotInRoom)
}
