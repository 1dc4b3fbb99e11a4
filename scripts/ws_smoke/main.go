// Command ws_smoke speaks the raw wire protocol against a running server:
// hello, join, send, then waits for the echo of its own message.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-session/internal/proto"
	"github.com/vovakirdan/wirechat-session/internal/utils"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", os.Getenv("WIRECHAT_TOKEN"), "access token (see `wirechat token`)")
	room := flag.String("room", "general", "chat id")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *token == "" {
		return fmt.Errorf("a token is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(frameType string, data any) error {
		frame, err := proto.NewClientFrame(frameType, data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", frameType, err)
		}
		if err := wsjson.Write(ctx, conn, frame); err != nil {
			return fmt.Errorf("send %s: %w", frameType, err)
		}
		return nil
	}

	if err := send(proto.ClientTypeHello, proto.HelloData{Token: *token, Protocol: proto.ProtocolVersion}); err != nil {
		return err
	}
	tempID := utils.NewTempID()

	for {
		var frame proto.ServerFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		fmt.Printf("Received frame: type=%s", frame.Type)
		if frame.Event != "" {
			fmt.Printf(" event=%s", frame.Event)
		}
		fmt.Println()

		switch frame.Type {
		case proto.ServerTypeError:
			if frame.Error != nil {
				fmt.Printf("Error: %s %s\n", frame.Error.Code, frame.Error.Msg)
			}
			continue
		case proto.ServerTypeReady:
			var ready proto.ReadyData
			if err := json.Unmarshal(frame.Data, &ready); err != nil {
				return fmt.Errorf("unmarshal ready: %w", err)
			}
			fmt.Printf("Ready: user=%s session=%s\n", ready.UserID, ready.SessionID)
			if err := send(proto.ClientTypeJoinChat, proto.ChatRef{ChatID: *room}); err != nil {
				return err
			}
			if err := send(proto.ClientTypeSendMessage, proto.SendMessageData{
				ChatID:       *room,
				Content:      *text,
				ClientTempID: tempID,
			}); err != nil {
				return err
			}
			continue
		}

		switch frame.Event {
		case proto.EventNewMessage:
			var msg proto.NewMessageData
			if err := json.Unmarshal(frame.Data, &msg); err != nil {
				fmt.Printf("Raw data: %s\n", string(frame.Data))
				return fmt.Errorf("unmarshal message: %w", err)
			}
			fmt.Printf("Message: chat=%s sender=%s text=%q id=%s\n", msg.ChatID, msg.SenderID, msg.Content, msg.MessageID)
			if msg.ClientTempID == tempID {
				return nil
			}
		case proto.EventChatUpdated:
			var info proto.ChatUpdatedData
			if err := json.Unmarshal(frame.Data, &info); err == nil {
				fmt.Printf("Chat: id=%s participants=%v\n", info.ChatID, info.Participants)
			}
		case proto.EventUserOnline, proto.EventUserOffline:
			var p proto.PresenceData
			if err := json.Unmarshal(frame.Data, &p); err == nil {
				fmt.Printf("Presence: %s %s\n", p.UserID, frame.Event)
			}
		}
	}
}
