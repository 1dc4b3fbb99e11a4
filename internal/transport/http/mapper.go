package http

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vovakirdan/wirechat-session/internal/core"
	"github.com/vovakirdan/wirechat-session/internal/proto"
)

var errBadPayload = errors.New("bad payload")

// frameToCommand maps a client frame to a hub command. A non-nil proto.Error
// is reported back to the client; the connection stays open.
func frameToCommand(frame proto.ClientFrame, maxContent int) (*core.Command, *proto.Error) {
	switch frame.Type {
	case proto.ClientTypeJoinChat, proto.ClientTypeLeaveChat,
		proto.ClientTypeTypingStart, proto.ClientTypeTypingStop,
		proto.ClientTypeMarkMessages:
		var ref proto.ChatRef
		if err := decodeData(frame, &ref); err != nil {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: err.Error()}
		}
		if ref.ChatID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "chatId is required"}
		}
		return &core.Command{Kind: chatCommands[frame.Type], Chat: ref.ChatID}, nil
	case proto.ClientTypeSendMessage:
		var msg proto.SendMessageData
		if err := decodeData(frame, &msg); err != nil {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: err.Error()}
		}
		if msg.ChatID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "chatId is required"}
		}
		if msg.Content == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "content is required"}
		}
		if maxContent > 0 && len(msg.Content) > maxContent {
			return nil, &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "content too long"}
		}
		return &core.Command{
			Kind: core.CommandSendMessage,
			Chat: msg.ChatID,
			Message: core.Message{
				Text:         msg.Content,
				Type:         msg.MessageType,
				ClientTempID: msg.ClientTempID,
			},
		}, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "unknown message type"}
	}
}

var chatCommands = map[string]core.CommandKind{
	proto.ClientTypeJoinChat:     core.CommandJoinChat,
	proto.ClientTypeLeaveChat:    core.CommandLeaveChat,
	proto.ClientTypeTypingStart:  core.CommandTypingStart,
	proto.ClientTypeTypingStop:   core.CommandTypingStop,
	proto.ClientTypeMarkMessages: core.CommandMarkRead,
}

func decodeData(frame proto.ClientFrame, v any) error {
	if len(frame.Data) == 0 {
		return fmt.Errorf("%w: missing data", errBadPayload)
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return nil
}

func eventToFrame(event *core.Event) (proto.ServerFrame, error) {
	switch event.Kind {
	case core.EventNewMessage:
		return proto.NewEventFrame(proto.EventNewMessage, messageData(&event.Message))
	case core.EventMessageRead:
		return proto.NewEventFrame(proto.EventMessageRead, proto.MessageReadData{
			ChatID:    event.Chat,
			MessageID: event.MessageID,
			ReaderID:  event.User,
		})
	case core.EventUserTyping:
		return proto.NewEventFrame(proto.EventUserTyping, proto.UserTypingData{
			ChatID:   event.Chat,
			UserID:   event.User,
			UserName: event.UserName,
			IsTyping: event.IsTyping,
		})
	case core.EventUserOnline:
		return proto.NewEventFrame(proto.EventUserOnline, proto.PresenceData{UserID: event.User})
	case core.EventUserOffline:
		return proto.NewEventFrame(proto.EventUserOffline, proto.PresenceData{UserID: event.User})
	case core.EventChatUpdated:
		data := proto.ChatUpdatedData{ChatID: event.Chat}
		if info := event.Info; info != nil {
			data.Title = info.Title
			data.Participants = info.Participants
			data.UpdatedAt = info.UpdatedAt
			if info.LastMessage != nil {
				data.LastMessage = messageData(info.LastMessage)
			}
		}
		return proto.NewEventFrame(proto.EventChatUpdated, data)
	case core.EventError:
		if event.Error == nil {
			return proto.NewErrorFrame(core.ErrCodeInternal, "unknown error"), nil
		}
		frame := proto.NewErrorFrame(event.Error.Code, event.Error.Message)
		frame.Error.ChatID = event.Chat
		frame.Error.ClientTempID = event.Error.ClientTempID
		return frame, nil
	default:
		return proto.ServerFrame{}, fmt.Errorf("unknown event kind %d", event.Kind)
	}
}

func messageData(m *core.Message) *proto.NewMessageData {
	return &proto.NewMessageData{
		ChatID:       m.Chat,
		MessageID:    m.ID,
		SenderID:     m.SenderID,
		SenderName:   m.SenderName,
		Content:      m.Text,
		MessageType:  m.Type,
		SentAt:       m.CreatedAt,
		ClientTempID: m.ClientTempID,
	}
}

// rejectFrame answers frame with e, naming the chat and temp id the frame
// referred to so the client can match the error to its request.
func rejectFrame(frame proto.ClientFrame, e *proto.Error) proto.ServerFrame {
	var ref struct {
		ChatID       string `json:"chatId"`
		ClientTempID string `json:"clientTempId"`
	}
	if len(frame.Data) > 0 {
		_ = json.Unmarshal(frame.Data, &ref)
	}
	e.ChatID, e.ClientTempID = ref.ChatID, ref.ClientTempID
	return proto.ServerFrame{Type: proto.ServerTypeError, Error: e}
}
