package router

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vovakirdan/wirechat-session/internal/chat"
	"github.com/vovakirdan/wirechat-session/internal/proto"
)

var (
	// ErrMalformedFrame is returned for frames that are not valid envelopes.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownEvent is returned for envelopes with an unrecognized type or event.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrUnknownIntent is returned when encoding an intent kind without a wire form.
	ErrUnknownIntent = errors.New("unknown intent")
)

// Decode converts a server frame into a domain event.
func Decode(data []byte) (chat.Event, error) {
	var frame proto.ServerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return chat.Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return FromFrame(frame)
}

// FromFrame converts a decoded envelope into a domain event.
func FromFrame(frame proto.ServerFrame) (chat.Event, error) {
	switch frame.Type {
	case proto.ServerTypeError:
		return errorEvent(frame.Error), nil
	case proto.ServerTypeEvent:
	default:
		return chat.Event{}, fmt.Errorf("%w: type %q", ErrUnknownEvent, frame.Type)
	}

	switch frame.Event {
	case proto.EventNewMessage:
		var data proto.NewMessageData
		if err := unmarshal(frame, &data); err != nil {
			return chat.Event{}, err
		}
		if data.ChatID == "" || data.MessageID == "" {
			return chat.Event{}, fmt.Errorf("%w: new-message without chatId or messageId", ErrMalformedFrame)
		}
		msg := messageFromWire(data)
		return chat.Event{Kind: chat.EventNewMessage, Message: &msg}, nil
	case proto.EventMessageRead:
		var data proto.MessageReadData
		if err := unmarshal(frame, &data); err != nil {
			return chat.Event{}, err
		}
		return chat.Event{Kind: chat.EventMessageRead, Receipt: &chat.Receipt{
			RoomID:    data.ChatID,
			MessageID: data.MessageID,
			ReaderID:  data.ReaderID,
		}}, nil
	case proto.EventUserTyping:
		var data proto.UserTypingData
		if err := unmarshal(frame, &data); err != nil {
			return chat.Event{}, err
		}
		return chat.Event{Kind: chat.EventTyping, Typing: &chat.TypingSignal{
			RoomID:   data.ChatID,
			UserID:   data.UserID,
			UserName: data.UserName,
			IsTyping: data.IsTyping,
		}}, nil
	case proto.EventUserOnline, proto.EventUserOffline:
		var data proto.PresenceData
		if err := unmarshal(frame, &data); err != nil {
			return chat.Event{}, err
		}
		return chat.Event{Kind: chat.EventPresence, Presence: &chat.Presence{
			UserID: data.UserID,
			Online: frame.Event == proto.EventUserOnline,
		}}, nil
	case proto.EventChatUpdated:
		var data proto.ChatUpdatedData
		if err := unmarshal(frame, &data); err != nil {
			return chat.Event{}, err
		}
		room := chat.Room{
			ID:           data.ChatID,
			Title:        data.Title,
			Participants: data.Participants,
			UnreadCount:  data.UnreadCount,
			UpdatedAt:    data.UpdatedAt,
		}
		if data.LastMessage != nil {
			last := messageFromWire(*data.LastMessage)
			room.LastMessage = &last
		}
		return chat.Event{Kind: chat.EventRoomUpdated, Room: &room}, nil
	case proto.EventError:
		var data proto.Error
		if err := unmarshal(frame, &data); err != nil {
			return chat.Event{}, err
		}
		return errorEvent(&data), nil
	default:
		return chat.Event{}, fmt.Errorf("%w: event %q", ErrUnknownEvent, frame.Event)
	}
}

// Encode converts an intent into a client frame.
func Encode(intent chat.Intent) (proto.ClientFrame, error) {
	switch intent.Kind {
	case chat.IntentSendMessage:
		kind := intent.MessageType
		if kind == "" {
			kind = chat.MessageTypeText
		}
		return proto.NewClientFrame(proto.ClientTypeSendMessage, proto.SendMessageData{
			ChatID:       intent.RoomID,
			Content:      intent.Content,
			MessageType:  kind,
			ClientTempID: intent.ClientTempID,
		})
	case chat.IntentJoinRoom:
		return proto.NewClientFrame(proto.ClientTypeJoinChat, proto.ChatRef{ChatID: intent.RoomID})
	case chat.IntentLeaveRoom:
		return proto.NewClientFrame(proto.ClientTypeLeaveChat, proto.ChatRef{ChatID: intent.RoomID})
	case chat.IntentStartTyping:
		return proto.NewClientFrame(proto.ClientTypeTypingStart, proto.ChatRef{ChatID: intent.RoomID})
	case chat.IntentStopTyping:
		return proto.NewClientFrame(proto.ClientTypeTypingStop, proto.ChatRef{ChatID: intent.RoomID})
	case chat.IntentMarkRead:
		return proto.NewClientFrame(proto.ClientTypeMarkMessages, proto.ChatRef{ChatID: intent.RoomID})
	default:
		return proto.ClientFrame{}, fmt.Errorf("%w: %d", ErrUnknownIntent, intent.Kind)
	}
}

func unmarshal(frame proto.ServerFrame, v any) error {
	if len(frame.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrMalformedFrame, frame.Event)
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedFrame, frame.Event, err)
	}
	return nil
}

func messageFromWire(data proto.NewMessageData) chat.Message {
	return chat.Message{
		ID:           data.MessageID,
		RoomID:       data.ChatID,
		SenderID:     data.SenderID,
		SenderName:   data.SenderName,
		Content:      data.Content,
		Type:         data.MessageType,
		SentAt:       data.SentAt,
		ClientTempID: data.ClientTempID,
	}
}

func errorEvent(e *proto.Error) chat.Event {
	if e == nil {
		return chat.Event{Kind: chat.EventError, Error: &chat.Error{Code: "unknown", Message: "unknown error"}}
	}
	return chat.Event{Kind: chat.EventError, Error: &chat.Error{
		Code:         e.Code,
		Message:      e.Msg,
		RoomID:       e.ChatID,
		ClientTempID: e.ClientTempID,
	}}
}
