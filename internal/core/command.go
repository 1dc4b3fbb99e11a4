package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinChat subscribes the client to a chat.
	CommandJoinChat CommandKind = iota
	// CommandLeaveChat unsubscribes the client from a chat.
	CommandLeaveChat
	// CommandSendMessage delivers a chat message to chat participants.
	CommandSendMessage
	// CommandTypingStart announces that the user started typing.
	CommandTypingStart
	// CommandTypingStop announces that the user stopped typing.
	CommandTypingStop
	// CommandMarkRead marks the chat read up to its latest message.
	CommandMarkRead
)

// Command represents an action requested by a client.
type Command struct {
	Kind    CommandKind
	Chat    string
	Message Message
}
