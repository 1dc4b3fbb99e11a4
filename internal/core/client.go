package core

// Client is one authenticated connection as seen by the hub. A user may hold
// several clients at once.
type Client struct {
	ID       string
	UserID   string
	Name     string
	Commands chan *Command
	Events   chan *Event

	// rooms and done are owned by the hub goroutine.
	rooms map[string]struct{}
	done  chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id, userID, name string, buffer int) *Client {
	if name == "" {
		name = userID
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:       id,
		UserID:   userID,
		Name:     name,
		Commands: make(chan *Command, buffer),
		Events:   make(chan *Event, buffer),
		rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// send delivers an event without blocking; slow consumers lose events.
func (c *Client) send(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

// Done is closed once the hub has released the client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
