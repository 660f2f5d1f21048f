package core

// Client is one live relay connection as seen by the core layer.
type Client struct {
	ID string
	// Subject, when set, is the only participant id this connection may join as.
	Subject  string
	Commands chan *Command
	Events   chan *Event

	// owned by the hub goroutine
	done     chan struct{}
	detached bool
}

// NewClient constructs a client with initialized channels.
func NewClient(id string) *Client {
	return &Client{
		ID:       id,
		Commands: make(chan *Command, 16),
		Events:   make(chan *Event, 64),
		done:     make(chan struct{}),
	}
}
