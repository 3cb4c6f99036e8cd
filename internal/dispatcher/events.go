package dispatcher

// Event is an inbound session event. The set of implementations is closed.
type Event interface {
	SenderID() string
	event()
}

// StartSession opens a conversation with Sender
type StartSession struct {
	Sender string
}

// Text is one message typed by Sender
type Text struct {
	Sender string
	Body   string
}

// EndSession closes the conversation with Sender
type EndSession struct {
	Sender string
}

func (e StartSession) SenderID() string { return e.Sender }
func (e Text) SenderID() string         { return e.Sender }
func (e EndSession) SenderID() string   { return e.Sender }

func (StartSession) event() {}
func (Text) event()         {}
func (EndSession) event()   {}
