package email

import "context"

// Message is a single HTML email.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, message Message) error
}
