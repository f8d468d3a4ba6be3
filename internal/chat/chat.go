// Package chat defines the messaging-platform boundary: resolving
// destinations, sending messages, reacting, and the inbound events the
// bot listens to. Package telegram provides the production transport.
package chat

import (
	"context"
	"errors"
)

// ErrDestinationNotFound is returned when a destination id does not
// resolve to a chat the bot can post to.
var ErrDestinationNotFound = errors.New("destination not found")

// Destination is a resolved chat.
type Destination struct {
	ID    string
	Title string
}

// Attachment is a file sent alongside a message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is an outbound message. ReplyTo, when set, is the id of the
// message being answered.
type Message struct {
	Text       string
	Attachment *Attachment
	ReplyTo    string
}

// Sent identifies a delivered message.
type Sent struct {
	ChatID    string
	MessageID string
}

// Transport delivers messages to the chat platform.
type Transport interface {
	Resolve(ctx context.Context, id string) (Destination, error)
	Send(ctx context.Context, dest Destination, msg Message) (Sent, error)
	React(ctx context.Context, sent Sent, symbol string) error
}

// Authorizer decides whether a user holds the privileged role in a chat.
type Authorizer interface {
	IsPrivileged(ctx context.Context, chatID, userID string) (bool, error)
}

// EventKind distinguishes plain messages from commands.
type EventKind int

const (
	EventMessage EventKind = iota
	EventCommand
)

// User is the author of an event.
type User struct {
	ID    string
	Name  string
	IsBot bool
}

// Event is an inbound message.
type Event struct {
	Kind      EventKind
	ChatID    string
	MessageID string
	From      User
	Text      string
	Command   string
	Args      string
	// ReplyTo is the author of the message this one answers, if any.
	ReplyTo *User
}

// Handler consumes inbound events.
type Handler func(ctx context.Context, ev Event)

// Source delivers inbound events until ctx is done or the connection
// fails.
type Source interface {
	Listen(ctx context.Context, handle Handler) error
}
