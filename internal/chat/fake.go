package chat

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Fake is an in-memory Transport and Authorizer that records what it is
// asked to do.
type Fake struct {
	mu         sync.Mutex
	chats      map[string]string
	privileged map[string]bool
	blocked    map[string]bool
	nextID     int

	Messages  []FakeMessage
	Reactions []FakeReaction

	// SendErr and ReactErr, when set, fail the corresponding calls.
	SendErr  error
	ReactErr error
}

// FakeMessage is a message recorded by Fake.
type FakeMessage struct {
	ChatID    string
	MessageID string
	Message
}

// FakeReaction is a reaction recorded by Fake.
type FakeReaction struct {
	MessageID string
	Symbol    string
}

// NewFake returns a Fake that knows the given chat ids.
func NewFake(chatIDs ...string) *Fake {
	f := &Fake{chats: make(map[string]string), privileged: make(map[string]bool), blocked: make(map[string]bool)}
	for _, id := range chatIDs {
		f.chats[id] = "chat " + id
	}
	return f
}

// Grant marks userID as privileged everywhere.
func (f *Fake) Grant(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.privileged[userID] = true
}

// Block makes every send to chatID fail, as when a user has blocked the
// bot.
func (f *Fake) Block(chatID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[chatID] = true
}

func (f *Fake) Resolve(ctx context.Context, id string) (Destination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	title, ok := f.chats[id]
	if !ok {
		return Destination{}, fmt.Errorf("%w: %s", ErrDestinationNotFound, id)
	}
	return Destination{ID: id, Title: title}, nil
}

func (f *Fake) Send(ctx context.Context, dest Destination, msg Message) (Sent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return Sent{}, f.SendErr
	}
	if f.blocked[dest.ID] {
		return Sent{}, fmt.Errorf("send to %s: bot was blocked by the user", dest.ID)
	}
	f.nextID++
	id := strconv.Itoa(f.nextID)
	f.Messages = append(f.Messages, FakeMessage{ChatID: dest.ID, MessageID: id, Message: msg})
	return Sent{ChatID: dest.ID, MessageID: id}, nil
}

func (f *Fake) React(ctx context.Context, sent Sent, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReactErr != nil {
		return f.ReactErr
	}
	f.Reactions = append(f.Reactions, FakeReaction{MessageID: sent.MessageID, Symbol: symbol})
	return nil
}

func (f *Fake) IsPrivileged(ctx context.Context, chatID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.privileged[userID], nil
}

// Outbox returns a copy of the recorded messages.
func (f *Fake) Outbox() []FakeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeMessage(nil), f.Messages...)
}
