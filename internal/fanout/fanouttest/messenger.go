// Package fanouttest provides an in-memory Messenger for tests.
package fanouttest

import (
	"context"
	"errors"
	"sync"

	"github.com/jcmexdev/order-approvals/internal/domain"
)

var ErrUnreachable = errors.New("recipient unreachable")

// Message is the current state of one sent message.
type Message struct {
	Handle  domain.MessageHandle
	Text    string
	Actions []domain.Action
	Edits   int
}

// Messenger records sends and edits. Recipients listed in FailSend and
// handles in FailEdit return ErrUnreachable.
type Messenger struct {
	mu       sync.Mutex
	nextID   int
	messages map[domain.MessageHandle]*Message
	FailSend map[domain.StaffID]bool
	FailEdit map[domain.StaffID]bool
	// OnSend, when set, runs after a successful send and before returning.
	OnSend func(handle domain.MessageHandle)
}

func NewMessenger() *Messenger {
	return &Messenger{
		messages: make(map[domain.MessageHandle]*Message),
		FailSend: make(map[domain.StaffID]bool),
		FailEdit: make(map[domain.StaffID]bool),
	}
}

func (m *Messenger) SendMessage(_ context.Context, recipient domain.StaffID, text string, actions []domain.Action) (domain.MessageHandle, error) {
	m.mu.Lock()
	if m.FailSend[recipient] {
		m.mu.Unlock()
		return domain.MessageHandle{}, ErrUnreachable
	}
	m.nextID++
	h := domain.MessageHandle{Recipient: recipient, MessageID: m.nextID}
	m.messages[h] = &Message{Handle: h, Text: text, Actions: actions}
	hook := m.OnSend
	m.mu.Unlock()

	if hook != nil {
		hook(h)
	}
	return h, nil
}

func (m *Messenger) EditMessage(_ context.Context, handle domain.MessageHandle, text string, actions []domain.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailEdit[handle.Recipient] {
		return ErrUnreachable
	}
	msg, ok := m.messages[handle]
	if !ok {
		return errors.New("message not found")
	}
	msg.Text = text
	msg.Actions = actions
	msg.Edits++
	return nil
}

// SentTo returns the messages delivered to recipient.
func (m *Messenger) SentTo(recipient domain.StaffID) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for h, msg := range m.messages {
		if h.Recipient == recipient {
			out = append(out, *msg)
		}
	}
	return out
}

// Count returns the number of messages sent.
func (m *Messenger) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// All returns a snapshot of every message.
func (m *Messenger) All() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, 0, len(m.messages))
	for _, msg := range m.messages {
		out = append(out, *msg)
	}
	return out
}
