// Package channel defines the inbound/outbound message envelope shared by
// every channel adapter (Lark, Matrix, Webhook) and the Channel interface
// those adapters implement.
package channel

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message is the inbound envelope a channel adapter produces for downstream
// consumers. Rich content types are flattened to plain text before an
// adapter emits one of these.
type Message struct {
	ID          string
	Sender      string
	ReplyTarget string
	Content     string
	Channel     string
	Timestamp   int64
	ThreadTS    string
}

// NewMessage fills in ID and Timestamp and returns the envelope.
func NewMessage(sender, replyTarget, content, channelKind string) Message {
	return Message{
		ID:          uuid.NewString(),
		Sender:      sender,
		ReplyTarget: replyTarget,
		Content:     content,
		Channel:     channelKind,
		Timestamp:   time.Now().Unix(),
	}
}

// SendMessage is the outbound envelope a channel's Send accepts.
type SendMessage struct {
	Recipient string
	Content   string
	ThreadTS  string
}

// Channel is the interface every inbound/outbound adapter implements. An
// adapter owns its own message queue; Start only ever holds the send side
// of it, so the adapter and its consumer cannot deadlock on each other.
type Channel interface {
	// Name identifies the channel kind for logs and the Message.Channel tag.
	Name() string

	// Start begins receiving messages and pushes each one onto out. Start
	// blocks until ctx is cancelled or the adapter gives up (e.g. the
	// downstream consumer stops draining out and a send fails).
	Start(ctx context.Context, out chan<- Message) error

	// Send delivers an outbound message, retrying on transient
	// authentication failures where the adapter's wire protocol supports it.
	Send(ctx context.Context, msg SendMessage) error

	// Stop halts Start's receive loop and releases any held connection.
	Stop()
}
