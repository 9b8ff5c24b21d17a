package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MatrixConfig holds the Matrix connection parameters for the channel.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	Rooms       []string
}

// Matrix is a secondary Channel implementation: it joins the configured
// rooms and turns every non-own message event into a Message. It is kept
// deliberately thin relative to the Lark adapter.
type Matrix struct {
	cfg    MatrixConfig
	mxc    *mautrix.Client
	stopCh chan struct{}
}

// NewMatrix creates a Matrix channel but does not start syncing yet.
func NewMatrix(cfg MatrixConfig) (*Matrix, error) {
	mxc, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	return &Matrix{cfg: cfg, mxc: mxc, stopCh: make(chan struct{})}, nil
}

// Name implements Channel.
func (m *Matrix) Name() string { return "matrix" }

// Start joins the configured rooms and begins the sync loop, emitting a
// Message for every text message received. The sync loop reconnects with
// exponential backoff on errors.
func (m *Matrix) Start(ctx context.Context, out chan<- Message) error {
	slog.Warn("matrix channel: E2EE is not enabled; messages are in plaintext")

	syncer := m.mxc.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		if evt.Sender == id.UserID(m.cfg.UserID) {
			return
		}
		content, ok := evt.Content.Parsed.(*event.MessageEventContent)
		if !ok || content.Body == "" {
			return
		}
		msg := NewMessage(string(evt.Sender), string(evt.RoomID), content.Body, m.Name())
		msg.ThreadTS = string(evt.ID)
		select {
		case out <- msg:
		case <-ctx.Done():
		}
	})

	for _, room := range m.cfg.Rooms {
		if err := m.join(id.RoomID(room)); err != nil {
			slog.Warn("matrix channel: could not join room", "room", room, "err", err)
		}
	}

	go func() {
		const backoffMax = 5 * time.Minute
		backoff := 2 * time.Second
		for {
			if err := m.mxc.Sync(); err != nil {
				select {
				case <-m.stopCh:
					return
				default:
				}
				slog.Error("matrix channel: sync error; reconnecting", "err", err, "backoff", backoff)
				select {
				case <-m.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			select {
			case <-m.stopCh:
				return
			default:
				backoff = 2 * time.Second
			}
		}
	}()

	<-ctx.Done()
	m.Stop()
	return ctx.Err()
}

// Stop halts the sync loop.
func (m *Matrix) Stop() {
	select {
	case <-m.stopCh:
		return
	default:
		close(m.stopCh)
	}
	m.mxc.StopSync()
}

// Send delivers a plain-text message, replying to ThreadTS when set.
func (m *Matrix) Send(ctx context.Context, msg SendMessage) error {
	if msg.ThreadTS != "" {
		content := event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    msg.Content,
			RelatesTo: &event.RelatesTo{
				InReplyTo: &event.InReplyTo{EventID: id.EventID(msg.ThreadTS)},
			},
		}
		_, err := m.mxc.SendMessageEvent(ctx, id.RoomID(msg.Recipient), event.EventMessage, content)
		return err
	}
	_, err := m.mxc.SendText(ctx, id.RoomID(msg.Recipient), msg.Content)
	return err
}

// join joins a room. Any join error (including "already joined") is logged
// and nil is returned.
func (m *Matrix) join(roomID id.RoomID) error {
	_, err := m.mxc.JoinRoomByID(context.Background(), roomID)
	if err != nil {
		slog.Info("matrix channel: join room result", "room", roomID, "err", err)
	}
	return nil
}
