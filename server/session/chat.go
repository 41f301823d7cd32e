package session

import (
	"context"

	"github.com/classcall/classcall/server/logger"
	"github.com/classcall/classcall/server/store"
	"github.com/juju/errors"
)

// ErrChatUnavailable means the chat cannot accept messages right now: the
// peer is offline or the call is not connected.
var ErrChatUnavailable = errors.New("chat unavailable")

// Chat is the text channel of one session. It is append-only and ordered by
// the store's timestamps, so both peers converge on the same history even
// when messages arrive out of order.
type Chat struct {
	log       logger.Logger
	store     store.Store
	roomID    store.RoomID
	role      store.Role
	available func() bool
}

func newChat(
	log logger.Logger,
	st store.Store,
	roomID store.RoomID,
	role store.Role,
	available func() bool,
) *Chat {
	return &Chat{
		log:       log.WithNamespaceAppended("chat"),
		store:     st,
		roomID:    roomID,
		role:      role,
		available: available,
	}
}

// Send appends a message tagged with this role's display name. The store
// stamps the timestamp.
func (c *Chat) Send(text string) error {
	if !c.available() {
		return errors.Trace(ErrChatUnavailable)
	}

	_, err := c.store.AddChatMessage(c.roomID, store.ChatMessage{
		Text:   text,
		Sender: c.role.Label(),
	})
	if err != nil {
		return errors.Annotate(err, "send chat message")
	}

	prometheusChatMessageTotal.Inc()

	return nil
}

// Messages returns the history sorted by timestamp.
func (c *Chat) Messages() ([]store.ChatMessage, error) {
	messages, err := c.store.GetChatMessages(c.roomID)

	return messages, errors.Trace(err)
}

// Subscribe delivers the full re-sorted history on every append.
func (c *Chat) Subscribe(ctx context.Context) (<-chan []store.ChatMessage, func(), error) {
	messages, unsubscribe, err := c.store.SubscribeChat(ctx, c.roomID)

	return messages, unsubscribe, errors.Trace(err)
}
