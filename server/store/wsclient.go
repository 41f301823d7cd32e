package store

import (
	"context"
	"sync"
	"time"

	"github.com/classcall/classcall/server/logger"
	"github.com/juju/errors"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const defaultRequestTimeout = 15 * time.Second

// WSClient is a Store talking to a classcall signaling gateway over a
// websocket connection. Headless peers use it so that only the server
// process needs direct store access.
//
// A single reader goroutine dispatches responses to pending requests and
// subscription events to per-subscription ordered buffers.
type WSClient struct {
	log  logger.Logger
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[string]chan WSResponse
	subs      map[string]*subscription
	closed    bool
	closeOnce sync.Once
}

var _ Store = &WSClient{}

// DialWS connects to a gateway at url (ws:// or wss://, including the /ws
// path).
func DialWS(ctx context.Context, log logger.Logger, url string) (*WSClient, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errors.Annotatef(err, "dial gateway: %s", url)
	}

	clientCtx, cancel := context.WithCancel(context.Background())

	c := &WSClient{
		log:     log.WithNamespaceAppended("store:ws"),
		conn:    conn,
		ctx:     clientCtx,
		cancel:  cancel,
		pending: map[string]chan WSResponse{},
		subs:    map[string]*subscription{},
	}

	go c.readLoop()

	return c, nil
}

func (c *WSClient) readLoop() {
	defer c.teardown()

	for {
		var res WSResponse

		if err := wsjson.Read(c.ctx, c.conn, &res); err != nil {
			if c.ctx.Err() == nil {
				c.log.Error("Gateway read", errors.Trace(err), nil)
			}

			return
		}

		switch res.Type {
		case WSTypeResult:
			c.mu.Lock()
			ch, ok := c.pending[res.RequestID]
			delete(c.pending, res.RequestID)
			c.mu.Unlock()

			if ok {
				ch <- res
			}
		case WSTypeEventCall, WSTypeEventCandidate, WSTypeEventChat:
			c.mu.Lock()
			sub, ok := c.subs[res.SubscriptionID]
			c.mu.Unlock()

			if ok {
				sub.push(res)
			}
		default:
			c.log.Warn("Unknown gateway frame", logger.Ctx{
				"frame_type": res.Type,
			})
		}
	}
}

// teardown fails all pending requests and closes all subscriptions after
// the connection is gone.
func (c *WSClient) teardown() {
	c.cancel()

	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = map[string]chan WSResponse{}
	subs := c.subs
	c.subs = map[string]*subscription{}
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- WSResponse{Error: "connection closed"}
	}

	for _, sub := range subs {
		sub.close()
	}
}

// request sends req and waits for the matching result frame.
func (c *WSClient) request(req WSRequest) (WSResponse, error) {
	ch := make(chan WSResponse, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return WSResponse{}, errors.New("client is closed")
	}

	req.RequestID = newDocumentID()
	c.pending[req.RequestID] = ch
	c.mu.Unlock()

	if err := c.write(req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()

		return WSResponse{}, errors.Trace(err)
	}

	select {
	case res := <-ch:
		if res.Error != "" {
			if res.RoomNotFound {
				return res, errors.Annotate(ErrRoomNotFound, res.Error)
			}

			return res, errors.New(res.Error)
		}

		return res, nil
	case <-c.ctx.Done():
		return WSResponse{}, errors.New("connection closed")
	case <-time.After(defaultRequestTimeout):
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()

		return WSResponse{}, errors.Errorf("request timed out: %s", req.Type)
	}
}

func (c *WSClient) write(req WSRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, defaultRequestTimeout)
	defer cancel()

	return errors.Annotatef(wsjson.Write(ctx, c.conn, req), "write: %s", req.Type)
}

func (c *WSClient) GetCall(roomID RoomID) (CallRecord, error) {
	res, err := c.request(WSRequest{Type: WSTypeGetCall, RoomID: roomID})
	if err != nil {
		return CallRecord{}, errors.Trace(err)
	}

	if res.Call == nil {
		return CallRecord{}, errors.Annotatef(ErrRoomNotFound, "get call: %s", roomID)
	}

	return *res.Call, nil
}

func (c *WSClient) SetCall(roomID RoomID, fields CallFields) error {
	_, err := c.request(WSRequest{Type: WSTypeSetCall, RoomID: roomID, Fields: &fields})

	return errors.Trace(err)
}

func (c *WSClient) AddCandidate(
	roomID RoomID, role Role, candidate Candidate,
) (string, error) {
	res, err := c.request(WSRequest{
		Type:      WSTypeAddCandidate,
		RoomID:    roomID,
		Role:      role,
		Candidate: &candidate,
	})

	return res.ID, errors.Trace(err)
}

func (c *WSClient) GetCandidates(roomID RoomID, role Role) ([]Candidate, error) {
	res, err := c.request(WSRequest{Type: WSTypeGetCandidates, RoomID: roomID, Role: role})

	return res.Candidates, errors.Trace(err)
}

func (c *WSClient) ClearCandidates(roomID RoomID, role Role) error {
	_, err := c.request(WSRequest{Type: WSTypeClearCandidates, RoomID: roomID, Role: role})

	return errors.Trace(err)
}

func (c *WSClient) AddChatMessage(roomID RoomID, message ChatMessage) (string, error) {
	res, err := c.request(WSRequest{Type: WSTypeAddChat, RoomID: roomID, Message: &message})

	return res.ID, errors.Trace(err)
}

func (c *WSClient) GetChatMessages(roomID RoomID) ([]ChatMessage, error) {
	res, err := c.request(WSRequest{Type: WSTypeGetChat, RoomID: roomID})

	return res.Messages, errors.Trace(err)
}

func (c *WSClient) SubscribeCall(
	ctx context.Context, roomID RoomID,
) (<-chan CallRecord, func(), error) {
	out := make(chan CallRecord)

	unsubscribe, err := c.subscribe(ctx, WSRequest{
		Type:   WSTypeSubscribeCall,
		RoomID: roomID,
	}, func(res WSResponse, done <-chan struct{}) bool {
		if res.Call == nil {
			return true
		}

		select {
		case out <- *res.Call:
			return true
		case <-done:
			return false
		}
	}, func() {
		close(out)
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}

	return out, unsubscribe, nil
}

func (c *WSClient) SubscribeCandidates(
	ctx context.Context, roomID RoomID, role Role,
) (<-chan Candidate, func(), error) {
	out := make(chan Candidate)

	unsubscribe, err := c.subscribe(ctx, WSRequest{
		Type:   WSTypeSubscribeCandidates,
		RoomID: roomID,
		Role:   role,
	}, func(res WSResponse, done <-chan struct{}) bool {
		if res.Candidate == nil {
			return true
		}

		select {
		case out <- *res.Candidate:
			return true
		case <-done:
			return false
		}
	}, func() {
		close(out)
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}

	return out, unsubscribe, nil
}

func (c *WSClient) SubscribeChat(
	ctx context.Context, roomID RoomID,
) (<-chan []ChatMessage, func(), error) {
	out := make(chan []ChatMessage)

	unsubscribe, err := c.subscribe(ctx, WSRequest{
		Type:   WSTypeSubscribeChat,
		RoomID: roomID,
	}, func(res WSResponse, done <-chan struct{}) bool {
		if res.Messages == nil {
			return true
		}

		select {
		case out <- res.Messages:
			return true
		case <-done:
			return false
		}
	}, func() {
		close(out)
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}

	return out, unsubscribe, nil
}

func (c *WSClient) subscribe(
	ctx context.Context,
	req WSRequest,
	handle func(res WSResponse, done <-chan struct{}) bool,
	closed func(),
) (func(), error) {
	res, err := c.request(req)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if res.SubscriptionID == "" {
		return nil, errors.Errorf("gateway returned no subscription id for: %s", req.Type)
	}

	sub := newSubscription()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil, errors.New("client is closed")
	}
	c.subs[res.SubscriptionID] = sub
	c.mu.Unlock()

	go func() {
		defer closed()

		sub.loop(func(event interface{}) bool {
			return handle(event.(WSResponse), sub.done)
		})
	}()

	go func() {
		select {
		case <-ctx.Done():
			sub.close()
		case <-sub.done:
		}
	}()

	unsubscribe := func() {
		sub.close()

		c.mu.Lock()
		_, ok := c.subs[res.SubscriptionID]
		delete(c.subs, res.SubscriptionID)
		closed := c.closed
		c.mu.Unlock()

		if ok && !closed {
			_ = c.write(WSRequest{
				Type:           WSTypeUnsubscribe,
				SubscriptionID: res.SubscriptionID,
			})
		}
	}

	return unsubscribe, nil
}

// Close tears down the connection, failing pending requests and closing
// all subscription channels.
func (c *WSClient) Close() error {
	var err error

	c.closeOnce.Do(func() {
		err = c.conn.Close(websocket.StatusNormalClosure, "bye")
		c.cancel()
	})

	return errors.Trace(err)
}
