package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/classcall/classcall/server/logger"
	"github.com/classcall/classcall/server/multierr"
	"github.com/classcall/classcall/server/store"
	"github.com/classcall/classcall/server/uuid"
	"github.com/juju/errors"
	"github.com/oxtoacart/bpool"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	defaultBufferPoolSize = 128
	gatewayWriteTimeout   = 15 * time.Second
)

// Gateway exposes the signaling store over websocket connections. Each
// connection speaks the request/response protocol from the store package,
// so a remote peer using store.WSClient sees the same contract as a local
// store.
type Gateway struct {
	log     logger.Logger
	store   store.Store
	bufPool *bpool.BufferPool
}

func NewGateway(log logger.Logger, st store.Store) *Gateway {
	return &Gateway{
		log:     log.WithNamespaceAppended("gateway"),
		store:   st,
		bufPool: bpool.NewBufferPool(defaultBufferPoolSize),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		prometheusGatewayConnErrTotal.Inc()
		g.log.Error("Accept websocket connection", errors.Trace(err), nil)

		return
	}

	prometheusGatewayConnTotal.Inc()
	prometheusGatewayConnActive.Inc()

	defer prometheusGatewayConnActive.Dec()

	c := &gatewayConn{
		log:     g.log,
		store:   g.store,
		conn:    conn,
		bufPool: g.bufPool,
		subs:    map[string]func(){},
	}

	c.run(r.Context())

	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// gatewayConn serves a single websocket connection. Writes are serialized
// by writeMu because event pumps and request handling write concurrently.
type gatewayConn struct {
	log     logger.Logger
	store   store.Store
	conn    *websocket.Conn
	bufPool *bpool.BufferPool

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]func()
	wg   sync.WaitGroup
}

func (c *gatewayConn) run(parent context.Context) {
	c.ctx, c.cancel = context.WithCancel(parent)

	defer c.teardown()

	for {
		var req store.WSRequest

		if err := wsjson.Read(c.ctx, c.conn, &req); err != nil {
			if c.ctx.Err() == nil {
				c.log.Debug("Gateway connection read ended", logger.Ctx{
					"error": err,
				})
			}

			return
		}

		prometheusGatewayRequestTotal.WithLabelValues(req.Type).Inc()

		c.handle(req)
	}
}

// teardown closes every store subscription and waits for the event pumps
// to drain before the connection is released.
func (c *gatewayConn) teardown() {
	c.cancel()

	c.mu.Lock()
	subs := c.subs
	c.subs = map[string]func(){}
	c.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}

	c.wg.Wait()
}

func (c *gatewayConn) handle(req store.WSRequest) {
	res := store.WSResponse{
		Type:      store.WSTypeResult,
		RequestID: req.RequestID,
	}

	var err error

	switch req.Type {
	case store.WSTypeGetCall:
		var record store.CallRecord

		if record, err = c.store.GetCall(req.RoomID); err == nil {
			res.Call = &record
		}
	case store.WSTypeSetCall:
		if req.Fields == nil {
			err = errors.New("missing fields")
		} else {
			err = c.store.SetCall(req.RoomID, *req.Fields)
		}
	case store.WSTypeAddCandidate:
		if req.Candidate == nil {
			err = errors.New("missing candidate")
		} else {
			res.ID, err = c.store.AddCandidate(req.RoomID, req.Role, *req.Candidate)
		}
	case store.WSTypeGetCandidates:
		res.Candidates, err = c.store.GetCandidates(req.RoomID, req.Role)
	case store.WSTypeClearCandidates:
		err = c.store.ClearCandidates(req.RoomID, req.Role)
	case store.WSTypeAddChat:
		if req.Message == nil {
			err = errors.New("missing message")
		} else {
			res.ID, err = c.store.AddChatMessage(req.RoomID, *req.Message)
		}
	case store.WSTypeGetChat:
		res.Messages, err = c.store.GetChatMessages(req.RoomID)
	case store.WSTypeSubscribeCall:
		res.SubscriptionID, err = c.subscribeCall(req.RoomID)
	case store.WSTypeSubscribeCandidates:
		res.SubscriptionID, err = c.subscribeCandidates(req.RoomID, req.Role)
	case store.WSTypeSubscribeChat:
		res.SubscriptionID, err = c.subscribeChat(req.RoomID)
	case store.WSTypeUnsubscribe:
		c.unsubscribe(req.SubscriptionID)

		return
	default:
		err = errors.Errorf("unknown request type: %s", req.Type)
	}

	if err != nil {
		res.Error = err.Error()
		res.RoomNotFound = multierr.Is(err, store.ErrRoomNotFound)
	}

	c.write(res)
}

func (c *gatewayConn) subscribeCall(roomID store.RoomID) (string, error) {
	ch, unsubscribe, err := c.store.SubscribeCall(c.ctx, roomID)
	if err != nil {
		return "", errors.Trace(err)
	}

	subID := c.register(unsubscribe)

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		for record := range ch {
			record := record

			c.write(store.WSResponse{
				Type:           store.WSTypeEventCall,
				SubscriptionID: subID,
				Call:           &record,
			})
		}
	}()

	return subID, nil
}

func (c *gatewayConn) subscribeCandidates(
	roomID store.RoomID, role store.Role,
) (string, error) {
	ch, unsubscribe, err := c.store.SubscribeCandidates(c.ctx, roomID, role)
	if err != nil {
		return "", errors.Trace(err)
	}

	subID := c.register(unsubscribe)

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		for candidate := range ch {
			candidate := candidate

			c.write(store.WSResponse{
				Type:           store.WSTypeEventCandidate,
				SubscriptionID: subID,
				Candidate:      &candidate,
			})
		}
	}()

	return subID, nil
}

func (c *gatewayConn) subscribeChat(roomID store.RoomID) (string, error) {
	ch, unsubscribe, err := c.store.SubscribeChat(c.ctx, roomID)
	if err != nil {
		return "", errors.Trace(err)
	}

	subID := c.register(unsubscribe)

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		for messages := range ch {
			c.write(store.WSResponse{
				Type:           store.WSTypeEventChat,
				SubscriptionID: subID,
				Messages:       messages,
			})
		}
	}()

	return subID, nil
}

func (c *gatewayConn) register(unsubscribe func()) string {
	subID := uuid.New()

	c.mu.Lock()
	c.subs[subID] = unsubscribe
	c.mu.Unlock()

	return subID
}

func (c *gatewayConn) unsubscribe(subID string) {
	c.mu.Lock()
	unsubscribe, ok := c.subs[subID]
	delete(c.subs, subID)
	c.mu.Unlock()

	if ok {
		unsubscribe()
	}
}

func (c *gatewayConn) write(res store.WSResponse) {
	buf := c.bufPool.Get()
	defer c.bufPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(res); err != nil {
		c.log.Error("Encode gateway frame", errors.Trace(err), logger.Ctx{
			"frame_type": res.Type,
		})

		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, gatewayWriteTimeout)
	defer cancel()

	if err := c.conn.Write(ctx, websocket.MessageText, buf.Bytes()); err != nil {
		if c.ctx.Err() == nil {
			c.log.Debug("Gateway connection write ended", logger.Ctx{
				"error": err,
			})
		}
	}
}
