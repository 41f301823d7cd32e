package store

import (
	"context"
	"sort"
	"sync"

	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/logger"
	"github.com/juju/errors"
	"github.com/pion/randutil"
)

const (
	documentIDLength = 20
	documentIDRunes  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// nolint:gochecknoglobals
var mathRand = randutil.NewMathRandomGenerator()

func newDocumentID() string {
	return mathRand.GenerateString(documentIDLength, documentIDRunes)
}

// MemoryStore is an in-process Store. It backs single-node deployments and
// tests; multi-node deployments use RedisStore.
type MemoryStore struct {
	log logger.Logger
	clk clock.Clock

	mu     sync.Mutex
	rooms  map[RoomID]*memoryRoom
	closed bool
}

type memoryRoom struct {
	record     CallRecord
	hasRecord  bool
	candidates map[Role][]Candidate
	chat       []ChatMessage

	callSubs map[*subscription]struct{}
	candSubs map[Role]map[*subscription]struct{}
	chatSubs map[*subscription]struct{}
}

var _ Store = &MemoryStore{}

func NewMemoryStore(log logger.Logger, clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		log:   log.WithNamespaceAppended("store:memory"),
		clk:   clk,
		rooms: map[RoomID]*memoryRoom{},
	}
}

func newMemoryRoom() *memoryRoom {
	return &memoryRoom{
		candidates: map[Role][]Candidate{},
		callSubs:   map[*subscription]struct{}{},
		candSubs: map[Role]map[*subscription]struct{}{
			RoleTutor:   {},
			RoleStudent: {},
		},
		chatSubs: map[*subscription]struct{}{},
	}
}

func (s *MemoryStore) room(roomID RoomID) *memoryRoom {
	room, ok := s.rooms[roomID]
	if !ok {
		room = newMemoryRoom()
		s.rooms[roomID] = room
	}

	return room
}

func (s *MemoryStore) GetCall(roomID RoomID) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok || !room.hasRecord {
		return CallRecord{}, errors.Annotatef(ErrRoomNotFound, "get call: %s", roomID)
	}

	return room.record, nil
}

func (s *MemoryStore) SetCall(roomID RoomID, fields CallFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()

	room := s.room(roomID)
	if !room.hasRecord {
		room.hasRecord = true
		room.record.CreatedAt = now
	}

	fields.Apply(&room.record, now)

	record := room.record

	for sub := range room.callSubs {
		sub.push(record)
	}

	return nil
}

func (s *MemoryStore) SubscribeCall(
	ctx context.Context, roomID RoomID,
) (<-chan CallRecord, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, errors.New("store is closed")
	}

	room := s.room(roomID)

	sub := newSubscription()
	room.callSubs[sub] = struct{}{}

	// The subscription starts with the current state, like a snapshot
	// listener. A joiner that subscribes after the offer was published would
	// otherwise wait forever.
	if room.hasRecord {
		sub.push(room.record)
	}

	out := make(chan CallRecord)

	go func() {
		defer close(out)

		sub.loop(func(event interface{}) bool {
			select {
			case out <- event.(CallRecord):
				return true
			case <-sub.done:
				return false
			}
		})
	}()

	unsubscribe := s.unsubscriber(ctx, sub, func() {
		delete(room.callSubs, sub)
	})

	return out, unsubscribe, nil
}

func (s *MemoryStore) AddCandidate(
	roomID RoomID, role Role, candidate Candidate,
) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if candidate.ID == "" {
		candidate.ID = newDocumentID()
	}

	room := s.room(roomID)
	room.candidates[role] = append(room.candidates[role], candidate)

	for sub := range room.candSubs[role] {
		sub.push(candidate)
	}

	return candidate.ID, nil
}

func (s *MemoryStore) GetCandidates(roomID RoomID, role Role) ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}

	return append([]Candidate(nil), room.candidates[role]...), nil
}

func (s *MemoryStore) SubscribeCandidates(
	ctx context.Context, roomID RoomID, role Role,
) (<-chan Candidate, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, errors.New("store is closed")
	}

	room := s.room(roomID)

	sub := newSubscription()
	room.candSubs[role][sub] = struct{}{}

	out := make(chan Candidate)

	go func() {
		defer close(out)

		sub.loop(func(event interface{}) bool {
			select {
			case out <- event.(Candidate):
				return true
			case <-sub.done:
				return false
			}
		})
	}()

	unsubscribe := s.unsubscriber(ctx, sub, func() {
		delete(room.candSubs[role], sub)
	})

	return out, unsubscribe, nil
}

func (s *MemoryStore) ClearCandidates(roomID RoomID, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}

	room.candidates[role] = nil

	return nil
}

func (s *MemoryStore) AddChatMessage(roomID RoomID, message ChatMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if message.ID == "" {
		message.ID = newDocumentID()
	}

	message.Timestamp = s.clk.Now()

	room := s.room(roomID)
	room.chat = append(room.chat, message)

	history := sortChatMessages(room.chat)

	for sub := range room.chatSubs {
		sub.push(history)
	}

	return message.ID, nil
}

func (s *MemoryStore) GetChatMessages(roomID RoomID) ([]ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}

	return sortChatMessages(room.chat), nil
}

func (s *MemoryStore) SubscribeChat(
	ctx context.Context, roomID RoomID,
) (<-chan []ChatMessage, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, errors.New("store is closed")
	}

	room := s.room(roomID)

	sub := newSubscription()
	room.chatSubs[sub] = struct{}{}

	if len(room.chat) > 0 {
		sub.push(sortChatMessages(room.chat))
	}

	out := make(chan []ChatMessage)

	go func() {
		defer close(out)

		sub.loop(func(event interface{}) bool {
			select {
			case out <- event.([]ChatMessage):
				return true
			case <-sub.done:
				return false
			}
		})
	}()

	unsubscribe := s.unsubscriber(ctx, sub, func() {
		delete(room.chatSubs, sub)
	})

	return out, unsubscribe, nil
}

// sortChatMessages returns a copy ordered by timestamp. Write order is not
// authoritative: two peers may append concurrently.
func sortChatMessages(messages []ChatMessage) []ChatMessage {
	sorted := append([]ChatMessage(nil), messages...)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	return sorted
}

// unsubscriber closes sub and removes it from its registry, either when the
// returned function is called or when ctx is canceled. Safe to call
// multiple times.
func (s *MemoryStore) unsubscriber(
	ctx context.Context, sub *subscription, remove func(),
) func() {
	go func() {
		select {
		case <-ctx.Done():
			sub.close()
		case <-sub.done:
		}
	}()

	return func() {
		sub.close()

		s.mu.Lock()
		remove()
		s.mu.Unlock()
	}
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	for _, room := range s.rooms {
		for sub := range room.callSubs {
			sub.close()
		}

		for sub := range room.chatSubs {
			sub.close()
		}

		for _, subs := range room.candSubs {
			for sub := range subs {
				sub.close()
			}
		}
	}

	return nil
}
