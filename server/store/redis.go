package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/logger"
	"github.com/go-redis/redis/v7"
	"github.com/juju/errors"
)

const defaultSubscriptionChannelSize = 100

// Event types published on a room's notification channel.
const (
	redisEventCall      = "call"
	redisEventCandidate = "candidate"
	redisEventChat      = "chat"
)

type redisEvent struct {
	Type    string          `json:"type"`
	Role    Role            `json:"role,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// RedisStore is a Store backed by Redis, for deployments where peers may
// connect to different classcall instances. The call record is a hash with
// one entry per field so that concurrent merge-writes from the two roles
// never clobber each other; candidates and chat are lists; mutations are
// announced on one pub/sub channel per room.
//
// Two clients are used, one for commands and one for subscriptions, since a
// subscribed connection cannot issue regular commands.
type RedisStore struct {
	log logger.Logger
	clk clock.Clock

	pubRedis *redis.Client
	subRedis *redis.Client
	prefix   string
}

var _ Store = &RedisStore{}

func NewRedisStore(
	log logger.Logger,
	clk clock.Clock,
	pubRedis *redis.Client,
	subRedis *redis.Client,
	prefix string,
) *RedisStore {
	return &RedisStore{
		log:      log.WithNamespaceAppended("store:redis"),
		clk:      clk,
		pubRedis: pubRedis,
		subRedis: subRedis,
		prefix:   prefix,
	}
}

func (s *RedisStore) callKey(roomID RoomID) string {
	return s.prefix + ":room:" + roomID.String() + ":call"
}

func (s *RedisStore) candidatesKey(roomID RoomID, role Role) string {
	return s.prefix + ":room:" + roomID.String() + ":candidates:" + string(role)
}

func (s *RedisStore) chatKey(roomID RoomID) string {
	return s.prefix + ":room:" + roomID.String() + ":chat"
}

func (s *RedisStore) eventsChannel(roomID RoomID) string {
	return s.prefix + ":room:" + roomID.String() + ":events"
}

func (s *RedisStore) GetCall(roomID RoomID) (CallRecord, error) {
	values, err := s.pubRedis.HGetAll(s.callKey(roomID)).Result()
	if err != nil {
		return CallRecord{}, errors.Annotatef(err, "get call: %s", roomID)
	}

	if len(values) == 0 {
		return CallRecord{}, errors.Annotatef(ErrRoomNotFound, "get call: %s", roomID)
	}

	record, err := callRecordFromHash(values)

	return record, errors.Annotatef(err, "get call: %s", roomID)
}

func (s *RedisStore) SetCall(roomID RoomID, fields CallFields) error {
	key := s.callKey(roomID)
	now := s.clk.Now()

	set := map[string]interface{}{}
	var del []string

	if fields.ClearOffer {
		del = append(del, "offer")
	} else if fields.Offer != nil {
		set["offer"] = encodeJSON(fields.Offer)
	}

	if fields.ClearAnswer {
		del = append(del, "answer")
	} else if fields.Answer != nil {
		set["answer"] = encodeJSON(fields.Answer)
	}

	if fields.Ended != nil {
		set["ended"] = strconv.FormatBool(*fields.Ended)
	}

	if fields.TutorOnline != nil {
		set["tutorOnline"] = strconv.FormatBool(*fields.TutorOnline)
	}

	if fields.TutorID != nil {
		set["tutorId"] = *fields.TutorID
	}

	if fields.TutorName != nil {
		set["tutorName"] = *fields.TutorName
	}

	if fields.StudentID != nil {
		set["studentId"] = *fields.StudentID
	}

	if fields.StudentName != nil {
		set["studentName"] = *fields.StudentName
	}

	if fields.TouchLastLeft {
		set["lastLeftAt"] = now.Format(time.RFC3339Nano)
	}

	if err := s.pubRedis.HSetNX(key, "createdAt", now.Format(time.RFC3339Nano)).Err(); err != nil {
		return errors.Annotatef(err, "set call: %s", roomID)
	}

	if len(set) > 0 {
		if err := s.pubRedis.HSet(key, set).Err(); err != nil {
			return errors.Annotatef(err, "set call: %s", roomID)
		}
	}

	if len(del) > 0 {
		if err := s.pubRedis.HDel(key, del...).Err(); err != nil {
			return errors.Annotatef(err, "set call: %s", roomID)
		}
	}

	record, err := s.GetCall(roomID)
	if err != nil {
		return errors.Trace(err)
	}

	err = s.publish(roomID, redisEvent{
		Type:    redisEventCall,
		Payload: encodeJSONRaw(record),
	})

	return errors.Annotatef(err, "set call: %s", roomID)
}

func (s *RedisStore) SubscribeCall(
	ctx context.Context, roomID RoomID,
) (<-chan CallRecord, func(), error) {
	out := make(chan CallRecord)

	unsubscribe, err := s.subscribe(ctx, roomID, func(event redisEvent, done <-chan struct{}) bool {
		if event.Type != redisEventCall {
			return true
		}

		var record CallRecord
		if err := json.Unmarshal(event.Payload, &record); err != nil {
			s.log.Error("Decode call record", errors.Trace(err), logger.Ctx{
				"room_id": roomID,
			})

			return true
		}

		select {
		case out <- record:
			return true
		case <-done:
			return false
		}
	}, func() {
		close(out)
	}, func(sub *subscription) {
		// Initial snapshot, delivered through the queue so ordering with
		// subsequent events is preserved.
		if record, err := s.GetCall(roomID); err == nil {
			sub.push(redisEvent{Type: redisEventCall, Payload: encodeJSONRaw(record)})
		}
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}

	return out, unsubscribe, nil
}

func (s *RedisStore) AddCandidate(
	roomID RoomID, role Role, candidate Candidate,
) (string, error) {
	if candidate.ID == "" {
		candidate.ID = newDocumentID()
	}

	data := encodeJSON(candidate)

	if err := s.pubRedis.RPush(s.candidatesKey(roomID, role), data).Err(); err != nil {
		return "", errors.Annotatef(err, "add candidate: %s", roomID)
	}

	err := s.publish(roomID, redisEvent{
		Type:    redisEventCandidate,
		Role:    role,
		Payload: json.RawMessage(data),
	})

	return candidate.ID, errors.Annotatef(err, "add candidate: %s", roomID)
}

func (s *RedisStore) GetCandidates(roomID RoomID, role Role) ([]Candidate, error) {
	values, err := s.pubRedis.LRange(s.candidatesKey(roomID, role), 0, -1).Result()
	if err != nil {
		return nil, errors.Annotatef(err, "get candidates: %s", roomID)
	}

	candidates := make([]Candidate, 0, len(values))

	for _, value := range values {
		var candidate Candidate
		if err := json.Unmarshal([]byte(value), &candidate); err != nil {
			return nil, errors.Annotatef(err, "decode candidate: %s", roomID)
		}

		candidates = append(candidates, candidate)
	}

	return candidates, nil
}

func (s *RedisStore) SubscribeCandidates(
	ctx context.Context, roomID RoomID, role Role,
) (<-chan Candidate, func(), error) {
	out := make(chan Candidate)

	unsubscribe, err := s.subscribe(ctx, roomID, func(event redisEvent, done <-chan struct{}) bool {
		if event.Type != redisEventCandidate || event.Role != role {
			return true
		}

		var candidate Candidate
		if err := json.Unmarshal(event.Payload, &candidate); err != nil {
			s.log.Error("Decode candidate", errors.Trace(err), logger.Ctx{
				"room_id": roomID,
			})

			return true
		}

		select {
		case out <- candidate:
			return true
		case <-done:
			return false
		}
	}, func() {
		close(out)
	}, nil)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}

	return out, unsubscribe, nil
}

func (s *RedisStore) ClearCandidates(roomID RoomID, role Role) error {
	err := s.pubRedis.Del(s.candidatesKey(roomID, role)).Err()

	return errors.Annotatef(err, "clear candidates: %s", roomID)
}

func (s *RedisStore) AddChatMessage(roomID RoomID, message ChatMessage) (string, error) {
	if message.ID == "" {
		message.ID = newDocumentID()
	}

	message.Timestamp = s.clk.Now()

	data := encodeJSON(message)

	if err := s.pubRedis.RPush(s.chatKey(roomID), data).Err(); err != nil {
		return "", errors.Annotatef(err, "add chat message: %s", roomID)
	}

	err := s.publish(roomID, redisEvent{
		Type:    redisEventChat,
		Payload: json.RawMessage(data),
	})

	return message.ID, errors.Annotatef(err, "add chat message: %s", roomID)
}

func (s *RedisStore) GetChatMessages(roomID RoomID) ([]ChatMessage, error) {
	values, err := s.pubRedis.LRange(s.chatKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, errors.Annotatef(err, "get chat messages: %s", roomID)
	}

	messages := make([]ChatMessage, 0, len(values))

	for _, value := range values {
		var message ChatMessage
		if err := json.Unmarshal([]byte(value), &message); err != nil {
			return nil, errors.Annotatef(err, "decode chat message: %s", roomID)
		}

		messages = append(messages, message)
	}

	return sortChatMessages(messages), nil
}

func (s *RedisStore) SubscribeChat(
	ctx context.Context, roomID RoomID,
) (<-chan []ChatMessage, func(), error) {
	out := make(chan []ChatMessage)

	unsubscribe, err := s.subscribe(ctx, roomID, func(event redisEvent, done <-chan struct{}) bool {
		if event.Type != redisEventChat {
			return true
		}

		// The event only marks a change: the full history is re-read and
		// re-sorted, since append order is not authoritative.
		history, err := s.GetChatMessages(roomID)
		if err != nil {
			s.log.Error("Get chat messages", errors.Trace(err), logger.Ctx{
				"room_id": roomID,
			})

			return true
		}

		select {
		case out <- history:
			return true
		case <-done:
			return false
		}
	}, func() {
		close(out)
	}, func(sub *subscription) {
		if history, err := s.GetChatMessages(roomID); err == nil && len(history) > 0 {
			sub.push(redisEvent{Type: redisEventChat, Payload: encodeJSONRaw(history)})
		}
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}

	return out, unsubscribe, nil
}

// subscribe listens on the room's notification channel and feeds decoded
// events through an ordered subscription buffer into handle. It blocks
// until the redis subscription is confirmed.
func (s *RedisStore) subscribe(
	ctx context.Context,
	roomID RoomID,
	handle func(event redisEvent, done <-chan struct{}) bool,
	closed func(),
	seed func(sub *subscription),
) (func(), error) {
	pubsub := s.subRedis.Subscribe(s.eventsChannel(roomID))

	ch := pubsub.ChannelWithSubscriptions(defaultSubscriptionChannelSize)

	// Wait for subscription confirmation so no event published after this
	// method returns can be missed.
	select {
	case msg := <-ch:
		if _, ok := msg.(*redis.Subscription); !ok {
			_ = pubsub.Close()

			return nil, errors.Errorf("unexpected first subscription message: %T", msg)
		}
	case <-ctx.Done():
		_ = pubsub.Close()

		return nil, errors.Trace(ctx.Err())
	}

	sub := newSubscription()

	if seed != nil {
		seed(sub)
	}

	go func() {
		defer sub.close()

		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}

				redisMsg, ok := msg.(*redis.Message)
				if !ok {
					continue
				}

				var event redisEvent
				if err := json.Unmarshal([]byte(redisMsg.Payload), &event); err != nil {
					s.log.Error("Decode event", errors.Trace(err), logger.Ctx{
						"room_id": roomID,
					})

					continue
				}

				sub.push(event)
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			}
		}
	}()

	go func() {
		defer closed()

		sub.loop(func(event interface{}) bool {
			return handle(event.(redisEvent), sub.done)
		})
	}()

	unsubscribe := func() {
		sub.close()
		_ = pubsub.Close()
	}

	return unsubscribe, nil
}

func (s *RedisStore) publish(roomID RoomID, event redisEvent) error {
	err := s.pubRedis.Publish(s.eventsChannel(roomID), encodeJSON(event)).Err()

	return errors.Annotate(err, "publish")
}

// Close closes the underlying redis clients.
func (s *RedisStore) Close() error {
	var firstErr error

	if err := s.pubRedis.Close(); err != nil {
		firstErr = errors.Trace(err)
	}

	if err := s.subRedis.Close(); err != nil && firstErr == nil {
		firstErr = errors.Trace(err)
	}

	return firstErr
}

func encodeJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		// All values serialized here are plain structs; a failure is a
		// programming error.
		panic(err)
	}

	return string(data)
}

func encodeJSONRaw(v interface{}) json.RawMessage {
	return json.RawMessage(encodeJSON(v))
}

func callRecordFromHash(values map[string]string) (CallRecord, error) {
	var record CallRecord

	if value, ok := values["offer"]; ok && value != "" {
		record.Offer = &SessionDescription{}
		if err := json.Unmarshal([]byte(value), record.Offer); err != nil {
			return record, errors.Annotate(err, "decode offer")
		}
	}

	if value, ok := values["answer"]; ok && value != "" {
		record.Answer = &SessionDescription{}
		if err := json.Unmarshal([]byte(value), record.Answer); err != nil {
			return record, errors.Annotate(err, "decode answer")
		}
	}

	record.Ended = values["ended"] == "true"
	record.TutorOnline = values["tutorOnline"] == "true"
	record.TutorID = values["tutorId"]
	record.TutorName = values["tutorName"]
	record.StudentID = values["studentId"]
	record.StudentName = values["studentName"]

	if value := values["createdAt"]; value != "" {
		if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
			record.CreatedAt = ts
		}
	}

	if value := values["lastLeftAt"]; value != "" {
		if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
			record.LastLeftAt = ts
		}
	}

	return record, nil
}
