// Package store implements the signaling store shared by the two peers of a
// tutoring session. The store holds one call record per room, two
// append-only ICE candidate collections and the chat history. It is the
// only rendezvous between the tutor and the student: session descriptions
// and candidates are exchanged exclusively through it.
package store

import (
	"context"
	"time"

	"github.com/juju/errors"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomID identifies one tutoring session's signaling data and chat history.
type RoomID string

func (r RoomID) String() string {
	return string(r)
}

// Role determines which candidate collection a peer writes to. Only the
// tutor writes the offer and offer candidates; only the student writes the
// answer and answer candidates. This write exclusivity is what makes
// last-write-wins per field safe without locking.
type Role string

const (
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
)

// Label returns the display name used to tag chat messages.
func (r Role) Label() string {
	if r == RoleTutor {
		return "Tutor"
	}

	return "Student"
}

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleTutor {
		return RoleStudent
	}

	return RoleTutor
}

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CallRecord is the shared call document for one room. At most one active
// offer/answer pair exists per negotiation round; both are replaced when
// the initiator restarts the handshake.
type CallRecord struct {
	Offer       *SessionDescription `json:"offer,omitempty"`
	Answer      *SessionDescription `json:"answer,omitempty"`
	Ended       bool                `json:"ended"`
	TutorOnline bool                `json:"tutorOnline"`

	// Identity fields are written by the question workflow when the room is
	// created and are read-only afterwards.
	TutorID     string `json:"tutorId,omitempty"`
	TutorName   string `json:"tutorName,omitempty"`
	StudentID   string `json:"studentId,omitempty"`
	StudentName string `json:"studentName,omitempty"`

	CreatedAt  time.Time `json:"createdAt,omitempty"`
	LastLeftAt time.Time `json:"lastLeftAt,omitempty"`
}

// CallFields is a merge-write against a call record: nil (or false) fields
// leave the stored value untouched. Clearing a description requires the
// explicit Clear flags so that a plain update can never wipe another
// round's fields by accident.
type CallFields struct {
	Offer       *SessionDescription `json:"offer,omitempty"`
	Answer      *SessionDescription `json:"answer,omitempty"`
	ClearOffer  bool                `json:"clearOffer,omitempty"`
	ClearAnswer bool                `json:"clearAnswer,omitempty"`

	Ended       *bool `json:"ended,omitempty"`
	TutorOnline *bool `json:"tutorOnline,omitempty"`

	TutorID     *string `json:"tutorId,omitempty"`
	TutorName   *string `json:"tutorName,omitempty"`
	StudentID   *string `json:"studentId,omitempty"`
	StudentName *string `json:"studentName,omitempty"`

	// TouchLastLeft stamps LastLeftAt with the store's current time.
	TouchLastLeft bool `json:"touchLastLeft,omitempty"`
}

// Apply merges the fields into record.
func (f CallFields) Apply(record *CallRecord, now time.Time) {
	if f.ClearOffer {
		record.Offer = nil
	} else if f.Offer != nil {
		record.Offer = f.Offer
	}

	if f.ClearAnswer {
		record.Answer = nil
	} else if f.Answer != nil {
		record.Answer = f.Answer
	}

	if f.Ended != nil {
		record.Ended = *f.Ended
	}

	if f.TutorOnline != nil {
		record.TutorOnline = *f.TutorOnline
	}

	if f.TutorID != nil {
		record.TutorID = *f.TutorID
	}

	if f.TutorName != nil {
		record.TutorName = *f.TutorName
	}

	if f.StudentID != nil {
		record.StudentID = *f.StudentID
	}

	if f.StudentName != nil {
		record.StudentName = *f.StudentName
	}

	if f.TouchLastLeft {
		record.LastLeftAt = now
	}
}

// Candidate is one ICE candidate document. The field shapes mirror the
// standard RTCIceCandidateInit dictionary.
type Candidate struct {
	ID               string  `json:"id,omitempty"`
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// ChatMessage is one entry of the append-only session chat. Messages are
// ordered by the store-assigned timestamp, never by arrival order.
type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the signaling store contract.
//
// Subscriptions deliver in mutation order. SubscribeCall fires immediately
// with the current record when the room exists, then on every mutation.
// SubscribeCandidates fires only for candidates added after the
// subscription was created; existing candidates are read via
// GetCandidates. SubscribeChat delivers the full, timestamp-sorted history
// on every append. Returned unsubscribe functions are idempotent.
type Store interface {
	GetCall(roomID RoomID) (CallRecord, error)
	SetCall(roomID RoomID, fields CallFields) error
	SubscribeCall(ctx context.Context, roomID RoomID) (<-chan CallRecord, func(), error)

	AddCandidate(roomID RoomID, role Role, candidate Candidate) (string, error)
	GetCandidates(roomID RoomID, role Role) ([]Candidate, error)
	SubscribeCandidates(ctx context.Context, roomID RoomID, role Role) (<-chan Candidate, func(), error)
	ClearCandidates(roomID RoomID, role Role) error

	AddChatMessage(roomID RoomID, message ChatMessage) (string, error)
	GetChatMessages(roomID RoomID) ([]ChatMessage, error)
	SubscribeChat(ctx context.Context, roomID RoomID) (<-chan []ChatMessage, func(), error)

	Close() error
}
