package store

// Wire protocol of the websocket signaling gateway. The gateway exposes a
// Store over a websocket connection so that browser peers and headless
// clients can share one store without talking to redis directly. Both the
// server handler and WSClient speak this protocol.

// Request types, client to server.
const (
	WSTypeGetCall             = "get_call"
	WSTypeSetCall             = "set_call"
	WSTypeAddCandidate        = "add_candidate"
	WSTypeGetCandidates       = "get_candidates"
	WSTypeClearCandidates     = "clear_candidates"
	WSTypeAddChat             = "add_chat"
	WSTypeGetChat             = "get_chat"
	WSTypeSubscribeCall       = "subscribe_call"
	WSTypeSubscribeCandidates = "subscribe_candidates"
	WSTypeSubscribeChat       = "subscribe_chat"
	WSTypeUnsubscribe         = "unsubscribe"
)

// Response and event types, server to client.
const (
	WSTypeResult         = "result"
	WSTypeEventCall      = "event_call"
	WSTypeEventCandidate = "event_candidate"
	WSTypeEventChat      = "event_chat"
)

// WSRequest is a client-to-server frame. RequestID correlates the
// response; it is chosen by the client and opaque to the server.
type WSRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	RoomID    RoomID `json:"roomId,omitempty"`
	Role      Role   `json:"role,omitempty"`

	Fields    *CallFields  `json:"fields,omitempty"`
	Candidate *Candidate   `json:"candidate,omitempty"`
	Message   *ChatMessage `json:"message,omitempty"`

	SubscriptionID string `json:"subscriptionId,omitempty"`
}

// WSResponse is a server-to-client frame: either the result of a request
// (Type == WSTypeResult, correlated by RequestID) or a subscription event
// (correlated by SubscriptionID).
type WSResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Error     string `json:"error,omitempty"`

	// RoomNotFound distinguishes ErrRoomNotFound from transport errors so
	// the client can surface the sentinel.
	RoomNotFound bool `json:"roomNotFound,omitempty"`

	SubscriptionID string `json:"subscriptionId,omitempty"`

	ID         string        `json:"id,omitempty"`
	Call       *CallRecord   `json:"call,omitempty"`
	Candidate  *Candidate    `json:"candidate,omitempty"`
	Candidates []Candidate   `json:"candidates,omitempty"`
	Messages   []ChatMessage `json:"messages,omitempty"`
}
