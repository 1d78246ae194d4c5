package hub

import "github.com/xiaot623/gogo/testexec/internal/domain"

// Message types.
const (
	// Client -> server
	TypeSubscribe = "subscribe"

	// Server -> client
	TypeSubscribed = "subscribed"
	TypeResult     = "result"
	TypeError      = "error"
)

// ClientMessage is sent by subscribers. A subscribe message with no case ids
// switches the connection to every result.
type ClientMessage struct {
	Type    string  `json:"type"`
	CaseIDs []int64 `json:"case_ids,omitempty"`
}

// ServerMessage is pushed to subscribers.
type ServerMessage struct {
	Type         string                     `json:"type"`
	Ts           int64                      `json:"ts"`
	ConnectionID string                     `json:"connection_id,omitempty"`
	CaseIDs      []int64                    `json:"case_ids,omitempty"`
	Result       *domain.ResultNotification `json:"result,omitempty"`
	Message      string                     `json:"message,omitempty"`
}
