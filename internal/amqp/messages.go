package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidMessage = errors.New("invalid group changed message")

// GroupChangedMessage announces that a group's ledger changed. It carries no
// ledger data: consumers reload the group from the store.
type GroupChangedMessage struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func NewGroupChangedMessage(groupID, reason string) *GroupChangedMessage {
	return &GroupChangedMessage{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *GroupChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// GroupChangedMessageFromJSON decodes and checks a message body.
func GroupChangedMessageFromJSON(data []byte) (*GroupChangedMessage, error) {
	var msg GroupChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Join(ErrInvalidMessage, err)
	}
	if msg.GroupID == "" {
		return nil, ErrInvalidMessage
	}
	return &msg, nil
}
