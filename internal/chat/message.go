package chat

import (
	"time"

	"github.com/google/uuid"
)

// Message is one durable direct message between two users. Messages are
// never mutated after they are persisted.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	Image      string    `json:"image,omitempty"` // URL of an already-uploaded image
	CreatedAt  time.Time `json:"createdAt"`
}

// newMessage stamps a message with a v7 id so ids sort by creation time,
// which breaks createdAt ties in history order.
func newMessage(senderID, receiverID, text, image string, createdAt time.Time) (*Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:         id.String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Image:      image,
		CreatedAt:  createdAt,
	}, nil
}

// Between reports whether m belongs to the conversation of a and b, in
// either direction.
func (m *Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}
