package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/tandem/internal/proto"
)

var log = logging.Logger("chat")

var (
	ErrInvalidParticipants = errors.New("chat: sender and receiver are required")
	ErrSelfMessage         = errors.New("chat: cannot message yourself")
	ErrEmptyMessage        = errors.New("chat: text or image is required")
)

// Store persists messages. storage.DB implements it.
type Store interface {
	InsertMessage(ctx context.Context, msg *Message) error
	ConversationHistory(ctx context.Context, a, b string) ([]*Message, error)
}

// Peer is a live connection a message can be pushed to.
type Peer interface {
	Send(event string, payload any) error
}

// Directory resolves a user to their live connection.
type Directory interface {
	Lookup(userID string) (Peer, bool)
}

// Manager persists direct messages and pushes them to online recipients.
type Manager struct {
	store Store
	dir   Directory

	clockMu  sync.Mutex
	lastTime time.Time
	now      func() time.Time
}

// New creates a message relay over store, delivering through dir.
func New(store Store, dir Directory) *Manager {
	return &Manager{
		store: store,
		dir:   dir,
		now:   time.Now,
	}
}

// SendMessage persists a message and then, if the receiver is online,
// pushes it over their connection. The persisted message is returned even
// when live delivery fails; a storage failure fails the whole send.
func (m *Manager) SendMessage(ctx context.Context, senderID, receiverID, text, image string) (*Message, error) {
	senderID = strings.TrimSpace(senderID)
	receiverID = strings.TrimSpace(receiverID)
	switch {
	case senderID == "" || receiverID == "":
		return nil, ErrInvalidParticipants
	case senderID == receiverID:
		return nil, ErrSelfMessage
	case strings.TrimSpace(text) == "" && strings.TrimSpace(image) == "":
		return nil, ErrEmptyMessage
	}

	msg, err := newMessage(senderID, receiverID, text, image, m.stamp())
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	if err := m.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	log.Debugf("CHAT: stored %s from %s to %s", msg.ID, senderID, receiverID)

	m.deliver(msg)
	return msg, nil
}

// FetchHistory returns the conversation between a and b, oldest first.
func (m *Manager) FetchHistory(ctx context.Context, a, b string) ([]*Message, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return nil, ErrInvalidParticipants
	}
	msgs, err := m.store.ConversationHistory(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	return msgs, nil
}

// stamp returns the creation time for a new message. It never goes
// backwards, so a wall clock step does not reorder a conversation.
// Precision is milliseconds, matching what storage keeps.
func (m *Manager) stamp() time.Time {
	m.clockMu.Lock()
	defer m.clockMu.Unlock()
	t := time.UnixMilli(m.now().UnixMilli()).UTC()
	if t.Before(m.lastTime) {
		t = m.lastTime
	}
	m.lastTime = t
	return t
}

func (m *Manager) deliver(msg *Message) {
	peer, ok := m.dir.Lookup(msg.ReceiverID)
	if !ok {
		log.Debugf("CHAT: %s offline, %s kept for history", msg.ReceiverID, msg.ID)
		return
	}
	if err := peer.Send(proto.EventNewMessage, msg); err != nil {
		log.Warnf("CHAT: live delivery of %s to %s failed: %v", msg.ID, msg.ReceiverID, err)
	}
}
