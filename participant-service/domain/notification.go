package domain

import (
	"net/mail"
	"sync"
	"time"

	"github.com/draftea/saga-system/shared/models"
	"github.com/pkg/errors"
)

var ErrInvalidRecipient = errors.New("invalid notification recipient")

// Notification is a message sent to a customer
type Notification struct {
	SagaID    models.ID `json:"sagaId"`
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	SentAt    time.Time `json:"sentAt"`
}

// Notifier delivers order notifications, at most one per saga
type Notifier struct {
	mu   sync.Mutex
	sent map[models.ID]*Notification
}

// NewNotifier creates a notifier with nothing sent
func NewNotifier() *Notifier {
	return &Notifier{sent: make(map[models.ID]*Notification)}
}

// Send records a notification for the saga
func (n *Notifier) Send(sagaID models.ID, recipient, message string) (*Notification, error) {
	if _, err := mail.ParseAddress(recipient); err != nil {
		return nil, errors.Wrapf(ErrInvalidRecipient, "%q", recipient)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, ok := n.sent[sagaID]; ok {
		return existing, nil
	}
	notification := &Notification{
		SagaID:    sagaID,
		Recipient: recipient,
		Message:   message,
		SentAt:    models.Now(),
	}
	n.sent[sagaID] = notification
	return notification, nil
}

// Sent returns the notifications delivered so far
func (n *Notifier) Sent() []*Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Notification, 0, len(n.sent))
	for _, notification := range n.sent {
		out = append(out, notification)
	}
	return out
}
