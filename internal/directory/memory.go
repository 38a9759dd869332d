package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tOgg1/approvalq/internal/models"
)

type memoryUser struct {
	recipient models.Recipient
	admin     bool
}

type prefKey struct {
	instance    string
	recipientID string
	channel     models.Channel
}

// Memory is an in-process Directory used by tests and offline runs.
type Memory struct {
	mu    sync.RWMutex
	users map[string][]*memoryUser
	prefs map[prefKey]*models.NotificationPreference
}

// NewMemory returns an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string][]*memoryUser),
		prefs: make(map[prefKey]*models.NotificationPreference),
	}
}

// AddUser registers a user in instance. Admins are listed in insertion order.
func (m *Memory) AddUser(instance string, recipient models.Recipient, admin bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users[instance] {
		if u.recipient.ID == recipient.ID {
			u.recipient = recipient
			u.admin = admin
			return
		}
	}
	m.users[instance] = append(m.users[instance], &memoryUser{recipient: recipient, admin: admin})
}

// SetPreference stores pref for instance, replacing any previous record.
func (m *Memory) SetPreference(instance string, pref models.NotificationPreference) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pref.Channel == "" {
		pref.Channel = models.ChannelEmail
	}
	m.prefs[prefKey{instance, pref.RecipientID, pref.Channel}] = &pref
}

// Admins implements Directory.
func (m *Memory) Admins(_ context.Context, instance string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for _, u := range m.users[instance] {
		if u.admin {
			ids = append(ids, u.recipient.ID)
		}
	}
	return ids, nil
}

// Preference implements Directory.
func (m *Memory) Preference(_ context.Context, instance, recipientID string, channel models.Channel) (*models.NotificationPreference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pref, ok := m.prefs[prefKey{instance, recipientID, channel}]
	if !ok {
		return nil, nil
	}
	clone := *pref
	return &clone, nil
}

// Recipient implements Directory.
func (m *Memory) Recipient(_ context.Context, instance, recipientID string) (*models.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users[instance] {
		if u.recipient.ID == recipientID {
			r := u.recipient
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: user %s not found", models.ErrRecipientUnavailable, recipientID)
}
