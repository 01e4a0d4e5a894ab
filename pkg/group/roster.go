package group

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/scionproto/scion/pkg/private/serrors"

	"github.com/fancl20/e2ei/pkg/credential"
)

// ErrConversationNotFound is returned by a Roster for unknown conversations.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationID identifies a joined conversation.
type ConversationID string

// Roster yields the current members of joined conversations.
type Roster interface {
	// Members returns the ciphersuite and the member credentials of the
	// conversation, in a fixed enumeration order.
	Members(ctx context.Context, id ConversationID) (credential.Ciphersuite, []credential.Credential, error)
}

// Joiner is a Roster that conversations can be added to and removed from.
type Joiner interface {
	Roster
	Join(id ConversationID, d *Descriptor)
	Remove(id ConversationID)
}

var _ Joiner = (*MemoryRoster)(nil)

type conversation struct {
	ciphersuite credential.Ciphersuite
	members     []credential.Credential
}

// MemoryRoster is an in-memory Roster.
type MemoryRoster struct {
	mu            sync.RWMutex
	conversations map[ConversationID]conversation
}

// NewMemoryRoster creates an empty roster.
func NewMemoryRoster() *MemoryRoster {
	return &MemoryRoster{
		conversations: make(map[ConversationID]conversation),
	}
}

// Set replaces the members of the conversation.
func (r *MemoryRoster) Set(id ConversationID, cs credential.Ciphersuite,
	members []credential.Credential) {

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[id] = conversation{ciphersuite: cs, members: slices.Clone(members)}
}

// Join records the members of a parsed descriptor as the conversation roster.
func (r *MemoryRoster) Join(id ConversationID, d *Descriptor) {
	r.Set(id, d.Ciphersuite, d.Credentials())
}

// Remove drops the conversation.
func (r *MemoryRoster) Remove(id ConversationID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conversations, id)
}

// Members implements Roster.
func (r *MemoryRoster) Members(_ context.Context,
	id ConversationID) (credential.Ciphersuite, []credential.Credential, error) {

	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conversations[id]
	if !ok {
		return 0, nil, serrors.Join(ErrConversationNotFound, nil, "conversation", string(id))
	}
	return c.ciphersuite, slices.Clone(c.members), nil
}
