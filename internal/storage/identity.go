package storage

import (
	"github.com/elara-net/elara/internal/cryptoengine"
)

var identityKey = []byte("identity/local")

// IdentityStore persists the node's own long-term identity across
// restarts, per spec §5's external-interfaces note that identity survives
// process restarts without key renegotiation (see also §8 scenario S6,
// "identity survives transport death").
type IdentityStore struct {
	store *Store
}

// NewIdentityStore wraps store for identity persistence.
func NewIdentityStore(store *Store) *IdentityStore {
	return &IdentityStore{store: store}
}

// Save persists id, self-signed, overwriting any previously saved
// identity.
func (s *IdentityStore) Save(id *cryptoengine.Identity) error {
	return s.store.Put(identityKey, id.Export())
}

// Load reads and verifies the persisted identity, or ErrNotFound if none
// has been saved yet.
func (s *IdentityStore) Load() (*cryptoengine.Identity, error) {
	buf, err := s.store.Get(identityKey)
	if err != nil {
		return nil, err
	}
	return cryptoengine.ImportIdentity(buf)
}
