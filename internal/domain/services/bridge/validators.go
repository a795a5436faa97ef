package bridge

import (
	"crypto/ed25519"
	"fmt"
	"sort"
	"sync"

	"github.com/rail-service/bridge_core/pkg/crypto"
)

// ValidatorKey is the configured identity of one validator
type ValidatorKey struct {
	ID        string `mapstructure:"id" json:"id"`
	PublicKey string `mapstructure:"public_key" json:"public_key"` // hex encoded ed25519 key
}

// ValidatorSet is an immutable snapshot of the active validators and the
// number of signatures required for quorum.
type ValidatorSet struct {
	version   int
	threshold int
	keys      map[string]ed25519.PublicKey
}

func newValidatorSet(version, threshold int, validators []ValidatorKey) (*ValidatorSet, error) {
	if len(validators) == 0 {
		return nil, fmt.Errorf("validator set: no validators configured")
	}
	keys := make(map[string]ed25519.PublicKey, len(validators))
	for _, v := range validators {
		if v.ID == "" {
			return nil, fmt.Errorf("validator set: empty validator id")
		}
		if _, dup := keys[v.ID]; dup {
			return nil, fmt.Errorf("validator set: duplicate validator %q", v.ID)
		}
		pub, err := crypto.DecodePublicKey(v.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("validator set: validator %q: %w", v.ID, err)
		}
		keys[v.ID] = pub
	}
	if threshold < 1 || threshold > len(keys) {
		return nil, fmt.Errorf("validator set: threshold %d must be between 1 and %d", threshold, len(keys))
	}
	return &ValidatorSet{version: version, threshold: threshold, keys: keys}, nil
}

// Version identifies the snapshot
func (s *ValidatorSet) Version() int { return s.version }

// Threshold is the number of distinct signatures required for quorum
func (s *ValidatorSet) Threshold() int { return s.threshold }

// Size is the number of validators in the set
func (s *ValidatorSet) Size() int { return len(s.keys) }

// PublicKey returns the registered key of a validator
func (s *ValidatorSet) PublicKey(validatorID string) (ed25519.PublicKey, bool) {
	k, ok := s.keys[validatorID]
	return k, ok
}

// IDs returns the validator ids in sorted order
func (s *ValidatorSet) IDs() []string {
	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidatorRegistry holds every version of the validator set. Transfers keep
// evaluating quorum against the version captured when they were locked.
type ValidatorRegistry struct {
	mu       sync.RWMutex
	current  *ValidatorSet
	versions map[int]*ValidatorSet
}

// NewValidatorRegistry installs the initial validator set as version 1
func NewValidatorRegistry(threshold int, validators []ValidatorKey) (*ValidatorRegistry, error) {
	set, err := newValidatorSet(1, threshold, validators)
	if err != nil {
		return nil, err
	}
	return &ValidatorRegistry{
		current:  set,
		versions: map[int]*ValidatorSet{1: set},
	}, nil
}

// Current returns the set applied to transfers locked from now on
func (r *ValidatorRegistry) Current() *ValidatorSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Get returns a specific version of the set
func (r *ValidatorRegistry) Get(version int) (*ValidatorSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.versions[version]
	return set, ok
}

// Update installs a new version. In-flight transfers are unaffected.
func (r *ValidatorRegistry) Update(threshold int, validators []ValidatorKey) (*ValidatorSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, err := newValidatorSet(r.current.version+1, threshold, validators)
	if err != nil {
		return nil, err
	}
	r.versions[set.version] = set
	r.current = set
	return set, nil
}
