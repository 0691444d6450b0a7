package gateway

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// -------------------------------------------------------------------------
// Sender Registry: HMAC-SHA1 verification
// -------------------------------------------------------------------------

// Registry errors.
var (
	// ErrEmptySenderName indicates a sender entry without a nickname.
	ErrEmptySenderName = errors.New("sender nickname must not be empty")

	// ErrEmptySecret indicates a sender entry without a shared secret.
	ErrEmptySecret = errors.New("sender secret must not be empty")

	// ErrDuplicateSecret indicates two senders share the same secret, which
	// would make the authenticated nickname ambiguous.
	ErrDuplicateSecret = errors.New("duplicate sender secret")
)

// SenderCredential is a single trusted sender.
type SenderCredential struct {
	// Name is the sender nickname substituted into forwarded messages.
	Name string

	// Secret is the shared HMAC key.
	Secret []byte //nolint:gosec // G117: field holds key material by design of the protocol
}

// SenderRegistry holds the trusted senders of one listener.
// It is immutable after construction and safe for concurrent use.
type SenderRegistry struct {
	senders []SenderCredential
}

// NewSenderRegistry builds a registry from a nickname -> secret mapping.
//
// Entries are ordered by nickname so verification is deterministic.
// Two nicknames sharing one secret are rejected with ErrDuplicateSecret.
func NewSenderRegistry(secrets map[string]string) (*SenderRegistry, error) {
	senders := make([]SenderCredential, 0, len(secrets))
	owners := make(map[string]string, len(secrets))

	for name, secret := range secrets {
		if strings.TrimSpace(name) == "" {
			return nil, ErrEmptySenderName
		}
		if secret == "" {
			return nil, fmt.Errorf("sender %q: %w", name, ErrEmptySecret)
		}
		if prev, dup := owners[secret]; dup {
			first, second := min(prev, name), max(prev, name)
			return nil, fmt.Errorf("senders %q and %q: %w", first, second, ErrDuplicateSecret)
		}
		owners[secret] = name
		senders = append(senders, SenderCredential{Name: name, Secret: []byte(secret)})
	}

	slices.SortFunc(senders, func(a, b SenderCredential) int {
		return strings.Compare(a.Name, b.Name)
	})

	return &SenderRegistry{senders: senders}, nil
}

// Verify returns the nickname of the sender whose secret authenticates env.
// The digest comparison is constant time. ok is false when no secret matches.
func (r *SenderRegistry) Verify(env Envelope) (name string, ok bool) {
	if len(env.Auth) != DigestSize {
		return "", false
	}

	for _, s := range r.senders {
		digest := computeDigest(s.Secret, env.Msg)
		if subtle.ConstantTimeCompare(digest, env.Auth) == 1 {
			return s.Name, true
		}
	}
	return "", false
}

// Names returns the registered nicknames in verification order.
func (r *SenderRegistry) Names() []string {
	names := make([]string, 0, len(r.senders))
	for _, s := range r.senders {
		names = append(names, s.Name)
	}
	return names
}

// Len returns the number of registered senders.
func (r *SenderRegistry) Len() int {
	return len(r.senders)
}
