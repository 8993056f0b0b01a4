package identity

import (
	"context"
	"fmt"
	"sync"
)

// Directory orchestrates token verification, connect-code issuance, and
// friendship bookkeeping — the full C1 surface described in the spec.
// It holds an in-memory cache of peer identities (email/handle) learned
// at authentication time, since the durable store persists only connect
// codes and friendship edges (the user directory proper is an external
// collaborator, per §6).
type Directory struct {
	verifier TokenVerifier
	store    *Store

	mu    sync.RWMutex
	peers map[string]Peer
}

// NewDirectory builds a Directory over verifier and store.
func NewDirectory(verifier TokenVerifier, store *Store) *Directory {
	return &Directory{
		verifier: verifier,
		store:    store,
		peers:    make(map[string]Peer),
	}
}

// Authenticate verifies token and caches the resulting Peer identity for
// later handle/email lookups (e.g. when listing friends).
func (d *Directory) Authenticate(ctx context.Context, token string) (Peer, error) {
	peer, err := d.verifier.VerifyToken(ctx, token)
	if err != nil {
		return Peer{}, err
	}
	d.mu.Lock()
	d.peers[peer.UserID] = peer
	d.mu.Unlock()
	return peer, nil
}

// PeerByID returns a cached peer identity, if one has been observed.
func (d *Directory) PeerByID(userID string) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[userID]
	return p, ok
}

// GetOrCreateConnectCode returns the stable connect code for userID,
// generating and persisting one on first request. Retries uniqueness
// collisions up to maxCodeAttempts before failing with ErrCodeExhaustion.
func (d *Directory) GetOrCreateConnectCode(ctx context.Context, userID string) (string, error) {
	if code, ok, err := d.store.ConnectCode(ctx, userID); err != nil {
		return "", err
	} else if ok {
		return code, nil
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		candidate, err := generateCode()
		if err != nil {
			return "", fmt.Errorf("generate connect code: %w", err)
		}
		assigned, ok, err := d.store.tryAssignCode(ctx, userID, candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return assigned, nil
		}
	}
	return "", ErrCodeExhaustion
}

// ResolveCode looks up the user id owning a connect code. The code is
// matched case-insensitively; callers should pass raw user input.
func (d *Directory) ResolveCode(ctx context.Context, code string) (string, error) {
	return d.store.ResolveCode(ctx, NormalizeCode(code))
}

// AddFriendship inserts a bidirectional friendship edge between a and b.
func (d *Directory) AddFriendship(ctx context.Context, a, b string) error {
	return d.store.AddFriendship(ctx, a, b)
}

// FriendIDs returns the friend ids of userID, in no particular presence
// order — the hub overlays live presence from the Connection Registry.
func (d *Directory) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	return d.store.ListFriendIDs(ctx, userID)
}
