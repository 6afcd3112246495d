// Package commitment implements the commit phase of the commit-reveal
// intake protocol: opaque hash commitments with TTL, secp256k1 signature
// verification, and the per-identity nonce guard.
package commitment

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Aidin1998/fairbatch/internal/kv"
	"github.com/Aidin1998/fairbatch/pkg/models"
)

const (
	commitKeyPrefix = "fb:commit:"
	nonceKeyPrefix  = "fb:nonce:"
)

// Digest computes the commitment hash binding an order's content to its
// client signature. Clients compute the same digest before committing.
func Digest(order *models.Order, signature []byte) common.Hash {
	return crypto.Keccak256Hash(order.SigningBytes(), signature)
}

// VerifySignature checks that sig recovers identity over digest.
func VerifySignature(identity common.Address, digest common.Hash, sig []byte) error {
	if len(sig) != crypto.SignatureLength {
		return models.ErrInvalidSignature
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return models.ErrInvalidSignature
	}
	if crypto.PubkeyToAddress(*pub) != identity {
		return models.ErrInvalidSignature
	}
	return nil
}

// Store owns pending commitments until reveal. Commitments live in the
// shared kv store under a TTL so abandoned ones are garbage-collected
// without a sweeper.
type Store struct {
	kv     kv.Store
	ttl    time.Duration
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewStore creates a commitment store. ttl bounds the commit-to-reveal
// lifetime; now is the engine clock (injectable for tests).
func NewStore(store kv.Store, ttl time.Duration, now func() time.Time, logger *zap.SugaredLogger) *Store {
	return &Store{kv: store, ttl: ttl, now: now, logger: logger}
}

// Create verifies the commit signature and stores a new unrevealed
// commitment, returning its opaque id.
func (s *Store) Create(ctx context.Context, identity common.Address, hash common.Hash, sig []byte) (uuid.UUID, error) {
	if err := VerifySignature(identity, hash, sig); err != nil {
		return uuid.Nil, err
	}

	c := models.Commitment{
		ID:        uuid.New(),
		Identity:  identity,
		Hash:      hash,
		Signature: sig,
		CreatedAt: s.now(),
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal commitment: %w", err)
	}
	ok, err := s.kv.SetNX(ctx, commitKeyPrefix+c.ID.String(), payload, s.ttl)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store commitment: %w", err)
	}
	if !ok {
		// uuid collision is not a realistic path; treat as storage fault
		return uuid.Nil, fmt.Errorf("commitment id collision for %s", c.ID)
	}

	s.logger.Debugw("commitment stored",
		"commitment_id", c.ID.String(),
		"identity", identity.Hex(),
	)
	return c.ID, nil
}

// Lookup returns the stored commitment or ErrUnknownCommitment when it is
// absent or expired. Expiry is delegated to the kv TTL.
func (s *Store) Lookup(ctx context.Context, id uuid.UUID) (*models.Commitment, error) {
	payload, found, err := s.kv.Get(ctx, commitKeyPrefix+id.String())
	if err != nil {
		return nil, fmt.Errorf("load commitment: %w", err)
	}
	if !found {
		return nil, models.ErrUnknownCommitment
	}
	var c models.Commitment
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("decode commitment: %w", err)
	}
	return &c, nil
}

// ClaimReveal transitions the commitment unrevealed -> revealed exactly
// once; the claim key is the sole record of reveal state. Concurrent
// reveals race on a SetNX claim; exactly one wins, the rest observe
// ErrAlreadyRevealed.
func (s *Store) ClaimReveal(ctx context.Context, id uuid.UUID) error {
	// The claim outlives the commitment so a late duplicate reveal still
	// sees AlreadyRevealed rather than UnknownCommitment racing the TTL.
	ok, err := s.kv.SetNX(ctx, commitKeyPrefix+id.String()+":revealed", []byte("1"), 2*s.ttl)
	if err != nil {
		return fmt.Errorf("claim reveal: %w", err)
	}
	if !ok {
		return models.ErrAlreadyRevealed
	}
	return nil
}

// MatchesStored compares a recomputed digest against the stored hash in
// constant time. Tamper detection must compare against the stored value,
// never a second recomputation.
func MatchesStored(stored *models.Commitment, recomputed common.Hash) bool {
	return subtle.ConstantTimeCompare(stored.Hash.Bytes(), recomputed.Bytes()) == 1
}

// NonceGuard consumes (identity, nonce) pairs at most once across all
// concurrent reveals.
type NonceGuard struct {
	kv  kv.Store
	ttl time.Duration
}

// NewNonceGuard creates a nonce guard. ttl bounds how long consumed
// nonces are remembered; it must comfortably exceed any replay horizon.
func NewNonceGuard(store kv.Store, ttl time.Duration) *NonceGuard {
	return &NonceGuard{kv: store, ttl: ttl}
}

// Consume claims the nonce for the identity. The second and every later
// caller gets ErrNonceReplay.
func (g *NonceGuard) Consume(ctx context.Context, identity common.Address, nonce uint64) error {
	key := fmt.Sprintf("%s%s:%d", nonceKeyPrefix, identity.Hex(), nonce)
	ok, err := g.kv.SetNX(ctx, key, []byte("1"), g.ttl)
	if err != nil {
		return fmt.Errorf("consume nonce: %w", err)
	}
	if !ok {
		return models.ErrNonceReplay
	}
	return nil
}
