// Package auth is the credential store: tenant-scoped API keys, their
// validation, and revocation.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"herald/internal/types"
)

const (
	// SecretPrefix starts every issued secret.
	SecretPrefix = "hk_live_"

	// prefixChars is how many encoded characters after SecretPrefix are
	// stored in clear as the lookup prefix.
	prefixChars = 8

	// secretBytes of entropy, base64url encoded without padding.
	secretBytes   = 32
	encodedLength = 43
)

// KeyRepo is the persistence the credential store needs. It is satisfied by
// *db.APIKeyRepository.
type KeyRepo interface {
	Create(ctx context.Context, key *types.APIKey) error
	GetByID(ctx context.Context, id string) (*types.APIKey, error)
	FindByPrefix(ctx context.Context, prefix string) ([]*types.APIKey, error)
	ListByApplication(ctx context.Context, applicationID string) ([]*types.APIKey, error)
	Revoke(ctx context.Context, id string, now time.Time) error
	RevokeAllForApplication(ctx context.Context, applicationID string, now time.Time) (int64, error)
	CountUsable(ctx context.Context, applicationID string, now time.Time) (int, error)
}

// ApplicationLookup resolves a tenant by identifier.
type ApplicationLookup interface {
	GetByID(ctx context.Context, id string) (*types.Application, error)
}

// SecretHasher abstracts bcrypt for testability.
type SecretHasher interface {
	CompareHashAndSecret(hash, secret string) error
	GenerateFromSecret(secret string) (string, error)
}

// SecretGenerator abstracts the entropy source.
type SecretGenerator interface {
	GenerateSecret() (string, error)
}

// UsageToucher records that a key authenticated. Implementations must not
// block.
type UsageToucher interface {
	Touch(keyID string)
}

type bcryptHasher struct {
	cost int
}

// NewBcryptHasher returns the production hasher. A cost outside bcrypt's
// accepted range falls back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) SecretHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &bcryptHasher{cost: cost}
}

func (b *bcryptHasher) CompareHashAndSecret(hash, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}

func (b *bcryptHasher) GenerateFromSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), b.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CryptoSecretGenerator draws secrets from crypto/rand.
type CryptoSecretGenerator struct{}

// GenerateSecret returns SecretPrefix + base64url(32 random bytes).
func (CryptoSecretGenerator) GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return SecretPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// LookupPrefix returns the clear-text portion of a secret used to find its
// row, or false if the secret is not well formed.
func LookupPrefix(secret string) (string, bool) {
	if !strings.HasPrefix(secret, SecretPrefix) || len(secret) != len(SecretPrefix)+encodedLength {
		return "", false
	}
	if _, err := base64.RawURLEncoding.DecodeString(secret[len(SecretPrefix):]); err != nil {
		return "", false
	}
	return secret[:len(SecretPrefix)+prefixChars], true
}

// IssueOptions are the optional attributes of a new key.
type IssueOptions struct {
	Label     string
	ExpiresAt *time.Time
}

// IssuedKey is returned exactly once, at issuance. Secret is never stored.
type IssuedKey struct {
	KeyID         string     `json:"id"`
	ApplicationID string     `json:"application_id"`
	Secret        string     `json:"secret"`
	Prefix        string     `json:"key_prefix"`
	Name          string     `json:"name,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// KeyMetadata is the listable view of a key: no secret, no hash.
type KeyMetadata struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Prefix     string     `json:"key_prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	IsActive   bool       `json:"is_active"`
}

// KeyServiceConfig holds the dependencies of a KeyService.
type KeyServiceConfig struct {
	Keys         KeyRepo
	Applications ApplicationLookup
	Hasher       SecretHasher
	Generator    SecretGenerator
	Toucher      UsageToucher
	Clock        types.Clock
	Logger       *slog.Logger
}

// KeyService issues, validates and revokes API keys. Every validation reads
// the current key row, so a committed revocation is visible immediately.
type KeyService struct {
	keys    KeyRepo
	apps    ApplicationLookup
	hasher  SecretHasher
	gen     SecretGenerator
	toucher UsageToucher
	clock   types.Clock
	logger  *slog.Logger
}

// NewKeyService creates a KeyService. Nil Hasher, Generator, Clock and Logger
// get production defaults; a nil Toucher disables last-used tracking.
func NewKeyService(cfg KeyServiceConfig) *KeyService {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = NewBcryptHasher(bcrypt.DefaultCost)
	}
	gen := cfg.Generator
	if gen == nil {
		gen = CryptoSecretGenerator{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyService{
		keys:    cfg.Keys,
		apps:    cfg.Applications,
		hasher:  hasher,
		gen:     gen,
		toucher: cfg.Toucher,
		clock:   clock,
		logger:  logger,
	}
}

// IssueKey mints a key for an existing tenant and returns its secret.
func (s *KeyService) IssueKey(ctx context.Context, applicationID string, opts IssueOptions) (*IssuedKey, error) {
	if _, err := s.apps.GetByID(ctx, applicationID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(now) {
		return nil, types.NewFieldError(types.ErrCodeValidationExpiryInPast, "expires_at", "must be in the future")
	}
	if len(opts.Label) > types.MaxKeyLabelLength {
		return nil, types.NewFieldError(types.ErrCodeValidationFieldTooLong, "name",
			fmt.Sprintf("must be at most %d characters", types.MaxKeyLabelLength))
	}

	secret, err := s.gen.GenerateSecret()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate API key", err)
	}
	prefix, ok := LookupPrefix(secret)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "generated API key is malformed", nil)
	}
	hash, err := s.hasher.GenerateFromSecret(secret)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash API key", err)
	}

	key := &types.APIKey{
		ID:            "key_" + uuid.NewString(),
		ApplicationID: applicationID,
		KeyHash:       hash,
		KeyPrefix:     prefix,
		Name:          opts.Label,
		CreatedAt:     now,
		ExpiresAt:     opts.ExpiresAt,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, err
	}

	s.logger.Info("api key issued",
		"key_id", key.ID,
		"application_id", applicationID,
		"key_prefix", prefix,
	)
	return &IssuedKey{
		KeyID:         key.ID,
		ApplicationID: applicationID,
		Secret:        secret,
		Prefix:        prefix,
		Name:          key.Name,
		CreatedAt:     now,
		ExpiresAt:     key.ExpiresAt,
	}, nil
}

// ValidateKey resolves a secret to its tenant. Malformed, unknown, wrong and
// revoked secrets are all auth_token_invalid; an expired key is
// auth_token_expired. Both map to 401.
func (s *KeyService) ValidateKey(ctx context.Context, secret string) (string, error) {
	if secret == "" {
		return "", types.NewAppError(types.ErrCodeAuthTokenMissing, "API key is required", nil)
	}
	prefix, ok := LookupPrefix(secret)
	if !ok {
		return "", invalidKey()
	}

	candidates, err := s.keys.FindByPrefix(ctx, prefix)
	if err != nil {
		return "", err
	}

	for _, key := range candidates {
		if s.hasher.CompareHashAndSecret(key.KeyHash, secret) != nil {
			continue
		}
		if key.IsRevoked() {
			return "", invalidKey()
		}
		if key.IsExpired(s.clock.Now()) {
			return "", types.NewAppError(types.ErrCodeAuthTokenExpired, "API key has expired", nil)
		}
		if s.toucher != nil {
			s.toucher.Touch(key.ID)
		}
		return key.ApplicationID, nil
	}
	return "", invalidKey()
}

func invalidKey() error {
	return types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid API key", nil)
}

// RevokeKey revokes a key. Revoking twice succeeds; an id that was never
// issued is not_found_api_key.
func (s *KeyService) RevokeKey(ctx context.Context, keyID string) error {
	if err := s.keys.Revoke(ctx, keyID, s.clock.Now()); err != nil {
		return err
	}
	s.logger.Info("api key revoked", "key_id", keyID)
	return nil
}

// RevokeApplicationKey revokes a key only if it belongs to applicationID.
// A key of another tenant is reported as not found.
func (s *KeyService) RevokeApplicationKey(ctx context.Context, applicationID, keyID string) error {
	key, err := s.keys.GetByID(ctx, keyID)
	if err != nil {
		return err
	}
	if key.ApplicationID != applicationID {
		return types.NewAppError(types.ErrCodeNotFoundAPIKey, "API key not found", nil)
	}
	return s.RevokeKey(ctx, keyID)
}

// RevokeAllForApplication revokes every live key of a tenant.
func (s *KeyService) RevokeAllForApplication(ctx context.Context, applicationID string) (int64, error) {
	n, err := s.keys.RevokeAllForApplication(ctx, applicationID, s.clock.Now())
	if err != nil {
		return 0, err
	}
	s.logger.Info("application keys revoked", "application_id", applicationID, "count", n)
	return n, nil
}

// ListKeys returns metadata for every key ever issued to the tenant.
func (s *KeyService) ListKeys(ctx context.Context, applicationID string) ([]KeyMetadata, error) {
	if _, err := s.apps.GetByID(ctx, applicationID); err != nil {
		return nil, err
	}
	keys, err := s.keys.ListByApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := make([]KeyMetadata, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyMetadata{
			ID:         k.ID,
			Name:       k.Name,
			Prefix:     k.KeyPrefix,
			CreatedAt:  k.CreatedAt,
			ExpiresAt:  k.ExpiresAt,
			LastUsedAt: k.LastUsedAt,
			RevokedAt:  k.RevokedAt,
			IsActive:   k.IsUsable(now),
		})
	}
	return out, nil
}

// IsApplicationActive reports whether the tenant holds at least one usable key.
func (s *KeyService) IsApplicationActive(ctx context.Context, applicationID string) (bool, error) {
	n, err := s.keys.CountUsable(ctx, applicationID, s.clock.Now())
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
