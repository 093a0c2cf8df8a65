package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// keyPrefixLen is the length of the stored lookup prefix, e.g. "psk_abcd".
const keyPrefixLen = 8

// KeyRow is one issued API key. Only the bcrypt hash is stored.
type KeyRow struct {
	KeyID  string
	Prefix string
	Hash   string
	Role   string
}

// KeyStore abstracts key lookups for testability.
type KeyStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*KeyRow, error)
}

// StaticKeyStore serves keys configured at startup.
type StaticKeyStore struct {
	rows map[string]*KeyRow
}

// NewStaticKeyStore indexes rows by prefix. Later rows win on prefix clashes.
func NewStaticKeyStore(rows ...KeyRow) *StaticKeyStore {
	s := &StaticKeyStore{rows: make(map[string]*KeyRow, len(rows))}
	for i := range rows {
		r := rows[i]
		s.rows[r.Prefix] = &r
	}
	return s
}

func (s *StaticKeyStore) LookupByPrefix(_ context.Context, prefix string) (*KeyRow, error) {
	row, ok := s.rows[prefix]
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	return row, nil
}

// SQLKeyStore reads keys from the shield_api_keys table.
type SQLKeyStore struct {
	db *sql.DB
}

func NewSQLKeyStore(db *sql.DB) *SQLKeyStore {
	return &SQLKeyStore{db: db}
}

// EnsureSchema creates the key table if it does not exist.
func (s *SQLKeyStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS shield_api_keys (
			id         TEXT PRIMARY KEY,
			key_prefix TEXT NOT NULL UNIQUE,
			key_hash   TEXT NOT NULL,
			role       TEXT NOT NULL DEFAULT 'client',
			revoked_at TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("SQLKeyStore.EnsureSchema: %w", err)
	}
	return nil
}

func (s *SQLKeyStore) LookupByPrefix(ctx context.Context, prefix string) (*KeyRow, error) {
	row := &KeyRow{Prefix: prefix}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, key_hash, role
		 FROM shield_api_keys
		 WHERE key_prefix = $1 AND revoked_at IS NULL`,
		prefix,
	).Scan(&row.KeyID, &row.Hash, &row.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidAPIKey // unknown prefix: reject, don't fail open
		}
		return nil, fmt.Errorf("SQLKeyStore.LookupByPrefix: %w", err)
	}
	return row, nil
}

// KeyAuthenticator validates API keys against a KeyStore, caching verified
// keys so bcrypt stays off the interception path.
type KeyAuthenticator struct {
	store  KeyStore
	cache  *keyCache
	logger *zap.Logger
}

// KeyAuthConfig configures the KeyAuthenticator.
type KeyAuthConfig struct {
	Store    KeyStore
	CacheTTL time.Duration // Default: 30s
	MaxStale time.Duration // Default: 5m
	Logger   *zap.Logger
}

// NewKeyAuthenticator creates a new authenticator over the given store.
func NewKeyAuthenticator(cfg KeyAuthConfig) *KeyAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	maxStale := cfg.MaxStale
	if maxStale == 0 {
		maxStale = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyAuthenticator{
		store:  cfg.Store,
		cache:  newKeyCache(ttl, maxStale),
		logger: logger,
	}
}

// Authenticate extracts "Bearer psk_..." from gRPC metadata and verifies it.
func (a *KeyAuthenticator) Authenticate(ctx context.Context) (*Principal, error) {
	apiKey, err := extractAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	return a.Verify(ctx, apiKey)
}

// Verify validates a raw key. A cached key is returned at once; an expired
// one is still returned while a single background refresh re-verifies it.
// Store errors other than an unknown key map to ErrAuthUnavailable.
func (a *KeyAuthenticator) Verify(ctx context.Context, apiKey string) (*Principal, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if len(apiKey) < keyPrefixLen || apiKey[:len(KeyPrefix)] != KeyPrefix {
		return nil, ErrInvalidAPIKey
	}

	switch p, state := a.cache.get(apiKey); state {
	case cacheStaleRefresh:
		go a.backgroundRefresh(apiKey)
		return p, nil
	case cacheFresh, cacheStale:
		return p, nil
	}

	principal, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		return nil, a.handleLookupError(err)
	}

	a.cache.put(apiKey, principal)
	return principal, nil
}

// backgroundRefresh re-verifies an expired key. A rejected key is dropped
// at once; an unreachable store leaves the stale entry for the next read to
// retry until maxStale runs out.
func (a *KeyAuthenticator) backgroundRefresh(apiKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	principal, err := a.lookupAndVerify(ctx, apiKey)
	switch {
	case errors.Is(err, ErrInvalidAPIKey):
		a.logger.Info("cached key no longer valid", zap.String("prefix", PrefixOf(apiKey)))
		a.cache.drop(apiKey)
	case err != nil:
		a.logger.Warn("background key refresh failed", zap.Error(err))
		a.cache.release(apiKey)
	default:
		a.cache.put(apiKey, principal)
	}
}

func (a *KeyAuthenticator) lookupAndVerify(ctx context.Context, apiKey string) (*Principal, error) {
	row, err := a.store.LookupByPrefix(ctx, apiKey[:keyPrefixLen])
	if err != nil {
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.Hash), []byte(apiKey)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	role := row.Role
	if role != RoleAdmin {
		role = RoleClient
	}
	return &Principal{KeyID: row.KeyID, Role: role}, nil
}

func (a *KeyAuthenticator) handleLookupError(lookupErr error) error {
	if errors.Is(lookupErr, ErrInvalidAPIKey) {
		return ErrInvalidAPIKey
	}
	a.logger.Warn("auth key store unreachable", zap.Error(lookupErr))
	return fmt.Errorf("%w: %v", ErrAuthUnavailable, lookupErr)
}

// HashKey returns the bcrypt hash to store for a newly issued key.
func HashKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("HashKey: %w", err)
	}
	return string(hash), nil
}

// PrefixOf returns the lookup prefix of a key.
func PrefixOf(apiKey string) string {
	if len(apiKey) < keyPrefixLen {
		return apiKey
	}
	return apiKey[:keyPrefixLen]
}
