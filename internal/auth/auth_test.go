package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc/metadata"
)

// testAPIKey is the raw API key used in tests.
const testAPIKey = "psk_test_valid_key_1234567890abcdef"

// testHash returns a bcrypt hash of key using MinCost (fast for tests).
func testHash(t *testing.T, key string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to generate bcrypt hash: %v", err)
	}
	return string(hash)
}

// mockStore implements KeyStore for testing.
type mockStore struct {
	row       *KeyRow
	err       error
	callCount atomic.Int32
}

func (m *mockStore) LookupByPrefix(_ context.Context, _ string) (*KeyRow, error) {
	m.callCount.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.row, nil
}

func authedCtx(token string) context.Context {
	md := metadata.Pairs("authorization", token)
	return metadata.NewIncomingContext(context.Background(), md)
}

func newTestAuthenticator(store KeyStore) *KeyAuthenticator {
	return NewKeyAuthenticator(KeyAuthConfig{Store: store, CacheTTL: time.Minute, Logger: zap.NewNop()})
}

func TestParseBearer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Bearer psk_abc", "psk_abc"},
		{"bearer psk_abc", "psk_abc"},
		{"Bearer  psk_abc ", "psk_abc"},
		{"psk_abc", "psk_abc"},
		{"Bearer", "Bearer"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ParseBearer(tt.in); got != tt.want {
			t.Errorf("ParseBearer(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestKeyAuth_CacheMiss_ValidKey(t *testing.T) {
	store := &mockStore{row: &KeyRow{KeyID: "key_abc", Hash: testHash(t, testAPIKey), Role: RoleAdmin}}
	a := newTestAuthenticator(store)

	p, err := a.Authenticate(authedCtx("Bearer " + testAPIKey))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if p.KeyID != "key_abc" {
		t.Errorf("expected key ID key_abc, got %s", p.KeyID)
	}
	if !p.CanAdmin() {
		t.Error("expected admin principal")
	}
	if store.callCount.Load() != 1 {
		t.Errorf("expected 1 store call, got %d", store.callCount.Load())
	}
}

func TestKeyAuth_CacheHit_NoStoreCall(t *testing.T) {
	store := &mockStore{row: &KeyRow{KeyID: "key_abc", Hash: testHash(t, testAPIKey), Role: RoleClient}}
	a := newTestAuthenticator(store)

	if _, err := a.Verify(context.Background(), testAPIKey); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	p, err := a.Verify(context.Background(), testAPIKey)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if store.callCount.Load() != 1 {
		t.Errorf("expected still 1 store call (cache hit), got %d", store.callCount.Load())
	}
	if p.CanAdmin() {
		t.Error("client key must not be admin")
	}
}

func TestKeyAuth_WrongKey(t *testing.T) {
	store := &mockStore{row: &KeyRow{KeyID: "key_abc", Hash: testHash(t, testAPIKey)}}
	a := newTestAuthenticator(store)

	_, err := a.Authenticate(authedCtx("Bearer psk_test_wrong_key_doesnt_match"))
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey, got: %v", err)
	}
}

func TestKeyAuth_RejectsMalformedTokens(t *testing.T) {
	a := newTestAuthenticator(&mockStore{})

	tests := []struct {
		name  string
		token string
	}{
		{"wrong prefix", "Bearer xsk_abc123456"},
		{"no prefix", "Bearer abc123456"},
		{"empty after Bearer", "Bearer "},
		{"just Bearer", "Bearer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(authedCtx(tt.token))
			if err != ErrInvalidAPIKey {
				t.Errorf("expected ErrInvalidAPIKey for token '%s', got: %v", tt.token, err)
			}
		})
	}

	if _, err := a.Verify(context.Background(), "psk_ab"); err != ErrInvalidAPIKey {
		t.Errorf("expected ErrInvalidAPIKey for short key, got: %v", err)
	}
}

func TestKeyAuth_NoMetadata(t *testing.T) {
	a := newTestAuthenticator(&mockStore{})
	if _, err := a.Authenticate(context.Background()); err != ErrMissingAPIKey {
		t.Errorf("expected ErrMissingAPIKey, got: %v", err)
	}
}

func TestKeyAuth_StoreUnavailable(t *testing.T) {
	a := newTestAuthenticator(&mockStore{err: errors.New("connection refused")})

	_, err := a.Verify(context.Background(), testAPIKey)
	if !errors.Is(err, ErrAuthUnavailable) {
		t.Errorf("expected ErrAuthUnavailable, got: %v", err)
	}
}

func TestKeyAuth_UnknownPrefix(t *testing.T) {
	a := newTestAuthenticator(NewStaticKeyStore())
	if _, err := a.Verify(context.Background(), testAPIKey); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey, got: %v", err)
	}
}

func TestKeyAuth_StaleHit_RefreshDropsRevokedKey(t *testing.T) {
	store := &mockStore{row: &KeyRow{KeyID: "key_abc", Hash: testHash(t, testAPIKey)}}
	a := NewKeyAuthenticator(KeyAuthConfig{Store: store, CacheTTL: time.Millisecond})

	if _, err := a.Verify(context.Background(), testAPIKey); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	// Revoke: the store now rejects the key.
	store.err = ErrInvalidAPIKey

	// The stale value is still served while the refresh runs.
	if _, err := a.Verify(context.Background(), testAPIKey); err != nil {
		t.Fatalf("stale read should succeed, got: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, state := a.cache.get(testAPIKey); state == cacheMiss {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Error("expected revoked key to be evicted by background refresh")
}

func TestKeyAuth_StaleHit_StoreOutageKeepsKey(t *testing.T) {
	store := &mockStore{row: &KeyRow{KeyID: "key_abc", Hash: testHash(t, testAPIKey)}}
	a := NewKeyAuthenticator(KeyAuthConfig{Store: store, CacheTTL: time.Millisecond, MaxStale: time.Hour})

	if _, err := a.Verify(context.Background(), testAPIKey); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	store.err = errors.New("connection refused")

	if _, err := a.Verify(context.Background(), testAPIKey); err != nil {
		t.Fatalf("stale read should succeed, got: %v", err)
	}

	// The failed refresh releases its claim, so a later stale read retries.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if store.callCount.Load() >= 3 {
			break
		}
		if _, err := a.Verify(context.Background(), testAPIKey); err != nil {
			t.Fatalf("key must keep working during an outage, got: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	if store.callCount.Load() < 3 {
		t.Errorf("expected refresh to be retried, got %d store calls", store.callCount.Load())
	}
}

func TestStaticKeyStore(t *testing.T) {
	hash := testHash(t, testAPIKey)
	store := NewStaticKeyStore(KeyRow{KeyID: "admin", Prefix: PrefixOf(testAPIKey), Hash: hash, Role: RoleAdmin})
	a := newTestAuthenticator(store)

	p, err := a.Verify(context.Background(), testAPIKey)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if p.KeyID != "admin" || !p.CanAdmin() {
		t.Errorf("unexpected principal: %+v", p)
	}
}

func TestOpenAuthenticator(t *testing.T) {
	a := NewOpenAuthenticator()
	p, err := a.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !p.CanAdmin() {
		t.Error("open authenticator should grant admin")
	}
}

func BenchmarkKeyAuth_CachedVerify(b *testing.B) {
	hash, _ := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
	a := NewKeyAuthenticator(KeyAuthConfig{
		Store:    NewStaticKeyStore(KeyRow{KeyID: "k", Prefix: PrefixOf(testAPIKey), Hash: string(hash)}),
		CacheTTL: time.Hour,
	})
	ctx := context.Background()
	_, _ = a.Verify(ctx, testAPIKey)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = a.Verify(ctx, testAPIKey)
	}
}
