package vault

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New("", "a-signing-secret-that-is-long-enough-32")
	require.NoError(t, err)

	for _, plain := range []string{"sk-abc123", "a much longer credential value with spaces", "x"} {
		stored, err := v.Encrypt(plain)
		require.NoError(t, err)
		require.Equal(t, 3, len(strings.Split(stored, ":")))

		got, err := v.Decrypt(stored)
		require.NoError(t, err)
		require.Equal(t, plain, got)
	}
}

func TestDecryptLegacyPlaintextPassthrough(t *testing.T) {
	v, err := New("", "a-signing-secret-that-is-long-enough-32")
	require.NoError(t, err)

	for _, legacy := range []string{"plain-api-key", "no:colon:here:extra:segment", ""} {
		got, err := v.Decrypt(legacy)
		require.NoError(t, err)
		require.Equal(t, legacy, got)
	}
}

func TestRawKeyTakesPrecedence(t *testing.T) {
	rawKey := strings.Repeat("ab", 32) // 32 bytes of 0xab in hex
	v1, err := New(rawKey, "irrelevant-secret")
	require.NoError(t, err)
	v2, err := New(rawKey, "different-secret-entirely")
	require.NoError(t, err)

	stored, err := v1.Encrypt("secret-value")
	require.NoError(t, err)
	got, err := v2.Decrypt(stored)
	require.NoError(t, err)
	require.Equal(t, "secret-value", got)
}

func TestMask(t *testing.T) {
	require.Equal(t, "", Mask(""))
	require.Equal(t, "ab", Mask("ab"))
	require.Equal(t, "abcd", Mask("abcd"))
	require.Equal(t, "sk-1"+strings.Repeat("*", 20)+"d789", Mask("sk-1abcdefghijklmnopqrstuvwxyzd789"))
	require.Equal(t, "sk-1**d789", Mask("sk-1abd789"))
}

type fakeAttemptStore struct {
	attempts map[string]int
	blocked  map[string]bool
}

func newFakeAttemptStore() *fakeAttemptStore {
	return &fakeAttemptStore{attempts: map[string]int{}, blocked: map[string]bool{}}
}

func (f *fakeAttemptStore) key(ip, principalID string) string { return ip + "|" + principalID }

func (f *fakeAttemptStore) GetPinAttempt(ctx context.Context, ip, principalID string) (int, bool, error) {
	k := f.key(ip, principalID)
	return f.attempts[k], f.blocked[k], nil
}

func (f *fakeAttemptStore) IncrementPinAttempt(ctx context.Context, ip, principalID string) (int, bool, error) {
	k := f.key(ip, principalID)
	f.attempts[k]++
	if f.attempts[k] >= MaxPinAttempts {
		f.blocked[k] = true
	}
	return f.attempts[k], f.blocked[k], nil
}

func (f *fakeAttemptStore) ResetPinAttempt(ctx context.Context, ip, principalID string) error {
	k := f.key(ip, principalID)
	f.attempts[k] = 0
	f.blocked[k] = false
	return nil
}

func TestVerifyPinBruteForceLockout(t *testing.T) {
	hash, err := HashPin("1234")
	require.NoError(t, err)
	store := newFakeAttemptStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, blocked, err := VerifyPin(ctx, store, "1.2.3.4", "principal-a", hash, "0000")
		require.NoError(t, err)
		require.False(t, ok)
		if i < 4 {
			require.False(t, blocked, "attempt %d should not yet be blocked", i+1)
		} else {
			require.True(t, blocked, "5th failure should trip the lockout")
		}
	}

	// 6th call, correct PIN this time, from the same IP: still blocked.
	ok, blocked, err := VerifyPin(ctx, store, "1.2.3.4", "principal-a", hash, "1234")
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, blocked)

	// A different IP against the same principal is unaffected.
	ok, blocked, err = VerifyPin(ctx, store, "5.6.7.8", "principal-a", hash, "1234")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, blocked)

	// The original IP remains blocked even after the other IP succeeded.
	ok, blocked, err = VerifyPin(ctx, store, "1.2.3.4", "principal-a", hash, "1234")
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, blocked)
}
