// Package vault implements the credential vault (C3): authenticated
// symmetric encryption for provider credentials at rest, masking for
// display, and PIN hashing/verification with a per-(IP, principal) attempt
// counter. Operations are free functions over a Vault value rather than
// methods hung off the Principal record, per the "prototype-style mixins
// → free functions" design note: the vault is a service, not a model method.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLen      = 32 // AES-256
	nonceLen    = 12 // 96-bit GCM nonce
	tagLen      = 16
	pbkdf2Iters = 100_000
	pinHashCost = 12
	// MaxPinAttempts is the number of consecutive failures that trips a
	// per-(IP, principal) lockout. Exported so store implementations can
	// bake the same threshold into their atomic increment-and-check upsert.
	MaxPinAttempts = 5
	maskVisible    = 4
	maskMaxStars   = 20
)

// derivationSalt is fixed so the derived key is stable across restarts when
// no explicit raw key is configured. It is not a secret by itself; secrecy
// comes from the token-signing secret it is derived alongside.
var derivationSalt = []byte("art-automation-credential-vault-v1")

// Vault holds the AEAD used to encrypt and decrypt provider credentials.
type Vault struct {
	aead cipher.AEAD
}

// New builds a Vault. If rawKeyHex decodes to exactly 32 bytes it is used
// directly as the AES-256 key; otherwise the key is derived from
// signingSecret via PBKDF2-SHA-256 with a fixed salt.
func New(rawKeyHex, signingSecret string) (*Vault, error) {
	key, err := resolveKey(rawKeyHex, signingSecret)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: build gcm: %w", err)
	}
	if gcm.NonceSize() != nonceLen || gcm.Overhead() != tagLen {
		return nil, fmt.Errorf("vault: unexpected gcm parameters")
	}
	return &Vault{aead: gcm}, nil
}

func resolveKey(rawKeyHex, signingSecret string) ([]byte, error) {
	if rawKeyHex != "" {
		raw, err := hex.DecodeString(rawKeyHex)
		if err != nil {
			return nil, fmt.Errorf("vault: raw key is not valid hex: %w", err)
		}
		if len(raw) != keyLen {
			return nil, fmt.Errorf("vault: raw key must be %d bytes, got %d", keyLen, len(raw))
		}
		return raw, nil
	}
	if signingSecret == "" {
		return nil, errors.New("vault: no raw key configured and no signing secret to derive from")
	}
	return pbkdf2.Key([]byte(signingSecret), derivationSalt, pbkdf2Iters, keyLen, sha256.New), nil
}

// Encrypt produces the "nonce:tag:ciphertext" stored form, each segment
// base64-(std, unpadded-free) encoded and colon-joined. An empty plaintext
// is stored as-is.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]
	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt reverses Encrypt. Any input that is not exactly three
// colon-joined segments is returned unchanged, preserving backward
// compatibility with legacy plaintext values stored before encryption was
// introduced.
func (v *Vault) Decrypt(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	parts := strings.Split(stored, ":")
	if len(parts) != 3 {
		return stored, nil
	}
	nonce, err1 := base64.StdEncoding.DecodeString(parts[0])
	tag, err2 := base64.StdEncoding.DecodeString(parts[1])
	ciphertext, err3 := base64.StdEncoding.DecodeString(parts[2])
	if err1 != nil || err2 != nil || err3 != nil || len(nonce) != nonceLen || len(tag) != tagLen {
		return stored, nil
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("vault: decrypt failed: %w", err)
	}
	return string(plain), nil
}

// Mask keeps the first and last up to 4 characters of s, replacing the
// middle with up to 20 asterisks.
func Mask(s string) string {
	runes := []rune(s)
	n := len(runes)
	if n == 0 {
		return ""
	}
	visible := maskVisible
	if n < visible {
		visible = n
	}
	if n <= 2*visible {
		return s
	}
	middle := n - 2*visible
	if middle > maskMaxStars {
		middle = maskMaxStars
	}
	return string(runes[:visible]) + strings.Repeat("*", middle) + string(runes[n-visible:])
}

// HashPin produces a slow salted hash suitable for at-rest PIN storage.
func HashPin(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), pinHashCost)
	if err != nil {
		return "", fmt.Errorf("vault: hash pin: %w", err)
	}
	return string(hash), nil
}

// ErrPinBlocked is returned when the per-(IP, principal) attempt counter has
// tripped the block threshold.
var ErrPinBlocked = errors.New("vault: pin verification blocked after too many failed attempts")

// AttemptStore is the subset of the durable store needed to track PIN
// brute-force attempts. IncrementPinAttempt must perform the increment as a
// single atomic upsert (increment-or-set-to-one) and set the blocked flag
// once attempts reach the threshold.
type AttemptStore interface {
	GetPinAttempt(ctx context.Context, ip, principalID string) (attempts int, blocked bool, err error)
	IncrementPinAttempt(ctx context.Context, ip, principalID string) (attempts int, blocked bool, err error)
	ResetPinAttempt(ctx context.Context, ip, principalID string) error
}

// VerifyPin checks candidate against pinHash, applying the 5-strikes
// per-(IP, principal) lockout. A principal already blocked fails every
// subsequent call with blocked=true regardless of whether candidate is
// correct — only an explicit reset (on a call made before the block
// tripped) clears it. It returns (true, false, nil) on a correct PIN while
// unblocked, (false, true, nil) once blocked, and (false, false, nil) on an
// incorrect PIN that did not (yet) trip the counter.
func VerifyPin(ctx context.Context, store AttemptStore, ip, principalID, pinHash, candidate string) (ok bool, blocked bool, err error) {
	_, alreadyBlocked, err := store.GetPinAttempt(ctx, ip, principalID)
	if err != nil {
		return false, false, err
	}
	if alreadyBlocked {
		return false, true, nil
	}

	if bcrypt.CompareHashAndPassword([]byte(pinHash), []byte(candidate)) == nil {
		if err := store.ResetPinAttempt(ctx, ip, principalID); err != nil {
			return false, false, err
		}
		return true, false, nil
	}

	attempts, blockedNow, err := store.IncrementPinAttempt(ctx, ip, principalID)
	if err != nil {
		return false, false, err
	}
	blocked = blockedNow || attempts >= MaxPinAttempts
	return false, blocked, nil
}
