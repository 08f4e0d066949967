package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const legacyPrefix = "enc:"

var (
	ErrEncryptionKeyMissing = errors.New("ENCRYPTION_KEY is required for legacy passwords")
	ErrInvalidCredentials   = errors.New("invalid email or password")
)

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword compares pw against a stored hash. Legacy hashes are
// reversibly encrypted; rehash reports that the caller should replace them.
func CheckPassword(stored, pw, encryptionKey string) (rehash bool, err error) {
	if !strings.HasPrefix(stored, legacyPrefix) {
		if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(pw)); err != nil {
			return false, ErrInvalidCredentials
		}
		return false, nil
	}
	plain, err := decryptLegacy(strings.TrimPrefix(stored, legacyPrefix), encryptionKey)
	if err != nil {
		return false, err
	}
	if subtle.ConstantTimeCompare([]byte(plain), []byte(pw)) != 1 {
		return false, ErrInvalidCredentials
	}
	return true, nil
}

func legacyKey(k string) ([]byte, error) {
	if k == "" {
		return nil, ErrEncryptionKeyMissing
	}
	if b, err := hex.DecodeString(k); err == nil && len(b) == 32 {
		return b, nil
	}
	sum := sha256.Sum256([]byte(k))
	return sum[:], nil
}

func legacyGCM(encryptionKey string) (cipher.AEAD, error) {
	key, err := legacyKey(encryptionKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptLegacy produces the enc: form. It exists for imports and tests;
// new passwords are always bcrypt.
func EncryptLegacy(pw, encryptionKey string) (string, error) {
	gcm, err := legacyGCM(encryptionKey)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(pw), nil)
	return legacyPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func decryptLegacy(encoded, encryptionKey string) (string, error) {
	gcm, err := legacyGCM(encryptionKey)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("malformed legacy password: %w", ErrInvalidCredentials)
	}
	plain, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	return string(plain), nil
}
