// Package crypto loads the trading key and signs trade intents with it.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keystoreVersion  = 1
)

var errEmptyPassword = errors.New("crypto: password must not be empty")

// sealedKey is the on-disk keystore format. All byte fields are standard
// base64.
type sealedKey struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig says where the signing key comes from. The raw key wins over
// the keystore file when both are set.
type KeyConfig struct {
	RawPrivateKey string
	KeystorePath  string
	Password      string
}

// Configured reports whether any key source is set.
func (c KeyConfig) Configured() bool {
	return c.RawPrivateKey != "" || c.KeystorePath != ""
}

// gcmFor derives the AES-256-GCM cipher for password and salt.
func gcmFor(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

func parseKeyHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: private key is not hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(b))
	}
	return b, nil
}

// SealKey encrypts a hex private key under password and returns the
// keystore JSON.
func SealKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errEmptyPassword
	}
	key, err := parseKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := gcmFor(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	enc := base64.StdEncoding
	return json.MarshalIndent(sealedKey{
		Version:    keystoreVersion,
		Salt:       enc.EncodeToString(salt),
		Nonce:      enc.EncodeToString(nonce),
		Ciphertext: enc.EncodeToString(gcm.Seal(nil, nonce, key, nil)),
	}, "", "  ")
}

// OpenKey decrypts keystore JSON produced by SealKey and returns the private
// key as hex without a 0x prefix.
func OpenKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}
	var sk sealedKey
	if err := json.Unmarshal(data, &sk); err != nil {
		return "", fmt.Errorf("crypto: keystore json: %w", err)
	}
	if sk.Version != keystoreVersion {
		return "", fmt.Errorf("crypto: unsupported keystore version %d", sk.Version)
	}

	enc := base64.StdEncoding
	var parts [3][]byte
	for i, field := range []string{sk.Salt, sk.Nonce, sk.Ciphertext} {
		b, err := enc.DecodeString(field)
		if err != nil {
			return "", fmt.Errorf("crypto: keystore field %d: %w", i, err)
		}
		parts[i] = b
	}

	gcm, err := gcmFor(password, parts[0])
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, parts[1], parts[2], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt keystore (wrong password?): %w", err)
	}
	return hex.EncodeToString(plain), nil
}

// LoadKey resolves the private key hex from cfg.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		b, err := parseKeyHex(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(b), nil
	}
	if cfg.KeystorePath != "" {
		data, err := os.ReadFile(cfg.KeystorePath)
		if err != nil {
			return "", fmt.Errorf("crypto: read keystore: %w", err)
		}
		return OpenKey(data, cfg.Password)
	}
	return "", errors.New("crypto: no key source configured")
}
