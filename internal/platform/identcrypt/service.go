package identcrypt

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// fixedIV is shared by every caller so equal plaintexts map to equal ciphertexts.
// The ciphertext is used as a lookup key, which requires determinism.
var fixedIV = []byte("16bytes-fixed-iv")

var (
	ErrDecryption  = errors.New("identcrypt: decryption failed")
	ErrEmptySecret = errors.New("identcrypt: empty key secret")
)

// Service deterministically encrypts identifiers under one AES-256 key.
type Service struct {
	block       cipher.Block
	fingerprint string
}

// New derives the AES-256 key as SHA-256 of secret.
func New(secret string) (*Service, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("identcrypt: init cipher: %w", err)
	}
	fp := sha256.Sum256(key[:])
	return &Service{block: block, fingerprint: hex.EncodeToString(fp[:8])}, nil
}

// NewFromActiveKey builds the service for the key currently used by ingestion.
func NewFromActiveKey(ctx context.Context, secrets SecretProvider, activeName string) (*Service, error) {
	if strings.TrimSpace(activeName) == "" {
		return nil, fmt.Errorf("identcrypt: active key name not configured")
	}
	return NewFromNamedKey(ctx, secrets, activeName)
}

// NewFromNamedKey builds a service for an arbitrary named key, e.g. a rotation target.
func NewFromNamedKey(ctx context.Context, secrets SecretProvider, name string) (*Service, error) {
	if secrets == nil {
		return nil, fmt.Errorf("identcrypt: no secret provider")
	}
	secret, err := secrets.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	return New(secret)
}

// Encrypt returns unpadded URL-safe base64 of AES-CBC(PKCS7(plaintext)).
func (s *Service) Encrypt(plaintext string) string {
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(s.block, fixedIV).CryptBlocks(out, padded)
	return base64.RawURLEncoding.EncodeToString(out)
}

func (s *Service) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(ciphertext, "="))
	if err != nil {
		return "", fmt.Errorf("%w: bad encoding", ErrDecryption)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: bad length", ErrDecryption)
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(s.block, fixedIV).CryptBlocks(out, raw)
	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plain) {
		return "", fmt.Errorf("%w: invalid utf-8", ErrDecryption)
	}
	return string(plain), nil
}

// Fingerprint identifies the key without revealing it.
func (s *Service) Fingerprint() string { return s.fingerprint }

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
		}
	}
	return b[:len(b)-n], nil
}
