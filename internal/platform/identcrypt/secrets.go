package identcrypt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"
)

var ErrSecretNotFound = errors.New("identcrypt: secret not found")

// SecretProvider resolves named key material.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// EnvSecrets reads SECRET_<NAME>, with non-alphanumerics mapped to underscores.
type EnvSecrets struct{}

func (EnvSecrets) GetSecret(_ context.Context, name string) (string, error) {
	v := strings.TrimSpace(os.Getenv(EnvName(name)))
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return v, nil
}

func EnvName(name string) string {
	var b strings.Builder
	b.WriteString("SECRET_")
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// StaticSecrets serves secrets from a fixed map, e.g. the config file.
type StaticSecrets map[string]string

func (s StaticSecrets) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := s[name]; ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

// ChainSecrets tries each provider in order.
type ChainSecrets []SecretProvider

func (c ChainSecrets) GetSecret(ctx context.Context, name string) (string, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		v, err := p.GetSecret(ctx, name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}
