package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/copilot-adoption-backend/internal/platform/envutil"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

type StorageMode string

const (
	StorageModeGCS      StorageMode = "gcs"
	StorageModeEmulator StorageMode = "gcs_emulator"
)

var ErrObjectNotFound = errors.New("gcp: object not found")

type StorageConfig struct {
	Mode         StorageMode
	EmulatorHost string
	// MaxObjectBytes caps how much of an object ReadObject returns.
	MaxObjectBytes int64
}

// StorageConfigFromEnv picks the emulator when STORAGE_EMULATOR_HOST is set
// and OBJECT_STORAGE_MODE does not say otherwise.
func StorageConfigFromEnv() (StorageConfig, error) {
	cfg := StorageConfig{
		EmulatorHost:   envutil.String("STORAGE_EMULATOR_HOST", ""),
		MaxObjectBytes: int64(envutil.Int("OBJECT_STORAGE_MAX_BYTES", 8<<20)),
	}
	raw := strings.ToLower(envutil.String("OBJECT_STORAGE_MODE", ""))
	switch StorageMode(raw) {
	case "":
		cfg.Mode = StorageModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode = StorageModeEmulator
		}
	case StorageModeGCS, StorageModeEmulator:
		cfg.Mode = StorageMode(raw)
	default:
		return cfg, fmt.Errorf("invalid OBJECT_STORAGE_MODE=%q (allowed: %q, %q)", raw, StorageModeGCS, StorageModeEmulator)
	}
	return cfg, cfg.Validate()
}

func (c StorageConfig) Validate() error {
	switch c.Mode {
	case StorageModeGCS:
		return nil
	case StorageModeEmulator:
		u, err := url.Parse(c.EmulatorHost)
		if c.EmulatorHost == "" || err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid STORAGE_EMULATOR_HOST=%q; expected absolute URL like http://fake-gcs:4443", c.EmulatorHost)
		}
		return nil
	default:
		return fmt.Errorf("invalid storage mode %q", c.Mode)
	}
}

// ObjectReader fetches small configuration objects from a bucket.
type ObjectReader struct {
	client   *storage.Client
	maxBytes int64
	log      *logger.Logger
}

func NewObjectReader(ctx context.Context, cfg StorageConfig, log *logger.Logger) (*ObjectReader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var opts []option.ClientOption
	if cfg.Mode == StorageModeEmulator {
		opts = append(opts, option.WithoutAuthentication(), option.WithEndpoint(strings.TrimRight(cfg.EmulatorHost, "/")+"/storage/v1/"))
	} else {
		opts = append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadOnly))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	maxBytes := cfg.MaxObjectBytes
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	log.With("service", "ObjectReader").Info("Object storage initialized", "mode", cfg.Mode, "emulator_host", cfg.EmulatorHost)
	return &ObjectReader{client: client, maxBytes: maxBytes, log: log}, nil
}

func (r *ObjectReader) ReadObject(ctx context.Context, bucket, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	rd, err := r.client.Bucket(bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, key, err)
	}
	defer rd.Close()
	body, err := io.ReadAll(io.LimitReader(rd, r.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", bucket, key, err)
	}
	return body, nil
}

func (r *ObjectReader) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
