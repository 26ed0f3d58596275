package exclusion

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
)

// StaticLoader serves a fixed list, e.g. from EXCLUSION_EMAILS.
type StaticLoader []string

func (s StaticLoader) Load(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

type ObjectReader interface {
	ReadObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// ObjectLoader reads a newline separated list from an object. Blank lines
// and lines starting with '#' are ignored.
type ObjectLoader struct {
	Reader ObjectReader
	Bucket string
	Key    string
}

func (l ObjectLoader) Load(ctx context.Context) ([]string, error) {
	if l.Reader == nil {
		return nil, fmt.Errorf("exclusion: object reader not configured")
	}
	body, err := l.Reader.ReadObject(ctx, l.Bucket, l.Key)
	if err != nil {
		return nil, fmt.Errorf("exclusion: load list: %w", err)
	}
	return parseList(body), nil
}

func parseList(body []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, part := range strings.Split(line, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
