package kvstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Entity is one row addressed by (PartitionKey, RowKey). Props holds every
// non-key attribute; Version is the opaque optimistic-concurrency token.
type Entity struct {
	PartitionKey string
	RowKey       string
	Version      string
	Timestamp    time.Time
	Props        map[string]any
}

func NewEntity(pk, rk string) Entity {
	return Entity{PartitionKey: pk, RowKey: rk, Props: map[string]any{}}
}

func (e Entity) Key() Key { return Key{PartitionKey: e.PartitionKey, RowKey: e.RowKey} }

// Clone deep-copies Props through JSON so stored values never alias caller maps.
func (e Entity) Clone() Entity {
	out := e
	out.Props = cloneProps(e.Props)
	return out
}

func (e *Entity) Set(name string, v any) {
	if e.Props == nil {
		e.Props = map[string]any{}
	}
	e.Props[name] = v
}

func (e Entity) Has(name string) bool {
	_, ok := e.Props[name]
	return ok
}

func (e Entity) String(name string) string {
	v, ok := e.Props[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func (e Entity) Int(name string) int {
	return int(e.Int64(name))
}

func (e Entity) Int64(name string) int64 {
	v, ok := e.Props[name]
	if !ok || v == nil {
		return 0
	}
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(math.Round(t))
	case float32:
		return int64(math.Round(float64(t)))
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return int64(math.Round(f))
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return i
		}
	}
	return 0
}

func (e Entity) Float(name string) float64 {
	v, ok := e.Props[name]
	if !ok || v == nil {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	}
	return 0
}

func (e Entity) Bool(name string) bool {
	v, ok := e.Props[name]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	}
	return false
}

type Key struct {
	PartitionKey string
	RowKey       string
}

func (k Key) Less(o Key) bool {
	if k.PartitionKey != o.PartitionKey {
		return k.PartitionKey < o.PartitionKey
	}
	return k.RowKey < o.RowKey
}

func cloneProps(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	raw, err := json.Marshal(in)
	if err != nil {
		out := make(map[string]any, len(in))
		for k, v := range in {
			out[k] = v
		}
		return out
	}
	out, err := decodeProps(raw)
	if err != nil {
		return map[string]any{}
	}
	return out
}

func decodeProps(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func mergeProps(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
