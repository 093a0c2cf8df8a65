package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// CompressThreshold is the encoded size above which values are gzipped.
// Event logs of a busy tab easily exceed it; rule sets rarely do.
const CompressThreshold = 8 * 1024

var gzipPool = sync.Pool{
	New: func() any {
		w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
		return w
	},
}

// Encode marshals v to JSON, gzipping the result when it is larger than
// CompressThreshold.
func Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("Encode: %w", err)
	}
	if len(raw) <= CompressThreshold {
		return raw, nil
	}

	var buf bytes.Buffer
	gz := gzipPool.Get().(*gzip.Writer)
	gz.Reset(&buf)
	if _, err := gz.Write(raw); err != nil {
		gzipPool.Put(gz)
		return nil, fmt.Errorf("Encode: %w", err)
	}
	if err := gz.Close(); err != nil {
		gzipPool.Put(gz)
		return nil, fmt.Errorf("Encode: %w", err)
	}
	gzipPool.Put(gz)
	return buf.Bytes(), nil
}

// Decode reverses Encode. Plain JSON and gzipped JSON are both accepted.
func Decode(data []byte, v any) error {
	if isGzip(data) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("Decode: %w", err)
		}
		defer zr.Close()
		raw, err := io.ReadAll(zr)
		if err != nil {
			return fmt.Errorf("Decode: %w", err)
		}
		data = raw
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("Decode: %w", err)
	}
	return nil
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// GetJSON loads key into v. It returns ErrNotFound when the key is missing.
func GetJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	return Decode(data, v)
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	return kv.Set(ctx, key, data)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
