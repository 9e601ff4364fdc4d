package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"github.com/miradorstack/mirador-cognition/internal/cache"
)

// CachedEmbedder memoises another Embedder's vectors in a cache.Provider.
type CachedEmbedder struct {
	next  Embedder
	cache cache.Provider
	model string
	ttl   time.Duration
}

// NewCachedEmbedder wraps next. Vectors are keyed by model and text hash.
func NewCachedEmbedder(next Embedder, provider cache.Provider, model string, ttl time.Duration) *CachedEmbedder {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &CachedEmbedder{next: next, cache: provider, model: model, ttl: ttl}
}

// Embed returns the cached vector or computes and stores it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if data, err := c.cache.Get(ctx, key); err == nil {
		if v, ok := decodeVector(data); ok {
			return v, nil
		}
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	_ = c.cache.Set(ctx, key, encodeVector(v), c.ttl)
	return v, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return "embedding:" + hex.EncodeToString(sum[:])
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, bool) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return v, true
}
