package service

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// KeyGenerator produces random short keys. Uniqueness is enforced by the caller against the store.
type KeyGenerator interface {
	Generate() string
}

type randomKeyGenerator struct {
	size int
}

// NewKeyGenerator returns a generator of hex keys built from size random bytes.
func NewKeyGenerator(size int) KeyGenerator {
	if size <= 0 {
		size = 3
	}
	return &randomKeyGenerator{size: size}
}

func (g *randomKeyGenerator) Generate() string {
	b := make([]byte, g.size)
	// crypto/rand.Read never fails on supported platforms.
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// KeyFilter remembers issued keys in a bloom filter so likely collisions are
// skipped without a store round-trip. A negative answer is still confirmed by the store.
type KeyFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewKeyFilter sizes the filter for expected keys at the given false-positive rate.
func NewKeyFilter(expected uint, falsePositiveRate float64) *KeyFilter {
	return &KeyFilter{filter: bloom.NewWithEstimates(expected, falsePositiveRate)}
}

// Seed adds already persisted keys.
func (f *KeyFilter) Seed(keys []string) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		f.filter.AddString(k)
	}
}

func (f *KeyFilter) Add(key string) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.filter.AddString(key)
	f.mu.Unlock()
}

// MayContain reports whether key was possibly issued before. Nil filters know nothing.
func (f *KeyFilter) MayContain(key string) bool {
	if f == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.TestString(key)
}
