// Package obfuscate implements the Traffic Obfuscator (C8): padding to
// bucket sizes, send jitter, and decoy cover traffic. Every feature is
// independently toggleable and composable; none may change delivery
// order within a priority class or alter the bytes a receiver decodes
// back out once padding is stripped.
package obfuscate

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Config holds the obfuscator's tunables.
type Config struct {
	// PaddingBuckets are the frame sizes padding rounds up to, ascending.
	PaddingBuckets []int
	// MaxJitterMS bounds the random pre-transmit delay in milliseconds.
	// Zero disables jitter.
	MaxJitterMS int
	// DecoyRate is the average decoy frames emitted per second when real
	// traffic is below DecoyThreshold. Zero disables decoy traffic.
	DecoyRate float64
	// DecoyThreshold is the real-frame rate (frames/sec) below which
	// decoy cover traffic is emitted.
	DecoyThreshold float64
}

// DefaultPaddingBuckets is the fixed bucket ladder frame padding rounds up to.
var DefaultPaddingBuckets = []int{256, 512, 1024, 4096}

// Obfuscator applies padding, jitter, and decoy generation. A zero-value
// Config (all fields zero) makes every method a no-op, so callers can
// wire it unconditionally and let configuration decide what's active.
type Obfuscator struct {
	cfg Config
}

// New creates an Obfuscator. An empty PaddingBuckets slice disables
// padding; MaxJitterMS == 0 disables jitter; DecoyRate == 0 disables
// decoys.
func New(cfg Config) *Obfuscator {
	return &Obfuscator{cfg: cfg}
}

// Pad rounds data up to the next configured bucket size, appending
// zero bytes and a 4-byte little-endian original-length trailer so the
// receiver can strip it back down exactly. If data already exceeds every
// bucket, it is returned unpadded — obfuscation never truncates payload.
func (o *Obfuscator) Pad(data []byte) []byte {
	if len(o.cfg.PaddingBuckets) == 0 {
		return data
	}

	target := -1
	needed := len(data) + 4
	for _, bucket := range o.cfg.PaddingBuckets {
		if bucket >= needed {
			target = bucket
			break
		}
	}
	if target < 0 {
		return data
	}

	out := make([]byte, target)
	copy(out, data)
	n := uint32(len(data))
	out[target-4] = byte(n)
	out[target-3] = byte(n >> 8)
	out[target-2] = byte(n >> 16)
	out[target-1] = byte(n >> 24)
	return out
}

// Unpad reverses Pad, returning the original payload. It is a no-op
// (returns data unchanged) when padding is disabled or data is shorter
// than the trailer.
func (o *Obfuscator) Unpad(data []byte) []byte {
	if len(o.cfg.PaddingBuckets) == 0 || len(data) < 4 {
		return data
	}
	n := uint32(data[len(data)-4]) | uint32(data[len(data)-3])<<8 | uint32(data[len(data)-2])<<16 | uint32(data[len(data)-1])<<24
	if int(n) > len(data)-4 {
		return data
	}
	return data[:n]
}

// Jitter blocks for a random duration in [0, MaxJitterMS] before
// returning, or returns immediately if jitter is disabled or ctx is
// cancelled first.
func (o *Obfuscator) Jitter(ctx context.Context) error {
	if o.cfg.MaxJitterMS <= 0 {
		return nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(o.cfg.MaxJitterMS)+1))
	if err != nil {
		return fmt.Errorf("obfuscate: sample jitter: %w", err)
	}
	delay := time.Duration(n.Int64()) * time.Millisecond

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// DecoyInterval returns the next interval to wait before emitting a
// decoy frame, or zero (meaning "never") if decoys are disabled or the
// observed real-traffic rate is at or above the configured threshold.
// The caller is responsible for building a frame of indistinguishable
// size (by routing it through Pad with the same bucket set) and type
// (transport.MeshDecoy, discarded on receipt).
func (o *Obfuscator) DecoyInterval(observedRate float64) time.Duration {
	if o.cfg.DecoyRate <= 0 || observedRate >= o.cfg.DecoyThreshold {
		return 0
	}
	return time.Duration(float64(time.Second) / o.cfg.DecoyRate)
}
