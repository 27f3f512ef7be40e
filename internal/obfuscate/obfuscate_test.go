package obfuscate

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestPadRoundsUpToNextBucket(t *testing.T) {
	o := New(Config{PaddingBuckets: DefaultPaddingBuckets})
	data := bytes.Repeat([]byte{0xAB}, 100)

	padded := o.Pad(data)
	if len(padded) != 256 {
		t.Fatalf("expected padding to 256 bytes, got %d", len(padded))
	}

	back := o.Unpad(padded)
	if !bytes.Equal(back, data) {
		t.Fatal("expected Unpad to recover the original payload exactly")
	}
}

func TestPadPicksExactBucketBoundary(t *testing.T) {
	o := New(Config{PaddingBuckets: DefaultPaddingBuckets})
	data := bytes.Repeat([]byte{1}, 508) // 508 + 4-byte trailer == 512

	padded := o.Pad(data)
	if len(padded) != 512 {
		t.Fatalf("expected exact-fit to land in the 512 bucket, got %d", len(padded))
	}
}

func TestPadLeavesOversizedPayloadUnchanged(t *testing.T) {
	o := New(Config{PaddingBuckets: DefaultPaddingBuckets})
	data := bytes.Repeat([]byte{2}, 5000)

	padded := o.Pad(data)
	if !bytes.Equal(padded, data) {
		t.Fatal("expected oversized payload to pass through unpadded")
	}
}

func TestPadDisabledIsNoOp(t *testing.T) {
	o := New(Config{})
	data := []byte("hello")
	if !bytes.Equal(o.Pad(data), data) {
		t.Fatal("expected disabled padding to be a no-op")
	}
}

func TestJitterDisabledReturnsImmediately(t *testing.T) {
	o := New(Config{})
	start := time.Now()
	if err := o.Jitter(context.Background()); err != nil {
		t.Fatalf("Jitter: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("expected disabled jitter to return immediately")
	}
}

func TestJitterRespectsContextCancellation(t *testing.T) {
	o := New(Config{MaxJitterMS: 10_000})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := o.Jitter(ctx); err == nil {
		t.Fatal("expected cancelled context to short-circuit jitter")
	}
}

func TestDecoyIntervalDisabledByDefault(t *testing.T) {
	o := New(Config{})
	if d := o.DecoyInterval(0); d != 0 {
		t.Fatalf("expected 0 interval when decoys disabled, got %v", d)
	}
}

func TestDecoyIntervalSuppressedAboveThreshold(t *testing.T) {
	o := New(Config{DecoyRate: 1, DecoyThreshold: 5})
	if d := o.DecoyInterval(10); d != 0 {
		t.Fatalf("expected 0 interval when real traffic exceeds threshold, got %v", d)
	}
}

func TestDecoyIntervalActiveBelowThreshold(t *testing.T) {
	o := New(Config{DecoyRate: 2, DecoyThreshold: 5})
	d := o.DecoyInterval(1)
	if d != 500*time.Millisecond {
		t.Fatalf("expected 500ms interval for rate 2/s, got %v", d)
	}
}
