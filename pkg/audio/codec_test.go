package audio

import (
	"math"
	"sync"
	"testing"

	stderrors "errors"

	"voicegate-server/pkg/errors"
)

// TestDecodeMuLaw_KnownSamples tests mu-law decoding against known values
func TestDecodeMuLaw_KnownSamples(t *testing.T) {
	testCases := []struct {
		name  string
		input []byte
	}{
		{"empty payload", []byte{}},
		{"silence (0xFF = 0 in mu-law)", []byte{0xFF, 0xFF, 0xFF, 0xFF}},
		{"single sample", []byte{0x00}},
		{"multiple samples", []byte{0x00, 0x7F, 0x80, 0xFF}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := DecodeMuLaw(tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(tc.input) == 0 {
				if len(result) != 0 {
					t.Errorf("expected empty result for empty input, got %d bytes", len(result))
				}
				return
			}

			// Output is 16-bit samples at double the rate: 4x input size
			expectedLen := len(tc.input) * 4
			if len(result) != expectedLen {
				t.Errorf("expected %d bytes, got %d", expectedLen, len(result))
			}
		})
	}
}

func TestDecodeMuLaw_SilenceIsZero(t *testing.T) {
	result, err := DecodeMuLaw([]byte{0xFF, 0xFF})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, b := range result {
		if b != 0 {
			t.Errorf("byte %d: expected 0 for mu-law silence, got 0x%02x", i, b)
		}
	}
}

func TestEncodePCM_RejectsOddLength(t *testing.T) {
	_, err := EncodePCM([]byte{0x01, 0x02, 0x03})
	if !stderrors.Is(err, errors.ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestEncodePCM_EmptyInput(t *testing.T) {
	result, err := EncodePCM(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("expected empty result, got %d bytes", len(result))
	}
}

func TestEncodePCM_HalvesRate(t *testing.T) {
	// 8 samples at 16 kHz become 4 at 8 kHz, one mu-law byte each
	pcm := make([]byte, 16)
	result, err := EncodePCM(pcm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 4 {
		t.Errorf("expected 4 mu-law bytes, got %d", len(result))
	}
}

// TestCompandingRoundTrip checks that encode(decode(x)) preserves samples
// within mu-law quantization error across the dynamic range.
func TestCompandingRoundTrip(t *testing.T) {
	for _, sample := range []int16{0, 8, -8, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000} {
		encoded := encodeMuLawSample(sample)
		decoded := decodeMuLawSample(encoded)

		// Quantization step grows with magnitude; allow segment-sized error
		diff := math.Abs(float64(decoded) - float64(sample))
		limit := math.Max(16, math.Abs(float64(sample))*0.05)
		if diff > limit {
			t.Errorf("sample %d: round trip gave %d (diff %.0f, limit %.0f)", sample, decoded, diff, limit)
		}
	}
}

func TestCompandingSignSymmetry(t *testing.T) {
	for _, sample := range []int16{100, 1000, 10000} {
		pos := decodeMuLawSample(encodeMuLawSample(sample))
		neg := decodeMuLawSample(encodeMuLawSample(-sample))
		if pos != -neg {
			t.Errorf("sample %d: asymmetric companding: +%d vs %d", sample, pos, neg)
		}
	}
}

func TestUpsampleInterpolates(t *testing.T) {
	// Samples 0 and 1000: midpoint should be 500
	pcm := []byte{0x00, 0x00, 0xE8, 0x03}
	out := upsample2x(pcm)
	if len(out) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(out))
	}
	mid := int16(out[2]) | int16(out[3])<<8
	if mid != 500 {
		t.Errorf("expected interpolated 500, got %d", mid)
	}
}

// TestConcurrentUse exercises the codec from many goroutines; the adapter
// must have no shared mutable state.
func TestConcurrentUse(t *testing.T) {
	payload := make([]byte, 160)
	for i := range payload {
		payload[i] = byte(i)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				pcm, err := DecodeMuLaw(payload)
				if err != nil {
					t.Error(err)
					return
				}
				if _, err := EncodePCM(pcm); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
