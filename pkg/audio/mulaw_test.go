package audio_test

import (
	"testing"

	"github.com/Vivek-Chaudhari30/voice-agent/pkg/audio"
)

func TestDecodeMulaw_Empty(t *testing.T) {
	if out := audio.DecodeMulaw(nil); len(out) != 0 {
		t.Errorf("expected empty output, got %d samples", len(out))
	}
	if out := audio.EncodeMulaw(nil); len(out) != 0 {
		t.Errorf("expected empty output, got %d bytes", len(out))
	}
}

func TestMulaw_RoundTrip(t *testing.T) {
	// encode(decode(b)) == b for every μ-law byte except 0x7F: that is the
	// negative-zero code, which decodes to 0 and re-encodes to the positive
	// zero code 0xFF.
	for i := 0; i < 256; i++ {
		b := byte(i)
		if b == 0x7F {
			continue
		}
		decoded := audio.DecodeMulaw([]byte{b})
		if len(decoded) != 1 {
			t.Fatalf("byte %#02x: expected 1 sample, got %d", b, len(decoded))
		}
		encoded := audio.EncodeMulaw(decoded)
		if encoded[0] != b {
			t.Errorf("byte %#02x: round-tripped to %#02x (sample %d)", b, encoded[0], decoded[0])
		}
	}
}

func TestMulaw_NegativeZeroCode(t *testing.T) {
	decoded := audio.DecodeMulaw([]byte{0x7F})
	if decoded[0] != 0 {
		t.Errorf("0x7F should decode to 0, got %d", decoded[0])
	}
	encoded := audio.EncodeMulaw([]int16{0})
	if encoded[0] != 0xFF {
		t.Errorf("0 should encode to 0xFF, got %#02x", encoded[0])
	}
}

func TestEncodeMulaw_SignSymmetry(t *testing.T) {
	for _, v := range []int16{1, 100, 1000, 8000, 32000} {
		pos := audio.EncodeMulaw([]int16{v})[0]
		neg := audio.EncodeMulaw([]int16{-v})[0]
		// The sign bit is the MSB of the pre-inversion byte, so encoded
		// positive and negative magnitudes differ exactly in bit 7.
		if pos^neg != 0x80 {
			t.Errorf("value %d: pos=%#02x neg=%#02x, expected sign-bit difference only", v, pos, neg)
		}
	}
}

func TestEncodeMulaw_Clipping(t *testing.T) {
	max := audio.EncodeMulaw([]int16{32767})
	clip := audio.EncodeMulaw([]int16{32635})
	if max[0] != clip[0] {
		t.Errorf("32767 should clip to the same code as 32635: got %#02x vs %#02x", max[0], clip[0])
	}
	min := audio.EncodeMulaw([]int16{-32768})
	negClip := audio.EncodeMulaw([]int16{-32635})
	if min[0] != negClip[0] {
		t.Errorf("-32768 should clip to the same code as -32635: got %#02x vs %#02x", min[0], negClip[0])
	}
}

func TestMulaw_QuantizationError(t *testing.T) {
	// decode(encode(x)) must stay within the μ-law step size at |x|. The step
	// doubles per segment; 1024 comfortably bounds the largest segment's step
	// for magnitudes below clip.
	for x := int16(-32000); x <= 32000; x += 997 {
		q := audio.DecodeMulaw(audio.EncodeMulaw([]int16{x}))[0]
		diff := int32(q) - int32(x)
		if diff < 0 {
			diff = -diff
		}
		if diff > 1024 {
			t.Errorf("x=%d: quantized to %d (error %d)", x, q, diff)
		}
	}
}

func TestMulaw_SmallValuesClose(t *testing.T) {
	// The first segment has step 8, so small magnitudes stay close.
	for _, x := range []int16{0, 4, 8, -4, -8} {
		q := audio.DecodeMulaw(audio.EncodeMulaw([]int16{x}))[0]
		diff := int32(q) - int32(x)
		if diff < 0 {
			diff = -diff
		}
		if diff > 8 {
			t.Errorf("x=%d: quantized to %d (error %d), want ≤8", x, q, diff)
		}
	}
}
