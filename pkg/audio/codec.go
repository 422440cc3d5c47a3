package audio

import (
	"voicegate-server/pkg/errors"
)

var muLawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawDecodeTable[i] = decodeMuLawSample(byte(i))
	}
}

// DecodeMuLaw converts a telephony mu-law 8 kHz frame into 16-bit linear PCM
// at the recognizer rate (16 kHz, little-endian, mono). Pure function; safe
// for concurrent use.
func DecodeMuLaw(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	pcm8k := muLawToPCM(payload)
	return upsample2x(pcm8k), nil
}

// EncodePCM converts 16-bit linear PCM at the recognizer rate (16 kHz,
// little-endian, mono) into a telephony mu-law 8 kHz frame. Rejects
// odd-length input since samples are two bytes wide.
func EncodePCM(pcm []byte) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, nil
	}
	if len(pcm)%2 != 0 {
		return nil, errors.NewInvalidFrame("PCM payload length must be even",
			map[string]interface{}{"length": len(pcm)})
	}

	pcm8k := downsample2x(pcm)

	out := make([]byte, len(pcm8k)/2)
	for i := range out {
		sample := int16(pcm8k[2*i]) | int16(pcm8k[2*i+1])<<8
		out[i] = encodeMuLawSample(sample)
	}
	return out, nil
}

func muLawToPCM(payload []byte) []byte {
	out := make([]byte, len(payload)*2)
	for i, b := range payload {
		sample := muLawDecodeTable[b]
		out[2*i] = byte(sample)
		out[2*i+1] = byte(sample >> 8)
	}
	return out
}

func decodeMuLawSample(uval byte) int16 {
	uval = ^uval
	sign := int16(uval & 0x80)
	exponent := (uval >> 4) & 0x07
	mantissa := uval & 0x0F
	magnitude := ((int16(mantissa) << 3) + 0x84) << exponent
	magnitude -= 0x84
	if sign != 0 {
		return -magnitude
	}
	return magnitude
}

func encodeMuLawSample(sample int16) byte {
	const (
		bias = 0x84
		clip = 32635
	)

	sign := byte(0)
	if sample < 0 {
		sign = 0x80
		if sample == -32768 {
			sample = -32767
		}
		sample = -sample
	}
	if sample > clip {
		sample = clip
	}
	biased := int32(sample) + bias

	exponent := byte(0)
	for v := biased >> 8; v != 0; v >>= 1 {
		exponent++
	}
	mantissa := byte(biased>>(exponent+3)) & 0x0F

	return ^(sign | exponent<<4 | mantissa)
}

// upsample2x doubles the sample rate of 16-bit little-endian PCM by
// linear interpolation between adjacent samples.
func upsample2x(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}

	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		cur := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		next := cur
		if i+1 < n {
			next = int16(pcm[2*(i+1)]) | int16(pcm[2*(i+1)+1])<<8
		}
		mid := int16((int32(cur) + int32(next)) / 2)

		out[4*i] = byte(cur)
		out[4*i+1] = byte(cur >> 8)
		out[4*i+2] = byte(mid)
		out[4*i+3] = byte(mid >> 8)
	}
	return out
}

// downsample2x halves the sample rate of 16-bit little-endian PCM by
// averaging sample pairs, which doubles as a crude anti-alias filter.
func downsample2x(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, (n/2)*2)
	for i := 0; i < n/2; i++ {
		a := int16(pcm[4*i]) | int16(pcm[4*i+1])<<8
		b := a
		if 4*i+3 < len(pcm) {
			b = int16(pcm[4*i+2]) | int16(pcm[4*i+3])<<8
		}
		avg := int16((int32(a) + int32(b)) / 2)
		out[2*i] = byte(avg)
		out[2*i+1] = byte(avg >> 8)
	}
	return out
}
