package audio

import "encoding/binary"

// BytesToInt16LE unpacks little-endian PCM16 bytes into samples. A trailing
// odd byte is ignored. The wire format toward the model is little-endian
// regardless of host byte order.
func BytesToInt16LE(b []byte) []int16 {
	n := len(b) / 2
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Int16ToBytesLE packs samples into little-endian PCM16 bytes.
func Int16ToBytesLE(s []int16) []byte {
	if len(s) == 0 {
		return nil
	}
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// MulawToPCM24k converts a telephony μ-law frame to little-endian PCM16 at
// 24 kHz, ready for the model's input audio buffer.
func MulawToPCM24k(mu []byte) []byte {
	return Int16ToBytesLE(Upsample8kTo24k(DecodeMulaw(mu)))
}

// PCM24kToMulaw converts little-endian PCM16 at 24 kHz from the model to a
// telephony μ-law frame.
func PCM24kToMulaw(pcm []byte) []byte {
	return EncodeMulaw(Downsample24kTo8k(BytesToInt16LE(pcm)))
}
