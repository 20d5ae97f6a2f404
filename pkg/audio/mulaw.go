// Package audio holds the G.711 µ-law codec and the greeting pre-cache.
//
// Telephony media streams carry µ-law at 8kHz; the agent provider's TTS
// returns 16-bit linear PCM. The codec here bridges the two for
// pre-rendered audio. Reference: ITU-T G.711.

package audio

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// segment end values for the eight µ-law chords
var mulawSegments = [8]int16{0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF, 0x3FFF, 0x7FFF}

// decode table, expanded once at startup
var mulawToLinear [256]int16

func init() {
	for i := 0; i < 256; i++ {
		u := ^byte(i)
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F
		magnitude := ((int16(mantissa)<<3 + mulawBias) << exponent) - mulawBias
		if u&0x80 != 0 {
			magnitude = -magnitude
		}
		mulawToLinear[i] = magnitude
	}
}

// MuLawDecode expands one µ-law byte to a 16-bit signed PCM sample.
func MuLawDecode(b byte) int16 {
	return mulawToLinear[b]
}

// MuLawEncode compresses one 16-bit signed PCM sample to µ-law.
func MuLawEncode(pcm int16) byte {
	// Widen before negating so -32768 doesn't wrap.
	sample := int32(pcm)
	sign := int32(0)
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > mulawClip {
		sample = mulawClip
	}
	sample += mulawBias

	segment := 7
	for i, end := range mulawSegments {
		if sample <= int32(end) {
			segment = i
			break
		}
	}

	return byte(^(sign | int32(segment)<<4 | (sample>>(segment+3))&0x0F))
}

// MuLawToPCM expands µ-law audio to little-endian 16-bit PCM.
func MuLawToPCM(mulaw []byte) []byte {
	pcm := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		sample := mulawToLinear[b]
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(sample >> 8)
	}
	return pcm
}

// PCMToMuLaw compresses little-endian 16-bit PCM to µ-law. A trailing
// odd byte is ignored.
func PCMToMuLaw(pcm []byte) []byte {
	mulaw := make([]byte, len(pcm)/2)
	for i := range mulaw {
		sample := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		mulaw[i] = MuLawEncode(sample)
	}
	return mulaw
}
