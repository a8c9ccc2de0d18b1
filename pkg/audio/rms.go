package audio

import (
	"encoding/binary"
	"math"
)

// RMS returns the root-mean-square energy of 16-bit signed little-endian PCM
// data. The result is in sample units (0–32767); ambient room noise on a
// typical microphone sits well below 300.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
