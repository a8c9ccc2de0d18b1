package whisper

import "encoding/binary"

// whisper.cpp wants mono float32 samples in [-1, 1], while the capture
// pipeline delivers 16-bit signed little-endian PCM. These helpers bridge the
// two formats just before inference.

// floatSamples decodes 16-bit PCM into normalised float32 samples. A trailing
// odd byte is not a full sample and is ignored.
func floatSamples(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// monoSamples decodes 16-bit PCM and down-mixes it to mono by averaging the
// channels of each frame. Exam-room USB microphones often report stereo even
// with a single capsule, so this runs on every chunk fed to the model.
func monoSamples(pcm []byte, channels int) []float32 {
	if channels <= 1 {
		return floatSamples(pcm)
	}
	frames := len(pcm) / (2 * channels)
	out := make([]float32, frames)
	for i := range out {
		var sum float32
		for ch := range channels {
			s := int16(binary.LittleEndian.Uint16(pcm[2*(i*channels+ch):]))
			sum += float32(s) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}
