package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/cliniscribe/cliniscribe/pkg/audio"
)

func pcmBytes(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func pcmSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func wantSamples(t *testing.T, pcm []byte, want []int16) {
	t.Helper()
	got := pcmSamples(pcm)
	if len(got) != len(want) {
		t.Fatalf("got %d samples %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	tests := []struct {
		name   string
		stereo []int16
		want   []int16
	}{
		{"averages pairs", []int16{100, 200, -100, -200}, []int16{150, -150}},
		{"clamps at max", []int16{32767, 32767}, []int16{32767}},
		{"clamps at min", []int16{-32768, -32768}, []int16{-32768}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantSamples(t, audio.StereoToMono(pcmBytes(tt.stereo...)), tt.want)
		})
	}
}

func TestMonoToStereo(t *testing.T) {
	wantSamples(t, audio.MonoToStereo(pcmBytes(100, 200, 300)),
		[]int16{100, 100, 200, 200, 300, 300})
}

func TestMonoToStereo_TrailingOddByteIgnored(t *testing.T) {
	pcm := append(pcmBytes(100, 200), 0xFF)
	wantSamples(t, audio.MonoToStereo(pcm), []int16{100, 100, 200, 200})
}

func TestResampleMono16(t *testing.T) {
	t.Run("same rate passes through", func(t *testing.T) {
		pcm := pcmBytes(100, 200, 300)
		out := audio.ResampleMono16(pcm, 16000, 16000)
		if &out[0] != &pcm[0] {
			t.Error("same-rate resample should return the input slice")
		}
	})

	t.Run("48k to 16k", func(t *testing.T) {
		out := audio.ResampleMono16(pcmBytes(100, 200, 300, 400, 500, 600), 48000, 16000)
		if got := len(out) / 2; got != 2 {
			t.Fatalf("got %d samples, want 2", got)
		}
	})

	t.Run("16k to 48k interpolates", func(t *testing.T) {
		got := pcmSamples(audio.ResampleMono16(pcmBytes(1000, 2000), 16000, 48000))
		if len(got) != 6 {
			t.Fatalf("got %d samples, want 6", len(got))
		}
		if got[0] != 1000 {
			t.Errorf("first sample = %d, want 1000", got[0])
		}
		if last := got[5]; last < 1800 || last > 2200 {
			t.Errorf("last sample = %d, want near 2000", last)
		}
	})

	t.Run("invalid rates pass through", func(t *testing.T) {
		pcm := pcmBytes(100, 200)
		for _, rates := range [][2]int{{0, 48000}, {48000, 0}, {-1, 48000}} {
			if out := audio.ResampleMono16(pcm, rates[0], rates[1]); len(out) != len(pcm) {
				t.Errorf("ResampleMono16(%d, %d) changed length to %d", rates[0], rates[1], len(out))
			}
		}
	})
}

func TestResampleStereo16(t *testing.T) {
	out := audio.ResampleStereo16(pcmBytes(100, 200, 300, 400), 16000, 48000)
	got := pcmSamples(out)
	if len(got) != 12 {
		t.Fatalf("got %d samples, want 12", len(got))
	}
	if got[0] != 100 || got[1] != 200 {
		t.Errorf("first frame = [%d %d], want [100 200]", got[0], got[1])
	}

	pcm := pcmBytes(100, 200, 300, 400)
	if out := audio.ResampleStereo16(pcm, 0, 48000); len(out) != len(pcm) {
		t.Errorf("invalid rate changed length to %d", len(out))
	}
}

func TestFormatConverter_MatchingFormatPassesThrough(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	frame := audio.Frame{
		Data:       pcmBytes(100, 200),
		SampleRate: 16000,
		Channels:   1,
	}
	result := conv.Convert(frame)
	if &result.Data[0] != &frame.Data[0] {
		t.Error("matching format should return the input slice unchanged")
	}
}

func TestFormatConverter_Downmix(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	result := conv.Convert(audio.Frame{
		Data:       pcmBytes(100, 200, -100, -200),
		SampleRate: 16000,
		Channels:   2,
	})
	wantSamples(t, result.Data, []int16{150, -150})
	if result.SampleRate != 16000 || result.Channels != 1 {
		t.Errorf("format = %dHz %dch, want 16000Hz 1ch", result.SampleRate, result.Channels)
	}
}

func TestFormatConverter_ResampleAndDownmix(t *testing.T) {
	// A 44.1 kHz stereo consumer headset feeding the 16 kHz mono pipeline.
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	result := conv.Convert(audio.Frame{
		Data:       pcmBytes(1000, 1000, 2000, 2000, 3000, 3000, 4000, 4000),
		SampleRate: 44100,
		Channels:   2,
	})
	if result.SampleRate != 16000 || result.Channels != 1 {
		t.Errorf("format = %dHz %dch, want 16000Hz 1ch", result.SampleRate, result.Channels)
	}
	if len(result.Data) == 0 {
		t.Error("output is empty")
	}
	if len(result.Data)%2 != 0 {
		t.Errorf("mono int16 output has odd byte count %d", len(result.Data))
	}
}

func TestFormatConverter_DropsCorruptFrames(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}

	for _, rate := range []int{44100, 16000} {
		result := conv.Convert(audio.Frame{
			Data:       []byte{1, 2, 3},
			SampleRate: rate,
			Channels:   1,
		})
		if len(result.Data) != 0 {
			t.Errorf("rate %d: got %d bytes for odd input, want 0", rate, len(result.Data))
		}
		if result.SampleRate != 16000 || result.Channels != 1 {
			t.Errorf("rate %d: dropped frame format = %dHz %dch, want target format",
				rate, result.SampleRate, result.Channels)
		}
	}
}

func TestConvertStream(t *testing.T) {
	in := make(chan audio.Frame, 3)
	out := audio.ConvertStream(in, audio.Format{SampleRate: 16000, Channels: 1})

	in <- audio.Frame{Data: pcmBytes(100, 200, 300, 400), SampleRate: 16000, Channels: 2}
	in <- audio.Frame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1}
	in <- audio.Frame{Data: pcmBytes(500, 600), SampleRate: 16000, Channels: 1}
	close(in)

	var results []audio.Frame
	for frame := range out {
		results = append(results, frame)
	}

	if len(results) != 2 {
		t.Fatalf("got %d frames, want 2 with the corrupt frame dropped", len(results))
	}
	wantSamples(t, results[0].Data, []int16{150, 350})
	wantSamples(t, results[1].Data, []int16{500, 600})
}
