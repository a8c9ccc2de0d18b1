package whisper

import (
	"encoding/binary"
	"math"
	"testing"
)

func encodePCM(values []int16) []byte {
	pcm := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

func TestFloatSamples(t *testing.T) {
	tests := []struct {
		name   string
		values []int16
		want   []float32
	}{
		{"empty", nil, nil},
		{"max positive", []int16{32767}, []float32{32767.0 / 32768.0}},
		{"max negative", []int16{-32768}, []float32{-1.0}},
		{"zero", []int16{0}, []float32{0}},
		{"mixed", []int16{0, 16384, -16384}, []float32{0, 0.5, -0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := floatSamples(encodePCM(tt.values))
			if len(got) != len(tt.want) {
				t.Fatalf("got %d samples, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-6 {
					t.Errorf("sample[%d] = %f, want %f", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFloatSamples_TrailingOddByteIgnored(t *testing.T) {
	got := floatSamples([]byte{0x00, 0x40, 0xFF})
	if len(got) != 1 {
		t.Fatalf("got %d samples from 3-byte input, want 1", len(got))
	}
}

func TestMonoSamples_SingleChannelPassthrough(t *testing.T) {
	pcm := encodePCM([]int16{100, -200, 300})
	mono := monoSamples(pcm, 1)
	direct := floatSamples(pcm)
	if len(mono) != len(direct) {
		t.Fatalf("length mismatch: mono=%d, direct=%d", len(mono), len(direct))
	}
	for i := range mono {
		if mono[i] != direct[i] {
			t.Errorf("sample[%d]: mono=%f, direct=%f", i, mono[i], direct[i])
		}
	}
}

func TestMonoSamples_ZeroChannelsFallsBack(t *testing.T) {
	mono := monoSamples(encodePCM([]int16{1000, -1000}), 0)
	if len(mono) != 2 {
		t.Fatalf("got %d samples, want 2", len(mono))
	}
}

func TestMonoSamples_Downmix(t *testing.T) {
	tests := []struct {
		name     string
		values   []int16
		channels int
		want     []float32
	}{
		{
			name:     "stereo two frames",
			values:   []int16{1000, 3000, -2000, -4000},
			channels: 2,
			want:     []float32{2000.0 / 32768.0, -3000.0 / 32768.0},
		},
		{
			name:     "three channels one frame",
			values:   []int16{3000, 6000, 9000},
			channels: 3,
			want:     []float32{6000.0 / 32768.0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mono := monoSamples(encodePCM(tt.values), tt.channels)
			if len(mono) != len(tt.want) {
				t.Fatalf("got %d mono samples, want %d", len(mono), len(tt.want))
			}
			for i := range mono {
				if math.Abs(float64(mono[i]-tt.want[i])) > 1e-6 {
					t.Errorf("mono[%d] = %f, want %f", i, mono[i], tt.want[i])
				}
			}
		})
	}
}
