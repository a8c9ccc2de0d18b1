package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

const (
	defaultCaptureSampleRate = 16000
	defaultCaptureChannels   = 1
	defaultChunkMs           = 100
)

// Compile-time assertion that Capture implements Source.
var _ Source = (*Capture)(nil)

// CaptureOption is a functional option for configuring a [Capture].
type CaptureOption func(*Capture)

// WithCommand replaces the capture command entirely. The command must write
// raw 16-bit signed little-endian PCM to stdout, matching the configured
// sample rate and channel count.
func WithCommand(name string, args ...string) CaptureOption {
	return func(c *Capture) {
		c.command = name
		c.args = args
	}
}

// WithCaptureSampleRate sets the sample rate (Hz) the capture command is
// expected to produce. Defaults to 16000.
func WithCaptureSampleRate(rate int) CaptureOption {
	return func(c *Capture) {
		c.sampleRate = rate
	}
}

// WithCaptureChannels sets the channel count the capture command is expected
// to produce. Defaults to 1 (mono).
func WithCaptureChannels(channels int) CaptureOption {
	return func(c *Capture) {
		c.channels = channels
	}
}

// WithChunkMs sets the duration of each emitted [Frame] in milliseconds.
// Smaller chunks lower silence-detection latency downstream. Defaults to
// 100 ms.
func WithChunkMs(ms int) CaptureOption {
	return func(c *Capture) {
		c.chunkMs = ms
	}
}

// FFmpegArgs builds the argument list for capturing raw PCM from an ALSA
// device with ffmpeg. device is the ALSA device name (e.g., "default").
func FFmpegArgs(device string, sampleRate, channels int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "alsa", "-i", device,
		"-f", "s16le",
		"-ar", fmt.Sprint(sampleRate),
		"-ac", fmt.Sprint(channels),
		"-",
	}
}

// ArecordArgs builds the argument list for capturing raw PCM with arecord.
// device is the ALSA device name (e.g., "default").
func ArecordArgs(device string, sampleRate, channels int) []string {
	return []string{
		"-D", device,
		"-f", "S16_LE",
		"-r", fmt.Sprint(sampleRate),
		"-c", fmt.Sprint(channels),
		"-t", "raw",
		"-q",
	}
}

// Capture implements [Source] by running a command-line recorder (ffmpeg by
// default) and chunking the raw PCM it writes to stdout into Frames.
//
// The subprocess is tied to the Start context: cancelling the context kills
// the recorder and closes the frame channel, so a recording stops cleanly
// when its visit session ends.
type Capture struct {
	command    string
	args       []string
	sampleRate int
	channels   int
	chunkMs    int

	mu      sync.Mutex
	cmd     *exec.Cmd
	started bool

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewCapture creates a Capture that records from the given ALSA device using
// ffmpeg. Use [WithCommand] to substitute arecord or any other recorder.
func NewCapture(device string, opts ...CaptureOption) (*Capture, error) {
	if device == "" {
		device = "default"
	}
	c := &Capture{
		sampleRate: defaultCaptureSampleRate,
		channels:   defaultCaptureChannels,
		chunkMs:    defaultChunkMs,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.sampleRate <= 0 || c.channels <= 0 || c.chunkMs <= 0 {
		return nil, errors.New("audio: sample rate, channels, and chunk duration must be positive")
	}
	if c.command == "" {
		c.command = "ffmpeg"
		c.args = FFmpegArgs(device, c.sampleRate, c.channels)
	}
	return c, nil
}

// Start launches the capture subprocess and returns the frame channel. The
// channel is closed when ctx is cancelled, Close is called, or the recorder
// exits. Start may be called at most once.
func (c *Capture) Start(ctx context.Context) (<-chan Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil, errors.New("audio: capture already started")
	}

	cmd := exec.CommandContext(ctx, c.command, c.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio: start %s: %w", c.command, err)
	}
	c.cmd = cmd
	c.started = true

	frames := make(chan Frame, 64)
	c.wg.Add(1)
	go c.readLoop(ctx, stdout, frames)

	return frames, nil
}

// readLoop reads fixed-size PCM chunks from the recorder's stdout and emits
// them as Frames until the stream ends.
func (c *Capture) readLoop(ctx context.Context, r io.Reader, frames chan<- Frame) {
	defer c.wg.Done()
	defer close(frames)
	defer func() {
		// Reap the subprocess; the error is uninteresting once the stream
		// has ended (context kills report as exit errors).
		_ = c.cmd.Wait()
	}()

	chunkBytes := c.sampleRate * c.channels * 2 * c.chunkMs / 1000
	chunkDur := time.Duration(c.chunkMs) * time.Millisecond
	var elapsed time.Duration

	for {
		buf := make([]byte, chunkBytes)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			frame := Frame{
				Data:       buf[:n],
				SampleRate: c.sampleRate,
				Channels:   c.channels,
				Timestamp:  elapsed,
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
			elapsed += chunkDur
		}
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}
	}
}

// Close stops the recorder and waits for the frame channel to close. Calling
// Close more than once is safe and returns nil.
func (c *Capture) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.cmd != nil && c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		c.mu.Unlock()
		c.wg.Wait()
	})
	return nil
}
