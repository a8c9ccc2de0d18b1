package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a streaming channel must be
// consumed but its data is not needed (e.g., STT partials when no live feed
// is attached).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
