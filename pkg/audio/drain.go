package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a streaming channel's contents
// are no longer needed (e.g., a superseded synthesis result stream).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
