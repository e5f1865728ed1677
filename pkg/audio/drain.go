package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Producers that write to unbuffered or full channels stay blocked otherwise.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
