package pipeline

// maxBackoffTicks caps the pause after repeated write failures.
const maxBackoffTicks = 64

// backoff delays retries of a failing write by a number of ticks that
// doubles with each consecutive failure.
type backoff struct {
	failures int
	next     uint64
}

func (b *backoff) ready(tick uint64) bool {
	return tick >= b.next
}

// fail records a failure at tick and returns the ticks until the next try.
func (b *backoff) fail(tick uint64) uint64 {
	b.failures++
	wait := uint64(maxBackoffTicks)
	if b.failures <= 6 {
		wait = min(uint64(1)<<(b.failures-1), maxBackoffTicks)
	}
	b.next = tick + wait
	return wait
}

func (b *backoff) reset() {
	b.failures = 0
	b.next = 0
}
