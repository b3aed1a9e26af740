package broker

import (
	"context"
	"sync"
)

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Messages contains every message that was published.
	Messages []Message

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool
}

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) Publish(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishError != nil {
		return f.PublishError
	}

	f.Messages = append(f.Messages, msg)
	return nil
}

// Topic returns the messages published to topic.
func (f *FakePublisher) Topic(topic string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Message
	for _, m := range f.Messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (f *FakePublisher) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PublishError = err
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = nil
	f.PublishError = nil
	f.Closed = false
}
