package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	args := m.Called(ctx, routingKey, event, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// RecordingPublisher keeps every published event in memory.
type RecordingPublisher struct {
	mu     sync.Mutex
	Events []PublishedEvent
}

type PublishedEvent struct {
	RoutingKey string
	Event      any
	Headers    map[string]string
}

func (p *RecordingPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, PublishedEvent{RoutingKey: routingKey, Event: event, Headers: headers})
	return nil
}

func (p *RecordingPublisher) Close() error { return nil }

// Keys returns the routing keys published so far.
func (p *RecordingPublisher) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.Events))
	for _, e := range p.Events {
		keys = append(keys, e.RoutingKey)
	}
	return keys
}
