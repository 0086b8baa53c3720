package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// PublisherMock doubles the rabbitmq.Publisher used by the audit and
// notification emitters.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// EventPublisherMock doubles the observability.Publisher used for
// websocket session events.
type EventPublisherMock struct {
	mock.Mock
}

func (m *EventPublisherMock) PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	args := m.Called(ctx, routingKey, message, headers)
	return args.Error(0)
}
