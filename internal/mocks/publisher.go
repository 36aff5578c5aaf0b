package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// PublisherMock stands in for the AMQP publisher in audit and transport tests.
type PublisherMock struct {
	mock.Mock
}

// NewAcceptingPublisher returns a PublisherMock that accepts every publish.
func NewAcceptingPublisher() *PublisherMock {
	m := &PublisherMock{}
	m.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("PublishJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Close").Return(nil).Maybe()
	return m
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(ctx, routingKey, event).Error(0)
}

func (m *PublisherMock) PublishJSON(ctx context.Context, routingKey string, message any, headers map[string]string) error {
	return m.Called(ctx, routingKey, message, headers).Error(0)
}

func (m *PublisherMock) Close() error {
	return m.Called().Error(0)
}

// Events returns the payloads passed to Publish on routingKey, in order.
func (m *PublisherMock) Events(routingKey string) []any {
	var out []any
	for _, call := range m.Calls {
		if call.Method == "Publish" && call.Arguments.String(1) == routingKey {
			out = append(out, call.Arguments.Get(2))
		}
	}
	return out
}
