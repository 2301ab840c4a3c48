package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/goleak"

	"termchat/internal/session"
)

func fastPolicy(attempts uint64) ReconnectPolicy {
	return ReconnectPolicy{Attempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func TestReconnectRetriesUntilConnected(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := new(ConnectorMock)
	c.On("ConnectMessageStream", mock.Anything).Return(errors.New("connection refused")).Twice()
	c.On("ConnectMessageStream", mock.Anything).Return(nil).Once()

	err := Reconnect(t.Context(), c, fastPolicy(5), nil)
	assert.NoError(t, err)
	c.AssertNumberOfCalls(t, "ConnectMessageStream", 3)
}

func TestReconnectGivesUpAfterAttempts(t *testing.T) {
	c := new(ConnectorMock)
	c.On("ConnectMessageStream", mock.Anything).Return(errors.New("connection refused"))

	err := Reconnect(t.Context(), c, fastPolicy(3), nil)
	assert.EqualError(t, err, "connection refused")
	c.AssertNumberOfCalls(t, "ConnectMessageStream", 3)
}

func TestReconnectStopsWhenUnauthenticated(t *testing.T) {
	c := new(ConnectorMock)
	c.On("ConnectMessageStream", mock.Anything).Return(session.ErrUnauthenticated)

	err := Reconnect(t.Context(), c, fastPolicy(5), nil)
	assert.ErrorIs(t, err, session.ErrUnauthenticated)
	c.AssertNumberOfCalls(t, "ConnectMessageStream", 1)
}

func TestReconnectHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	c := new(ConnectorMock)
	c.On("ConnectMessageStream", mock.Anything).Return(errors.New("connection refused"))

	err := Reconnect(ctx, c, fastPolicy(5), nil)
	assert.ErrorIs(t, err, context.Canceled)
	c.AssertNumberOfCalls(t, "ConnectMessageStream", 1)
}

func TestDefaultReconnectPolicy(t *testing.T) {
	p := DefaultReconnectPolicy(4)
	assert.Equal(t, uint64(4), p.Attempts)
	assert.Equal(t, 500*time.Millisecond, p.InitialInterval)
	assert.Equal(t, 10*time.Second, p.MaxInterval)
}
