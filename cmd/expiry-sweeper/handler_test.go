package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubExpirer struct {
	n     int64
	err   error
	calls int
}

func (s *stubExpirer) ExpireConsultations(context.Context) (int64, error) {
	s.calls++
	return s.n, s.err
}

func scheduledEvent() events.CloudWatchEvent {
	return events.CloudWatchEvent{
		ID:         "b1c2d3",
		Source:     "aws.events",
		DetailType: "Scheduled Event",
		Time:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewSweepHandler_RequiresExpirer(t *testing.T) {
	_, err := newSweepHandler(nil, zerolog.Nop())
	require.Error(t, err)
}

func TestHandle_ReportsExpiredCount(t *testing.T) {
	stub := &stubExpirer{n: 3}
	h, err := newSweepHandler(stub, zerolog.Nop())
	require.NoError(t, err)
	fixed := time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	out, err := h.Handle(context.Background(), scheduledEvent())
	require.NoError(t, err)
	require.Equal(t, int64(3), out.Expired)
	require.Equal(t, fixed, out.RanAt)
	require.Equal(t, 1, stub.calls)
}

func TestHandle_PropagatesFailure(t *testing.T) {
	stub := &stubExpirer{err: errors.New("connection refused")}
	h, err := newSweepHandler(stub, zerolog.Nop())
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), scheduledEvent())
	require.ErrorContains(t, err, "connection refused")
}
