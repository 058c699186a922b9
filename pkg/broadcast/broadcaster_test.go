package broadcast

import (
	"testing"
	"time"

	"ssw-logs-capture/pkg/apperrors"
	"ssw-logs-capture/pkg/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type spyObserver struct {
	received []Envelope
}

func (s *spyObserver) Notify(env Envelope) {
	s.received = append(s.received, env)
}

func TestBroadcastReachesAllObservers(t *testing.T) {
	b := New(nil, clock.NewFake(time.Now()))
	s1, s2 := &spyObserver{}, &spyObserver{}
	b.Subscribe(s1)
	b.Subscribe(s2)

	reached := b.Broadcast(MessageSystemStatusUpdate, PriorityMedium, "", nil)
	assert.Equal(t, 2, reached)
	require.Len(t, s1.received, 1)
	require.Len(t, s2.received, 1)
}

func TestBroadcastProcessingResultClassifiesFailureAsHighPriority(t *testing.T) {
	b := New(nil, clock.NewFake(time.Now()))
	s := &spyObserver{}
	b.Subscribe(s)

	reached, throttled := b.BroadcastProcessingResult("sshd", ProcessingOutcome{EntryID: "e1", Success: false})
	assert.False(t, throttled)
	assert.Equal(t, 1, reached)
	require.Len(t, s.received, 1)
	assert.Equal(t, PriorityHigh, s.received[0].Priority)
	assert.Equal(t, ResultFailure, s.received[0].Payload["result_type"])
}

func TestBroadcastProcessingResultThrottlesRepeatedSuccess(t *testing.T) {
	fc := clock.NewFake(time.Now())
	b := New(nil, fc)
	s := &spyObserver{}
	b.Subscribe(s)
	b.AddThrottleRule("sshd", ResultSuccess, time.Minute)

	b.BroadcastProcessingResult("sshd", ProcessingOutcome{EntryID: "e1", Success: true})
	_, throttled := b.BroadcastProcessingResult("sshd", ProcessingOutcome{EntryID: "e2", Success: true})

	assert.True(t, throttled)
	assert.Len(t, s.received, 1)
}

func TestBroadcastProcessingResultNeverThrottlesFailure(t *testing.T) {
	fc := clock.NewFake(time.Now())
	b := New(nil, fc)
	s := &spyObserver{}
	b.Subscribe(s)
	b.AddThrottleRule("sshd", ResultFailure, time.Hour)

	b.BroadcastProcessingResult("sshd", ProcessingOutcome{EntryID: "e1", Success: false})
	_, throttled := b.BroadcastProcessingResult("sshd", ProcessingOutcome{EntryID: "e2", Success: false})

	assert.False(t, throttled)
	assert.Len(t, s.received, 2)
}

func TestBroadcastErrorImplementsErrorSink(t *testing.T) {
	b := New(nil, clock.NewFake(time.Now()))
	s := &spyObserver{}
	b.Subscribe(s)

	appErr := apperrors.New(apperrors.KindStorage, "persistence", "commit", "boom").WithCorrelationID("evt-9")
	b.BroadcastError(appErr)

	require.Len(t, s.received, 1)
	assert.Equal(t, MessageErrorNotification, s.received[0].Type)
	assert.Equal(t, "evt-9", s.received[0].EntryID)
}
