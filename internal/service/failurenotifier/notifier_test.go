package failurenotifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakub-figat/chromatin/internal/observability/notify"
)

type captureSink struct {
	mu       sync.Mutex
	received []notify.JobFailurePayload
}

func (c *captureSink) SendJobFailure(_ context.Context, payload notify.JobFailurePayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, payload)
	return nil
}

func TestServiceNotifyJobFailure(t *testing.T) {
	first, second := &captureSink{}, &captureSink{}
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{Name: "first", Sink: first},
			{Sink: second},
			{Name: "nil"},
		},
	})
	require.True(t, svc.Enabled())

	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "123", JobType: "PAIRWISE_ALIGNMENT"})

	require.Len(t, first.received, 1)
	require.Len(t, second.received, 1)
	assert.Equal(t, notify.SeverityCritical, first.received[0].Severity)
}

func TestServiceDisabled(t *testing.T) {
	assert.False(t, NewService(Options{}).Enabled())

	var svc *Service
	assert.False(t, svc.Enabled())
	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "123"})
}

func TestServiceLogsErrors(t *testing.T) {
	ok := &captureSink{}
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{Name: "fail", Sink: notify.SinkFunc(func(context.Context, notify.JobFailurePayload) error {
				return errors.New("boom")
			})},
			{Name: "ok", Sink: ok},
		},
	})

	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "123"})
	assert.Len(t, ok.received, 1)
}

func TestServiceSkipsIgnoredClasses(t *testing.T) {
	sink := &captureSink{}
	svc := NewService(Options{
		Sinks:         []SinkRegistration{{Name: "capture", Sink: sink}},
		IgnoreClasses: []string{"invalid_alphabet", "size_limit"},
	})

	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "a", ErrorClass: "size_limit"})
	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "b", ErrorClass: "upstream"})

	require.Len(t, sink.received, 1)
	assert.Equal(t, "b", sink.received[0].JobID)
}

func TestServiceDeliversAfterCallerCancels(t *testing.T) {
	var seen error
	svc := NewService(Options{
		Timeout: time.Second,
		Sinks: []SinkRegistration{{Name: "ctx", Sink: notify.SinkFunc(func(ctx context.Context, _ notify.JobFailurePayload) error {
			seen = ctx.Err()
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return nil
		})}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.NotifyJobFailure(ctx, notify.JobFailurePayload{JobID: "late"})

	assert.NoError(t, seen)
}
