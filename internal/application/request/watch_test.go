package request

import (
	"context"
	"testing"
	"time"

	"github.com/bincheck-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan domain.Outcome) domain.Outcome {
	t.Helper()
	select {
	case o, ok := <-ch:
		require.True(t, ok, "channel closed without an outcome")
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome")
	}
	return domain.Outcome{}
}

func TestWatch_EmitsOutcomeOnResolution(t *testing.T) {
	f := newFixture(t)
	f.requests.On("Get", mock.Anything, domain.KindRegistration, "req-1").Return(pendingReq(domain.KindRegistration, time.Minute), nil)

	ch, err := f.svc().Watch(context.Background(), domain.KindRegistration, "req-1")
	require.NoError(t, err)

	f.broker.Publish(domain.StatusEvent{Kind: domain.KindRegistration, RequestID: "other", Status: domain.StatusRejected})
	f.broker.Publish(domain.StatusEvent{Kind: domain.KindRegistration, RequestID: "req-1", Status: domain.StatusApproved})

	o := receive(t, ch)
	assert.Equal(t, domain.OutcomeSuccess, o.Kind)
	_, open := <-ch
	assert.False(t, open)
	assert.Eventually(t, func() bool { return f.broker.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWatch_AlreadyResolved(t *testing.T) {
	f := newFixture(t)
	pr := pendingReq(domain.KindPasswordReset, time.Minute)
	pr.Status = domain.StatusCancelled
	f.requests.On("Get", mock.Anything, domain.KindPasswordReset, "req-1").Return(pr, nil)

	ch, err := f.svc().Watch(context.Background(), domain.KindPasswordReset, "req-1")
	require.NoError(t, err)

	o := receive(t, ch)
	assert.Equal(t, domain.OutcomeCancelled, o.Kind)
	assert.Zero(t, f.broker.Subscribers())
}

func TestWatch_ExpiresOnTimer(t *testing.T) {
	f := newFixture(t)
	pr := pendingReq(domain.KindRegistration, 0)
	pr.ExpiresAt = time.Now().Add(50 * time.Millisecond).Unix()
	f.requests.On("Get", mock.Anything, domain.KindRegistration, "req-1").Return(pr, nil)
	svc := f.svc()
	// Pin the clock just before expiry so the record is still live when read.
	svc.now = func() time.Time { return time.Unix(pr.ExpiresAt, 0).Add(-100 * time.Millisecond) }

	ch, err := svc.Watch(context.Background(), domain.KindRegistration, "req-1")
	require.NoError(t, err)

	o := receive(t, ch)
	assert.Equal(t, domain.OutcomeExpired, o.Kind)
	assert.Equal(t, domain.StatusExpired, o.Status)
}

func TestWatch_CancelReleasesWithoutOutcome(t *testing.T) {
	f := newFixture(t)
	f.requests.On("Get", mock.Anything, domain.KindRegistration, "req-1").Return(pendingReq(domain.KindRegistration, time.Minute), nil)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := f.svc().Watch(ctx, domain.KindRegistration, "req-1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.broker.Subscribers())

	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Eventually(t, func() bool { return f.broker.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	f.requests.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWatch_NotFound(t *testing.T) {
	f := newFixture(t)
	f.requests.On("Get", mock.Anything, domain.KindRegistration, "nope").Return(nil, domain.ErrNotFound)

	_, err := f.svc().Watch(context.Background(), domain.KindRegistration, "nope")

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, f.broker.Subscribers())
}

func TestWatch_AfterSweepReportsSettledOutcome(t *testing.T) {
	f := newFixture(t)
	f.requests.On("Get", mock.Anything, domain.KindRegistration, "req-1").Return(nil, domain.ErrNotFound)
	f.broker.Publish(domain.StatusEvent{Kind: domain.KindRegistration, RequestID: "req-1", Status: domain.StatusFailed, Error: "Bad Request: chat not found"})

	ch, err := f.svc().Watch(context.Background(), domain.KindRegistration, "req-1")
	require.NoError(t, err)

	o := receive(t, ch)
	assert.Equal(t, domain.OutcomeFailed, o.Kind)
	assert.Contains(t, o.Message, "press Start")
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, f.broker.Subscribers())
}

func TestOutcomeFor_FailureMessages(t *testing.T) {
	o := outcomeFor(domain.KindRegistration, domain.StatusFailed, "Forbidden: bot was blocked by the user", false)
	assert.Equal(t, domain.OutcomeFailed, o.Kind)
	assert.Contains(t, o.Message, "press Start")

	o = outcomeFor(domain.KindRegistration, domain.StatusFailed, "Bad Request: chat not found", false)
	assert.Contains(t, o.Message, "press Start")

	o = outcomeFor(domain.KindRegistration, domain.StatusFailed, "timeout", false)
	assert.Equal(t, "Confirmation failed: timeout", o.Message)

	o = outcomeFor(domain.KindPasswordReset, domain.StatusCompleted, "", false)
	assert.Equal(t, domain.OutcomeSuccess, o.Kind)
	assert.Contains(t, o.Message, "new password")
}
