package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/bincheck-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(kind domain.RequestKind, id string, status domain.RequestStatus) domain.StatusEvent {
	return domain.StatusEvent{Kind: kind, RequestID: id, Status: status, At: time.Now()}
}

func TestBroker_DeliversToMatchingSubscriber(t *testing.T) {
	b := NewBroker()
	ch, release := b.Subscribe(ForRequest(domain.KindRegistration, "r1"))
	defer release()

	b.Publish(event(domain.KindRegistration, "r2", domain.StatusApproved))
	b.Publish(event(domain.KindPasswordReset, "r1", domain.StatusCompleted))
	b.Publish(event(domain.KindRegistration, "r1", domain.StatusApproved))

	select {
	case e := <-ch:
		assert.Equal(t, "r1", e.RequestID)
		assert.Equal(t, domain.StatusApproved, e.Status)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
	assert.Len(t, ch, 0)
}

func TestBroker_NilFilterReceivesAll(t *testing.T) {
	b := NewBroker()
	ch, release := b.Subscribe(nil)
	defer release()

	b.Publish(event(domain.KindRegistration, "a", domain.StatusRejected))
	b.Publish(event(domain.KindPasswordReset, "b", domain.StatusFailed))
	assert.Len(t, ch, 2)
}

func TestBroker_ReleaseClosesChannelAndIsIdempotent(t *testing.T) {
	b := NewBroker()
	ch, release := b.Subscribe(nil)
	require.Equal(t, 1, b.Subscribers())

	release()
	release()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers())
	assert.NotPanics(t, func() { b.Publish(event(domain.KindRegistration, "a", domain.StatusApproved)) })
}

func TestBroker_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	ch, release := b.Subscribe(nil)
	defer release()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish(event(domain.KindRegistration, "a", domain.StatusApproved))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestBroker_CloseReleasesSubscribers(t *testing.T) {
	b := NewBroker()
	ch, release := b.Subscribe(nil)
	b.Close()

	_, open := <-ch
	assert.False(t, open)
	assert.NotPanics(t, release)

	late, _ := b.Subscribe(nil)
	_, open = <-late
	assert.False(t, open)
}

func TestBroker_ReliableSubscriberSeesEveryEventInOrder(t *testing.T) {
	b := NewBroker()
	ch, release := b.SubscribeReliable(nil)
	defer release()

	const n = subscriberBuffer * 4
	for i := 0; i < n; i++ {
		b.Publish(event(domain.KindRegistration, fmt.Sprintf("r%03d", i), domain.StatusApproved))
	}

	for i := 0; i < n; i++ {
		select {
		case e := <-ch:
			assert.Equal(t, fmt.Sprintf("r%03d", i), e.RequestID)
		case <-time.After(time.Second):
			t.Fatalf("event %d never arrived", i)
		}
	}
}

func TestBroker_ReliableSubscriberAppliesFilter(t *testing.T) {
	b := NewBroker()
	ch, release := b.SubscribeReliable(func(e domain.StatusEvent) bool { return e.Status.Terminal() })
	defer release()

	b.Publish(event(domain.KindRegistration, "a", domain.StatusPending))
	b.Publish(event(domain.KindRegistration, "b", domain.StatusFailed))

	select {
	case e := <-ch:
		assert.Equal(t, "b", e.RequestID)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
}

func TestBroker_ReliableReleaseAndCloseEndTheStream(t *testing.T) {
	b := NewBroker()
	ch, release := b.SubscribeReliable(nil)
	b.Publish(event(domain.KindRegistration, "a", domain.StatusApproved))
	release()
	release()

	assert.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, b.Subscribers())

	other, _ := b.SubscribeReliable(nil)
	b.Close()
	assert.Eventually(t, func() bool {
		select {
		case _, open := <-other:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestBroker_SettledKeepsOnlyTerminalEvents(t *testing.T) {
	b := NewBroker()

	b.Publish(event(domain.KindRegistration, "r1", domain.StatusPending))
	_, ok := b.Settled(domain.KindRegistration, "r1")
	assert.False(t, ok)

	b.Publish(event(domain.KindRegistration, "r1", domain.StatusRejected))
	e, ok := b.Settled(domain.KindRegistration, "r1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusRejected, e.Status)

	_, ok = b.Settled(domain.KindPasswordReset, "r1")
	assert.False(t, ok, "kinds do not share ids")
}
