package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, b *MemoryBroadcaster, topic string) (func(), *[]Event, *sync.Mutex) {
	t.Helper()
	var mu sync.Mutex
	received := make([]Event, 0)
	unsubscribe, err := b.Subscribe(topic, func(evt Event) {
		mu.Lock()
		received = append(received, evt)
		mu.Unlock()
	})
	require.NoError(t, err)
	return unsubscribe, &received, &mu
}

func waitForEvents(t *testing.T, mu *sync.Mutex, received *[]Event, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(*received)
		mu.Unlock()
		if n >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events", want)
}

func TestMemoryBroadcasterDeliversToSubscribers(t *testing.T) {
	b := NewMemoryBroadcaster(8, nil)
	defer b.Close() //nolint:errcheck

	unsubscribe, received, mu := collectEvents(t, b, TopicDemands)
	defer unsubscribe()

	evt, err := NewEvent("demand.transitioned", "demand-1", map[string]string{"status": "FORWARDED"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), TopicDemands, evt))

	waitForEvents(t, mu, received, 1)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, evt.ID, (*received)[0].ID)
	require.Equal(t, "demand-1", (*received)[0].DemandID)
}

func TestMemoryBroadcasterNoReplayForLateSubscriber(t *testing.T) {
	b := NewMemoryBroadcaster(8, nil)
	defer b.Close() //nolint:errcheck

	evt, err := NewEvent("demand.submitted", "demand-1", nil)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), TopicDemands, evt))

	unsubscribe, received, mu := collectEvents(t, b, TopicDemands)
	defer unsubscribe()

	later, err := NewEvent("demand.transitioned", "demand-1", nil)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), TopicDemands, later))

	waitForEvents(t, mu, received, 1)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *received, 1)
	require.Equal(t, later.ID, (*received)[0].ID)
}

func TestMemoryBroadcasterUnsubscribeIdempotent(t *testing.T) {
	b := NewMemoryBroadcaster(8, nil)
	defer b.Close() //nolint:errcheck

	unsubscribe, received, mu := collectEvents(t, b, TopicDemands)

	unsubscribe()
	unsubscribe() // second call must be safe

	evt, err := NewEvent("demand.voted", "demand-1", nil)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), TopicDemands, evt))

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, *received)
}

func TestMemoryBroadcasterTopicsAreIndependent(t *testing.T) {
	b := NewMemoryBroadcaster(8, nil)
	defer b.Close() //nolint:errcheck

	unsubA, receivedA, muA := collectEvents(t, b, DemandTopic("demand-a"))
	defer unsubA()
	unsubB, receivedB, muB := collectEvents(t, b, DemandTopic("demand-b"))
	defer unsubB()

	evt, err := NewEvent("demand.transitioned", "demand-a", nil)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), DemandTopic("demand-a"), evt))

	waitForEvents(t, muA, receivedA, 1)
	time.Sleep(20 * time.Millisecond)
	muB.Lock()
	defer muB.Unlock()
	require.Empty(t, *receivedB)
}

func TestMemoryBroadcasterSlowSubscriberLosesNothing(t *testing.T) {
	b := NewMemoryBroadcaster(2, nil)
	defer b.Close() //nolint:errcheck

	var mu sync.Mutex
	received := make([]Event, 0)
	unsubscribe, err := b.Subscribe(TopicDemands, func(evt Event) {
		time.Sleep(10 * time.Millisecond) // handler far slower than the publisher
		mu.Lock()
		received = append(received, evt)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsubscribe()

	const published = 10
	sent := make([]string, 0, published)
	for i := 0; i < published; i++ {
		evt, err := NewEvent("demand.voted", "demand-1", nil)
		require.NoError(t, err)
		require.NoError(t, b.Publish(context.Background(), TopicDemands, evt))
		sent = append(sent, evt.ID)
	}

	waitForEvents(t, &mu, &received, published)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, published)
	for i, evt := range received {
		require.Equal(t, sent[i], evt.ID, "delivery must preserve publish order")
	}
}

func TestMemoryBroadcasterConcurrentPublish(t *testing.T) {
	b := NewMemoryBroadcaster(256, nil)
	defer b.Close() //nolint:errcheck

	unsubscribe, received, mu := collectEvents(t, b, TopicDemands)
	defer unsubscribe()

	const publishers = 16
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			evt, err := NewEvent("demand.voted", "demand-1", nil)
			require.NoError(t, err)
			require.NoError(t, b.Publish(context.Background(), TopicDemands, evt))
		}()
	}
	wg.Wait()

	waitForEvents(t, mu, received, publishers)
}
