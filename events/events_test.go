package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribeEmitsConnectedFirst(t *testing.T) {
	topic := NewTopic()
	sub := topic.Subscribe("abc123", 5)

	ev := <-sub.C
	require.Equal(t, Connected, ev.Kind)
	require.Equal(t, "abc123", ev.Hash)
	require.Equal(t, 5, ev.FlagsCount)
}

func TestPublishBroadcastsToAllSubscribers(t *testing.T) {
	topic := NewTopic()
	sub1 := topic.Subscribe("", 0)
	sub2 := topic.Subscribe("", 0)
	<-sub1.C
	<-sub2.C

	topic.Publish("newhash", 3)

	ev1 := <-sub1.C
	ev2 := <-sub2.C
	require.Equal(t, FlagUpdate, ev1.Kind)
	require.Equal(t, "newhash", ev1.Hash)
	require.Equal(t, FlagUpdate, ev2.Kind)
}

func TestHeartbeatBroadcast(t *testing.T) {
	topic := NewTopic()
	sub := topic.Subscribe("", 0)
	<-sub.C

	topic.Heartbeat()
	ev := <-sub.C
	require.Equal(t, Heartbeat, ev.Kind)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	topic := NewTopic()
	sub := topic.Subscribe("", 0)
	<-sub.C

	sub.Close()

	_, ok := <-sub.C
	require.False(t, ok, "channel should be closed after unsubscribe")
}

func TestShutdownNotifiesSubscribersAndClosesTopic(t *testing.T) {
	topic := NewTopic()
	sub := topic.Subscribe("", 0)
	<-sub.C

	topic.Shutdown("server shutting down")

	ev := <-sub.C
	require.Equal(t, ServerShutdown, ev.Kind)
	require.Equal(t, "server shutting down", ev.Reason)

	late := topic.Subscribe("", 0)
	_, ok := <-late.C
	require.False(t, ok, "subscribing after shutdown should hand back an already-closed channel")
}

func TestEnqueueDropsOldestOnFullBacklogAndWarnsOfLag(t *testing.T) {
	topic := NewTopic()
	sub := topic.Subscribe("", 0)
	<-sub.C // drain Connected

	for i := 0; i < backlogSize+5; i++ {
		topic.Publish("h", i)
	}

	var last Event
	drained := 0
	for {
		select {
		case ev := <-sub.C:
			last = ev
			drained++
		case <-time.After(50 * time.Millisecond):
			goto done
		}
	}
done:
	require.LessOrEqual(t, drained, backlogSize)
	require.Equal(t, LagWarning, last.Kind, "the most recent enqueued entry should be the lag warning replacing the dropped oldest event")
}

func TestRegistryReturnsSameTopicPerNamespace(t *testing.T) {
	reg := NewRegistry()
	a := reg.Topic("root")
	b := reg.Topic("root")
	require.Same(t, a, b)

	other := reg.Topic("billing")
	require.NotSame(t, a, other)
}

func TestRegistryShutdownReachesEveryCreatedTopic(t *testing.T) {
	reg := NewRegistry()
	sub := reg.Topic("root").Subscribe("", 0)
	<-sub.C

	reg.Shutdown("bye")

	ev := <-sub.C
	require.Equal(t, ServerShutdown, ev.Kind)
}
