package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitewatcher/internal/discovery"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "topic-a", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "topic-b", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "topic-a", msgs[0].Topic)
	assert.JSONEq(t, `{"k":"v"}`, string(msgs[0].Data))
	assert.Len(t, pub.Topic("topic-b"), 1)
	assert.Empty(t, pub.Topic("missing"))

	msgs[0].Topic = "modified"
	assert.Equal(t, "topic-a", pub.Messages()[0].Topic, "Messages() must return a copy")
	require.NoError(t, pub.Close())
}

func TestPublisherRoundTripsEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	ev := discovery.Event{BatchID: "b", TaskID: "t", Target: "https://a.example", Status: discovery.StatusSucceeded, Count: 2}
	_, err := pub.Publish(context.Background(), "results", ev)
	require.NoError(t, err)

	var got discovery.Event
	require.NoError(t, pub.Messages()[0].Decode(&got))
	assert.Equal(t, ev, got)
}

func TestPublisherRejectsUnencodable(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "results", make(chan int))
	require.Error(t, err)
	assert.Empty(t, pub.Messages())
}
