package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "changes", map[string]string{"competitor": "Acme"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "changes-b", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "changes", msgs[0].Topic)
	require.Equal(t, "changes-b", msgs[1].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "changes", pub.Messages()[0].Topic)
}
