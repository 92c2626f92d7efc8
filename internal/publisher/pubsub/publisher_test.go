package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type changePayload struct {
	Competitor  string `json:"competitor"`
	Description string `json:"description"`
}

func (c changePayload) Attributes() map[string]string {
	return map[string]string{"competitor": c.Competitor}
}

func TestPublishDeliversJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "rivalwatch-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = client.CreateTopic(ctx, "changes")
	require.NoError(t, err)

	pub := New(client, "changes")
	id, err := pub.Publish(ctx, "", changePayload{Competitor: "Acme", Description: "Plan removed: \"Team\""})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got changePayload
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "Acme", got.Competitor)
	require.Equal(t, "Acme", msgs[0].Attributes["competitor"])

	require.NoError(t, pub.Close())
}

func TestPublishWithoutClient(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "changes", struct{}{})
	require.EqualError(t, err, "pubsub publisher is not configured")
}

func TestNewFromProjectRequiresProject(t *testing.T) {
	t.Parallel()

	_, err := NewFromProject(context.Background(), "", "changes")
	require.Error(t, err)
}
