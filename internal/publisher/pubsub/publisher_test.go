package pubsub

import (
	"context"
	"testing"

	gcppubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublishRoundTrip(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := gcppubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "accepted-items")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "accepted-items-sub", gcppubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub := NewWithClient(client)

	id, err := pub.Publish(ctx, "accepted-items", map[string]string{"item_id": "item-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	received := make(chan *gcppubsub.Message, 1)
	recvCtx, cancel := context.WithCancel(ctx)
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *gcppubsub.Message) {
			msg.Ack()
			received <- msg
			cancel()
		})
	}()

	msg := <-received
	require.JSONEq(t, `{"item_id":"item-1"}`, string(msg.Data))
}

func TestPublishRequiresTopic(t *testing.T) {
	t.Parallel()

	pub := NewWithClient(nil)
	_, err := pub.Publish(context.Background(), "", "payload")
	require.Error(t, err)
}
