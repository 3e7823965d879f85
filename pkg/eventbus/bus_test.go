package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestBuild_DefaultGoChannelRoundTrip(t *testing.T) {
	pub, sub, err := Build(Settings{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, err := sub.Subscribe(ctx, TopicSaveFailed)
	require.NoError(t, err)

	require.NoError(t, PublishSaveFailed(pub, "c1", errors.New("disk full")))

	select {
	case msg := <-ch:
		ev, err := SaveFailedFromMessage(msg.Payload)
		require.NoError(t, err)
		require.Equal(t, "c1", ev.ConvID)
		require.Equal(t, "disk full", ev.Reason)
		require.False(t, ev.At.IsZero())
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("timed out waiting for save_failed event")
	}
}

func TestPublishGroupDone_RoundTrip(t *testing.T) {
	pub, sub, err := Build(Settings{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, err := sub.Subscribe(ctx, TopicGroupDone)
	require.NoError(t, err)

	require.NoError(t, PublishGroupDone(pub, GroupDone{ConvID: "c1", GroupID: "g1", Completed: 2, Failed: 1}))

	select {
	case msg := <-ch:
		ev, err := GroupDoneFromMessage(msg.Payload)
		require.NoError(t, err)
		require.Equal(t, "g1", ev.GroupID)
		require.Equal(t, 2, ev.Completed)
		require.Equal(t, 1, ev.Failed)
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("timed out waiting for group_done event")
	}
}

func TestPublish_NilPublisherIsNoop(t *testing.T) {
	require.NoError(t, PublishSaveFailed(nil, "c1", nil))
	require.NoError(t, PublishGroupDone(nil, GroupDone{}))
}
