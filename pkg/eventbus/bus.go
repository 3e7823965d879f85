package eventbus

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Topics carried by the bus.
const (
	TopicSaveFailed = "chatvault.save_failed"
	TopicGroupDone  = "chatvault.group_done"
)

// SaveFailed reports one conversation whose persisted write failed. The
// identifier stays dirty, so consumers typically respond by triggering a
// reconciliation.
type SaveFailed struct {
	ConvID string    `json:"conv_id"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// GroupDone reports that every candidate of a response group reached a
// terminal state.
type GroupDone struct {
	ConvID    string    `json:"conv_id"`
	GroupID   string    `json:"group_id"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	At        time.Time `json:"at"`
}

// Build constructs the bus transport. Default is an in-process Go channel
// Pub/Sub; with redis enabled a Redis Streams publisher/subscriber pair is
// returned instead.
func Build(s Settings) (message.Publisher, message.Subscriber, error) {
	logger := NewWatermillLogger(log.Logger)
	if !s.RedisEnabled {
		ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		return ps, ps, nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "eventbus: build redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "eventbus: build redis subscriber")
	}
	return pub, sub, nil
}

// PublishSaveFailed broadcasts a failed write for convID.
func PublishSaveFailed(pub message.Publisher, convID string, cause error) error {
	if pub == nil {
		return nil
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	payload, err := json.Marshal(SaveFailed{ConvID: convID, Reason: reason, At: time.Now()})
	if err != nil {
		return errors.Wrap(err, "eventbus: marshal save_failed")
	}
	return pub.Publish(TopicSaveFailed, message.NewMessage(watermill.NewUUID(), payload))
}

// PublishGroupDone broadcasts aggregate completion of a response group.
func PublishGroupDone(pub message.Publisher, ev GroupDone) error {
	if pub == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "eventbus: marshal group_done")
	}
	return pub.Publish(TopicGroupDone, message.NewMessage(watermill.NewUUID(), payload))
}

// SaveFailedFromMessage decodes a TopicSaveFailed payload.
func SaveFailedFromMessage(payload []byte) (SaveFailed, error) {
	var ev SaveFailed
	if err := json.Unmarshal(payload, &ev); err != nil {
		return SaveFailed{}, errors.Wrap(err, "eventbus: decode save_failed")
	}
	return ev, nil
}

// GroupDoneFromMessage decodes a TopicGroupDone payload.
func GroupDoneFromMessage(payload []byte) (GroupDone, error) {
	var ev GroupDone
	if err := json.Unmarshal(payload, &ev); err != nil {
		return GroupDone{}, errors.Wrap(err, "eventbus: decode group_done")
	}
	return ev, nil
}
