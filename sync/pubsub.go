package sync

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/mastersync/logging"
	"github.com/huykn/mastersync/storage"
	"github.com/huykn/mastersync/types"
)

// PubSubSynchronizer relays invalidation tokens between processes through a
// Redis Pub/Sub channel. Tokens carrying its own sender id are ignored.
type PubSubSynchronizer struct {
	client     *redis.Client
	channel    string
	sender     string
	serializer storage.Serializer
	logger     logging.Logger
	pubsub     *redis.PubSub
	callbacks  callbacks
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// NewPubSubSynchronizer creates a new Pub/Sub synchronizer. A nil serializer
// means JSON.
func NewPubSubSynchronizer(client *redis.Client, channel, sender string, serializer storage.Serializer, logger logging.Logger) *PubSubSynchronizer {
	if serializer == nil {
		serializer = storage.NewJSONSerializer()
	}
	return &PubSubSynchronizer{
		client:     client,
		channel:    channel,
		sender:     sender,
		serializer: serializer,
		logger:     logging.OrNoOp(logger),
		done:       make(chan struct{}),
	}
}

// Subscribe joins the channel and waits for Redis to confirm.
func (ps *PubSubSynchronizer) Subscribe(ctx context.Context) error {
	select {
	case <-ps.done:
		return ErrClosed
	default:
	}
	if ps.pubsub != nil {
		return ErrSubscribed
	}

	pubsub := ps.client.Subscribe(ctx, ps.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}
	ps.pubsub = pubsub

	ps.wg.Add(1)
	go ps.listenForEvents()

	return nil
}

// Publish relays inv stamped with this synchronizer's sender id.
func (ps *PubSubSynchronizer) Publish(ctx context.Context, inv types.Invalidation) error {
	inv.Sender = ps.sender
	data, err := ps.serializer.Marshal(inv)
	if err != nil {
		return err
	}

	return ps.client.Publish(ctx, ps.channel, data).Err()
}

// OnInvalidate registers a callback for relayed tokens.
func (ps *PubSubSynchronizer) OnInvalidate(callback func(inv types.Invalidation)) {
	ps.callbacks.add(callback)
}

// Sender returns the id stamped on published tokens.
func (ps *PubSubSynchronizer) Sender() string {
	return ps.sender
}

// Close leaves the channel. The Redis client stays open.
func (ps *PubSubSynchronizer) Close() error {
	var err error
	ps.closeOnce.Do(func() {
		close(ps.done)
		if ps.pubsub != nil {
			err = ps.pubsub.Close()
		}
		ps.wg.Wait()
	})
	return err
}

func (ps *PubSubSynchronizer) listenForEvents() {
	defer ps.wg.Done()

	ch := ps.pubsub.Channel()

	for {
		select {
		case <-ps.done:
			return
		case msg, ok := <-ch:
			if !ok || msg == nil {
				return
			}

			var inv types.Invalidation
			if err := ps.serializer.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				ps.logger.Warn("PubSub: dropping undecodable token", "channel", ps.channel, "format", ps.serializer.Format(), "error", err)
				continue
			}

			// Our own tokens were already applied locally.
			if inv.Sender == ps.sender {
				continue
			}

			ps.callbacks.deliver(inv)
		}
	}
}
