package push

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NotifyChannelName is the pub/sub channel other clinic services
// publish change notices on after writing to the store of record.
const NotifyChannelName = "clinicdesk:changes"

// RedisChannel adapts a go-redis pub/sub subscription to the Channel
// interface. go-redis reconnects the subscription itself; this
// wrapper surfaces those drops as state events so the adapter can arm
// its poll fallback in between.
type RedisChannel struct {
	client *redis.Client
	logger *zap.Logger

	notifications chan Notification
	states        chan State
	cancel        context.CancelFunc
}

func NewRedisChannel(client *redis.Client, logger *zap.Logger) *RedisChannel {
	return &RedisChannel{
		client:        client,
		logger:        logger,
		notifications: make(chan Notification, 16),
		states:        make(chan State, 4),
	}
}

// Start subscribes and begins delivering notifications and state
// changes until Disconnect or ctx cancellation.
func (c *RedisChannel) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.consume(ctx)
}

func (c *RedisChannel) Notifications() <-chan Notification { return c.notifications }
func (c *RedisChannel) States() <-chan State               { return c.states }

func (c *RedisChannel) Disconnect() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *RedisChannel) consume(ctx context.Context) {
	defer close(c.notifications)
	defer close(c.states)

	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		sub := c.client.Subscribe(ctx, NotifyChannelName)
		if _, err := sub.Receive(ctx); err != nil {
			sub.Close()
			if ctx.Err() != nil {
				c.setState(StateDisconnected)
				return
			}
			c.logger.Warn("push channel subscribe failed", zap.Error(err))
			c.setState(StateDisconnected)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		c.setState(StateConnected)

		// unblock the receive loop when the channel is torn down
		loopDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				sub.Close()
			case <-loopDone:
			}
		}()

		ch := sub.Channel()
		for msg := range ch {
			var n Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				// plain entity name payloads are accepted too
				n.Entity = msg.Payload
			}
			select {
			case c.notifications <- n:
			default:
				// a dropped notice is harmless: the next one or the
				// poll fallback reloads the same full snapshot
			}
		}
		close(loopDone)
		sub.Close()
		c.setState(StateDisconnected)
	}
}

// setState queues a state event. The consume loop is the only writer,
// so on a full buffer the oldest event is evicted and the newest kept:
// the adapter must never miss the latest connected/disconnected edge.
func (c *RedisChannel) setState(s State) {
	for {
		select {
		case c.states <- s:
			return
		default:
			select {
			case <-c.states:
			default:
			}
		}
	}
}
