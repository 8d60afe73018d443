package push

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the push channel's connection state.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Notification is one change notice from the push channel, tagged by
// the entity collection it affects.
type Notification struct {
	Entity string `json:"entity"`
}

// Channel is the push-channel subscription boundary. Implementations
// own their reconnect behavior and report it through state events.
type Channel interface {
	// Notifications delivers change notices while connected.
	Notifications() <-chan Notification
	// States delivers connection state changes.
	States() <-chan State
	// Disconnect tears the channel down.
	Disconnect() error
}

// ReloadFunc triggers one full snapshot reload.
type ReloadFunc func(ctx context.Context)

// Adapter drives snapshot reloads from a push channel, falling back
// to fixed-interval polling while the channel is disconnected. The
// two triggers are mutually exclusive: the poll timer is armed only
// in the disconnected state and disarmed the instant the channel
// reports connected, so a reload is never fired twice for one change.
type Adapter struct {
	channel      Channel
	reload       ReloadFunc
	pollInterval time.Duration
	logger       *zap.Logger

	// entities whose changes concern the room engine
	watched map[string]bool

	mu       sync.Mutex
	state    State
	pollStop chan struct{}
	done     chan struct{}
}

func NewAdapter(channel Channel, reload ReloadFunc, pollInterval time.Duration, logger *zap.Logger) *Adapter {
	return &Adapter{
		channel:      channel,
		reload:       reload,
		pollInterval: pollInterval,
		logger:       logger,
		watched: map[string]bool{
			"treatment_rooms": true,
			"treatment_steps": true,
		},
		state: StateConnecting,
		done:  make(chan struct{}),
	}
}

// Run consumes the channel until ctx is cancelled. The initial state
// is connecting; polling starts only once the channel reports
// disconnected.
func (a *Adapter) Run(ctx context.Context) {
	defer close(a.done)
	defer a.stopPolling()

	for {
		select {
		case <-ctx.Done():
			if err := a.channel.Disconnect(); err != nil {
				a.logger.Warn("push channel disconnect failed", zap.Error(err))
			}
			return
		case state, ok := <-a.channel.States():
			if !ok {
				return
			}
			a.onState(ctx, state)
		case n, ok := <-a.channel.Notifications():
			if !ok {
				return
			}
			if a.watched[n.Entity] {
				a.reload(ctx)
			}
		}
	}
}

// Done is closed when Run returns.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// State reports the current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Polling reports whether the fallback timer is armed.
func (a *Adapter) Polling() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pollStop != nil
}

func (a *Adapter) onState(ctx context.Context, state State) {
	a.mu.Lock()
	prev := a.state
	a.state = state
	a.mu.Unlock()
	if state == prev {
		return
	}

	a.logger.Info("push channel state changed",
		zap.String("from", string(prev)), zap.String("to", string(state)))

	switch state {
	case StateConnected:
		a.stopPolling()
		// catch up on anything missed while the channel was down
		a.reload(ctx)
	case StateDisconnected:
		a.startPolling(ctx)
	}
}

func (a *Adapter) startPolling(ctx context.Context) {
	a.mu.Lock()
	if a.pollStop != nil {
		a.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	a.pollStop = stop
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(a.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.reload(ctx)
			}
		}
	}()
}

func (a *Adapter) stopPolling() {
	a.mu.Lock()
	if a.pollStop != nil {
		close(a.pollStop)
		a.pollStop = nil
	}
	a.mu.Unlock()
}
