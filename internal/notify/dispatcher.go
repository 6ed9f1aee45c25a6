package notify

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xenking/spin-rewards/internal/domain/reward"
	"github.com/xenking/spin-rewards/internal/domain/user"
)

const (
	defaultTimeout     = 5 * time.Second
	defaultMaxInFlight = 64
)

var _ reward.Notifier = (*Dispatcher)(nil)

// DispatcherConfig bounds notification delivery.
type DispatcherConfig struct {
	// Timeout limits one delivery across all channels.
	Timeout time.Duration
	// MaxInFlight caps concurrent deliveries; events beyond it are dropped.
	MaxInFlight int64
}

// Dispatcher fans reward events out to every channel in the background.
// Delivery never blocks nor fails the caller.
type Dispatcher struct {
	contacts ContactFinder
	channels []Channel
	timeout  time.Duration
	sem      *semaphore.Weighted

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewDispatcher creates a Dispatcher. With no channels it falls back to
// LogChannel.
func NewDispatcher(cfg DispatcherConfig, contacts ContactFinder, channels ...Channel) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = defaultMaxInFlight
	}
	if len(channels) == 0 {
		channels = []Channel{LogChannel{}}
	}
	return &Dispatcher{
		contacts: contacts,
		channels: channels,
		timeout:  cfg.Timeout,
		sem:      semaphore.NewWeighted(cfg.MaxInFlight),
	}
}

// Notify schedules delivery of e. The request context only contributes its
// values: delivery outlives the request and has its own timeout.
func (d *Dispatcher) Notify(ctx context.Context, e reward.Event) {
	lg := zctx.From(ctx).With(
		zap.String("event", string(e.Kind)),
		zap.Int64("user_id", e.Code.UserID),
	)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		lg.Warn("Dispatcher closed, dropping notification")
		return
	}
	if !d.sem.TryAcquire(1) {
		lg.Warn("Too many notifications in flight, dropping")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		d.deliver(zctx.Base(ctx, lg), e)
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, e reward.Event) {
	lg := zctx.From(ctx)

	to := user.Contact{ID: e.Code.UserID}
	if d.contacts != nil {
		c, err := d.contacts.GetContact(ctx, e.Code.UserID)
		switch {
		case err == nil:
			to = *c
		case errors.Is(err, user.ErrNotFound):
			lg.Debug("No contact data for user")
		default:
			lg.Warn("Contact lookup failed", zap.Error(err))
		}
	}

	m := Render(e)
	var g errgroup.Group
	for _, ch := range d.channels {
		g.Go(func() error {
			err := ch.Send(ctx, to, m)
			switch {
			case err == nil:
				lg.Debug("Notification delivered", zap.String("channel", ch.Name()))
			case errors.Is(err, ErrSkip):
				lg.Debug("Channel skipped", zap.String("channel", ch.Name()))
			default:
				lg.Warn("Notification failed", zap.String("channel", ch.Name()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Close stops accepting events and waits for in-flight deliveries until ctx
// is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for notifications")
	}
}
