package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Kind enumerates the outbound notification templates the engine emits.
type Kind string

const (
	KindWelcome         Kind = "welcome"
	KindPasswordChanged Kind = "password_changed"
	KindPasswordReset   Kind = "password_reset"
	KindAccountLocked   Kind = "account_locked"
	KindNewDeviceLogin  Kind = "new_device_login"
	KindLowBackupCodes  Kind = "low_backup_codes"
	KindMFACode         Kind = "mfa_code"
)

// Notification is a single outbound message destined for a principal.
// Payload carries template-specific fields (the MFA code, device metadata).
type Notification struct {
	Kind        Kind              `json:"kind"`
	PrincipalID string            `json:"principal_id"`
	Recipient   string            `json:"recipient,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	Payload     map[string]string `json:"payload,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Sender is the external delivery collaborator (email/SMS gateway).
// Errors are recorded but never surfaced to the authentication caller.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// NoOpSender discards notifications.
type NoOpSender struct{}

func (NoOpSender) Send(context.Context, Notification) error { return nil }

// Config controls the outbound queue.
type Config struct {
	Enabled    bool
	BufferSize int
	// SendsPerSecond paces delivery so a burst of security events cannot
	// flood the downstream gateway. Zero disables pacing.
	SendsPerSecond float64
	Burst          int
}

// Dispatcher is a bounded fire-and-forget outbound queue. Enqueue never
// blocks the authentication path: when the buffer is full the notification
// is dropped and counted.
type Dispatcher struct {
	sender    Sender
	limiter   *rate.Limiter
	ch        chan Notification
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(cfg Config, sender Sender) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if sender == nil {
		sender = NoOpSender{}
	}

	var limiter *rate.Limiter
	if cfg.SendsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SendsPerSecond), burst)
	}

	d := &Dispatcher{
		sender:  sender,
		limiter: limiter,
		ch:      make(chan Notification, cfg.BufferSize),
		done:    make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case n := <-d.ch:
			d.deliver(n)
		case <-d.done:
			for {
				select {
				case n := <-d.ch:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(n Notification) {
	ctx := context.Background()
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.failed.Add(1)
			return
		}
	}
	if err := d.sender.Send(ctx, n); err != nil {
		d.failed.Add(1)
	}
}

// Enqueue hands a notification to the background sender. Never blocks.
func (d *Dispatcher) Enqueue(n Notification) {
	if d == nil || d.closed.Load() {
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	select {
	case d.ch <- n:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
