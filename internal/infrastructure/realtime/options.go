package realtime

import (
	"time"

	"pasargamex-realtime/internal/domain/repository"
	"pasargamex-realtime/pkg/config"
)

// Options tunes every subscription created by a Supervisor.
type Options struct {
	// PollInterval applies while push is not open.
	PollInterval time.Duration
	// PollSafetyInterval applies while push is open. Zero turns polling off
	// while push is healthy.
	PollSafetyInterval time.Duration
	// PushOpenTimeout delays the first poll to give push a chance to open.
	PushOpenTimeout time.Duration
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	// GapTimeout is how long a sequence gap may stay open before the
	// buffered changes behind it are released anyway.
	GapTimeout  time.Duration
	DedupWindow int
	QueryLimit  int
}

func OptionsFromConfig(c config.DeliveryConfig) Options {
	return Options{
		PollInterval:       c.PollInterval,
		PollSafetyInterval: c.PollSafetyInterval,
		PushOpenTimeout:    c.PushOpenTimeout,
		BackoffInitial:     c.BackoffInitial,
		BackoffMax:         c.BackoffMax,
		GapTimeout:         c.GapTimeout,
		DedupWindow:        c.DedupWindow,
		QueryLimit:         c.QueryLimit,
	}
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.PollSafetyInterval < 0 {
		o.PollSafetyInterval = 0
	}
	if o.PushOpenTimeout < 0 {
		o.PushOpenTimeout = 0
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Second
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = o.BackoffInitial
	}
	if o.GapTimeout <= 0 {
		o.GapTimeout = 2 * o.PollInterval
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = DefaultDedupWindow
	}
	o.QueryLimit = repository.NormalizeLimit(o.QueryLimit)
	return o
}
