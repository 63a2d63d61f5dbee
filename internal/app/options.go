package app

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Option configures the engine components.
type Option func(*options)

type options struct {
	clock       func() time.Time
	shuffle     Shuffler
	newID       func() string
	log         *slog.Logger
	concurrency int
}

func newOptions(opts []Option) options {
	o := options{
		clock:       time.Now,
		shuffle:     DefaultShuffler,
		newID:       uuid.NewString,
		log:         slog.Default(),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the server clock. Tests use it for deterministic deadlines.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithShuffler overrides the randomization used for snapshots.
func WithShuffler(s Shuffler) Option {
	return func(o *options) {
		if s != nil {
			o.shuffle = s
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(o *options) {
		if gen != nil {
			o.newID = gen
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithImportConcurrency bounds the number of concurrent academic-record writes.
func WithImportConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}
