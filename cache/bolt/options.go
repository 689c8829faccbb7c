package bolt

import "time"

// Options controls how the bbolt file is opened.
type Options struct {
	FileName    string
	LockTimeout time.Duration
	Now         func() time.Time
}

type Option func(*Options)

func defaultOptions() Options {
	return Options{
		FileName:    "rakh-shop.db",
		LockTimeout: time.Second,
		Now:         time.Now,
	}
}

// WithFileName overrides the database file name inside the directory.
func WithFileName(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.FileName = name
		}
	}
}

// WithLockTimeout bounds how long Open waits for the file lock.
func WithLockTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.LockTimeout = d
		}
	}
}

// WithNowFunc overrides the clock used for TTL checks.
func WithNowFunc(fn func() time.Time) Option {
	return func(o *Options) {
		if fn != nil {
			o.Now = fn
		}
	}
}
