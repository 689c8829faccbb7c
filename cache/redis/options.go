package redis

import "time"

const (
	defaultAddr      = "127.0.0.1:6379"
	defaultPoolSize  = 8
	defaultScanCount = 100
)

type config struct {
	addr         string
	password     string
	db           int
	dialTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	poolSize     int
	scanCount    int
	dial         dialFunc
}

// Option configures a Store.
type Option func(*config)

func defaultConfig(addr string) config {
	if addr == "" {
		addr = defaultAddr
	}
	return config{
		addr:         addr,
		dialTimeout:  5 * time.Second,
		readTimeout:  2 * time.Second,
		writeTimeout: 2 * time.Second,
		poolSize:     defaultPoolSize,
		scanCount:    defaultScanCount,
		dial:         defaultDial,
	}
}

// WithPassword sends AUTH on every new connection.
func WithPassword(password string) Option {
	return func(c *config) { c.password = password }
}

// WithDB selects a logical database. Negative values are ignored.
func WithDB(db int) Option {
	return func(c *config) {
		if db >= 0 {
			c.db = db
		}
	}
}

// WithTimeouts sets the dial, read and write deadlines. Zero keeps a default.
func WithTimeouts(dial, read, write time.Duration) Option {
	return func(c *config) {
		if dial > 0 {
			c.dialTimeout = dial
		}
		if read > 0 {
			c.readTimeout = read
		}
		if write > 0 {
			c.writeTimeout = write
		}
	}
}

// WithPoolSize caps the number of idle connections kept for reuse.
func WithPoolSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.poolSize = n
		}
	}
}

// WithScanCount sets the COUNT hint used by Keys.
func WithScanCount(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.scanCount = n
		}
	}
}

func withDial(fn dialFunc) Option {
	return func(c *config) {
		if fn != nil {
			c.dial = fn
		}
	}
}
