package config

import (
	"strings"
	"time"
)

// NATSConfig contains the JetStream broker configuration.
type NATSConfig struct {
	URL string `env:"URL" envDefault:"nats://localhost:4222"`

	// Name identifies this process in broker connection listings.
	Name string `env:"CLIENT_NAME" envDefault:"fbdispatch"`

	Stream        string `env:"STREAM"         envDefault:"FBDISPATCH"`
	SubjectPrefix string `env:"SUBJECT_PREFIX" envDefault:"fbdispatch"`
	Replicas      int    `env:"REPLICAS"       envDefault:"1"`

	// AckWait is how long the broker waits for an ack before redelivering. Running jobs extend it
	// with progress signals, so it only needs to cover a stalled worker.
	AckWait time.Duration `env:"ACK_WAIT" envDefault:"20m"`

	// MaxAttempts bounds deliveries per envelope before it is dead-lettered.
	MaxAttempts   int           `env:"MAX_ATTEMPTS"    envDefault:"5"`
	MaxAckPending int           `env:"MAX_ACK_PENDING" envDefault:"1000"`
	FetchWait     time.Duration `env:"FETCH_WAIT"      envDefault:"5s"`

	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s"`
}

// Sanitize applies guardrails to broker configuration values.
func (n *NATSConfig) Sanitize() {
	n.URL = strings.TrimSpace(n.URL)
	n.SubjectPrefix = strings.Trim(strings.TrimSpace(n.SubjectPrefix), ".")
	if n.Replicas < 1 {
		n.Replicas = 1
	}
	if n.AckWait < 30*time.Second {
		n.AckWait = 30 * time.Second
	}
	if n.MaxAttempts < 1 {
		n.MaxAttempts = 1
	}
	if n.MaxAckPending < 1 {
		n.MaxAckPending = 1
	}
	if n.FetchWait < 100*time.Millisecond {
		n.FetchWait = 100 * time.Millisecond
	}
	if n.FetchWait > n.AckWait/2 {
		n.FetchWait = n.AckWait / 2
	}
	if n.ConnectTimeout <= 0 {
		n.ConnectTimeout = 5 * time.Second
	}
}
