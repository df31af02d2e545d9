package config

import "time"

// HTTPConfig contains submission API server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// MaxUploadBytes bounds the size of one multipart submission.
	MaxUploadBytes int64 `env:"HTTP_MAX_UPLOAD_BYTES" envDefault:"104857600"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"10s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT"       envDefault:"2m"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.MaxUploadBytes < 1<<20 {
		h.MaxUploadBytes = 1 << 20
	}
	if h.ReadHeaderTimeout <= 0 {
		h.ReadHeaderTimeout = 10 * time.Second
	}
	if h.WriteTimeout <= 0 {
		h.WriteTimeout = 2 * time.Minute
	}
}
