package throttle

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config holds the throttle settings.
type Config struct {
	// Limit is the number of requests a client may make inside Window.
	Limit int `yaml:"limit"`

	// Window is the length of the sliding window.
	Window time.Duration `yaml:"window"`

	// RetryAfter is advertised to rejected clients.
	RetryAfter time.Duration `yaml:"retry_after"`

	// Retention is how long an idle, empty client window is kept before
	// Sweep drops it.
	Retention time.Duration `yaml:"retention"`

	// SweepInterval is the period of Run.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Methods lists the HTTP methods the middleware throttles.
	Methods []string `yaml:"methods"`

	// TrustedProxies lists peer addresses or CIDR ranges whose X-Client-Id,
	// X-Forwarded-For and X-Real-IP headers are believed. When empty every
	// peer is trusted, so a client can pick its own key by rotating those
	// headers.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// DefaultConfig returns 100 requests per minute on write methods.
func DefaultConfig() Config {
	return Config{
		Limit:         100,
		Window:        time.Minute,
		RetryAfter:    60 * time.Second,
		Retention:     10 * time.Minute,
		SweepInterval: time.Minute,
		Methods:       []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Limit, validation.Required, validation.Min(1)),
		validation.Field(&c.Window, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.RetryAfter, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Retention, validation.Min(time.Duration(0))),
		validation.Field(&c.SweepInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.Methods, validation.Each(validation.In(
			http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		))),
		validation.Field(&c.TrustedProxies, validation.By(func(any) error {
			_, err := ParseProxies(c.TrustedProxies)
			return err
		})),
	)
}

// ParseProxies parses addresses ("10.0.0.1") and CIDR ranges ("10.0.0.0/8").
func ParseProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			return nil, errors.New("empty proxy entry")
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
