package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateDelivery(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.SpoolDSN == "" {
		return nil
	}
	parsed, err := url.Parse(c.Paths.SpoolDSN)
	if err != nil {
		return fmt.Errorf("paths.spool_dsn: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "", "file", "sqlite", "sqlite3":
		return nil
	default:
		return fmt.Errorf("paths.spool_dsn: unsupported scheme %q (use file or sqlite)", parsed.Scheme)
	}
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxSpoolBytes <= 0 {
		return errors.New("queue.max_spool_bytes must be positive")
	}
	if c.Queue.MaxAgeHours <= 0 {
		return errors.New("queue.max_age_hours must be positive")
	}
	if c.Queue.MaxRetries < 1 {
		return errors.New("queue.max_retries must be >= 1")
	}
	if c.Queue.RetryBaseDelayMillis < 0 {
		return errors.New("queue.retry_base_delay_ms must be >= 0")
	}
	return nil
}

func (c *Config) validateDelivery() error {
	switch c.Delivery.Kind {
	case DeliveryHTTP:
		if c.Delivery.Endpoint == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = "~/.config/tracespool/config.toml"
			}
			return fmt.Errorf("delivery.endpoint is required for the http sink. Set TRACESPOOL_ENDPOINT or edit %s (create with 'tracespool config init')", defaultPath)
		}
		parsed, err := url.Parse(c.Delivery.Endpoint)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("delivery.endpoint must be an http(s) URL, got %q", c.Delivery.Endpoint)
		}
	case DeliveryRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr must be set when delivery.kind is redis")
		}
	case DeliveryNone:
	default:
		return fmt.Errorf("delivery.kind: unsupported value %q (use http, redis, or none)", c.Delivery.Kind)
	}
	return nil
}
