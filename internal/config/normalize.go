package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeDelivery()
	c.normalizeRedis()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.SpoolDir) == "" {
		c.Paths.SpoolDir = defaultSpoolDir
	}
	if c.Paths.SpoolDir, err = expandPath(c.Paths.SpoolDir); err != nil {
		return fmt.Errorf("paths.spool_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.InboxDir = strings.TrimSpace(c.Paths.InboxDir)
	if c.Paths.InboxDir != "" {
		if c.Paths.InboxDir, err = expandPath(c.Paths.InboxDir); err != nil {
			return fmt.Errorf("paths.inbox_dir: %w", err)
		}
	}
	c.Paths.SpoolDSN = strings.TrimSpace(c.Paths.SpoolDSN)
	return nil
}

func (c *Config) normalizeQueue() {
	if c.Queue.FlushIntervalSeconds < minFlushIntervalSeconds {
		c.Queue.FlushIntervalSeconds = minFlushIntervalSeconds
	}
	if c.Queue.TrackerCapacity <= 0 {
		c.Queue.TrackerCapacity = defaultTrackerCapacity
	}
	if c.Queue.DeliveryTimeoutSeconds <= 0 {
		c.Queue.DeliveryTimeoutSeconds = defaultDeliveryTimeoutSeconds
	}
}

func (c *Config) normalizeDelivery() {
	c.Delivery.Kind = strings.ToLower(strings.TrimSpace(c.Delivery.Kind))
	if c.Delivery.Kind == "" {
		c.Delivery.Kind = defaultDeliveryKind
	}
	c.Delivery.Endpoint = strings.TrimSpace(c.Delivery.Endpoint)
	if c.Delivery.Endpoint == "" {
		if value, ok := os.LookupEnv("TRACESPOOL_ENDPOINT"); ok {
			c.Delivery.Endpoint = strings.TrimSpace(value)
		}
	}
	c.Delivery.APIKey = strings.TrimSpace(c.Delivery.APIKey)
	if c.Delivery.APIKey == "" {
		if value, ok := os.LookupEnv("TRACESPOOL_API_KEY"); ok {
			c.Delivery.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Delivery.RequestTimeoutSeconds <= 0 {
		c.Delivery.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
}

func (c *Config) normalizeRedis() {
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if value, ok := os.LookupEnv("TRACESPOOL_REDIS_ADDR"); ok && strings.TrimSpace(value) != "" {
		c.Redis.Addr = strings.TrimSpace(value)
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	c.Redis.Stream = strings.TrimSpace(c.Redis.Stream)
	if c.Redis.Stream == "" {
		c.Redis.Stream = defaultRedisStream
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
