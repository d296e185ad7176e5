package config

const (
	defaultSpoolDir               = "~/.local/share/tracespool/spool"
	defaultStateDir               = "~/.local/share/tracespool"
	defaultLogDir                 = "~/.local/share/tracespool/logs"
	defaultMaxSpoolBytes          = 50 * 1024 * 1024
	defaultMaxAgeHours            = 7 * 24
	defaultFlushIntervalSeconds   = 30
	minFlushIntervalSeconds       = 1
	defaultMaxRetries             = 5
	defaultRetryBaseDelayMillis   = 1000
	defaultDeliveryTimeoutSeconds = 30
	defaultTrackerCapacity        = 10000
	defaultDeliveryKind           = DeliveryHTTP
	defaultDeliveryGzip           = true
	defaultRequestTimeoutSeconds  = 30
	defaultRedisAddr              = "localhost:6379"
	defaultRedisStream            = "tracespool.exports"
	defaultNotifyTimeoutSeconds   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
)

// Delivery sink kinds.
const (
	DeliveryHTTP  = "http"
	DeliveryRedis = "redis"
	DeliveryNone  = "none"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			SpoolDir: defaultSpoolDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Queue: Queue{
			MaxSpoolBytes:          defaultMaxSpoolBytes,
			MaxAgeHours:            defaultMaxAgeHours,
			FlushIntervalSeconds:   defaultFlushIntervalSeconds,
			MaxRetries:             defaultMaxRetries,
			RetryBaseDelayMillis:   defaultRetryBaseDelayMillis,
			DeliveryTimeoutSeconds: defaultDeliveryTimeoutSeconds,
			TrackerCapacity:        defaultTrackerCapacity,
		},
		Delivery: Delivery{
			Kind:                  defaultDeliveryKind,
			Gzip:                  defaultDeliveryGzip,
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
		},
		Redis: Redis{
			Addr:   defaultRedisAddr,
			Stream: defaultRedisStream,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
