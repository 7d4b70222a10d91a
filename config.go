package credvault

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/libopenstorage/credvault/docker"
)

// Keys understood by New. String valued keys fall back to the environment
// variable of the same name, then to a docker secret of the same name, when
// absent from the config map.
const (
	// KdfSaltKey overrides the application wide key derivation salt.
	KdfSaltKey = "CREDVAULT_KDF_SALT"
	// KdfIterationsKey overrides the PBKDF2 iteration count (minimum 100000).
	KdfIterationsKey = "CREDVAULT_KDF_ITERATIONS"
	// RateLimitStrategyKey selects sliding, fixed, token_bucket or none.
	RateLimitStrategyKey = "CREDVAULT_RATE_LIMIT_STRATEGY"
	// StoreMaxAttemptsKey bounds Store calls per owner per StoreWindowKey.
	StoreMaxAttemptsKey = "CREDVAULT_STORE_MAX_ATTEMPTS"
	StoreWindowKey      = "CREDVAULT_STORE_WINDOW"
	// RetrieveMaxAttemptsKey bounds Retrieve calls per owner per RetrieveWindowKey.
	RetrieveMaxAttemptsKey = "CREDVAULT_RETRIEVE_MAX_ATTEMPTS"
	RetrieveWindowKey      = "CREDVAULT_RETRIEVE_WINDOW"
	// RateLimitSweepScheduleKey is the cron schedule dropping idle windows
	// of the Manager's own limiter. Defaults to every hour.
	RateLimitSweepScheduleKey = "CREDVAULT_RATE_LIMIT_SWEEP_SCHEDULE"
	// RateLimitSweepMaxAgeKey is the idle age past which a window is dropped.
	RateLimitSweepMaxAgeKey = "CREDVAULT_RATE_LIMIT_SWEEP_MAX_AGE"
	// RateLimiterKey injects a ratelimit.Limiter shared with other components.
	RateLimiterKey = "CREDVAULT_RATE_LIMITER"
	// ClockKey injects a k8s.io/utils/clock.PassiveClock.
	ClockKey = "CREDVAULT_CLOCK"
	// LoggerKey injects a *logrus.Logger.
	LoggerKey = "CREDVAULT_LOGGER"

	// RateLimitNone disables throttling.
	RateLimitNone = "none"
)

const (
	defaultStoreMaxAttempts    = 10
	defaultRetrieveMaxAttempts = 30
	defaultWindow              = time.Minute
)

func getParam(config map[string]interface{}, name string) string {
	if v, exists := config[name]; exists {
		if s, ok := v.(string); ok {
			return s
		}
		return ""
	}
	if v := os.Getenv(name); v != "" {
		return v
	}
	v, _ := docker.Lookup(name)
	return v
}

func getIntParam(config map[string]interface{}, name string, def int) (int, error) {
	if v, ok := config[name].(int); ok {
		return v, nil
	}
	s := getParam(config, name)
	if s == "" {
		return def, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %v: %q", name, s)
	}
	return i, nil
}

func getDurationParam(config map[string]interface{}, name string, def time.Duration) (time.Duration, error) {
	if v, ok := config[name].(time.Duration); ok {
		return v, nil
	}
	s := getParam(config, name)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %v: %q", name, s)
	}
	return d, nil
}
