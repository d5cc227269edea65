// Package config loads and validates the proxy configuration from a YAML
// file, with environment-variable overrides for scalar settings.
package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Backend describes one upstream JSON-RPC server. Backends are constructed
// once at startup and never mutated.
type Backend struct {
	// Label is the operator-assigned unique name for this backend.
	Label string `yaml:"label"`
	// URL is the absolute HTTP(S) origin requests are forwarded to.
	URL string `yaml:"url"`
	// Weight controls the share of weighted-random traffic this backend
	// receives relative to the rest of the pool.
	Weight int `yaml:"weight"`
}

// HealthCheck configures the background health monitor.
type HealthCheck struct {
	// IntervalSecs is the delay between the end of one probe cycle and the
	// start of the next.
	IntervalSecs uint64 `yaml:"interval_secs" env:"HEALTH_CHECK_INTERVAL_SECS"`
	// TimeoutSecs bounds a single probe round-trip.
	TimeoutSecs uint64 `yaml:"timeout_secs" env:"HEALTH_CHECK_TIMEOUT_SECS"`
	// Method is the JSON-RPC method used as the synthetic probe call.
	Method string `yaml:"method" env:"HEALTH_CHECK_METHOD"`
	// ConsecutiveFailuresThreshold is how many probe failures in a row flip
	// a healthy backend to unhealthy.
	ConsecutiveFailuresThreshold int `yaml:"consecutive_failures_threshold" env:"HEALTH_CHECK_FAILURES_THRESHOLD"`
	// ConsecutiveSuccessesThreshold is how many probe successes in a row
	// flip an unhealthy backend back to healthy.
	ConsecutiveSuccessesThreshold int `yaml:"consecutive_successes_threshold" env:"HEALTH_CHECK_SUCCESSES_THRESHOLD"`
}

// Proxy configures the forwarding path.
type Proxy struct {
	// TimeoutSecs bounds one forwarded upstream request. Exceeding it
	// surfaces a 504 to the caller.
	TimeoutSecs uint64 `yaml:"timeout_secs" env:"PROXY_TIMEOUT_SECS"`
}

// Config is the fully validated proxy configuration.
type Config struct {
	// Port is the listen port for the HTTP server.
	Port uint16 `yaml:"port" env:"PORT"`
	// APIKeys is the set of keys accepted on the api-key query parameter.
	// Entries starting with "$2" are treated as bcrypt hashes.
	APIKeys []string `yaml:"api_keys"`
	// Backends is the upstream pool, in the order weighted selection walks it.
	Backends []Backend `yaml:"backends"`
	// MethodRoutes pins a JSON-RPC method name to a backend label.
	MethodRoutes map[string]string `yaml:"method_routes"`
	// HealthCheck configures the background monitor.
	HealthCheck HealthCheck `yaml:"health_check"`
	// Proxy configures the forwarding path.
	Proxy Proxy `yaml:"proxy"`
}

// Defaults returns a Config carrying the documented default values for every
// optional setting. Load starts from this before applying the file and the
// environment.
func Defaults() Config {
	return Config{
		HealthCheck: HealthCheck{
			IntervalSecs:                  30,
			TimeoutSecs:                   5,
			Method:                        "getSlot",
			ConsecutiveFailuresThreshold:  3,
			ConsecutiveSuccessesThreshold: 2,
		},
		Proxy: Proxy{TimeoutSecs: 30},
	}
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result. Returns an error if the file is missing, malformed,
// or the configuration is invalid.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the proxy relies on: non-empty
// key set and pool, unique non-empty labels, positive weights, absolute
// http(s) URLs, method routes that resolve, and positive timeouts.
func (c Config) Validate() error {
	if len(c.APIKeys) == 0 {
		return fmt.Errorf("at least one API key must be configured")
	}
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}

	labels := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if b.Label == "" {
			return fmt.Errorf("backend with URL %q has empty label", b.URL)
		}
		if _, dup := labels[b.Label]; dup {
			return fmt.Errorf("duplicate backend label %q", b.Label)
		}
		labels[b.Label] = struct{}{}

		if b.Weight <= 0 {
			return fmt.Errorf("backend %q has invalid weight %d", b.Label, b.Weight)
		}
		u, err := url.Parse(b.URL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("backend %q has invalid URL %q", b.Label, b.URL)
		}
	}

	for method, label := range c.MethodRoutes {
		if _, ok := labels[label]; !ok {
			return fmt.Errorf("method route %q references unknown backend label %q", method, label)
		}
	}

	if c.HealthCheck.IntervalSecs == 0 {
		return fmt.Errorf("health_check interval_secs must be > 0")
	}
	if c.HealthCheck.TimeoutSecs == 0 {
		return fmt.Errorf("health_check timeout_secs must be > 0")
	}
	if c.HealthCheck.Method == "" {
		return fmt.Errorf("health_check method must not be empty")
	}
	if c.HealthCheck.ConsecutiveFailuresThreshold < 1 {
		return fmt.Errorf("health_check consecutive_failures_threshold must be >= 1")
	}
	if c.HealthCheck.ConsecutiveSuccessesThreshold < 1 {
		return fmt.Errorf("health_check consecutive_successes_threshold must be >= 1")
	}
	if c.Proxy.TimeoutSecs == 0 {
		return fmt.Errorf("proxy timeout_secs must be > 0")
	}
	return nil
}

// Labels returns the backend labels in configured order.
func (c Config) Labels() []string {
	labels := make([]string, len(c.Backends))
	for i, b := range c.Backends {
		labels[i] = b.Label
	}
	return labels
}
