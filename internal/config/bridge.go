// Package config binds the bridge's environment variables and flags into a
// single BridgeConfig, optionally seeded from a YAML file.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AuthMode selects how the HTTP surface authenticates callers (§6.3).
type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeBearer AuthMode = "bearer"
	AuthModeAPIKey AuthMode = "apikey"
)

// BridgeConfig holds every knob the bridge accepts, following the teacher's
// env-default-then-flag-override idiom.
type BridgeConfig struct {
	ConfigFile string

	// Transport
	Port        int
	MetricsPort int

	// Child process
	ChildCommand string
	ChildArgs    []string
	ChildEnv     []string
	StartupGrace time.Duration
	MaxRestarts  int

	// Session / queue policy
	MaxQueueDepth    int
	HardCapMultiple  int
	IdleTimeout      time.Duration
	DetachGrace      time.Duration
	MaxInFlight      int
	RequestTimeout   time.Duration

	// Auth
	AuthMode AuthMode
	APIKey   string
	Bearer   string

	// Filters
	CatalogFile      string
	ContentFilterCfg string

	// Open-question defaults
	BroadcastServerRequests bool
	LocalInitialize         bool
	AdvertiseURL            string

	// Peer-bridge identity (§9)
	NodeID string

	// Logging
	LogLevel    string
	LogLocation string
	LogPattern  string
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func defaultNodeID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "mcpbridge"
}

// LoadFile merges a YAML config file into c. Missing values in the file
// leave c's existing (env-derived) values untouched.
func (c *BridgeConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// BindFlags seeds defaults from the environment and registers flags that
// override them; call flag.Parse() afterward.
func (c *BridgeConfig) BindFlags() {
	c.Port = envInt("BRIDGE_PORT", 8090)
	c.MetricsPort = envInt("BRIDGE_METRICS_PORT", c.Port)
	c.ChildCommand = getEnv("BRIDGE_CHILD_COMMAND", "")
	c.ChildArgs = envList("BRIDGE_CHILD_ARGS", nil)
	c.ChildEnv = envList("BRIDGE_CHILD_ENV", nil)
	c.StartupGrace = envDuration("BRIDGE_STARTUP_GRACE", 5*time.Second)
	c.MaxRestarts = envInt("BRIDGE_MAX_RESTARTS", 8)
	c.MaxQueueDepth = envInt("BRIDGE_MAX_QUEUE_DEPTH", 100)
	c.HardCapMultiple = envInt("BRIDGE_HARD_CAP_MULTIPLE", 2)
	c.IdleTimeout = envDuration("BRIDGE_SESSION_IDLE_TIMEOUT", 10*time.Minute)
	c.DetachGrace = envDuration("BRIDGE_DETACH_GRACE", 30*time.Second)
	c.MaxInFlight = envInt("BRIDGE_MAX_IN_FLIGHT", 128)
	c.RequestTimeout = envDuration("BRIDGE_REQUEST_TIMEOUT", 30*time.Second)
	c.AuthMode = AuthMode(getEnv("BRIDGE_AUTH_MODE", string(AuthModeNone)))
	c.APIKey = getEnv("BRIDGE_API_KEY", "")
	c.Bearer = getEnv("BRIDGE_BEARER_TOKEN", "")
	c.CatalogFile = getEnv("BRIDGE_CATALOG_FILE", "")
	c.ContentFilterCfg = getEnv("BRIDGE_CONTENT_FILTER_CONFIG", "")
	c.BroadcastServerRequests = envBool("BRIDGE_BROADCAST_SERVER_REQUESTS", true)
	c.LocalInitialize = envBool("BRIDGE_LOCAL_INITIALIZE", true)
	c.AdvertiseURL = getEnv("BRIDGE_ADVERTISE_URL", "")
	c.NodeID = getEnv("BRIDGE_NODE_ID", defaultNodeID())
	c.LogLevel = getEnv("BRIDGE_LOG_LEVEL", "info")
	c.LogLocation = getEnv("BRIDGE_LOG_LOCATION", "")
	c.LogPattern = getEnv("BRIDGE_LOG_PATTERN", "bridge-*.log")

	flag.StringVar(&c.ConfigFile, "config", "", "optional YAML config file loaded before flags are parsed")
	flag.IntVar(&c.Port, "port", c.Port, "HTTP listen port for the bridge's public surface")
	flag.IntVar(&c.MetricsPort, "metrics-port", c.MetricsPort, "Prometheus metrics listen port; defaults to --port")
	flag.StringVar(&c.ChildCommand, "child-command", c.ChildCommand, "path to the MCP server executable to supervise")
	flag.DurationVar(&c.StartupGrace, "startup-grace", c.StartupGrace, "time to wait for the child to reach the ready state; the child counts as ready once its process has spawned, no initialize health check is sent")
	flag.IntVar(&c.MaxRestarts, "max-restarts", c.MaxRestarts, "restart budget before the child is marked terminal")
	flag.IntVar(&c.MaxQueueDepth, "max-queue-depth", c.MaxQueueDepth, "per-session outbound queue depth before drop-oldest applies")
	flag.IntVar(&c.HardCapMultiple, "hard-cap-multiple", c.HardCapMultiple, "multiple of max-queue-depth at which a slow session is closed")
	flag.DurationVar(&c.IdleTimeout, "session-idle-timeout", c.IdleTimeout, "duration a session may go without a sink before eviction")
	flag.DurationVar(&c.DetachGrace, "detach-grace", c.DetachGrace, "grace period a session survives after its sink detaches")
	flag.IntVar(&c.MaxInFlight, "max-in-flight", c.MaxInFlight, "maximum requests being written to the child at once; a slot is held only while the request is written, not until its response arrives")
	flag.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "maximum duration to wait for a child response before synthesizing a timeout error")
	flag.StringVar((*string)(&c.AuthMode), "auth-mode", string(c.AuthMode), "none|bearer|apikey")
	flag.StringVar(&c.APIKey, "api-key", c.APIKey, "API key required when --auth-mode=apikey")
	flag.StringVar(&c.Bearer, "bearer-token", c.Bearer, "bearer token required when --auth-mode=bearer")
	flag.StringVar(&c.CatalogFile, "catalog-file", c.CatalogFile, "path to a static tools/resources/prompts catalog")
	flag.StringVar(&c.ContentFilterCfg, "content-filter-config", c.ContentFilterCfg, "path to the optional content-filter middleware config (JSON or YAML)")
	flag.BoolVar(&c.BroadcastServerRequests, "broadcast-server-requests", c.BroadcastServerRequests, "broadcast server-initiated requests to all sessions")
	flag.BoolVar(&c.LocalInitialize, "local-initialize", c.LocalInitialize, "answer initialize locally in addition to forwarding it to the child")
	flag.StringVar(&c.AdvertiseURL, "advertise-url", c.AdvertiseURL, "fixed base URL for OAuth metadata; defaults to the request Host header")
	flag.StringVar(&c.NodeID, "node-id", c.NodeID, "identifier this bridge stamps into bridge_meta.route for peer-bridge loop detection (§9)")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "trace|debug|info|warn|error|none")
	flag.StringVar(&c.LogLocation, "log-location", c.LogLocation, "directory to also write logs to; empty disables file logging")
	flag.StringVar(&c.LogPattern, "log-pattern", c.LogPattern, "filename pattern under --log-location; '*' is replaced with a timestamp")
}

// Validate checks invariants BindFlags cannot enforce on its own.
func (c *BridgeConfig) Validate() error {
	if c.ChildCommand == "" {
		return fmt.Errorf("child-command is required")
	}
	switch c.AuthMode {
	case AuthModeNone, AuthModeBearer, AuthModeAPIKey:
	default:
		return fmt.Errorf("auth-mode must be none, bearer, or apikey, got %q", c.AuthMode)
	}
	if c.AuthMode == AuthModeAPIKey && c.APIKey == "" {
		return fmt.Errorf("api-key is required when auth-mode=apikey")
	}
	if c.AuthMode == AuthModeBearer && c.Bearer == "" {
		return fmt.Errorf("bearer-token is required when auth-mode=bearer")
	}
	if c.MaxQueueDepth <= 0 {
		return fmt.Errorf("max-queue-depth must be positive")
	}
	return nil
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(def)))
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, def.String()))
	if err != nil {
		return def
	}
	return v
}

func envList(key string, def []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
