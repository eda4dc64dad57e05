package config

import (
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// FallbackBehavior is the replay-mode policy applied when no capture matches.
type FallbackBehavior string

const (
	// FallbackError returns a synthetic 404 response.
	FallbackError FallbackBehavior = "error"
	// FallbackPassthrough forwards the request live to the backend.
	FallbackPassthrough FallbackBehavior = "passthrough"
	// FallbackTemplate returns a canned status-coded template.
	FallbackTemplate FallbackBehavior = "template"
)

// IsValid checks if the fallback behavior is valid.
func (f FallbackBehavior) IsValid() bool {
	switch f {
	case FallbackError, FallbackPassthrough, FallbackTemplate:
		return true
	default:
		return false
	}
}

// ServerConfig configures the proxy listener.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8888".
	Addr string `json:"addr" yaml:"addr"`
	// Mode is the initial operating mode when no persisted mode exists.
	Mode string `json:"mode" yaml:"mode"`
	// ModeFile persists the active mode across restarts ("" = no persistence).
	ModeFile string `json:"modeFile,omitempty" yaml:"modeFile,omitempty"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	// LogFormat is text or json.
	LogFormat string `json:"logFormat,omitempty" yaml:"logFormat,omitempty"`
	// AuditLog mirrors every log record as JSON to this file
	// ("" = console only).
	AuditLog string `json:"auditLog,omitempty" yaml:"auditLog,omitempty"`
}

// ForwardConfig configures the forwarding layer.
type ForwardConfig struct {
	// TargetBaseURL is joined with relative request URLs. Absolute request
	// URLs are used verbatim.
	TargetBaseURL string `json:"targetBaseUrl,omitempty" yaml:"targetBaseUrl,omitempty"`
	// RetryCount is the number of retries after the first attempt.
	RetryCount int `json:"retryCount" yaml:"retryCount"`
	// RetryBaseDelay is the base of the exponential backoff.
	RetryBaseDelay time.Duration `json:"retryBaseDelay" yaml:"retryBaseDelay"`
	// Timeout is the per-attempt timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// MaxIdleConns bounds the keep-alive connection pool.
	MaxIdleConns int `json:"maxIdleConns" yaml:"maxIdleConns"`
	// MaxConnsPerHost bounds concurrent connections per backend host.
	MaxConnsPerHost int `json:"maxConnsPerHost" yaml:"maxConnsPerHost"`
	// InsecureTLS skips backend certificate verification.
	InsecureTLS bool `json:"insecureTls,omitempty" yaml:"insecureTls,omitempty"`
}

// EvasionConfig configures the subprocess path used for HTTPS requests.
// The in-process TLS handshake fingerprint is detectable by upstream
// bot-mitigation, so HTTPS calls shell out to an external client.
type EvasionConfig struct {
	// Enabled turns the subprocess path on for HTTPS requests.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Command is the external HTTP client binary.
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
	// Args are extra arguments prepended before the generated ones.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`
	// Timeout is the hard wall-clock limit per subprocess.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// MaxConcurrent bounds simultaneous subprocesses.
	MaxConcurrent int `json:"maxConcurrent" yaml:"maxConcurrent"`
	// SpawnRate limits subprocess spawns per second (0 = unlimited).
	SpawnRate float64 `json:"spawnRate,omitempty" yaml:"spawnRate,omitempty"`
}

// EndpointsConfig classifies endpoint paths by doublestar glob patterns.
type EndpointsConfig struct {
	// Secure endpoints are captured and replayed per caller identity.
	Secure []string `json:"secure,omitempty" yaml:"secure,omitempty"`
	// Public endpoints are captured without identity.
	Public []string `json:"public,omitempty" yaml:"public,omitempty"`
	// SignedTransmit endpoints require byte-exact raw-socket forwarding.
	SignedTransmit []string `json:"signedTransmit,omitempty" yaml:"signedTransmit,omitempty"`
}

// SessionCreateRule marks requests eligible for proxy session creation.
type SessionCreateRule struct {
	// Method is the HTTP method, e.g. POST.
	Method string `json:"method" yaml:"method"`
	// PathPattern is a regex matched against the endpoint path.
	PathPattern string `json:"pathPattern" yaml:"pathPattern"`
}

// TokenRewriteRule regenerates a body-embedded auth token on replay.
type TokenRewriteRule struct {
	// JSONPath locates the token field in the response body.
	JSONPath string `json:"jsonPath" yaml:"jsonPath"`
	// PathPattern restricts the rule to matching endpoint paths (regex).
	PathPattern string `json:"pathPattern,omitempty" yaml:"pathPattern,omitempty"`
}

// SessionConfig configures the session collaborator.
type SessionConfig struct {
	// CookieName is the proxy-issued session cookie.
	CookieName string `json:"cookieName" yaml:"cookieName"`
	// SigningKey signs proxy session tokens.
	SigningKey string `json:"signingKey,omitempty" yaml:"signingKey,omitempty"`
	// UserIDHeader is checked first when extracting caller identity.
	UserIDHeader string `json:"userIdHeader,omitempty" yaml:"userIdHeader,omitempty"`
	// UserIDBodyPath is a JSONPath fallback for identity extraction.
	UserIDBodyPath string `json:"userIdBodyPath,omitempty" yaml:"userIdBodyPath,omitempty"`
	// CreateRules mark requests eligible for session creation.
	CreateRules []SessionCreateRule `json:"createRules,omitempty" yaml:"createRules,omitempty"`
	// TokenRewrites regenerate body-embedded auth tokens on replay.
	TokenRewrites []TokenRewriteRule `json:"tokenRewrites,omitempty" yaml:"tokenRewrites,omitempty"`
}

// ReplayConfig configures replay-mode behavior.
type ReplayConfig struct {
	// Fallback is applied when no capture matches.
	Fallback FallbackBehavior `json:"fallback" yaml:"fallback"`
}

// ClassifierConfig decides which traffic is monitored at all.
// Non-monitored traffic is always passed through and skips response
// interceptors, keeping third-party noise out of captures.
type ClassifierConfig struct {
	// MonitoredHosts are glob patterns of backend hosts considered monitored.
	// Empty means all hosts are monitored.
	MonitoredHosts []string `json:"monitoredHosts,omitempty" yaml:"monitoredHosts,omitempty"`
	// ExcludePaths are glob patterns never monitored (static assets etc.).
	ExcludePaths []string `json:"excludePaths,omitempty" yaml:"excludePaths,omitempty"`
	// Rules are expr boolean expressions over {method, host, path};
	// if any rule evaluates false the request is not monitored.
	Rules []string `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// StorageConfig configures capture persistence.
type StorageConfig struct {
	// CaptureDir persists captures as JSON files across restarts
	// ("" = in-memory only).
	CaptureDir string `json:"captureDir,omitempty" yaml:"captureDir,omitempty"`
}

// Config is the root dproxy configuration.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Forward    ForwardConfig    `json:"forward" yaml:"forward"`
	Evasion    EvasionConfig    `json:"evasion" yaml:"evasion"`
	Endpoints  EndpointsConfig  `json:"endpoints" yaml:"endpoints"`
	Session    SessionConfig    `json:"session" yaml:"session"`
	Replay     ReplayConfig     `json:"replay" yaml:"replay"`
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
}

// Default returns the configuration used when fields are omitted.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":8888",
			Mode:      "passthrough",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Forward: ForwardConfig{
			RetryCount:      3,
			RetryBaseDelay:  500 * time.Millisecond,
			Timeout:         30 * time.Second,
			MaxIdleConns:    100,
			MaxConnsPerHost: 50,
		},
		Evasion: EvasionConfig{
			Command:       "curl",
			Timeout:       45 * time.Second,
			MaxConcurrent: 16,
		},
		Session: SessionConfig{
			CookieName:   "dproxy_session",
			UserIDHeader: "X-User-Id",
		},
		Replay: ReplayConfig{
			Fallback: FallbackError,
		},
	}
}

// Validate checks fields that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.Replay.Fallback != "" && !c.Replay.Fallback.IsValid() {
		return fmt.Errorf("invalid replay fallback %q", c.Replay.Fallback)
	}
	if c.Forward.RetryCount < 0 {
		return fmt.Errorf("retryCount must be >= 0, got %d", c.Forward.RetryCount)
	}
	for _, pat := range append(append(append([]string{}, c.Endpoints.Secure...), c.Endpoints.Public...), c.Endpoints.SignedTransmit...) {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("invalid endpoint pattern %q", pat)
		}
	}
	return nil
}

// IsSecureEndpoint reports whether the path is captured per caller identity.
func (c *Config) IsSecureEndpoint(path string) bool {
	return matchAny(c.Endpoints.Secure, path)
}

// IsPublicEndpoint reports whether the path is captured without identity.
func (c *Config) IsPublicEndpoint(path string) bool {
	return matchAny(c.Endpoints.Public, path)
}

// IsSignedTransmitEndpoint reports whether the path requires byte-exact
// raw-socket forwarding for signature verification.
func (c *Config) IsSignedTransmitEndpoint(path string) bool {
	return matchAny(c.Endpoints.SignedTransmit, path)
}

func matchAny(patterns []string, path string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, path); err == nil && ok {
			return true
		}
	}
	return false
}
