package proxy

import (
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/getdproxy/dproxy/pkg/config"
	"github.com/getdproxy/dproxy/pkg/proxyctx"
)

// TrafficClassifier decides whether a request belongs to the monitored
// backend traffic. Mobile devices point their whole network stack at
// the proxy, so OS telemetry and third-party SDK calls arrive here too;
// those must flow through untouched and stay out of captures.
type TrafficClassifier struct {
	hosts    []string
	excludes []string
	programs []*vm.Program
}

// NewTrafficClassifier compiles the configured rules. Invalid globs or
// expressions fail at startup.
func NewTrafficClassifier(cfg config.ClassifierConfig) (*TrafficClassifier, error) {
	c := &TrafficClassifier{
		hosts:    cfg.MonitoredHosts,
		excludes: cfg.ExcludePaths,
	}
	for _, pat := range append(append([]string{}, cfg.MonitoredHosts...), cfg.ExcludePaths...) {
		if !doublestar.ValidatePattern(pat) {
			return nil, &PatternError{Pattern: pat}
		}
	}
	for _, rule := range cfg.Rules {
		program, err := expr.Compile(rule, expr.Env(classifierEnv{}), expr.AsBool())
		if err != nil {
			return nil, err
		}
		c.programs = append(c.programs, program)
	}
	return c, nil
}

// PatternError reports an invalid classifier glob.
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string {
	return "invalid classifier pattern " + e.Pattern
}

type classifierEnv struct {
	Method string `expr:"method"`
	Host   string `expr:"host"`
	Path   string `expr:"path"`
}

// Monitored reports whether the request is part of the system under
// test. Host globs gate first, then path excludes, then the expression
// rules, all of which must hold.
func (c *TrafficClassifier) Monitored(req *proxyctx.RequestContext) bool {
	host := requestHost(req)
	path := req.Current.Path

	if len(c.hosts) > 0 && !matchAny(c.hosts, host) {
		return false
	}
	if matchAny(c.excludes, path) {
		return false
	}
	if len(c.programs) == 0 {
		return true
	}

	env := classifierEnv{
		Method: req.Current.Method,
		Host:   host,
		Path:   path,
	}
	for _, program := range c.programs {
		out, err := expr.Run(program, env)
		if err != nil {
			return false
		}
		if ok, _ := out.(bool); !ok {
			return false
		}
	}
	return true
}

func requestHost(req *proxyctx.RequestContext) string {
	if u, err := url.Parse(req.Current.URL); err == nil && u.Host != "" {
		return strings.ToLower(u.Hostname())
	}
	return strings.ToLower(req.Current.Headers.Get("Host"))
}

func matchAny(patterns []string, s string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, s); err == nil && ok {
			return true
		}
	}
	return false
}
