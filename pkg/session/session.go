// Package session manages proxy-issued client sessions.
//
// During recording, requests that hit a session-creating endpoint get a
// proxy session issued alongside the backend's own cookie. During
// replay there is no live backend to mint sessions, so the proxy swaps
// fresh session cookies and body-embedded auth tokens into the replayed
// response; without that the mobile client would reject the stale
// credentials baked into the capture.
package session

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/getdproxy/dproxy/pkg/config"
	"github.com/getdproxy/dproxy/pkg/proxyctx"
)

// ErrInvalidToken is returned when a presented session token fails
// signature or claim validation.
var ErrInvalidToken = errors.New("invalid session token")

// DefaultTokenTTL bounds proxy session lifetime.
const DefaultTokenTTL = 24 * time.Hour

// Manager is the session collaborator contract used by the modes.
type Manager interface {
	// ShouldCreateSession reports whether the request hits a
	// session-creating endpoint.
	ShouldCreateSession(method, path string) bool

	// ExtractUserID pulls the caller identity from the request, header
	// first with a body JSONPath fallback. Empty when absent.
	ExtractUserID(req *proxyctx.RequestContext) string

	// CreateSessionAndCookie mints a proxy session for the user and
	// returns its id plus the Set-Cookie value carrying the signed token.
	CreateSessionAndCookie(userID string) (sessionID, cookie string, err error)

	// RewriteSessionInSetCookie replaces any proxy session cookie on the
	// response with a freshly minted one, adding one when absent.
	RewriteSessionInSetCookie(resp *proxyctx.ResponseContext, userID string) (string, error)

	// RewriteAuthTokenInBody regenerates body-embedded auth tokens on
	// replayed responses for endpoints covered by a rewrite rule.
	RewriteAuthTokenInBody(resp *proxyctx.ResponseContext, path string) error

	// ValidateToken checks a presented token and returns its identity.
	ValidateToken(token string) (userID, sessionID string, err error)
}

type createRule struct {
	method string
	pathRe *regexp.Regexp
}

type rewriteRule struct {
	expr   jp.Expr
	pathRe *regexp.Regexp // nil matches every path
}

// JWTManager implements Manager with HMAC-signed JWT session tokens.
type JWTManager struct {
	cfg      config.SessionConfig
	key      []byte
	ttl      time.Duration
	creates  []createRule
	rewrites []rewriteRule
	bodyPath jp.Expr
}

// NewJWTManager compiles the configured rules. Rule regexes and
// JSONPaths are validated here so bad configuration fails at startup,
// not mid-traffic.
func NewJWTManager(cfg config.SessionConfig) (*JWTManager, error) {
	m := &JWTManager{
		cfg: cfg,
		key: []byte(cfg.SigningKey),
		ttl: DefaultTokenTTL,
	}
	if len(m.key) == 0 {
		return nil, errors.New("session signing key is required")
	}

	for _, rule := range cfg.CreateRules {
		re, err := regexp.Compile(rule.PathPattern)
		if err != nil {
			return nil, fmt.Errorf("create rule pattern %q: %w", rule.PathPattern, err)
		}
		m.creates = append(m.creates, createRule{
			method: strings.ToUpper(rule.Method),
			pathRe: re,
		})
	}

	for _, rule := range cfg.TokenRewrites {
		expr, err := jp.ParseString(rule.JSONPath)
		if err != nil {
			return nil, fmt.Errorf("token rewrite path %q: %w", rule.JSONPath, err)
		}
		r := rewriteRule{expr: expr}
		if rule.PathPattern != "" {
			re, err := regexp.Compile(rule.PathPattern)
			if err != nil {
				return nil, fmt.Errorf("token rewrite pattern %q: %w", rule.PathPattern, err)
			}
			r.pathRe = re
		}
		m.rewrites = append(m.rewrites, r)
	}

	if cfg.UserIDBodyPath != "" {
		expr, err := jp.ParseString(cfg.UserIDBodyPath)
		if err != nil {
			return nil, fmt.Errorf("user id body path %q: %w", cfg.UserIDBodyPath, err)
		}
		m.bodyPath = expr
	}
	return m, nil
}

// ShouldCreateSession reports whether any create rule covers the request.
func (m *JWTManager) ShouldCreateSession(method, path string) bool {
	upper := strings.ToUpper(method)
	for _, rule := range m.creates {
		if rule.method != "" && rule.method != upper {
			continue
		}
		if rule.pathRe.MatchString(path) {
			return true
		}
	}
	return false
}

// ExtractUserID checks the identity header first, then the body JSONPath.
func (m *JWTManager) ExtractUserID(req *proxyctx.RequestContext) string {
	if m.cfg.UserIDHeader != "" {
		if v := req.Current.Headers.Get(m.cfg.UserIDHeader); v != "" {
			return v
		}
	}
	if m.bodyPath == nil || len(req.Current.Body) == 0 {
		return ""
	}
	data, err := oj.Parse(req.Current.Body)
	if err != nil {
		return ""
	}
	for _, v := range m.bodyPath.Get(data) {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// CreateSessionAndCookie mints a session token for the user.
func (m *JWTManager) CreateSessionAndCookie(userID string) (string, string, error) {
	sessionID := uuid.NewString()
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        sessionID,
		Issuer:    "dproxy",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", "", fmt.Errorf("signing session token: %w", err)
	}
	cookie := m.cfg.CookieName + "=" + token + "; Path=/; HttpOnly"
	return sessionID, cookie, nil
}

// RewriteSessionInSetCookie swaps the proxy session cookie on the
// response for a fresh one. Backend cookies stay untouched.
func (m *JWTManager) RewriteSessionInSetCookie(resp *proxyctx.ResponseContext, userID string) (string, error) {
	sessionID, cookie, err := m.CreateSessionAndCookie(userID)
	if err != nil {
		return "", err
	}

	prefix := m.cfg.CookieName + "="
	existing := resp.Current.Headers.Values("Set-Cookie")
	out := make([]string, 0, len(existing)+1)
	replaced := false
	for _, v := range existing {
		if strings.HasPrefix(v, prefix) {
			out = append(out, cookie)
			replaced = true
			continue
		}
		out = append(out, v)
	}
	if !replaced {
		out = append(out, cookie)
	}
	resp.ReplaceSetCookie(out)
	return sessionID, nil
}

// RewriteAuthTokenInBody regenerates auth tokens at the configured
// JSONPaths. Rules that do not cover the path, bodies that are not
// JSON, and paths absent from the body are all left alone.
func (m *JWTManager) RewriteAuthTokenInBody(resp *proxyctx.ResponseContext, path string) error {
	if len(m.rewrites) == 0 || len(resp.Current.Body) == 0 {
		return nil
	}

	var applicable []rewriteRule
	for _, rule := range m.rewrites {
		if rule.pathRe == nil || rule.pathRe.MatchString(path) {
			applicable = append(applicable, rule)
		}
	}
	if len(applicable) == 0 {
		return nil
	}

	data, err := oj.Parse(resp.Current.Body)
	if err != nil {
		return nil
	}

	changed := false
	for _, rule := range applicable {
		if len(rule.expr.Get(data)) == 0 {
			continue
		}
		if err := rule.expr.Set(data, uuid.NewString()); err != nil {
			return fmt.Errorf("rewriting auth token: %w", err)
		}
		changed = true
	}
	if changed {
		resp.SetBody([]byte(oj.JSON(data)))
	}
	return nil
}

// ValidateToken verifies signature and expiry and returns the identity.
func (m *JWTManager) ValidateToken(token string) (string, string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.key, nil
	})
	if err != nil || !parsed.Valid {
		return "", "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.ID, nil
}
