// Package matching selects the capture to replay for a request.
//
// Candidates arrive pre-filtered on exact method, endpoint path, and
// caller identity. The engine then applies the endpoint's match
// configuration: dimension rules, query comparison, and optional body
// comparison. Among surviving candidates the one captured with the
// most query parameters wins; ties break deterministically on the
// lowest record ID, so the same request always replays the same
// capture.
package matching

import (
	"errors"

	"github.com/getdproxy/dproxy/pkg/capture"
	"github.com/getdproxy/dproxy/pkg/proxyctx"
)

// ErrNoMatch is returned when no candidate survives filtering.
var ErrNoMatch = errors.New("no matching capture")

// MatchResult is the selected capture plus why it won.
type MatchResult struct {
	Record *capture.Record

	// Score is the winning record's query-parameter specificity.
	Score int

	// Details lists the comparisons the winner passed, for debug logs.
	Details []string
}

// Engine matches requests against capture candidates.
type Engine struct{}

// NewEngine creates a match engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Match filters candidates per the endpoint's MatchConfig and picks
// the most specific survivor. A nil config falls back to the default.
func (e *Engine) Match(req *proxyctx.RequestContext, candidates []*capture.Record, cfg *capture.MatchConfig) (*MatchResult, error) {
	if cfg == nil {
		cfg = capture.DefaultMatchConfig()
	}
	if !cfg.Enabled || len(candidates) == 0 {
		return nil, ErrNoMatch
	}

	dims := capture.DimensionsFromHeaders(req.Current.Headers)

	var best *MatchResult
	for _, rec := range candidates {
		details, ok := e.evaluate(req, rec, cfg, dims)
		if !ok {
			continue
		}
		score := rec.QueryParamCount()
		if best == nil ||
			score > best.Score ||
			(score == best.Score && rec.ID < best.Record.ID) {
			best = &MatchResult{Record: rec, Score: score, Details: details}
		}
	}
	if best == nil {
		return nil, ErrNoMatch
	}
	return best, nil
}

func (e *Engine) evaluate(req *proxyctx.RequestContext, rec *capture.Record, cfg *capture.MatchConfig, dims capture.Dimensions) ([]string, bool) {
	var details []string

	if cfg.Platform == capture.DimensionExact {
		if dims.Platform != rec.Dimensions.Platform {
			return nil, false
		}
		details = append(details, "platform")
	}
	if cfg.AppVersion == capture.DimensionExact {
		if dims.AppVersion != rec.Dimensions.AppVersion {
			return nil, false
		}
		details = append(details, "appVersion")
	}
	if cfg.Locale == capture.DimensionExact {
		if dims.Locale != rec.Dimensions.Locale {
			return nil, false
		}
		details = append(details, "locale")
	}
	if cfg.Environment == capture.DimensionExact {
		if dims.Environment != rec.Dimensions.Environment {
			return nil, false
		}
		details = append(details, "environment")
	}

	if !matchQuery(req, rec, cfg) {
		return nil, false
	}
	details = append(details, "query")

	if cfg.MatchBody {
		if !matchBody(req.Current.Body, rec.Request.Body, cfg.BodyPaths) {
			return nil, false
		}
		details = append(details, "body")
	}

	return details, true
}

// matchQuery compares query parameters. With QueryParams configured,
// only those keys are compared; otherwise the capture's parameters must
// all be present in the request with equal first values, and a capture
// with no parameters matches any request (subset semantics, so a
// sparser capture never blocks a richer request).
func matchQuery(req *proxyctx.RequestContext, rec *capture.Record, cfg *capture.MatchConfig) bool {
	reqQuery := req.Current.Query
	recQuery := rec.Request.Query

	if len(cfg.QueryParams) > 0 {
		for _, key := range cfg.QueryParams {
			if reqQuery.Get(key) != recQuery.Get(key) {
				return false
			}
		}
		return true
	}

	for key, vals := range recQuery {
		if len(vals) == 0 {
			continue
		}
		if reqQuery.Get(key) != vals[0] {
			return false
		}
	}
	return true
}
