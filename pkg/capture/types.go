package capture

import (
	"net/http"
	"net/url"
	"time"

	"github.com/getdproxy/dproxy/internal/id"
)

// EndpointType classifies how a capture is keyed.
type EndpointType string

const (
	// EndpointSecure captures are keyed per caller identity.
	EndpointSecure EndpointType = "secure"
	// EndpointPublic captures carry no identity.
	EndpointPublic EndpointType = "public"
)

// Dimensions are the app/client attributes used to disambiguate
// otherwise-identical endpoint calls.
type Dimensions struct {
	Platform    string `json:"platform,omitempty"`
	AppVersion  string `json:"appVersion,omitempty"`
	Locale      string `json:"locale,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// Dimension headers sent by the mobile client.
const (
	HeaderPlatform    = "X-App-Platform"
	HeaderAppVersion  = "X-App-Version"
	HeaderLocale      = "X-App-Locale"
	HeaderEnvironment = "X-App-Env"
)

// DimensionsFromHeaders extracts app dimensions from request headers.
func DimensionsFromHeaders(h http.Header) Dimensions {
	return Dimensions{
		Platform:    h.Get(HeaderPlatform),
		AppVersion:  h.Get(HeaderAppVersion),
		Locale:      h.Get(HeaderLocale),
		Environment: h.Get(HeaderEnvironment),
	}
}

// CapturedRequest is the persisted view of a backend request.
type CapturedRequest struct {
	Method  string      `json:"method"`
	Path    string      `json:"path"`
	Query   url.Values  `json:"query,omitempty"`
	Headers http.Header `json:"headers,omitempty"`
	Body    []byte      `json:"body,omitempty"`

	// Raw holds the verbatim wire bytes for signed transmit endpoints.
	Raw []byte `json:"raw,omitempty"`
}

// CapturedResponse is the persisted view of a backend response,
// exactly as the backend sent it (before any client-facing rewriting).
type CapturedResponse struct {
	Status     int         `json:"status"`
	StatusText string      `json:"statusText"`
	Headers    http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"body,omitempty"`
}

// Record is one persisted request/response pair.
type Record struct {
	ID           string       `json:"id"`
	EndpointType EndpointType `json:"endpointType"`

	// UserID scopes secure-endpoint captures to one caller. Empty for public.
	UserID string `json:"userId,omitempty"`

	Dimensions Dimensions       `json:"dimensions"`
	Request    CapturedRequest  `json:"request"`
	Response   CapturedResponse `json:"response"`

	Latency        time.Duration `json:"latency"`
	CorrelationIDs []string      `json:"correlationIds,omitempty"`
	RecordedAt     time.Time     `json:"recordedAt"`
}

// NewRecord creates a record with a fresh ID and timestamp.
func NewRecord(endpointType EndpointType) *Record {
	return &Record{
		ID:           id.Short(),
		EndpointType: endpointType,
		RecordedAt:   time.Now(),
	}
}

// QueryParamCount returns the number of distinct query parameters captured
// with the request. The match engine uses it as the specificity score.
func (r *Record) QueryParamCount() int {
	return len(r.Request.Query)
}

// DimensionRule says whether one dimension must match exactly or is ignored.
type DimensionRule bool

const (
	// DimensionExact requires an exact match on the dimension.
	DimensionExact DimensionRule = true
	// DimensionIgnore skips the dimension during matching.
	DimensionIgnore DimensionRule = false
)

// MatchConfig is the per-endpoint matching configuration.
type MatchConfig struct {
	// Enabled gates matching for this endpoint entirely.
	Enabled bool `json:"enabled"`

	// Priority orders configs when several patterns cover one endpoint.
	Priority int `json:"priority"`

	// QueryParams restricts query comparison to the listed keys.
	// Nil means compare the full query string.
	QueryParams []string `json:"queryParams,omitempty"`

	// BodyPaths restricts body comparison to the listed JSONPaths.
	// Nil with MatchBody=true means full-body equality.
	BodyPaths []string `json:"bodyPaths,omitempty"`

	// MatchBody enables body comparison at all.
	MatchBody bool `json:"matchBody"`

	// Dimension rules: exact or ignore per dimension.
	Platform    DimensionRule `json:"platform"`
	AppVersion  DimensionRule `json:"appVersion"`
	Locale      DimensionRule `json:"locale"`
	Environment DimensionRule `json:"environment"`
}

// DefaultMatchConfig compares the full query string, ignores the body,
// and requires exact platform/environment with version and locale ignored.
func DefaultMatchConfig() *MatchConfig {
	return &MatchConfig{
		Enabled:     true,
		Platform:    DimensionExact,
		Environment: DimensionExact,
		AppVersion:  DimensionIgnore,
		Locale:      DimensionIgnore,
	}
}
