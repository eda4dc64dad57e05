package capture

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedRecord(method, path, userID string, endpointType EndpointType) *Record {
	rec := NewRecord(endpointType)
	rec.UserID = userID
	rec.Request = CapturedRequest{
		Method: method,
		Path:   path,
		Query:  url.Values{"region": {"US"}},
	}
	rec.Response = CapturedResponse{Status: 200, Body: []byte(`{"ok":true}`)}
	return rec
}

func TestMemoryRepository_FindCandidates(t *testing.T) {
	repo := NewMemoryRepository()
	require.NoError(t, repo.SaveCapturedPair(storedRecord("GET", "/v1/items", "", EndpointPublic)))
	require.NoError(t, repo.SaveCapturedPair(storedRecord("GET", "/v1/profile", "u1", EndpointSecure)))
	require.NoError(t, repo.SaveCapturedPair(storedRecord("GET", "/v1/profile", "u2", EndpointSecure)))

	public, err := repo.FindCandidates("GET", "/v1/items", "", EndpointPublic)
	require.NoError(t, err)
	assert.Len(t, public, 1)

	// Secure candidates are scoped to the caller.
	u1, err := repo.FindCandidates("GET", "/v1/profile", "u1", EndpointSecure)
	require.NoError(t, err)
	require.Len(t, u1, 1)
	assert.Equal(t, "u1", u1[0].UserID)

	// Wrong method or path yields nothing.
	none, err := repo.FindCandidates("POST", "/v1/items", "", EndpointPublic)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryRepository_MatchConfigPriority(t *testing.T) {
	repo := NewMemoryRepository()

	low := &MatchConfig{Enabled: true, Priority: 1, MatchBody: false}
	high := &MatchConfig{Enabled: true, Priority: 10, MatchBody: true}
	require.NoError(t, repo.SetMatchConfig("GET", `^/v1/items`, low))
	require.NoError(t, repo.SetMatchConfig("GET", `^/v1/items/special$`, high))

	cfg, err := repo.GetEndpointMatchConfig("GET", "/v1/items/special", EndpointPublic)
	require.NoError(t, err)
	assert.True(t, cfg.MatchBody)

	cfg, err = repo.GetEndpointMatchConfig("GET", "/v1/items/1", EndpointPublic)
	require.NoError(t, err)
	assert.False(t, cfg.MatchBody)

	// No rule covers the endpoint: the default applies.
	cfg, err = repo.GetEndpointMatchConfig("GET", "/v1/other", EndpointPublic)
	require.NoError(t, err)
	assert.Equal(t, DefaultMatchConfig(), cfg)
}

func TestMemoryRepository_InvalidConfigPattern(t *testing.T) {
	repo := NewMemoryRepository()
	assert.Error(t, repo.SetMatchConfig("GET", "(", DefaultMatchConfig()))
}

func TestMemoryRepository_ExportDeterministic(t *testing.T) {
	repo := NewMemoryRepository()
	require.NoError(t, repo.SaveCapturedPair(storedRecord("GET", "/v1/b", "", EndpointPublic)))
	require.NoError(t, repo.SaveCapturedPair(storedRecord("GET", "/v1/a", "", EndpointPublic)))

	first, err := repo.Export()
	require.NoError(t, err)
	second, err := repo.Export()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFileRepository_SurvivesReload(t *testing.T) {
	dir := t.TempDir()

	repo, err := NewFileRepository(dir)
	require.NoError(t, err)
	rec := storedRecord("GET", "/v1/items", "", EndpointPublic)
	require.NoError(t, repo.SaveCapturedPair(rec))
	require.Equal(t, 1, repo.Count())

	// A fresh repository over the same directory sees the record.
	reloaded, err := NewFileRepository(dir)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Count())

	candidates, err := reloaded.FindCandidates("GET", "/v1/items", "", EndpointPublic)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, rec.ID, candidates[0].ID)
	assert.Equal(t, "US", candidates[0].Request.Query.Get("region"))
	assert.JSONEq(t, `{"ok":true}`, string(candidates[0].Response.Body))
}

func TestFileRepository_ClearRemovesFiles(t *testing.T) {
	dir := t.TempDir()

	repo, err := NewFileRepository(dir)
	require.NoError(t, err)
	require.NoError(t, repo.SaveCapturedPair(storedRecord("GET", "/v1/items", "", EndpointPublic)))
	assert.Equal(t, 1, repo.Clear())
	assert.Equal(t, 0, repo.Count())

	reloaded, err := NewFileRepository(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.Count())
}

func TestFileRepository_CorruptRecordFailsLoad(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir)
	require.NoError(t, err)
	require.NoError(t, repo.SaveCapturedPair(storedRecord("GET", "/v1/items", "", EndpointPublic)))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{not json"), 0o600))
	_, err = NewFileRepository(dir)
	assert.Error(t, err)
}
