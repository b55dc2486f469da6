package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestPlatform_ListRecords(t *testing.T) {
	modifiedAfter := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/records", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "c1", r.Header.Get("Connection-Id"))
		assert.Equal(t, "github", r.Header.Get("Provider-Config-Key"))
		assert.Equal(t, "GithubIssue", r.URL.Query().Get("model"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "2024-01-02T03:04:05Z", r.URL.Query().Get("modified_after"))
		assert.Equal(t, "abc", r.URL.Query().Get("cursor"))

		_, _ = w.Write([]byte(`{"records":[{"id":1,"title":"a"},{"id":"2","_meta":{"deletedAt":"2024-01-01"}}],"next_cursor":"def"}`))
	}))
	defer server.Close()

	p := NewPlatform(PlatformConfig{BaseURL: server.URL, SecretKey: "secret"}, testLogger())
	page, err := p.ListRecords(context.Background(), ListRecordsRequest{
		ProviderConfigKey: "github",
		ConnectionID:      "c1",
		Model:             "GithubIssue",
		ModifiedAfter:     &modifiedAfter,
		Limit:             50,
		Cursor:            "abc",
	})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "def", page.NextCursor)
	assert.Equal(t, "1", page.Records[0].ExternalID())
	assert.False(t, page.Records[0].IsDeleted())
	assert.True(t, page.Records[1].IsDeleted())
}

func TestPlatform_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	p := NewPlatform(PlatformConfig{BaseURL: server.URL}, testLogger())
	_, err := p.ListRecords(context.Background(), ListRecordsRequest{Model: "m"})

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestPlatform_ListConnections_AcceptsBothCasings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/connection", r.URL.Path)
		_, _ = w.Write([]byte(`{"connections":[
			{"connection_id":"c1","provider_config_key":"github","end_user":{"id":"u1","email":"a@b.c"}},
			{"connectionId":"c2","providerConfigKey":"slack"}
		]}`))
	}))
	defer server.Close()

	p := NewPlatform(PlatformConfig{BaseURL: server.URL}, testLogger())
	conns, err := p.ListConnections(context.Background())
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.Equal(t, "c1", conns[0].ConnectionID)
	assert.Equal(t, "github", conns[0].ProviderConfigKey)
	require.NotNil(t, conns[0].EndUser)
	assert.Equal(t, "u1", conns[0].EndUser.ID)
	assert.Equal(t, "c2", conns[1].ConnectionID)
	assert.Equal(t, "slack", conns[1].ProviderConfigKey)
}

func TestRecord_Helpers(t *testing.T) {
	var r Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":12345678901,"name":"x","_meta":{"cursor":"1"},"_nango_metadata":{"last_action":"UPDATED"}}`), &r))

	assert.Equal(t, "12345678901", r.ExternalID())
	assert.False(t, r.IsDeleted())
	assert.Equal(t, map[string]any{"id": float64(12345678901), "name": "x"}, r.Payload())
	assert.Contains(t, r, MetaKey, "payload must not mutate the record")

	nango := Record{"id": "a", NangoMetaKey: map[string]any{"last_action": "DELETED"}}
	assert.True(t, nango.IsDeleted())

	assert.Equal(t, "", Record{"name": "no id"}.ExternalID())
}

func TestEnricher(t *testing.T) {
	assert.Nil(t, NewEnricher("", 0, testLogger()))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req EnrichmentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "doc-1", req.ExternalID)
		_, _ = w.Write([]byte(`{"description":"A plan","summary":"short"}`))
	}))
	defer server.Close()

	e := NewEnricher(server.URL, time.Second, testLogger())
	out, err := e.FetchAndSummarize(context.Background(), EnrichmentRequest{Provider: "google-drive", ExternalID: "doc-1"})
	require.NoError(t, err)
	require.NotNil(t, out.Description)
	assert.Equal(t, "A plan", *out.Description)
	assert.Equal(t, "short", out.Summary)
}

func TestPlatform_ListRecords_LargeNumericIDsKeepPrecision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"records":[{"id":9007199254740993,"size":1.5},{"id":9007199254740992}]}`))
	}))
	defer server.Close()

	p := NewPlatform(PlatformConfig{BaseURL: server.URL}, testLogger())
	page, err := p.ListRecords(context.Background(), ListRecordsRequest{Model: "m"})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)

	assert.Equal(t, "9007199254740993", page.Records[0].ExternalID())
	assert.Equal(t, "9007199254740992", page.Records[1].ExternalID())

	raw, err := json.Marshal(page.Records[0].Payload())
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":9007199254740993,"size":1.5}`, string(raw))
	assert.Contains(t, string(raw), "9007199254740993")
}
