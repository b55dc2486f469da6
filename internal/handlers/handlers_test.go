package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/gate"
	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

const objectID = "0c9f1a52-6b7e-4f0e-9d59-3f4d2a8b1c77"

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type registrar interface {
	RegisterRoutes(g *echo.Group)
}

func newServer(handlers ...registrar) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(testLogger())
	api := e.Group("/api/v1")
	for _, h := range handlers {
		h.RegisterRoutes(api)
	}
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// objects

type fakeObjects struct {
	objects map[string]*models.UnifiedObject
}

func (f *fakeObjects) FindByID(_ context.Context, id string) (*models.UnifiedObject, error) {
	obj, ok := f.objects[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "unified object not found")
	}
	cp := *obj
	return &cp, nil
}

func (f *fakeObjects) Reactivate(ctx context.Context, id string) (*models.UnifiedObject, error) {
	if _, err := f.FindByID(ctx, id); err != nil {
		return nil, err
	}
	f.objects[id].State = models.ObjectStateActive
	return f.FindByID(ctx, id)
}

type fakeMappings struct {
	created []models.CreateSchemaMappingRequest
	byKey   map[string]*models.SchemaMapping
}

func (f *fakeMappings) Resolve(_ context.Context, ownerID, provider, model string) (*models.SchemaMapping, error) {
	if m, ok := f.byKey[ownerID+"/"+provider+"/"+model]; ok {
		return m, nil
	}
	if m, ok := f.byKey[ownerID+"/"+provider+"/"]; ok {
		return m, nil
	}
	return nil, httperror.NewHTTPError(http.StatusNotFound, "schema mapping not found")
}

func (f *fakeMappings) Create(_ context.Context, req models.CreateSchemaMappingRequest) (*models.SchemaMapping, error) {
	f.created = append(f.created, req)
	return &models.SchemaMapping{ID: "m-new", OwnerID: req.OwnerID, Provider: req.Provider, Model: req.Model, Expression: req.Expression}, nil
}

func (f *fakeMappings) List(_ context.Context, ownerID, provider string) ([]models.SchemaMapping, error) {
	out := []models.SchemaMapping{}
	for _, m := range f.byKey {
		if m.OwnerID == ownerID && (provider == "" || m.Provider == provider) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func objectServer() (*echo.Echo, *fakeObjects) {
	objects := &fakeObjects{objects: map[string]*models.UnifiedObject{
		objectID: {
			ID:                 objectID,
			Provider:           "github",
			ExternalID:         "42",
			Type:               normalizers.TypeIssue,
			Title:              "Crash on start",
			CanonicalURL:       "/item/" + objectID,
			State:              models.ObjectStateDeleted,
			MetadataNormalized: database.NewJSONB(map[string]any{"number": 7}),
			MetadataRaw:        database.NewJSONB(map[string]any{}),
		},
	}}
	mappings := &fakeMappings{byKey: map[string]*models.SchemaMapping{
		"o1/github/": {ID: "m1", OwnerID: "o1", Provider: "github", Expression: "{name: title, number: metadata_normalized.number}"},
	}}
	return newServer(NewObjectHandler(objects, mappings, mapping.NewRenderer(), testLogger())), objects
}

func TestObjectHandler_Get(t *testing.T) {
	e, _ := objectServer()

	rec := do(e, http.MethodGet, "/api/v1/objects/"+objectID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var obj models.UnifiedObject
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &obj))
	assert.Equal(t, "/item/"+objectID, obj.CanonicalURL)

	rec = do(e, http.MethodGet, "/api/v1/objects/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestObjectHandler_Reactivate(t *testing.T) {
	e, objects := objectServer()

	rec := do(e, http.MethodPost, "/api/v1/objects/"+objectID+"/reactivate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ObjectStateActive, objects.objects[objectID].State)
}

func TestObjectHandler_Render(t *testing.T) {
	e, _ := objectServer()

	rec := do(e, http.MethodGet, "/api/v1/objects/"+objectID+"/render?owner_id=o1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RenderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "m1", resp.MappingID)
	assert.Equal(t, map[string]any{"name": "Crash on start", "number": float64(7)}, resp.Result)

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/api/v1/objects/"+objectID+"/render", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/api/v1/objects/"+objectID+"/render?owner_id=o2", "").Code)
}

// schema mappings

func TestSchemaMappingHandler_Create(t *testing.T) {
	repo := &fakeMappings{byKey: map[string]*models.SchemaMapping{}}
	e := newServer(NewSchemaMappingHandler(repo, mapping.NewRenderer()))

	rec := do(e, http.MethodPost, "/api/v1/schema-mappings", `{"owner_id":"o1","provider":"github","expression":"{name: "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, repo.created)

	rec = do(e, http.MethodPost, "/api/v1/schema-mappings", `{"owner_id":"o1","expression":"title"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/api/v1/schema-mappings", `{"owner_id":"o1","provider":"github","model":"","expression":"{name: title}"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, repo.created, 1)
	assert.Nil(t, repo.created[0].Model)
}

func TestSchemaMappingHandler_List(t *testing.T) {
	repo := &fakeMappings{byKey: map[string]*models.SchemaMapping{
		"o1/github/": {ID: "m1", OwnerID: "o1", Provider: "github", Expression: "title"},
		"o2/github/": {ID: "m2", OwnerID: "o2", Provider: "github", Expression: "title"},
	}}
	e := newServer(NewSchemaMappingHandler(repo, mapping.NewRenderer()))

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/api/v1/schema-mappings", "").Code)

	rec := do(e, http.MethodGet, "/api/v1/schema-mappings?owner_id=o1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.SchemaMapping
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "m1", list[0].ID)
}

// sync configs

type fakeConfigs struct {
	rows map[string]*models.ConnectionSyncConfig
	err  error
}

func (f *fakeConfigs) Find(_ context.Context, connectionID, provider string) (*models.ConnectionSyncConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[connectionID+"/"+provider], nil
}

func (f *fakeConfigs) Upsert(_ context.Context, connectionID, provider string, dataTypes map[string]models.DataTypeSetting) (*models.ConnectionSyncConfig, error) {
	cfg := &models.ConnectionSyncConfig{ConnectionID: connectionID, Provider: provider, DataTypes: database.NewJSONB(dataTypes)}
	f.rows[connectionID+"/"+provider] = cfg
	return cfg, nil
}

type fakeCatalogs struct{}

func (fakeCatalogs) Catalog(string) normalizers.Catalog {
	return normalizers.Catalog{DataTypes: []normalizers.DataType{
		{Key: normalizers.TypeIssue, EnabledByDefault: true},
		{Key: normalizers.TypeRepository, EnabledByDefault: false},
	}}
}

func syncConfigServer(configs *fakeConfigs) *echo.Echo {
	g := gate.NewGate(configs, fakeCatalogs{}, testLogger())
	return newServer(NewSyncConfigHandler(configs, g, fakeCatalogs{}))
}

func TestSyncConfigHandler_GetDefaults(t *testing.T) {
	e := syncConfigServer(&fakeConfigs{rows: map[string]*models.ConnectionSyncConfig{}})

	rec := do(e, http.MethodGet, "/api/v1/sync-configs/c1/github", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SyncConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "c1", resp.ConnectionID)
	assert.Empty(t, resp.DataTypes.GetValue())
	assert.Equal(t, gate.Decision{Sync: true, Publish: true}, resp.Effective[normalizers.TypeIssue])
	assert.Equal(t, gate.Decision{}, resp.Effective[normalizers.TypeRepository])
}

func TestSyncConfigHandler_PutThenGet(t *testing.T) {
	e := syncConfigServer(&fakeConfigs{rows: map[string]*models.ConnectionSyncConfig{}})

	rec := do(e, http.MethodPut, "/api/v1/sync-configs/c1/github",
		`{"data_types":{"issue":{"enabled":true,"include_in_downstream_publish":false},"repository":{"enabled":true}}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodGet, "/api/v1/sync-configs/c1/github", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SyncConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, gate.Decision{Sync: true}, resp.Effective[normalizers.TypeIssue])
	assert.Equal(t, gate.Decision{Sync: true}, resp.Effective[normalizers.TypeRepository])

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPut, "/api/v1/sync-configs/c1/github", `{}`).Code)
}

func TestSyncConfigHandler_ReadError(t *testing.T) {
	e := syncConfigServer(&fakeConfigs{err: httperror.NewHTTPError(http.StatusInternalServerError, "failed to find sync config")})
	assert.Equal(t, http.StatusInternalServerError, do(e, http.MethodGet, "/api/v1/sync-configs/c1/github", "").Code)
}

// sync

type fakeQueue struct {
	kinds    []string
	payloads []json.RawMessage
	err      error
}

func (f *fakeQueue) Enqueue(_ context.Context, kind string, payload json.RawMessage) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.kinds = append(f.kinds, kind)
	f.payloads = append(f.payloads, payload)
	return "job-1", nil
}

func TestSyncHandler_Trigger(t *testing.T) {
	q := &fakeQueue{}
	e := newServer(NewSyncHandler(q, testLogger()))

	rec := do(e, http.MethodPost, "/api/v1/sync", `{"provider":"github","connection_id":"c1","model":"GithubIssue"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"job_id":"job-1"}`, rec.Body.String())

	require.Len(t, q.payloads, 1)
	assert.Equal(t, "sync", q.kinds[0])
	var payload models.WebhookPayload
	require.NoError(t, json.Unmarshal(q.payloads[0], &payload))
	assert.Equal(t, models.WebhookEventSync, payload.Type)
	assert.Equal(t, "github", payload.ProviderConfigKey)
	assert.True(t, payload.Success)

	rec = do(e, http.MethodPost, "/api/v1/sync", `{"provider":"github"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, q.payloads, 1)
}

func TestSyncHandler_QueueDown(t *testing.T) {
	e := newServer(NewSyncHandler(&fakeQueue{err: errors.New("queue full")}, testLogger()))
	rec := do(e, http.MethodPost, "/api/v1/sync", `{"provider":"github","connection_id":"c1","model":"GithubIssue"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// dlq

type fakeDeadLetters struct {
	entries []models.DeadLetter
	retried []string
}

func (f *fakeDeadLetters) ListDeadLetters(_ context.Context, limit int64) ([]models.DeadLetter, error) {
	if int64(len(f.entries)) > limit {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f *fakeDeadLetters) RetryDeadLetter(_ context.Context, id string) error {
	for _, e := range f.entries {
		if e.ID == id {
			f.retried = append(f.retried, id)
			return nil
		}
	}
	return httperror.NewHTTPError(http.StatusNotFound, "dead letter not found")
}

func TestDLQHandler(t *testing.T) {
	dlq := &fakeDeadLetters{entries: []models.DeadLetter{
		{ID: "1-0", Reason: models.DLQReasonMaxRetries},
		{ID: "2-0", Reason: models.DLQReasonInvalidJob},
	}}
	e := newServer(NewDLQHandler(dlq, testLogger()))

	rec := do(e, http.MethodGet, "/api/v1/dlq?count=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list DLQListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	assert.Equal(t, http.StatusOK, do(e, http.MethodPost, "/api/v1/dlq/2-0/retry", "").Code)
	assert.Equal(t, []string{"2-0"}, dlq.retried)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodPost, "/api/v1/dlq/9-0/retry", "").Code)
}
