package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/unifiedobject"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/gate"
	"github.com/Ramsey-B/fern/pkg/integrations"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// fakeSource serves pages per model. Page n is requested with cursor "p<n>".
type fakeSource struct {
	mu       sync.Mutex
	pages    map[string][][]integrations.Record
	failPage map[string]int
	conns    []integrations.Connection
	requests []integrations.ListRecordsRequest
}

func (f *fakeSource) ListRecords(_ context.Context, req integrations.ListRecordsRequest) (*integrations.RecordPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	idx := 0
	if req.Cursor != "" {
		_, _ = fmt.Sscanf(req.Cursor, "p%d", &idx)
	}
	if fail, ok := f.failPage[req.Model]; ok && fail == idx {
		return nil, errors.New("platform unavailable")
	}

	pages := f.pages[req.Model]
	if idx >= len(pages) {
		return &integrations.RecordPage{}, nil
	}
	page := &integrations.RecordPage{Records: pages[idx]}
	if idx+1 < len(pages) || f.failPage[req.Model] == idx+1 {
		page.NextCursor = fmt.Sprintf("p%d", idx+1)
	}
	return page, nil
}

func (f *fakeSource) ListConnections(_ context.Context) ([]integrations.Connection, error) {
	return f.conns, nil
}

// memStore mirrors the repository's write outcomes in memory.
type memStore struct {
	mu        sync.Mutex
	objects   map[string]*models.UnifiedObject
	summaries map[string]string
	// failCreate makes Create fail once for each listed external id
	failCreate map[string]bool
}

func newMemStore() *memStore {
	return &memStore{objects: map[string]*models.UnifiedObject{}, summaries: map[string]string{}}
}

func (m *memStore) get(provider, externalID string) *models.UnifiedObject {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[provider+":"+externalID]
	if !ok {
		return nil
	}
	cp := *obj
	return &cp
}

func (m *memStore) FindByProviderExternalID(_ context.Context, provider, externalID string) (*models.UnifiedObject, error) {
	return m.get(provider, externalID), nil
}

func (m *memStore) Create(_ context.Context, c models.ObjectCandidate) (*unifiedobject.WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCreate[c.ExternalID] {
		delete(m.failCreate, c.ExternalID)
		return nil, errors.New("connection reset by peer")
	}

	key := c.Provider + ":" + c.ExternalID
	if existing, ok := m.objects[key]; ok {
		return m.write(existing, c), nil
	}

	id := uuid.NewString()
	obj := &models.UnifiedObject{
		ID:           id,
		Provider:     c.Provider,
		ExternalID:   c.ExternalID,
		CanonicalURL: models.CanonicalURLFor(id, c.CanonicalPath),
		State:        models.ObjectStateActive,
	}
	apply(obj, c)
	m.objects[key] = obj
	cp := *obj
	return &unifiedobject.WriteResult{Object: &cp, Outcome: unifiedobject.OutcomeCreated}, nil
}

func (m *memStore) Update(_ context.Context, id string, c models.ObjectCandidate) (*unifiedobject.WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, obj := range m.objects {
		if obj.ID == id {
			return m.write(obj, c), nil
		}
	}
	return nil, errors.New("not found")
}

func (m *memStore) write(obj *models.UnifiedObject, c models.ObjectCandidate) *unifiedobject.WriteResult {
	outcome := unifiedobject.OutcomeUpdated
	switch {
	case obj.IsDeleted():
		outcome = unifiedobject.OutcomeDeleted
	case obj.ContentHash == c.ContentHash:
		outcome = unifiedobject.OutcomeUnchanged
	default:
		apply(obj, c)
	}
	cp := *obj
	return &unifiedobject.WriteResult{Object: &cp, Outcome: outcome}
}

func apply(obj *models.UnifiedObject, c models.ObjectCandidate) {
	obj.ConnectionID = c.ConnectionID
	obj.Type = c.Data.Type
	obj.Title = c.Data.Title
	obj.Description = c.Data.Description
	obj.MimeType = c.Data.MimeType
	obj.MetadataRaw = database.NewJSONB(c.MetadataRaw)
	obj.MetadataNormalized = database.NewJSONB(c.Data.MetadataNormalized)
	obj.ContentHash = c.ContentHash
}

func (m *memStore) MarkDeleted(_ context.Context, provider, externalID string) (*models.UnifiedObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[provider+":"+externalID]
	if !ok || obj.IsDeleted() {
		return nil, nil
	}
	obj.State = models.ObjectStateDeleted
	cp := *obj
	return &cp, nil
}

func (m *memStore) AttachSummary(_ context.Context, id string, description *string, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[id] = summary
	return nil
}

type fakeConfigStore struct {
	cfg *models.ConnectionSyncConfig
	err error
}

func (f *fakeConfigStore) Find(_ context.Context, _, _ string) (*models.ConnectionSyncConfig, error) {
	return f.cfg, f.err
}

type fakeConnections struct {
	mu       sync.Mutex
	upserted []models.Connection
	cursors  map[string]time.Time
}

func newFakeConnections() *fakeConnections {
	return &fakeConnections{cursors: map[string]time.Time{}}
}

func (f *fakeConnections) Upsert(_ context.Context, conn models.Connection) (*models.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, conn)
	return &conn, nil
}

func (f *fakeConnections) GetCursor(_ context.Context, connectionID, provider, model string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ts, ok := f.cursors[connectionID+"/"+provider+"/"+model]; ok {
		return &ts, nil
	}
	return nil, nil
}

func (f *fakeConnections) SetCursor(_ context.Context, connectionID, provider, model string, syncedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[connectionID+"/"+provider+"/"+model] = syncedAt
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.ObjectEvent
}

func (f *fakePublisher) PublishObjectEvent(_ context.Context, evt models.ObjectEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakePublisher) types() []models.ObjectEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ObjectEventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeEnricher struct {
	err   error
	calls int
}

func (f *fakeEnricher) FetchAndSummarize(_ context.Context, _ integrations.EnrichmentRequest) (*integrations.Enrichment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &integrations.Enrichment{Summary: "a short summary"}, nil
}

type harness struct {
	source      *fakeSource
	store       *memStore
	configs     *fakeConfigStore
	connections *fakeConnections
	publisher   *fakePublisher
	orch        *Orchestrator
}

func newHarness(cfg Config) *harness {
	registry := normalizers.NewDefaultRegistry(normalizers.Options{})
	h := &harness{
		source:      &fakeSource{pages: map[string][][]integrations.Record{}, failPage: map[string]int{}},
		store:       newMemStore(),
		configs:     &fakeConfigStore{},
		connections: newFakeConnections(),
		publisher:   &fakePublisher{},
	}
	g := gate.NewGate(h.configs, registry, testLogger())
	h.orch = NewOrchestrator(h.source, h.store, registry, g, h.connections, cfg, testLogger())
	h.orch.SetPublisher(h.publisher)
	return h
}

func issue(id any, title string) integrations.Record {
	return integrations.Record{
		"id":       id,
		"number":   float64(7),
		"state":    "open",
		"title":    title,
		"html_url": "https://github.com/acme/app/issues/7",
		"_meta":    map[string]any{"cursor": "x"},
	}
}

var issueReq = models.SyncRequest{Provider: "github", ConnectionID: "c1", Model: "GithubIssue"}

func TestSync_CreateThenIdempotent(t *testing.T) {
	h := newHarness(Config{})
	h.source.pages["GithubIssue"] = [][]integrations.Record{{issue("1", "First"), issue("2", "Second")}}

	res, err := h.orch.Sync(context.Background(), issueReq)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 0, res.Errors)

	first := h.store.get("github", "1")
	require.NotNil(t, first)
	assert.Equal(t, "/item/"+first.ID, first.CanonicalURL)
	assert.Equal(t, "issue", first.Type)

	res, err = h.orch.Sync(context.Background(), issueReq)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Synced)
	assert.Equal(t, 2, res.Skipped)

	again := h.store.get("github", "1")
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.ContentHash, again.ContentHash)
	assert.Equal(t, []models.ObjectEventType{models.ObjectEventCreated, models.ObjectEventCreated}, h.publisher.types())
}

func TestSync_EnvelopeChangesDoNotCountAsContent(t *testing.T) {
	h := newHarness(Config{})
	h.source.pages["GithubIssue"] = [][]integrations.Record{{issue("1", "First")}}
	_, err := h.orch.Sync(context.Background(), issueReq)
	require.NoError(t, err)

	rec := issue("1", "First")
	rec["_meta"] = map[string]any{"cursor": "y", "last_modified_at": "later"}
	h.source.pages["GithubIssue"] = [][]integrations.Record{{rec}}

	res, err := h.orch.Sync(context.Background(), issueReq)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
}

func TestSync_UpdateKeepsIdentity(t *testing.T) {
	h := newHarness(Config{})
	h.source.pages["GithubIssue"] = [][]integrations.Record{{issue("1", "First")}}
	_, err := h.orch.Sync(context.Background(), issueReq)
	require.NoError(t, err)
	before := h.store.get("github", "1")

	h.source.pages["GithubIssue"] = [][]integrations.Record{{issue("1", "Renamed")}}
	res, err := h.orch.Sync(context.Background(), issueReq)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	after := h.store.get("github", "1")
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.CanonicalURL, after.CanonicalURL)
	assert.Equal(t, "Renamed", after.Title)
	assert.NotEqual(t, before.ContentHash, after.ContentHash)
	assert.Equal(t, []models.ObjectEventType{models.ObjectEventCreated, models.ObjectEventUpdated}, h.publisher.types())
}

func TestSync_DeleteIsTerminal(t *testing.T) {
	h := newHarness(Config{})
	h.source.pages["GithubIssue"] = [][]integrations.Record{{issue("1", "First")}}
	_, err := h.orch.Sync(context.Background(), issueReq)
	require.NoError(t, err)

	deleted := issue("1", "First")
	deleted["_meta"] = map[string]any{"deletedAt": "2024-05-01T00:00:00Z"}
	h.source.pages["GithubIssue"] = [][]integrations.Record{{deleted}}

	res, err := h.orch.Sync(context.Background(), issueReq)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.True(t, h.store.get("github", "1").IsDeleted())

	h.source.pages["GithubIssue"] = [][]integrations.Record{{issue("1", "Back again")}}
	res, err = h.orch.Sync(context.Background(), issueReq)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Synced)
	assert.Equal(t, 1, res.Skipped)

	obj := h.store.get("github", "1")
	assert.True(t, obj.IsDeleted())
	assert.Equal(t, "First", obj.Title)
	assert.Equal(t, []models.ObjectEventType{models.ObjectEventCreated, models.ObjectEventDeleted}, h.publisher.types())
}

func TestSync_DeleteOfUnknownObjectCountsAsSynced(t *testing.T) {
	h := newHarness(Config{})
	rec := issue("9", "Gone")
	rec["_nango_metadata"] = map[string]any{"last_action": "DELETED"}
	h.source.pages["GithubIssue"] = [][]integrations.Record{{rec}}

	res, err := h.orch.Sync(context.Background(), issueReq)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Nil(t, h.store.get("github", "9"))
	assert.Empty(t, h.publisher.types())
}

func TestSync_RecordErrorsAreIsolated(t *testing.T) {
	h := newHarness(Config{})
	noID := issue("", "Missing id")
	delete(noID, "id")
	h.source.pages["GithubIssue"] = [][]integrations.Record{{noID, issue("2", "Fine")}}

	res, err := h.orch.Sync(context.Background(), issueReq)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.Errors)
	assert.NotNil(t, h.store.get("github", "2"))
}

func TestSync_PaginatesUntilCursorExhausted(t *testing.T) {
	h := newHarness(Config{PageSize: 2})
	h.source.pages["GithubIssue"] = [][]integrations.Record{
		{issue("1", "a"), issue("2", "b")},
		{issue("3", "c")},
	}

	res, err := h.orch.Sync(context.Background(), issueReq)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Synced)
	require.Len(t, h.source.requests, 2)
	assert.Equal(t, "", h.source.requests[0].Cursor)
	assert.Equal(t, "p1", h.source.requests[1].Cursor)
	assert.Equal(t, 2, h.source.requests[0].Limit)
}

func TestSync_FetchFailureAbortsPass(t *testing.T) {
	h := newHarness(Config{})
	h.source.pages["GithubIssue"] = [][]integrations.Record{{issue("1", "a")}}
	h.source.failPage["GithubIssue"] = 1

	res, err := h.orch.Sync(context.Background(), issueReq)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.Errors)
}

func TestSync_DisabledTypeIsSkipped(t *testing.T) {
	h := newHarness(Config{})
	h.configs.cfg = &models.ConnectionSyncConfig{
		ConnectionID: "c1",
		Provider:     "github",
		DataTypes: database.NewJSONB(map[string]models.DataTypeSetting{
			normalizers.TypeIssue: {Enabled: false},
		}),
	}
	h.source.pages["GithubIssue"] = [][]integrations.Record{{issue("1", "a")}}

	res, err := h.orch.Sync(context.Background(), issueReq)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Synced)
	assert.Equal(t, 1, res.Skipped)
	assert.Nil(t, h.store.get("github", "1"))
}

func TestSync_PublishRequiresOptIn(t *testing.T) {
	h := newHarness(Config{})
	h.configs.cfg = &models.ConnectionSyncConfig{
		DataTypes: database.NewJSONB(map[string]models.DataTypeSetting{
			normalizers.TypeIssue: {Enabled: true, IncludeInDownstreamPublish: false},
		}),
	}
	h.source.pages["GithubIssue"] = [][]integrations.Record{{issue("1", "a")}}

	res, err := h.orch.Sync(context.Background(), issueReq)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Empty(t, h.publisher.types())
}

func TestSync_GateFailsOpen(t *testing.T) {
	h := newHarness(Config{})
	h.configs.err = errors.New("db down")
	h.source.pages["GithubIssue"] = [][]integrations.Record{{issue("1", "a")}}

	res, err := h.orch.Sync(context.Background(), issueReq)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
}

func driveDoc(id string) integrations.Record {
	return integrations.Record{
		"id":          id,
		"name":        "Plan",
		"mimeType":    "application/vnd.google-apps.document",
		"webViewLink": "https://docs.google.com/document/d/" + id,
	}
}

var driveReq = models.SyncRequest{Provider: "google-drive", ConnectionID: "c2", Model: "Document"}

func TestSync_EnrichesNewDocuments(t *testing.T) {
	h := newHarness(Config{})
	enricher := &fakeEnricher{}
	h.orch.SetEnricher(enricher)
	h.source.pages["Document"] = [][]integrations.Record{{driveDoc("d1"), {"id": "f1", "name": "x.zip", "mimeType": "application/zip"}}}

	res, err := h.orch.Sync(context.Background(), driveReq)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 1, enricher.calls)

	doc := h.store.get("google-drive", "d1")
	assert.Equal(t, "a short summary", h.store.summaries[doc.ID])
}

func TestSync_EnrichmentFailureIsNotFatal(t *testing.T) {
	h := newHarness(Config{})
	h.orch.SetEnricher(&fakeEnricher{err: errors.New("summarizer down")})
	h.source.pages["Document"] = [][]integrations.Record{{driveDoc("d1")}}

	res, err := h.orch.Sync(context.Background(), driveReq)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 0, res.Errors)
	assert.Empty(t, h.store.summaries)
}

func TestSync_ConcurrentRecords(t *testing.T) {
	h := newHarness(Config{RecordConcurrency: 4})
	var page []integrations.Record
	for i := 0; i < 25; i++ {
		page = append(page, issue(fmt.Sprintf("%d", i), fmt.Sprintf("Issue %d", i)))
	}
	h.source.pages["GithubIssue"] = [][]integrations.Record{page}

	res, err := h.orch.Sync(context.Background(), issueReq)
	require.NoError(t, err)
	assert.Equal(t, 25, res.Synced)
	assert.Len(t, h.publisher.types(), 25)
}

func TestSync_InvalidRequest(t *testing.T) {
	h := newHarness(Config{})
	_, err := h.orch.Sync(context.Background(), models.SyncRequest{Provider: "github"})
	assert.Error(t, err)
	assert.Empty(t, h.source.requests)
}

func TestSyncAll(t *testing.T) {
	h := newHarness(Config{})
	h.source.conns = []integrations.Connection{
		{ConnectionID: "c1", ProviderConfigKey: "github", EndUser: &integrations.EndUser{ID: "u1"}},
		{ConnectionID: "c9", ProviderConfigKey: "unknown-provider"},
	}
	h.configs.cfg = &models.ConnectionSyncConfig{
		DataTypes: database.NewJSONB(map[string]models.DataTypeSetting{
			normalizers.TypeRepository: {Enabled: false},
		}),
	}
	h.source.pages["GithubIssue"] = [][]integrations.Record{{issue("1", "a")}}

	results, err := h.orch.SyncAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "GithubIssue", results[0].Model)
	assert.Equal(t, 1, results[0].Synced)

	require.Len(t, h.connections.upserted, 2)
	require.NotNil(t, h.connections.upserted[0].EndUserID)
	assert.Equal(t, "u1", *h.connections.upserted[0].EndUserID)

	cursor, err := h.connections.GetCursor(context.Background(), "c1", "github", "GithubIssue")
	require.NoError(t, err)
	require.NotNil(t, cursor)

	// second poll asks only for changes since the cursor
	_, err = h.orch.SyncAll(context.Background())
	require.NoError(t, err)
	last := h.source.requests[len(h.source.requests)-1]
	require.NotNil(t, last.ModifiedAfter)
	assert.Equal(t, *cursor, *last.ModifiedAfter)
}

func TestSyncAll_CollectsFailures(t *testing.T) {
	h := newHarness(Config{})
	h.source.conns = []integrations.Connection{{ConnectionID: "c1", ProviderConfigKey: "github"}}
	h.source.failPage["GithubIssue"] = 0
	h.source.pages["GithubRepository"] = [][]integrations.Record{{{"id": "r1", "full_name": "acme/app"}}}

	results, err := h.orch.SyncAll(context.Background())
	require.Error(t, err)
	assert.Len(t, results, 2)
	assert.NotNil(t, h.store.get("github", "r1"))

	cursor, _ := h.connections.GetCursor(context.Background(), "c1", "github", "GithubIssue")
	assert.Nil(t, cursor, "failed pass must not advance the cursor")
}

func TestSyncAll_RecordFailureHoldsCursor(t *testing.T) {
	h := newHarness(Config{})
	h.source.conns = []integrations.Connection{{ConnectionID: "c1", ProviderConfigKey: "github"}}
	h.configs.cfg = &models.ConnectionSyncConfig{
		DataTypes: database.NewJSONB(map[string]models.DataTypeSetting{
			normalizers.TypeRepository: {Enabled: false},
		}),
	}
	h.source.pages["GithubIssue"] = [][]integrations.Record{{issue("1", "a"), issue("2", "b")}}
	h.store.failCreate = map[string]bool{"2": true}

	results, err := h.orch.SyncAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Synced)
	assert.Equal(t, 1, results[0].Errors)

	cursor, err := h.connections.GetCursor(context.Background(), "c1", "github", "GithubIssue")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	// the next poll is a full pass and picks the failed record up
	_, err = h.orch.SyncAll(context.Background())
	require.NoError(t, err)
	last := h.source.requests[len(h.source.requests)-1]
	assert.Nil(t, last.ModifiedAfter)
	assert.NotNil(t, h.store.get("github", "2"))

	cursor, err = h.connections.GetCursor(context.Background(), "c1", "github", "GithubIssue")
	require.NoError(t, err)
	assert.NotNil(t, cursor)
}
