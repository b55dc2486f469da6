// Package syncer drives sync passes: fetch changed records, gate them by data type,
// detect content changes and persist unified objects.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/internal/repositories/unifiedobject"
	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/gate"
	"github.com/Ramsey-B/fern/pkg/integrations"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ErrMissingExternalID is a per-record error for records without an id.
var ErrMissingExternalID = errors.New("record has no external id")

// RecordSource is the integration platform's record feed.
type RecordSource interface {
	ListRecords(ctx context.Context, req integrations.ListRecordsRequest) (*integrations.RecordPage, error)
	ListConnections(ctx context.Context) ([]integrations.Connection, error)
}

// ObjectStore is the unified object repository.
type ObjectStore interface {
	FindByProviderExternalID(ctx context.Context, provider, externalID string) (*models.UnifiedObject, error)
	Create(ctx context.Context, candidate models.ObjectCandidate) (*unifiedobject.WriteResult, error)
	Update(ctx context.Context, id string, candidate models.ObjectCandidate) (*unifiedobject.WriteResult, error)
	MarkDeleted(ctx context.Context, provider, externalID string) (*models.UnifiedObject, error)
	AttachSummary(ctx context.Context, id string, description *string, summary string) error
}

type NormalizerRegistry interface {
	Normalize(provider, model string, raw map[string]any) (models.NormalizedData, error)
	Catalog(provider string) normalizers.Catalog
}

type PolicySource interface {
	Policy(ctx context.Context, connectionID, provider string) *gate.Policy
}

// ConnectionStore keeps local connection records and poll cursors.
type ConnectionStore interface {
	Upsert(ctx context.Context, conn models.Connection) (*models.Connection, error)
	GetCursor(ctx context.Context, connectionID, provider, model string) (*time.Time, error)
	SetCursor(ctx context.Context, connectionID, provider, model string, syncedAt time.Time) error
}

type Enricher interface {
	FetchAndSummarize(ctx context.Context, req integrations.EnrichmentRequest) (*integrations.Enrichment, error)
}

type Publisher interface {
	PublishObjectEvent(ctx context.Context, evt models.ObjectEvent) error
}

type Config struct {
	PageSize          int
	PageTimeout       time.Duration
	RecordTimeout     time.Duration
	RecordConcurrency int
}

type Orchestrator struct {
	source      RecordSource
	objects     ObjectStore
	registry    NormalizerRegistry
	gate        PolicySource
	connections ConnectionStore
	enricher    Enricher
	publisher   Publisher
	cfg         Config
	validate    *validator.Validate
	logger      ectologger.Logger
	now         func() time.Time
}

func NewOrchestrator(
	source RecordSource,
	objects ObjectStore,
	registry NormalizerRegistry,
	gate PolicySource,
	connections ConnectionStore,
	cfg Config,
	logger ectologger.Logger,
) *Orchestrator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = integrations.DefaultPageSize
	}
	if cfg.RecordConcurrency < 1 {
		cfg.RecordConcurrency = 1
	}

	return &Orchestrator{
		source:      source,
		objects:     objects,
		registry:    registry,
		gate:        gate,
		connections: connections,
		cfg:         cfg,
		validate:    validator.New(),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetEnricher enables document enrichment after create.
func (o *Orchestrator) SetEnricher(e Enricher) {
	o.enricher = e
}

// SetPublisher enables downstream object events.
func (o *Orchestrator) SetPublisher(p Publisher) {
	o.publisher = p
}

// Catalog exposes the provider catalog used for gating and poll-all.
func (o *Orchestrator) Catalog(provider string) normalizers.Catalog {
	return o.registry.Catalog(provider)
}

// Sync runs one pass for (provider, connection, model). Per-record failures are
// counted in the result. A page fetch failure ends the pass and is returned as the
// error, alongside the counts gathered so far.
func (o *Orchestrator) Sync(ctx context.Context, req models.SyncRequest) (*models.SyncResult, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Orchestrator.Sync")
	defer span.End()

	result := &models.SyncResult{
		Provider:     req.Provider,
		ConnectionID: req.ConnectionID,
		Model:        req.Model,
	}
	if err := o.validate.Struct(req); err != nil {
		return result, fmt.Errorf("invalid sync request: %w", err)
	}

	ctx = appctx.SetSyncScope(ctx, req.Provider, req.ConnectionID)
	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"provider":      req.Provider,
		"connection_id": req.ConnectionID,
		"model":         req.Model,
	})

	start := time.Now()
	p := &pass{
		req:    req,
		policy: o.gate.Policy(ctx, req.ConnectionID, req.Provider),
		tally:  &tally{},
	}

	cursor := ""
	for {
		page, err := o.fetchPage(ctx, req, cursor)
		if err != nil {
			p.tally.apply(result)
			result.Errors++
			metrics.RecordSyncPass(req.Provider, req.Model, "fetch_failed", time.Since(start))
			log.WithError(err).Error("Failed to fetch records, aborting pass")
			return result, fmt.Errorf("fetch records: %w", err)
		}

		o.processPage(ctx, p, page.Records)

		if page.NextCursor == "" || page.NextCursor == cursor || len(page.Records) == 0 {
			break
		}
		cursor = page.NextCursor
	}

	p.tally.apply(result)
	status := "success"
	if result.Errors > 0 {
		status = "partial"
	}
	metrics.RecordSyncPass(req.Provider, req.Model, status, time.Since(start))

	log.WithFields(map[string]any{
		"synced":  result.Synced,
		"errors":  result.Errors,
		"skipped": result.Skipped,
	}).Info("Sync pass complete")
	return result, nil
}

func (o *Orchestrator) fetchPage(ctx context.Context, req models.SyncRequest, cursor string) (*integrations.RecordPage, error) {
	if o.cfg.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.PageTimeout)
		defer cancel()
	}

	return o.source.ListRecords(ctx, integrations.ListRecordsRequest{
		ProviderConfigKey: req.Provider,
		ConnectionID:      req.ConnectionID,
		Model:             req.Model,
		ModifiedAfter:     req.ModifiedAfter,
		Limit:             o.cfg.PageSize,
		Cursor:            cursor,
	})
}

func (o *Orchestrator) processPage(ctx context.Context, p *pass, records []integrations.Record) {
	if o.cfg.RecordConcurrency <= 1 {
		for _, rec := range records {
			o.handleRecord(ctx, p, rec)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.RecordConcurrency)
	for _, rec := range records {
		g.Go(func() error {
			o.handleRecord(ctx, p, rec)
			return nil
		})
	}
	_ = g.Wait()
}

// handleRecord isolates one record: its error is logged and counted, never returned.
func (o *Orchestrator) handleRecord(ctx context.Context, p *pass, rec integrations.Record) {
	if o.cfg.RecordTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RecordTimeout)
		defer cancel()
	}

	outcome, err := o.processRecord(ctx, p, rec)
	if err != nil {
		fields := appctx.Fields(ctx)
		fields["model"] = p.req.Model
		fields["external_id"] = rec.ExternalID()
		o.logger.WithContext(ctx).WithError(err).WithFields(fields).Warn("Failed to sync record")
		outcome = outcomeError
	}

	p.tally.add(outcome)
	metrics.RecordSyncRecord(p.req.Provider, string(outcome))
}

func (o *Orchestrator) processRecord(ctx context.Context, p *pass, rec integrations.Record) (recordOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Orchestrator.processRecord")
	defer span.End()

	provider := p.req.Provider
	externalID := rec.ExternalID()
	if externalID == "" {
		return "", ErrMissingExternalID
	}

	if rec.IsDeleted() {
		deleted, err := o.objects.MarkDeleted(ctx, provider, externalID)
		if err != nil {
			return "", fmt.Errorf("mark deleted: %w", err)
		}
		if deleted != nil {
			o.publish(ctx, p, models.ObjectEventDeleted, deleted)
		}
		return outcomeDeleted, nil
	}

	existing, err := o.objects.FindByProviderExternalID(ctx, provider, externalID)
	if err != nil {
		return "", fmt.Errorf("find existing: %w", err)
	}
	if existing != nil && existing.IsDeleted() {
		// deleted objects stay deleted until explicitly reactivated
		return outcomeSkippedDeleted, nil
	}

	payload := rec.Payload()
	data, err := o.registry.Normalize(provider, p.req.Model, payload)
	if err != nil {
		return "", fmt.Errorf("normalize: %w", err)
	}

	if !p.policy.Decide(data.Type).Sync {
		return outcomeGated, nil
	}

	hash := fingerprint.Generate(payload)
	if existing != nil && !fingerprint.HasChanged(existing.ContentHash, hash) {
		return outcomeUnchanged, nil
	}

	candidate := models.ObjectCandidate{
		Provider:     provider,
		ExternalID:   externalID,
		ConnectionID: p.req.ConnectionID,
		Data:         data,
		MetadataRaw:  payload,
		ContentHash:  hash,
	}

	var res *unifiedobject.WriteResult
	if existing != nil {
		res, err = o.objects.Update(ctx, existing.ID, candidate)
	} else {
		res, err = o.objects.Create(ctx, candidate)
	}
	if err != nil {
		return "", fmt.Errorf("persist: %w", err)
	}

	switch res.Outcome {
	case unifiedobject.OutcomeCreated:
		o.enrich(ctx, res.Object)
		o.publish(ctx, p, models.ObjectEventCreated, res.Object)
		return outcomeCreated, nil
	case unifiedobject.OutcomeUpdated:
		o.publish(ctx, p, models.ObjectEventUpdated, res.Object)
		return outcomeUpdated, nil
	case unifiedobject.OutcomeDeleted:
		return outcomeSkippedDeleted, nil
	default:
		return outcomeUnchanged, nil
	}
}

// enrich attaches a summary to new documents. Failures only cost the summary.
func (o *Orchestrator) enrich(ctx context.Context, obj *models.UnifiedObject) {
	if o.enricher == nil || obj.Type != normalizers.TypeDocument {
		return
	}

	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"id":          obj.ID,
		"provider":    obj.Provider,
		"external_id": obj.ExternalID,
	})

	mimeType := ""
	if obj.MimeType != nil {
		mimeType = *obj.MimeType
	}

	out, err := o.enricher.FetchAndSummarize(ctx, integrations.EnrichmentRequest{
		Provider:     obj.Provider,
		ConnectionID: obj.ConnectionID,
		ExternalID:   obj.ExternalID,
		MimeType:     mimeType,
		Metadata:     obj.MetadataRaw.GetValue(),
	})
	if err != nil {
		log.WithError(err).Warn("Document enrichment failed, continuing without summary")
		return
	}
	if out == nil || (out.Summary == "" && out.Description == nil) {
		return
	}

	if err := o.objects.AttachSummary(ctx, obj.ID, out.Description, out.Summary); err != nil {
		log.WithError(err).Warn("Failed to attach document summary")
		return
	}
	if obj.Description == nil {
		obj.Description = out.Description
	}
}

func (o *Orchestrator) publish(ctx context.Context, p *pass, eventType models.ObjectEventType, obj *models.UnifiedObject) {
	if o.publisher == nil || !p.policy.Decide(obj.Type).Publish {
		return
	}

	err := o.publisher.PublishObjectEvent(ctx, models.ObjectEvent{
		EventType:    eventType,
		ObjectID:     obj.ID,
		Provider:     obj.Provider,
		ExternalID:   obj.ExternalID,
		ConnectionID: obj.ConnectionID,
		Type:         obj.Type,
		CanonicalURL: obj.CanonicalURL,
		ContentHash:  obj.ContentHash,
		Timestamp:    o.now(),
	})
	if err != nil {
		o.logger.WithContext(ctx).WithError(err).WithField("id", obj.ID).Warn("Failed to publish object event")
	}
}

// SyncAll polls every connection the platform knows about, one catalog model at a
// time. A failed pass is collected and the rest continue.
func (o *Orchestrator) SyncAll(ctx context.Context) ([]models.SyncResult, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Orchestrator.SyncAll")
	defer span.End()

	conns, err := o.source.ListConnections(ctx)
	if err != nil {
		o.logger.WithContext(ctx).WithError(err).Error("Failed to list connections")
		return nil, fmt.Errorf("list connections: %w", err)
	}

	var (
		results []models.SyncResult
		errs    []error
	)
	for _, conn := range conns {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		connResults, connErrs := o.syncConnection(ctx, conn)
		results = append(results, connResults...)
		errs = append(errs, connErrs...)
	}

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"connections": len(conns),
		"passes":      len(results),
		"failures":    len(errs),
	}).Info("Poll of all connections complete")

	return results, errors.Join(errs...)
}

func (o *Orchestrator) syncConnection(ctx context.Context, conn integrations.Connection) ([]models.SyncResult, []error) {
	provider := conn.ProviderConfigKey
	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"provider":      provider,
		"connection_id": conn.ConnectionID,
	})

	local := models.Connection{ConnectionID: conn.ConnectionID, Provider: provider}
	if conn.EndUser != nil {
		local.EndUserID = optional(conn.EndUser.ID)
		local.EndUserEmail = optional(conn.EndUser.Email)
	}
	if _, err := o.connections.Upsert(ctx, local); err != nil {
		log.WithError(err).Warn("Failed to record connection")
	}

	catalog := o.registry.Catalog(provider)
	if len(catalog.Models) == 0 {
		log.Debug("Provider has no catalog models, nothing to poll")
		return nil, nil
	}

	policy := o.gate.Policy(ctx, conn.ConnectionID, provider)

	var (
		results []models.SyncResult
		errs    []error
	)
	for _, model := range catalog.Models {
		if !policy.AnyEnabled(model.DataTypes) {
			log.WithField("model", model.Name).Debug("Every data type of the model is disabled, skipping")
			continue
		}

		since, err := o.connections.GetCursor(ctx, conn.ConnectionID, provider, model.Name)
		if err != nil {
			log.WithError(err).WithField("model", model.Name).Warn("Failed to read sync cursor, running a full pass")
			since = nil
		}

		started := o.now()
		res, err := o.Sync(ctx, models.SyncRequest{
			Provider:      provider,
			ConnectionID:  conn.ConnectionID,
			Model:         model.Name,
			ModifiedAfter: since,
		})
		if res != nil {
			results = append(results, *res)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sync %s/%s/%s: %w", provider, conn.ConnectionID, model.Name, err))
			continue
		}
		if res != nil && res.Errors > 0 {
			// a failed record must be refetched next poll
			log.WithFields(map[string]any{"model": model.Name, "errors": res.Errors}).Warn("Pass had record failures, sync cursor left in place")
			continue
		}

		if err := o.connections.SetCursor(ctx, conn.ConnectionID, provider, model.Name, started); err != nil {
			log.WithError(err).WithField("model", model.Name).Warn("Failed to advance sync cursor")
		}
	}
	return results, errs
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type recordOutcome string

const (
	outcomeCreated        recordOutcome = "created"
	outcomeUpdated        recordOutcome = "updated"
	outcomeDeleted        recordOutcome = "deleted"
	outcomeUnchanged      recordOutcome = "unchanged"
	outcomeGated          recordOutcome = "gated"
	outcomeSkippedDeleted recordOutcome = "skipped_deleted"
	outcomeError          recordOutcome = "error"
)

type pass struct {
	req    models.SyncRequest
	policy *gate.Policy
	tally  *tally
}

type tally struct {
	mu      sync.Mutex
	synced  int
	errors  int
	skipped int
}

func (t *tally) add(outcome recordOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch outcome {
	case outcomeCreated, outcomeUpdated, outcomeDeleted:
		t.synced++
	case outcomeError:
		t.errors++
	default:
		t.skipped++
	}
}

func (t *tally) apply(result *models.SyncResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	result.Synced = t.synced
	result.Errors = t.errors
	result.Skipped = t.skipped
}
