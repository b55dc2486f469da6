package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/queue"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type Syncer interface {
	Sync(ctx context.Context, req models.SyncRequest) (*models.SyncResult, error)
	Catalog(provider string) normalizers.Catalog
}

type ConnectionStore interface {
	Upsert(ctx context.Context, conn models.Connection) (*models.Connection, error)
	ListByEndUser(ctx context.Context, provider, endUserID string) ([]models.Connection, error)
	MarkReset(ctx context.Context, connectionID, provider string) error
}

// ObjectCleaner hard-deletes objects before an initial resync.
type ObjectCleaner interface {
	ClearForResync(ctx context.Context, provider string, connectionIDs, types []string) (int64, error)
}

// Processor handles queued webhook jobs. Returning an error retries the job;
// errors wrapping queue.ErrInvalidJob are dead-lettered immediately.
type Processor struct {
	syncer      Syncer
	connections ConnectionStore
	objects     ObjectCleaner
	queue       queue.Queue
	validate    *validator.Validate
	logger      ectologger.Logger
}

func NewProcessor(syncer Syncer, connections ConnectionStore, objects ObjectCleaner, logger ectologger.Logger) *Processor {
	return &Processor{
		syncer:      syncer,
		connections: connections,
		objects:     objects,
		validate:    validator.New(),
		logger:      logger,
	}
}

// SetQueue makes connection-created jobs fan out one sync job per model, so a
// failed model is retried on its own. Without a queue the passes run inline.
func (p *Processor) SetQueue(q queue.Queue) {
	p.queue = q
}

func (p *Processor) HandleJob(ctx context.Context, job *models.Job) error {
	ctx, span := tracing.StartSpan(ctx, "webhook.Processor.HandleJob")
	defer span.End()

	switch models.WebhookEventKind(job.Kind) {
	case models.WebhookEventAuth:
		payload, err := p.decode(job.Payload)
		if err != nil {
			return err
		}
		return p.handleAuth(appctx.SetSyncScope(ctx, payload.ProviderConfigKey, payload.ConnectionID), payload)
	case models.WebhookEventSync:
		payload, err := p.decode(job.Payload)
		if err != nil {
			return err
		}
		return p.handleSync(appctx.SetSyncScope(ctx, payload.ProviderConfigKey, payload.ConnectionID), payload)
	default:
		p.logger.WithContext(ctx).WithField("kind", job.Kind).Info("Dropping webhook with unknown type")
		return nil
	}
}

func (p *Processor) decode(raw json.RawMessage) (*models.WebhookPayload, error) {
	var payload models.WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", queue.ErrInvalidJob, err)
	}
	if err := p.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", queue.ErrInvalidJob, err)
	}
	return &payload, nil
}

func (p *Processor) handleSync(ctx context.Context, payload *models.WebhookPayload) error {
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"provider":      payload.ProviderConfigKey,
		"connection_id": payload.ConnectionID,
		"model":         payload.Model,
	})

	if !payload.Success {
		log.Info("Upstream sync reported failure, nothing to fetch")
		return nil
	}
	if payload.Model == "" {
		return fmt.Errorf("%w: sync webhook without a model", queue.ErrInvalidJob)
	}

	result, err := p.syncer.Sync(ctx, models.SyncRequest{
		Provider:      payload.ProviderConfigKey,
		ConnectionID:  payload.ConnectionID,
		Model:         payload.Model,
		ModifiedAfter: payload.ModifiedAfter,
	})
	if err != nil {
		return err
	}

	log.WithFields(map[string]any{
		"synced":  result.Synced,
		"errors":  result.Errors,
		"skipped": result.Skipped,
	}).Info("Processed records-changed webhook")
	return nil
}

// handleAuth records a new connection and, for providers that ask for it, clears
// objects left by earlier connections of the same end user before a full resync.
// The clear runs at most once per connection; a redelivered job skips it so
// objects the first attempt already synced keep their ids.
func (p *Processor) handleAuth(ctx context.Context, payload *models.WebhookPayload) error {
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"provider":      payload.ProviderConfigKey,
		"connection_id": payload.ConnectionID,
		"operation":     payload.Operation,
	})

	if !payload.Success || payload.Operation != models.OperationCreation {
		log.Info("Ignoring auth webhook that is not a successful connection creation")
		return nil
	}

	conn := models.Connection{
		ConnectionID: payload.ConnectionID,
		Provider:     payload.ProviderConfigKey,
	}
	if payload.EndUser != nil {
		if payload.EndUser.EndUserID != "" {
			conn.EndUserID = &payload.EndUser.EndUserID
		}
		if payload.EndUser.Email != "" {
			conn.EndUserEmail = &payload.EndUser.Email
		}
	}
	saved, err := p.connections.Upsert(ctx, conn)
	if err != nil {
		return fmt.Errorf("record connection: %w", err)
	}

	catalog := p.syncer.Catalog(payload.ProviderConfigKey)
	if !catalog.ResyncOnConnect || len(catalog.Models) == 0 {
		log.Info("Connection recorded")
		return nil
	}

	if saved.ResetAt == nil {
		if err := p.reset(ctx, payload, conn, catalog); err != nil {
			return err
		}
	} else {
		log.Info("Connection already reset, skipping clear")
	}

	if p.queue != nil {
		return p.enqueueInitialSyncs(ctx, payload, catalog)
	}

	var errs []error
	for _, model := range catalog.Models {
		result, err := p.syncer.Sync(ctx, models.SyncRequest{
			Provider:     payload.ProviderConfigKey,
			ConnectionID: payload.ConnectionID,
			Model:        model.Name,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("initial sync of %s: %w", model.Name, err))
			continue
		}
		log.WithFields(map[string]any{
			"model":  model.Name,
			"synced": result.Synced,
			"errors": result.Errors,
		}).Info("Initial sync pass complete")
	}
	return errors.Join(errs...)
}

func (p *Processor) reset(ctx context.Context, payload *models.WebhookPayload, conn models.Connection, catalog normalizers.Catalog) error {
	connectionIDs := []string{payload.ConnectionID}
	if conn.EndUserID != nil {
		previous, err := p.connections.ListByEndUser(ctx, payload.ProviderConfigKey, *conn.EndUserID)
		if err != nil {
			return fmt.Errorf("list previous connections: %w", err)
		}
		for _, c := range previous {
			if c.ConnectionID != payload.ConnectionID {
				connectionIDs = append(connectionIDs, c.ConnectionID)
			}
		}
	}

	types := catalog.TypesFor(catalog.ModelNames()...)
	cleared, err := p.objects.ClearForResync(ctx, payload.ProviderConfigKey, connectionIDs, types)
	if err != nil {
		return fmt.Errorf("clear objects before resync: %w", err)
	}
	if err := p.connections.MarkReset(ctx, payload.ConnectionID, payload.ProviderConfigKey); err != nil {
		return fmt.Errorf("mark connection reset: %w", err)
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"provider":      payload.ProviderConfigKey,
		"connection_id": payload.ConnectionID,
		"cleared":       cleared,
		"connections":   len(connectionIDs),
	}).Info("Cleared objects before initial resync")
	return nil
}

func (p *Processor) enqueueInitialSyncs(ctx context.Context, payload *models.WebhookPayload, catalog normalizers.Catalog) error {
	for _, model := range catalog.Models {
		body, err := json.Marshal(models.WebhookPayload{
			Type:              models.WebhookEventSync,
			ProviderConfigKey: payload.ProviderConfigKey,
			ConnectionID:      payload.ConnectionID,
			Success:           true,
			Model:             model.Name,
		})
		if err != nil {
			return err
		}
		if _, err := p.queue.Enqueue(ctx, string(models.WebhookEventSync), body); err != nil {
			return fmt.Errorf("enqueue initial sync of %s: %w", model.Name, err)
		}
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"provider":      payload.ProviderConfigKey,
		"connection_id": payload.ConnectionID,
		"models":        len(catalog.Models),
	}).Info("Queued initial sync passes")
	return nil
}
