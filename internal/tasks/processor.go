package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"musicaltracker/api/internal/models"
	"musicaltracker/api/internal/queue"
	"musicaltracker/api/internal/repository"
)

// reconcileBatch caps the delete_pending rows handled per task.
const reconcileBatch = 100

type blobDeleter interface {
	Delete(ctx context.Context, key string) error
}

type imageRecords interface {
	GetByStorageKey(ctx context.Context, key string) (models.Image, error)
	ListByStatus(ctx context.Context, status models.ImageStatus, limit int) ([]models.Image, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Processor runs the reconciliation tasks queued by the api: removing blobs
// left behind by failed metadata writes and retrying deletes that could not
// reach the object store.
type Processor struct {
	blobs   blobDeleter
	records imageRecords
	logger  zerolog.Logger
}

func NewProcessor(blobs blobDeleter, records imageRecords, logger zerolog.Logger) *Processor {
	return &Processor{
		blobs:   blobs,
		records: records,
		logger:  logger,
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	task, err := queue.DecodeTask(msg.Values)
	if err != nil {
		// Nothing a retry could fix; let it be acked.
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping undecodable task")
		return nil
	}

	switch task.Type {
	case queue.TaskOrphanBlob:
		return p.handleOrphan(ctx, task)
	case queue.TaskReconcileDeletes:
		return p.handleReconcile(ctx)
	default:
		p.logger.Warn().Str("type", task.Type).Msg("unknown task type")
		return nil
	}
}

// handleOrphan removes the blob only when no record references its key. A
// metadata write that eventually went through keeps the blob alive.
func (p *Processor) handleOrphan(ctx context.Context, task queue.Task) error {
	log := p.logger.With().Str("storage_key", task.StorageKey).Logger()
	if task.StorageKey == "" {
		log.Warn().Msg("orphan task without storage key")
		return nil
	}

	_, err := p.records.GetByStorageKey(ctx, task.StorageKey)
	switch {
	case err == nil:
		log.Info().Msg("blob is referenced, keeping it")
		return nil
	case !errors.Is(err, repository.ErrImageNotFound):
		return fmt.Errorf("lookup %s: %w", task.StorageKey, err)
	}

	if err := p.blobs.Delete(ctx, task.StorageKey); err != nil {
		return fmt.Errorf("delete orphan %s: %w", task.StorageKey, err)
	}
	log.Info().Str("reason", task.Reason).Msg("orphan blob removed")
	return nil
}

// handleReconcile retries every pending delete in one batch. A failed item
// does not stop the rest; the task fails if any item failed so it is retried.
func (p *Processor) handleReconcile(ctx context.Context) error {
	pending, err := p.records.ListByStatus(ctx, models.ImageStatusDeletePending, reconcileBatch)
	if err != nil {
		return fmt.Errorf("list pending deletes: %w", err)
	}

	var result *multierror.Error
	removed := 0
	for _, img := range pending {
		if err := ctx.Err(); err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}
		if err := p.blobs.Delete(ctx, img.StorageKey); err != nil {
			p.logger.Warn().Err(err).Str("image_id", img.ID).Str("storage_key", img.StorageKey).Msg("blob delete retry failed")
			result = multierror.Append(result, fmt.Errorf("blob %s: %w", img.StorageKey, err))
			continue
		}
		if _, err := p.records.Delete(ctx, img.ID); err != nil {
			result = multierror.Append(result, fmt.Errorf("record %s: %w", img.ID, err))
			continue
		}
		removed++
	}

	p.logger.Info().
		Int("pending", len(pending)).
		Int("removed", removed).
		Msg("delete reconciliation finished")
	return result.ErrorOrNil()
}
