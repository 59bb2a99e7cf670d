package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"musicaltracker/api/internal/media"
	"musicaltracker/api/internal/media/transform"
	"musicaltracker/api/internal/media/validator"
	"musicaltracker/api/internal/models"
	"musicaltracker/api/internal/repository"
)

// State is a step of the upload state machine.
type State string

const (
	StateReceived    State = "received"
	StateValidated   State = "validated"
	StateTransformed State = "transformed"
	StateStored      State = "stored"
	StatePersisted   State = "persisted"
	StateComplete    State = "complete"
)

// AbortError reports an upload that stopped after reaching From.
type AbortError struct {
	From State
	Err  error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("upload aborted after %s: %v", e.From, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

const profileOwnerKind = "user"

const orphanReportTimeout = 5 * time.Second

type UploadInput struct {
	Caller    models.Caller
	Data      []byte
	Filename  string
	Class     media.Class
	OwnerKind string
	OwnerID   string
	Options   *transform.Options
}

type UploadResult struct {
	ID        string
	URL       string
	Width     int
	Height    int
	SizeBytes int64
	ImageType media.Class
}

type IngestService struct {
	blobs       BlobStore
	records     MetadataStore
	transformer Transformer
	validator   *validator.Validator
	keys        KeyDeriver
	orphans     OrphanReporter
	log         zerolog.Logger
}

func NewIngestService(blobs BlobStore, records MetadataStore, transformer Transformer, keys KeyDeriver, orphans OrphanReporter, log zerolog.Logger) *IngestService {
	return &IngestService{
		blobs:       blobs,
		records:     records,
		transformer: transformer,
		validator:   validator.New(transformer.MaxPixels()),
		keys:        keys,
		orphans:     orphans,
		log:         log,
	}
}

// Upload validates, transforms and stores one image and records its metadata.
// Stages run in order and the first failure ends the call; only a failure of
// the final metadata write leaves external state behind (an unreferenced blob).
func (s *IngestService) Upload(ctx context.Context, in UploadInput) (UploadResult, error) {
	log := s.log.With().
		Str("image_type", string(in.Class)).
		Str("uploaded_by", in.Caller.UserID).
		Int("size_bytes", len(in.Data)).
		Logger()

	ownerKind, ownerID, err := resolveOwner(in)
	if err != nil {
		return UploadResult{}, s.abort(log, StateReceived, err)
	}

	checked := s.validator.Validate(in.Data, in.Filename, in.Class)
	if err := checked.Err(); err != nil {
		return UploadResult{}, s.abort(log, StateReceived, err)
	}
	if checked.ExtensionMismatch {
		log.Debug().Str("filename", in.Filename).Str("mime", checked.MIME).Msg("declared extension disagrees with content")
	}

	processed, err := s.transformer.Process(in.Data, in.Class, in.Options)
	if err != nil {
		if media.IsKind(err, media.KindInvalidRequest) {
			return UploadResult{}, s.abort(log, StateValidated, err)
		}
		log.Error().Err(err).
			Int("width", checked.Width).
			Int("height", checked.Height).
			Str("mime", checked.MIME).
			Msg("transform failed on a validated image")
		return UploadResult{}, s.abort(log, StateValidated, ensureKind(err, media.KindProcessing, ""))
	}

	key := s.keys.DeriveKey(in.Class, ownerKind, ownerID, processed.Format.Ext())
	if err := ctx.Err(); err != nil {
		return UploadResult{}, s.abort(log, StateTransformed, media.NewError(media.KindCancelled, "", err))
	}

	url, err := s.blobs.Put(ctx, processed.Data, key, processed.MIME, map[string]string{
		"uploaded-by": in.Caller.UserID,
		"image-type":  string(in.Class),
		"owner":       ownerKind + "/" + ownerID,
	})
	if err != nil {
		return UploadResult{}, s.abort(log, StateTransformed, ensureKind(err, media.KindStorage, media.ReasonTransient))
	}

	record, err := s.records.Create(ctx, models.Image{
		OriginalFilename: in.Filename,
		StorageKey:       key,
		PublicURL:        url,
		SizeBytes:        processed.SizeBytes,
		MimeType:         processed.MIME,
		Width:            processed.Width,
		Height:           processed.Height,
		UploadedBy:       in.Caller.UserID,
		ImageType:        in.Class,
		EntityType:       ownerKind,
		EntityID:         ownerID,
		Status:           models.ImageStatusActive,
	})
	if err != nil {
		// The blob is now unreferenced. It is left in place for reconciliation
		// rather than removed here.
		log.Error().Err(err).
			Str("storage_key", key).
			Str("public_url", url).
			Msg("metadata write failed after blob write, blob orphaned")
		s.reportOrphan(ctx, log, key, err)
		return UploadResult{}, s.abort(log, StateStored, media.NewError(media.KindPersistence, "", err))
	}

	log.Info().
		Str("state", string(StateComplete)).
		Str("image_id", record.ID).
		Str("storage_key", key).
		Int("width", record.Width).
		Int("height", record.Height).
		Int64("stored_bytes", record.SizeBytes).
		Msg("image stored")

	return UploadResult{
		ID:        record.ID,
		URL:       record.PublicURL,
		Width:     record.Width,
		Height:    record.Height,
		SizeBytes: record.SizeBytes,
		ImageType: record.ImageType,
	}, nil
}

func resolveOwner(in UploadInput) (string, string, error) {
	if in.Caller.UserID == "" {
		return "", "", &media.Error{Kind: media.KindAuthorization, Detail: "anonymous upload"}
	}
	if !in.Class.Valid() {
		return "", "", &media.Error{Kind: media.KindInvalidRequest, Detail: "unknown image type " + string(in.Class)}
	}
	if in.Class == media.ClassProfile {
		return profileOwnerKind, in.Caller.UserID, nil
	}
	kind := strings.TrimSpace(in.OwnerKind)
	id := strings.TrimSpace(in.OwnerID)
	if kind == "" || id == "" {
		return "", "", &media.Error{Kind: media.KindInvalidRequest, Class: in.Class, Detail: "entityType and entityId are required"}
	}
	return strings.ToLower(kind), id, nil
}

func (s *IngestService) abort(log zerolog.Logger, from State, err error) error {
	log.Warn().Err(err).Str("aborted_after", string(from)).Msg("upload aborted")
	return &AbortError{From: from, Err: err}
}

func (s *IngestService) reportOrphan(ctx context.Context, log zerolog.Logger, key string, cause error) {
	if s.orphans == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orphanReportTimeout)
	defer cancel()
	if err := s.orphans.ReportOrphan(ctx, key, cause.Error()); err != nil {
		log.Error().Err(err).Str("storage_key", key).Msg("orphan report failed")
	}
}

// Delete removes an image's blob and then its record. When the blob cannot be
// removed the record is kept, marked delete_pending, and a retryable error is
// returned.
func (s *IngestService) Delete(ctx context.Context, caller models.Caller, id string) error {
	record, err := s.authorized(ctx, caller, id)
	if err != nil {
		return err
	}

	log := s.log.With().Str("image_id", id).Str("storage_key", record.StorageKey).Logger()

	if err := s.blobs.Delete(ctx, record.StorageKey); err != nil {
		log.Error().Err(err).Msg("blob delete failed, keeping metadata")
		s.markPending(ctx, log, id)
		return ensureKind(err, media.KindStorage, media.ReasonBlobDelete)
	}

	removed, err := s.records.Delete(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("metadata delete failed after blob delete")
		return media.NewError(media.KindPersistence, "", err)
	}
	if !removed {
		log.Debug().Msg("record already gone")
	}
	log.Info().Msg("image deleted")
	return nil
}

func (s *IngestService) markPending(ctx context.Context, log zerolog.Logger, id string) {
	status := models.ImageStatusDeletePending
	ctx = context.WithoutCancel(ctx)
	if _, err := s.records.Update(ctx, id, models.ImagePatch{Status: &status}); err != nil {
		log.Error().Err(err).Msg("mark delete_pending failed")
	}
}

// Update applies a metadata patch on behalf of the uploader or an admin.
func (s *IngestService) Update(ctx context.Context, caller models.Caller, id string, patch models.ImagePatch) (models.Image, error) {
	if _, err := s.authorized(ctx, caller, id); err != nil {
		return models.Image{}, err
	}
	updated, err := s.records.Update(ctx, id, patch)
	if err != nil {
		return models.Image{}, lookupError(id, err)
	}
	return updated, nil
}

func (s *IngestService) Get(ctx context.Context, id string) (models.Image, error) {
	record, err := s.records.Get(ctx, id)
	if err != nil {
		return models.Image{}, lookupError(id, err)
	}
	return record, nil
}

// List returns ownerID's images; only admins may list someone else's.
func (s *IngestService) List(ctx context.Context, caller models.Caller, ownerID string, class *media.Class) ([]models.Image, error) {
	if ownerID == "" {
		ownerID = caller.UserID
	}
	if !caller.CanModify(ownerID) {
		return nil, &media.Error{Kind: media.KindAuthorization, Detail: "cannot list another user's images"}
	}
	images, err := s.records.ListByOwner(ctx, ownerID, class)
	if err != nil {
		return nil, media.NewError(media.KindPersistence, "", err)
	}
	return images, nil
}

// ListPendingDeletes lists records whose blob delete has not gone through yet.
func (s *IngestService) ListPendingDeletes(ctx context.Context, caller models.Caller, limit int) ([]models.Image, error) {
	if !caller.IsAdmin() {
		return nil, &media.Error{Kind: media.KindAuthorization, Detail: "admin only"}
	}
	images, err := s.records.ListByStatus(ctx, models.ImageStatusDeletePending, limit)
	if err != nil {
		return nil, media.NewError(media.KindPersistence, "", err)
	}
	return images, nil
}

func (s *IngestService) authorized(ctx context.Context, caller models.Caller, id string) (models.Image, error) {
	record, err := s.records.Get(ctx, id)
	if err != nil {
		return models.Image{}, lookupError(id, err)
	}
	if !caller.CanModify(record.UploadedBy) {
		return models.Image{}, &media.Error{Kind: media.KindAuthorization, Detail: "not the uploader"}
	}
	return record, nil
}

func lookupError(id string, err error) error {
	if errors.Is(err, repository.ErrImageNotFound) {
		return &media.Error{Kind: media.KindNotFound, Detail: "image " + id, Err: err}
	}
	return media.NewError(media.KindPersistence, "", err)
}

// ensureKind passes pipeline errors through and wraps anything else.
func ensureKind(err error, kind media.Kind, reason string) error {
	if media.KindOf(err) != "" {
		return err
	}
	return media.NewError(kind, reason, err)
}
