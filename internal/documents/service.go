package documents

import (
	"bytes"
	"context"
	"image"
	"time"

	_ "image/jpeg" // register decoders for image dimension sniffing
	_ "image/png"

	"github.com/google/uuid"

	"idverify-backend/internal/shared/identity"
	"idverify-backend/internal/shared/storage/object"
)

// Clock abstracts time for cooldown tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Service contains the business logic for the document lifecycle. It owns
// every transition except the worker's claim and finish.
type Service struct {
	Repo        Repo
	Store       object.ObjectStore
	MaxAttempts int
	Cooldown    time.Duration
	Clock       Clock
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

// CreateParams are the caller-supplied fields for a new document.
type CreateParams struct {
	Type           Type
	Source         Source
	Notes          string
	RetentionUntil *time.Time
}

// Create registers a new document in the UPLOADED state.
func (s *Service) Create(ctx context.Context, caller identity.Caller, p CreateParams) (Document, error) {
	if !ValidType(p.Type) {
		return Document{}, ErrInvalidInput
	}
	if p.Source == "" {
		p.Source = SourceOCR
	}
	if caller.UserID == "" {
		return Document{}, ErrInvalidInput
	}

	now := s.now()
	doc := Document{
		ID:             uuid.NewString(),
		OwnerID:        caller.UserID,
		Type:           p.Type,
		Source:         p.Source,
		Status:         StatusUploaded,
		Notes:          p.Notes,
		RetentionUntil: p.RetentionUntil,
		CreatedBy:      caller.UserID,
		UpdatedBy:      caller.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Repo.Create(ctx, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// AddImage stores a raw photo in object storage, attaches it to the
// document, and advances a fresh document to DATA_CAPTURED.
func (s *Service) AddImage(ctx context.Context, caller identity.Caller, documentID, fileName string, data []byte) (Document, error) {
	if documentID == "" || len(data) == 0 {
		return Document{}, ErrInvalidInput
	}

	doc, err := s.ownedDocument(ctx, caller, documentID)
	if err != nil {
		return Document{}, err
	}

	storageKey, size, mimeType, err := s.Store.Save(ctx, doc.OwnerID, fileName, bytes.NewReader(data))
	if err != nil {
		return Document{}, err
	}

	width, height := 0, 0
	if cfg, _, cfgErr := image.DecodeConfig(bytes.NewReader(data)); cfgErr == nil {
		width, height = cfg.Width, cfg.Height
	}

	now := s.now()
	img := Image{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Kind:       ImageRaw,
		URL:        storageKey,
		Provider:   s.Store.Provider(),
		PublicID:   storageKey,
		Width:      width,
		Height:     height,
		SizeBytes:  size,
		MimeType:   mimeType,
		UploadedAt: now,
	}
	if err := s.Repo.AddImage(ctx, img); err != nil {
		return Document{}, err
	}

	// First RAW image moves UPLOADED to DATA_CAPTURED; a conditional update
	// keeps repeat uploads harmless.
	if _, err := s.Repo.SetStatus(ctx, doc.ID, StatusDataCaptured, []Status{StatusUploaded}, caller.UserID, now); err != nil {
		return Document{}, err
	}

	return s.Repo.GetByID(ctx, doc.ID)
}

// JobRef points at the queued work an enqueue produced.
type JobRef struct {
	DocumentID string `json:"documentId"`
	Attempt    int    `json:"attempt"`
}

// EnqueueOCR requests asynchronous processing. The guards bound how often a
// document re-enters the queue: it must carry a RAW image, must have
// attempts left, and must be outside the cooldown window. Re-enqueueing an
// already queued or in-flight document succeeds without consuming an
// attempt.
func (s *Service) EnqueueOCR(ctx context.Context, caller identity.Caller, documentID string) (JobRef, error) {
	doc, err := s.ownedDocument(ctx, caller, documentID)
	if err != nil {
		return JobRef{}, err
	}

	if doc.Status == StatusOCRPending || doc.Status == StatusOCRProcessing {
		return JobRef{DocumentID: doc.ID, Attempt: doc.OCRAttempts}, nil
	}
	if !doc.HasImage(ImageRaw) {
		return JobRef{}, ErrNoRawImage
	}
	if s.MaxAttempts > 0 && doc.OCRAttempts >= s.MaxAttempts {
		return JobRef{}, ErrMaxAttempts
	}
	now := s.now()
	if s.Cooldown > 0 && doc.OCRUpdatedAt != nil && now.Sub(*doc.OCRUpdatedAt) < s.Cooldown {
		return JobRef{}, ErrCooldownActive
	}

	ok, err := s.Repo.MarkEnqueued(ctx, doc.ID, enqueueable, now)
	if err != nil {
		return JobRef{}, err
	}
	if !ok {
		// Lost a race; if someone else queued it, that is still success.
		fresh, err := s.Repo.GetByID(ctx, doc.ID)
		if err != nil {
			return JobRef{}, err
		}
		if fresh.Status == StatusOCRPending || fresh.Status == StatusOCRProcessing {
			return JobRef{DocumentID: fresh.ID, Attempt: fresh.OCRAttempts}, nil
		}
		return JobRef{}, ErrBadTransition
	}
	return JobRef{DocumentID: doc.ID, Attempt: doc.OCRAttempts + 1}, nil
}

// SetStatus applies a reviewer decision. Only VERIFIED and REJECTED can be
// set from the outside, and only from a reviewable state.
func (s *Service) SetStatus(ctx context.Context, caller identity.Caller, documentID string, to Status) (Document, error) {
	if to != StatusVerified && to != StatusRejected {
		return Document{}, ErrBadTransition
	}
	doc, err := s.ownedDocument(ctx, caller, documentID)
	if err != nil {
		return Document{}, err
	}

	ok, err := s.Repo.SetStatus(ctx, doc.ID, to, reviewable, caller.UserID, s.now())
	if err != nil {
		return Document{}, err
	}
	if !ok {
		return Document{}, ErrBadTransition
	}
	return s.Repo.GetByID(ctx, doc.ID)
}

// Get returns a document the caller owns. Soft-deleted documents read as
// missing.
func (s *Service) Get(ctx context.Context, caller identity.Caller, documentID string) (Document, error) {
	return s.ownedDocument(ctx, caller, documentID)
}

// List returns the caller's documents. Non-service callers are always
// scoped to their own documents.
func (s *Service) List(ctx context.Context, caller identity.Caller, filter ListFilter) ([]Document, error) {
	if !caller.Service {
		filter.OwnerID = caller.UserID
	}
	if filter.OwnerID == "" && !caller.Service {
		return nil, ErrInvalidInput
	}
	return s.Repo.List(ctx, filter)
}

// ExpirationSummary buckets the caller's documents by time to expiry.
func (s *Service) ExpirationSummary(ctx context.Context, caller identity.Caller, reference time.Time) (ExpirationSummary, error) {
	if caller.UserID == "" {
		return ExpirationSummary{}, ErrInvalidInput
	}
	if reference.IsZero() {
		reference = s.now()
	}
	return s.Repo.ExpirationSummary(ctx, caller.UserID, reference)
}

// Delete soft-deletes a document; processing treats it as terminal.
func (s *Service) Delete(ctx context.Context, caller identity.Caller, documentID string) error {
	doc, err := s.ownedDocument(ctx, caller, documentID)
	if err != nil {
		return err
	}
	return s.Repo.SoftDelete(ctx, doc.ID, caller.UserID, s.now())
}

func (s *Service) ownedDocument(ctx context.Context, caller identity.Caller, documentID string) (Document, error) {
	doc, err := s.Repo.GetByID(ctx, documentID)
	if err != nil {
		return Document{}, err
	}
	if !caller.Owns(doc.OwnerID) {
		return Document{}, ErrNotOwner
	}
	if doc.IsDeleted() {
		return Document{}, ErrDeleted
	}
	return doc, nil
}
