package documents

import (
	"context"
	"time"
)

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	OwnerID        string
	Type           Type
	Status         Status
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// OCRResult is the terminal outcome of one processing run, persisted in a
// single write.
type OCRResult struct {
	Status    Status // OCR_SUCCESS or OCR_FAILED
	Extracted *Extracted
	LastError string
	At        time.Time
}

// ExpirationSummary buckets a caller's documents by distance to expiry
// relative to a reference date.
type ExpirationSummary struct {
	Expired      int `json:"expired"`
	Within30Days int `json:"within30Days"`
	Within90Days int `json:"within90Days"`
	Later        int `json:"later"`
}

// Repo defines persistence for the Document aggregate. Implementations own
// the at-rest encryption of sensitive extracted fields: writes encrypt,
// reads decrypt, and no plaintext document number or raw MRZ ever reaches
// the datastore.
type Repo interface {
	Create(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, id string) (Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, error)
	AddImage(ctx context.Context, img Image) error

	// MarkEnqueued conditionally moves the document into OCR_PENDING and
	// increments the attempt counter. It reports false when the document was
	// not in one of the from states (another caller got there first).
	MarkEnqueued(ctx context.Context, id string, from []Status, now time.Time) (bool, error)

	// ClaimNext atomically claims the oldest OCR_PENDING document for
	// processing. It returns (nil, nil) when nothing is pending; concurrent
	// callers can never claim the same document.
	ClaimNext(ctx context.Context, now time.Time) (*Document, error)

	// FinishOCR commits the terminal outcome of a processing run together
	// with the encrypted extracted fields.
	FinishOCR(ctx context.Context, id string, res OCRResult) error

	// SetStatus moves the document to the given status when its current
	// status is one of from, reporting whether the update applied.
	SetStatus(ctx context.Context, id string, to Status, from []Status, updatedBy string, now time.Time) (bool, error)

	SoftDelete(ctx context.Context, id, deletedBy string, now time.Time) error

	// RequeueStale returns documents stuck in OCR_PROCESSING since before
	// cutoff to OCR_PENDING without consuming an attempt, and reports how
	// many were requeued.
	RequeueStale(ctx context.Context, cutoff time.Time) (int, error)

	ExpirationSummary(ctx context.Context, ownerID string, reference time.Time) (ExpirationSummary, error)
}
