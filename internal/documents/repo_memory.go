package documents

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repo used in tests and DB-less dev runs. A
// single mutex stands in for the datastore's atomic conditional update, so
// the claim contract holds for concurrent callers.
type MemoryRepo struct {
	mu   sync.Mutex
	docs map[string]*Document
}

// NewMemoryRepo constructs an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{docs: make(map[string]*Document)}
}

func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := doc
	r.docs[doc.ID] = &copied
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (r *MemoryRepo) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []Document
	for _, doc := range r.docs {
		if filter.OwnerID != "" && doc.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Type != "" && doc.Type != filter.Type {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if !filter.IncludeDeleted && doc.IsDeleted() {
			continue
		}
		all = append(all, cloneDoc(doc))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *MemoryRepo) AddImage(ctx context.Context, img Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[img.DocumentID]
	if !ok {
		return ErrNotFound
	}
	doc.Images = append(doc.Images, img)
	return nil
}

func (r *MemoryRepo) MarkEnqueued(ctx context.Context, id string, from []Status, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok || doc.IsDeleted() || !statusIn(doc.Status, from) {
		return false, nil
	}
	doc.Status = StatusOCRPending
	doc.OCRAttempts++
	t := now
	doc.OCRUpdatedAt = &t
	doc.UpdatedAt = now
	return true, nil
}

func (r *MemoryRepo) ClaimNext(ctx context.Context, now time.Time) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var oldest *Document
	for _, doc := range r.docs {
		if doc.Status != StatusOCRPending || doc.IsDeleted() {
			continue
		}
		if oldest == nil || enqueuedBefore(doc, oldest) {
			oldest = doc
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.Status = StatusOCRProcessing
	t := now
	oldest.OCRUpdatedAt = &t
	oldest.UpdatedAt = now
	oldest.UpdatedBy = "ocr-worker"
	claimed := cloneDoc(oldest)
	return &claimed, nil
}

func (r *MemoryRepo) FinishOCR(ctx context.Context, id string, res OCRResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return ErrNotFound
	}
	if doc.Status != StatusOCRProcessing {
		return ErrBadTransition
	}
	doc.Status = res.Status
	doc.OCRLastError = res.LastError
	doc.Extracted = res.Extracted
	t := res.At
	doc.OCRUpdatedAt = &t
	doc.UpdatedAt = res.At
	doc.UpdatedBy = "ocr-worker"
	return nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, id string, to Status, from []Status, updatedBy string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok || doc.IsDeleted() || !statusIn(doc.Status, from) {
		return false, nil
	}
	doc.Status = to
	doc.UpdatedBy = updatedBy
	doc.UpdatedAt = now
	return true, nil
}

func (r *MemoryRepo) SoftDelete(ctx context.Context, id, deletedBy string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok || doc.IsDeleted() {
		return ErrNotFound
	}
	t := now
	doc.DeletedAt = &t
	doc.UpdatedBy = deletedBy
	doc.UpdatedAt = now
	return nil
}

func (r *MemoryRepo) RequeueStale(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, doc := range r.docs {
		if doc.Status != StatusOCRProcessing || doc.IsDeleted() {
			continue
		}
		if doc.OCRUpdatedAt != nil && doc.OCRUpdatedAt.Before(cutoff) {
			doc.Status = StatusOCRPending
			doc.OCRLastError = "stale claim requeued"
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) ExpirationSummary(ctx context.Context, ownerID string, reference time.Time) (ExpirationSummary, error) {
	if err := ctx.Err(); err != nil {
		return ExpirationSummary{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var s ExpirationSummary
	for _, doc := range r.docs {
		if doc.OwnerID != ownerID || doc.IsDeleted() || doc.Extracted == nil || doc.Extracted.ExpirationDate == nil {
			continue
		}
		exp := *doc.Extracted.ExpirationDate
		switch {
		case exp.Before(reference):
			s.Expired++
		case exp.Before(reference.AddDate(0, 0, 30)):
			s.Within30Days++
		case exp.Before(reference.AddDate(0, 0, 90)):
			s.Within90Days++
		default:
			s.Later++
		}
	}
	return s, nil
}

func enqueuedBefore(a, b *Document) bool {
	at, bt := a.CreatedAt, b.CreatedAt
	if a.OCRUpdatedAt != nil {
		at = *a.OCRUpdatedAt
	}
	if b.OCRUpdatedAt != nil {
		bt = *b.OCRUpdatedAt
	}
	return at.Before(bt)
}

func cloneDoc(doc *Document) Document {
	out := *doc
	out.Images = append([]Image(nil), doc.Images...)
	if doc.Extracted != nil {
		ext := *doc.Extracted
		ext.ReasonCodes = append([]string(nil), doc.Extracted.ReasonCodes...)
		out.Extracted = &ext
	}
	return out
}

var _ Repo = (*MemoryRepo)(nil)
