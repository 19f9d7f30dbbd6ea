package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"idverify-backend/internal/shared/crypto"
)

// PGRepo implements Repo using Postgres. It is the encryption boundary:
// document numbers and raw MRZ text are encrypted before any write and
// decrypted on read, so the datastore only ever sees ciphertext.
type PGRepo struct {
	DB     *sql.DB
	Cipher *crypto.FieldCipher
}

const docColumns = `id, owner_id, doc_type, source, status, notes, retention_until, last_accessed_at,
ocr_attempts, ocr_last_error, ocr_updated_at,
has_extraction, full_name, given_names, surname, nationality, issuing_country,
document_number_enc, passport_number_enc, visa_type, date_of_birth, sex,
expiration_date, issue_date, mrz_raw_enc, mrz_valid, mrz_format, ocr_text,
ocr_confidence, reason_codes,
created_by, updated_by, created_at, updated_at, deleted_at`

// Create inserts a new document. Extracted data is never written at
// creation time; it only arrives through FinishOCR.
func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	const query = `
INSERT INTO documents (
    id, owner_id, doc_type, source, status, notes, retention_until,
    ocr_attempts, created_by, updated_by, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.DB.ExecContext(
		ctx,
		query,
		doc.ID,
		doc.OwnerID,
		string(doc.Type),
		string(doc.Source),
		string(doc.Status),
		nullString(doc.Notes),
		nullTime(doc.RetentionUntil),
		doc.OCRAttempts,
		doc.CreatedBy,
		doc.UpdatedBy,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	return err
}

// GetByID fetches a document with its images.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Document, error) {
	query := `SELECT ` + docColumns + ` FROM documents WHERE id = $1`

	doc, err := r.scanDocument(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}

	images, err := r.imagesFor(ctx, doc.ID)
	if err != nil {
		return Document{}, err
	}
	doc.Images = images
	return doc, nil
}

// List returns documents matching the filter, newest first. Images are not
// loaded for listings.
func (r *PGRepo) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.OwnerID != "" {
		conds = append(conds, "owner_id = "+arg(filter.OwnerID))
	}
	if filter.Type != "" {
		conds = append(conds, "doc_type = "+arg(string(filter.Type)))
	}
	if filter.Status != "" {
		conds = append(conds, "status = "+arg(string(filter.Status)))
	}
	if !filter.IncludeDeleted {
		conds = append(conds, "deleted_at IS NULL")
	}

	query := `SELECT ` + docColumns + ` FROM documents`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT " + arg(limit) + " OFFSET " + arg(offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := r.scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// AddImage attaches an image record to a document.
func (r *PGRepo) AddImage(ctx context.Context, img Image) error {
	const query = `
INSERT INTO document_images (
    id, document_id, kind, url, provider, public_id, width, height,
    size_bytes, mime_type, uploaded_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.DB.ExecContext(
		ctx,
		query,
		img.ID,
		img.DocumentID,
		string(img.Kind),
		img.URL,
		img.Provider,
		nullString(img.PublicID),
		img.Width,
		img.Height,
		img.SizeBytes,
		img.MimeType,
		img.UploadedAt,
	)
	return err
}

// MarkEnqueued moves the document to OCR_PENDING and bumps the attempt
// counter, but only when the current status is one of from. The condition
// lives inside the UPDATE so concurrent enqueues cannot double-count.
func (r *PGRepo) MarkEnqueued(ctx context.Context, id string, from []Status, now time.Time) (bool, error) {
	placeholders, args := statusArgs(from, 3)
	query := `
UPDATE documents
SET status = $1, ocr_attempts = ocr_attempts + 1, ocr_updated_at = $2, updated_at = $2
WHERE id = $3 AND deleted_at IS NULL AND status IN (` + placeholders + `)`

	execArgs := append([]any{string(StatusOCRPending), now, id}, args...)
	res, err := r.DB.ExecContext(ctx, query, execArgs...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClaimNext claims the oldest pending document in a single conditional
// update. FOR UPDATE SKIP LOCKED makes the claim race-free: two workers
// polling concurrently can never both receive the same row.
func (r *PGRepo) ClaimNext(ctx context.Context, now time.Time) (*Document, error) {
	query := `
UPDATE documents
SET status = $1, ocr_updated_at = $2, updated_at = $2, updated_by = 'ocr-worker'
WHERE id = (
    SELECT id FROM documents
    WHERE status = $3 AND deleted_at IS NULL
    ORDER BY ocr_updated_at ASC NULLS FIRST
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + docColumns

	doc, err := r.scanDocument(r.DB.QueryRowContext(
		ctx, query, string(StatusOCRProcessing), now, string(StatusOCRPending),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	images, err := r.imagesFor(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	doc.Images = images
	return &doc, nil
}

// FinishOCR commits the terminal status and extracted fields in one write.
// Sensitive fields are sealed before they touch the wire.
func (r *PGRepo) FinishOCR(ctx context.Context, id string, res OCRResult) error {
	if res.Status != StatusOCRSuccess && res.Status != StatusOCRFailed {
		return fmt.Errorf("documents: %q is not a terminal ocr status", res.Status)
	}

	ext := res.Extracted
	if ext == nil {
		ext = &Extracted{}
	}

	docNumEnc, err := r.sealField(ext.DocumentNumber)
	if err != nil {
		return err
	}
	passNumEnc, err := r.sealField(ext.PassportNumber)
	if err != nil {
		return err
	}
	mrzRawEnc, err := r.sealField(ext.MRZRaw)
	if err != nil {
		return err
	}

	const query = `
UPDATE documents
SET status = $2, ocr_last_error = $3, ocr_updated_at = $4, updated_at = $4,
    has_extraction = $5, full_name = $6, given_names = $7, surname = $8,
    nationality = $9, issuing_country = $10, document_number_enc = $11,
    passport_number_enc = $12, visa_type = $13, date_of_birth = $14, sex = $15,
    expiration_date = $16, issue_date = $17, mrz_raw_enc = $18, mrz_valid = $19,
    mrz_format = $20, ocr_text = $21, ocr_confidence = $22, reason_codes = $23,
    updated_by = 'ocr-worker'
WHERE id = $1 AND status = $24`

	result, err := r.DB.ExecContext(
		ctx,
		query,
		id,
		string(res.Status),
		nullString(res.LastError),
		res.At,
		res.Extracted != nil,
		nullString(ext.FullName),
		nullString(ext.GivenNames),
		nullString(ext.Surname),
		nullString(ext.Nationality),
		nullString(ext.IssuingCountry),
		docNumEnc,
		passNumEnc,
		nullString(ext.VisaType),
		nullTime(ext.DateOfBirth),
		nullString(ext.Sex),
		nullTime(ext.ExpirationDate),
		nullTime(ext.IssueDate),
		mrzRawEnc,
		ext.MRZValid,
		nullString(ext.MRZFormat),
		nullString(ext.OCRText),
		ext.OCRConfidence,
		nullString(strings.Join(ext.ReasonCodes, ",")),
		string(StatusOCRProcessing),
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBadTransition
	}
	return nil
}

// SetStatus applies a guarded transition.
func (r *PGRepo) SetStatus(ctx context.Context, id string, to Status, from []Status, updatedBy string, now time.Time) (bool, error) {
	placeholders, args := statusArgs(from, 4)
	query := `
UPDATE documents
SET status = $1, updated_by = $2, updated_at = $3
WHERE id = $4 AND deleted_at IS NULL AND status IN (` + placeholders + `)`

	execArgs := append([]any{string(to), updatedBy, now, id}, args...)
	res, err := r.DB.ExecContext(ctx, query, execArgs...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SoftDelete flags the document deleted; processing treats it as terminal.
func (r *PGRepo) SoftDelete(ctx context.Context, id, deletedBy string, now time.Time) error {
	const query = `
UPDATE documents
SET deleted_at = $1, updated_by = $2, updated_at = $1
WHERE id = $3 AND deleted_at IS NULL`

	res, err := r.DB.ExecContext(ctx, query, now, deletedBy, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueStale recovers documents abandoned mid-processing by a crashed
// worker. The attempt counter is left alone: the crash was ours, not the
// caller's.
func (r *PGRepo) RequeueStale(ctx context.Context, cutoff time.Time) (int, error) {
	const query = `
UPDATE documents
SET status = $1, ocr_last_error = 'stale claim requeued', updated_at = now()
WHERE status = $2 AND deleted_at IS NULL AND ocr_updated_at < $3`

	res, err := r.DB.ExecContext(ctx, query, string(StatusOCRPending), string(StatusOCRProcessing), cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ExpirationSummary buckets the owner's documents by distance from the
// reference date to their expiration.
func (r *PGRepo) ExpirationSummary(ctx context.Context, ownerID string, reference time.Time) (ExpirationSummary, error) {
	const query = `
SELECT
    COUNT(*) FILTER (WHERE expiration_date < $2),
    COUNT(*) FILTER (WHERE expiration_date >= $2 AND expiration_date < $2 + INTERVAL '30 days'),
    COUNT(*) FILTER (WHERE expiration_date >= $2 + INTERVAL '30 days' AND expiration_date < $2 + INTERVAL '90 days'),
    COUNT(*) FILTER (WHERE expiration_date >= $2 + INTERVAL '90 days')
FROM documents
WHERE owner_id = $1 AND deleted_at IS NULL AND expiration_date IS NOT NULL`

	var s ExpirationSummary
	err := r.DB.QueryRowContext(ctx, query, ownerID, reference).Scan(
		&s.Expired, &s.Within30Days, &s.Within90Days, &s.Later,
	)
	if err != nil {
		return ExpirationSummary{}, err
	}
	return s, nil
}

func (r *PGRepo) imagesFor(ctx context.Context, documentID string) ([]Image, error) {
	const query = `
SELECT id, document_id, kind, url, provider, public_id, width, height, size_bytes, mime_type, uploaded_at
FROM document_images
WHERE document_id = $1
ORDER BY uploaded_at ASC`

	rows, err := r.DB.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Image
	for rows.Next() {
		var (
			img      Image
			kind     string
			publicID sql.NullString
		)
		if err := rows.Scan(
			&img.ID, &img.DocumentID, &kind, &img.URL, &img.Provider,
			&publicID, &img.Width, &img.Height, &img.SizeBytes, &img.MimeType,
			&img.UploadedAt,
		); err != nil {
			return nil, err
		}
		img.Kind = ImageKind(kind)
		if publicID.Valid {
			img.PublicID = publicID.String
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PGRepo) scanDocument(row rowScanner) (Document, error) {
	var (
		doc           Document
		docType       string
		source        string
		status        string
		notes         sql.NullString
		retention     sql.NullTime
		lastAccessed  sql.NullTime
		lastError     sql.NullString
		ocrUpdatedAt  sql.NullTime
		hasExtraction bool
		fullName      sql.NullString
		givenNames    sql.NullString
		surname       sql.NullString
		nationality   sql.NullString
		issuing       sql.NullString
		docNumEnc     sql.NullString
		passNumEnc    sql.NullString
		visaType      sql.NullString
		dob           sql.NullTime
		sex           sql.NullString
		expiration    sql.NullTime
		issueDate     sql.NullTime
		mrzRawEnc     sql.NullString
		mrzValid      sql.NullBool
		mrzFormat     sql.NullString
		ocrText       sql.NullString
		ocrConfidence sql.NullFloat64
		reasonCodes   sql.NullString
		deletedAt     sql.NullTime
	)

	err := row.Scan(
		&doc.ID, &doc.OwnerID, &docType, &source, &status, &notes, &retention,
		&lastAccessed, &doc.OCRAttempts, &lastError, &ocrUpdatedAt,
		&hasExtraction, &fullName, &givenNames, &surname, &nationality,
		&issuing, &docNumEnc, &passNumEnc, &visaType, &dob, &sex, &expiration,
		&issueDate, &mrzRawEnc, &mrzValid, &mrzFormat, &ocrText,
		&ocrConfidence, &reasonCodes,
		&doc.CreatedBy, &doc.UpdatedBy, &doc.CreatedAt, &doc.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return Document{}, err
	}

	doc.Type = Type(docType)
	doc.Source = Source(source)
	doc.Status = Status(status)
	doc.Notes = notes.String
	doc.OCRLastError = lastError.String
	doc.RetentionUntil = timePtr(retention)
	doc.LastAccessedAt = timePtr(lastAccessed)
	doc.OCRUpdatedAt = timePtr(ocrUpdatedAt)
	doc.DeletedAt = timePtr(deletedAt)

	if hasExtraction {
		ext := &Extracted{
			FullName:       fullName.String,
			GivenNames:     givenNames.String,
			Surname:        surname.String,
			Nationality:    nationality.String,
			IssuingCountry: issuing.String,
			VisaType:       visaType.String,
			DateOfBirth:    timePtr(dob),
			Sex:            sex.String,
			ExpirationDate: timePtr(expiration),
			IssueDate:      timePtr(issueDate),
			MRZValid:       mrzValid.Bool,
			MRZFormat:      mrzFormat.String,
			OCRText:        ocrText.String,
			OCRConfidence:  ocrConfidence.Float64,
		}
		if reasonCodes.Valid && reasonCodes.String != "" {
			ext.ReasonCodes = strings.Split(reasonCodes.String, ",")
		}
		if ext.DocumentNumber, err = r.openField(docNumEnc); err != nil {
			return Document{}, err
		}
		if ext.PassportNumber, err = r.openField(passNumEnc); err != nil {
			return Document{}, err
		}
		if ext.MRZRaw, err = r.openField(mrzRawEnc); err != nil {
			return Document{}, err
		}
		doc.Extracted = ext
	}

	return doc, nil
}

func (r *PGRepo) sealField(plaintext string) (sql.NullString, error) {
	if plaintext == "" {
		return sql.NullString{}, nil
	}
	ct, err := r.Cipher.Encrypt(plaintext)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: ct, Valid: true}, nil
}

func (r *PGRepo) openField(stored sql.NullString) (string, error) {
	if !stored.Valid || stored.String == "" {
		return "", nil
	}
	return r.Cipher.Decrypt(stored.String)
}

// statusArgs renders an IN clause for a status set, numbering placeholders
// from start+1.
func statusArgs(set []Status, start int) (string, []any) {
	placeholders := make([]string, len(set))
	args := make([]any, len(set))
	for i, s := range set {
		placeholders[i] = fmt.Sprintf("$%d", start+i+1)
		args[i] = string(s)
	}
	return strings.Join(placeholders, ", "), args
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

var _ Repo = (*PGRepo)(nil)
