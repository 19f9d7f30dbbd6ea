// Package pipeline runs a claimed document end to end: download the raw
// photo, search orientations for a readable machine readable zone, parse and
// validate it, and upload the normalized rendition. The outcome is data, not
// control flow: recognition failures become an OCR_FAILED result with reason
// codes, and only infrastructure faults (storage, engine) surface as errors.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"idverify-backend/internal/documents"
	"idverify-backend/internal/imaging"
	"idverify-backend/internal/mrz"
	"idverify-backend/internal/ocr"
	"idverify-backend/internal/shared/storage/object"
)

// validBonus is added to an orientation's score when every check digit
// verified. Confidence tops out at 100, so a clean parse always beats a
// higher-confidence garbled one.
const validBonus = 1000.0

// DefaultMinConfidence is the mean OCR confidence below which a
// checksum-failing extraction is treated as blur rather than data.
const DefaultMinConfidence = 45.0

// Processor orchestrates one document's processing run.
type Processor struct {
	Store         object.ObjectStore
	Engine        ocr.Engine
	MinConfidence float64
	Clock         documents.Clock
}

// New builds a Processor with the default confidence threshold.
func New(store object.ObjectStore, engine ocr.Engine) *Processor {
	return &Processor{
		Store:         store,
		Engine:        engine,
		MinConfidence: DefaultMinConfidence,
		Clock:         documents.RealClock(),
	}
}

// attempt is one orientation's recognition outcome.
type attempt struct {
	parsed   mrz.Result
	parseErr error
	lines    []string
	conf     float64
	score    float64
}

// Process runs the full pipeline for a claimed document. The returned
// OCRResult is always populated; the Image, when non-nil, is the normalized
// rendition already uploaded to object storage and ready for AddImage. A
// non-nil error means infrastructure failed and the run should be retried,
// not recorded as a document-level failure.
func (p *Processor) Process(ctx context.Context, doc documents.Document) (documents.OCRResult, *documents.Image, error) {
	now := p.Clock.Now()

	raw, ok := doc.RawImage()
	if !ok {
		return failure(now, "document has no raw image", nil, nil), nil, nil
	}

	data, err := p.download(ctx, raw.PublicID)
	if err != nil {
		return documents.OCRResult{}, nil, err
	}

	img, err := imaging.Decode(data)
	if err != nil {
		return failure(now, fmt.Sprintf("decode image: %v", err), nil, nil), nil, nil
	}

	spec := imaging.SpecFor(string(doc.Type))

	best, err := p.searchOrientations(ctx, img, spec)
	if err != nil {
		return documents.OCRResult{}, nil, err
	}

	normalized, err := p.uploadNormalized(ctx, doc, raw, best.oriented, spec, now)
	if err != nil {
		return documents.OCRResult{}, nil, err
	}

	return outcome(doc, best.attempt, p.MinConfidence, now), normalized, nil
}

type searchResult struct {
	attempt  attempt
	oriented image.Image
}

// searchOrientations tries the image as-is and rotated a half turn, keeping
// the best-scoring recognition. A fully valid parse ends the search early.
func (p *Processor) searchOrientations(ctx context.Context, img image.Image, spec imaging.Spec) (searchResult, error) {
	orientations := []image.Image{img, nil} // half turn materialized lazily

	best := searchResult{
		oriented: img,
		attempt:  attempt{score: -2, parseErr: errors.New("no recognition attempted")},
	}
	for i, oriented := range orientations {
		if i == 1 {
			oriented = imaging.Rotate180(img)
		}

		att, err := p.recognize(ctx, oriented, spec)
		if err != nil {
			return searchResult{}, err
		}
		if att.score > best.attempt.score {
			best = searchResult{attempt: att, oriented: oriented}
		}
		if att.parseErr == nil && att.parsed.Valid {
			break
		}
	}
	return best, nil
}

func (p *Processor) recognize(ctx context.Context, img image.Image, spec imaging.Spec) (attempt, error) {
	roi, err := imaging.MRZRegion(img, spec.MRZFraction)
	if err != nil {
		// Too small for an MRZ band is a property of the upload.
		return attempt{parseErr: err, score: -1}, nil
	}

	rec, err := p.Engine.Recognize(ctx, roi)
	if err != nil {
		return attempt{}, fmt.Errorf("pipeline: ocr engine: %w", err)
	}

	att := attempt{lines: ocr.CleanLines(rec.Text), conf: rec.Confidence}
	att.parsed, att.parseErr = mrz.ParseLines(pickZone(att.lines))
	att.score = rec.Confidence
	if att.parseErr == nil && att.parsed.Valid {
		att.score += validBonus
	}
	return att, nil
}

// pickZone selects the candidate TD3 pair from cleaned lines: the last two
// full-width lines when present, otherwise the last two lines of any length
// so the parser can report what is wrong with them.
func pickZone(lines []string) []string {
	var full []string
	for _, l := range lines {
		if len(l) == mrz.LineLength {
			full = append(full, l)
		}
	}
	if len(full) >= mrz.LineCount {
		return full[len(full)-mrz.LineCount:]
	}
	if len(lines) >= mrz.LineCount {
		return lines[len(lines)-mrz.LineCount:]
	}
	return lines
}

func (p *Processor) download(ctx context.Context, key string) ([]byte, error) {
	rc, err := p.Store.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open raw image: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read raw image: %w", err)
	}
	return data, nil
}

// uploadNormalized renders the display rendition from the best orientation
// and stores it next to the original.
func (p *Processor) uploadNormalized(ctx context.Context, doc documents.Document, raw documents.Image, oriented image.Image, spec imaging.Spec, now time.Time) (*documents.Image, error) {
	norm, err := imaging.NormalizeImage(oriented, spec)
	if err != nil {
		return nil, fmt.Errorf("pipeline: normalize: %w", err)
	}

	key := normalizedKey(raw.PublicID)
	size, err := p.Store.SaveWithKey(ctx, key, norm.MimeType, bytes.NewReader(norm.Data))
	if err != nil {
		return nil, fmt.Errorf("pipeline: upload normalized: %w", err)
	}

	return &documents.Image{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Kind:       documents.ImageNormalized,
		URL:        key,
		Provider:   p.Store.Provider(),
		PublicID:   key,
		Width:      norm.Width,
		Height:     norm.Height,
		SizeBytes:  size,
		MimeType:   norm.MimeType,
		UploadedAt: now,
	}, nil
}

func normalizedKey(rawKey string) string {
	if i := strings.LastIndexByte(rawKey, '.'); i > strings.LastIndexByte(rawKey, '/') {
		rawKey = rawKey[:i]
	}
	return rawKey + "_normalized.jpg"
}

// outcome converts the best attempt into the terminal result. A valid parse,
// or a structurally complete one read with enough confidence, counts as
// success; everything else fails with codes explaining why.
func outcome(doc documents.Document, best attempt, minConfidence float64, now time.Time) documents.OCRResult {
	if best.parseErr != nil {
		var lenErr *mrz.LengthError
		codes := []string{}
		if len(best.lines) == 0 || errors.As(best.parseErr, &lenErr) {
			codes = append(codes, documents.ReasonLength)
		}
		if best.conf > 0 && best.conf < minConfidence {
			codes = append(codes, documents.ReasonBlur)
		}
		return failure(now, fmt.Sprintf("no usable mrz: %v", best.parseErr), codes, &documents.Extracted{
			OCRText:       strings.Join(best.lines, "\n"),
			OCRConfidence: best.conf,
			ReasonCodes:   codes,
		})
	}

	ext := extracted(doc, best)

	if best.parsed.Valid {
		return documents.OCRResult{Status: documents.StatusOCRSuccess, Extracted: ext, At: now}
	}

	ext.ReasonCodes = append(ext.ReasonCodes, documents.ReasonCheckDigit)
	if best.conf >= minConfidence {
		// High-confidence partial extraction: keep the data, flag the checks.
		return documents.OCRResult{Status: documents.StatusOCRSuccess, Extracted: ext, At: now}
	}

	ext.ReasonCodes = append(ext.ReasonCodes, documents.ReasonBlur)
	return documents.OCRResult{
		Status:    documents.StatusOCRFailed,
		Extracted: ext,
		LastError: "check digits failed on a low-confidence read",
		At:        now,
	}
}

func extracted(doc documents.Document, best attempt) *documents.Extracted {
	res := best.parsed
	dob := res.DateOfBirth
	exp := res.ExpirationDate

	ext := &documents.Extracted{
		FullName:       res.FullName(),
		GivenNames:     res.GivenNames,
		Surname:        res.Surname,
		Nationality:    res.Nationality,
		IssuingCountry: res.IssuingCountry,
		DocumentNumber: res.DocumentNumber,
		DateOfBirth:    &dob,
		Sex:            res.Sex,
		ExpirationDate: &exp,
		MRZRaw:         res.Raw,
		MRZValid:       res.Valid,
		MRZFormat:      res.Format,
		OCRText:        strings.Join(best.lines, "\n"),
		OCRConfidence:  best.conf,
	}
	switch doc.Type {
	case documents.TypePassport:
		ext.PassportNumber = res.DocumentNumber
	case documents.TypeVisa:
		ext.VisaType = res.DocumentType
	}
	return ext
}

func failure(at time.Time, lastError string, codes []string, ext *documents.Extracted) documents.OCRResult {
	if ext != nil && codes != nil {
		ext.ReasonCodes = codes
	}
	return documents.OCRResult{
		Status:    documents.StatusOCRFailed,
		Extracted: ext,
		LastError: lastError,
		At:        at,
	}
}
