package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"strings"
	"testing"
	"time"

	"idverify-backend/internal/documents"
	"idverify-backend/internal/ocr"
)

const (
	specimenLine1 = "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<"
	specimenLine2 = "L898902C36UTO7408122F1204159ZE184226B<<<<<10"
)

var specimenText = specimenLine1 + "\n" + specimenLine2

type memStore struct {
	objects map[string][]byte
	openErr error
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (s *memStore) Save(_ context.Context, ownerID, fileName string, r io.Reader) (string, int64, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, "", err
	}
	key := ownerID + "/" + fileName
	s.objects[key] = data
	return key, int64(len(data)), "application/octet-stream", nil
}

func (s *memStore) SaveWithKey(_ context.Context, key, _ string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.objects[key] = data
	return int64(len(data)), nil
}

func (s *memStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("no object %q", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStore) Provider() string { return "mem" }

// fakeEngine returns scripted results per call.
type fakeEngine struct {
	results []ocr.Result
	err     error
	calls   int
}

func (e *fakeEngine) Recognize(context.Context, []byte) (ocr.Result, error) {
	if e.err != nil {
		return ocr.Result{}, e.err
	}
	i := e.calls
	e.calls++
	if i >= len(e.results) {
		i = len(e.results) - 1
	}
	return e.results[i], nil
}

func (e *fakeEngine) Close() error { return nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testDocument(t *testing.T, store *memStore) documents.Document {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 400, 280))
	for y := 0; y < 280; y++ {
		for x := 0; x < 400; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	store.objects["owners/x/raw.jpg"] = buf.Bytes()

	return documents.Document{
		ID:      "doc-1",
		OwnerID: "owner-1",
		Type:    documents.TypePassport,
		Status:  documents.StatusOCRProcessing,
		Images: []documents.Image{{
			ID: "img-1", DocumentID: "doc-1", Kind: documents.ImageRaw,
			PublicID: "owners/x/raw.jpg", URL: "owners/x/raw.jpg",
		}},
	}
}

func newProcessor(store *memStore, engine ocr.Engine) *Processor {
	p := New(store, engine)
	p.Clock = fixedClock{t: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	return p
}

func TestProcessValidFirstOrientation(t *testing.T) {
	store := newMemStore()
	engine := &fakeEngine{results: []ocr.Result{{Text: specimenText, Confidence: 88}}}
	doc := testDocument(t, store)

	res, norm, err := newProcessor(store, engine).Process(context.Background(), doc)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if engine.calls != 1 {
		t.Errorf("engine calls = %d, want 1 (early exit)", engine.calls)
	}
	if res.Status != documents.StatusOCRSuccess {
		t.Fatalf("status = %s, want OCR_SUCCESS", res.Status)
	}
	ext := res.Extracted
	if ext == nil {
		t.Fatal("no extracted data")
	}
	if ext.PassportNumber != "L898902C3" || ext.Nationality != "UTO" || ext.Sex != "F" {
		t.Errorf("extracted = %+v", ext)
	}
	if !ext.MRZValid || len(ext.ReasonCodes) != 0 {
		t.Errorf("valid = %v, codes = %v", ext.MRZValid, ext.ReasonCodes)
	}

	if norm == nil {
		t.Fatal("no normalized image")
	}
	if norm.Kind != documents.ImageNormalized {
		t.Errorf("kind = %s", norm.Kind)
	}
	if norm.PublicID != "owners/x/raw_normalized.jpg" {
		t.Errorf("normalized key = %q", norm.PublicID)
	}
	if _, ok := store.objects[norm.PublicID]; !ok {
		t.Error("normalized rendition not uploaded")
	}
}

func TestProcessRecoversOnHalfTurn(t *testing.T) {
	store := newMemStore()
	engine := &fakeEngine{results: []ocr.Result{
		{Text: "GARBAGE", Confidence: 12},
		{Text: specimenText, Confidence: 81},
	}}
	doc := testDocument(t, store)

	res, _, err := newProcessor(store, engine).Process(context.Background(), doc)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if engine.calls != 2 {
		t.Errorf("engine calls = %d, want 2", engine.calls)
	}
	if res.Status != documents.StatusOCRSuccess {
		t.Fatalf("status = %s, want OCR_SUCCESS; lastError=%q", res.Status, res.LastError)
	}
	if res.Extracted.OCRConfidence != 81 {
		t.Errorf("confidence = %v, want the half-turn attempt", res.Extracted.OCRConfidence)
	}
}

func TestProcessNoMRZFound(t *testing.T) {
	store := newMemStore()
	engine := &fakeEngine{results: []ocr.Result{{Text: "JUST SOME NOISE", Confidence: 70}}}
	doc := testDocument(t, store)

	res, norm, err := newProcessor(store, engine).Process(context.Background(), doc)
	if err != nil {
		t.Fatalf("recognition failure must not be an error, got %v", err)
	}
	if res.Status != documents.StatusOCRFailed {
		t.Fatalf("status = %s, want OCR_FAILED", res.Status)
	}
	if !hasCode(res.Extracted.ReasonCodes, documents.ReasonLength) {
		t.Errorf("codes = %v, want %s", res.Extracted.ReasonCodes, documents.ReasonLength)
	}
	if res.LastError == "" {
		t.Error("lastError not set")
	}
	if norm == nil {
		t.Error("normalized rendition should be produced even on failure")
	}
}

func TestProcessChecksumFailureLowConfidence(t *testing.T) {
	mutated := strings.Replace(specimenText, "L898902C36", "L898902C37", 1)
	store := newMemStore()
	engine := &fakeEngine{results: []ocr.Result{{Text: mutated, Confidence: 20}}}
	doc := testDocument(t, store)

	res, _, err := newProcessor(store, engine).Process(context.Background(), doc)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if engine.calls != 2 {
		t.Errorf("engine calls = %d, want both orientations tried", engine.calls)
	}
	if res.Status != documents.StatusOCRFailed {
		t.Fatalf("status = %s, want OCR_FAILED", res.Status)
	}
	if !hasCode(res.Extracted.ReasonCodes, documents.ReasonCheckDigit) || !hasCode(res.Extracted.ReasonCodes, documents.ReasonBlur) {
		t.Errorf("codes = %v, want CHECKDIGIT and BLUR", res.Extracted.ReasonCodes)
	}
	// best-effort fields survive the failed checks
	if res.Extracted.Nationality != "UTO" {
		t.Errorf("nationality = %q", res.Extracted.Nationality)
	}
}

func TestProcessChecksumFailureHighConfidence(t *testing.T) {
	mutated := strings.Replace(specimenText, "L898902C36", "L898902C37", 1)
	store := newMemStore()
	engine := &fakeEngine{results: []ocr.Result{{Text: mutated, Confidence: 90}}}
	doc := testDocument(t, store)

	res, _, err := newProcessor(store, engine).Process(context.Background(), doc)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Status != documents.StatusOCRSuccess {
		t.Fatalf("status = %s, want partial extraction accepted", res.Status)
	}
	if !hasCode(res.Extracted.ReasonCodes, documents.ReasonCheckDigit) {
		t.Errorf("codes = %v, want CHECKDIGIT flag on partial", res.Extracted.ReasonCodes)
	}
	if res.Extracted.MRZValid {
		t.Error("partial extraction reported as fully valid")
	}
}

func TestProcessStorageErrorPropagates(t *testing.T) {
	store := newMemStore()
	store.openErr = errors.New("connection refused")
	engine := &fakeEngine{results: []ocr.Result{{Text: specimenText, Confidence: 90}}}
	doc := testDocument(t, store)

	_, _, err := newProcessor(store, engine).Process(context.Background(), doc)
	if err == nil {
		t.Fatal("infrastructure failure swallowed")
	}
}

func TestProcessEngineErrorPropagates(t *testing.T) {
	store := newMemStore()
	engine := &fakeEngine{err: errors.New("tesseract not initialized")}
	doc := testDocument(t, store)

	_, _, err := newProcessor(store, engine).Process(context.Background(), doc)
	if err == nil {
		t.Fatal("engine failure swallowed")
	}
}

func hasCode(codes []string, want string) bool {
	for _, c := range codes {
		if c == want {
			return true
		}
	}
	return false
}
