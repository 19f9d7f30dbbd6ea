package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"idverify-backend/internal/documents"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fakeProcessor scripts outcomes per document.
type fakeProcessor struct {
	mu      sync.Mutex
	result  documents.OCRResult
	err     error
	panicOn bool
	seen    []string
}

func (p *fakeProcessor) Process(_ context.Context, doc documents.Document) (documents.OCRResult, *documents.Image, error) {
	p.mu.Lock()
	p.seen = append(p.seen, doc.ID)
	p.mu.Unlock()
	if p.panicOn {
		panic("boom")
	}
	if p.err != nil {
		return documents.OCRResult{}, nil, p.err
	}
	res := p.result
	if res.Status == "" {
		res.Status = documents.StatusOCRSuccess
	}
	return res, nil, nil
}

// failingRepo wraps a Repo and fails ClaimNext a set number of times.
type failingRepo struct {
	documents.Repo
	failures int
	calls    int
}

func (r *failingRepo) ClaimNext(ctx context.Context, now time.Time) (*documents.Document, error) {
	r.calls++
	if r.calls <= r.failures || r.failures < 0 {
		return nil, errors.New("datastore unreachable")
	}
	return r.Repo.ClaimNext(ctx, now)
}

func pendingDocument(t *testing.T, repo documents.Repo, id string, enqueuedAt time.Time) {
	t.Helper()
	at := enqueuedAt
	doc := documents.Document{
		ID:           id,
		OwnerID:      "owner-1",
		Type:         documents.TypePassport,
		Status:       documents.StatusOCRPending,
		OCRAttempts:  1,
		OCRUpdatedAt: &at,
		CreatedAt:    enqueuedAt,
		Images: []documents.Image{{
			ID: id + "-raw", DocumentID: id, Kind: documents.ImageRaw, PublicID: "k/" + id,
		}},
	}
	if err := repo.Create(context.Background(), doc); err != nil {
		t.Fatalf("seed document: %v", err)
	}
}

func newTestWorker(repo documents.Repo, proc Processor) *Worker {
	w := New(repo, proc, 3)
	w.Clock = fixedClock{t: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
	w.PollInterval = time.Millisecond
	return w
}

func TestCycleProcessesOldestPending(t *testing.T) {
	repo := documents.NewMemoryRepo()
	base := time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC)
	pendingDocument(t, repo, "doc-new", base.Add(time.Minute))
	pendingDocument(t, repo, "doc-old", base)

	proc := &fakeProcessor{}
	w := newTestWorker(repo, proc)

	worked, err := w.Cycle(context.Background())
	if err != nil || !worked {
		t.Fatalf("Cycle = (%v, %v)", worked, err)
	}
	if len(proc.seen) != 1 || proc.seen[0] != "doc-old" {
		t.Fatalf("processed %v, want oldest first", proc.seen)
	}

	doc, err := repo.GetByID(context.Background(), "doc-old")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if doc.Status != documents.StatusOCRSuccess {
		t.Errorf("status = %s, want OCR_SUCCESS", doc.Status)
	}
}

func TestCycleNoWork(t *testing.T) {
	w := newTestWorker(documents.NewMemoryRepo(), &fakeProcessor{})
	worked, err := w.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if worked {
		t.Error("claimed work from an empty queue")
	}
}

func TestClaimExclusivity(t *testing.T) {
	repo := documents.NewMemoryRepo()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	pendingDocument(t, repo, "doc-1", now.Add(-time.Minute))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		claws []*documents.Document
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := repo.ClaimNext(context.Background(), now)
			if err != nil {
				t.Errorf("ClaimNext: %v", err)
				return
			}
			mu.Lock()
			claws = append(claws, doc)
			mu.Unlock()
		}()
	}
	wg.Wait()

	got := 0
	for _, d := range claws {
		if d != nil {
			got++
		}
	}
	if got != 1 {
		t.Fatalf("%d claimers received the document, want exactly 1", got)
	}
}

func TestRunTripsBreakerOnConsecutiveInfraErrors(t *testing.T) {
	repo := &failingRepo{Repo: documents.NewMemoryRepo(), failures: -1}
	w := newTestWorker(repo, &fakeProcessor{})
	w.StaleTimeout = 0 // isolate the claim failure

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := w.Run(ctx)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Run = %v, want ErrCircuitOpen", err)
	}
	if repo.calls < 3 {
		t.Errorf("breaker tripped after %d calls, threshold is 3", repo.calls)
	}
}

func TestRunRecoversFromTransientInfraErrors(t *testing.T) {
	mem := documents.NewMemoryRepo()
	pendingDocument(t, mem, "doc-1", time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC))
	repo := &failingRepo{Repo: mem, failures: 2} // under the threshold of 3

	proc := &fakeProcessor{}
	w := newTestWorker(repo, proc)
	w.StaleTimeout = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		proc.mu.Lock()
		n := len(proc.seen)
		proc.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("document never processed after transient errors")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run after cancel = %v, want nil", err)
	}
}

func TestDomainFailureDoesNotTripBreaker(t *testing.T) {
	repo := documents.NewMemoryRepo()
	base := time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC)
	for i, id := range []string{"doc-a", "doc-b", "doc-c", "doc-d"} {
		pendingDocument(t, repo, id, base.Add(time.Duration(i)*time.Second))
	}

	proc := &fakeProcessor{result: documents.OCRResult{
		Status:    documents.StatusOCRFailed,
		LastError: "no usable mrz",
		At:        base,
	}}
	w := newTestWorker(repo, proc)

	for i := 0; i < 4; i++ {
		if _, err := w.Cycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if len(proc.seen) != 4 {
		t.Fatalf("processed %d documents, want all 4", len(proc.seen))
	}
	doc, _ := repo.GetByID(context.Background(), "doc-a")
	if doc.Status != documents.StatusOCRFailed || doc.OCRLastError == "" {
		t.Errorf("doc-a status=%s lastError=%q", doc.Status, doc.OCRLastError)
	}
}

func TestPanicBecomesTerminalFailure(t *testing.T) {
	repo := documents.NewMemoryRepo()
	pendingDocument(t, repo, "doc-1", time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC))

	w := newTestWorker(repo, &fakeProcessor{panicOn: true})
	worked, err := w.Cycle(context.Background())
	if err != nil || !worked {
		t.Fatalf("Cycle = (%v, %v), panic must not surface", worked, err)
	}

	doc, _ := repo.GetByID(context.Background(), "doc-1")
	if doc.Status != documents.StatusOCRFailed {
		t.Errorf("status = %s, want OCR_FAILED", doc.Status)
	}
	if doc.OCRLastError == "" {
		t.Error("panic not recorded in ocr_last_error")
	}
}

// shutdownProcessor cancels the worker's run context from inside Process,
// simulating a SIGTERM landing while a document is in flight, and records
// whether its own context survived the cancellation.
type shutdownProcessor struct {
	stop       context.CancelFunc
	ctxErr     error
	deadlineOK bool
}

func (p *shutdownProcessor) Process(ctx context.Context, _ documents.Document) (documents.OCRResult, *documents.Image, error) {
	p.stop()
	p.ctxErr = ctx.Err()
	_, p.deadlineOK = ctx.Deadline()
	return documents.OCRResult{Status: documents.StatusOCRSuccess, At: time.Now()}, nil, nil
}

func TestShutdownLetsClaimedDocumentFinish(t *testing.T) {
	repo := documents.NewMemoryRepo()
	pendingDocument(t, repo, "doc-1", time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &shutdownProcessor{stop: cancel}
	w := newTestWorker(repo, proc)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after shutdown = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}

	if proc.ctxErr != nil {
		t.Fatalf("in-flight processing saw cancellation: %v", proc.ctxErr)
	}
	if !proc.deadlineOK {
		t.Error("detached processing context has no deadline; a hung step could outlive its claim")
	}

	doc, err := repo.GetByID(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if doc.Status != documents.StatusOCRSuccess {
		t.Errorf("status = %s, want OCR_SUCCESS; shutdown must not abandon a claimed document", doc.Status)
	}
}

func TestCycleRequeuesStaleClaims(t *testing.T) {
	repo := documents.NewMemoryRepo()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	stuckAt := now.Add(-time.Hour)
	stuck := documents.Document{
		ID:           "doc-stuck",
		OwnerID:      "owner-1",
		Type:         documents.TypePassport,
		Status:       documents.StatusOCRProcessing,
		OCRAttempts:  1,
		OCRUpdatedAt: &stuckAt,
		CreatedAt:    stuckAt,
		Images: []documents.Image{{
			ID: "img-1", DocumentID: "doc-stuck", Kind: documents.ImageRaw, PublicID: "k/doc-stuck",
		}},
	}
	if err := repo.Create(context.Background(), stuck); err != nil {
		t.Fatalf("seed: %v", err)
	}

	proc := &fakeProcessor{}
	w := newTestWorker(repo, proc)
	w.Clock = fixedClock{t: now}
	w.StaleTimeout = 10 * time.Minute

	// Reaped in the same cycle, so the claim picks it right back up.
	worked, err := w.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if !worked || len(proc.seen) != 1 || proc.seen[0] != "doc-stuck" {
		t.Fatalf("stale document not requeued and reclaimed: worked=%v seen=%v", worked, proc.seen)
	}

	doc, _ := repo.GetByID(context.Background(), "doc-stuck")
	if doc.OCRAttempts != 1 {
		t.Errorf("requeue consumed an attempt: attempts = %d", doc.OCRAttempts)
	}
}
