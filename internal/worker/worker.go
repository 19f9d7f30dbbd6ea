// Package worker runs the claim loop: poll for pending documents, claim one
// at a time through the repository's atomic claim, process it, and persist
// the outcome. Correctness comes entirely from the claim primitive; workers
// share no in-process state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"idverify-backend/internal/documents"
	"idverify-backend/internal/shared/metrics"
	"idverify-backend/internal/shared/telemetry"
)

const (
	DefaultPollInterval     = 5 * time.Second
	DefaultStaleTimeout     = 10 * time.Minute
	DefaultFailureThreshold = 5
)

// ErrCircuitOpen is returned by Run when consecutive infrastructure failures
// crossed the threshold. The process should exit rather than hot-loop
// against a broken dependency.
var ErrCircuitOpen = errors.New("worker: infrastructure circuit open")

// Processor runs one claimed document end to end.
type Processor interface {
	Process(ctx context.Context, doc documents.Document) (documents.OCRResult, *documents.Image, error)
}

// Worker owns one sequential poll-claim-process cycle.
type Worker struct {
	Repo         documents.Repo
	Proc         Processor
	Clock        documents.Clock
	PollInterval time.Duration
	StaleTimeout time.Duration

	breaker *gobreaker.CircuitBreaker[bool]
}

// New builds a Worker with default intervals and a circuit breaker that
// trips after failureThreshold consecutive infrastructure failures.
func New(repo documents.Repo, proc Processor, failureThreshold uint32) *Worker {
	if failureThreshold == 0 {
		failureThreshold = DefaultFailureThreshold
	}
	settings := gobreaker.Settings{
		Name: "worker-cycle",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			telemetry.Error("circuit breaker state change", map[string]any{
				"name": name, "from": from.String(), "to": to.String(),
			})
		},
	}
	return &Worker{
		Repo:         repo,
		Proc:         proc,
		Clock:        documents.RealClock(),
		PollInterval: DefaultPollInterval,
		StaleTimeout: DefaultStaleTimeout,
		breaker:      gobreaker.NewCircuitBreaker[bool](settings),
	}
}

// Run loops until the context is canceled (graceful shutdown, returns nil)
// or the circuit opens (returns ErrCircuitOpen). While claims keep finding
// work it stays busy; an empty poll sleeps PollInterval. A document claimed
// before cancellation still finishes before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	telemetry.Info("worker started", map[string]any{
		"poll_interval": w.PollInterval.String(),
		"stale_timeout": w.StaleTimeout.String(),
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		worked, err := w.breaker.Execute(func() (bool, error) {
			return w.Cycle(ctx)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, gobreaker.ErrOpenState) {
				telemetry.Error("worker terminating", map[string]any{"reason": "circuit open"})
				return ErrCircuitOpen
			}
			telemetry.Error("worker cycle failed", map[string]any{"error": err.Error()})
			if !w.sleep(ctx) {
				return nil
			}
			continue
		}
		if !worked {
			if !w.sleep(ctx) {
				return nil
			}
		}
	}
}

// Cycle performs one iteration: requeue stale claims, claim the oldest
// pending document, process and persist it. It reports whether a document
// was claimed. Errors from it are infrastructure failures; a document whose
// recognition failed still counts as a clean cycle.
func (w *Worker) Cycle(ctx context.Context) (bool, error) {
	now := w.Clock.Now()

	if w.StaleTimeout > 0 {
		requeued, err := w.Repo.RequeueStale(ctx, now.Add(-w.StaleTimeout))
		if err != nil {
			return false, fmt.Errorf("worker: requeue stale: %w", err)
		}
		if requeued > 0 {
			metrics.AddOCRRequeued(requeued)
			telemetry.Info("stale claims requeued", map[string]any{"count": requeued})
		}
	}

	doc, err := w.Repo.ClaimNext(ctx, now)
	if err != nil {
		return false, fmt.Errorf("worker: claim: %w", err)
	}
	if doc == nil {
		return false, nil
	}

	metrics.IncOCRClaimed()

	// Once claimed, the document runs its step-chain to completion even
	// when shutdown has been signaled; only polling and new claims observe
	// cancellation. The stale window caps the detached run so a hung step
	// cannot outlive its own claim.
	procCtx := context.WithoutCancel(ctx)
	if w.StaleTimeout > 0 {
		var cancel context.CancelFunc
		procCtx, cancel = context.WithTimeout(procCtx, w.StaleTimeout)
		defer cancel()
	}

	if err := w.processOne(procCtx, *doc); err != nil {
		// The claim stays OCR_PROCESSING; the reaper returns it to the
		// queue once the stale timeout passes.
		return true, err
	}
	return true, nil
}

func (w *Worker) processOne(ctx context.Context, doc documents.Document) error {
	start := w.Clock.Now()

	res, normalized, err := w.safeProcess(ctx, doc)
	if err != nil {
		return fmt.Errorf("worker: process %s: %w", doc.ID, err)
	}

	if normalized != nil {
		if err := w.Repo.AddImage(ctx, *normalized); err != nil {
			return fmt.Errorf("worker: store normalized image for %s: %w", doc.ID, err)
		}
	}
	if err := w.Repo.FinishOCR(ctx, doc.ID, res); err != nil {
		return fmt.Errorf("worker: finish %s: %w", doc.ID, err)
	}

	elapsed := w.Clock.Now().Sub(start)
	metrics.ObserveOCRDurationMs(float64(elapsed.Milliseconds()))
	if res.Status == documents.StatusOCRSuccess {
		metrics.IncOCRSucceeded()
	} else {
		metrics.IncOCRFailed()
	}
	telemetry.Info("document processed", map[string]any{
		"document_id": doc.ID,
		"status":      string(res.Status),
		"attempt":     doc.OCRAttempts,
		"duration_ms": elapsed.Milliseconds(),
		"last_error":  res.LastError,
	})
	return nil
}

// safeProcess contains a panic from a single document's processing run and
// converts it into a terminal failure instead of taking the loop down.
func (w *Worker) safeProcess(ctx context.Context, doc documents.Document) (res documents.OCRResult, img *documents.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("processing panic", map[string]any{"document_id": doc.ID, "panic": fmt.Sprint(r)})
			res = documents.OCRResult{
				Status:    documents.StatusOCRFailed,
				LastError: fmt.Sprintf("processing panic: %v", r),
				At:        w.Clock.Now(),
			}
			img, err = nil, nil
		}
	}()
	return w.Proc.Process(ctx, doc)
}

// sleep waits one poll interval, reporting false when the context ended.
func (w *Worker) sleep(ctx context.Context) bool {
	timer := time.NewTimer(w.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
