package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	documentsCreatedTotal atomic.Uint64
	ocrEnqueuedTotal      atomic.Uint64
	ocrClaimedTotal       atomic.Uint64
	ocrSucceededTotal     atomic.Uint64
	ocrFailedTotal        atomic.Uint64
	ocrRequeuedTotal      atomic.Uint64

	ocrDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
)

// IncDocumentsCreated increments the created-documents counter.
func IncDocumentsCreated() {
	documentsCreatedTotal.Add(1)
}

// IncOCREnqueued increments the enqueue counter.
func IncOCREnqueued() {
	ocrEnqueuedTotal.Add(1)
}

// IncOCRClaimed increments the claimed counter.
func IncOCRClaimed() {
	ocrClaimedTotal.Add(1)
}

// IncOCRSucceeded increments the success counter.
func IncOCRSucceeded() {
	ocrSucceededTotal.Add(1)
}

// IncOCRFailed increments the failure counter.
func IncOCRFailed() {
	ocrFailedTotal.Add(1)
}

// AddOCRRequeued adds requeued stale claims to the counter.
func AddOCRRequeued(n int) {
	if n > 0 {
		ocrRequeuedTotal.Add(uint64(n))
	}
}

// ObserveOCRDurationMs records a processing run duration in milliseconds.
func ObserveOCRDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	ocrDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "documents_created_total", "Total documents created", documentsCreatedTotal.Load())
	writeCounter(&buf, "ocr_enqueued_total", "Total OCR jobs enqueued", ocrEnqueuedTotal.Load())
	writeCounter(&buf, "ocr_claimed_total", "Total OCR jobs claimed", ocrClaimedTotal.Load())
	writeCounter(&buf, "ocr_succeeded_total", "Total OCR runs that succeeded", ocrSucceededTotal.Load())
	writeCounter(&buf, "ocr_failed_total", "Total OCR runs that failed", ocrFailedTotal.Load())
	writeCounter(&buf, "ocr_requeued_total", "Total stale claims requeued", ocrRequeuedTotal.Load())
	writeHistogram(&buf, "ocr_duration_ms", "OCR processing duration in milliseconds", ocrDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// NowMillis returns current time in milliseconds, useful for callers without time utilities.
func NowMillis() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}
