package documents

// Status is a node in the document lifecycle state machine.
type Status string

const (
	StatusUploaded      Status = "UPLOADED"
	StatusDataCaptured  Status = "DATA_CAPTURED"
	StatusOCRPending    Status = "OCR_PENDING"
	StatusOCRProcessing Status = "OCR_PROCESSING"
	StatusOCRSuccess    Status = "OCR_SUCCESS"
	StatusOCRFailed     Status = "OCR_FAILED"
	StatusVerified      Status = "VERIFIED"
	StatusRejected      Status = "REJECTED"
)

// transitions enumerates the legal edges for callers. Soft deletion is
// orthogonal and not modeled here. Re-enqueueing a finished document is
// allowed so the attempt ceiling and cooldown have something to bound.
// One recovery edge exists outside this table: the worker's stale reaper
// returns abandoned OCR_PROCESSING rows to OCR_PENDING through
// Repo.RequeueStale, and no API path may take it.
var transitions = map[Status][]Status{
	StatusUploaded:      {StatusDataCaptured, StatusOCRPending},
	StatusDataCaptured:  {StatusOCRPending, StatusVerified, StatusRejected},
	StatusOCRPending:    {StatusOCRProcessing},
	StatusOCRProcessing: {StatusOCRSuccess, StatusOCRFailed},
	StatusOCRSuccess:    {StatusOCRPending, StatusVerified, StatusRejected},
	StatusOCRFailed:     {StatusOCRPending, StatusVerified, StatusRejected},
	StatusVerified:      {},
	StatusRejected:      {},
}

// ValidStatus reports whether s is a known status value.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// enqueueable lists the states from which an OCR enqueue may start a new
// attempt. OCR_PENDING and OCR_PROCESSING are handled separately as
// idempotent no-ops.
var enqueueable = []Status{StatusUploaded, StatusDataCaptured, StatusOCRSuccess, StatusOCRFailed}

// reviewable lists the states a reviewer may verify or reject from.
var reviewable = []Status{StatusDataCaptured, StatusOCRSuccess, StatusOCRFailed}

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
