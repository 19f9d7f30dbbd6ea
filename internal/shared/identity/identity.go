// Package identity defines the caller identity constructed once at the API
// boundary and passed through service calls.
package identity

// Caller identifies who is invoking an operation. Service is set for
// internal processes (the OCR worker) that may act on any document.
type Caller struct {
	UserID  string
	Email   string
	Service bool
}

// System returns the caller used by internal workers.
func System(name string) Caller {
	return Caller{UserID: name, Service: true}
}

// Owns reports whether the caller may act on a resource owned by ownerID.
func (c Caller) Owns(ownerID string) bool {
	return c.Service || (c.UserID != "" && c.UserID == ownerID)
}
