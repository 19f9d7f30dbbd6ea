package health

import (
	"context"
	"database/sql"
	"time"
)

// Service reports process liveness and datastore reachability.
type Service struct {
	db *sql.DB
}

// NewService constructs a health service. db may be nil when the process
// runs on the in-memory repository.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Status returns the health payload. A failing database ping flips the
// database flag but not ok; the process can still serve reads from memory.
func (s *Service) Status() map[string]any {
	payload := map[string]any{"ok": true}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		payload["database"] = s.db.PingContext(ctx) == nil
	}
	return payload
}
