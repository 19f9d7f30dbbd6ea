package documents

import "errors"

var (
	ErrNotFound       = errors.New("document not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotOwner       = errors.New("caller does not own document")
	ErrDeleted        = errors.New("document is deleted")
	ErrNoRawImage     = errors.New("document has no raw image")
	ErrMaxAttempts    = errors.New("ocr attempt limit reached")
	ErrCooldownActive = errors.New("ocr cooldown active")
	ErrBadTransition  = errors.New("status transition not allowed")
)
