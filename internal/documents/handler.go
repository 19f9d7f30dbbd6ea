package documents

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"idverify-backend/internal/shared/metrics"
	"idverify-backend/internal/shared/server/middleware"
	"idverify-backend/internal/shared/server/respond"
)

const maxUploadSize = 10 << 20 // 10MB

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents", h.create)
	rg.POST("/documents/:id/images", h.uploadImage)
	rg.POST("/documents/:id/ocr", h.enqueueOCR)
	rg.PATCH("/documents/:id/status", h.setStatus)
	rg.GET("/documents/expiring", h.expiring)
	rg.GET("/documents/:id", h.get)
	rg.GET("/documents", h.list)
	rg.DELETE("/documents/:id", h.remove)
}

type createDocumentRequest struct {
	Type           string     `json:"type"`
	Source         string     `json:"source"`
	Notes          string     `json:"notes"`
	RetentionUntil *time.Time `json:"retentionUntil"`
}

func (h *Handler) create(c *gin.Context) {
	caller := middleware.CallerFromContext(c)

	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
	req.Source = strings.ToUpper(strings.TrimSpace(req.Source))
	if req.Type == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "type is required", nil)
		return
	}
	if req.Source == "" {
		req.Source = string(SourceManual)
	}

	doc, err := h.Svc.Create(c.Request.Context(), caller, CreateParams{
		Type:           Type(req.Type),
		Source:         Source(req.Source),
		Notes:          strings.TrimSpace(req.Notes),
		RetentionUntil: req.RetentionUntil,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to create document", nil)
		}
		return
	}

	c.Set("documentId", doc.ID)
	metrics.IncDocumentsCreated()
	respond.Created(c, toResponse(doc))
}

func (h *Handler) uploadImage(c *gin.Context) {
	caller := middleware.CallerFromContext(c)
	documentID := c.Param("id")
	c.Set("documentId", documentID)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}

	doc, err := h.Svc.AddImage(c.Request.Context(), caller, documentID, fileHeader.Filename, data)
	if err != nil {
		h.writeDocumentError(c, err, "failed to store image")
		return
	}

	respond.Created(c, toResponse(doc))
}

func (h *Handler) enqueueOCR(c *gin.Context) {
	caller := middleware.CallerFromContext(c)
	documentID := c.Param("id")
	c.Set("documentId", documentID)

	job, err := h.Svc.EnqueueOCR(c.Request.Context(), caller, documentID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoRawImage):
			respond.Error(c, http.StatusConflict, "no_raw_image", "document has no raw image to process", nil)
		case errors.Is(err, ErrMaxAttempts):
			respond.Error(c, http.StatusConflict, "attempt_limit", "ocr attempt limit reached", nil)
		case errors.Is(err, ErrCooldownActive):
			respond.Error(c, http.StatusConflict, "cooldown_active", "ocr cooldown has not elapsed", nil)
		case errors.Is(err, ErrBadTransition):
			respond.Error(c, http.StatusConflict, "invalid_state", "document cannot be enqueued from its current status", nil)
		default:
			h.writeDocumentError(c, err, "failed to enqueue ocr")
		}
		return
	}

	metrics.IncOCREnqueued()
	respond.Accepted(c, gin.H{
		"documentId": job.DocumentID,
		"attempt":    job.Attempt,
		"status":     string(StatusOCRPending),
	})
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) setStatus(c *gin.Context) {
	caller := middleware.CallerFromContext(c)
	documentID := c.Param("id")
	c.Set("documentId", documentID)

	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	to := Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	if to == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "status is required", nil)
		return
	}

	doc, err := h.Svc.SetStatus(c.Request.Context(), caller, documentID, to)
	if err != nil {
		switch {
		case errors.Is(err, ErrBadTransition):
			respond.Error(c, http.StatusConflict, "invalid_transition", "status transition not allowed", nil)
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			h.writeDocumentError(c, err, "failed to update status")
		}
		return
	}

	c.Set("statusTransition", string(doc.Status))
	respond.JSON(c, http.StatusOK, toResponse(doc))
}

func (h *Handler) get(c *gin.Context) {
	caller := middleware.CallerFromContext(c)
	documentID := c.Param("id")
	c.Set("documentId", documentID)

	doc, err := h.Svc.Get(c.Request.Context(), caller, documentID)
	if err != nil {
		h.writeDocumentError(c, err, "failed to fetch document")
		return
	}

	respond.JSON(c, http.StatusOK, toResponse(doc))
}

func (h *Handler) list(c *gin.Context) {
	caller := middleware.CallerFromContext(c)

	filter := ListFilter{Limit: 20}

	if v := strings.ToUpper(strings.TrimSpace(c.Query("type"))); v != "" {
		if !ValidType(Type(v)) {
			respond.Error(c, http.StatusBadRequest, "validation_error", "unknown document type", nil)
			return
		}
		filter.Type = Type(v)
	}
	if v := strings.ToUpper(strings.TrimSpace(c.Query("status"))); v != "" {
		if !ValidStatus(Status(v)) {
			respond.Error(c, http.StatusBadRequest, "validation_error", "unknown status", nil)
			return
		}
		filter.Status = Status(v)
	}

	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			filter.Limit = parsed
		}
	}
	if filter.Limit < 0 {
		filter.Limit = 0
	}
	if filter.Limit > 50 {
		filter.Limit = 50
	}

	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			filter.Offset = parsed
		}
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	docs, err := h.Svc.List(c.Request.Context(), caller, filter)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list documents", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, toResponses(docs))
}

func (h *Handler) expiring(c *gin.Context) {
	caller := middleware.CallerFromContext(c)

	reference := time.Now().UTC()
	if v := c.Query("reference"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "reference must be YYYY-MM-DD", nil)
			return
		}
		reference = parsed
	}

	summary, err := h.Svc.ExpirationSummary(c.Request.Context(), caller, reference)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to summarize expirations", nil)
		return
	}

	respond.JSON(c, http.StatusOK, summary)
}

func (h *Handler) remove(c *gin.Context) {
	caller := middleware.CallerFromContext(c)
	documentID := c.Param("id")
	c.Set("documentId", documentID)

	if err := h.Svc.Delete(c.Request.Context(), caller, documentID); err != nil {
		h.writeDocumentError(c, err, "failed to delete document")
		return
	}

	c.Status(http.StatusNoContent)
}

// writeDocumentError maps the shared lookup errors. Ownership failures are
// reported as not found so callers cannot probe for other users' documents.
func (h *Handler) writeDocumentError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotOwner), errors.Is(err, ErrDeleted):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
