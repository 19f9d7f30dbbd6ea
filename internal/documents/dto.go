package documents

import "time"

// ImageResponse is the outward-facing representation of a stored rendition.
type ImageResponse struct {
	ImageID    string    `json:"imageId"`
	Kind       string    `json:"kind"`
	URL        string    `json:"url"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	SizeBytes  int64     `json:"sizeBytes"`
	MimeType   string    `json:"mimeType"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// ExtractedResponse carries the structured data read from the document.
// Decryption happened at the repository; by the time a response is built the
// caller's ownership has already been checked.
type ExtractedResponse struct {
	FullName       string     `json:"fullName,omitempty"`
	GivenNames     string     `json:"givenNames,omitempty"`
	Surname        string     `json:"surname,omitempty"`
	Nationality    string     `json:"nationality,omitempty"`
	IssuingCountry string     `json:"issuingCountry,omitempty"`
	DocumentNumber string     `json:"documentNumber,omitempty"`
	PassportNumber string     `json:"passportNumber,omitempty"`
	VisaType       string     `json:"visaType,omitempty"`
	DateOfBirth    *time.Time `json:"dateOfBirth,omitempty"`
	Sex            string     `json:"sex,omitempty"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
	IssueDate      *time.Time `json:"issueDate,omitempty"`
	MRZValid       bool       `json:"mrzValid"`
	MRZFormat      string     `json:"mrzFormat,omitempty"`
	OCRConfidence  float64    `json:"ocrConfidence,omitempty"`
	ReasonCodes    []string   `json:"reasonCodes,omitempty"`
}

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	DocumentID     string             `json:"documentId"`
	Type           string             `json:"type"`
	Source         string             `json:"source"`
	Status         string             `json:"status"`
	Notes          string             `json:"notes,omitempty"`
	OCRAttempts    int                `json:"ocrAttempts"`
	OCRLastError   string             `json:"ocrLastError,omitempty"`
	OCRUpdatedAt   *time.Time         `json:"ocrUpdatedAt,omitempty"`
	RetentionUntil *time.Time         `json:"retentionUntil,omitempty"`
	Images         []ImageResponse    `json:"images,omitempty"`
	Extracted      *ExtractedResponse `json:"extracted,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

func toResponse(doc Document) DocumentResponse {
	resp := DocumentResponse{
		DocumentID:     doc.ID,
		Type:           string(doc.Type),
		Source:         string(doc.Source),
		Status:         string(doc.Status),
		Notes:          doc.Notes,
		OCRAttempts:    doc.OCRAttempts,
		OCRLastError:   doc.OCRLastError,
		OCRUpdatedAt:   doc.OCRUpdatedAt,
		RetentionUntil: doc.RetentionUntil,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	for _, img := range doc.Images {
		resp.Images = append(resp.Images, ImageResponse{
			ImageID:    img.ID,
			Kind:       string(img.Kind),
			URL:        img.URL,
			Width:      img.Width,
			Height:     img.Height,
			SizeBytes:  img.SizeBytes,
			MimeType:   img.MimeType,
			UploadedAt: img.UploadedAt,
		})
	}
	if ext := doc.Extracted; ext != nil {
		resp.Extracted = &ExtractedResponse{
			FullName:       ext.FullName,
			GivenNames:     ext.GivenNames,
			Surname:        ext.Surname,
			Nationality:    ext.Nationality,
			IssuingCountry: ext.IssuingCountry,
			DocumentNumber: ext.DocumentNumber,
			PassportNumber: ext.PassportNumber,
			VisaType:       ext.VisaType,
			DateOfBirth:    ext.DateOfBirth,
			Sex:            ext.Sex,
			ExpirationDate: ext.ExpirationDate,
			IssueDate:      ext.IssueDate,
			MRZValid:       ext.MRZValid,
			MRZFormat:      ext.MRZFormat,
			OCRConfidence:  ext.OCRConfidence,
			ReasonCodes:    ext.ReasonCodes,
		}
	}
	return resp
}

func toResponses(docs []Document) []DocumentResponse {
	out := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toResponse(doc))
	}
	return out
}
