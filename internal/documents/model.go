package documents

import "time"

// Type identifies the kind of identity document.
type Type string

const (
	TypePassport Type = "PASSPORT"
	TypeVisa     Type = "VISA"
)

// ValidType reports whether t is a known document type.
func ValidType(t Type) bool {
	return t == TypePassport || t == TypeVisa
}

// Source records how the extracted data entered the system.
type Source string

const (
	SourceManual Source = "MANUAL"
	SourceOCR    Source = "OCR"
)

// ImageKind distinguishes the original upload from the processed copy.
type ImageKind string

const (
	ImageRaw        ImageKind = "RAW"
	ImageNormalized ImageKind = "NORMALIZED"
)

// Reason codes attached to a failed or degraded OCR outcome.
const (
	ReasonCheckDigit = "CHECKDIGIT"
	ReasonBlur       = "BLUR"
	ReasonLength     = "LENGTH"
)

// Image is a stored rendition of a document photo.
type Image struct {
	ID         string
	DocumentID string
	Kind       ImageKind
	URL        string
	Provider   string
	PublicID   string
	Width      int
	Height     int
	SizeBytes  int64
	MimeType   string
	UploadedAt time.Time
}

// Extracted holds the structured data read from the document. The
// DocumentNumber, PassportNumber, and MRZRaw fields are plaintext only in
// memory; the repository encrypts them before any write.
type Extracted struct {
	FullName       string
	GivenNames     string
	Surname        string
	Nationality    string
	IssuingCountry string
	DocumentNumber string
	PassportNumber string
	VisaType       string
	DateOfBirth    *time.Time
	Sex            string
	ExpirationDate *time.Time
	IssueDate      *time.Time
	MRZRaw         string
	MRZValid       bool
	MRZFormat      string
	OCRText        string
	OCRConfidence  float64
	ReasonCodes    []string
}

// Document is the root aggregate for the verification pipeline.
type Document struct {
	ID             string
	OwnerID        string
	Type           Type
	Source         Source
	Status         Status
	Images         []Image
	Extracted      *Extracted
	OCRAttempts    int
	OCRLastError   string
	OCRUpdatedAt   *time.Time
	Notes          string
	RetentionUntil *time.Time
	LastAccessedAt *time.Time
	CreatedBy      string
	UpdatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// IsDeleted reports whether the document has been soft-deleted.
func (d Document) IsDeleted() bool { return d.DeletedAt != nil }

// HasImage reports whether the document carries an image of the given kind.
func (d Document) HasImage(kind ImageKind) bool {
	for _, img := range d.Images {
		if img.Kind == kind {
			return true
		}
	}
	return false
}

// RawImage returns the first RAW image, if any.
func (d Document) RawImage() (Image, bool) {
	for _, img := range d.Images {
		if img.Kind == ImageRaw {
			return img, true
		}
	}
	return Image{}, false
}
