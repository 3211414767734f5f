package staging

import (
	"time"

	"github.com/google/uuid"
)

// Review lifecycle of a staged discharge row.
const (
	StatusPending  = "Pending"
	StatusApproved = "Approved"
	StatusRejected = "Rejected"
)

// Derived review status of a raw upload, computed from its staged rows.
const (
	UploadStatusEmpty    = "No discharge records found"
	UploadStatusReviewed = "All records reviewed"
	UploadStatusPending  = "Records still pending review"
)

// ImportType describes a known document layout.
type ImportType struct {
	ImportTypeID uuid.UUID `json:"id"`
	TypeName     string    `json:"name"`
	Description  string    `json:"description,omitempty"`
}

// EnrichmentType is a kind of reviewer-supplied annotation.
type EnrichmentType struct {
	EnrichmentTypeID uuid.UUID `json:"enrichment_type_id"`
	TypeName         string    `json:"type_name"`
	Description      string    `json:"description"`
}

// RawUpload is a stored source document. RawContent holds the original
// PDF bytes so the document can be re-examined after ingestion.
type RawUpload struct {
	RawDataID      uuid.UUID  `json:"raw_data_id"`
	SourceFileName string     `json:"source_file_name"`
	RawContent     []byte     `json:"-"`
	ImportTypeID   uuid.UUID  `json:"import_type_id"`
	CreatedBy      *uuid.UUID `json:"created_by,omitempty"`
	UpdatedBy      *uuid.UUID `json:"updated_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RawUploadSummary is a listing entry with the derived review status.
type RawUploadSummary struct {
	RawDataID      uuid.UUID `json:"raw_data_id"`
	SourceFileName string    `json:"source_file_name"`
	CreatedAt      time.Time `json:"created_at"`
	ImportType     string    `json:"import_type"`
	Status         string    `json:"status"`
}

// StagedDischarge is one parsed row awaiting review. Date stays a raw
// MM-DD-YYYY string until approval so reviewers can see and fix exactly
// what was extracted.
type StagedDischarge struct {
	TempDischargeID     uuid.UUID  `json:"temp_discharge_id"`
	Name                string     `json:"name"`
	EpicID              string     `json:"epic_id"`
	PhoneNumber         string     `json:"phone_number"`
	AttendingPhysician  string     `json:"attending_physician"`
	Date                string     `json:"date"`
	PrimaryCareProvider string     `json:"primary_care_provider"`
	Insurance           string     `json:"insurance"`
	Disposition         string     `json:"disposition"`
	HospitalName        string     `json:"hospital_name"`
	RawDataID           uuid.UUID  `json:"raw_data_id"`
	Status              string     `json:"status"`
	ApprovedAt          *time.Time `json:"approved_at,omitempty"`
	ApprovedBy          *uuid.UUID `json:"approved_by,omitempty"`
	CreatedBy           *uuid.UUID `json:"created_by,omitempty"`
	UpdatedBy           *uuid.UUID `json:"updated_by,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Enrichment is a reviewer-supplied annotation on a staged row, at most one
// per enrichment kind.
type Enrichment struct {
	EnrichmentDataID uuid.UUID  `json:"enrichment_data_id"`
	TempDischargeID  uuid.UUID  `json:"temp_discharge_id"`
	EnrichmentTypeID uuid.UUID  `json:"enrichment_type_id"`
	EnrichmentValue  string     `json:"enrichment_value"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	ApprovedBy       *uuid.UUID `json:"approved_by,omitempty"`
	CreatedBy        *uuid.UUID `json:"created_by,omitempty"`
	UpdatedBy        *uuid.UUID `json:"updated_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	TypeName         string     `json:"enrichment_type_name,omitempty"`
}

// ReviewHeader describes the upload shown at the top of a review screen.
// RawContent carries the stored document bytes (base64 in JSON) so review
// clients can render or download the original PDF.
type ReviewHeader struct {
	FileName        string    `json:"fileName"`
	UploadedBy      string    `json:"uploadedBy"`
	IngestTimestamp time.Time `json:"ingestTimestamp"`
	ImportType      string    `json:"importType"`
	RawContent      []byte    `json:"rawContent"`
}

// ReviewData bundles everything a reviewer needs for one upload.
type ReviewData struct {
	RawData            *ReviewHeader      `json:"rawData"`
	TemporaryDischarge []*StagedDischarge `json:"temporaryDischarge"`
	EnrichmentData     []*Enrichment      `json:"enrichmentData"`
}

// UploadResult is returned after a document has been ingested and parsed.
type UploadResult struct {
	RawDataID uuid.UUID          `json:"raw_data_id"`
	Records   []*StagedDischarge `json:"data"`
}
