package staging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Raw uploads
	CreateRawUpload(ctx context.Context, u *RawUpload) error
	GetRawUpload(ctx context.Context, id uuid.UUID) (*RawUpload, error)
	GetReviewHeader(ctx context.Context, id uuid.UUID) (*ReviewHeader, error)
	ListRawUploads(ctx context.Context, from, to *time.Time, limit, offset int) ([]*RawUploadSummary, int, error)

	// Staged discharges
	CreateStaged(ctx context.Context, d *StagedDischarge) error
	GetStaged(ctx context.Context, id uuid.UUID) (*StagedDischarge, error)
	ListStagedByRawUpload(ctx context.Context, rawDataID uuid.UUID) ([]*StagedDischarge, error)
	UpdateStagedFields(ctx context.Context, id uuid.UUID, fields map[string]string) error
	SetStagedStatus(ctx context.Context, id uuid.UUID, status string, actor uuid.UUID) error

	// Enrichments
	GetEnrichment(ctx context.Context, tempDischargeID, enrichmentTypeID uuid.UUID) (*Enrichment, error)
	CreateEnrichment(ctx context.Context, e *Enrichment) error
	UpdateEnrichmentValue(ctx context.Context, id uuid.UUID, value string, actor uuid.UUID) error
	ListEnrichmentsByStaged(ctx context.Context, tempDischargeID uuid.UUID) ([]*Enrichment, error)
	ListEnrichmentsByRawUpload(ctx context.Context, rawDataID uuid.UUID) ([]*Enrichment, error)

	// Reference data
	ListImportTypes(ctx context.Context) ([]*ImportType, error)
	ListEnrichmentTypes(ctx context.Context) ([]*EnrichmentType, error)
}
