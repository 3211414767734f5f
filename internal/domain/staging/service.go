package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dischargehq/discharge/internal/domain/audit"
	"github.com/dischargehq/discharge/internal/parse"
	"github.com/dischargehq/discharge/internal/platform/db"
	"github.com/dischargehq/discharge/internal/platform/pdftext"
)

// Well-known enrichment kinds, matching the seeded enrichment_type rows.
var (
	EnrichmentPhoneValidationStatus = uuid.MustParse("eeb9f5b4-15e3-4ac2-a4b4-5c7c7f92b717")
	EnrichmentPhoneType             = uuid.MustParse("add1ed02-dc4e-460a-b3e1-9b9a160ab2b2")
	EnrichmentInsuranceVerified     = uuid.MustParse("c8f7629d-38ec-4506-93b8-c2a9a08b3b65")
	EnrichmentProviderVerified      = uuid.MustParse("2a8760cb-505b-4c6f-a0b0-2a4d87fe8850")
)

// MaxEnrichmentValueLen caps stored enrichment values.
const MaxEnrichmentValueLen = 255

// noSelectionValue is sent by review UIs for an untouched dropdown.
const noSelectionValue = "--select--"

var (
	ErrNotFound     = errors.New("not found")
	ErrNoStagedRows = errors.New("no staged discharge rows")
	// ErrAlreadyFinal means the row left Pending and cannot change again.
	ErrAlreadyFinal = errors.New("record already reviewed")
)

// ValidationError carries a client-facing message for a 400 response.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AuditTrail records audit rows for staging mutations. Satisfied by
// audit.Recorder.
type AuditTrail interface {
	RawUploadChange(ctx context.Context, action string, rawDataID, actor uuid.UUID, before, after interface{}) error
	StagedChange(ctx context.Context, action string, tempDischargeID, actor uuid.UUID, before, after interface{}) error
	EnrichmentChange(ctx context.Context, action string, enrichmentDataID, actor uuid.UUID, before, after interface{}) error
}

type Service struct {
	repo      Repository
	audit     AuditTrail
	pool      *pgxpool.Pool
	uploadDir string
	extract   func(content []byte) (string, error)
}

func NewService(repo Repository, trail AuditTrail, pool *pgxpool.Pool, uploadDir string) *Service {
	return &Service{
		repo:      repo,
		audit:     trail,
		pool:      pool,
		uploadDir: uploadDir,
		extract:   pdftext.Extract,
	}
}

// inTx runs fn inside a transaction when a pool is attached. Without a pool
// (unit tests against a mock repository) fn runs directly.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.pool, fn)
}

// Upload stores the source document, extracts and parses its rows, and
// stages every parsed row as Pending. The stored document, the staged rows,
// and their audit entries commit atomically.
func (s *Service) Upload(ctx context.Context, actor uuid.UUID, filename string, content []byte, importTypeID uuid.UUID) (*UploadResult, error) {
	text, err := s.extract(content)
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("failed to process file: %v", err)}
	}
	records := parse.Parse(text)

	if s.uploadDir != "" {
		if err := s.saveUploadCopy(filename, content); err != nil {
			return nil, err
		}
	}

	result := &UploadResult{Records: []*StagedDischarge{}}
	err = s.inTx(ctx, func(ctx context.Context) error {
		upload := &RawUpload{
			SourceFileName: filepath.Base(filename),
			RawContent:     content,
			ImportTypeID:   importTypeID,
			CreatedBy:      &actor,
			UpdatedBy:      &actor,
		}
		if err := s.repo.CreateRawUpload(ctx, upload); err != nil {
			return fmt.Errorf("store raw upload: %w", err)
		}
		if err := s.audit.RawUploadChange(ctx, audit.ActionInsert, upload.RawDataID, actor, nil, upload); err != nil {
			return err
		}
		result.RawDataID = upload.RawDataID

		for _, rec := range records {
			staged := &StagedDischarge{
				Name:                rec.Name,
				EpicID:              rec.EpicID,
				PhoneNumber:         rec.PhoneNumber,
				AttendingPhysician:  rec.AttendingPhysician,
				Date:                rec.Date,
				PrimaryCareProvider: rec.PrimaryCareProvider,
				Insurance:           rec.Insurance,
				Disposition:         rec.Disposition,
				HospitalName:        rec.Hospital,
				RawDataID:           upload.RawDataID,
				Status:              StatusPending,
				CreatedBy:           &actor,
				UpdatedBy:           &actor,
			}
			if err := s.repo.CreateStaged(ctx, staged); err != nil {
				return fmt.Errorf("stage discharge row: %w", err)
			}
			if err := s.audit.StagedChange(ctx, audit.ActionInsert, staged.TempDischargeID, actor, nil, staged); err != nil {
				return err
			}
			result.Records = append(result.Records, staged)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) saveUploadCopy(filename string, content []byte) error {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload directory: %w", err)
	}
	dst := filepath.Join(s.uploadDir, filepath.Base(filename))
	if err := os.WriteFile(dst, content, 0o644); err != nil {
		return fmt.Errorf("save upload copy: %w", err)
	}
	return nil
}

// GetRawUpload returns one stored source document with its bytes.
func (s *Service) GetRawUpload(ctx context.Context, rawDataID uuid.UUID) (*RawUpload, error) {
	upload, err := s.repo.GetRawUpload(ctx, rawDataID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return upload, nil
}

// Review returns everything a reviewer needs for one upload: the document
// header, its staged rows, and their enrichments.
func (s *Service) Review(ctx context.Context, rawDataID uuid.UUID) (*ReviewData, error) {
	header, err := s.repo.GetReviewHeader(ctx, rawDataID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	staged, err := s.repo.ListStagedByRawUpload(ctx, rawDataID)
	if err != nil {
		return nil, err
	}
	if len(staged) == 0 {
		return nil, ErrNoStagedRows
	}

	enrichments, err := s.repo.ListEnrichmentsByRawUpload(ctx, rawDataID)
	if err != nil {
		return nil, err
	}
	if enrichments == nil {
		enrichments = []*Enrichment{}
	}

	return &ReviewData{
		RawData:            header,
		TemporaryDischarge: staged,
		EnrichmentData:     enrichments,
	}, nil
}

// GetStagedDetail returns one staged row with its enrichments.
func (s *Service) GetStagedDetail(ctx context.Context, tempDischargeID uuid.UUID) (*StagedDischarge, []*Enrichment, error) {
	staged, err := s.repo.GetStaged(ctx, tempDischargeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	enrichments, err := s.repo.ListEnrichmentsByStaged(ctx, tempDischargeID)
	if err != nil {
		return nil, nil, err
	}
	if enrichments == nil {
		enrichments = []*Enrichment{}
	}
	return staged, enrichments, nil
}

// EnrichmentInput is one reviewer-supplied annotation in an update request.
type EnrichmentInput struct {
	EnrichmentTypeID uuid.UUID `json:"enrichment_type_id"`
	EnrichmentValue  string    `json:"enrichment_value"`
}

// stagedUpdateExcluded are payload keys dropped before the column update.
// They are either identity or bookkeeping columns the caller may echo back.
var stagedUpdateExcluded = map[string]bool{
	"temp_discharge_id": true,
	"raw_data_id":       true,
	"approved_by":       true,
	"created_by":        true,
	"updated_by":        true,
	"updated_at":        true,
}

// UpdateStaged validates and applies reviewer edits to a staged row and
// upserts its enrichments, all in one transaction with audit entries.
func (s *Service) UpdateStaged(ctx context.Context, actor, tempDischargeID uuid.UUID, fields map[string]string, enrichments []EnrichmentInput) error {
	if fields["name"] == "" {
		return &ValidationError{Message: "Missing required field: name"}
	}
	if fields["epic_id"] == "" {
		return &ValidationError{Message: "Missing required field: epic_id"}
	}
	if fields["date"] == "" {
		return &ValidationError{Message: "Missing required field: date"}
	}
	if !parse.ValidDate(fields["date"]) {
		return &ValidationError{Message: "Invalid date format or invalid date. Expected MM-DD-YYYY."}
	}
	if !parse.ValidPhone(fields["phone_number"]) {
		return &ValidationError{Message: "Invalid phone number format."}
	}

	update := make(map[string]string, len(fields))
	for key, value := range fields {
		if stagedUpdateExcluded[key] {
			continue
		}
		if !EditableColumn(key) {
			return &ValidationError{Message: fmt.Sprintf("Unknown field: %s", key)}
		}
		update[key] = value
	}

	valid, err := validEnrichments(enrichments)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(ctx context.Context) error {
		before, err := s.repo.GetStaged(ctx, tempDischargeID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		if err := s.repo.UpdateStagedFields(ctx, tempDischargeID, update); err != nil {
			return fmt.Errorf("update staged discharge: %w", err)
		}
		after, err := s.repo.GetStaged(ctx, tempDischargeID)
		if err != nil {
			return err
		}
		if err := s.audit.StagedChange(ctx, audit.ActionUpdate, tempDischargeID, actor, before, after); err != nil {
			return err
		}

		for _, in := range valid {
			if err := s.upsertEnrichment(ctx, actor, tempDischargeID, in); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) upsertEnrichment(ctx context.Context, actor, tempDischargeID uuid.UUID, in EnrichmentInput) error {
	existing, err := s.repo.GetEnrichment(ctx, tempDischargeID, in.EnrichmentTypeID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	if existing != nil {
		if err := s.repo.UpdateEnrichmentValue(ctx, existing.EnrichmentDataID, in.EnrichmentValue, actor); err != nil {
			return fmt.Errorf("update enrichment: %w", err)
		}
		updated := *existing
		updated.EnrichmentValue = in.EnrichmentValue
		updated.UpdatedBy = &actor
		return s.audit.EnrichmentChange(ctx, audit.ActionUpdate, existing.EnrichmentDataID, actor, existing, &updated)
	}

	created := &Enrichment{
		TempDischargeID:  tempDischargeID,
		EnrichmentTypeID: in.EnrichmentTypeID,
		EnrichmentValue:  in.EnrichmentValue,
		CreatedBy:        &actor,
		UpdatedBy:        &actor,
	}
	if err := s.repo.CreateEnrichment(ctx, created); err != nil {
		return fmt.Errorf("create enrichment: %w", err)
	}
	return s.audit.EnrichmentChange(ctx, audit.ActionInsert, created.EnrichmentDataID, actor, nil, created)
}

// validEnrichments filters and validates incoming enrichment values.
// Entries without a kind or without a real value are skipped, not rejected.
func validEnrichments(enrichments []EnrichmentInput) ([]EnrichmentInput, error) {
	var valid []EnrichmentInput
	for _, in := range enrichments {
		if in.EnrichmentTypeID == uuid.Nil {
			continue
		}
		if in.EnrichmentValue == "" || in.EnrichmentValue == noSelectionValue {
			continue
		}

		if in.EnrichmentTypeID == EnrichmentInsuranceVerified || in.EnrichmentTypeID == EnrichmentProviderVerified {
			v := strings.ToLower(in.EnrichmentValue)
			if v != "true" && v != "false" {
				return nil, &ValidationError{
					Message: fmt.Sprintf("Enrichment value for type ID %s must be 'true' or 'false'.", in.EnrichmentTypeID),
				}
			}
		}
		if len(in.EnrichmentValue) > MaxEnrichmentValueLen {
			return nil, &ValidationError{
				Message: fmt.Sprintf("Enrichment value for type ID %s exceeds %d characters.", in.EnrichmentTypeID, MaxEnrichmentValueLen),
			}
		}
		valid = append(valid, in)
	}
	return valid, nil
}

// Reject marks a staged row as Rejected. Rejecting an already Rejected row
// restamps the reviewer and timestamp. Approved rows are final.
func (s *Service) Reject(ctx context.Context, actor, tempDischargeID uuid.UUID) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		before, err := s.repo.GetStaged(ctx, tempDischargeID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		if before.Status == StatusApproved {
			return ErrAlreadyFinal
		}

		if err := s.repo.SetStagedStatus(ctx, tempDischargeID, StatusRejected, actor); err != nil {
			return fmt.Errorf("reject staged discharge: %w", err)
		}
		after, err := s.repo.GetStaged(ctx, tempDischargeID)
		if err != nil {
			return err
		}
		return s.audit.StagedChange(ctx, audit.ActionUpdate, tempDischargeID, actor, before, after)
	})
}

// ListRawUploads lists uploads newest first, optionally bounded by ingest
// time. The upper bound is exclusive.
func (s *Service) ListRawUploads(ctx context.Context, from, to *time.Time, limit, offset int) ([]*RawUploadSummary, int, error) {
	summaries, total, err := s.repo.ListRawUploads(ctx, from, to, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if summaries == nil {
		summaries = []*RawUploadSummary{}
	}
	return summaries, total, nil
}

func (s *Service) ImportTypes(ctx context.Context) ([]*ImportType, error) {
	return s.repo.ListImportTypes(ctx)
}

func (s *Service) EnrichmentTypes(ctx context.Context) ([]*EnrichmentType, error) {
	return s.repo.ListEnrichmentTypes(ctx)
}

// SetExtractor replaces the PDF text extractor. Used by tests.
func (s *Service) SetExtractor(fn func(content []byte) (string, error)) {
	s.extract = fn
}
