package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dischargehq/discharge/internal/domain/audit"
	"github.com/dischargehq/discharge/internal/domain/staging"
	"github.com/dischargehq/discharge/internal/parse"
	"github.com/dischargehq/discharge/internal/platform/db"
)

var (
	ErrNotFound = errors.New("discharge record not found")

	// ErrAlreadyFinal means the staged row left Pending and cannot be
	// approved again.
	ErrAlreadyFinal = errors.New("record already reviewed")
)

// FieldErrors maps field names to human-readable validation messages for a
// rejected approval request.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(keys, ", "))
}

// StagingStore is the slice of the staging repository the approval flow
// reads from and finalizes.
type StagingStore interface {
	GetStaged(ctx context.Context, id uuid.UUID) (*staging.StagedDischarge, error)
	ListEnrichmentsByStaged(ctx context.Context, tempDischargeID uuid.UUID) ([]*staging.Enrichment, error)
	SetStagedStatus(ctx context.Context, id uuid.UUID, status string, actor uuid.UUID) error
}

type AuditTrail interface {
	StagedChange(ctx context.Context, action string, tempDischargeID, actor uuid.UUID, before, after interface{}) error
}

type Service struct {
	repo    Repository
	staging StagingStore
	audit   AuditTrail
	pool    *pgxpool.Pool
}

func NewService(repo Repository, stagingStore StagingStore, trail AuditTrail, pool *pgxpool.Pool) *Service {
	return &Service{repo: repo, staging: stagingStore, audit: trail, pool: pool}
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.pool, fn)
}

// enrichmentValues holds the reviewer annotations folded into the approval.
type enrichmentValues struct {
	phoneValidationStatus *string
	phoneType             *string
	insuranceVerified     *bool
	providerVerified      *bool
}

// Approve moves one staged row into the normalized registry. Patient,
// epic, provider, insurance and hospital rows are looked up or created,
// the discharge itself is always inserted, and the staged row is marked
// Approved. The whole transformation runs in a single transaction.
func (s *Service) Approve(ctx context.Context, actor, tempDischargeID uuid.UUID) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		staged, err := s.staging.GetStaged(ctx, tempDischargeID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("load staged discharge: %w", err)
		}
		if staged.Status != staging.StatusPending {
			return ErrAlreadyFinal
		}

		if errs := validateForApproval(staged); len(errs) > 0 {
			return errs
		}
		dischargeDate, err := time.Parse("01-02-2006", staged.Date)
		if err != nil {
			return FieldErrors{"date": "Date must be in MM-DD-YYYY format and valid."}
		}

		enriched, err := s.gatherEnrichments(ctx, tempDischargeID)
		if err != nil {
			return err
		}

		patient, err := s.patientByName(ctx, staged.Name)
		if err != nil {
			return err
		}
		epic, err := s.epicByIdentifier(ctx, staged.EpicID, patient.PatientID)
		if err != nil {
			return err
		}

		discharge := &Discharge{
			EpicID:        epic.EpicID,
			DischargeDate: dischargeDate,
			Disposition:   staged.Disposition,
		}
		if err := s.repo.CreateDischarge(ctx, discharge); err != nil {
			return fmt.Errorf("create discharge: %w", err)
		}

		attending := strings.TrimSpace(staged.AttendingPhysician)
		for _, name := range []string{attending, strings.TrimSpace(staged.PrimaryCareProvider)} {
			if name == "" {
				continue
			}
			roleType := ProviderTypePrimaryCare
			if name == attending {
				roleType = ProviderTypeAttending
			}
			if err := s.linkProvider(ctx, discharge.DischargeID, name, roleType); err != nil {
				return err
			}
		}

		if phone := strings.TrimSpace(staged.PhoneNumber); phone != "" {
			if err := s.linkPhone(ctx, patient.PatientID, phone, enriched); err != nil {
				return err
			}
		}
		if insurance := strings.TrimSpace(staged.Insurance); insurance != "" && insurance != parse.UnknownValue {
			if err := s.linkInsurance(ctx, epic.EpicID, insurance, enriched.insuranceVerified); err != nil {
				return err
			}
		}
		if hospital := strings.TrimSpace(staged.HospitalName); hospital != "" {
			if err := s.linkHospital(ctx, epic.EpicID, hospital); err != nil {
				return err
			}
		}

		if err := s.staging.SetStagedStatus(ctx, tempDischargeID, staging.StatusApproved, actor); err != nil {
			return fmt.Errorf("mark staged approved: %w", err)
		}
		after, err := s.staging.GetStaged(ctx, tempDischargeID)
		if err != nil {
			return fmt.Errorf("reload staged discharge: %w", err)
		}
		return s.audit.StagedChange(ctx, audit.ActionUpdate, tempDischargeID, actor, staged, after)
	})
}

func validateForApproval(staged *staging.StagedDischarge) FieldErrors {
	errs := FieldErrors{}
	if strings.TrimSpace(staged.Name) == "" {
		errs["name"] = "Name is required."
	}
	if strings.TrimSpace(staged.EpicID) == "" {
		errs["epic_id"] = "Epic ID is required."
	}
	if !parse.ValidPhone(staged.PhoneNumber) {
		errs["phone_number"] = "Invalid phone number format."
	}
	if strings.TrimSpace(staged.Date) == "" {
		errs["date"] = "Date is required."
	} else if !parse.ValidDate(staged.Date) {
		errs["date"] = "Date must be in MM-DD-YYYY format and valid."
	}
	return errs
}

func (s *Service) gatherEnrichments(ctx context.Context, tempDischargeID uuid.UUID) (*enrichmentValues, error) {
	rows, err := s.staging.ListEnrichmentsByStaged(ctx, tempDischargeID)
	if err != nil {
		return nil, fmt.Errorf("list enrichments: %w", err)
	}
	out := &enrichmentValues{}
	for _, row := range rows {
		value := row.EnrichmentValue
		switch row.EnrichmentTypeID {
		case staging.EnrichmentPhoneValidationStatus:
			out.phoneValidationStatus = &value
		case staging.EnrichmentPhoneType:
			out.phoneType = &value
		case staging.EnrichmentInsuranceVerified:
			b := strings.EqualFold(value, "true")
			out.insuranceVerified = &b
		case staging.EnrichmentProviderVerified:
			b := strings.EqualFold(value, "true")
			out.providerVerified = &b
		}
	}
	return out, nil
}

func (s *Service) patientByName(ctx context.Context, fullName string) (*Patient, error) {
	patient, err := s.repo.GetPatientByName(ctx, fullName)
	if err == nil {
		return patient, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup patient: %w", err)
	}
	patient = &Patient{FullName: fullName}
	if err := s.repo.CreatePatient(ctx, patient); err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	return patient, nil
}

func (s *Service) epicByIdentifier(ctx context.Context, identifier string, patientID uuid.UUID) (*Epic, error) {
	epic, err := s.repo.GetEpicByIdentifier(ctx, identifier)
	if err == nil {
		return epic, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup epic: %w", err)
	}
	epic = &Epic{EpicIdentifier: identifier, PatientID: patientID}
	if err := s.repo.CreateEpic(ctx, epic); err != nil {
		return nil, fmt.Errorf("create epic: %w", err)
	}
	return epic, nil
}

func (s *Service) linkProvider(ctx context.Context, dischargeID uuid.UUID, name string, roleType uuid.UUID) error {
	provider, err := s.repo.GetProviderByName(ctx, name)
	if errors.Is(err, pgx.ErrNoRows) {
		provider = &Provider{Name: name}
		if err := s.repo.CreateProvider(ctx, provider); err != nil {
			return fmt.Errorf("create provider: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("lookup provider: %w", err)
	}

	role, err := s.repo.GetProviderRole(ctx, provider.ProviderID, roleType)
	if errors.Is(err, pgx.ErrNoRows) {
		role = &ProviderRole{ProviderID: provider.ProviderID, ProviderTypeID: roleType}
		if err := s.repo.CreateProviderRole(ctx, role); err != nil {
			return fmt.Errorf("create provider role: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("lookup provider role: %w", err)
	}

	exists, err := s.repo.DischargeProviderExists(ctx, dischargeID, role.ProviderProviderTypeID)
	if err != nil {
		return fmt.Errorf("check discharge provider: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.repo.CreateDischargeProvider(ctx, dischargeID, role.ProviderProviderTypeID); err != nil {
		return fmt.Errorf("link discharge provider: %w", err)
	}
	return nil
}

func (s *Service) linkPhone(ctx context.Context, patientID uuid.UUID, number string, enriched *enrichmentValues) error {
	phone := &PatientPhone{
		PatientID:             patientID,
		PhoneNumber:           number,
		PhoneValidationStatus: enriched.phoneValidationStatus,
		PhoneType:             enriched.phoneType,
	}
	exists, err := s.repo.PatientPhoneExists(ctx, phone)
	if err != nil {
		return fmt.Errorf("check patient phone: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.repo.CreatePatientPhone(ctx, phone); err != nil {
		return fmt.Errorf("create patient phone: %w", err)
	}
	return nil
}

func (s *Service) linkInsurance(ctx context.Context, epicID uuid.UUID, name string, verified *bool) error {
	insurance, err := s.repo.GetInsuranceByName(ctx, name)
	if errors.Is(err, pgx.ErrNoRows) {
		insurance = &Insurance{InsuranceName: name}
		if err := s.repo.CreateInsurance(ctx, insurance); err != nil {
			return fmt.Errorf("create insurance: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("lookup insurance: %w", err)
	}
	// Every approval records its own coverage link so repeat discharges
	// preserve the verification state at approval time.
	if err := s.repo.CreateEpicInsurance(ctx, epicID, insurance.InsuranceID, verified); err != nil {
		return fmt.Errorf("link epic insurance: %w", err)
	}
	return nil
}

func (s *Service) linkHospital(ctx context.Context, epicID uuid.UUID, name string) error {
	hospital, err := s.repo.GetHospitalByName(ctx, name)
	if errors.Is(err, pgx.ErrNoRows) {
		hospital = &Hospital{HospitalName: name}
		if err := s.repo.CreateHospital(ctx, hospital); err != nil {
			return fmt.Errorf("create hospital: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("lookup hospital: %w", err)
	}
	exists, err := s.repo.EpicHospitalExists(ctx, epicID, hospital.HospitalID)
	if err != nil {
		return fmt.Errorf("check epic hospital: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.repo.CreateEpicHospital(ctx, epicID, hospital.HospitalID); err != nil {
		return fmt.Errorf("link epic hospital: %w", err)
	}
	return nil
}

// History returns approved discharges for one epic identifier, newest first.
func (s *Service) History(ctx context.Context, identifier string) ([]*Discharge, error) {
	discharges, err := s.repo.ListDischargesByEpicIdentifier(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("list discharges: %w", err)
	}
	if discharges == nil {
		discharges = []*Discharge{}
	}
	return discharges, nil
}
