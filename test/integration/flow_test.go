package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/dischargehq/discharge/internal/domain/audit"
	"github.com/dischargehq/discharge/internal/domain/registry"
	"github.com/dischargehq/discharge/internal/domain/staging"
)

// Fixed rows seeded by the migrations.
var (
	seededActor      = uuid.MustParse("77118899-1111-1111-1111-111111111111")
	seededImportType = uuid.MustParse("11111111-1111-1111-1111-111111111111")
)

const sampleDocument = `Sacred Heart Hospital Discharges
Name MRN Phone Attending Date PCP Insurance Disposition
John Smith EP12345 404-727-1234 Dr. Perry Cox 01-15-2024 Dr. Bob Kelso Medicare Home
Jane Doe EP67890 Dr. Elliot Reid 01-16-2024 Aetna Health SNF`

func newServices(t *testing.T) (*staging.Service, *registry.Service, *pgxWrapper) {
	t.Helper()
	pool := setupDB(t)

	trail := audit.NewRecorder(pool)
	stagingRepo := staging.NewRepo(pool)
	stagingSvc := staging.NewService(stagingRepo, trail, pool, t.TempDir())
	stagingSvc.SetExtractor(func(content []byte) (string, error) {
		return string(content), nil
	})
	registrySvc := registry.NewService(registry.NewRepo(pool), stagingRepo, trail, pool)

	return stagingSvc, registrySvc, &pgxWrapper{pool: pool}
}

func TestIngestReviewApproveFlow(t *testing.T) {
	ctx := context.Background()
	stagingSvc, registrySvc, dbw := newServices(t)

	result, err := stagingSvc.Upload(ctx, seededActor, "jan-15.pdf", []byte(sampleDocument), seededImportType)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(result.Records) != 2 {
		t.Fatalf("expected 2 staged rows, got %d", len(result.Records))
	}

	review, err := stagingSvc.Review(ctx, result.RawDataID)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if review.RawData.FileName != "jan-15.pdf" {
		t.Errorf("review header file = %q", review.RawData.FileName)
	}
	if len(review.TemporaryDischarge) != 2 {
		t.Fatalf("expected 2 rows in review, got %d", len(review.TemporaryDischarge))
	}

	var target *staging.StagedDischarge
	for _, row := range review.TemporaryDischarge {
		if row.EpicID == "EP12345" {
			target = row
		}
	}
	if target == nil {
		t.Fatal("EP12345 row not staged")
	}
	if target.AttendingPhysician != "Dr. Perry Cox" || target.Insurance != "Medicare" {
		t.Errorf("unexpected parsed row %+v", target)
	}

	// Reviewer fixes the name and verifies the insurance.
	fields := map[string]string{
		"name":         "Jonathan Smith",
		"epic_id":      target.EpicID,
		"phone_number": target.PhoneNumber,
		"date":         target.Date,
	}
	enrichments := []staging.EnrichmentInput{
		{EnrichmentTypeID: staging.EnrichmentInsuranceVerified, EnrichmentValue: "true"},
		{EnrichmentTypeID: staging.EnrichmentPhoneType, EnrichmentValue: "Mobile"},
	}
	if err := stagingSvc.UpdateStaged(ctx, seededActor, target.TempDischargeID, fields, enrichments); err != nil {
		t.Fatalf("UpdateStaged: %v", err)
	}

	if err := registrySvc.Approve(ctx, seededActor, target.TempDischargeID); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	var patientName string
	dbw.scanOne(t, `
		SELECT p.full_name
		FROM discharge d
		JOIN epic e ON e.epic_id = d.epic_id
		JOIN patient p ON p.patient_id = e.patient_id
		WHERE e.epic_identifier = 'EP12345'`, &patientName)
	if patientName != "Jonathan Smith" {
		t.Errorf("patient = %q, want the edited name", patientName)
	}

	var providerLinks int
	dbw.scanOne(t, `
		SELECT COUNT(*) FROM discharge_provider dp
		JOIN discharge d ON d.discharge_id = dp.discharge_id
		JOIN epic e ON e.epic_id = d.epic_id
		WHERE e.epic_identifier = 'EP12345'`, &providerLinks)
	if providerLinks != 2 {
		t.Errorf("expected attending and pcp links, got %d", providerLinks)
	}

	var verified bool
	dbw.scanOne(t, `
		SELECT ei.insurance_verified FROM epic_insurance ei
		JOIN epic e ON e.epic_id = ei.epic_id
		WHERE e.epic_identifier = 'EP12345'`, &verified)
	if !verified {
		t.Error("insurance_verified should carry the enrichment value")
	}

	var phoneType string
	dbw.scanOne(t, `
		SELECT pp.phone_type FROM patient_phone pp
		JOIN patient p ON p.patient_id = pp.patient_id
		WHERE p.full_name = 'Jonathan Smith'`, &phoneType)
	if phoneType != "Mobile" {
		t.Errorf("phone_type = %q, want the enrichment value", phoneType)
	}

	// Approval is final.
	err = registrySvc.Approve(ctx, seededActor, target.TempDischargeID)
	if !errors.Is(err, registry.ErrAlreadyFinal) {
		t.Fatalf("expected ErrAlreadyFinal, got %v", err)
	}

	// The other row stays Pending, so the upload still reads as in review.
	summaries, _, err := stagingSvc.ListRawUploads(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("ListRawUploads: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(summaries))
	}
	if summaries[0].Status != staging.UploadStatusPending {
		t.Errorf("upload status = %q, want %q", summaries[0].Status, staging.UploadStatusPending)
	}
}

func TestApprovalWritesAuditTrail(t *testing.T) {
	ctx := context.Background()
	stagingSvc, registrySvc, dbw := newServices(t)

	result, err := stagingSvc.Upload(ctx, seededActor, "audit.pdf", []byte(sampleDocument), seededImportType)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	var rawAudits int
	dbw.scanOne(t, `SELECT COUNT(*) FROM raw_data_ingested_audit WHERE raw_data_id = $1`, &rawAudits, result.RawDataID)
	if rawAudits != 1 {
		t.Errorf("expected 1 raw upload audit row, got %d", rawAudits)
	}

	target := result.Records[0]
	if err := registrySvc.Approve(ctx, seededActor, target.TempDischargeID); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	var actions []string
	rows, err := dbw.pool.Query(ctx, `
		SELECT action FROM temporary_discharge_audit
		WHERE temp_discharge_id = $1 ORDER BY change_timestamp, action`, target.TempDischargeID)
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			t.Fatal(err)
		}
		actions = append(actions, action)
	}
	if len(actions) != 2 || actions[0] != audit.ActionInsert || actions[1] != audit.ActionUpdate {
		t.Errorf("audit actions = %v, want [INSERT UPDATE]", actions)
	}
}

func TestRejectedRowsBlockApproval(t *testing.T) {
	ctx := context.Background()
	stagingSvc, registrySvc, dbw := newServices(t)

	result, err := stagingSvc.Upload(ctx, seededActor, "reject.pdf", []byte(sampleDocument), seededImportType)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	target := result.Records[0]

	if err := stagingSvc.Reject(ctx, seededActor, target.TempDischargeID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	err = registrySvc.Approve(ctx, seededActor, target.TempDischargeID)
	if !errors.Is(err, registry.ErrAlreadyFinal) {
		t.Fatalf("expected ErrAlreadyFinal for rejected row, got %v", err)
	}

	var discharges int
	dbw.scanOne(t, `SELECT COUNT(*) FROM discharge`, &discharges)
	if discharges != 0 {
		t.Errorf("rejected row must not reach the registry, got %d discharges", discharges)
	}
}

func TestApprovalRollsBackOnValidationFailure(t *testing.T) {
	ctx := context.Background()
	stagingSvc, registrySvc, dbw := newServices(t)

	badDocument := `Sacred Heart Hospital Discharges
Name MRN Phone Attending Date PCP Insurance Disposition
 EP99999 Dr. Percival Ulysses Cox 02-30-2024 Medicaid Home`
	result, err := stagingSvc.Upload(ctx, seededActor, "bad.pdf", []byte(badDocument), seededImportType)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("expected 1 staged row, got %d", len(result.Records))
	}

	err = registrySvc.Approve(ctx, seededActor, result.Records[0].TempDischargeID)
	var fieldErrs registry.FieldErrors
	if !errors.As(err, &fieldErrs) {
		t.Fatalf("expected FieldErrors, got %v", err)
	}
	if fieldErrs["date"] == "" {
		t.Errorf("expected a date error, got %v", fieldErrs)
	}

	var patients, discharges int
	dbw.scanOne(t, `SELECT COUNT(*) FROM patient`, &patients)
	dbw.scanOne(t, `SELECT COUNT(*) FROM discharge`, &discharges)
	if patients != 0 || discharges != 0 {
		t.Errorf("failed approval must leave the registry empty, got %d patients %d discharges", patients, discharges)
	}

	var status string
	dbw.scanOne(t, `SELECT status FROM temporary_discharge WHERE temp_discharge_id = $1`, &status, result.Records[0].TempDischargeID)
	if status != staging.StatusPending {
		t.Errorf("staged status = %q, want Pending after failed approval", status)
	}
}
