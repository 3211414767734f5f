package staging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dischargehq/discharge/internal/domain/audit"
)

type auditEntry struct {
	action   string
	targetID uuid.UUID
	actor    uuid.UUID
	before   interface{}
	after    interface{}
}

type mockAudit struct {
	rawEntries        []auditEntry
	stagedEntries     []auditEntry
	enrichmentEntries []auditEntry
}

func (m *mockAudit) RawUploadChange(_ context.Context, action string, rawDataID, actor uuid.UUID, before, after interface{}) error {
	m.rawEntries = append(m.rawEntries, auditEntry{action, rawDataID, actor, before, after})
	return nil
}

func (m *mockAudit) StagedChange(_ context.Context, action string, tempDischargeID, actor uuid.UUID, before, after interface{}) error {
	m.stagedEntries = append(m.stagedEntries, auditEntry{action, tempDischargeID, actor, before, after})
	return nil
}

func (m *mockAudit) EnrichmentChange(_ context.Context, action string, enrichmentDataID, actor uuid.UUID, before, after interface{}) error {
	m.enrichmentEntries = append(m.enrichmentEntries, auditEntry{action, enrichmentDataID, actor, before, after})
	return nil
}

type mockRepo struct {
	uploads     map[uuid.UUID]*RawUpload
	headers     map[uuid.UUID]*ReviewHeader
	staged      map[uuid.UUID]*StagedDischarge
	enrichments map[uuid.UUID]*Enrichment
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		uploads:     make(map[uuid.UUID]*RawUpload),
		headers:     make(map[uuid.UUID]*ReviewHeader),
		staged:      make(map[uuid.UUID]*StagedDischarge),
		enrichments: make(map[uuid.UUID]*Enrichment),
	}
}

func (m *mockRepo) CreateRawUpload(_ context.Context, u *RawUpload) error {
	u.RawDataID = uuid.New()
	u.CreatedAt = time.Now()
	m.uploads[u.RawDataID] = u
	m.headers[u.RawDataID] = &ReviewHeader{
		FileName:        u.SourceFileName,
		IngestTimestamp: u.CreatedAt,
		ImportType:      "Discharge Summary",
		RawContent:      u.RawContent,
	}
	return nil
}

func (m *mockRepo) GetRawUpload(_ context.Context, id uuid.UUID) (*RawUpload, error) {
	u, ok := m.uploads[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

func (m *mockRepo) GetReviewHeader(_ context.Context, id uuid.UUID) (*ReviewHeader, error) {
	h, ok := m.headers[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return h, nil
}

func (m *mockRepo) ListRawUploads(_ context.Context, _, _ *time.Time, _, _ int) ([]*RawUploadSummary, int, error) {
	return nil, 0, nil
}

func (m *mockRepo) CreateStaged(_ context.Context, d *StagedDischarge) error {
	d.TempDischargeID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	m.staged[d.TempDischargeID] = d
	return nil
}

func (m *mockRepo) GetStaged(_ context.Context, id uuid.UUID) (*StagedDischarge, error) {
	d, ok := m.staged[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *d
	return &copied, nil
}

func (m *mockRepo) ListStagedByRawUpload(_ context.Context, rawDataID uuid.UUID) ([]*StagedDischarge, error) {
	var out []*StagedDischarge
	for _, d := range m.staged {
		if d.RawDataID == rawDataID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockRepo) UpdateStagedFields(_ context.Context, id uuid.UUID, fields map[string]string) error {
	d, ok := m.staged[id]
	if !ok {
		return pgx.ErrNoRows
	}
	for key, value := range fields {
		switch key {
		case "name":
			d.Name = value
		case "epic_id":
			d.EpicID = value
		case "phone_number":
			d.PhoneNumber = value
		case "attending_physician":
			d.AttendingPhysician = value
		case "date":
			d.Date = value
		case "primary_care_provider":
			d.PrimaryCareProvider = value
		case "insurance":
			d.Insurance = value
		case "disposition":
			d.Disposition = value
		case "hospital_name":
			d.HospitalName = value
		case "status":
			d.Status = value
		default:
			return errors.New("unexpected column " + key)
		}
	}
	d.UpdatedAt = time.Now()
	return nil
}

func (m *mockRepo) SetStagedStatus(_ context.Context, id uuid.UUID, status string, actor uuid.UUID) error {
	d, ok := m.staged[id]
	if !ok {
		return pgx.ErrNoRows
	}
	d.Status = status
	now := time.Now()
	d.ApprovedAt = &now
	d.ApprovedBy = &actor
	d.UpdatedBy = &actor
	return nil
}

func (m *mockRepo) GetEnrichment(_ context.Context, tempDischargeID, enrichmentTypeID uuid.UUID) (*Enrichment, error) {
	for _, e := range m.enrichments {
		if e.TempDischargeID == tempDischargeID && e.EnrichmentTypeID == enrichmentTypeID {
			copied := *e
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) CreateEnrichment(_ context.Context, e *Enrichment) error {
	e.EnrichmentDataID = uuid.New()
	m.enrichments[e.EnrichmentDataID] = e
	return nil
}

func (m *mockRepo) UpdateEnrichmentValue(_ context.Context, id uuid.UUID, value string, actor uuid.UUID) error {
	e, ok := m.enrichments[id]
	if !ok {
		return pgx.ErrNoRows
	}
	e.EnrichmentValue = value
	e.UpdatedBy = &actor
	return nil
}

func (m *mockRepo) ListEnrichmentsByStaged(_ context.Context, tempDischargeID uuid.UUID) ([]*Enrichment, error) {
	var out []*Enrichment
	for _, e := range m.enrichments {
		if e.TempDischargeID == tempDischargeID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockRepo) ListEnrichmentsByRawUpload(_ context.Context, rawDataID uuid.UUID) ([]*Enrichment, error) {
	var out []*Enrichment
	for _, e := range m.enrichments {
		if d, ok := m.staged[e.TempDischargeID]; ok && d.RawDataID == rawDataID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockRepo) ListImportTypes(_ context.Context) ([]*ImportType, error) {
	return []*ImportType{{ImportTypeID: uuid.New(), TypeName: "Discharge Summary"}}, nil
}

func (m *mockRepo) ListEnrichmentTypes(_ context.Context) ([]*EnrichmentType, error) {
	return nil, nil
}

const sampleExtractedText = `Sacred Heart Hospital Discharges
Name MRN Phone Attending Date PCP Insurance Disposition
John Smith EP12345 404-727-1234 Dr. Perry Cox 01-15-2024 Dr. Bob Kelso Medicare Home
Jane Doe EP67890 Dr. Elliot Reid 01-16-2024 Aetna Health SNF`

func newTestService(repo Repository, trail AuditTrail) *Service {
	svc := NewService(repo, trail, nil, "")
	svc.SetExtractor(func(content []byte) (string, error) {
		return string(content), nil
	})
	return svc
}

func TestUploadStagesParsedRows(t *testing.T) {
	repo := newMockRepo()
	trail := &mockAudit{}
	svc := newTestService(repo, trail)
	actor := uuid.New()

	result, err := svc.Upload(context.Background(), actor, "jan-15.pdf", []byte(sampleExtractedText), uuid.New())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.RawDataID == uuid.Nil {
		t.Fatal("expected raw data id to be set")
	}
	if len(result.Records) != 2 {
		t.Fatalf("expected 2 staged rows, got %d", len(result.Records))
	}
	for _, rec := range result.Records {
		if rec.Status != StatusPending {
			t.Errorf("row %s status = %q, want %q", rec.Name, rec.Status, StatusPending)
		}
		if rec.RawDataID != result.RawDataID {
			t.Errorf("row %s not linked to upload", rec.Name)
		}
		if rec.HospitalName != "Sacred Heart Hospital" {
			t.Errorf("row %s hospital = %q", rec.Name, rec.HospitalName)
		}
	}
	if len(trail.rawEntries) != 1 || trail.rawEntries[0].action != audit.ActionInsert {
		t.Errorf("expected one raw upload INSERT audit entry, got %+v", trail.rawEntries)
	}
	if len(trail.stagedEntries) != 2 {
		t.Errorf("expected 2 staged INSERT audit entries, got %d", len(trail.stagedEntries))
	}
}

func TestUploadExtractFailure(t *testing.T) {
	svc := NewService(newMockRepo(), &mockAudit{}, nil, "")
	svc.SetExtractor(func([]byte) (string, error) {
		return "", errors.New("malformed document")
	})

	_, err := svc.Upload(context.Background(), uuid.New(), "bad.pdf", []byte("junk"), uuid.New())
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !strings.Contains(verr.Message, "failed to process file") {
		t.Errorf("unexpected message %q", verr.Message)
	}
}

func TestReviewUnknownUpload(t *testing.T) {
	svc := newTestService(newMockRepo(), &mockAudit{})

	_, err := svc.Review(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReviewUploadWithoutRows(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockAudit{})

	upload := &RawUpload{SourceFileName: "empty.pdf"}
	if err := repo.CreateRawUpload(context.Background(), upload); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Review(context.Background(), upload.RawDataID)
	if !errors.Is(err, ErrNoStagedRows) {
		t.Fatalf("expected ErrNoStagedRows, got %v", err)
	}
}

func TestReviewReturnsRowsAndEnrichments(t *testing.T) {
	repo := newMockRepo()
	trail := &mockAudit{}
	svc := newTestService(repo, trail)
	actor := uuid.New()

	result, err := svc.Upload(context.Background(), actor, "jan-15.pdf", []byte(sampleExtractedText), uuid.New())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	data, err := svc.Review(context.Background(), result.RawDataID)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if data.RawData == nil || data.RawData.FileName != "jan-15.pdf" {
		t.Errorf("unexpected header %+v", data.RawData)
	}
	if string(data.RawData.RawContent) != sampleExtractedText {
		t.Error("header must carry the stored document bytes")
	}
	if len(data.TemporaryDischarge) != 2 {
		t.Errorf("expected 2 staged rows, got %d", len(data.TemporaryDischarge))
	}
	if data.EnrichmentData == nil {
		t.Error("enrichment data should be an empty slice, not nil")
	}
}

func stageRow(t *testing.T, repo *mockRepo) *StagedDischarge {
	t.Helper()
	staged := &StagedDischarge{
		Name:               "John Smith",
		EpicID:             "EP12345",
		PhoneNumber:        "404-727-1234",
		AttendingPhysician: "Dr. Perry Cox",
		Date:               "01-15-2024",
		Insurance:          "Medicare",
		Disposition:        "Home",
		HospitalName:       "Sacred Heart Hospital",
		RawDataID:          uuid.New(),
		Status:             StatusPending,
	}
	if err := repo.CreateStaged(context.Background(), staged); err != nil {
		t.Fatal(err)
	}
	return staged
}

func baseFields(staged *StagedDischarge) map[string]string {
	return map[string]string{
		"name":         staged.Name,
		"epic_id":      staged.EpicID,
		"phone_number": staged.PhoneNumber,
		"date":         staged.Date,
	}
}

func TestUpdateStagedValidation(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockAudit{})
	staged := stageRow(t, repo)
	actor := uuid.New()

	cases := []struct {
		name    string
		mutate  func(map[string]string)
		message string
	}{
		{"missing name", func(f map[string]string) { f["name"] = "" }, "Missing required field: name"},
		{"missing epic id", func(f map[string]string) { f["epic_id"] = "" }, "Missing required field: epic_id"},
		{"missing date", func(f map[string]string) { f["date"] = "" }, "Missing required field: date"},
		{"invalid date", func(f map[string]string) { f["date"] = "02-30-2024" }, "Invalid date format or invalid date. Expected MM-DD-YYYY."},
		{"invalid phone", func(f map[string]string) { f["phone_number"] = "12345" }, "Invalid phone number format."},
		{"unknown column", func(f map[string]string) { f["status); DROP TABLE patient;--"] = "x" }, "Unknown field: status); DROP TABLE patient;--"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fields := baseFields(staged)
			tc.mutate(fields)
			err := svc.UpdateStaged(context.Background(), actor, staged.TempDischargeID, fields, nil)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Message != tc.message {
				t.Errorf("message = %q, want %q", verr.Message, tc.message)
			}
		})
	}
}

func TestUpdateStagedDropsBookkeepingKeys(t *testing.T) {
	repo := newMockRepo()
	trail := &mockAudit{}
	svc := newTestService(repo, trail)
	staged := stageRow(t, repo)
	actor := uuid.New()

	fields := baseFields(staged)
	fields["name"] = "Jonathan Smith"
	fields["temp_discharge_id"] = uuid.New().String()
	fields["raw_data_id"] = uuid.New().String()
	fields["updated_by"] = "attacker"

	if err := svc.UpdateStaged(context.Background(), actor, staged.TempDischargeID, fields, nil); err != nil {
		t.Fatalf("UpdateStaged: %v", err)
	}

	after, err := repo.GetStaged(context.Background(), staged.TempDischargeID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Name != "Jonathan Smith" {
		t.Errorf("name = %q, want %q", after.Name, "Jonathan Smith")
	}
	if after.RawDataID != staged.RawDataID {
		t.Error("raw_data_id must not be writable")
	}
	if len(trail.stagedEntries) != 1 || trail.stagedEntries[0].action != audit.ActionUpdate {
		t.Errorf("expected one staged UPDATE audit entry, got %+v", trail.stagedEntries)
	}
}

func TestUpdateStagedEnrichmentUpsert(t *testing.T) {
	repo := newMockRepo()
	trail := &mockAudit{}
	svc := newTestService(repo, trail)
	staged := stageRow(t, repo)
	actor := uuid.New()

	inputs := []EnrichmentInput{
		{EnrichmentTypeID: EnrichmentPhoneType, EnrichmentValue: "Mobile"},
		{EnrichmentTypeID: EnrichmentInsuranceVerified, EnrichmentValue: "true"},
		{EnrichmentTypeID: EnrichmentPhoneValidationStatus, EnrichmentValue: ""},
		{EnrichmentTypeID: EnrichmentProviderVerified, EnrichmentValue: "--select--"},
	}
	if err := svc.UpdateStaged(context.Background(), actor, staged.TempDischargeID, baseFields(staged), inputs); err != nil {
		t.Fatalf("UpdateStaged: %v", err)
	}

	rows, err := repo.ListEnrichmentsByStaged(context.Background(), staged.TempDischargeID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 enrichments (blank and --select-- skipped), got %d", len(rows))
	}
	if len(trail.enrichmentEntries) != 2 {
		t.Errorf("expected 2 enrichment INSERT audit entries, got %d", len(trail.enrichmentEntries))
	}

	// Updating the same kind overwrites the existing row.
	inputs = []EnrichmentInput{{EnrichmentTypeID: EnrichmentPhoneType, EnrichmentValue: "Landline"}}
	if err := svc.UpdateStaged(context.Background(), actor, staged.TempDischargeID, baseFields(staged), inputs); err != nil {
		t.Fatalf("UpdateStaged: %v", err)
	}
	updated, err := repo.GetEnrichment(context.Background(), staged.TempDischargeID, EnrichmentPhoneType)
	if err != nil {
		t.Fatal(err)
	}
	if updated.EnrichmentValue != "Landline" {
		t.Errorf("enrichment value = %q, want %q", updated.EnrichmentValue, "Landline")
	}
	rows, _ = repo.ListEnrichmentsByStaged(context.Background(), staged.TempDischargeID)
	if len(rows) != 2 {
		t.Errorf("update must not create a second row of the same kind, got %d rows", len(rows))
	}
}

func TestUpdateStagedEnrichmentValidation(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockAudit{})
	staged := stageRow(t, repo)
	actor := uuid.New()

	badBool := []EnrichmentInput{{EnrichmentTypeID: EnrichmentInsuranceVerified, EnrichmentValue: "yes"}}
	err := svc.UpdateStaged(context.Background(), actor, staged.TempDischargeID, baseFields(staged), badBool)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for non-boolean value, got %v", err)
	}

	tooLong := []EnrichmentInput{{
		EnrichmentTypeID: EnrichmentPhoneType,
		EnrichmentValue:  strings.Repeat("x", MaxEnrichmentValueLen+1),
	}}
	err = svc.UpdateStaged(context.Background(), actor, staged.TempDischargeID, baseFields(staged), tooLong)
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for oversized value, got %v", err)
	}
}

func TestRejectLifecycle(t *testing.T) {
	repo := newMockRepo()
	trail := &mockAudit{}
	svc := newTestService(repo, trail)
	staged := stageRow(t, repo)
	actor := uuid.New()

	if err := svc.Reject(context.Background(), actor, staged.TempDischargeID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	after, _ := repo.GetStaged(context.Background(), staged.TempDischargeID)
	if after.Status != StatusRejected {
		t.Fatalf("status = %q, want %q", after.Status, StatusRejected)
	}
	if len(trail.stagedEntries) != 1 {
		t.Errorf("expected one audit entry, got %d", len(trail.stagedEntries))
	}

	// Rejecting again restamps the reviewer and writes another audit entry.
	secondActor := uuid.New()
	if err := svc.Reject(context.Background(), secondActor, staged.TempDischargeID); err != nil {
		t.Fatalf("second Reject: %v", err)
	}
	restamped, _ := repo.GetStaged(context.Background(), staged.TempDischargeID)
	if restamped.Status != StatusRejected {
		t.Errorf("status = %q, want %q", restamped.Status, StatusRejected)
	}
	if restamped.ApprovedBy == nil || *restamped.ApprovedBy != secondActor {
		t.Error("re-reject must restamp the reviewer")
	}
	if len(trail.stagedEntries) != 2 {
		t.Errorf("expected 2 audit entries after re-reject, got %d", len(trail.stagedEntries))
	}

	approved := stageRow(t, repo)
	repo.staged[approved.TempDischargeID].Status = StatusApproved
	if err := svc.Reject(context.Background(), actor, approved.TempDischargeID); !errors.Is(err, ErrAlreadyFinal) {
		t.Fatalf("expected ErrAlreadyFinal for approved row, got %v", err)
	}

	if err := svc.Reject(context.Background(), actor, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetStagedDetailNotFound(t *testing.T) {
	svc := newTestService(newMockRepo(), &mockAudit{})

	_, _, err := svc.GetStagedDetail(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
