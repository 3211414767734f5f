package staging

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dischargehq/discharge/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) CreateRawUpload(ctx context.Context, u *RawUpload) error {
	u.RawDataID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO raw_data_ingested (raw_data_id, source_file_name, raw_content, import_type_id, created_by, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		u.RawDataID, u.SourceFileName, u.RawContent, u.ImportTypeID, u.CreatedBy, u.UpdatedBy,
	)
	return err
}

func (r *repoPG) GetRawUpload(ctx context.Context, id uuid.UUID) (*RawUpload, error) {
	var u RawUpload
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT raw_data_id, source_file_name, raw_content, import_type_id, created_by, updated_by, created_at, updated_at
		FROM raw_data_ingested WHERE raw_data_id = $1`, id,
	).Scan(&u.RawDataID, &u.SourceFileName, &u.RawContent, &u.ImportTypeID, &u.CreatedBy, &u.UpdatedBy, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repoPG) GetReviewHeader(ctx context.Context, id uuid.UUID) (*ReviewHeader, error) {
	var h ReviewHeader
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT r.source_file_name, COALESCE(u.name, ''), r.created_at, COALESCE(it.type_name, ''), r.raw_content
		FROM raw_data_ingested r
		LEFT JOIN app_user u ON r.updated_by = u.app_user_id
		LEFT JOIN import_type it ON r.import_type_id = it.import_type_id
		WHERE r.raw_data_id = $1`, id,
	).Scan(&h.FileName, &h.UploadedBy, &h.IngestTimestamp, &h.ImportType, &h.RawContent)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// uploadStatusExpr derives the review status of an upload from its staged
// rows. Approved rows count as reviewed; Pending or Rejected rows do not.
const uploadStatusExpr = `CASE
	WHEN NOT EXISTS (
		SELECT 1 FROM temporary_discharge td WHERE td.raw_data_id = r.raw_data_id
	) THEN '` + UploadStatusEmpty + `'
	WHEN NOT EXISTS (
		SELECT 1 FROM temporary_discharge td
		WHERE td.raw_data_id = r.raw_data_id AND (td.status IS NULL OR td.status <> '` + StatusApproved + `')
	) THEN '` + UploadStatusReviewed + `'
	ELSE '` + UploadStatusPending + `'
END`

func (r *repoPG) ListRawUploads(ctx context.Context, from, to *time.Time, limit, offset int) ([]*RawUploadSummary, int, error) {
	where := ""
	args := []interface{}{}
	if from != nil {
		args = append(args, *from)
		where += fmt.Sprintf(" AND r.created_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		where += fmt.Sprintf(" AND r.created_at < $%d", len(args))
	}

	var total int
	countSQL := `SELECT COUNT(*) FROM raw_data_ingested r
		JOIN import_type it ON r.import_type_id = it.import_type_id WHERE 1=1` + where
	if err := r.conn(ctx).QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := `SELECT r.raw_data_id, r.source_file_name, r.created_at, it.type_name, ` + uploadStatusExpr + `
		FROM raw_data_ingested r
		JOIN import_type it ON r.import_type_id = it.import_type_id
		WHERE 1=1` + where + fmt.Sprintf(`
		ORDER BY r.created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var summaries []*RawUploadSummary
	for rows.Next() {
		var s RawUploadSummary
		if err := rows.Scan(&s.RawDataID, &s.SourceFileName, &s.CreatedAt, &s.ImportType, &s.Status); err != nil {
			return nil, 0, err
		}
		summaries = append(summaries, &s)
	}
	return summaries, total, rows.Err()
}

const stagedCols = `temp_discharge_id, name, epic_id, phone_number, attending_physician, date,
	primary_care_provider, insurance, disposition, COALESCE(hospital_name, ''), raw_data_id, status,
	approved_at, approved_by, created_by, updated_by, created_at, updated_at`

func (r *repoPG) CreateStaged(ctx context.Context, d *StagedDischarge) error {
	d.TempDischargeID = uuid.New()
	if d.Status == "" {
		d.Status = StatusPending
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO temporary_discharge (
			temp_discharge_id, name, epic_id, phone_number, attending_physician, date,
			primary_care_provider, insurance, disposition, hospital_name, raw_data_id, status,
			created_by, updated_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		d.TempDischargeID, d.Name, d.EpicID, d.PhoneNumber, d.AttendingPhysician, d.Date,
		d.PrimaryCareProvider, d.Insurance, d.Disposition, d.HospitalName, d.RawDataID, d.Status,
		d.CreatedBy, d.UpdatedBy,
	)
	return err
}

func (r *repoPG) GetStaged(ctx context.Context, id uuid.UUID) (*StagedDischarge, error) {
	return scanStaged(r.conn(ctx).QueryRow(ctx,
		`SELECT `+stagedCols+` FROM temporary_discharge WHERE temp_discharge_id = $1`, id))
}

func (r *repoPG) ListStagedByRawUpload(ctx context.Context, rawDataID uuid.UUID) ([]*StagedDischarge, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+stagedCols+` FROM temporary_discharge WHERE raw_data_id = $1 ORDER BY created_at, temp_discharge_id`, rawDataID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var staged []*StagedDischarge
	for rows.Next() {
		d, err := scanStagedRow(rows)
		if err != nil {
			return nil, err
		}
		staged = append(staged, d)
	}
	return staged, rows.Err()
}

// stagedColumns is the whitelist of caller-editable temporary_discharge
// columns. Identity, ownership, and bookkeeping columns stay out.
var stagedColumns = map[string]bool{
	"name":                  true,
	"epic_id":               true,
	"phone_number":          true,
	"attending_physician":   true,
	"date":                  true,
	"primary_care_provider": true,
	"insurance":             true,
	"disposition":           true,
	"hospital_name":         true,
	"status":                true,
}

// EditableColumn reports whether a temporary_discharge column may be set
// through UpdateStagedFields.
func EditableColumn(name string) bool {
	return stagedColumns[name]
}

func (r *repoPG) UpdateStagedFields(ctx context.Context, id uuid.UUID, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !stagedColumns[col] {
			return fmt.Errorf("column %q is not editable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := []interface{}{id}
	for _, col := range cols {
		args = append(args, fields[col])
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	sets = append(sets, "updated_at = NOW()")

	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE temporary_discharge SET `+strings.Join(sets, ", ")+` WHERE temp_discharge_id = $1`,
		args...,
	)
	return err
}

func (r *repoPG) SetStagedStatus(ctx context.Context, id uuid.UUID, status string, actor uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE temporary_discharge
		SET status = $2, approved_at = NOW(), approved_by = $3, updated_by = $3, updated_at = NOW()
		WHERE temp_discharge_id = $1`,
		id, status, actor,
	)
	return err
}

const enrichmentCols = `e.enrichment_data_id, e.temp_discharge_id, e.enrichment_type_id, COALESCE(e.enrichment_value, ''),
	e.approved_at, e.approved_by, e.created_by, e.updated_by, e.created_at, e.updated_at, COALESCE(et.type_name, '')`

const enrichmentJoin = ` FROM temporary_enrichment_data e
	LEFT JOIN enrichment_type et ON et.enrichment_type_id = e.enrichment_type_id`

func (r *repoPG) GetEnrichment(ctx context.Context, tempDischargeID, enrichmentTypeID uuid.UUID) (*Enrichment, error) {
	return scanEnrichment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+enrichmentCols+enrichmentJoin+` WHERE e.temp_discharge_id = $1 AND e.enrichment_type_id = $2`,
		tempDischargeID, enrichmentTypeID))
}

func (r *repoPG) CreateEnrichment(ctx context.Context, e *Enrichment) error {
	e.EnrichmentDataID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO temporary_enrichment_data (
			enrichment_data_id, temp_discharge_id, enrichment_type_id, enrichment_value, created_by, updated_by
		) VALUES ($1,$2,$3,$4,$5,$6)`,
		e.EnrichmentDataID, e.TempDischargeID, e.EnrichmentTypeID, e.EnrichmentValue, e.CreatedBy, e.UpdatedBy,
	)
	return err
}

func (r *repoPG) UpdateEnrichmentValue(ctx context.Context, id uuid.UUID, value string, actor uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE temporary_enrichment_data
		SET enrichment_value = $2, updated_by = $3, updated_at = NOW()
		WHERE enrichment_data_id = $1`,
		id, value, actor,
	)
	return err
}

func (r *repoPG) ListEnrichmentsByStaged(ctx context.Context, tempDischargeID uuid.UUID) ([]*Enrichment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+enrichmentCols+enrichmentJoin+` WHERE e.temp_discharge_id = $1 ORDER BY e.created_at`, tempDischargeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEnrichments(rows)
}

func (r *repoPG) ListEnrichmentsByRawUpload(ctx context.Context, rawDataID uuid.UUID) ([]*Enrichment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+enrichmentCols+enrichmentJoin+`
		WHERE e.temp_discharge_id IN (
			SELECT temp_discharge_id FROM temporary_discharge WHERE raw_data_id = $1
		) ORDER BY e.created_at`, rawDataID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEnrichments(rows)
}

func (r *repoPG) ListImportTypes(ctx context.Context) ([]*ImportType, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT import_type_id, COALESCE(type_name, ''), COALESCE(description, '') FROM import_type ORDER BY type_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []*ImportType
	for rows.Next() {
		var t ImportType
		if err := rows.Scan(&t.ImportTypeID, &t.TypeName, &t.Description); err != nil {
			return nil, err
		}
		types = append(types, &t)
	}
	return types, rows.Err()
}

func (r *repoPG) ListEnrichmentTypes(ctx context.Context) ([]*EnrichmentType, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT enrichment_type_id, type_name, COALESCE(description, '') FROM enrichment_type ORDER BY type_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []*EnrichmentType
	for rows.Next() {
		var t EnrichmentType
		if err := rows.Scan(&t.EnrichmentTypeID, &t.TypeName, &t.Description); err != nil {
			return nil, err
		}
		types = append(types, &t)
	}
	return types, rows.Err()
}

func scanStaged(row pgx.Row) (*StagedDischarge, error) {
	var d StagedDischarge
	err := row.Scan(
		&d.TempDischargeID, &d.Name, &d.EpicID, &d.PhoneNumber, &d.AttendingPhysician, &d.Date,
		&d.PrimaryCareProvider, &d.Insurance, &d.Disposition, &d.HospitalName, &d.RawDataID, &d.Status,
		&d.ApprovedAt, &d.ApprovedBy, &d.CreatedBy, &d.UpdatedBy, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanStagedRow(rows pgx.Rows) (*StagedDischarge, error) {
	var d StagedDischarge
	err := rows.Scan(
		&d.TempDischargeID, &d.Name, &d.EpicID, &d.PhoneNumber, &d.AttendingPhysician, &d.Date,
		&d.PrimaryCareProvider, &d.Insurance, &d.Disposition, &d.HospitalName, &d.RawDataID, &d.Status,
		&d.ApprovedAt, &d.ApprovedBy, &d.CreatedBy, &d.UpdatedBy, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanEnrichment(row pgx.Row) (*Enrichment, error) {
	var e Enrichment
	err := row.Scan(
		&e.EnrichmentDataID, &e.TempDischargeID, &e.EnrichmentTypeID, &e.EnrichmentValue,
		&e.ApprovedAt, &e.ApprovedBy, &e.CreatedBy, &e.UpdatedBy, &e.CreatedAt, &e.UpdatedAt, &e.TypeName,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEnrichments(rows pgx.Rows) ([]*Enrichment, error) {
	var enrichments []*Enrichment
	for rows.Next() {
		var e Enrichment
		err := rows.Scan(
			&e.EnrichmentDataID, &e.TempDischargeID, &e.EnrichmentTypeID, &e.EnrichmentValue,
			&e.ApprovedAt, &e.ApprovedBy, &e.CreatedBy, &e.UpdatedBy, &e.CreatedAt, &e.UpdatedAt, &e.TypeName,
		)
		if err != nil {
			return nil, err
		}
		enrichments = append(enrichments, &e)
	}
	return enrichments, rows.Err()
}
