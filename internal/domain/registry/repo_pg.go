package registry

import (
	"context"

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

func (r *repoPG) GetPatientByName(ctx context.Context, fullName string) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT patient_id, full_name, date_of_birth, created_at, updated_at
		FROM patient WHERE full_name = $1`, fullName,
	).Scan(&p.PatientID, &p.FullName, &p.DateOfBirth, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) CreatePatient(ctx context.Context, p *Patient) error {
	p.PatientID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO patient (patient_id, full_name, date_of_birth) VALUES ($1,$2,$3)`,
		p.PatientID, p.FullName, p.DateOfBirth,
	)
	return err
}

func (r *repoPG) GetEpicByIdentifier(ctx context.Context, identifier string) (*Epic, error) {
	var e Epic
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT epic_id, epic_identifier, patient_id, created_at, updated_at
		FROM epic WHERE epic_identifier = $1`, identifier,
	).Scan(&e.EpicID, &e.EpicIdentifier, &e.PatientID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repoPG) CreateEpic(ctx context.Context, e *Epic) error {
	e.EpicID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO epic (epic_id, epic_identifier, patient_id) VALUES ($1,$2,$3)`,
		e.EpicID, e.EpicIdentifier, e.PatientID,
	)
	return err
}

func (r *repoPG) CreateDischarge(ctx context.Context, d *Discharge) error {
	d.DischargeID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO discharge (discharge_id, epic_id, discharge_date, disposition) VALUES ($1,$2,$3,$4)`,
		d.DischargeID, d.EpicID, d.DischargeDate, d.Disposition,
	)
	return err
}

func (r *repoPG) GetProviderByName(ctx context.Context, name string) (*Provider, error) {
	var p Provider
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT provider_id, name, created_at, updated_at
		FROM provider WHERE name = $1`, name,
	).Scan(&p.ProviderID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) CreateProvider(ctx context.Context, p *Provider) error {
	p.ProviderID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO provider (provider_id, name) VALUES ($1,$2)`,
		p.ProviderID, p.Name,
	)
	return err
}

func (r *repoPG) GetProviderRole(ctx context.Context, providerID, providerTypeID uuid.UUID) (*ProviderRole, error) {
	var role ProviderRole
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT provider_provider_type_id, provider_id, provider_type_id, created_at, updated_at
		FROM provider_provider_type WHERE provider_id = $1 AND provider_type_id = $2`,
		providerID, providerTypeID,
	).Scan(&role.ProviderProviderTypeID, &role.ProviderID, &role.ProviderTypeID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *repoPG) CreateProviderRole(ctx context.Context, role *ProviderRole) error {
	role.ProviderProviderTypeID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO provider_provider_type (provider_provider_type_id, provider_id, provider_type_id) VALUES ($1,$2,$3)`,
		role.ProviderProviderTypeID, role.ProviderID, role.ProviderTypeID,
	)
	return err
}

func (r *repoPG) DischargeProviderExists(ctx context.Context, dischargeID, providerRoleID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM discharge_provider
			WHERE discharge_id = $1 AND provider_provider_type_id = $2
		)`, dischargeID, providerRoleID,
	).Scan(&exists)
	return exists, err
}

func (r *repoPG) CreateDischargeProvider(ctx context.Context, dischargeID, providerRoleID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO discharge_provider (discharge_provider_id, discharge_id, provider_provider_type_id) VALUES ($1,$2,$3)`,
		uuid.New(), dischargeID, providerRoleID,
	)
	return err
}

func (r *repoPG) PatientPhoneExists(ctx context.Context, p *PatientPhone) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM patient_phone
			WHERE patient_id = $1 AND phone_number = $2
			  AND phone_validation_status IS NOT DISTINCT FROM $3
			  AND phone_type IS NOT DISTINCT FROM $4
		)`, p.PatientID, p.PhoneNumber, p.PhoneValidationStatus, p.PhoneType,
	).Scan(&exists)
	return exists, err
}

func (r *repoPG) CreatePatientPhone(ctx context.Context, p *PatientPhone) error {
	p.PhoneID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_phone (phone_id, patient_id, phone_number, phone_validation_status, phone_type)
		VALUES ($1,$2,$3,$4,$5)`,
		p.PhoneID, p.PatientID, p.PhoneNumber, p.PhoneValidationStatus, p.PhoneType,
	)
	return err
}

func (r *repoPG) GetInsuranceByName(ctx context.Context, name string) (*Insurance, error) {
	var i Insurance
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT insurance_id, insurance_name, created_at, updated_at
		FROM insurance WHERE insurance_name = $1`, name,
	).Scan(&i.InsuranceID, &i.InsuranceName, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *repoPG) CreateInsurance(ctx context.Context, i *Insurance) error {
	i.InsuranceID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO insurance (insurance_id, insurance_name) VALUES ($1,$2)`,
		i.InsuranceID, i.InsuranceName,
	)
	return err
}

func (r *repoPG) CreateEpicInsurance(ctx context.Context, epicID, insuranceID uuid.UUID, verified *bool) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO epic_insurance (epic_insurance_id, epic_id, insurance_id, insurance_verified)
		VALUES ($1,$2,$3,$4)`,
		uuid.New(), epicID, insuranceID, verified,
	)
	return err
}

func (r *repoPG) GetHospitalByName(ctx context.Context, name string) (*Hospital, error) {
	var h Hospital
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT hospital_id, hospital_name, created_at, updated_at
		FROM hospital WHERE hospital_name = $1`, name,
	).Scan(&h.HospitalID, &h.HospitalName, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *repoPG) CreateHospital(ctx context.Context, h *Hospital) error {
	h.HospitalID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO hospital (hospital_id, hospital_name) VALUES ($1,$2)`,
		h.HospitalID, h.HospitalName,
	)
	return err
}

func (r *repoPG) EpicHospitalExists(ctx context.Context, epicID, hospitalID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM epic_hospital WHERE epic_id = $1 AND hospital_id = $2
		)`, epicID, hospitalID,
	).Scan(&exists)
	return exists, err
}

func (r *repoPG) CreateEpicHospital(ctx context.Context, epicID, hospitalID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO epic_hospital (epic_hospital_id, epic_id, hospital_id) VALUES ($1,$2,$3)`,
		uuid.New(), epicID, hospitalID,
	)
	return err
}

func (r *repoPG) ListDischargesByEpicIdentifier(ctx context.Context, identifier string) ([]*Discharge, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT d.discharge_id, d.epic_id, d.discharge_date, d.disposition, d.created_at, d.updated_at
		FROM discharge d
		JOIN epic e ON e.epic_id = d.epic_id
		WHERE e.epic_identifier = $1
		ORDER BY d.discharge_date DESC, d.created_at DESC`, identifier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var discharges []*Discharge
	for rows.Next() {
		var d Discharge
		if err := rows.Scan(&d.DischargeID, &d.EpicID, &d.DischargeDate, &d.Disposition, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		discharges = append(discharges, &d)
	}
	return discharges, rows.Err()
}
