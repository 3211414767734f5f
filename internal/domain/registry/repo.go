package registry

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetPatientByName(ctx context.Context, fullName string) (*Patient, error)
	CreatePatient(ctx context.Context, p *Patient) error

	GetEpicByIdentifier(ctx context.Context, identifier string) (*Epic, error)
	CreateEpic(ctx context.Context, e *Epic) error

	CreateDischarge(ctx context.Context, d *Discharge) error

	GetProviderByName(ctx context.Context, name string) (*Provider, error)
	CreateProvider(ctx context.Context, p *Provider) error
	GetProviderRole(ctx context.Context, providerID, providerTypeID uuid.UUID) (*ProviderRole, error)
	CreateProviderRole(ctx context.Context, r *ProviderRole) error
	DischargeProviderExists(ctx context.Context, dischargeID, providerRoleID uuid.UUID) (bool, error)
	CreateDischargeProvider(ctx context.Context, dischargeID, providerRoleID uuid.UUID) error

	PatientPhoneExists(ctx context.Context, p *PatientPhone) (bool, error)
	CreatePatientPhone(ctx context.Context, p *PatientPhone) error

	GetInsuranceByName(ctx context.Context, name string) (*Insurance, error)
	CreateInsurance(ctx context.Context, i *Insurance) error
	CreateEpicInsurance(ctx context.Context, epicID, insuranceID uuid.UUID, verified *bool) error

	GetHospitalByName(ctx context.Context, name string) (*Hospital, error)
	CreateHospital(ctx context.Context, h *Hospital) error
	EpicHospitalExists(ctx context.Context, epicID, hospitalID uuid.UUID) (bool, error)
	CreateEpicHospital(ctx context.Context, epicID, hospitalID uuid.UUID) error

	ListDischargesByEpicIdentifier(ctx context.Context, identifier string) ([]*Discharge, error)
}
