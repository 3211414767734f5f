package registry

import (
	"time"

	"github.com/google/uuid"
)

// Provider roles, matching the seeded provider_type rows.
var (
	ProviderTypeAttending   = uuid.MustParse("47b4d1f9-60fc-4ec4-aab4-7c94b9cd5290")
	ProviderTypePrimaryCare = uuid.MustParse("7a21f43a-df8e-4f7e-9c4a-c3f8f9e28fe2")
)

// Patient is identified by exact full name. Distinct spellings of one
// person become distinct patients; reconciliation is a review concern.
type Patient struct {
	PatientID   uuid.UUID  `json:"patient_id"`
	FullName    string     `json:"full_name"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Epic is a unique external chart identifier. The patient link is set when
// the identifier is first seen and never reassigned.
type Epic struct {
	EpicID         uuid.UUID `json:"epic_id"`
	EpicIdentifier string    `json:"epic_identifier"`
	PatientID      uuid.UUID `json:"patient_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Discharge is one approved discharge event. Every approval inserts a new
// row; repeat identifiers accumulate history.
type Discharge struct {
	DischargeID   uuid.UUID `json:"discharge_id"`
	EpicID        uuid.UUID `json:"epic_id"`
	DischargeDate time.Time `json:"discharge_date"`
	Disposition   string    `json:"disposition"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Provider struct {
	ProviderID uuid.UUID `json:"provider_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProviderRole links a provider to one of its practice roles.
type ProviderRole struct {
	ProviderProviderTypeID uuid.UUID `json:"provider_provider_type_id"`
	ProviderID             uuid.UUID `json:"provider_id"`
	ProviderTypeID         uuid.UUID `json:"provider_type_id"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

type PatientPhone struct {
	PhoneID               uuid.UUID `json:"phone_id"`
	PatientID             uuid.UUID `json:"patient_id"`
	PhoneNumber           string    `json:"phone_number"`
	PhoneValidationStatus *string   `json:"phone_validation_status,omitempty"`
	PhoneType             *string   `json:"phone_type,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

type Insurance struct {
	InsuranceID   uuid.UUID `json:"insurance_id"`
	InsuranceName string    `json:"insurance_name"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Hospital struct {
	HospitalID   uuid.UUID `json:"hospital_id"`
	HospitalName string    `json:"hospital_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
