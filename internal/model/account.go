package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type AccountKind string

const (
	KindAdmin      AccountKind = "admin"
	KindDoctor     AccountKind = "doctor"
	KindPharmacy   AccountKind = "pharmacy"
	KindLaboratory AccountKind = "laboratory"
)

// IsAccessCodeKind reports whether accounts of this kind carry an access code.
func (k AccountKind) IsAccessCodeKind() bool {
	return k == KindPharmacy || k == KindLaboratory
}

// Account is the single record shape for all four account kinds. Doctor rows
// populate the profile, subscription and associate-link fields; pharmacy and
// laboratory rows populate DoctorID and AccessCode.
type Account struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	Kind      AccountKind `json:"kind" db:"kind"`
	Name      string      `json:"name" db:"name"`
	Email     string      `json:"email" db:"email"`
	Active    bool        `json:"active" db:"active"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`

	// Login credential for admin/doctor kinds; never serialized.
	PasswordHash string `json:"-" db:"password_hash"`

	// Doctor profile
	Specialty string `json:"specialty,omitempty" db:"specialty"`
	Phone     string `json:"phone,omitempty" db:"phone"`
	Address   string `json:"address,omitempty" db:"address"`

	// Doctor subscription window
	SubscriptionStart *time.Time `json:"subscription_start,omitempty" db:"subscription_start"`
	SubscriptionEnd   *time.Time `json:"subscription_end,omitempty" db:"subscription_end"`

	// Doctor-side associate links
	HasLabAccount         bool       `json:"has_lab_account" db:"has_lab_account"`
	PharmacyAccountID     *uuid.UUID `json:"pharmacy_account_id,omitempty" db:"pharmacy_account_id"`
	LabAccountID          *uuid.UUID `json:"lab_account_id,omitempty" db:"lab_account_id"`
	PharmacyAccountActive bool       `json:"pharmacy_account_active" db:"pharmacy_account_active"`
	LabAccountActive      bool       `json:"lab_account_active" db:"lab_account_active"`

	// Pharmacy/laboratory fields
	DoctorID   *uuid.UUID `json:"doctor_id,omitempty" db:"doctor_id"`
	AccessCode string     `json:"access_code,omitempty" db:"access_code"`
}

type SubscriptionStatus string

const (
	SubscriptionActive       SubscriptionStatus = "Active"
	SubscriptionExpiringSoon SubscriptionStatus = "ExpiringSoon"
	SubscriptionExpired      SubscriptionStatus = "Expired"
)

// DaysLeft returns the number of whole days until the subscription end,
// flooring so an end in the past is always negative. A doctor with no end
// date has nothing left.
func (a *Account) DaysLeft(now time.Time) int {
	if a.SubscriptionEnd == nil {
		return -1
	}
	return int(math.Floor(a.SubscriptionEnd.Sub(now).Hours() / 24))
}

// SubscriptionStatusAt derives the subscription status from the days left:
// negative means Expired, under 30 means ExpiringSoon.
func (a *Account) SubscriptionStatusAt(now time.Time) SubscriptionStatus {
	return StatusForDaysLeft(a.DaysLeft(now))
}

func StatusForDaysLeft(daysLeft int) SubscriptionStatus {
	switch {
	case daysLeft < 0:
		return SubscriptionExpired
	case daysLeft < 30:
		return SubscriptionExpiringSoon
	default:
		return SubscriptionActive
	}
}

// CreateDoctorRequest carries the profile for a new doctor account family.
type CreateDoctorRequest struct {
	FirstName       string `json:"first_name" validate:"required"`
	LastName        string `json:"last_name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Specialty       string `json:"specialty"`
	Phone           string `json:"phone"`
	Address         string `json:"address"`
	WantsLabAccount bool   `json:"wants_lab_account"`
}

// DisplayName is the rendered account name, "First Last".
func (r *CreateDoctorRequest) DisplayName() string {
	return r.FirstName + " " + r.LastName
}

// CreateAdminRequest carries the profile for a new administrator account.
type CreateAdminRequest struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
}

func (r *CreateAdminRequest) DisplayName() string {
	return r.FirstName + " " + r.LastName
}

// DoctorCredentials is returned once at creation time; the plaintext password
// is never stored.
type DoctorCredentials struct {
	DoctorID     uuid.UUID  `json:"doctor_id"`
	Email        string     `json:"email"`
	Password     string     `json:"password"`
	PharmacyID   uuid.UUID  `json:"pharmacy_id"`
	PharmacyCode string     `json:"pharmacy_code"`
	LabID        *uuid.UUID `json:"lab_id,omitempty"`
	LabCode      string     `json:"lab_code,omitempty"`
}

// AdminCredentials is returned once at admin creation time.
type AdminCredentials struct {
	AdminID  uuid.UUID `json:"admin_id"`
	Email    string    `json:"email"`
	Password string    `json:"password"`
}

// LabAccountResult is the outcome of adding (or finding) a doctor's lab
// account.
type LabAccountResult struct {
	LabID   uuid.UUID `json:"lab_id"`
	LabCode string    `json:"lab_code"`
	Created bool      `json:"created"`
}

// DoctorUpdate is the whitelist of mutable doctor fields. Nil pointers are
// left untouched; there is no way to smuggle other fields through.
type DoctorUpdate struct {
	Name      *string `json:"name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Specialty *string `json:"specialty,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Address   *string `json:"address,omitempty"`
}

// AccountUpdate is the whitelist of mutable fields for admin, pharmacy and
// laboratory accounts.
type AccountUpdate struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

// AssociateKind names a doctor's dependent account in cascade operations.
type AssociateKind string

const (
	AssociatePharmacy AssociateKind = "pharmacy"
	AssociateLab      AssociateKind = "lab"
)

// CascadeOutcome distinguishes how a best-effort associate update ended, so
// the caller decides whether a missing associate is a warning or an error.
type CascadeOutcome string

const (
	CascadeUpdated          CascadeOutcome = "updated"
	CascadeAssociateMissing CascadeOutcome = "associate_missing"
	CascadeSkipped          CascadeOutcome = "skipped"
)

// CascadeReport summarizes a deactivate-all sequence.
type CascadeReport struct {
	Doctor   CascadeOutcome `json:"doctor"`
	Pharmacy CascadeOutcome `json:"pharmacy"`
	Lab      CascadeOutcome `json:"lab"`
}

// SystemStats is the dashboard snapshot.
type SystemStats struct {
	Doctors struct {
		Active   int `json:"active"`
		Inactive int `json:"inactive"`
		Total    int `json:"total"`
	} `json:"doctors"`
	Admins       int `json:"admins"`
	Pharmacies   int `json:"pharmacies"`
	Laboratories int `json:"laboratories"`
	Subscriptions struct {
		Active       int `json:"active"`
		ExpiringSoon int `json:"expiring_soon"`
		Expired      int `json:"expired"`
	} `json:"subscriptions"`
	GeneratedAt time.Time `json:"generated_at"`
}
