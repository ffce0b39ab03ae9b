package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/medpraxis/admin-api/internal/model"
	"github.com/medpraxis/admin-api/internal/repository"
	apperrors "github.com/medpraxis/admin-api/pkg/errors"
	"github.com/medpraxis/admin-api/pkg/logger"
	"github.com/medpraxis/admin-api/pkg/metrics"
	"github.com/medpraxis/admin-api/pkg/security"
)

const (
	defaultSubscriptionDays = 365
	maxCodeAttempts         = 25

	statsCacheKey = "system_stats"
	statsCacheTTL = 30 * time.Second
)

// Servicer is the account directory: create/read/update/delete for the four
// account kinds and their relationships.
type Servicer interface {
	CreateDoctor(ctx context.Context, req *model.CreateDoctorRequest) (*model.DoctorCredentials, error)
	CreateAdmin(ctx context.Context, req *model.CreateAdminRequest) (*model.AdminCredentials, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error)
	ListAccounts(ctx context.Context, kind model.AccountKind) ([]*model.Account, error)
	UpdateDoctor(ctx context.Context, id uuid.UUID, update *model.DoctorUpdate) (*model.Account, error)
	UpdateAccount(ctx context.Context, id uuid.UUID, update *model.AccountUpdate) (*model.Account, error)
	DeleteAccount(ctx context.Context, id uuid.UUID) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*model.Account, error)
	SetAssociatedAccountActive(ctx context.Context, doctorID uuid.UUID, kind model.AssociateKind, active bool) (model.CascadeOutcome, error)
	AddLabAccount(ctx context.Context, doctorID uuid.UUID) (*model.LabAccountResult, error)
	RegenerateAccessCode(ctx context.Context, accountID uuid.UUID) (string, error)
	ExtendSubscription(ctx context.Context, doctorID uuid.UUID, days int) (*model.Account, error)
	DeactivateAllForDoctor(ctx context.Context, doctorID uuid.UUID) (*model.CascadeReport, error)
	ResetPassword(ctx context.Context, accountID uuid.UUID) (string, error)
	SystemStats(ctx context.Context) (*model.SystemStats, error)
}

type Service struct {
	repo    repository.AccountRepository
	outbox  repository.OutboxRepository
	vault   security.Vault
	logger  *logger.Logger
	metrics *metrics.Metrics
	cache   *gocache.Cache
	now     func() time.Time
}

// NewService builds the directory. Metrics may be nil when the caller does
// not export Prometheus metrics.
func NewService(repo repository.AccountRepository, outbox repository.OutboxRepository,
	vault security.Vault, logger *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		outbox:  outbox,
		vault:   vault,
		logger:  logger,
		metrics: m,
		cache:   gocache.New(statsCacheTTL, 2*statsCacheTTL),
		now:     time.Now,
	}
}

func (s *Service) observe(operation string, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.DirectoryOperations.WithLabelValues(operation, status).Inc()
}

func (s *Service) observeLatency(operation string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.DirectoryLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// CreateDoctor allocates the whole account family: the doctor, its pharmacy
// (always), its laboratory (on request), a generated login password and
// unique access codes. All records are written in one transaction.
func (s *Service) CreateDoctor(ctx context.Context, req *model.CreateDoctorRequest) (creds *model.DoctorCredentials, err error) {
	defer func() { s.observe("create_doctor", err) }()
	defer s.observeLatency("create_doctor", s.now())

	if err := validateDoctorRequest(req); err != nil {
		return nil, err
	}

	password, err := s.vault.GeneratePassword(security.DefaultPasswordLen)
	if err != nil {
		return nil, fmt.Errorf("failed to generate password: %w", err)
	}
	passwordHash, err := s.vault.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	subscriptionEnd := now.Add(defaultSubscriptionDays * 24 * time.Hour)
	displayName := req.DisplayName()

	doctorID := uuid.New()
	pharmacyID := uuid.New()

	pharmacyCode, err := s.uniqueAccessCode(ctx)
	if err != nil {
		return nil, err
	}

	doctor := &model.Account{
		ID:                    doctorID,
		Kind:                  model.KindDoctor,
		Name:                  displayName,
		Email:                 req.Email,
		PasswordHash:          passwordHash,
		Active:                true,
		CreatedAt:             now,
		UpdatedAt:             now,
		Specialty:             req.Specialty,
		Phone:                 req.Phone,
		Address:               req.Address,
		SubscriptionStart:     &now,
		SubscriptionEnd:       &subscriptionEnd,
		PharmacyAccountID:     &pharmacyID,
		PharmacyAccountActive: true,
	}

	pharmacy := &model.Account{
		ID:         pharmacyID,
		Kind:       model.KindPharmacy,
		Name:       fmt.Sprintf("%s's Pharmacy", displayName),
		Email:      fmt.Sprintf("pharmacy-%s@medpraxis.example", doctorID.String()[:8]),
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
		DoctorID:   &doctorID,
		AccessCode: pharmacyCode,
	}

	family := []*model.Account{doctor, pharmacy}
	creds = &model.DoctorCredentials{
		DoctorID:     doctorID,
		Email:        req.Email,
		Password:     password,
		PharmacyID:   pharmacyID,
		PharmacyCode: pharmacyCode,
	}

	if req.WantsLabAccount {
		labID := uuid.New()
		labCode, err := s.uniqueAccessCode(ctx)
		if err != nil {
			return nil, err
		}

		doctor.HasLabAccount = true
		doctor.LabAccountID = &labID
		doctor.LabAccountActive = true

		family = append(family, &model.Account{
			ID:         labID,
			Kind:       model.KindLaboratory,
			Name:       fmt.Sprintf("%s's Laboratory", displayName),
			Email:      fmt.Sprintf("lab-%s@medpraxis.example", doctorID.String()[:8]),
			Active:     true,
			CreatedAt:  now,
			UpdatedAt:  now,
			DoctorID:   &doctorID,
			AccessCode: labCode,
		})
		creds.LabID = &labID
		creds.LabCode = labCode
	}

	event := s.newEvent(model.EventDoctorCreated, map[string]interface{}{
		"doctor_id":       doctorID,
		"has_lab_account": req.WantsLabAccount,
	})

	if err := s.repo.CreateFamily(ctx, family, event); err != nil {
		return nil, fmt.Errorf("failed to create doctor account family: %w", err)
	}

	s.cache.Delete(statsCacheKey)
	s.logger.Info("doctor account family created", "doctor_id", doctorID.String())
	return creds, nil
}

// CreateAdmin allocates an administrator account with a generated password.
func (s *Service) CreateAdmin(ctx context.Context, req *model.CreateAdminRequest) (creds *model.AdminCredentials, err error) {
	defer func() { s.observe("create_admin", err) }()

	if err := validate.Struct(req); err != nil {
		return nil, apperrors.BadRequest(err.Error(), err)
	}

	password, err := s.vault.GeneratePassword(security.DefaultPasswordLen)
	if err != nil {
		return nil, fmt.Errorf("failed to generate password: %w", err)
	}
	passwordHash, err := s.vault.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	admin := &model.Account{
		ID:           uuid.New(),
		Kind:         model.KindAdmin,
		Name:         req.DisplayName(),
		Email:        req.Email,
		PasswordHash: passwordHash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, admin); err != nil {
		return nil, fmt.Errorf("failed to create admin account: %w", err)
	}

	s.cache.Delete(statsCacheKey)
	return &model.AdminCredentials{
		AdminID:  admin.ID,
		Email:    admin.Email,
		Password: password,
	}, nil
}

func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListAccounts(ctx context.Context, kind model.AccountKind) ([]*model.Account, error) {
	return s.repo.List(ctx, kind)
}

// UpdateDoctor merges the whitelisted doctor fields and refreshes updated_at.
func (s *Service) UpdateDoctor(ctx context.Context, id uuid.UUID, update *model.DoctorUpdate) (*model.Account, error) {
	account, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.Kind != model.KindDoctor {
		return nil, apperrors.InvalidKind("account is not a doctor account")
	}

	applyIfSet(&account.Name, update.Name)
	applyIfSet(&account.Email, update.Email)
	applyIfSet(&account.Specialty, update.Specialty)
	applyIfSet(&account.Phone, update.Phone)
	applyIfSet(&account.Address, update.Address)
	account.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update doctor: %w", err)
	}
	return account, nil
}

// UpdateAccount merges the whitelisted fields for admin, pharmacy and
// laboratory accounts.
func (s *Service) UpdateAccount(ctx context.Context, id uuid.UUID, update *model.AccountUpdate) (*model.Account, error) {
	account, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.Kind == model.KindDoctor {
		return nil, apperrors.InvalidKind("doctor accounts use the doctor update")
	}

	applyIfSet(&account.Name, update.Name)
	applyIfSet(&account.Email, update.Email)
	account.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return account, nil
}

func (s *Service) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Delete(statsCacheKey)
	return nil
}

// SetActive flips the account's active flag. Deactivating a doctor does not
// cascade to its pharmacy or laboratory.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) (*model.Account, error) {
	account, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	account.Active = active
	account.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	s.cache.Delete(statsCacheKey)
	return account, nil
}

// SetAssociatedAccountActive flips the doctor-side flag for the associate and
// then, best-effort, the associate record itself. A stale or missing
// associate id is reported as CascadeAssociateMissing, not an error.
func (s *Service) SetAssociatedAccountActive(ctx context.Context, doctorID uuid.UUID, kind model.AssociateKind, active bool) (model.CascadeOutcome, error) {
	doctor, err := s.repo.Get(ctx, doctorID)
	if err != nil {
		return "", err
	}
	if doctor.Kind != model.KindDoctor {
		return "", apperrors.InvalidKind("account is not a doctor account")
	}

	var associateID *uuid.UUID
	switch kind {
	case model.AssociatePharmacy:
		doctor.PharmacyAccountActive = active
		associateID = doctor.PharmacyAccountID
	case model.AssociateLab:
		doctor.LabAccountActive = active
		associateID = doctor.LabAccountID
	default:
		return "", apperrors.BadRequest("unknown associate kind", nil)
	}

	doctor.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, doctor); err != nil {
		return "", fmt.Errorf("failed to update doctor: %w", err)
	}

	return s.setAssociateActive(ctx, associateID, active), nil
}

func (s *Service) setAssociateActive(ctx context.Context, id *uuid.UUID, active bool) model.CascadeOutcome {
	if id == nil {
		return model.CascadeAssociateMissing
	}

	associate, err := s.repo.Get(ctx, *id)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrNotFound) {
			s.logger.Warn("associated account not found", "account_id", id.String())
			return model.CascadeAssociateMissing
		}
		s.logger.Error(err, "failed to load associated account", "account_id", id.String())
		return model.CascadeAssociateMissing
	}

	associate.Active = active
	associate.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, associate); err != nil {
		s.logger.Error(err, "failed to update associated account", "account_id", id.String())
		return model.CascadeAssociateMissing
	}
	return model.CascadeUpdated
}

// AddLabAccount creates a laboratory account for a doctor that has none.
// Calling it again returns the existing laboratory unchanged.
func (s *Service) AddLabAccount(ctx context.Context, doctorID uuid.UUID) (result *model.LabAccountResult, err error) {
	defer func() { s.observe("add_lab_account", err) }()

	doctor, err := s.repo.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if doctor.Kind != model.KindDoctor {
		return nil, apperrors.InvalidKind("account is not a doctor account")
	}

	if doctor.HasLabAccount && doctor.LabAccountID != nil {
		result = &model.LabAccountResult{LabID: *doctor.LabAccountID}
		if lab, err := s.repo.Get(ctx, *doctor.LabAccountID); err == nil {
			result.LabCode = lab.AccessCode
		}
		return result, nil
	}

	labID := uuid.New()
	labCode, err := s.uniqueAccessCode(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	lab := &model.Account{
		ID:         labID,
		Kind:       model.KindLaboratory,
		Name:       fmt.Sprintf("%s's Laboratory", doctor.Name),
		Email:      fmt.Sprintf("lab-%s@medpraxis.example", doctorID.String()[:8]),
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
		DoctorID:   &doctorID,
		AccessCode: labCode,
	}

	doctor.HasLabAccount = true
	doctor.LabAccountID = &labID
	doctor.LabAccountActive = true

	if err := s.repo.LinkLabAccount(ctx, lab, doctor); err != nil {
		return nil, fmt.Errorf("failed to add laboratory account: %w", err)
	}

	s.cache.Delete(statsCacheKey)
	return &model.LabAccountResult{LabID: labID, LabCode: labCode, Created: true}, nil
}

// RegenerateAccessCode rotates the access code of a pharmacy or laboratory
// account. Any other kind fails with InvalidKind and the record is left
// unmodified.
func (s *Service) RegenerateAccessCode(ctx context.Context, accountID uuid.UUID) (code string, err error) {
	defer func() { s.observe("regenerate_access_code", err) }()

	account, err := s.repo.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !account.Kind.IsAccessCodeKind() {
		return "", apperrors.InvalidKind("account is not a pharmacy or laboratory account")
	}

	code, err = s.uniqueAccessCode(ctx)
	if err != nil {
		return "", err
	}

	account.AccessCode = code
	account.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, account); err != nil {
		return "", fmt.Errorf("failed to update access code: %w", err)
	}

	event := s.newEvent(model.EventAccessCodeRotated, map[string]interface{}{
		"account_id": accountID,
		"kind":       account.Kind,
	})
	if err := s.outbox.Create(ctx, event); err != nil {
		s.logger.Error(err, "failed to enqueue access code event", "account_id", accountID.String())
	}

	return code, nil
}

// ExtendSubscription adds days to the doctor's current subscription end, or
// to now when no end date is set. Extension is additive, never a replacement.
func (s *Service) ExtendSubscription(ctx context.Context, doctorID uuid.UUID, days int) (*model.Account, error) {
	if days <= 0 {
		return nil, apperrors.BadRequest("days must be positive", nil)
	}

	doctor, err := s.repo.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if doctor.Kind != model.KindDoctor {
		return nil, apperrors.InvalidKind("account is not a doctor account")
	}

	base := s.now()
	if doctor.SubscriptionEnd != nil {
		base = *doctor.SubscriptionEnd
	}
	newEnd := base.Add(time.Duration(days) * 24 * time.Hour)
	doctor.SubscriptionEnd = &newEnd
	doctor.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, doctor); err != nil {
		return nil, fmt.Errorf("failed to extend subscription: %w", err)
	}

	event := s.newEvent(model.EventSubscriptionExtended, map[string]interface{}{
		"doctor_id": doctorID,
		"days":      days,
		"new_end":   newEnd,
	})
	if err := s.outbox.Create(ctx, event); err != nil {
		s.logger.Error(err, "failed to enqueue subscription event", "doctor_id", doctorID.String())
	}

	return doctor, nil
}

// DeactivateAllForDoctor sets the doctor inactive, then best-effort
// deactivates the pharmacy and laboratory. Missing associates are reported in
// the cascade report, never as a failure.
func (s *Service) DeactivateAllForDoctor(ctx context.Context, doctorID uuid.UUID) (report *model.CascadeReport, err error) {
	defer func() { s.observe("deactivate_all", err) }()

	doctor, err := s.repo.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if doctor.Kind != model.KindDoctor {
		return nil, apperrors.InvalidKind("account is not a doctor account")
	}

	doctor.Active = false
	doctor.PharmacyAccountActive = false
	doctor.LabAccountActive = false
	doctor.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, doctor); err != nil {
		return nil, fmt.Errorf("failed to deactivate doctor: %w", err)
	}

	report = &model.CascadeReport{Doctor: model.CascadeUpdated}

	if doctor.PharmacyAccountID != nil {
		report.Pharmacy = s.setAssociateActive(ctx, doctor.PharmacyAccountID, false)
	} else {
		report.Pharmacy = model.CascadeSkipped
	}
	if doctor.LabAccountID != nil {
		report.Lab = s.setAssociateActive(ctx, doctor.LabAccountID, false)
	} else {
		report.Lab = model.CascadeSkipped
	}

	event := s.newEvent(model.EventDoctorDeactivated, map[string]interface{}{
		"doctor_id": doctorID,
		"report":    report,
	})
	if err := s.outbox.Create(ctx, event); err != nil {
		s.logger.Error(err, "failed to enqueue deactivation event", "doctor_id", doctorID.String())
	}

	s.cache.Delete(statsCacheKey)
	return report, nil
}

// ResetPassword issues a fresh generated password for an admin or doctor
// login and stores its hash. The plaintext is returned exactly once.
func (s *Service) ResetPassword(ctx context.Context, accountID uuid.UUID) (string, error) {
	account, err := s.repo.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account.Kind.IsAccessCodeKind() {
		return "", apperrors.InvalidKind("pharmacy and laboratory accounts use access codes")
	}

	password, err := s.vault.GeneratePassword(security.DefaultPasswordLen)
	if err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	hash, err := s.vault.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	account.PasswordHash = hash
	account.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, account); err != nil {
		return "", fmt.Errorf("failed to store new password: %w", err)
	}

	return password, nil
}

// SystemStats returns the dashboard snapshot, cached briefly to keep the
// dashboard cheap to refresh.
func (s *Service) SystemStats(ctx context.Context) (*model.SystemStats, error) {
	if cached, ok := s.cache.Get(statsCacheKey); ok {
		return cached.(*model.SystemStats), nil
	}

	counts, err := s.repo.CountByKind(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count accounts: %w", err)
	}

	stats := &model.SystemStats{GeneratedAt: s.now()}
	for _, c := range counts {
		if s.metrics != nil {
			s.metrics.AccountsByKind.
				WithLabelValues(string(c.Kind), strconv.FormatBool(c.Active)).
				Set(float64(c.Count))
		}
		switch c.Kind {
		case model.KindDoctor:
			if c.Active {
				stats.Doctors.Active += c.Count
			} else {
				stats.Doctors.Inactive += c.Count
			}
		case model.KindAdmin:
			stats.Admins += c.Count
		case model.KindPharmacy:
			stats.Pharmacies += c.Count
		case model.KindLaboratory:
			stats.Laboratories += c.Count
		}
	}
	stats.Doctors.Total = stats.Doctors.Active + stats.Doctors.Inactive

	doctors, err := s.repo.List(ctx, model.KindDoctor)
	if err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}
	now := s.now()
	for _, d := range doctors {
		switch d.SubscriptionStatusAt(now) {
		case model.SubscriptionActive:
			stats.Subscriptions.Active++
		case model.SubscriptionExpiringSoon:
			stats.Subscriptions.ExpiringSoon++
		case model.SubscriptionExpired:
			stats.Subscriptions.Expired++
		}
	}

	s.cache.Set(statsCacheKey, stats, statsCacheTTL)
	return stats, nil
}

// uniqueAccessCode generates codes until one is free among live codes. The
// generator gives no uniqueness guarantee; the retry loop does.
func (s *Service) uniqueAccessCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.vault.GenerateAccessCode(security.DefaultCodeLen)
		if err != nil {
			return "", fmt.Errorf("failed to generate access code: %w", err)
		}
		exists, err := s.repo.AccessCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check access code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique access code after %d attempts", maxCodeAttempts)
}

func (s *Service) newEvent(eventType string, payload map[string]interface{}) *model.OutboxEvent {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	return &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   raw,
	}
}

var validate = validator.New()

func validateDoctorRequest(req *model.CreateDoctorRequest) error {
	if err := validate.Struct(req); err != nil {
		return apperrors.BadRequest(err.Error(), err)
	}
	return nil
}

func applyIfSet(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
