package directory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medpraxis/admin-api/internal/model"
	"github.com/medpraxis/admin-api/internal/repository"
	apperrors "github.com/medpraxis/admin-api/pkg/errors"
	"github.com/medpraxis/admin-api/pkg/logger"
	"github.com/medpraxis/admin-api/pkg/security"
)

type fakeAccountRepo struct {
	accounts map[uuid.UUID]*model.Account
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[uuid.UUID]*model.Account)}
}

func (r *fakeAccountRepo) Create(_ context.Context, account *model.Account) error {
	r.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (r *fakeAccountRepo) Get(_ context.Context, id uuid.UUID) (*model.Account, error) {
	account, ok := r.accounts[id]
	if !ok {
		return nil, apperrors.NotFound("account", nil)
	}
	return cloneAccount(account), nil
}

func (r *fakeAccountRepo) Update(_ context.Context, account *model.Account) error {
	if _, ok := r.accounts[account.ID]; !ok {
		return apperrors.NotFound("account", nil)
	}
	r.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (r *fakeAccountRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.accounts[id]; !ok {
		return apperrors.NotFound("account", nil)
	}
	delete(r.accounts, id)
	return nil
}

func (r *fakeAccountRepo) List(_ context.Context, kind model.AccountKind) ([]*model.Account, error) {
	var out []*model.Account
	for _, account := range r.accounts {
		if account.Kind == kind {
			out = append(out, cloneAccount(account))
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) CreateFamily(_ context.Context, accounts []*model.Account, _ *model.OutboxEvent) error {
	for _, account := range accounts {
		r.accounts[account.ID] = cloneAccount(account)
	}
	return nil
}

func (r *fakeAccountRepo) LinkLabAccount(_ context.Context, lab, doctor *model.Account) error {
	r.accounts[lab.ID] = cloneAccount(lab)
	r.accounts[doctor.ID] = cloneAccount(doctor)
	return nil
}

func (r *fakeAccountRepo) AccessCodeExists(_ context.Context, code string) (bool, error) {
	for _, account := range r.accounts {
		if account.AccessCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeAccountRepo) CountByKind(_ context.Context) ([]repository.KindCount, error) {
	type key struct {
		kind   model.AccountKind
		active bool
	}
	grouped := make(map[key]int)
	for _, account := range r.accounts {
		grouped[key{account.Kind, account.Active}]++
	}
	var counts []repository.KindCount
	for k, n := range grouped {
		counts = append(counts, repository.KindCount{Kind: k.kind, Active: k.active, Count: n})
	}
	return counts, nil
}

func cloneAccount(a *model.Account) *model.Account {
	c := *a
	return &c
}

type fakeOutboxRepo struct {
	events []*model.OutboxEvent
}

func (r *fakeOutboxRepo) Create(_ context.Context, event *model.OutboxEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *fakeOutboxRepo) ClaimPendingEvents(_ context.Context, _ int) ([]*model.OutboxEvent, error) {
	return r.events, nil
}

func (r *fakeOutboxRepo) UpdateStatus(_ context.Context, _ uuid.UUID, _ model.OutboxStatus, _ *string) error {
	return nil
}

// scriptedVault hands out deterministic codes so collision handling is
// testable.
type scriptedVault struct {
	codes []string
	next  int
}

func (v *scriptedVault) HashPassword(password string) (string, error) {
	return "hash:" + password, nil
}

func (v *scriptedVault) VerifyPassword(storedHash, password string) bool {
	return storedHash == "hash:"+password
}

func (v *scriptedVault) GeneratePassword(int) (string, error) {
	return "generated-password", nil
}

func (v *scriptedVault) GenerateAccessCode(int) (string, error) {
	if v.next < len(v.codes) {
		code := v.codes[v.next]
		v.next++
		return code, nil
	}
	v.next++
	return fmt.Sprintf("CODE%04d", v.next), nil
}

func newTestService(repo *fakeAccountRepo, vault security.Vault) (*Service, *fakeOutboxRepo) {
	outbox := &fakeOutboxRepo{}
	svc := NewService(repo, outbox, vault, logger.NewLogger(nil), nil)
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return svc, outbox
}

func seedDoctor(repo *fakeAccountRepo, withPharmacy, withLab bool) *model.Account {
	doctor := &model.Account{
		ID:     uuid.New(),
		Kind:   model.KindDoctor,
		Name:   "Jane Roe",
		Email:  "jane@example.com",
		Active: true,
	}
	if withPharmacy {
		pharmacy := &model.Account{
			ID:         uuid.New(),
			Kind:       model.KindPharmacy,
			Name:       "Jane Roe's Pharmacy",
			Active:     true,
			DoctorID:   &doctor.ID,
			AccessCode: "PHARM001",
		}
		repo.accounts[pharmacy.ID] = pharmacy
		doctor.PharmacyAccountID = &pharmacy.ID
		doctor.PharmacyAccountActive = true
	}
	if withLab {
		lab := &model.Account{
			ID:         uuid.New(),
			Kind:       model.KindLaboratory,
			Name:       "Jane Roe's Laboratory",
			Active:     true,
			DoctorID:   &doctor.ID,
			AccessCode: "LAB00001",
		}
		repo.accounts[lab.ID] = lab
		doctor.HasLabAccount = true
		doctor.LabAccountID = &lab.ID
		doctor.LabAccountActive = true
	}
	repo.accounts[doctor.ID] = doctor
	return doctor
}

func TestCreateDoctorWithLabAccount(t *testing.T) {
	repo := newFakeAccountRepo()
	svc, _ := newTestService(repo, &scriptedVault{})

	creds, err := svc.CreateDoctor(context.Background(), &model.CreateDoctorRequest{
		FirstName:       "Jane",
		LastName:        "Roe",
		Email:           "jane@example.com",
		Specialty:       "Cardiology",
		WantsLabAccount: true,
	})
	require.NoError(t, err)
	require.NotNil(t, creds.LabID)
	assert.Equal(t, "generated-password", creds.Password)
	assert.Len(t, creds.PharmacyCode, 8)
	assert.Len(t, creds.LabCode, 8)
	assert.NotEqual(t, creds.PharmacyCode, creds.LabCode)

	doctor, err := repo.Get(context.Background(), creds.DoctorID)
	require.NoError(t, err)
	assert.Equal(t, model.KindDoctor, doctor.Kind)
	assert.Equal(t, "Jane Roe", doctor.Name)
	assert.True(t, doctor.HasLabAccount)
	assert.True(t, doctor.PharmacyAccountActive)
	assert.True(t, doctor.LabAccountActive)
	require.NotNil(t, doctor.SubscriptionEnd)
	assert.Equal(t, 365*24*time.Hour, doctor.SubscriptionEnd.Sub(*doctor.SubscriptionStart))

	pharmacy, err := repo.Get(context.Background(), creds.PharmacyID)
	require.NoError(t, err)
	assert.Equal(t, model.KindPharmacy, pharmacy.Kind)
	require.NotNil(t, pharmacy.DoctorID)
	assert.Equal(t, creds.DoctorID, *pharmacy.DoctorID)

	lab, err := repo.Get(context.Background(), *creds.LabID)
	require.NoError(t, err)
	assert.Equal(t, model.KindLaboratory, lab.Kind)
	assert.Equal(t, creds.LabCode, lab.AccessCode)
}

func TestCreateDoctorWithoutLabAccount(t *testing.T) {
	repo := newFakeAccountRepo()
	svc, _ := newTestService(repo, &scriptedVault{})

	creds, err := svc.CreateDoctor(context.Background(), &model.CreateDoctorRequest{
		FirstName: "John",
		LastName:  "Doe",
		Email:     "john@example.com",
	})
	require.NoError(t, err)
	assert.Nil(t, creds.LabID)
	assert.Empty(t, creds.LabCode)

	doctor, err := repo.Get(context.Background(), creds.DoctorID)
	require.NoError(t, err)
	assert.False(t, doctor.HasLabAccount)
	assert.Nil(t, doctor.LabAccountID)
}

func TestCreateDoctorRetriesCollidingAccessCode(t *testing.T) {
	repo := newFakeAccountRepo()
	taken := &model.Account{
		ID:         uuid.New(),
		Kind:       model.KindPharmacy,
		AccessCode: "TAKEN123",
	}
	repo.accounts[taken.ID] = taken

	svc, _ := newTestService(repo, &scriptedVault{codes: []string{"TAKEN123", "FRESH456"}})

	creds, err := svc.CreateDoctor(context.Background(), &model.CreateDoctorRequest{
		FirstName: "Jane",
		LastName:  "Roe",
		Email:     "jane@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "FRESH456", creds.PharmacyCode)
}

func TestCreateDoctorRejectsMissingFields(t *testing.T) {
	svc, _ := newTestService(newFakeAccountRepo(), &scriptedVault{})

	_, err := svc.CreateDoctor(context.Background(), &model.CreateDoctorRequest{Email: "x@example.com"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))

	_, err = svc.CreateDoctor(context.Background(), &model.CreateDoctorRequest{FirstName: "Jane", LastName: "Roe"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))
}

func TestUpdateDoctorMergesOnlyProvidedFields(t *testing.T) {
	repo := newFakeAccountRepo()
	doctor := seedDoctor(repo, true, false)
	doctor.Specialty = "Cardiology"
	repo.accounts[doctor.ID] = doctor

	svc, _ := newTestService(repo, &scriptedVault{})

	phone := "555-0100"
	updated, err := svc.UpdateDoctor(context.Background(), doctor.ID, &model.DoctorUpdate{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "555-0100", updated.Phone)
	assert.Equal(t, "Cardiology", updated.Specialty)
	assert.Equal(t, "Jane Roe", updated.Name)
}

func TestUpdateDoctorRejectsOtherKinds(t *testing.T) {
	repo := newFakeAccountRepo()
	admin := &model.Account{ID: uuid.New(), Kind: model.KindAdmin, Name: "Root"}
	repo.accounts[admin.ID] = admin

	svc, _ := newTestService(repo, &scriptedVault{})

	name := "New Name"
	_, err := svc.UpdateDoctor(context.Background(), admin.ID, &model.DoctorUpdate{Name: &name})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidKind))
	assert.Equal(t, "Root", repo.accounts[admin.ID].Name)
}

func TestRegenerateAccessCodeInvalidKindLeavesRecordUntouched(t *testing.T) {
	repo := newFakeAccountRepo()
	doctor := seedDoctor(repo, true, false)
	before := *repo.accounts[doctor.ID]

	svc, _ := newTestService(repo, &scriptedVault{})

	_, err := svc.RegenerateAccessCode(context.Background(), doctor.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidKind))
	assert.Equal(t, before, *repo.accounts[doctor.ID])
}

func TestRegenerateAccessCodeRotatesPharmacyCode(t *testing.T) {
	repo := newFakeAccountRepo()
	doctor := seedDoctor(repo, true, false)
	pharmacyID := *doctor.PharmacyAccountID

	svc, outbox := newTestService(repo, &scriptedVault{codes: []string{"NEWCODE1"}})

	code, err := svc.RegenerateAccessCode(context.Background(), pharmacyID)
	require.NoError(t, err)
	assert.Equal(t, "NEWCODE1", code)
	assert.Equal(t, "NEWCODE1", repo.accounts[pharmacyID].AccessCode)
	require.Len(t, outbox.events, 1)
	assert.Equal(t, model.EventAccessCodeRotated, outbox.events[0].EventType)
}

func TestExtendSubscriptionIsAdditive(t *testing.T) {
	repo := newFakeAccountRepo()
	doctor := seedDoctor(repo, false, false)
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	doctor.SubscriptionEnd = &end
	repo.accounts[doctor.ID] = doctor

	svc, _ := newTestService(repo, &scriptedVault{})

	updated, err := svc.ExtendSubscription(context.Background(), doctor.ID, 30)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), *updated.SubscriptionEnd)

	updated, err = svc.ExtendSubscription(context.Background(), doctor.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), *updated.SubscriptionEnd)
}

func TestExtendSubscriptionFromNowWhenUnset(t *testing.T) {
	repo := newFakeAccountRepo()
	doctor := seedDoctor(repo, false, false)

	svc, _ := newTestService(repo, &scriptedVault{})

	updated, err := svc.ExtendSubscription(context.Background(), doctor.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC), *updated.SubscriptionEnd)
}

func TestExtendSubscriptionRejectsNonPositiveDays(t *testing.T) {
	repo := newFakeAccountRepo()
	doctor := seedDoctor(repo, false, false)

	svc, _ := newTestService(repo, &scriptedVault{})

	_, err := svc.ExtendSubscription(context.Background(), doctor.ID, 0)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))
}

func TestSetAssociatedAccountActiveUpdatesBothSides(t *testing.T) {
	repo := newFakeAccountRepo()
	doctor := seedDoctor(repo, true, false)
	pharmacyID := *doctor.PharmacyAccountID

	svc, _ := newTestService(repo, &scriptedVault{})

	outcome, err := svc.SetAssociatedAccountActive(context.Background(), doctor.ID, model.AssociatePharmacy, false)
	require.NoError(t, err)
	assert.Equal(t, model.CascadeUpdated, outcome)
	assert.False(t, repo.accounts[doctor.ID].PharmacyAccountActive)
	assert.False(t, repo.accounts[pharmacyID].Active)
}

func TestSetAssociatedAccountActiveMissingAssociate(t *testing.T) {
	repo := newFakeAccountRepo()
	doctor := seedDoctor(repo, true, false)
	delete(repo.accounts, *doctor.PharmacyAccountID)

	svc, _ := newTestService(repo, &scriptedVault{})

	outcome, err := svc.SetAssociatedAccountActive(context.Background(), doctor.ID, model.AssociatePharmacy, false)
	require.NoError(t, err)
	assert.Equal(t, model.CascadeAssociateMissing, outcome)
	assert.False(t, repo.accounts[doctor.ID].PharmacyAccountActive)
}

func TestSetAssociatedAccountActiveNilLink(t *testing.T) {
	repo := newFakeAccountRepo()
	doctor := seedDoctor(repo, false, false)

	svc, _ := newTestService(repo, &scriptedVault{})

	outcome, err := svc.SetAssociatedAccountActive(context.Background(), doctor.ID, model.AssociateLab, true)
	require.NoError(t, err)
	assert.Equal(t, model.CascadeAssociateMissing, outcome)
}

func TestAddLabAccountIsIdempotent(t *testing.T) {
	repo := newFakeAccountRepo()
	doctor := seedDoctor(repo, true, false)

	svc, _ := newTestService(repo, &scriptedVault{codes: []string{"LABCODE1"}})

	first, err := svc.AddLabAccount(context.Background(), doctor.ID)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "LABCODE1", first.LabCode)

	second, err := svc.AddLabAccount(context.Background(), doctor.ID)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.LabID, second.LabID)
	assert.Equal(t, "LABCODE1", second.LabCode)
}

func TestDeactivateAllForDoctor(t *testing.T) {
	repo := newFakeAccountRepo()
	doctor := seedDoctor(repo, true, true)
	pharmacyID := *doctor.PharmacyAccountID
	labID := *doctor.LabAccountID

	svc, outbox := newTestService(repo, &scriptedVault{})

	report, err := svc.DeactivateAllForDoctor(context.Background(), doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CascadeUpdated, report.Doctor)
	assert.Equal(t, model.CascadeUpdated, report.Pharmacy)
	assert.Equal(t, model.CascadeUpdated, report.Lab)

	assert.False(t, repo.accounts[doctor.ID].Active)
	assert.False(t, repo.accounts[pharmacyID].Active)
	assert.False(t, repo.accounts[labID].Active)

	require.Len(t, outbox.events, 1)
	assert.Equal(t, model.EventDoctorDeactivated, outbox.events[0].EventType)
}

func TestDeactivateAllForDoctorWithoutLab(t *testing.T) {
	repo := newFakeAccountRepo()
	doctor := seedDoctor(repo, true, false)

	svc, _ := newTestService(repo, &scriptedVault{})

	report, err := svc.DeactivateAllForDoctor(context.Background(), doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CascadeUpdated, report.Pharmacy)
	assert.Equal(t, model.CascadeSkipped, report.Lab)
}

func TestResetPasswordRejectsAccessCodeKinds(t *testing.T) {
	repo := newFakeAccountRepo()
	doctor := seedDoctor(repo, true, false)
	pharmacyID := *doctor.PharmacyAccountID

	svc, _ := newTestService(repo, &scriptedVault{})

	_, err := svc.ResetPassword(context.Background(), pharmacyID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidKind))
}

func TestResetPasswordStoresNewHash(t *testing.T) {
	repo := newFakeAccountRepo()
	doctor := seedDoctor(repo, false, false)

	svc, _ := newTestService(repo, &scriptedVault{})

	password, err := svc.ResetPassword(context.Background(), doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, "generated-password", password)
	assert.Equal(t, "hash:generated-password", repo.accounts[doctor.ID].PasswordHash)
}

func TestSystemStats(t *testing.T) {
	repo := newFakeAccountRepo()
	active := seedDoctor(repo, true, true)
	end := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	active.SubscriptionEnd = &end
	repo.accounts[active.ID] = active

	inactive := seedDoctor(repo, false, false)
	inactive.Active = false
	past := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	inactive.SubscriptionEnd = &past
	repo.accounts[inactive.ID] = inactive

	admin := &model.Account{ID: uuid.New(), Kind: model.KindAdmin, Active: true}
	repo.accounts[admin.ID] = admin

	svc, _ := newTestService(repo, &scriptedVault{})

	stats, err := svc.SystemStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Doctors.Active)
	assert.Equal(t, 1, stats.Doctors.Inactive)
	assert.Equal(t, 2, stats.Doctors.Total)
	assert.Equal(t, 1, stats.Admins)
	assert.Equal(t, 1, stats.Pharmacies)
	assert.Equal(t, 1, stats.Laboratories)
	assert.Equal(t, 1, stats.Subscriptions.ExpiringSoon)
	assert.Equal(t, 1, stats.Subscriptions.Expired)
}

func TestSystemStatsIsCached(t *testing.T) {
	repo := newFakeAccountRepo()
	seedDoctor(repo, false, false)

	svc, _ := newTestService(repo, &scriptedVault{})

	first, err := svc.SystemStats(context.Background())
	require.NoError(t, err)

	extra := seedDoctor(repo, false, false)
	_ = extra

	second, err := svc.SystemStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Doctors.Total, second.Doctors.Total)
}
