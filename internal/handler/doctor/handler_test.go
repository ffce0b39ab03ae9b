package doctor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medpraxis/admin-api/internal/email"
	"github.com/medpraxis/admin-api/internal/model"
	apperrors "github.com/medpraxis/admin-api/pkg/errors"
	"github.com/medpraxis/admin-api/pkg/logger"
)

type stubDirectory struct {
	creds    *model.DoctorCredentials
	account  *model.Account
	report   *model.CascadeReport
	password string
	err      error
}

func (s *stubDirectory) CreateDoctor(context.Context, *model.CreateDoctorRequest) (*model.DoctorCredentials, error) {
	return s.creds, s.err
}

func (s *stubDirectory) CreateAdmin(context.Context, *model.CreateAdminRequest) (*model.AdminCredentials, error) {
	return nil, s.err
}

func (s *stubDirectory) GetAccount(context.Context, uuid.UUID) (*model.Account, error) {
	return s.account, s.err
}

func (s *stubDirectory) ListAccounts(context.Context, model.AccountKind) ([]*model.Account, error) {
	if s.account == nil {
		return nil, s.err
	}
	return []*model.Account{s.account}, s.err
}

func (s *stubDirectory) UpdateDoctor(context.Context, uuid.UUID, *model.DoctorUpdate) (*model.Account, error) {
	return s.account, s.err
}

func (s *stubDirectory) UpdateAccount(context.Context, uuid.UUID, *model.AccountUpdate) (*model.Account, error) {
	return s.account, s.err
}

func (s *stubDirectory) DeleteAccount(context.Context, uuid.UUID) error {
	return s.err
}

func (s *stubDirectory) SetActive(context.Context, uuid.UUID, bool) (*model.Account, error) {
	return s.account, s.err
}

func (s *stubDirectory) SetAssociatedAccountActive(context.Context, uuid.UUID, model.AssociateKind, bool) (model.CascadeOutcome, error) {
	return model.CascadeUpdated, s.err
}

func (s *stubDirectory) AddLabAccount(context.Context, uuid.UUID) (*model.LabAccountResult, error) {
	return &model.LabAccountResult{LabID: uuid.New(), LabCode: "LABCODE1", Created: true}, s.err
}

func (s *stubDirectory) RegenerateAccessCode(context.Context, uuid.UUID) (string, error) {
	return "NEWCODE1", s.err
}

func (s *stubDirectory) ExtendSubscription(context.Context, uuid.UUID, int) (*model.Account, error) {
	return s.account, s.err
}

func (s *stubDirectory) DeactivateAllForDoctor(context.Context, uuid.UUID) (*model.CascadeReport, error) {
	return s.report, s.err
}

func (s *stubDirectory) ResetPassword(context.Context, uuid.UUID) (string, error) {
	return s.password, s.err
}

func (s *stubDirectory) SystemStats(context.Context) (*model.SystemStats, error) {
	return nil, s.err
}

func newTestRouter(stub *stubDirectory) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h := NewHandler(stub, email.NoopService{}, logger.NewLogger(nil))
	h.RegisterRoutes(engine.Group("/api/v1"))
	return engine
}

func TestCreateDoctorReturnsCredentials(t *testing.T) {
	labID := uuid.New()
	stub := &stubDirectory{
		creds: &model.DoctorCredentials{
			DoctorID:     uuid.New(),
			Email:        "jane@example.com",
			Password:     "secret",
			PharmacyID:   uuid.New(),
			PharmacyCode: "PHARM001",
			LabID:        &labID,
			LabCode:      "LAB00001",
		},
	}
	engine := newTestRouter(stub)

	body, _ := json.Marshal(map[string]interface{}{
		"first_name":        "Jane",
		"last_name":         "Roe",
		"email":             "jane@example.com",
		"wants_lab_account": true,
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/doctors", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Status string                  `json:"status"`
		Data   model.DoctorCredentials `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "secret", resp.Data.Password)
	assert.Equal(t, "PHARM001", resp.Data.PharmacyCode)
	assert.Equal(t, "LAB00001", resp.Data.LabCode)
}

func TestCreateDoctorRejectsMalformedBody(t *testing.T) {
	engine := newTestRouter(&stubDirectory{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/doctors", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetDoctorNotFound(t *testing.T) {
	stub := &stubDirectory{err: apperrors.NotFound("account", nil)}
	engine := newTestRouter(stub)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/doctors/"+uuid.NewString(), nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetDoctorRejectsBadID(t *testing.T) {
	engine := newTestRouter(&stubDirectory{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/doctors/not-a-uuid", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetAssociateActiveRejectsUnknownKind(t *testing.T) {
	engine := newTestRouter(&stubDirectory{})

	body, _ := json.Marshal(map[string]bool{"active": false})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut,
		"/api/v1/doctors/"+uuid.NewString()+"/associates/clinic/activate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExtendSubscriptionRejectsZeroDays(t *testing.T) {
	engine := newTestRouter(&stubDirectory{})

	body, _ := json.Marshal(map[string]int{"days": 0})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut,
		"/api/v1/doctors/"+uuid.NewString()+"/subscription", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeactivateAllReturnsReport(t *testing.T) {
	stub := &stubDirectory{
		report: &model.CascadeReport{
			Doctor:   model.CascadeUpdated,
			Pharmacy: model.CascadeUpdated,
			Lab:      model.CascadeSkipped,
		},
	}
	engine := newTestRouter(stub)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/doctors/"+uuid.NewString()+"/deactivate-all", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data model.CascadeReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, model.CascadeSkipped, resp.Data.Lab)
}
