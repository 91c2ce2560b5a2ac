package billing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *Service, *echo.Echo) {
	svc := newTestService()
	return NewHandler(svc), svc, echo.New()
}

func TestHandler_CreateClaim(t *testing.T) {
	h, _, e := newTestHandler()

	body := fmt.Sprintf(`{"patient_id":%q,"amount_cents":45000}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/claims", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateClaim(c); err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created Claim
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Status != StatusDraft {
		t.Errorf("expected draft, got %s", created.Status)
	}
	if created.ClaimNumber == "" {
		t.Error("claim number not generated")
	}
	if created.Currency != "USD" {
		t.Errorf("expected default USD, got %s", created.Currency)
	}
}

func TestHandler_CreateClaim_Invalid(t *testing.T) {
	h, _, e := newTestHandler()

	body := fmt.Sprintf(`{"patient_id":%q,"amount_cents":-5}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/claims", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.CreateClaim(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative amount, got %v", err)
	}
}

func TestHandler_GetClaim_NotFound(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetClaim(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_Transition(t *testing.T) {
	h, svc, e := newTestHandler()
	claim := createClaim(t, svc)

	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"status":"submitted"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(claim.ID.String())

	if err := h.Transition(c); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	var updated Claim
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if updated.Status != StatusSubmitted {
		t.Errorf("expected submitted, got %s", updated.Status)
	}
}

func TestHandler_Transition_Illegal(t *testing.T) {
	h, svc, e := newTestHandler()
	claim := createClaim(t, svc)

	// draft -> paid skips submission and approval
	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"status":"paid"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(claim.ID.String())

	err := h.Transition(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for illegal transition, got %v", err)
	}
}

func TestHandler_ListClaims(t *testing.T) {
	h, svc, e := newTestHandler()
	claim := createClaim(t, svc)
	createClaim(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/claims?patient_id="+claim.PatientID.String(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListClaims(c); err != nil {
		t.Fatalf("ListClaims: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("expected 1 claim for patient, got %d", resp.Total)
	}
}

func TestHandler_ListClaims_BadPatientID(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/claims?patient_id=nope", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.ListClaims(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
