package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"patient-passport-access/internal/config"
	"patient-passport-access/internal/ports/notify"
	"patient-passport-access/internal/router"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type identity struct {
	userID   string
	role     string
	hospital string
}

var (
	admin   = identity{userID: "admin-1", role: "admin"}
	doctor  = identity{userID: "doc-1", role: "doctor", hospital: "hosp-central"}
	patient = identity{userID: "user-pat-1", role: "patient"}
)

// captureMailer guarda el último código enviado por email.
type captureMailer struct {
	mu    sync.Mutex
	codes []string
}

func (m *captureMailer) Send(_ context.Context, e notify.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, e.Data["code"].(string))
	return nil
}

func (m *captureMailer) last(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.codes) == 0 {
		t.Fatalf("no otp email captured")
	}
	return m.codes[len(m.codes)-1]
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *captureNotifier) Notify(_ context.Context, in notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, in)
	return nil
}

func (n *captureNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Kind, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Kind)
	}
	return out
}

func testAccess() config.AccessConfig {
	return config.AccessConfig{
		OTPTTL:                    10 * time.Minute,
		OTPMaxAttempts:            3,
		OTPGrantTTL:               time.Hour,
		ConsentGrantTTL:           24 * time.Hour,
		EmergencyGrantTTL:         time.Hour,
		RequestDefaultHours:       24,
		EmergencyMinJustification: 20,
		BcryptCost:                4,
	}
}

func newServer(t *testing.T, opts router.Options) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(router.NewRouter(opts))
	t.Cleanup(ts.Close)
	return ts
}

func TestHTTP_OTPFlow(t *testing.T) {
	mailer := &captureMailer{}
	ts := newServer(t, router.Options{Mailer: mailer, Access: testAccess()})

	patientID := createPatient(t, ts.URL)

	// 1) Sin grant el doctor no ve el pasaporte
	expectStatus(t, ts.URL, "GET", "/patients/"+patientID+"/passport", doctor, nil, http.StatusForbidden)

	// 2) Doctor pide OTP
	{
		st, body := doReq(t, ts.URL, "POST", "/passport-access/otp/request", doctor, map[string]any{"patientId": patientID})
		if st != http.StatusOK {
			t.Fatalf("expected 200 request otp, got %d body=%s", st, string(body))
		}
		var resp struct {
			ExistingOTP bool `json:"existingOTP"`
			EmailSent   bool `json:"emailSent"`
		}
		_ = json.Unmarshal(body, &resp)
		if resp.ExistingOTP || !resp.EmailSent {
			t.Fatalf("unexpected first otp response: %s", string(body))
		}
	}

	// 3) Segundo pedido reusa el código activo
	{
		st, body := doReq(t, ts.URL, "POST", "/passport-access/request-otp", doctor, map[string]any{"patientId": patientID})
		if st != http.StatusOK {
			t.Fatalf("expected 200 second request, got %d body=%s", st, string(body))
		}
		if !strings.Contains(string(body), `"existingOTP":true`) {
			t.Fatalf("expected existingOTP=true, body=%s", string(body))
		}
	}

	code := mailer.last(t)

	// 4) Código mal formado => 400, código incorrecto => 401
	expectStatus(t, ts.URL, "POST", "/passport-access/otp/verify", doctor, map[string]any{"patientId": patientID, "code": "12ab56"}, http.StatusBadRequest)
	expectStatus(t, ts.URL, "POST", "/passport-access/otp/verify", doctor, map[string]any{"patientId": patientID, "code": wrongCode(code)}, http.StatusUnauthorized)

	// 5) Código correcto => grant otp
	{
		st, body := doReq(t, ts.URL, "POST", "/passport-access/otp/verify", doctor, map[string]any{"patientId": patientID, "code": code})
		if st != http.StatusOK {
			t.Fatalf("expected 200 verify otp, got %d body=%s", st, string(body))
		}
		var resp struct {
			AccessGrant struct {
				GrantedVia string `json:"grantedVia"`
				Active     bool   `json:"active"`
			} `json:"accessGrant"`
		}
		_ = json.Unmarshal(body, &resp)
		if resp.AccessGrant.GrantedVia != "otp" || !resp.AccessGrant.Active {
			t.Fatalf("unexpected grant: %s", string(body))
		}
	}

	// 6) El código es de un solo uso
	expectStatus(t, ts.URL, "POST", "/passport-access/otp/verify", doctor, map[string]any{"patientId": patientID, "code": code}, http.StatusUnauthorized)

	// 7) Ahora sí ve el pasaporte
	{
		st, body := doReq(t, ts.URL, "GET", "/patients/"+patientID+"/passport", doctor, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 passport, got %d body=%s", st, string(body))
		}
		if !strings.Contains(string(body), `"accessedAs":"otp"`) {
			t.Fatalf("expected otp access, body=%s", string(body))
		}
	}
	expectAccess(t, ts.URL, doctor, patientID, true)

	// 8) El audit tiene cada intento de verificación
	{
		st, body := doReq(t, ts.URL, "GET", "/audit-logs?patientId="+patientID+"&accessType=regular", admin, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 audit logs, got %d body=%s", st, string(body))
		}
		var resp struct {
			Pagination struct {
				Total int `json:"total"`
			} `json:"pagination"`
		}
		_ = json.Unmarshal(body, &resp)
		// emisión, 3 verificaciones y los chequeos de acceso
		if resp.Pagination.Total < 5 {
			t.Fatalf("expected at least 5 regular audit entries, got %d", resp.Pagination.Total)
		}
	}
}

func TestHTTP_OTPExpires(t *testing.T) {
	mailer := &captureMailer{}
	access := testAccess()
	access.OTPTTL = 50 * time.Millisecond
	ts := newServer(t, router.Options{Mailer: mailer, Access: access})

	patientID := createPatient(t, ts.URL)
	expectStatus(t, ts.URL, "POST", "/passport-access/otp/request", doctor, map[string]any{"patientId": patientID}, http.StatusOK)
	code := mailer.last(t)

	time.Sleep(120 * time.Millisecond)

	expectStatus(t, ts.URL, "POST", "/passport-access/otp/verify", doctor, map[string]any{"patientId": patientID, "code": code}, http.StatusUnauthorized)
	expectAccess(t, ts.URL, doctor, patientID, false)

	// vencido => se emite uno nuevo
	st, body := doReq(t, ts.URL, "POST", "/passport-access/otp/request", doctor, map[string]any{"patientId": patientID})
	if st != http.StatusOK || strings.Contains(string(body), `"existingOTP":true`) {
		t.Fatalf("expected a fresh otp, got %d body=%s", st, string(body))
	}
}

func TestHTTP_OTPOnRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mailer := &captureMailer{}
	ts := newServer(t, router.Options{Mailer: mailer, Redis: rdb, RedisPrefix: "test:otp:", Access: testAccess()})

	patientID := createPatient(t, ts.URL)
	expectStatus(t, ts.URL, "POST", "/passport-access/otp/request", doctor, map[string]any{"patientId": patientID}, http.StatusOK)

	if keys := mr.Keys(); len(keys) == 0 {
		t.Fatalf("expected otp keys in redis")
	}

	expectStatus(t, ts.URL, "POST", "/passport-access/otp/verify", doctor, map[string]any{"patientId": patientID, "code": mailer.last(t)}, http.StatusOK)
	expectAccess(t, ts.URL, doctor, patientID, true)
}

func TestHTTP_ConsentDenied(t *testing.T) {
	notifier := &captureNotifier{}
	ts := newServer(t, router.Options{Notifier: notifier, Access: testAccess()})

	patientID := createPatient(t, ts.URL)
	requestID := createAccessRequest(t, ts.URL, patientID)

	// paciente ve el pedido pendiente
	{
		st, body := doReq(t, ts.URL, "GET", "/access-control/patient/pending", patient, nil)
		if st != http.StatusOK || !strings.Contains(string(body), requestID) {
			t.Fatalf("expected pending request listed, got %d body=%s", st, string(body))
		}
	}

	// otro usuario no puede responder
	expectStatus(t, ts.URL, "POST", "/access-control/respond/"+requestID, identity{userID: "someone", role: "patient"}, map[string]any{"status": "approved"}, http.StatusForbidden)

	expectStatus(t, ts.URL, "POST", "/access-control/respond/"+requestID, patient, map[string]any{"status": "denied", "reason": "not my doctor"}, http.StatusOK)

	// terminal: no se puede aprobar después
	expectStatus(t, ts.URL, "POST", "/access-control/respond/"+requestID, patient, map[string]any{"status": "approved"}, http.StatusConflict)

	expectAccess(t, ts.URL, doctor, patientID, false)
	expectStatus(t, ts.URL, "GET", "/patients/"+patientID+"/passport", doctor, nil, http.StatusForbidden)

	kinds := notifier.kinds()
	if len(kinds) != 2 || kinds[0] != notify.KindAccessRequested || kinds[1] != notify.KindAccessResolved {
		t.Fatalf("unexpected notifications: %v", kinds)
	}
}

func TestHTTP_ConsentApprovedScopesPassport(t *testing.T) {
	ts := newServer(t, router.Options{Access: testAccess()})

	patientID := createPatient(t, ts.URL)
	requestID := createAccessRequest(t, ts.URL, patientID)

	{
		st, body := doReq(t, ts.URL, "POST", "/access-control/respond/"+requestID, patient, map[string]any{"status": "approved"})
		if st != http.StatusOK {
			t.Fatalf("expected 200 approve, got %d body=%s", st, string(body))
		}
		if !strings.Contains(string(body), `"grantedVia":"consent"`) {
			t.Fatalf("expected consent grant, body=%s", string(body))
		}
	}

	st, body := doReq(t, ts.URL, "GET", "/patients/"+patientID+"/passport", doctor, nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 passport, got %d body=%s", st, string(body))
	}
	var resp struct {
		AccessedAs string                     `json:"accessedAs"`
		Sections   map[string]json.RawMessage `json:"sections"`
	}
	_ = json.Unmarshal(body, &resp)
	if resp.AccessedAs != "consent" {
		t.Fatalf("expected consent access, body=%s", string(body))
	}
	if _, ok := resp.Sections["allergies"]; !ok {
		t.Fatalf("expected allergies section, body=%s", string(body))
	}
	if _, ok := resp.Sections["insurance"]; ok {
		t.Fatalf("insurance was not requested, body=%s", string(body))
	}
}

func TestHTTP_EmergencyAccess(t *testing.T) {
	notifier := &captureNotifier{}
	ts := newServer(t, router.Options{Notifier: notifier, Access: testAccess()})

	patientID := createPatient(t, ts.URL)

	expectStatus(t, ts.URL, "POST", "/emergency-access/request", doctor, map[string]any{
		"patientId": patientID, "justification": "too short",
	}, http.StatusBadRequest)
	expectStatus(t, ts.URL, "POST", "/emergency-access/request", patient, map[string]any{
		"patientId": patientID, "justification": "Patient unconscious, need allergy info immediately",
	}, http.StatusForbidden)

	{
		st, body := doReq(t, ts.URL, "POST", "/emergency-access/request", doctor, map[string]any{
			"patientId":     patientID,
			"justification": "Patient unconscious, need allergy info immediately",
		})
		if st != http.StatusCreated {
			t.Fatalf("expected 201 emergency, got %d body=%s", st, string(body))
		}
		if !strings.Contains(string(body), `"grantedVia":"emergency"`) {
			t.Fatalf("expected emergency grant, body=%s", string(body))
		}
	}

	expectAccess(t, ts.URL, doctor, patientID, true)

	// admin ve el log de emergencia
	{
		st, body := doReq(t, ts.URL, "GET", "/emergency-access/logs?patientId="+patientID, admin, nil)
		if st != http.StatusOK || !strings.Contains(string(body), `"accessType":"emergency"`) {
			t.Fatalf("expected emergency audit entry, got %d body=%s", st, string(body))
		}
	}
	expectStatus(t, ts.URL, "GET", "/emergency-access/logs", doctor, nil, http.StatusForbidden)

	// el paciente ve su trail, el doctor su historial
	expectStatus(t, ts.URL, "GET", "/emergency-access/audit/"+patientID, patient, nil, http.StatusOK)
	{
		st, body := doReq(t, ts.URL, "GET", "/emergency-access/my-history", doctor, nil)
		if st != http.StatusOK || !strings.Contains(string(body), `"total":1`) {
			t.Fatalf("expected one override in history, got %d body=%s", st, string(body))
		}
	}

	kinds := notifier.kinds()
	if len(kinds) != 1 || kinds[0] != notify.KindEmergencyAccess {
		t.Fatalf("unexpected notifications: %v", kinds)
	}
}

func TestHTTP_FailsClosed(t *testing.T) {
	ts := newServer(t, router.Options{Access: testAccess()})

	// sin identidad
	expectStatus(t, ts.URL, "GET", "/access-control/check-access/whatever", identity{}, nil, http.StatusUnauthorized)
	expectStatus(t, ts.URL, "POST", "/passport-access/otp/request", identity{}, map[string]any{"patientId": "x"}, http.StatusUnauthorized)

	// paciente inexistente => sin acceso
	expectAccess(t, ts.URL, doctor, "ghost", false)

	// un paciente no puede pedir OTP
	patientID := createPatient(t, ts.URL)
	expectStatus(t, ts.URL, "POST", "/passport-access/otp/request", patient, map[string]any{"patientId": patientID}, http.StatusForbidden)
}

func TestHTTP_HugePageIsEmptyNotError(t *testing.T) {
	ts := newServer(t, router.Options{Access: testAccess()})

	for _, path := range []string{
		"/emergency-access/logs?page=100000000000000001&limit=100",
		"/audit-logs?page=100000000000000001&limit=100",
	} {
		expectStatus(t, ts.URL, "GET", path, admin, nil, http.StatusOK)
	}
	expectStatus(t, ts.URL, "GET", "/emergency-access/my-history?page=100000000000000001", doctor, nil, http.StatusOK)
}

func TestHTTP_HealthMetricsSwagger(t *testing.T) {
	ts := newServer(t, router.Options{Access: testAccess()})

	expectStatus(t, ts.URL, "GET", "/health", identity{}, nil, http.StatusOK)

	st, body := doReq(t, ts.URL, "GET", "/metrics", identity{}, nil)
	if st != http.StatusOK || !strings.Contains(string(body), "passport_http_request_duration_seconds") {
		t.Fatalf("expected metrics, got %d", st)
	}

	st, body = doReq(t, ts.URL, "GET", "/swagger/doc.json", identity{}, nil)
	if st != http.StatusOK || !strings.Contains(string(body), "/passport-access/otp/verify") {
		t.Fatalf("expected swagger doc, got %d body=%s", st, string(body))
	}
}

func createPatient(t *testing.T, baseURL string) string {
	t.Helper()

	st, body := doReq(t, baseURL, "POST", "/patients", admin, map[string]any{
		"userId": patient.userID,
		"name":   "Ana Pérez",
		"email":  "ana@example.com",
		"passport": map[string]any{
			"allergies":          []string{"penicillin"},
			"medications":        []string{"metformin"},
			"insurance":          map[string]string{"provider": "acme"},
			"emergency_contacts": []string{"+54 11 5555 0000"},
		},
	})
	if st != http.StatusCreated {
		t.Fatalf("expected 201 create patient, got %d body=%s", st, string(body))
	}

	var resp struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &resp)
	if resp.ID == "" {
		t.Fatalf("create patient: missing id body=%s", string(body))
	}
	return resp.ID
}

func createAccessRequest(t *testing.T, baseURL, patientID string) string {
	t.Helper()

	st, body := doReq(t, baseURL, "POST", "/access-control/request", doctor, map[string]any{
		"patientId":     patientID,
		"requestType":   "view",
		"reason":        "Follow-up consultation",
		"requestedData": []string{"allergies", "medications"},
	})
	if st != http.StatusCreated {
		t.Fatalf("expected 201 access request, got %d body=%s", st, string(body))
	}

	var resp struct {
		ID         string `json:"id"`
		HospitalID string `json:"hospitalId"`
	}
	_ = json.Unmarshal(body, &resp)
	if resp.ID == "" || resp.HospitalID != doctor.hospital {
		t.Fatalf("access request: unexpected body=%s", string(body))
	}
	return resp.ID
}

func expectAccess(t *testing.T, baseURL string, who identity, patientID string, want bool) {
	t.Helper()

	st, body := doReq(t, baseURL, "GET", "/access-control/check-access/"+patientID, who, nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 check-access, got %d body=%s", st, string(body))
	}
	var resp struct {
		HasAccess bool `json:"hasAccess"`
	}
	_ = json.Unmarshal(body, &resp)
	if resp.HasAccess != want {
		t.Fatalf("expected hasAccess=%v, body=%s", want, string(body))
	}
}

func expectStatus(t *testing.T, baseURL, method, path string, who identity, body any, want int) {
	t.Helper()

	st, resp := doReq(t, baseURL, method, path, who, body)
	if st != want {
		t.Fatalf("%s %s: expected %d, got %d body=%s", method, path, want, st, string(resp))
	}
}

func wrongCode(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}

func doReq(t *testing.T, baseURL, method, path string, who identity, body any) (int, []byte) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, baseURL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if who.userID != "" {
		req.Header.Set("X-Debug-User-ID", who.userID)
		req.Header.Set("X-Debug-Role", who.role)
	}
	if who.hospital != "" {
		req.Header.Set("X-Debug-Hospital-ID", who.hospital)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()

	respBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, respBody
}
