package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics agrupa los collectors del servicio. Cada instancia usa su propio
// registry para que los tests puedan crear varios routers sin panics por duplicados.
type Metrics struct {
	registry *prometheus.Registry

	accessDecisions    *prometheus.CounterVec
	otpIssued          *prometheus.CounterVec
	otpVerifications   *prometheus.CounterVec
	emergencyOverrides prometheus.Counter
	requestsSwept      prometheus.Counter
	auditWrites        *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		accessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_access_decisions_total",
			Help: "Access evaluations by outcome and grant kind",
		}, []string{"outcome", "granted_via"}),
		otpIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_otp_requests_total",
			Help: "OTP requests by result (issued, existing)",
		}, []string{"result"}),
		otpVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_otp_verifications_total",
			Help: "OTP verification attempts by result",
		}, []string{"result"}),
		emergencyOverrides: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "passport_emergency_overrides_total",
			Help: "Emergency break-glass overrides granted",
		}),
		requestsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "passport_access_requests_expired_total",
			Help: "Pending access requests marked expired by the sweeper",
		}),
		auditWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_audit_writes_total",
			Help: "Audit log writes by access type and status",
		}, []string{"access_type", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "passport_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status_code"}),
	}

	m.registry.MustRegister(
		m.accessDecisions,
		m.otpIssued,
		m.otpVerifications,
		m.emergencyOverrides,
		m.requestsSwept,
		m.auditWrites,
		m.httpDuration,
		prometheus.NewGoCollector(),
	)
	return m
}

// Los métodos aceptan receiver nil para que los servicios no tengan que chequear.

func (m *Metrics) AccessDecision(allowed bool, grantedVia string) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	if grantedVia == "" {
		grantedVia = "none"
	}
	m.accessDecisions.WithLabelValues(outcome, grantedVia).Inc()
}

func (m *Metrics) OTPRequested(existing bool) {
	if m == nil {
		return
	}
	result := "issued"
	if existing {
		result = "existing"
	}
	m.otpIssued.WithLabelValues(result).Inc()
}

func (m *Metrics) OTPVerified(ok bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if ok {
		result = "verified"
	}
	m.otpVerifications.WithLabelValues(result).Inc()
}

func (m *Metrics) EmergencyOverride() {
	if m == nil {
		return
	}
	m.emergencyOverrides.Inc()
}

func (m *Metrics) RequestsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.requestsSwept.Add(float64(n))
}

func (m *Metrics) AuditWrite(accessType string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.auditWrites.WithLabelValues(accessType, status).Inc()
}

// Handler expone /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware mide duración por route pattern de chi (no por path crudo, para no explotar cardinalidad).
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		m.httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
