package router

import (
	"database/sql"
	"net/http"

	_ "patient-passport-access/internal/docs"

	"patient-passport-access/internal/adapters/mail"
	"patient-passport-access/internal/adapters/notify/lognotify"
	mem "patient-passport-access/internal/adapters/storage/memory"
	pg "patient-passport-access/internal/adapters/storage/postgres"
	"patient-passport-access/internal/adapters/storage/redisstore"
	"patient-passport-access/internal/config"
	"patient-passport-access/internal/domain/accessgrants"
	"patient-passport-access/internal/domain/accessrequests"
	"patient-passport-access/internal/domain/audit"
	"patient-passport-access/internal/domain/emergency"
	"patient-passport-access/internal/domain/otp"
	"patient-passport-access/internal/domain/patients"
	"patient-passport-access/internal/middleware"
	"patient-passport-access/internal/platform/logger"
	"patient-passport-access/internal/platform/metrics"
	"patient-passport-access/internal/ports/affiliations"
	"patient-passport-access/internal/ports/auth"
	"patient-passport-access/internal/ports/notify"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Options struct {
	AuthVerifier auth.AuthVerifier // puede ser nil (modo dev: X-Debug-*)

	// Opcional: si viene, usa Postgres. Si no, in-memory.
	DB *sql.DB
	// Opcional: si viene, los OTP viven en Redis (con TTL nativo).
	Redis       redis.UniversalClient
	RedisPrefix string

	Mailer       notify.Mailer         // nil => logmail
	Notifier     notify.Notifier       // nil => lognotify
	Affiliations affiliations.Resolver // nil => solo hospital del token

	Logger  logger.Logger
	Metrics *metrics.Metrics

	Access config.AccessConfig
}

// App es el resultado del wiring: el handler HTTP y los servicios que el proceso
// necesita fuera de HTTP (sweeper).
type App struct {
	Handler  http.Handler
	Requests *accessrequests.Service
}

func NewRouter(opts Options) http.Handler {
	return Build(opts).Handler
}

func Build(opts Options) App {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	mailer := opts.Mailer
	if mailer == nil {
		mailer = mail.NewLogMailer(log)
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = lognotify.New(log)
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recover(log))
	r.Use(middleware.RequestLog(log))
	r.Use(m.Middleware)
	r.Use(middleware.AuthContext(opts.AuthVerifier))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", m.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	var (
		patientRepo   patients.Repository
		grantsRepo    accessgrants.Repository
		requestsRepo  accessrequests.Repository
		otpRepo       otp.Repository
		emergencyRepo emergency.Repository
		auditRepo     audit.Repository
	)

	if opts.DB != nil {
		patientRepo = pg.NewPatientsRepo(opts.DB)
		grantsRepo = pg.NewAccessGrantsRepo(opts.DB)
		requestsRepo = pg.NewAccessRequestsRepo(opts.DB)
		otpRepo = pg.NewOTPRepo(opts.DB)
		emergencyRepo = pg.NewEmergencyRepo(opts.DB)
		auditRepo = pg.NewAuditRepo(opts.DB)
	} else {
		patientRepo = mem.NewPatientRepo()
		grantsRepo = mem.NewAccessGrantsRepo()
		requestsRepo = mem.NewAccessRequestsRepo()
		otpRepo = mem.NewOTPRepo()
		emergencyRepo = mem.NewEmergencyRepo()
		auditRepo = mem.NewAuditRepo()
	}
	if opts.Redis != nil {
		otpRepo = redisstore.NewOTPRepo(opts.Redis, opts.RedisPrefix)
	}

	// Services por módulo
	auditSvc := audit.NewService(auditRepo, log.With(map[string]any{"module": "audit"}), m)
	patientsSvc := patients.NewService(patientRepo)
	grantsSvc := accessgrants.NewService(grantsRepo, auditSvc, patientsSvc, log.With(map[string]any{"module": "accessgrants"}), m)
	patientsSvc.SetAccessChecker(grantsSvc)

	requestsSvc := accessrequests.NewService(requestsRepo, accessrequests.Deps{
		Grants:       grantsSvc,
		Audits:       auditSvc,
		Patients:     patientsSvc,
		Affiliations: opts.Affiliations,
		Notifier:     notifier,
		Log:          log.With(map[string]any{"module": "accessrequests"}),
		Metrics:      m,
	}, accessrequests.Options{
		DefaultExpiryHours: opts.Access.RequestDefaultHours,
		ConsentGrantTTL:    opts.Access.ConsentGrantTTL,
	})

	otpSvc := otp.NewService(otpRepo, otp.Deps{
		Grants:   grantsSvc,
		Audits:   auditSvc,
		Patients: patientsSvc,
		Mailer:   mailer,
		Log:      log.With(map[string]any{"module": "otp"}),
		Metrics:  m,
	}, otp.Options{
		TTL:         opts.Access.OTPTTL,
		MaxAttempts: opts.Access.OTPMaxAttempts,
		GrantTTL:    opts.Access.OTPGrantTTL,
		BcryptCost:  opts.Access.BcryptCost,
	})

	emergencySvc := emergency.NewService(emergencyRepo, emergency.Deps{
		Grants:   grantsSvc,
		Audits:   auditSvc,
		Patients: patientsSvc,
		Notifier: notifier,
		Log:      log.With(map[string]any{"module": "emergency"}),
		Metrics:  m,
	}, emergency.Options{
		GrantTTL:         opts.Access.EmergencyGrantTTL,
		MinJustification: opts.Access.EmergencyMinJustification,
	})

	// Rutas por módulo
	patients.RegisterRoutes(r, patientsSvc)
	accessgrants.RegisterRoutes(r, grantsSvc)
	accessrequests.RegisterRoutes(r, requestsSvc)
	otp.RegisterRoutes(r, otpSvc)
	emergency.RegisterRoutes(r, emergencySvc)
	audit.RegisterRoutes(r, auditSvc)

	return App{Handler: r, Requests: requestsSvc}
}
