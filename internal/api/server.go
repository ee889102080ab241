package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/org/geocrypt/internal/audit"
	"github.com/org/geocrypt/internal/auth"
	"github.com/org/geocrypt/internal/core"
	"github.com/org/geocrypt/internal/crypto"
	"github.com/org/geocrypt/internal/gateway"
	"github.com/org/geocrypt/internal/kvstore"
	"github.com/org/geocrypt/internal/mail"
	"github.com/org/geocrypt/internal/policy"
	"github.com/org/geocrypt/internal/storage"
	"github.com/org/geocrypt/internal/wifi"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"

	// Login attempts allowed per identifier inside the attempt window.
	loginAttempts = 5
	loginWindow   = 15 * time.Minute
)

// Config holds server configuration.
type Config struct {
	ListenAddr    string   `yaml:"listen_addr"`
	TLSCertFile   string   `yaml:"tls_cert_file"`
	TLSKeyFile    string   `yaml:"tls_key_file"`
	DBUrl         string   `yaml:"db_url"`
	MigrationsDir string   `yaml:"migrations_dir"`
	AuthSecret    string   `yaml:"auth_secret"`
	CORSOrigins   []string `yaml:"cors_origins"`
	CryptoWorkers int      `yaml:"crypto_workers"`
	RateRPS       float64  `yaml:"rate_rps"`
	RateBurst     int      `yaml:"rate_burst"`
	CookieSecure  bool     `yaml:"cookie_secure"`
}

// Server is the API server.
type Server struct {
	store    storage.Store
	keys     *core.KeyManager
	tokens   *auth.Tokens
	sessions *auth.Sessions
	gateway  *gateway.Gateway
	auditor  *audit.Logger
	wifi     wifi.Detector
	cfg      Config
	httpSrv  *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(store storage.Store, keys *core.KeyManager, mailer mail.Mailer, detector wifi.Detector, cfg Config) (*Server, error) {
	kv := kvstore.NewMemory()
	tokens, err := auth.NewTokens([]byte(cfg.AuthSecret), kv)
	if err != nil {
		return nil, err
	}
	limiter := auth.NewLimiter(kv, loginAttempts, loginWindow)
	sessions := auth.NewSessions(store, tokens, kv, mailer, limiter)
	auditor := audit.NewLogger(store)
	gw := gateway.New(store, policy.NewEngine(), keys, auditor, crypto.NewPool(cfg.CryptoWorkers))

	if keys.PQCAvailable() {
		pqcMode.Set(1)
	} else {
		pqcMode.Set(0)
	}

	return &Server{
		store:    store,
		keys:     keys,
		tokens:   tokens,
		sessions: sessions,
		gateway:  gw,
		auditor:  auditor,
		wifi:     detector,
		cfg:      cfg,
	}, nil
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(logMiddleware)
	r.Use(metricsMiddleware)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(corsMiddleware(s.cfg.CORSOrigins))
	}
	rps, burst := s.cfg.RateRPS, s.cfg.RateBurst
	if rps <= 0 {
		rps = 50
	}
	if burst <= 0 {
		burst = 100
	}
	r.Use(newIPLimiter(rps, burst).middleware)

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	// Public routes
	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
		r.Get("/v1/sys/time", s.TimeHandler)
		r.Get("/v1/sys/wifi-ssid", s.WiFiSSIDHandler)

		r.Post("/v1/auth/login", s.LoginHandler)
		r.Post("/v1/auth/verify-otp", s.VerifyOTPHandler)
		r.Post("/v1/auth/resend-otp", s.ResendOTPHandler)
		r.Post("/v1/auth/refresh", s.RefreshHandler)
		r.Post("/v1/auth/logout", s.LogoutHandler)
		r.Post("/v1/auth/forgot-password", s.ForgotPasswordHandler)
		r.Post("/v1/auth/reset-password", s.ResetPasswordHandler)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.tokens))
		r.Use(csrfMiddleware(s.sessions))

		r.Get("/v1/auth/me", s.MeHandler)
		r.Get("/v1/auth/csrf", s.CSRFHandler)
		r.Post("/v1/auth/change-password", s.ChangePasswordHandler)

		r.Post("/v1/sys/validate-access", s.ValidateAccessHandler)

		r.Get("/v1/files", s.FileListHandler)
		r.Get("/v1/files/{id}", s.FileAccessHandler)

		r.Post("/v1/wfh/requests", s.WFHCreateHandler)
		r.Get("/v1/wfh/requests", s.WFHStatusHandler)

		// Admin surface
		r.Group(func(r chi.Router) {
			r.Use(adminOnly)

			r.Post("/v1/files", s.FileUploadHandler)
			r.Delete("/v1/files/{id}", s.FileDeleteHandler)
			r.Get("/v1/admin/stats", s.FileStatsHandler)

			r.Post("/v1/admin/employees", s.EmployeeCreateHandler)
			r.Get("/v1/admin/employees", s.EmployeeListHandler)
			r.Put("/v1/admin/employees/{username}", s.EmployeeUpdateHandler)
			r.Delete("/v1/admin/employees/{username}", s.EmployeeDeleteHandler)

			r.Get("/v1/admin/geofence", s.GeofenceGetHandler)
			r.Put("/v1/admin/geofence", s.GeofencePutHandler)

			r.Get("/v1/admin/wfh", s.WFHListHandler)
			r.Post("/v1/admin/wfh/{id}/decision", s.WFHDecisionHandler)

			r.Get("/v1/admin/access-logs", s.AccessLogsHandler)
			r.Get("/v1/admin/crypto-info", s.CryptoInfoHandler)
		})
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) setAuthCookies(w http.ResponseWriter, pair *auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookie,
		Value:    pair.Access,
		Path:     "/",
		MaxAge:   int(auth.AccessTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    pair.Refresh,
		Path:     "/",
		MaxAge:   int(auth.RefreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{accessCookie, refreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.cfg.CookieSecure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}
