package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	api "github.com/mind-engage/examguard/internal/api/http"
	auth "github.com/mind-engage/examguard/internal/auth/middleware"
	"github.com/mind-engage/examguard/internal/config"
	"github.com/mind-engage/examguard/internal/db"
	"github.com/mind-engage/examguard/internal/guard"
	_ "github.com/mind-engage/examguard/internal/guard/quiz" // registers the quiz adapter
	"github.com/mind-engage/examguard/internal/metrics"
	rbac "github.com/mind-engage/examguard/internal/rbac"
	"github.com/mind-engage/examguard/internal/store/memory"
	"github.com/mind-engage/examguard/internal/store/sqlstore"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// --- Store ---
	var store guard.Store
	if cfg.DBDriver == "memory" {
		store = memory.New()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
		cancel()
		if err != nil {
			log.Fatalf("db open failed: %v", err)
		}
		defer dbh.Close()
		store = sqlstore.New(dbh)
	}

	// --- Guard service ---
	checker := rbac.NewChecker(nil)
	logger := log.New(os.Stderr, "", log.LstdFlags)
	svc := guard.NewService(store, rbac.NewAuthorizer(checker), checker, cfg.GuardOptions(),
		nil, logger, metrics.New(nil))

	authSvc := auth.NewAuthService(cfg.AuthHMACSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, auth.LoginConfig{
		AdminUser:     cfg.AdminUser,
		AdminPassHash: cfg.AdminPassHash,
		DevLogin:      cfg.Mode == config.ModeOffline,
	}))

	// Protected API (JWT → course role in context → RBAC)
	courseRole := auth.AttachCourseRole(store.Repos(), cfg.Mode == config.ModeOffline)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		pr.Route("/activities/{activityID}", func(ar chi.Router) {
			ar.With(courseRole, rbac.Require("exam:status")).
				Get("/extension", api.GetExtensionHandler(svc))
			// override permission is checked by the service
			ar.With(courseRole).
				Post("/extension", api.ApplyExtensionHandler(svc))
			ar.With(courseRole, rbac.Require("exam:status")).
				Get("/status", api.ExamStatusHandler(svc))
		})

		pr.Route("/courses/{courseID}", func(cr chi.Router) {
			cr.Use(courseRole)
			cr.With(rbac.Require("course:manageactivities")).
				Put("/activities/{activityID}", api.SaveActivityHandler(svc))
			cr.With(rbac.Require("exam:active")).
				Get("/active-exams", api.ActiveExamsHandler(svc))
			// exam:active, not course:update, so a guarded editor can still lift the guard
			cr.With(rbac.RequireAny("guard:reconcile", "exam:active")).
				Post("/guard/reconcile", api.ReconcileGuardHandler(svc))
			cr.With(rbac.Require("course:view")).
				Get("/banner", api.CourseBannerHandler(svc))
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Handle("/metrics", promhttp.Handler())

	s := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on %s (mode=%s, db=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
