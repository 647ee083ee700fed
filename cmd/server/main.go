package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"trueque/internal/audit"
	"trueque/internal/challenge"
	"trueque/internal/exchange"
	"trueque/internal/handler"
	"trueque/internal/ledger"
	"trueque/internal/middleware"
	"trueque/internal/notification"
	"trueque/internal/repository/postgres"
	"trueque/internal/reputation"
	"trueque/internal/rewards"
	"trueque/pkg/cache"
	"trueque/pkg/config"
	"trueque/pkg/logger"
	"trueque/pkg/validator"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("trueque-engine")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting exchange engine", map[string]interface{}{
		"port": cfg.Server.Port,
	})

	// Database connection
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	log.Info("Database connected", nil)

	// Redis connection
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal("Failed to connect to Redis", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer redisCache.Close()

	log.Info("Redis connected", nil)

	// Repositories
	txRunner := postgres.NewTxRunner(db, cfg.Engine.LockTimeout)
	userRepo := postgres.NewUserRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)
	offerRepo := postgres.NewOfferRepository(db)
	exchangeRepo := postgres.NewExchangeRepository(db)
	rewardRepo := postgres.NewRewardRepository(db)
	challengeRepo := postgres.NewChallengeRepository(db)
	badgeRepo := postgres.NewBadgeRepository(db)
	ratingRepo := postgres.NewRatingRepository(db)
	reputationRepo := postgres.NewReputationRepository(db)
	conversationRepo := postgres.NewConversationRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)
	auditRepo := postgres.NewAuditRepository(db)

	// Services
	notifier := notification.NewService(notificationRepo, log)
	auditor := audit.NewRecorder(auditRepo, log)
	ledgerService := ledger.NewService(txRunner, userRepo, ledgerRepo, notifier, log)
	reputationService := reputation.NewService(txRunner, exchangeRepo, ratingRepo, ledgerRepo,
		reputationRepo, notifier, redisCache, cfg.Engine.ReputationCacheTTL, log)
	exchangeService := exchange.NewService(txRunner, exchangeRepo, offerRepo, userRepo,
		ledgerService, challengeRepo, reputationService, conversationRepo, notifier, auditor,
		cfg.Engine, log)
	rewardsService := rewards.NewService(txRunner, rewardRepo, userRepo, ledgerService,
		notifier, auditor, log)
	challengeService := challenge.NewService(txRunner, challengeRepo, userRepo, badgeRepo,
		ledgerService, notifier, log)

	// Handlers
	val := validator.New()
	exchangeHandler := handler.NewExchangeHandler(exchangeService, val, log)
	creditsHandler := handler.NewCreditsHandler(ledgerService, val, cfg.Engine.InitialGrant, log)
	rewardsHandler := handler.NewRewardsHandler(rewardsService, val, log)
	challengesHandler := handler.NewChallengesHandler(challengeService, log)
	reputationHandler := handler.NewReputationHandler(reputationService, val, log)
	notificationsHandler := handler.NewNotificationsHandler(notifier, log)

	// Router
	r := mux.NewRouter()

	r.Use(middleware.CORS)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.NewRateLimiter(redisCache.Client(), 150, time.Minute).Limit)

	authMW := middleware.NewAuthMiddleware(cfg.JWT.Secret)

	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/ready", readyCheck(db)).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMW.Authenticate)
	api.Use(middleware.NewRateLimiter(redisCache.Client(), 60, time.Minute).Limit)

	api.HandleFunc("/exchanges", exchangeHandler.Create).Methods("POST")
	api.HandleFunc("/exchanges", exchangeHandler.List).Methods("GET")
	api.HandleFunc("/exchanges/{id}", exchangeHandler.Get).Methods("GET")
	api.HandleFunc("/exchanges/{id}/accept", exchangeHandler.Accept).Methods("POST")
	api.HandleFunc("/exchanges/{id}/confirm", exchangeHandler.Confirm).Methods("POST")
	api.HandleFunc("/exchanges/{id}/cancel", exchangeHandler.Cancel).Methods("POST")
	api.HandleFunc("/exchanges/{id}/ratings", reputationHandler.Rate).Methods("POST")

	api.HandleFunc("/credits/balance", creditsHandler.Balance).Methods("GET")
	api.HandleFunc("/credits/history", creditsHandler.History).Methods("GET")
	api.HandleFunc("/credits/transfer", creditsHandler.Transfer).Methods("POST")

	api.HandleFunc("/rewards", rewardsHandler.List).Methods("GET")
	api.HandleFunc("/rewards/claims", rewardsHandler.ListClaims).Methods("GET")
	api.HandleFunc("/rewards/{id}/claim", rewardsHandler.Claim).Methods("POST")

	api.HandleFunc("/challenges", challengesHandler.List).Methods("GET")
	api.HandleFunc("/challenges/enrollments", challengesHandler.ListEnrollments).Methods("GET")
	api.HandleFunc("/challenges/{id}/enroll", challengesHandler.Enroll).Methods("POST")
	api.HandleFunc("/challenges/{id}/complete", challengesHandler.Complete).Methods("POST")

	api.HandleFunc("/users/{id}/reputation", reputationHandler.Snapshot).Methods("GET")
	api.HandleFunc("/users/{id}/ratings", reputationHandler.Ratings).Methods("GET")

	api.HandleFunc("/notifications", notificationsHandler.List).Methods("GET")
	api.HandleFunc("/notifications/{id}/read", notificationsHandler.MarkRead).Methods("POST")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(authMW.RequireAdmin)
	admin.HandleFunc("/users/{id}/grant", creditsHandler.Grant).Methods("POST")
	admin.HandleFunc("/claims/{id}/moderate", rewardsHandler.Moderate).Methods("POST")

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func readyCheck(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}
