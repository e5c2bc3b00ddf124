package devserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stashd-dev/stashd/internal/auth"
	"github.com/stashd-dev/stashd/internal/config"
	"github.com/stashd-dev/stashd/internal/models"
)

// Server is the development auth API. It implements the REST contract the stashd
// CLI core talks to, so flows can be exercised end to end without the production
// backend.
type Server struct {
	router      *gin.Engine
	db          *gorm.DB
	config      *config.Config
	logger      zerolog.Logger
	validator   *validator.Validate
	asynqClient *asynq.Client
	cron        *cron.Cron
	version     string
}

// New creates a new dev server instance
func New(cfg *config.Config, zlog zerolog.Logger, version string) (*Server, error) {
	db, err := initDatabase(cfg, zlog)
	if err != nil {
		return nil, err
	}

	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	auth.InitializeJWT(cfg.JWT.Secret)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: cfg.Redis.Address,
	})

	server := &Server{
		db:          db,
		config:      cfg,
		logger:      zlog,
		validator:   validator.New(),
		asynqClient: asynqClient,
		version:     version,
	}

	if cfg.Server.SeedFile != "" {
		if err := server.seedFromFile(cfg.Server.SeedFile); err != nil {
			return nil, fmt.Errorf("failed to seed accounts: %w", err)
		}
	}

	server.startCleanupCron()
	server.setupRouter()

	return server, nil
}

// GetDB returns the underlying database handle. Used by the worker binary.
func (s *Server) GetDB() *gorm.DB {
	return s.db
}

// initDatabase opens the SQLite database with settings suitable for a single
// local process
func initDatabase(cfg *config.Config, zlog zerolog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Database.URL), &gorm.Config{
		Logger: gormlogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormlogger.Config{
				LogLevel:                  gormlogger.Error,
				IgnoreRecordNotFoundError: true,
				SlowThreshold:             200 * time.Millisecond,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL first, the rest tolerate failure
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=1",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			zlog.Warn().Str("pragma", pragma).Err(err).Msg("Failed to apply pragma")
		}
	}

	return db, nil
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	// Browser clients of the file-storage product hit this API directly
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.router.GET("/health", s.healthCheck)

	// Public auth endpoints
	authRoutes := s.router.Group("/auth")
	{
		authRoutes.POST("/register", s.register)
		authRoutes.POST("/verify-email", s.verifyEmail)
		authRoutes.POST("/login", s.login)
		authRoutes.POST("/passcode/request", s.requestPasscode)
		authRoutes.POST("/totp/setup", s.setupTOTP)
		authRoutes.POST("/totp/verify", s.verifyTOTP)
		authRoutes.POST("/password-reset/request", s.requestPasswordReset)
		authRoutes.POST("/password-reset/confirm", s.confirmPasswordReset)
		authRoutes.GET("/oauth/google/login", s.oauthGoogleLogin)
	}

	// Authenticated endpoints (JWT required)
	me := s.router.Group("/auth")
	me.Use(JWTAuthMiddleware(s.db, s.logger))
	{
		me.GET("/me", s.getCurrentUser)
	}
}

// startCleanupCron purges expired email challenges and reset tokens periodically
func (s *Server) startCleanupCron() {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("@every 5m", func() {
		now := time.Now()
		if err := s.db.Where("expires_at < ?", now).Delete(&models.EmailChallenge{}).Error; err != nil {
			s.logger.Error().Err(err).Msg("Failed to purge expired email challenges")
		}
		if err := s.db.Where("expires_at < ?", now).Delete(&models.PasswordReset{}).Error; err != nil {
			s.logger.Error().Err(err).Msg("Failed to purge expired password resets")
		}
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to schedule challenge cleanup")
		return
	}
	s.cron.Start()
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.version,
	})
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down gracefully
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:    s.config.Server.Address,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		s.logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	if s.cron != nil {
		s.cron.Stop()
	}
	s.asynqClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// loggingMiddleware logs each request with zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request")
	}
}
