package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"thetiptop/internal/api"
	"thetiptop/internal/api/middleware"
	v1 "thetiptop/internal/api/v1"
	"thetiptop/internal/cache"
	"thetiptop/internal/event"
	"thetiptop/internal/model"
	"thetiptop/internal/repository"
	"thetiptop/internal/repository/postgres"
	"thetiptop/internal/scheduler"
	"thetiptop/internal/service"
	"thetiptop/internal/sse"
	systemlog "thetiptop/pkg/logger"
	"thetiptop/pkg/mailer"
)

type Config struct {
	App struct {
		Env string `mapstructure:"env"`
	} `mapstructure:"app"`
	Server struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Database struct {
		URL         string        `mapstructure:"url"`
		MaxConns    int           `mapstructure:"max_conns"`
		PingTimeout time.Duration `mapstructure:"ping_timeout"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Log struct {
		Level    string `mapstructure:"level"`
		Encoding string `mapstructure:"encoding"`
		Buffer   int    `mapstructure:"buffer"`
	} `mapstructure:"log"`
	Security struct {
		InternalToken     string   `mapstructure:"internal_token"`
		InternalTokenFile string   `mapstructure:"internal_token_file"`
		InternalNetworks  []string `mapstructure:"internal_networks"`
	} `mapstructure:"security"`
	CORS struct {
		AllowOrigins []string `mapstructure:"allow_origins"`
	} `mapstructure:"cors"`
	Auth struct {
		AccessTTL       time.Duration `mapstructure:"access_ttl"`
		RefreshTTL      time.Duration `mapstructure:"refresh_ttl"`
		VerifyTokenTTL  time.Duration `mapstructure:"verify_token_ttl"`
		MaxFailedLogins int           `mapstructure:"max_failed_logins"`
		LockoutWindow   time.Duration `mapstructure:"lockout_window"`
		BcryptCost      int           `mapstructure:"bcrypt_cost"`
	} `mapstructure:"auth"`
	Game struct {
		StartAt              string `mapstructure:"start_at"`
		EndAt                string `mapstructure:"end_at"`
		RequireVerifiedEmail bool   `mapstructure:"require_verified_email"`
		MaxRedemptionsPerDay int    `mapstructure:"max_redemptions_per_day"`
		CodeAttemptFactor    int    `mapstructure:"code_attempt_factor"`
	} `mapstructure:"game"`
	Mail struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		Username     string `mapstructure:"username"`
		Password     string `mapstructure:"password"`
		PasswordFile string `mapstructure:"password_file"`
		From         string `mapstructure:"from"`
		TLS          string `mapstructure:"tls"`
		PublicURL    string `mapstructure:"public_url"`
	} `mapstructure:"mail"`
	Cache struct {
		GainListTTL time.Duration `mapstructure:"gain_list_ttl"`
	} `mapstructure:"cache"`
	Debug struct {
		PprofEnabled bool `mapstructure:"pprof_enabled"`
	} `mapstructure:"debug"`
}

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "healthcheck":
			os.Exit(runHealthcheck())
		case "migrate":
			exitOnCLIError(runMigrateCommand())
			return
		case "create-admin":
			exitOnCLIError(runCreateAdminCommand(os.Args[2:]))
			return
		case "seed-codes":
			exitOnCLIError(runSeedCodesCommand(os.Args[2:]))
			return
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	logger, systemLogStore, err := newLogger(cfg)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer logger.Sync() //nolint:errcheck

	isDebugMode := strings.EqualFold(cfg.App.Env, "development")
	if !isDebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	dbPool, err := newDBPool(context.Background(), cfg)
	if err != nil {
		logger.Fatal("connect database failed", zap.Error(err))
	}
	defer dbPool.Close()

	kv := newCache(cfg, logger)
	if closer, ok := kv.(io.Closer); ok {
		defer closer.Close() //nolint:errcheck
	}

	jwtPrivateKey, err := loadRSAPrivateKey()
	if err != nil {
		logger.Fatal("load jwt private key failed", zap.Error(err))
	}
	middleware.SetJWTPublicKey(&jwtPrivateKey.PublicKey)

	game, err := gameConfig(cfg)
	if err != nil {
		logger.Fatal("invalid game window", zap.Error(err))
	}

	repos := newRepositories(dbPool)
	middleware.SetAuditRepository(repos.audit)

	eventBus := event.NewBus()
	eventBus.OnPanic(func(name string, recovered any) {
		logger.Error("event handler panicked", zap.String("event", name), zap.Any("panic", recovered))
	})
	defer eventBus.Wait()

	sseHub := sse.NewHub(logger.Named("sse"))
	defer sseHub.Close()
	sseHub.Subscribe(eventBus)

	mail, err := newMailer(cfg, logger.Named("mail"))
	if err != nil {
		logger.Fatal("init mailer failed", zap.Error(err))
	}
	service.NewNotificationService(mail, service.NotificationConfig{
		PublicURL:      cfg.Mail.PublicURL,
		VerifyTokenTTL: cfg.Auth.VerifyTokenTTL,
	}, logger.Named("mail")).Subscribe(eventBus)

	authSvc := service.NewAuthService(repos.users, repos.tokens, repos.audit, kv, eventBus, jwtPrivateKey, service.AuthConfig{
		AccessTTL:       cfg.Auth.AccessTTL,
		RefreshTTL:      cfg.Auth.RefreshTTL,
		VerifyTokenTTL:  cfg.Auth.VerifyTokenTTL,
		MaxFailedLogins: cfg.Auth.MaxFailedLogins,
		LockoutWindow:   cfg.Auth.LockoutWindow,
		BcryptCost:      cfg.Auth.BcryptCost,
	}, logger.Named("auth"))
	systemSvc := service.NewSystemService(dbPool, kv, repos.audit, systemLogStore, game, logger.Named("system"))
	if err := systemSvc.LoadMaintenance(context.Background()); err != nil {
		logger.Warn("load maintenance flag failed", zap.Error(err))
	}

	services := api.Services{
		Auth:       authSvc,
		User:       service.NewUserService(repos.users, repos.codes, repos.tokens, repos.audit, logger.Named("users")),
		Gain:       service.NewGainService(repos.gains, repos.audit, kv, cfg.Cache.GainListTTL, logger.Named("gains")),
		Code:       newCodeService(repos, cfg, logger.Named("codes")),
		Redemption: service.NewRedemptionService(repos.codes, repos.gains, repos.users, repos.audit, kv, eventBus, game, logger.Named("redemption")),
		Stats:      service.NewStatsService(repos.codes, repos.users),
		Audit:      service.NewAuditService(repos.audit),
		System:     systemSvc,
		Events:     sseHub,
	}

	cronRunner := scheduler.NewScheduler(scheduler.Deps{
		TokenJob:       scheduler.NewTokenCleanupJob(repos.tokens, logger.Named("scheduler")),
		StockJob:       scheduler.NewStockGaugeJob(repos.gains, logger.Named("scheduler")),
		MaintenanceJob: systemSvc,
	}, logger.Named("scheduler"))
	cronRunner.Start()
	defer func() {
		stopCtx := cronRunner.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(2 * time.Second):
		}
	}()

	internalNetworks, err := middleware.ParseNetworks(cfg.Security.InternalNetworks)
	if err != nil {
		logger.Fatal("invalid security.internal_networks", zap.Error(err))
	}
	router := api.NewRouter(api.RouterConfig{
		Logger:           logger.Named("http"),
		InternalToken:    cfg.Security.InternalToken,
		InternalNetworks: internalNetworks,
		Cookies: v1.CookieConfig{
			AccessTTL:  cfg.Auth.AccessTTL,
			RefreshTTL: cfg.Auth.RefreshTTL,
		},
		Middlewares: []gin.HandlerFunc{buildCORSMiddleware(cfg)},
	}, services)

	if isDebugMode && cfg.Debug.PprofEnabled {
		registerPprofRoutes(router)
		logger.Info("pprof endpoint enabled", zap.String("path", "/debug/pprof/"))
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	logger.Info("server started",
		zap.String("addr", srv.Addr),
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("build_time", BuildTime),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			logger.Fatal("server exited unexpectedly", zap.Error(err))
		}
		return
	}

	// Live-feed streams never finish on their own; close them before draining.
	sseHub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown server failed", zap.Error(err))
	}
}

type repositories struct {
	users  repository.UserRepository
	gains  repository.GainRepository
	codes  repository.CodeRepository
	tokens repository.RefreshTokenRepository
	audit  repository.AuditRepository
}

func newRepositories(pool *pgxpool.Pool) repositories {
	return repositories{
		users:  postgres.NewUserRepository(pool),
		gains:  postgres.NewGainRepository(pool),
		codes:  postgres.NewCodeRepository(pool),
		tokens: postgres.NewRefreshTokenRepository(pool),
		audit:  postgres.NewAuditRepository(pool),
	}
}

func newCodeService(repos repositories, cfg Config, logger *zap.Logger) *service.CodeService {
	return service.NewCodeService(repos.codes, repos.gains, repos.audit, cfg.Game.CodeAttemptFactor, logger)
}

func loadConfig() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("TIPTOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.url", "TIPTOP_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("redis.addr", "TIPTOP_REDIS_ADDR", "REDIS_ADDR")

	v.SetDefault("app.env", "development")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.ping_timeout", "3s")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.buffer", 1000)
	v.SetDefault("security.internal_token", "")
	v.SetDefault("security.internal_token_file", "")
	v.SetDefault("security.internal_networks", []string{})
	v.SetDefault("cors.allow_origins", []string{"http://localhost:3000"})
	v.SetDefault("auth.access_ttl", "2h")
	v.SetDefault("auth.refresh_ttl", "168h")
	v.SetDefault("auth.verify_token_ttl", "24h")
	v.SetDefault("auth.max_failed_logins", 5)
	v.SetDefault("auth.lockout_window", "15m")
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("game.start_at", "")
	v.SetDefault("game.end_at", "")
	v.SetDefault("game.require_verified_email", true)
	v.SetDefault("game.max_redemptions_per_day", 0)
	v.SetDefault("game.code_attempt_factor", 10)
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.tls", "mandatory")
	v.SetDefault("mail.from", "Thé Tip Top <no-reply@thetiptop.fr>")
	v.SetDefault("mail.public_url", "http://localhost:3000")
	v.SetDefault("cache.gain_list_ttl", "5m")
	v.SetDefault("debug.pprof_enabled", false)

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundErr) {
			return Config{}, fmt.Errorf("read config file failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config failed: %w", err)
	}

	if err := readSecretFile(&cfg.Security.InternalToken, cfg.Security.InternalTokenFile, "security.internal_token_file"); err != nil {
		return Config{}, err
	}
	if err := readSecretFile(&cfg.Mail.Password, cfg.Mail.PasswordFile, "mail.password_file"); err != nil {
		return Config{}, err
	}

	if cfg.Database.URL == "" {
		return Config{}, errors.New("database.url is required")
	}
	if cfg.Database.MaxConns <= 0 {
		return Config{}, errors.New("database.max_conns must be greater than 0")
	}
	if cfg.Database.PingTimeout <= 0 {
		return Config{}, errors.New("database.ping_timeout must be greater than 0")
	}
	if len(cfg.CORS.AllowOrigins) == 0 {
		return Config{}, errors.New("cors.allow_origins must not be empty")
	}
	for _, origin := range cfg.CORS.AllowOrigins {
		if strings.TrimSpace(origin) == "*" {
			return Config{}, errors.New("cors.allow_origins must not contain wildcard *")
		}
	}
	if cfg.Game.MaxRedemptionsPerDay < 0 {
		return Config{}, errors.New("game.max_redemptions_per_day must not be negative")
	}

	return cfg, nil
}

func readSecretFile(target *string, path, key string) error {
	if strings.TrimSpace(*target) != "" || strings.TrimSpace(path) == "" {
		return nil
	}
	// #nosec G304 -- path is provided by operator config.
	raw, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return fmt.Errorf("read %s failed: %w", key, err)
	}
	*target = strings.TrimSpace(string(raw))
	return nil
}

func gameConfig(cfg Config) (service.GameConfig, error) {
	startAt, err := parseOptionalTime(cfg.Game.StartAt)
	if err != nil {
		return service.GameConfig{}, fmt.Errorf("game.start_at: %w", err)
	}
	endAt, err := parseOptionalTime(cfg.Game.EndAt)
	if err != nil {
		return service.GameConfig{}, fmt.Errorf("game.end_at: %w", err)
	}
	if startAt != nil && endAt != nil && !endAt.After(*startAt) {
		return service.GameConfig{}, errors.New("game.end_at must be after game.start_at")
	}

	return service.GameConfig{
		StartAt:              startAt,
		EndAt:                endAt,
		RequireVerifiedEmail: cfg.Game.RequireVerifiedEmail,
		MaxRedemptionsPerDay: cfg.Game.MaxRedemptionsPerDay,
		CodeAttemptFactor:    cfg.Game.CodeAttemptFactor,
	}, nil
}

func parseOptionalTime(raw string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func newLogger(cfg Config) (*zap.Logger, *systemlog.SystemLogStore, error) {
	var zapCfg zap.Config
	if strings.EqualFold(cfg.App.Env, "development") {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	if cfg.Log.Level != "" {
		if err := zapCfg.Level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log.level: %w", err)
		}
	}
	if cfg.Log.Encoding != "" {
		zapCfg.Encoding = cfg.Log.Encoding
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build zap logger failed: %w", err)
	}

	logStore := systemlog.NewSystemLogStore(cfg.Log.Buffer)
	logger = systemlog.WrapZapLogger(logger, logStore)
	return logger, logStore, nil
}

func newDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database.url failed: %w", err)
	}

	const maxInt32 = int(^uint32(0) >> 1)
	if cfg.Database.MaxConns > maxInt32 {
		return nil, fmt.Errorf("database.max_conns must be <= %d", maxInt32)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns) // #nosec G115 -- validated upper bound above.

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.PingTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database failed: %w", err)
	}

	return pool, nil
}

// newCache prefers Redis so counters and the maintenance flag are shared across instances.
// Without redis.addr every instance keeps its own state.
func newCache(cfg Config, logger *zap.Logger) cache.Cache {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		logger.Warn("redis.addr not set, using in-process cache")
		return cache.NewMemoryCache()
	}

	redisCache := cache.NewRedisCache(cache.RedisOptions{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.PingTimeout)
	defer cancel()
	if err := redisCache.Ping(ctx); err != nil {
		logger.Warn("redis unreachable at startup, requests fail open until it recovers",
			zap.String("addr", addr),
			zap.Error(err),
		)
	}
	return redisCache
}

func newMailer(cfg Config, logger *zap.Logger) (mailer.Mailer, error) {
	if strings.TrimSpace(cfg.Mail.Host) == "" {
		logger.Warn("mail.host not set, emails are logged instead of sent")
		return mailer.NewLogMailer(logger), nil
	}
	return mailer.NewSMTPMailer(mailer.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		TLS:      cfg.Mail.TLS,
	})
}

func buildCORSMiddleware(cfg Config) gin.HandlerFunc {
	origins := make([]string, 0, len(cfg.CORS.AllowOrigins))
	for _, origin := range cfg.CORS.AllowOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		origins = append(origins, trimmed)
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Last-Event-ID"},
		ExposeHeaders:    []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func registerPprofRoutes(router *gin.Engine) {
	pprofGroup := router.Group("/debug/pprof")
	pprofGroup.GET("/", gin.WrapF(pprof.Index))
	pprofGroup.GET("/cmdline", gin.WrapF(pprof.Cmdline))
	pprofGroup.GET("/profile", gin.WrapF(pprof.Profile))
	pprofGroup.GET("/symbol", gin.WrapF(pprof.Symbol))
	pprofGroup.POST("/symbol", gin.WrapF(pprof.Symbol))
	pprofGroup.GET("/trace", gin.WrapF(pprof.Trace))
	pprofGroup.GET("/heap", gin.WrapH(pprof.Handler("heap")))
	pprofGroup.GET("/goroutine", gin.WrapH(pprof.Handler("goroutine")))
}

func loadRSAPrivateKey() (*rsa.PrivateKey, error) {
	pem := strings.TrimSpace(os.Getenv("TIPTOP_JWT_PRIVATE_KEY"))
	if pem == "" {
		path := strings.TrimSpace(os.Getenv("TIPTOP_JWT_PRIVATE_KEY_FILE"))
		if path != "" {
			// #nosec G304 -- path is provided by operator environment variable.
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			pem = string(raw)
		}
	}
	if pem == "" {
		return nil, errors.New("jwt private key not configured")
	}

	return jwt.ParseRSAPrivateKeyFromPEM([]byte(pem))
}

func runMigrateCommand() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}

	migrationDir := "/migrations"
	if _, statErr := os.Stat(migrationDir); statErr != nil {
		migrationDir = "./migrations"
	}

	if err := runMigrateUp("file://"+migrationDir, cfg.Database.URL); err != nil {
		return err
	}

	fmt.Println("migrations applied successfully")
	return nil
}

func runMigrateUp(sourceURL, databaseURL string) error {
	migrator, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrator failed: %w", err)
	}
	defer migrator.Close() //nolint:errcheck

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations failed: %w", err)
	}
	return nil
}

// openCLIPool connects with a small pool for one-shot subcommands.
func openCLIPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database config failed: %w", err)
	}
	poolCfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database failed: %w", err)
	}
	return pool, nil
}

func runCreateAdminCommand(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}

	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var email, password, firstName, lastName string
	fs.StringVar(&email, "email", "", "admin email")
	fs.StringVar(&password, "password", "", "admin password")
	fs.StringVar(&firstName, "first-name", "Admin", "admin first name")
	fs.StringVar(&lastName, "last-name", "Thé Tip Top", "admin last name")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(email) == "" {
		return errors.New("email is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := openCLIPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	repos := newRepositories(pool)
	userSvc := service.NewUserService(repos.users, repos.codes, repos.tokens, repos.audit, zap.NewNop())
	user, err := userSvc.Create(ctx, service.CreateUserRequest{
		Email:         email,
		PasswordPlain: password,
		FirstName:     firstName,
		LastName:      lastName,
		Role:          model.RoleAdmin,
		EmailVerified: true,
	})
	switch {
	case errors.Is(err, service.ErrEmailInUse):
		fmt.Printf("user '%s' already exists, skip\n", strings.TrimSpace(email))
		return nil
	case errors.Is(err, service.ErrWeakPassword):
		return errors.New("password must be at least 8 characters and mix letters and digits")
	case err != nil:
		return fmt.Errorf("create admin failed: %w", err)
	}

	fmt.Printf("admin '%s' created with id %s\n", user.Email, user.ID)
	return nil
}

func runSeedCodesCommand(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}

	fs := flag.NewFlagSet("seed-codes", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var total int
	var adminEmail string
	fs.IntVar(&total, "total", 0, "number of codes to generate across active gains")
	fs.StringVar(&adminEmail, "admin-email", "", "admin account recorded as the operator")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if total <= 0 {
		return errors.New("-total must be greater than 0")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	pool, err := openCLIPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	repos := newRepositories(pool)
	operator, err := repos.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(adminEmail)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("admin '%s' not found", adminEmail)
		}
		return fmt.Errorf("lookup admin failed: %w", err)
	}
	if operator.Role != model.RoleAdmin {
		return fmt.Errorf("'%s' is not an admin", operator.Email)
	}

	started := time.Now()
	batches, err := newCodeService(repos, cfg, zap.NewNop()).SeedDistribution(ctx, operator.ID.String(), total)
	if err != nil {
		return fmt.Errorf("seed codes failed: %w", err)
	}

	generated := 0
	for _, batch := range batches {
		generated += batch.Count
		fmt.Printf("%-40s %8d  batch %s\n", batch.GainName, batch.Count, batch.BatchID)
	}
	fmt.Printf("%d codes generated in %s\n", generated, time.Since(started).Round(time.Millisecond))
	return nil
}

func runHealthcheck() int {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	port := strings.TrimSpace(os.Getenv("TIPTOP_SERVER_PORT"))
	if port == "" {
		port = "8080"
	}

	resp, err := client.Get("http://localhost:" + port + "/health/ready")
	if err != nil {
		return 1
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

func exitOnCLIError(err error) {
	if err == nil {
		return
	}
	// #nosec G705 -- CLI output only; control characters are stripped.
	fmt.Fprintln(os.Stderr, sanitizeCLIError(err))
	os.Exit(1)
}

func sanitizeCLIError(err error) string {
	if err == nil {
		return ""
	}

	text := strings.ReplaceAll(err.Error(), "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	return strings.TrimSpace(text)
}
