package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	_ "github.com/redmonkez12/loyalty-card/docs"
	"github.com/redmonkez12/loyalty-card/internal/account"
	"github.com/redmonkez12/loyalty-card/internal/config"
	"github.com/redmonkez12/loyalty-card/internal/database"
	"github.com/redmonkez12/loyalty-card/internal/email"
	httpServer "github.com/redmonkez12/loyalty-card/internal/http"
	"github.com/redmonkez12/loyalty-card/internal/identity"
	"github.com/redmonkez12/loyalty-card/internal/logging"
	"github.com/redmonkez12/loyalty-card/internal/membership"
	"github.com/redmonkez12/loyalty-card/internal/mq"
	"github.com/redmonkez12/loyalty-card/internal/ratelimit"
	"github.com/redmonkez12/loyalty-card/internal/redemption"
	"github.com/redmonkez12/loyalty-card/internal/session"
	"github.com/redmonkez12/loyalty-card/internal/ws"
)

// @title           Loyalty Card Device API
// @version         1.0
// @description     Local API of a loyalty card device: sign-in, card state, staff scanning and live events.

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the session token.

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

// backends are the stores selected by STORE_BACKEND
type backends struct {
	records    account.Store
	identities identity.Store
	limiter    *ratelimit.Limiter
	close      func()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(cfg.Server.IsDevelopment())
	logger.Info("starting loyalty card device",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"store", cfg.Loyalty.StoreBackend,
		"token_format", cfg.Auth.TokenFormat,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	tokens, err := identity.NewTokenService(cfg.Auth.TokenFormat, cfg.Auth.PasetoKey, cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize token service: %w", err)
	}

	policy, err := session.LoadPolicy(cfg.Loyalty.VerificationPolicyFile)
	if err != nil {
		return fmt.Errorf("failed to load verification policy: %w", err)
	}
	logger.Info("verification policy loaded", "exempt", policy.Len())

	emailService := email.NewService(newSender(cfg.Email, logger), cfg.Email.FromAddress, cfg.Email.FrontendURL, logger)

	var cooldown identity.Cooldown
	if be.limiter != nil {
		cooldown = be.limiter
	}

	identities := identity.NewService(
		be.identities,
		tokens,
		identity.NewFileSessionStore(cfg.Auth.SessionFile),
		emailService,
		cooldown,
		logger,
		identity.Options{
			TokenDuration:    cfg.Auth.TokenDuration,
			RecentAuthWindow: cfg.Auth.RecentAuthWindow,
			ResendCooldown:   cfg.Loyalty.ResendCooldown,
		},
	)

	var publisher redemption.Publisher
	if cfg.MQ.URL != "" {
		broker, err := mq.Connect(ctx, cfg.MQ.URL, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to message broker: %w", err)
		}
		defer broker.Close()

		if err := broker.DeclareTopicExchange(cfg.MQ.Exchange); err != nil {
			return fmt.Errorf("failed to declare exchange: %w", err)
		}
		publisher = mq.NewRedemptionPublisher(broker, cfg.MQ.Exchange, logger)
	}

	protocol := redemption.NewProtocol(be.records, publisher, logger)
	controller := session.NewController(identities, be.records, protocol, session.NewGrantingCamera(logger), policy, logger)
	protocol.SetListener(controller.NotifyOutcome)

	authMiddleware := identity.NewMiddleware(tokens, identities)
	scannerHandler := redemption.NewHandler(protocol)

	hub := ws.NewHub(func(token string) (string, error) {
		ident, err := authMiddleware.Authenticate(token)
		if err != nil {
			return "", err
		}
		return ident.ID, nil
	}, cfg.Server.TrustedOrigins, logger)
	hub.SetMessageHandler(scannerHandler.HandleMessage)

	events, cancelEvents := controller.Events()
	defer cancelEvents()

	identityStates, stopIdentityStates := identities.Watch()
	defer stopIdentityStates()

	go hub.Run(ctx)
	go ws.Relay(ctx, hub, "event", events)
	go ws.FollowIdentity(ctx, hub, identityStates, func(st identity.State) string {
		if st.Identity == nil {
			return ""
		}
		return st.Identity.ID
	})

	identities.Start(ctx)

	controllerErrors := make(chan error, 1)
	go func() {
		controllerErrors <- controller.Run(ctx)
	}()

	router := httpServer.NewRouter(cfg, httpServer.Handlers{
		Membership: membership.NewHandler(membership.NewService(identities, be.records, logger), identities, be.limiter),
		Session:    session.NewHandler(controller),
		Scanner:    scannerHandler,
		Events:     hub.ServeWS,
	}, authMiddleware, logger)

	server := httpServer.NewServer(
		ctx,
		":"+cfg.Server.Port,
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		logger,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case err := <-controllerErrors:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("session controller stopped: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

func openBackends(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*backends, error) {
	if cfg.Loyalty.StoreBackend == "memory" {
		logger.Warn("using in-memory stores, nothing survives a restart")
		return &backends{
			records:    account.NewMemoryStore(),
			identities: identity.NewMemoryStore(),
			close:      func() {},
		}, nil
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	redisClient, err := initRedis(ctx, cfg.Redis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	return &backends{
		records:    account.NewRedisStore(account.NewRepository(db), redisClient, logger),
		identities: identity.NewRepository(db),
		limiter:    ratelimit.NewLimiter(redisClient),
		close:      closeAll(db, redisClient),
	}, nil
}

func closeAll(db *bun.DB, redisClient *redis.Client) func() {
	return func() {
		_ = redisClient.Close()
		_ = db.Close()
	}
}

// initRedis initializes the Redis connection and returns a Redis client
func initRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}

func newSender(cfg config.EmailConfig, logger *logging.Logger) email.Sender {
	switch cfg.Provider {
	case "smtp":
		return email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	case "mailgun":
		return email.NewMailgunSender(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunAPIBase)
	default:
		return email.NewLogSender(logger)
	}
}
