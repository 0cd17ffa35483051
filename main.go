package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/socialmap/socialmap/backend/go-services/handlers"
	"github.com/socialmap/socialmap/backend/go-services/internal/auth"
	"github.com/socialmap/socialmap/backend/go-services/internal/config"
	"github.com/socialmap/socialmap/backend/go-services/internal/database"
	"github.com/socialmap/socialmap/backend/go-services/internal/oidc"
	"github.com/socialmap/socialmap/backend/go-services/internal/password"
	"github.com/socialmap/socialmap/backend/go-services/internal/storage"
	"github.com/socialmap/socialmap/backend/go-services/internal/tokens"
	"github.com/socialmap/socialmap/backend/go-services/internal/users"
	"github.com/socialmap/socialmap/backend/go-services/pkg/logger"
	"github.com/socialmap/socialmap/backend/go-services/pkg/metrics"
	"github.com/socialmap/socialmap/backend/go-services/pkg/middleware"
	"go.mongodb.org/mongo-driver/mongo"
)

var startTime = time.Now()

func main() {
	// LOG_LEVEL: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: mongo=%v redis=%v google=%v minio=%v",
		cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.Google.ClientID != "", cfg.MinIO.Endpoint != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, mongoClient, err := openUserStore(ctx, cfg, 5)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	if mongoClient != nil {
		defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	}

	hasher := password.NewHasher(cfg.Password.BcryptCost)
	userSvc := users.NewService(repo, hasher)
	issuer := tokens.NewIssuer(cfg.JWT.Secret, cfg.JWT.Expiration)

	// Identity-provider token verification
	var verifier oidc.IdentityVerifier
	if cfg.Google.ClientID != "" {
		v, err := oidc.NewVerifier(ctx, cfg.Google.Issuer, cfg.Google.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			verifier = v
		}
	}
	if verifier == nil && cfg.Google.AllowInsecure {
		logger.Warn("enabling insecure OIDC verifier (integration mode)")
		verifier = oidc.NewInsecureVerifier()
	}
	if cfg.Google.RequireVerified && verifier == nil {
		logger.Warn("FEDERATED_REQUIRE_VERIFIED is set but no verifier is available; federated login will be rejected")
	}

	authOpts := []auth.Option{auth.WithRequireVerified(cfg.Google.RequireVerified)}
	if verifier != nil {
		authOpts = append(authOpts, auth.WithVerifier(verifier))
	}
	authn := auth.NewAuthenticator(userSvc, hasher, issuer, authOpts...)
	session := middleware.NewSession(issuer, userSvc)

	handlerOpts := []handlers.AuthOption{handlers.WithFrontendURL(cfg.Server.FrontendURL)}
	if cfg.Google.ClientID != "" && cfg.Google.ClientSecret != "" && cfg.Google.RedirectURL != "" && verifier != nil {
		flow := oidc.NewGoogleFlow(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL, oidc.GoogleEndpoint, verifier)
		handlerOpts = append(handlerOpts, handlers.WithGoogleFlow(flow))
	}
	var avatars *storage.MinIOStorage
	if cfg.MinIO.Endpoint != "" {
		avatars, err = storage.NewMinIOStorage(ctx, cfg.MinIO)
		if err != nil {
			logger.Warnf("avatar storage unavailable: %v", err)
		} else {
			handlerOpts = append(handlerOpts, handlers.WithAvatarStore(avatars))
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
		} else {
			logger.Infof("Connected to Redis: %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	var limit gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			limit = middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win)
		} else {
			limit = middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		}
	}

	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), cors(cfg.Server.CORSOrigin))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness: 200 only when configured dependencies answer
	r.GET("/ready", func(c *gin.Context) {
		rctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		ready := true
		deps := map[string]bool{}
		if cfg.MongoDB.URI != "" {
			deps["mongo"] = mongoClient != nil && mongoClient.Ping(rctx, nil) == nil
			ready = ready && deps["mongo"]
		}
		if cfg.RateLimit.UseRedis && redisClient != nil {
			deps["redis"] = redisClient.Ping(rctx).Err() == nil
			ready = ready && deps["redis"]
		}
		if cfg.Google.RequireVerified {
			deps["oidc"] = verifier != nil
			ready = ready && deps["oidc"]
		}
		if avatars != nil {
			deps["minio"] = avatars.Ping(rctx) == nil
		}
		status, code := "ready", http.StatusOK
		if !ready {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	h := handlers.NewAuthHandler(authn, session, issuer, handlerOpts...)
	h.Register(r.Group("/api"), limit)
	handlers.RegisterSwagger(r)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("Starting auth service on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("graceful shutdown failed: %v", err)
	}
}

// openUserStore connects the MongoDB credential store. Outside production an
// unconfigured or unreachable database falls back to the in-memory store.
func openUserStore(ctx context.Context, cfg *config.Config, attempts int) (users.UserRepository, *mongo.Client, error) {
	if cfg.MongoDB.URI == "" {
		if cfg.Server.IsProduction() {
			return nil, nil, errors.New("MONGODB_URI is required in production")
		}
		logger.Warn("using in-memory user store; accounts are lost on restart")
		return users.NewMemoryRepository(), nil, nil
	}
	client, err := database.ConnectWithRetry(ctx, cfg.MongoDB, attempts)
	if err != nil {
		if cfg.Server.IsProduction() {
			return nil, nil, err
		}
		logger.Errorf("%v; falling back to in-memory user store", err)
		return users.NewMemoryRepository(), nil, nil
	}
	repo := users.NewMongoUserRepository(database.Users(client, cfg.MongoDB))
	if err := repo.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to create user indexes: %w", err)
	}
	return repo, client, nil
}

// cors sets common headers and answers preflight requests.
func cors(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
