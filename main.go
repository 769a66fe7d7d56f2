package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/expensetracker/expensetracker/backend/identity-service/handlers"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/config"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/connectors"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/database"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/handshake"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/oauth"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/providers"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/sessions"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/tokens"
	"github.com/expensetracker/expensetracker/backend/identity-service/internal/users"
	"github.com/expensetracker/expensetracker/backend/identity-service/pkg/logger"
	"github.com/expensetracker/expensetracker/backend/identity-service/pkg/metrics"
	"github.com/expensetracker/expensetracker/backend/identity-service/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

var startTime = time.Now()

func main() {
	// LOG_LEVEL: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: mongo=%v redis=%v microsoft=%v github=%v", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.OAuth.Microsoft.Enabled(), cfg.OAuth.GitHub.Enabled())

	ctx := context.Background()

	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		rdb, err = database.ConnectRedis(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warnf("failed to connect to Redis, falling back to in-memory stores: %v", err)
			rdb = nil
		} else {
			defer func() { _ = rdb.Close() }()
			logger.Infof("connected to Redis %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	var mongoClient *mongo.Client
	if cfg.MongoDB.URI != "" {
		mongoClient, err = database.ConnectMongoRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 5)
		if err != nil {
			logger.Warnf("could not connect to MongoDB, users are kept in memory: %v", err)
			mongoClient = nil
		} else {
			defer func() { _ = mongoClient.Disconnect(ctx) }()
		}
	}

	// users: MongoDB when available
	var userStore users.Store = users.NewMemoryStore()
	if mongoClient != nil {
		repo := users.NewMongoUserRepository(mongoClient.Database(cfg.MongoDB.Database).Collection("users"))
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Warnf("failed to ensure user indexes: %v", err)
		}
		userStore = repo
	}

	// sessions: Redis first, then MongoDB, then memory
	var sessionRepo sessions.Repository = sessions.NewMemoryRepository()
	switch {
	case rdb != nil:
		sessionRepo = sessions.NewRedisRepository(rdb, "session:")
		logger.Infof("using Redis for session storage")
	case mongoClient != nil:
		repo := sessions.NewMongoRepository(mongoClient.Database(cfg.MongoDB.Database).Collection("sessions"))
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Warnf("failed to ensure session indexes: %v", err)
		}
		sessionRepo = repo
	default:
		logger.Warn("no Redis or MongoDB configured; sessions are kept in memory")
	}

	var stateRepo handshake.Repository = handshake.NewMemoryRepository()
	if rdb != nil {
		stateRepo = handshake.NewRedisRepository(rdb, "oauth:state:")
	}

	if cfg.Session.Secret == "" {
		// tokens die with the process
		cfg.Session.Secret = uuid.NewString() + uuid.NewString()
		logger.Warn("using an ephemeral session secret")
	}
	issuer := tokens.NewIssuer(cfg.Session.Secret, cfg.Session.TTL, sessions.NewService(sessionRepo))

	var conns []connectors.Connector
	if cfg.OAuth.Microsoft.Enabled() {
		ms, err := connectors.DiscoverMicrosoft(ctx, cfg.OAuth.Microsoft.Tenant, cfg.OAuth.Microsoft.ClientID,
			cfg.OAuth.Microsoft.ClientSecret, cfg.App.PublicURL+oauth.CallbackPath(providers.Microsoft), cfg.OAuth.AllowInsecureToken)
		if err != nil {
			logger.Warnf("failed to initialize Microsoft connector: %v", err)
		} else {
			conns = append(conns, ms)
		}
	}
	if cfg.OAuth.GitHub.Enabled() {
		conns = append(conns, connectors.NewGitHub(connectors.GitHubConfig{
			ClientID:     cfg.OAuth.GitHub.ClientID,
			ClientSecret: cfg.OAuth.GitHub.ClientSecret,
			RedirectURL:  cfg.App.PublicURL + oauth.CallbackPath(providers.GitHub),
		}))
	}
	connSet := connectors.NewSet(conns...)

	svc := oauth.NewService(oauth.Deps{
		Registry:   providers.Default(),
		Directory:  users.NewDirectory(userStore),
		Handshake:  handshake.NewService(stateRepo, cfg.OAuth.StateTTL),
		Connectors: connSet,
		SignIn:     issuer,
		ClientURL:  cfg.App.ClientURL,
	})

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors(cfg.App.ClientURL))
	r.Use(middleware.OptionalAuth(issuer, cfg.Session.CookieName))

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && rdb != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// ready when at least one provider can be used and configured stores answered
	r.GET("/ready", func(c *gin.Context) {
		deps := map[string]bool{
			"providers": len(connSet) > 0,
			"mongodb":   cfg.MongoDB.URI == "" || mongoClient != nil,
			"redis":     cfg.Redis.Host == "" || rdb != nil,
		}
		ready := true
		for _, ok := range deps {
			ready = ready && ok
		}
		status, code := "ready", http.StatusOK
		if !ready {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	handlers.NewOAuthHandler(svc, issuer, handlers.CookieConfig{
		Name:   cfg.Session.CookieName,
		Secure: cfg.Session.SecureCookies,
	}).Register(r)
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
	logger.Infof("starting identity service on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server failed: %v", err)
	}
}

// cors allows the client origin to call the JSON endpoints with credentials.
func cors(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
