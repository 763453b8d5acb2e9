package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/econtest/internal/api"
	"github.com/victornm/econtest/internal/cache"
	"github.com/victornm/econtest/internal/catalog"
	"github.com/victornm/econtest/internal/event"
	"github.com/victornm/econtest/internal/identity"
	"github.com/victornm/econtest/internal/leaderboard"
	"github.com/victornm/econtest/internal/score"
	"github.com/victornm/econtest/internal/seed"
	"github.com/victornm/econtest/internal/stepstore"
	"github.com/victornm/econtest/internal/store/memory"
	"github.com/victornm/econtest/internal/store/postgres"
	"github.com/victornm/econtest/internal/telemetry"
	"github.com/victornm/econtest/internal/wizard"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendCookie = "cookie"
)

type PostgresConfig struct {
	Addr    string
	User    string
	Pass    string
	Name    string
	SSLMode string `mapstructure:"ssl_mode"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s", c.User, c.Pass, c.Addr, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

type Config struct {
	HTTP struct {
		Port         int32
		StaffOrigins []string `mapstructure:"staff_origins"`
	}

	GRPC struct {
		Port int32
	}

	// Postgres without an address runs the service on the in-memory store seeded with the demo contest.
	Postgres PostgresConfig

	Redis RedisConfig

	Cache struct {
		Backend string
		TTL     time.Duration
	}

	Steps struct {
		Backend      string
		CookieDomain string        `mapstructure:"cookie_domain"`
		CookiePath   string        `mapstructure:"cookie_path"`
		MaxAge       time.Duration `mapstructure:"max_age"`
		Secure       bool
	}

	Auth struct {
		Secret string
		Cookie string
	}

	Log telemetry.LogConfig
}

// DefaultConfig holds the values used for keys missing from the config file.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Postgres.SSLMode = "disable"
	c.Redis.Prefix = "econtest"
	c.Cache.Backend = BackendMemory
	c.Cache.TTL = time.Hour
	c.Steps.Backend = BackendCookie
	c.Steps.CookiePath = "/"
	c.Steps.MaxAge = stepstore.DefaultMaxAge
	c.Auth.Cookie = "auth"
	c.Log = telemetry.LogConfig{Level: "info", Format: "json"}
	return c
}

// store is everything the services persist.
type store interface {
	catalog.Store
	wizard.Store
	score.Store
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
		store    store
		cache    cache.Cache
		steps    stepstore.Backend
	}

	service struct {
		catalog *catalog.Service
		wizard  *wizard.Service
		score   *score.Service

		// leaderboard runs only with redis.
		leaderboard *leaderboard.Service
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	switch s.c.Cache.Backend {
	case "", BackendMemory:
		s.infra.cache = cache.NewMemory()
	case BackendRedis:
		if s.infra.redis == nil {
			return fmt.Errorf("cache: redis backend needs redis.addrs")
		}
		s.infra.cache = cache.NewRedis(s.infra.redis, s.c.Redis.Prefix)
	default:
		return fmt.Errorf("cache: unknown backend %q", s.c.Cache.Backend)
	}

	cookie := stepstore.CookieConfig{
		Domain: s.c.Steps.CookieDomain,
		Path:   s.c.Steps.CookiePath,
		MaxAge: s.c.Steps.MaxAge,
		Secure: s.c.Steps.Secure,
	}
	switch s.c.Steps.Backend {
	case "", BackendCookie:
		s.infra.steps = stepstore.NewCookies(cookie)
	case BackendRedis:
		if s.infra.redis == nil {
			return fmt.Errorf("steps: redis backend needs redis.addrs")
		}
		s.infra.steps = stepstore.NewRedis(stepstore.RedisConfig{
			Client: s.infra.redis,
			Prefix: s.c.Redis.Prefix,
			Cookie: cookie,
		})
	default:
		return fmt.Errorf("steps: unknown backend %q", s.c.Steps.Backend)
	}

	return nil
}

// ConnectRedis returns a monitored client for c.
func ConnectRedis(ctx context.Context, c RedisConfig) (redis.UniversalClient, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    c.Addrs,
		Password: c.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return nil, err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return r, nil
}

func (s *Server) initRedis() (err error) {
	if len(s.c.Redis.Addrs) == 0 {
		return nil
	}

	s.infra.redis, err = ConnectRedis(context.Background(), s.c.Redis)
	return err
}

// ConnectPostgres returns a pool for c after a successful ping.
func ConnectPostgres(ctx context.Context, c PostgresConfig) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func (s *Server) initPostgres() (err error) {
	if s.c.Postgres.Addr == "" {
		slog.Warn("server: postgres not configured, contests are kept in memory")
		s.infra.store = memory.NewStore()
		return nil
	}

	s.infra.postgres, err = ConnectPostgres(context.Background(), s.c.Postgres)
	if err != nil {
		return err
	}

	s.infra.store = postgres.NewStore(postgres.Config{DB: s.infra.postgres})
	return nil
}

func (s *Server) initService() error {
	s.service.catalog = catalog.NewService(catalog.Config{
		Store:    s.infra.store,
		Cache:    s.infra.cache,
		EventBus: s.eb,
		TTL:      s.c.Cache.TTL,
	})

	s.service.wizard = wizard.NewService(wizard.Config{
		Catalog:  s.service.catalog,
		Store:    s.infra.store,
		EventBus: s.eb,
	})

	s.service.score = score.NewService(score.Config{
		Catalog:  s.service.catalog,
		Store:    s.infra.store,
		Cache:    s.infra.cache,
		EventBus: s.eb,
	})

	if s.infra.redis != nil {
		s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
			EventBus: s.eb,
			Score:    s.service.score,
			Redis:    s.infra.redis,
			Prefix:   s.c.Redis.Prefix,
		})
	}

	if s.infra.postgres == nil {
		res, err := seed.Apply(context.Background(), s.service.catalog, seed.Default())
		if err != nil {
			return fmt.Errorf("seed demo contest: %w", err)
		}
		slog.Info("server: demo contest seeded", "slug", res.Contest.Slug)
	}

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.Use(gin.Recovery(), telemetry.GinLogger())
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/healthz", s.healthz)
	pprof.Register(e, "/debug/pprof")

	s.grpc = grpc.NewServer(telemetry.GRPCServerOptions()...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	if s.c.Auth.Secret == "" {
		slog.Warn("server: auth.secret not configured, every token is rejected")
	}

	api.New(api.Config{
		Engine:       e,
		EventBus:     s.eb,
		Catalog:      s.service.catalog,
		Wizard:       s.service.wizard,
		Score:        s.service.score,
		Steps:        s.infra.steps,
		Auth:         identity.New(identity.Config{Secret: s.c.Auth.Secret, Cookie: s.c.Auth.Cookie}),
		Redis:        s.infra.redis,
		PubsubPrefix: s.c.Redis.Prefix,
		StaffOrigins: s.c.HTTP.StaffOrigins,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	status := http.StatusOK

	if s.infra.postgres != nil {
		checks["postgres"] = "ok"
		if err := s.infra.postgres.Ping(ctx); err != nil {
			checks["postgres"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	if s.infra.redis != nil {
		checks["redis"] = "ok"
		if err := s.infra.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, checks)
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	if s.service.leaderboard != nil {
		s.service.leaderboard.Stop()
	}
	s.eb.Stop()

	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}
	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
