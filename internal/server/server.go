package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/VinMeld/go-dm/internal/auth"
	"github.com/VinMeld/go-dm/internal/clock"
	"github.com/VinMeld/go-dm/internal/config"
	"github.com/VinMeld/go-dm/internal/conversation"
	"github.com/VinMeld/go-dm/internal/crypto"
	"github.com/VinMeld/go-dm/internal/fanout"
	"github.com/VinMeld/go-dm/internal/messaging"
	"github.com/VinMeld/go-dm/internal/readstatus"
	"github.com/VinMeld/go-dm/internal/store"
	"github.com/VinMeld/go-dm/internal/transport"
)

const shutdownTimeout = 10 * time.Second

// ErrOpenInternalEndpoints is returned by NewServer when no registration
// token guards the account-service endpoints outside debug mode.
var ErrOpenInternalEndpoints = errors.New("server.registrationToken is required unless server.debug is set")

// Options carries already-built dependencies. NewServer assembles them
// from configuration; tests build them directly.
type Options struct {
	Store  store.Store
	Cipher *crypto.Gateway
	Blobs  BlobStore
	Tokens *auth.Tokens
	Clock  clock.Clock
	Logger *slog.Logger

	// Redis enables the cross-instance relay.
	Redis *redis.Client
	// Publisher replaces the hub or relay as the event sink. Sockets are
	// still served by the hub.
	Publisher fanout.Publisher

	Addr              string
	Debug             bool
	RegistrationToken string
	AllowOrigins      []string
	PublicURL         string
	SweepInterval     time.Duration
	ReadStatusTTL     time.Duration
}

// Server represents the HTTP server and its background workers.
type Server struct {
	Addr    string
	Handler *Handler
	Server  *http.Server
	Janitor *messaging.Janitor

	store  store.Store
	hub    *fanout.Hub
	relay  *fanout.RedisRelay
	redis  *redis.Client
	logger *slog.Logger
}

// NewServer opens the store, blob storage and optional Redis named by cfg.
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Server.RegistrationToken == "" {
		if !cfg.Server.Debug {
			return nil, ErrOpenInternalEndpoints
		}
		logger.Warn("Registration token not set; internal user endpoints are open")
	}
	key, err := crypto.ParseKey(cfg.Crypto.MessageKey)
	if err != nil {
		return nil, err
	}
	gw, err := crypto.NewGateway(key)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, nil)
	if err != nil {
		return nil, err
	}

	st, err := OpenStore(ctx, cfg.Store, cfg.Expiry.ReadStatusRetention, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	var blobs BlobStore
	if cfg.Blob.Type == "s3" {
		logger.Info("Using S3 Storage", "bucket", cfg.Blob.Bucket)
		blobs, err = NewS3BlobStore(ctx, cfg.Blob.Bucket, cfg.Blob.Region)
	} else {
		logger.Info("Using Local Storage", "dir", cfg.Blob.Dir)
		blobs, err = NewLocalBlobStore(cfg.Blob.Dir)
	}
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("redis unreachable: %w", err)
		}
		logger.Info("Cross-instance relay enabled", "addr", cfg.Redis.Addr)
	}


	return New(Options{
		Store:             st,
		Cipher:            gw,
		Blobs:             blobs,
		Tokens:            tokens,
		Logger:            logger,
		Redis:             rdb,
		Addr:              cfg.Server.Addr,
		Debug:             cfg.Server.Debug,
		RegistrationToken: cfg.Server.RegistrationToken,
		AllowOrigins:      cfg.Server.AllowOrigins,
		PublicURL:         cfg.Server.PublicURL,
		SweepInterval:     cfg.Expiry.SweepInterval,
		ReadStatusTTL:     cfg.Expiry.ReadStatusRetention,
	}), nil
}

// New wires the services, fanout and router around opts.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	addr := opts.Addr
	if addr == "" {
		addr = transport.DefaultServerAddr
	}

	hub := fanout.NewHub(fanout.HubConfig{Logger: logger, CheckOrigin: originChecker(opts.AllowOrigins)})
	var (
		publisher fanout.Publisher = hub
		relay     *fanout.RedisRelay
	)
	if opts.Redis != nil {
		relay = fanout.NewRedisRelay(opts.Redis, hub, logger)
		hub.SetUpstream(relay)
		publisher = relay
	}
	if opts.Publisher != nil {
		publisher = opts.Publisher
	}

	tracker := readstatus.NewTracker(readstatus.Config{
		Store:     opts.Store,
		Directory: opts.Store,
		Clock:     clk,
		Retention: opts.ReadStatusTTL,
		Logger:    logger,
	})
	var remover messaging.BlobRemover
	if opts.Blobs != nil {
		remover = opts.Blobs
	}
	svc := messaging.NewService(messaging.Config{
		Store:      opts.Store,
		Cipher:     opts.Cipher,
		ReadStatus: tracker,
		Blobs:      remover,
		Clock:      clk,
		Logger:     logger,
	})
	agg := conversation.NewAggregator(conversation.Config{
		Messages:   opts.Store,
		ReadStatus: opts.Store,
		Directory:  opts.Store,
		Revealer:   opts.Cipher,
		Clock:      clk,
		Logger:     logger,
	})
	janitor := messaging.NewJanitor(messaging.JanitorConfig{
		Messages:  opts.Store,
		Tracker:   tracker,
		Blobs:     remover,
		Publisher: publisher,
		Clock:     clk,
		Interval:  opts.SweepInterval,
		Logger:    logger,
	})

	h := NewHandler(HandlerConfig{
		Service:           svc,
		Aggregator:        agg,
		Tracker:           tracker,
		Publisher:         publisher,
		Hub:               hub,
		Blobs:             opts.Blobs,
		Tokens:            opts.Tokens,
		Logger:            logger,
		Debug:             opts.Debug,
		RegistrationToken: opts.RegistrationToken,
		PublicURL:         opts.PublicURL,
	})

	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	r.Use(cors.New(corsConfig(opts.AllowOrigins)))
	h.Register(r)

	return &Server{
		Addr:    addr,
		Handler: h,
		Server:  &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second},
		Janitor: janitor,
		store:   opts.Store,
		hub:     hub,
		relay:   relay,
		redis:   opts.Redis,
		logger:  logger,
	}
}

// RunWorkers starts the hub, the relay and the janitor. They stop when
// ctx is done.
func (s *Server) RunWorkers(ctx context.Context) {
	go s.hub.Run(ctx)
	if s.relay != nil {
		go func() {
			if err := s.relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("relay stopped", "error", err)
			}
		}()
	}
	go s.Janitor.Run(ctx)
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.RunWorkers(ctx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", "addr", s.Server.Addr)
		errc <- s.Server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Server shutting down")
	if err := s.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// Close releases the store and Redis client.
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowHeaders = append(c.AllowHeaders, "Authorization", transport.RegistrationTokenHeader)
	c.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
	return c
}

func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		return nil
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
