package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bluesky-social/sentinel/safety/countstore"
	"github.com/bluesky-social/sentinel/safety/engine"
	"github.com/bluesky-social/sentinel/safety/gateway"
	"github.com/bluesky-social/sentinel/safety/notify"
	"github.com/bluesky-social/sentinel/safety/oracle"
	"github.com/bluesky-social/sentinel/safety/store"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Server struct {
	streamURL string
	logger    *slog.Logger
	engine    *engine.Engine
	store     *store.Store
	reports   *reportCache
	rdb       *redis.Client
	echo      *echo.Echo
	httpd     *http.Server
	lastSeq   int64
}

type Config struct {
	Logger          *slog.Logger
	Policy          engine.Policy
	EventStreamURL  string
	GatewayHost     string
	GatewayToken    string
	OracleURL       string
	OracleAPIKey    string
	OracleModel     string
	OracleRateLimit float64
	RedisURL        string
	SlackWebhookURL string
	Bind            string
}

func NewServer(db *gorm.DB, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	if config.EventStreamURL != "" && !strings.HasPrefix(config.EventStreamURL, "ws") {
		return nil, fmt.Errorf("specified event stream URL must include 'ws://' or 'wss://'")
	}

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		return nil, err
	}

	var counters countstore.CountStore
	var rdb *redis.Client
	if config.RedisURL != "" {
		// shared client, for counters, cursor state and the report cache
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		// check redis connection
		_, err = rdb.Ping(context.TODO()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis ping failed: %v", err)
		}

		counters = countstore.NewRedisCountStore(rdb)
	} else {
		counters = countstore.NewMemCountStore()
	}

	var judge oracle.Judge = oracle.Unconfigured{}
	if config.OracleURL != "" {
		client, err := oracle.NewChatClient(oracle.ClientConfig{
			BaseURL:           config.OracleURL,
			APIKey:            config.OracleAPIKey,
			Model:             config.OracleModel,
			Temperature:       0.1,
			MaxRetries:        2,
			RequestsPerSecond: config.OracleRateLimit,
			Logger:            logger,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring oracle client: %w", err)
		}
		judge = oracle.NewLLMJudge(client, config.Policy.OracleTimeout, logger)
	} else {
		logger.Warn("no oracle configured: investigations will record no verdict, and appeals will be denied")
	}

	gw := gateway.NewHTTPGateway(config.GatewayHost, config.GatewayToken, config.Policy.GatewayTimeout, logger)

	notifiers := notify.Multi{&notify.GatewayNotifier{Gateway: gw}}
	if config.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(config.SlackWebhookURL))
	}

	eng, err := engine.NewEngine(engine.Config{
		Logger:   logger,
		Policy:   config.Policy,
		Store:    st,
		Judge:    judge,
		Gateway:  gw,
		Notifier: notifiers,
		Counters: counters,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		streamURL: config.EventStreamURL,
		logger:    logger,
		engine:    eng,
		store:     st,
		reports:   newReportCache(st, rdb),
		rdb:       rdb,
	}
	s.echo = s.newAPI()
	s.httpd = &http.Server{
		Handler:        s.echo,
		Addr:           config.Bind,
		WriteTimeout:   time.Minute,
		ReadTimeout:    time.Minute,
		MaxHeaderBytes: 1024 * 1024,
	}
	return s, nil
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

// Serves the operator API until the context is cancelled, then shuts down gracefully.
func (s *Server) RunAPI(ctx context.Context) error {
	s.logger.Info("starting API server", "bind", s.httpd.Addr)
	errc := make(chan error, 1)
	go func() {
		if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("HTTP server shutting down unexpectedly: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpd.Shutdown(sctx)
}

var cursorKey = "sentinel/seq"

func (s *Server) ReadLastCursor(ctx context.Context) (int64, error) {
	// if redis isn't configured, just skip
	if s.rdb == nil {
		s.logger.Info("redis not configured, skipping cursor read")
		return 0, nil
	}

	val, err := s.rdb.Get(ctx, cursorKey).Int64()
	if err == redis.Nil {
		s.logger.Info("no pre-existing cursor in redis")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading cursor: %w", err)
	}
	s.logger.Info("successfully found prior stream cursor seq in redis", "seq", val)
	return val, nil
}

func (s *Server) PersistCursor(ctx context.Context) error {
	// if redis isn't configured, just skip
	if s.rdb == nil {
		return nil
	}
	seq := atomic.LoadInt64(&s.lastSeq)
	if seq <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, cursorKey, seq, 14*24*time.Hour).Err()
}

// this method runs in a loop, persisting the current cursor state every 5 seconds
func (s *Server) RunPersistCursor(ctx context.Context) error {

	// if redis isn't configured, just skip
	if s.rdb == nil {
		return nil
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("persisting final cursor seq value", "seq", atomic.LoadInt64(&s.lastSeq))
			// the run context is already cancelled
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.PersistCursor(fctx)
			cancel()
			if err != nil {
				s.logger.Error("failed to persist cursor", "err", err)
			}
			return nil
		case <-ticker.C:
			if err := s.PersistCursor(ctx); err != nil {
				s.logger.Error("failed to persist cursor", "err", err, "seq", atomic.LoadInt64(&s.lastSeq))
			}
		}
	}
}
