package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bluesky-social/sentinel/safety/classifier"
	"github.com/bluesky-social/sentinel/safety/engine"
	"github.com/bluesky-social/sentinel/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "sentinel",
		Usage:   "autonomous trust-and-safety daemon for chat communities",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/sentinel/sentinel.db",
			EnvVars: []string{"SENTINEL_DATABASE_URL", "DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"SENTINEL_MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.StringFlag{
			Name:    "policy-file",
			Usage:   "YAML file overriding default policy thresholds and adding patterns",
			EnvVars: []string{"SENTINEL_POLICY_FILE"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"SENTINEL_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "gateway-host",
			Usage:   "method, hostname, and port of the chat platform gateway",
			Value:   "http://localhost:8600",
			EnvVars: []string{"SENTINEL_GATEWAY_HOST"},
		},
		&cli.StringFlag{
			Name:    "gateway-token",
			Usage:   "bearer token for the chat platform gateway",
			EnvVars: []string{"SENTINEL_GATEWAY_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "oracle-url",
			Usage:   "base URL of an OpenAI-compatible chat completions API; investigations and appeals are inert without it",
			EnvVars: []string{"SENTINEL_ORACLE_URL"},
		},
		&cli.StringFlag{
			Name:    "oracle-api-key",
			EnvVars: []string{"SENTINEL_ORACLE_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "oracle-model",
			Value:   "gpt-4o-mini",
			EnvVars: []string{"SENTINEL_ORACLE_MODEL"},
		},
		&cli.Float64Flag{
			Name:    "oracle-rate-limit",
			Usage:   "max requests per second to the oracle",
			Value:   1,
			EnvVars: []string{"SENTINEL_ORACLE_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection, for counters, event cursor, and caching",
			EnvVars: []string{"SENTINEL_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "also send operator alerts to this Slack webhook",
			EnvVars: []string{"SENTINEL_SLACK_WEBHOOK_URL", "SLACK_WEBHOOK_URL"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		reportCmd,
		classifyCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context) (*slog.Logger, error) {
	return cliutil.SetupSlog(cliutil.LogOptions{LogLevel: cctx.String("log-level")})
}

func loadPolicy(cctx *cli.Context) (engine.Policy, error) {
	if path := cctx.String("policy-file"); path != "" {
		return engine.LoadPolicyFile(path)
	}
	return engine.DefaultPolicy(), nil
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "event-stream-url",
			Usage:   "websocket URL of the gateway event stream",
			Value:   "ws://localhost:8600/events",
			EnvVars: []string{"SENTINEL_EVENT_STREAM_URL"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3999",
			EnvVars: []string{"SENTINEL_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"SENTINEL_METRICS_LISTEN"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}
		shutdownOTEL := configOTEL(ctx, "sentinel")
		defer shutdownOTEL()

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return err
		}
		policy, err := loadPolicy(cctx)
		if err != nil {
			return err
		}

		srv, err := NewServer(db, Config{
			Logger:          logger,
			Policy:          policy,
			EventStreamURL:  cctx.String("event-stream-url"),
			GatewayHost:     cctx.String("gateway-host"),
			GatewayToken:    cctx.String("gateway-token"),
			OracleURL:       cctx.String("oracle-url"),
			OracleAPIKey:    cctx.String("oracle-api-key"),
			OracleModel:     cctx.String("oracle-model"),
			OracleRateLimit: cctx.Float64("oracle-rate-limit"),
			RedisURL:        cctx.String("redis-url"),
			SlackWebhookURL: cctx.String("slack-webhook-url"),
			Bind:            cctx.String("bind"),
		})
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.engine.Run(ctx) })
		g.Go(func() error { return srv.RunConsumer(ctx) })
		g.Go(func() error { return srv.RunPersistCursor(ctx) })
		g.Go(func() error { return srv.RunAPI(ctx) })
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("failed to run sentinel service: %w", err)
		}
		logger.Info("shutdown complete")
		return nil
	},
}

var reportCmd = &cli.Command{
	Name:  "report",
	Usage: "generate (or fetch, if it already exists) the daily report for one community",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "community",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "date",
			Usage: "UTC day, as YYYY-MM-DD (default: yesterday)",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}
		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}
		policy, err := loadPolicy(cctx)
		if err != nil {
			return err
		}
		srv, err := NewServer(db, Config{
			Logger:          logger,
			Policy:          policy,
			GatewayHost:     cctx.String("gateway-host"),
			GatewayToken:    cctx.String("gateway-token"),
			OracleURL:       cctx.String("oracle-url"),
			OracleAPIKey:    cctx.String("oracle-api-key"),
			OracleModel:     cctx.String("oracle-model"),
			OracleRateLimit: cctx.Float64("oracle-rate-limit"),
			RedisURL:        cctx.String("redis-url"),
			SlackWebhookURL: cctx.String("slack-webhook-url"),
		})
		if err != nil {
			return err
		}

		day := cctx.String("date")
		if day == "" {
			day = time.Now().UTC().Add(-24 * time.Hour).Format(time.DateOnly)
		}
		r, created, err := srv.engine.GenerateReport(ctx, cctx.String("community"), day)
		if err != nil {
			return err
		}
		if !created {
			logger.Info("report already existed, not regenerated", "community", r.CommunityID, "day", day)
		}
		fmt.Println(engine.RenderReport(r))
		return nil
	},
}

var classifyCmd = &cli.Command{
	Name:      "classify",
	Usage:     "run the rule-based classifier on a message and print the verdict",
	ArgsUsage: "<text>",
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() == 0 {
			return fmt.Errorf("need message text as an argument")
		}
		policy, err := loadPolicy(cctx)
		if err != nil {
			return err
		}
		c := classifier.NewClassifier(policy.ClassifierConfig())
		v := c.Classify(classifier.Message{
			UserID:      "cli",
			CommunityID: "cli",
			Text:        strings.Join(cctx.Args().Slice(), " "),
			Timestamp:   time.Now(),
		})
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}
