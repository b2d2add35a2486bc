package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("sentinel/oracle")

var oracleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "sentinel_oracle_duration_sec",
	Help: "Duration of oracle calls, including retries",
}, []string{"op"})

// Default upper bound on a single oracle round-trip, including retries.
const DefaultTimeout = 30 * time.Second

// Judge implementation which renders evidence into prompts and parses labeled-field responses from a Completer.
type LLMJudge struct {
	Completer Completer
	Timeout   time.Duration
	Logger    *slog.Logger
}

func NewLLMJudge(c Completer, timeout time.Duration, logger *slog.Logger) *LLMJudge {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMJudge{
		Completer: c,
		Timeout:   timeout,
		Logger:    logger.With("subsystem", "oracle"),
	}
}

func (j *LLMJudge) complete(ctx context.Context, op, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()

	start := time.Now()
	raw, err := j.Completer.Complete(ctx, systemPrompt, prompt)
	oracleDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		j.Logger.Warn("oracle call failed", "op", op, "err", err)
		return "", fmt.Errorf("%w: %w", ErrNoVerdict, err)
	}
	if strings.TrimSpace(raw) == "" {
		span.SetStatus(codes.Error, "empty response")
		return "", fmt.Errorf("%w: empty response", ErrNoVerdict)
	}
	return raw, nil
}

func (j *LLMJudge) Investigate(ctx context.Context, ev Evidence) (*Verdict, error) {
	prompt, err := renderInvestigation(ev)
	if err != nil {
		return nil, fmt.Errorf("rendering investigation prompt: %w", err)
	}
	raw, err := j.complete(ctx, "Investigate", prompt)
	if err != nil {
		return nil, err
	}
	v := ParseVerdict(raw)
	j.Logger.Info("investigation verdict", "user", ev.Subject.UserID, "community", ev.Subject.CommunityID, "level", v.Label, "recommend", v.RecommendedAction, "confidence", v.Confidence)
	return v, nil
}

func (j *LLMJudge) ReviewAppeal(ctx context.Context, ev Evidence) (*AppealVerdict, error) {
	prompt, err := renderAppeal(ev)
	if err != nil {
		return nil, fmt.Errorf("rendering appeal prompt: %w", err)
	}
	raw, err := j.complete(ctx, "ReviewAppeal", prompt)
	if err != nil {
		return nil, err
	}
	v := ParseAppealVerdict(raw)
	j.Logger.Info("appeal verdict", "user", ev.Subject.UserID, "community", ev.Subject.CommunityID, "decision", v.Decision, "confidence", v.Confidence)
	return v, nil
}

func (j *LLMJudge) Summarize(ctx context.Context, stats ReportStats) (string, error) {
	prompt, err := renderSummary(stats)
	if err != nil {
		return "", fmt.Errorf("rendering summary prompt: %w", err)
	}
	raw, err := j.complete(ctx, "Summarize", prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}
