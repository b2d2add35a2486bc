package engine

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bluesky-social/sentinel/safety/classifier"
	"github.com/bluesky-social/sentinel/safety/countstore"
	"github.com/bluesky-social/sentinel/safety/gateway"
	"github.com/bluesky-social/sentinel/safety/notify"
	"github.com/bluesky-social/sentinel/safety/oracle"
	"github.com/bluesky-social/sentinel/safety/store"
)

const (
	ActionWarn   = store.ActionWarn
	ActionMute   = store.ActionMute
	ActionKick   = store.ActionKick
	ActionBan    = store.ActionBan
	ActionUnmute = store.ActionUnmute
	ActionUnban  = store.ActionUnban
)

var (
	ErrAppealPending    = store.ErrAppealPending
	ErrNoActiveSanction = errors.New("no active sanction to appeal")
	ErrInvalidEvent     = errors.New("invalid event")
)

// Runtime for classifying events, enforcing sanctions, and running the background investigation, sweep, appeal, and report loops.
//
// The hot path (Process* methods) never calls the oracle. Background loops coordinate only through the Store.
type Engine struct {
	Logger     *slog.Logger
	Policy     Policy
	Store      *store.Store
	Classifier *classifier.Classifier
	Judge      oracle.Judge
	Gateway    gateway.Gateway
	Notifier   notify.Notifier
	// daily quota counters (circuit breakers) and activity totals
	Counters countstore.CountStore
	// injectable for tests
	Clock func() time.Time

	queue *InvestigationQueue
	joins *JoinWindow

	raidMu     sync.Mutex
	raidAlerts map[string]time.Time
}

type Config struct {
	Logger   *slog.Logger
	Policy   Policy
	Store    *store.Store
	Judge    oracle.Judge
	Gateway  gateway.Gateway
	Notifier notify.Notifier
	Counters countstore.CountStore
	Clock    func() time.Time
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store == nil || cfg.Judge == nil || cfg.Gateway == nil {
		return nil, errors.New("engine requires a store, a judge, and a gateway")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = &notify.GatewayNotifier{Gateway: cfg.Gateway}
	}
	counters := cfg.Counters
	if counters == nil {
		counters = countstore.NewMemCountStore()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		Logger:     logger,
		Policy:     cfg.Policy,
		Store:      cfg.Store,
		Classifier: classifier.NewClassifier(cfg.Policy.ClassifierConfig()),
		Judge:      cfg.Judge,
		Gateway:    cfg.Gateway,
		Notifier:   notifier,
		Counters:   counters,
		Clock:      clock,
		queue:      NewInvestigationQueue(),
		joins:      NewJoinWindow(cfg.Policy.RaidWindow, 10_000),
		raidAlerts: make(map[string]time.Time),
	}, nil
}

func (eng *Engine) now() time.Time {
	return eng.Clock().UTC()
}

// Number of profiles waiting in the investigation queue.
func (eng *Engine) QueueLen() int {
	return eng.queue.Len()
}
