package engine

import (
	"context"
	"fmt"
)

// Outcome of one pass of the risk and trust model.
type TrustPassResult struct {
	Decayed    int64
	Grown      int64
	Graduated  int64
	RolledOver int64
	Pruned     int64
}

// Periodic score maintenance: decays risk for inactive profiles, grows trust for well-behaved active profiles, graduates new accounts, resets daily message counts, and prunes old content samples.
//
// Every step is a single set-based SQL update, so cost scales with active profiles rather than messages.
func (eng *Engine) RunTrustPass(ctx context.Context) (TrustPassResult, error) {
	ctx, span := tracer.Start(ctx, "TrustPass")
	defer span.End()

	var res TrustPassResult
	var err error
	now := eng.now()

	if res.Decayed, err = eng.Store.DecayRisk(ctx, now.Add(-eng.Policy.RiskDecayInactivity), eng.Policy.RiskDecayStep); err != nil {
		return res, fmt.Errorf("decaying risk: %w", err)
	}
	if res.Grown, err = eng.Store.GrowTrust(ctx, now.Add(-eng.Policy.TrustActivityWindow), eng.Policy.TrustStep, eng.Policy.TrustToxicityFloor); err != nil {
		return res, fmt.Errorf("growing trust: %w", err)
	}
	if res.Graduated, err = eng.Store.GraduateNewAccounts(ctx, now.Add(-eng.Policy.NewAccountAge)); err != nil {
		return res, fmt.Errorf("graduating new accounts: %w", err)
	}
	if res.RolledOver, err = eng.Store.RolloverMessagesToday(ctx, now); err != nil {
		return res, fmt.Errorf("rolling over daily message counts: %w", err)
	}
	if eng.Policy.SampleRetention > 0 {
		if res.Pruned, err = eng.Store.PruneSamples(ctx, now.Add(-eng.Policy.SampleRetention)); err != nil {
			return res, fmt.Errorf("pruning content samples: %w", err)
		}
	}
	eng.Logger.Debug("trust pass complete", "decayed", res.Decayed, "grown", res.Grown, "graduated", res.Graduated, "rolled_over", res.RolledOver, "pruned", res.Pruned)
	return res, nil
}
