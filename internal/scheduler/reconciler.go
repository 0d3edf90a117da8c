// Package scheduler drives the periodic launch reconciler: any curve
// stuck in frozen (service crashed between snapshot and distribution,
// or distribution kept failing) is picked up and launched again. The
// launch path is idempotent, so re-driving it is always safe.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"CurveLedger/internal/engine"
	"CurveLedger/internal/model"
	"CurveLedger/internal/store"
)

type Reconciler struct {
	engine *engine.Engine
	store  store.Store
	cron   *cron.Cron
	spec   string
	log    zerolog.Logger
}

func NewReconciler(eng *engine.Engine, st store.Store, spec string, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		engine: eng,
		store:  st,
		cron:   cron.New(),
		spec:   spec,
		log:    log,
	}
}

// Start registers the cron entry and begins scheduling.
func (r *Reconciler) Start() error {
	_, err := r.cron.AddFunc(r.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		r.Run(ctx)
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.log.Info().Str("spec", r.spec).Msg("launch reconciler started")
	return nil
}

// Stop waits for an in-flight run to finish.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}

// Run resumes every frozen curve once. Failures are logged and left
// for the next tick; the distributionCompleted guard makes repeated
// attempts harmless.
func (r *Reconciler) Run(ctx context.Context) {
	frozen, err := r.store.ListCurves(ctx, store.CurveFilter{State: model.CurveStateFrozen})
	if err != nil {
		r.log.Error().Err(err).Msg("reconciler: list frozen curves")
		return
	}
	if len(frozen) == 0 {
		return
	}

	r.log.Info().Int("count", len(frozen)).Msg("reconciler: resuming frozen curves")
	for _, c := range frozen {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.engine.Launch(ctx, c.ID); err != nil {
			r.log.Warn().Err(err).Str("curve_id", c.ID.String()).Msg("reconciler: launch retry failed")
		}
	}
}
