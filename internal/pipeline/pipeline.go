package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/elonfeng/socialpulse/internal/logging"
	"github.com/elonfeng/socialpulse/internal/metrics"
	"github.com/elonfeng/socialpulse/internal/store"
	"github.com/elonfeng/socialpulse/pkg/record"
	"github.com/elonfeng/socialpulse/pkg/report"
	"github.com/elonfeng/socialpulse/pkg/source"
)

// MaxAttempts caps collector calls per source, first try included.
const MaxAttempts = 3

// Config wires a Runner. Store and Reporter are optional: a nil Store skips
// persistence and a nil Reporter skips charts.
type Config struct {
	Collectors *source.Registry
	Store      store.Store
	Backend    string
	Reporter   *report.Reporter
	Metrics    *metrics.Metrics
	Logger     logging.Logger

	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration

	// PerSourceCharts also renders the per-source chart set.
	PerSourceCharts bool
	// ExportPath receives the run's records as one source -> records JSON
	// document. Empty disables the export.
	ExportPath string

	Now func() time.Time
}

// Runner executes Collect -> Normalize -> Persist -> Visualize over a list of
// sources, one source at a time.
type Runner struct {
	cfg Config
	log logging.Logger

	// mu serializes runs across the scheduler and on-demand callers.
	mu sync.Mutex
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.Collectors == nil {
		cfg.Collectors = source.NewRegistry()
	}
	if cfg.MaxAttempts <= 0 || cfg.MaxAttempts > MaxAttempts {
		cfg.MaxAttempts = MaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Backend == "" {
		cfg.Backend = "store"
	}
	return &Runner{cfg: cfg, log: logging.OrDiscard(cfg.Logger)}
}

// Run processes refs in order, waiting for any run already in progress.
// Per-source failures are recorded in the summary and never stop the
// remaining sources.
func (r *Runner) Run(ctx context.Context, refs []source.Ref) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run(ctx, refs)
}

// TryRun is Run without waiting. ok is false when another run holds the
// Runner, in which case nothing is collected.
func (r *Runner) TryRun(ctx context.Context, refs []source.Ref) (sum Summary, ok bool) {
	if !r.mu.TryLock() {
		return Summary{}, false
	}
	defer r.mu.Unlock()
	return r.run(ctx, refs), true
}

func (r *Runner) run(ctx context.Context, refs []source.Ref) Summary {
	sum := Summary{RunID: uuid.NewString(), StartedAt: r.cfg.Now()}
	log := r.log.WithField("run_id", sum.RunID)
	log.WithField("sources", len(refs)).Info("run started")

	var sets []record.Set
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			sum.Outcomes = append(sum.Outcomes, Outcome{Ref: ref, Err: err})
			continue
		}
		out, set := r.process(ctx, log, ref)
		sum.Outcomes = append(sum.Outcomes, out)
		if set.Len() > 0 {
			sets = append(sets, set)
		}
	}
	sum.Set = record.Merge(sets...)

	sum.Charts = r.render(sum.Set)

	if r.cfg.ExportPath != "" && sum.Set.Len() > 0 {
		if err := Export(r.cfg.ExportPath, sum.Set); err != nil {
			log.WithError(err).Warn("export failed")
		} else {
			sum.ExportPath = r.cfg.ExportPath
		}
	}

	sum.Duration = r.cfg.Now().Sub(sum.StartedAt)
	r.cfg.Metrics.RunDuration.Observe(sum.Duration.Seconds())
	log.WithFields(logging.Fields{
		"processed": sum.Processed(),
		"stored":    sum.Stored(),
		"failed":    sum.Failed(),
		"charts":    sum.ChartsRendered(),
	}).Info("run finished")
	return sum
}

// Report loads records from the store and renders charts from them.
func (r *Runner) Report(ctx context.Context, filter store.Filter) ([]report.Result, record.Set, error) {
	if r.cfg.Store == nil {
		return nil, record.Set{}, errors.New("report needs a store")
	}
	set, err := r.cfg.Store.Query(ctx, filter)
	if err != nil {
		return nil, record.Set{}, fmt.Errorf("load records: %w", err)
	}
	r.log.WithField("records", set.Len()).Info("records loaded")
	return r.render(set), set, nil
}

func (r *Runner) process(ctx context.Context, log *logrus.Entry, ref source.Ref) (out Outcome, set record.Set) {
	out = Outcome{Ref: ref}
	started := r.cfg.Now()
	log = log.WithFields(logging.Fields{"platform": ref.Platform, "source": ref.Handle})

	defer func() { out.Duration = r.cfg.Now().Sub(started) }()

	if err := ref.Validate(); err != nil {
		out.Err = err
		r.fail(log, err)
		return out, record.Set{}
	}
	c, err := r.cfg.Collectors.Get(ref.Platform)
	if err != nil {
		out.Err = err
		r.fail(log, err)
		return out, record.Set{}
	}

	raws, attempts, err := r.collect(ctx, log, c, ref)
	out.Attempts = attempts
	if err != nil {
		out.Err = err
		r.fail(log, err)
		return out, record.Set{}
	}

	set = record.NormalizeAll(raws, ref, r.cfg.Now())
	out.Collected = set.Len()
	r.cfg.Metrics.RecordsCollected.WithLabelValues(string(ref.Platform)).Add(float64(out.Collected))
	log.WithField("records", out.Collected).Info("collected")

	if r.cfg.Store != nil {
		n, err := r.cfg.Store.Upsert(ctx, set)
		out.Stored = n
		out.StoreErr = err
		r.cfg.Metrics.RecordsStored.WithLabelValues(r.cfg.Backend).Add(float64(n))
		switch {
		case err != nil:
			log.WithError(err).WithFields(logging.Fields{
				"backend":     r.cfg.Backend,
				"stored":      n,
				"unavailable": store.IsUnavailable(err),
			}).Error("persist failed")
		case n < set.Len():
			log.WithFields(logging.Fields{"stored": n, "collected": set.Len()}).Warn("partial persist")
		}
	}
	return out, set
}

// collect calls the collector with a per-call timeout, retrying transient
// failures only.
func (r *Runner) collect(ctx context.Context, log *logrus.Entry, c source.Collector, ref source.Ref) ([]source.RawRecord, int, error) {
	attempts := 0

	builder := retrypolicy.NewBuilder[[]source.RawRecord]().
		HandleIf(func(_ []source.RawRecord, err error) bool {
			return source.IsTransient(err)
		}).
		WithMaxRetries(r.cfg.MaxAttempts - 1).
		ReturnLastFailure()
	if r.cfg.Backoff > 0 {
		builder = builder.WithBackoff(r.cfg.Backoff, 8*r.cfg.Backoff).WithJitterFactor(0.1)
	}

	raws, err := failsafe.With(builder.Build()).WithContext(ctx).Get(func() ([]source.RawRecord, error) {
		attempts++
		r.cfg.Metrics.CollectAttempts.WithLabelValues(string(ref.Platform)).Inc()
		if attempts > 1 {
			log.WithField("attempt", attempts).Warn("retrying collect")
		}

		cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()

		raws, err := c.Collect(cctx, ref)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !source.IsTransient(err) {
			err = &source.TransientFetchError{Op: "collect " + ref.String(), Err: err}
		}
		return raws, err
	})
	return raws, attempts, err
}

func (r *Runner) fail(log *logrus.Entry, err error) {
	kind := source.ErrorKind(err)
	r.cfg.Metrics.CollectFailures.WithLabelValues(kind).Inc()

	entry := log.WithError(err).WithField("kind", kind)
	var layout *source.LayoutChangedError
	if errors.As(err, &layout) && layout.Snapshot != "" {
		entry = entry.WithField("snapshot", layout.Snapshot)
	}
	entry.Error("source failed")
}

func (r *Runner) render(set record.Set) []report.Result {
	if r.cfg.Reporter == nil {
		return nil
	}
	results := r.cfg.Reporter.Render(set)
	if r.cfg.PerSourceCharts && set.Len() > 0 {
		results = append(results, r.cfg.Reporter.RenderEach(set)...)
	}
	for _, res := range results {
		r.cfg.Metrics.Charts.WithLabelValues(string(res.Kind), res.Status()).Inc()
	}
	return results
}

// Export writes the records as a source -> records JSON document.
func Export(path string, set record.Set) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(set.BySource(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export %s: %w", path, err)
	}
	return nil
}
