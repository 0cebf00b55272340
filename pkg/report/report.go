package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot/vg"

	"github.com/elonfeng/socialpulse/internal/logging"
	"github.com/elonfeng/socialpulse/pkg/record"
	"github.com/elonfeng/socialpulse/pkg/source"
)

// Kind names a chart in the fixed battery.
type Kind string

const (
	KindAverages     Kind = "averages"
	KindShare        Kind = "share"
	KindTrend        Kind = "trend"
	KindScatter      Kind = "scatter"
	KindCorrelation  Kind = "correlation"
	KindDistribution Kind = "distribution"
)

// Kinds returns every chart kind in render order.
func Kinds() []Kind {
	return []Kind{KindAverages, KindShare, KindTrend, KindScatter, KindCorrelation, KindDistribution}
}

// ErrNoRecords is the failure of every chart when the set is empty.
var ErrNoRecords = errors.New("no records to chart")

// Artifact is a rendered chart file.
type Artifact struct {
	Kind   Kind   `json:"kind"`
	Source string `json:"source,omitempty"`
	Path   string `json:"path"`
}

// Result is the outcome of one chart: an artifact, a skip with a reason,
// or an error.
type Result struct {
	Kind     Kind      `json:"kind"`
	Source   string    `json:"source,omitempty"`
	Artifact *Artifact `json:"artifact,omitempty"`
	Err      error     `json:"-"`
	Skipped  bool      `json:"skipped,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// Rendered reports whether the chart file was written.
func (r Result) Rendered() bool {
	return r.Artifact != nil && r.Err == nil
}

// Status is "rendered", "skipped" or "failed".
func (r Result) Status() string {
	switch {
	case r.Rendered():
		return "rendered"
	case r.Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// SkipError marks a chart that has nothing meaningful to draw.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

func skip(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// FileName is "<kind>.png", or "<source>_<kind>.png" for a per-source chart.
func FileName(kind Kind, src string) string {
	if src == "" {
		return string(kind) + ".png"
	}
	return source.SafeKey(src) + "_" + string(kind) + ".png"
}

// Options configures a Reporter.
type Options struct {
	Dir    string
	Width  vg.Length
	Height vg.Length
	// Kinds restricts rendering; empty means all.
	Kinds  []Kind
	Logger logging.Logger
}

type chartFunc func(set record.Set, path string, width, height vg.Length) error

// Reporter renders the chart battery into a directory.
type Reporter struct {
	opts   Options
	charts map[Kind]chartFunc
}

// New creates a Reporter.
func New(opts Options) *Reporter {
	if opts.Dir == "" {
		opts.Dir = "charts"
	}
	if opts.Width <= 0 {
		opts.Width = 10 * vg.Inch
	}
	if opts.Height <= 0 {
		opts.Height = 6 * vg.Inch
	}
	if len(opts.Kinds) == 0 {
		opts.Kinds = Kinds()
	}
	opts.Logger = logging.OrDiscard(opts.Logger)
	return &Reporter{
		opts: opts,
		charts: map[Kind]chartFunc{
			KindAverages:     renderAverages,
			KindShare:        renderShare,
			KindTrend:        renderTrend,
			KindScatter:      renderScatter,
			KindCorrelation:  renderCorrelation,
			KindDistribution: renderDistribution,
		},
	}
}

// Dir returns the output directory.
func (r *Reporter) Dir() string { return r.opts.Dir }

// Render draws every configured chart over the whole set. One chart's
// failure never stops the others.
func (r *Reporter) Render(set record.Set) []Result {
	return r.render(set, "", r.opts.Kinds)
}

// RenderEach draws the per-source charts for every source in the set. The
// share chart is left out since a single source always holds all of it.
func (r *Reporter) RenderEach(set record.Set) []Result {
	var kinds []Kind
	for _, k := range r.opts.Kinds {
		if k != KindShare {
			kinds = append(kinds, k)
		}
	}

	var results []Result
	grouped := set.BySource()
	for _, src := range set.Sources() {
		sub := record.Set{Ref: set.Ref, Records: grouped[src]}
		results = append(results, r.render(sub, src, kinds)...)
	}
	return results
}

func (r *Reporter) render(set record.Set, src string, kinds []Kind) []Result {
	results := make([]Result, 0, len(kinds))

	if set.Len() == 0 {
		for _, k := range kinds {
			res := Result{Kind: k, Source: src, Err: ErrNoRecords}
			r.log(res)
			results = append(results, res)
		}
		return results
	}

	if err := os.MkdirAll(r.opts.Dir, 0o755); err != nil {
		for _, k := range kinds {
			res := Result{Kind: k, Source: src, Err: fmt.Errorf("create chart dir: %w", err)}
			r.log(res)
			results = append(results, res)
		}
		return results
	}

	for _, k := range kinds {
		results = append(results, r.renderOne(set, src, k))
	}
	return results
}

func (r *Reporter) renderOne(set record.Set, src string, kind Kind) (res Result) {
	res = Result{Kind: kind, Source: src}
	path := filepath.Join(r.opts.Dir, FileName(kind, src))

	defer func() {
		if p := recover(); p != nil {
			res.Artifact = nil
			res.Err = fmt.Errorf("render %s: panic: %v", kind, p)
		}
		r.log(res)
	}()

	chart, ok := r.charts[kind]
	if !ok {
		res.Err = fmt.Errorf("unknown chart kind %q", kind)
		return res
	}

	err := chart(set, path, r.opts.Width, r.opts.Height)
	var skipped *SkipError
	switch {
	case errors.As(err, &skipped):
		res.Skipped = true
		res.Reason = skipped.Reason
	case err != nil:
		res.Err = fmt.Errorf("render %s: %w", kind, err)
	default:
		res.Artifact = &Artifact{Kind: kind, Source: src, Path: path}
	}
	return res
}

func (r *Reporter) log(res Result) {
	log := r.opts.Logger.WithField("chart", res.Kind)
	if res.Source != "" {
		log = log.WithField("source", res.Source)
	}
	switch {
	case res.Rendered():
		log.WithField("path", res.Artifact.Path).Info("chart rendered")
	case res.Skipped:
		log.WithField("reason", res.Reason).Warn("chart skipped")
	default:
		log.WithError(res.Err).Warn("chart failed")
	}
}

// Count tallies rendered results.
func Count(results []Result) (rendered int) {
	for _, r := range results {
		if r.Rendered() {
			rendered++
		}
	}
	return rendered
}
