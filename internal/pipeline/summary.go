package pipeline

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/elonfeng/socialpulse/pkg/record"
	"github.com/elonfeng/socialpulse/pkg/report"
	"github.com/elonfeng/socialpulse/pkg/source"
)

// Outcome is what happened to one source during a run.
type Outcome struct {
	Ref       source.Ref    `json:"ref"`
	Collected int           `json:"collected"`
	Stored    int           `json:"stored"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
	StoreErr  error         `json:"-"`
}

// OK reports whether the source was collected.
func (o Outcome) OK() bool { return o.Err == nil }

// Line renders the per-source summary line.
func (o Outcome) Line() string {
	if o.Err != nil {
		return fmt.Sprintf("FAIL %s: %s (%v)", o.Ref, source.ErrorKind(o.Err), o.Err)
	}
	line := fmt.Sprintf("ok   %s: collected %s", o.Ref, humanize.Comma(int64(o.Collected)))
	switch {
	case o.StoreErr != nil:
		line += fmt.Sprintf(", stored %s/%s (store error: %v)",
			humanize.Comma(int64(o.Stored)), humanize.Comma(int64(o.Collected)), o.StoreErr)
	case o.Stored > 0 || o.Collected == 0:
		line += fmt.Sprintf(", stored %s", humanize.Comma(int64(o.Stored)))
	}
	if o.Attempts > 1 {
		line += fmt.Sprintf(" after %d attempts", o.Attempts)
	}
	return line
}

// Summary is the result of one pipeline run.
type Summary struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
	Outcomes   []Outcome       `json:"outcomes"`
	Charts     []report.Result `json:"charts"`
	ExportPath string          `json:"export_path,omitempty"`

	// Set holds every record collected in the run, persisted or not.
	Set record.Set `json:"-"`
}

// Processed counts normalized records across sources.
func (s Summary) Processed() int {
	n := 0
	for _, o := range s.Outcomes {
		n += o.Collected
	}
	return n
}

// Stored counts records written to the store.
func (s Summary) Stored() int {
	n := 0
	for _, o := range s.Outcomes {
		n += o.Stored
	}
	return n
}

// Failed counts sources that could not be collected.
func (s Summary) Failed() int {
	n := 0
	for _, o := range s.Outcomes {
		if !o.OK() {
			n++
		}
	}
	return n
}

// ChartsRendered counts chart files written.
func (s Summary) ChartsRendered() int {
	return report.Count(s.Charts)
}

// Lines renders one line per source followed by the totals line.
func (s Summary) Lines() []string {
	lines := make([]string, 0, len(s.Outcomes)+1)
	for _, o := range s.Outcomes {
		lines = append(lines, o.Line())
	}
	return append(lines, s.Totals())
}

// Totals renders the final count line.
func (s Summary) Totals() string {
	return fmt.Sprintf("%s items processed from %d sources (%d failed), %s stored, %d/%d charts rendered in %s",
		humanize.Comma(int64(s.Processed())),
		len(s.Outcomes), s.Failed(),
		humanize.Comma(int64(s.Stored())),
		s.ChartsRendered(), len(s.Charts),
		s.Duration.Round(time.Millisecond))
}
