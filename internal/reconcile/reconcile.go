// Package reconcile checks candidate events against a calendar store and
// inserts the ones that are not already there.
package reconcile

import (
	"context"
	"strings"
	"time"

	"sleepcal/internal/calstore"
	appLog "sleepcal/internal/log"
	"sleepcal/internal/model"
	"sleepcal/internal/sleep"
)

// Padding applied around a candidate window when looking for duplicates.
const (
	AggregatePadding = 5 * time.Minute
	StagePadding     = time.Minute
)

// Outcome is what happened to one candidate.
type Outcome int

const (
	Created Outcome = iota
	Duplicate
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Duplicate:
		return "duplicate"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the per-candidate record. EventID is set for Created, Err for
// Failed.
type Result struct {
	Candidate model.Candidate
	Outcome   Outcome
	EventID   string
	Err       error
}

// Report collects the results of one batch.
type Report struct {
	Results []Result
}

func (r *Report) add(res Result) { r.Results = append(r.Results, res) }

// Count returns how many results have outcome o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Created is the number of inserted events.
func (r Report) Created() int { return r.Count(Created) }

// Reconciler applies candidates to one calendar.
type Reconciler struct {
	store      calstore.EventStore
	calendarID string
	timeZone   string
}

// New returns a Reconciler writing to calendarID. timeZone is the IANA name
// recorded on inserted events.
func New(store calstore.EventStore, calendarID, timeZone string) *Reconciler {
	return &Reconciler{store: store, calendarID: calendarID, timeZone: timeZone}
}

// Apply reconciles candidates in order. A failed list or insert only marks
// that candidate as Failed; the rest of the batch still runs. Apply stops
// early only when ctx is done, marking the remaining candidates Failed.
func (r *Reconciler) Apply(ctx context.Context, candidates []model.Candidate) Report {
	var rep Report
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			rep.add(Result{Candidate: c, Outcome: Failed, Err: err})
			continue
		}
		rep.add(r.applyOne(ctx, c))
	}
	return rep
}

func (r *Reconciler) applyOne(ctx context.Context, c model.Candidate) Result {
	pad := StagePadding
	if c.Kind == model.KindAggregate {
		pad = AggregatePadding
	}

	existing, err := r.store.ListEvents(ctx, r.calendarID, c.Start.Add(-pad), c.End.Add(pad))
	if err != nil {
		appLog.Error("duplicate check failed; not inserting", err,
			"kind", c.Kind, "summary", c.Summary, "start", c.Start.Format(time.RFC3339))
		return Result{Candidate: c, Outcome: Failed, Err: err}
	}

	for _, ev := range existing {
		if IsDuplicate(c, ev.Summary) {
			appLog.Debug("event already present", "kind", c.Kind, "summary", c.Summary, "existing_id", ev.ID)
			return Result{Candidate: c, Outcome: Duplicate, EventID: ev.ID}
		}
	}

	id, err := r.store.InsertEvent(ctx, r.calendarID, model.NewEvent{
		Summary:     c.Summary,
		Description: c.Description,
		Start:       c.Start,
		End:         c.End,
		TimeZone:    r.timeZone,
	})
	if err != nil {
		appLog.Error("event insert failed", err,
			"kind", c.Kind, "summary", c.Summary, "start", c.Start.Format(time.RFC3339))
		return Result{Candidate: c, Outcome: Failed, Err: err}
	}
	return Result{Candidate: c, Outcome: Created, EventID: id}
}

// IsDuplicate reports whether an existing summary stands for candidate c.
func IsDuplicate(c model.Candidate, summary string) bool {
	if c.Kind == model.KindAggregate {
		return IsAggregateSummary(summary)
	}
	return IsStageSummary(c.Stage, summary)
}

// IsAggregateSummary matches nightly summaries such as "🟢 Sleep (7.5h)". The
// hours may differ from the candidate since sessions grow as data arrives.
func IsAggregateSummary(summary string) bool {
	if !strings.Contains(summary, "Sleep") {
		return false
	}
	hasSymbol := false
	for _, sym := range sleep.TierSymbols {
		if strings.Contains(summary, sym) {
			hasSymbol = true
			break
		}
	}
	return hasSymbol && strings.HasSuffix(strings.TrimSpace(summary), "h)")
}

// IsStageSummary matches per-stage summaries such as "💙 Core (0.4h)".
func IsStageSummary(stage, summary string) bool {
	return strings.HasPrefix(summary, sleep.StageSymbol(stage)) && strings.Contains(summary, stage)
}

// IsManagedEvent reports whether ev is one this package creates. The
// summary alone is not enough since users may title their own events the
// same way; the description must carry the header the synthesizer writes.
func IsManagedEvent(ev model.StoredEvent) bool {
	if IsAggregateSummary(ev.Summary) {
		return strings.HasPrefix(ev.Description, "Sleep Score: ")
	}
	s := strings.TrimSpace(ev.Summary)
	open := strings.LastIndex(s, " (")
	if open < 0 || !strings.HasSuffix(s, "h)") {
		return false
	}
	sym, stage, ok := strings.Cut(s[:open], " ")
	if !ok || stage == "" || sleep.StageSymbol(stage) != sym {
		return false
	}
	return strings.HasPrefix(ev.Description, "Stage: "+stage+"\n")
}
