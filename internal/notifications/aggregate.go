package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"crm-notifications/internal/common/logger"
	"crm-notifications/internal/common/metrics"
)

var (
	ErrNotFound = errors.New("notification not found")
	ErrNoActor  = errors.New("actor id is required")
)

// YearProvider supplies the effective business year used to label renewal
// and end of year notifications.
type YearProvider interface {
	EffectiveYear(now time.Time) int
}

// FixedYear pins the effective year; zero falls back to the calendar year.
type FixedYear int

func (y FixedYear) EffectiveYear(now time.Time) int {
	if y > 0 {
		return int(y)
	}
	return now.Year()
}

// Clock returns the current time.
type Clock func() time.Time

// Aggregator unions every notification source into one flat list.
type Aggregator struct {
	reader Reader
	years  YearProvider
	clock  Clock
	logger logger.Logger
}

func NewAggregator(reader Reader, years YearProvider, clock Clock, log logger.Logger) *Aggregator {
	if years == nil {
		years = FixedYear(0)
	}
	if clock == nil {
		clock = time.Now
	}
	return &Aggregator{
		reader: reader,
		years:  years,
		clock:  clock,
		logger: log.WithFields(map[string]interface{}{"component": "aggregator"}),
	}
}

type fetchResult struct {
	notifications []Notification
}

// Aggregate fetches all sources concurrently and returns them in fixed
// source order: at-risk, neglected, tasks, system, tickets, duplicates.
// A failing source contributes nothing. Row ids are namespaced with RowID, so
// equal raw ids from different tables stay distinct; a repeated id within one
// source keeps its first occurrence.
func (a *Aggregator) Aggregate(ctx context.Context, actorID string) []Notification {
	now := a.clock()
	year := a.years.EffectiveYear(now)

	var states map[string]State
	fetchers := []struct {
		name string
		run  func(ctx context.Context) ([]Notification, error)
	}{
		{SourceAtRisk, func(ctx context.Context) ([]Notification, error) {
			recs, err := a.reader.AtRiskAccounts(ctx, actorID)
			return a.synthesize(TypeRenewalReminder, recs, year), err
		}},
		{SourceNeglected, func(ctx context.Context) ([]Notification, error) {
			recs, err := a.reader.NeglectedAccounts(ctx, actorID)
			return a.synthesize(TypeNeglectedAccount, recs, year), err
		}},
		{SourceTasks, func(ctx context.Context) ([]Notification, error) {
			return a.reader.TaskNotifications(ctx, actorID)
		}},
		{SourceSystem, func(ctx context.Context) ([]Notification, error) {
			ns, err := a.reader.SystemNotifications(ctx, actorID)
			return labelYear(ns, year), err
		}},
		{SourceTickets, func(ctx context.Context) ([]Notification, error) {
			return a.reader.TicketNotifications(ctx, actorID)
		}},
		{SourceDuplicates, func(ctx context.Context) ([]Notification, error) {
			recs, err := a.reader.DuplicateEstimates(ctx, actorID)
			return a.synthesize(TypeDuplicateAtRiskEstimates, recs, year), err
		}},
	}

	results := make([]fetchResult, len(fetchers))
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s, err := a.reader.NotificationStates(ctx, actorID)
		if err != nil {
			a.degrade(SourceStates, actorID, err)
			return
		}
		states = s
	}()

	for i, f := range fetchers {
		wg.Add(1)
		go func(i int, name string, run func(context.Context) ([]Notification, error)) {
			defer wg.Done()
			ns, err := run(ctx)
			if err != nil {
				a.degrade(name, actorID, err)
				return
			}
			results[i] = fetchResult{notifications: ns}
		}(i, f.name, f.run)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	var out []Notification
	for i, r := range results {
		for _, n := range r.notifications {
			n.ID = strings.TrimSpace(n.ID)
			if n.ID == "" {
				metrics.MalformedRecords.WithLabelValues(fetchers[i].name).Inc()
				a.logger.Warn("dropping notification without id", map[string]interface{}{
					"source": fetchers[i].name,
					"type":   n.Type.String(),
				})
				continue
			}
			if IsRowSource(fetchers[i].name) {
				n.ID = RowID(fetchers[i].name, n.ID)
			}
			if _, dup := seen[n.ID]; dup {
				continue
			}
			if IsSynthetic(n.ID) && n.UserID == nil {
				st := states[n.ID]
				if st.Dismissed {
					continue
				}
				n.IsRead = st.Read
			}
			seen[n.ID] = struct{}{}
			if n.Source == "" {
				n.Source = fetchers[i].name
			}
			out = append(out, n)
		}
	}
	return out
}

func (a *Aggregator) degrade(source, actorID string, err error) {
	metrics.SourceFailures.WithLabelValues(source).Inc()
	a.logger.Warn("notification source degraded to empty", map[string]interface{}{
		"source":  source,
		"actorId": actorID,
		"error":   err,
	})
}

// synthesize turns account cache rows into bulk notifications with stable
// ids. Rows without an account id are dropped.
func (a *Aggregator) synthesize(t Type, recs []AccountRecord, year int) []Notification {
	out := make([]Notification, 0, len(recs))
	for _, r := range recs {
		acct := strings.TrimSpace(r.AccountID)
		if acct == "" {
			metrics.MalformedRecords.WithLabelValues(t.String()).Inc()
			continue
		}
		name := r.AccountName
		if name == "" {
			name = "Account " + acct
		}
		acctRef := acct

		n := Notification{
			ID:               SyntheticID(t, acct),
			Type:             t,
			RelatedAccountID: &acctRef,
			CreatedAt:        r.UpdatedAt,
		}

		switch t {
		case TypeRenewalReminder:
			n.Title = "Renewal coming up"
			if r.RenewalDate != nil {
				n.Message = fmt.Sprintf("%s renews on %s", name, r.RenewalDate.Format("Jan 2, 2006"))
			} else {
				n.Message = fmt.Sprintf("%s is up for renewal in %d", name, year)
			}
		case TypeNeglectedAccount:
			n.Title = "Account needs attention"
			if r.LastContactAt != nil {
				days := int(a.clock().Sub(*r.LastContactAt).Hours() / 24)
				n.Message = fmt.Sprintf("No contact with %s in %d days", name, days)
			} else {
				n.Message = fmt.Sprintf("No recorded contact with %s", name)
			}
		case TypeDuplicateAtRiskEstimates:
			n.Title = "Duplicate estimates"
			n.Message = fmt.Sprintf("%s has %d overlapping at-risk estimates", name, r.EstimateCount)
		}
		out = append(out, n)
	}
	return out
}

// labelYear fills in the title of end of year analysis notifications that
// arrive without one.
func labelYear(ns []Notification, year int) []Notification {
	for i := range ns {
		if ns[i].Type == TypeEndOfYearAnalysis && strings.TrimSpace(ns[i].Title) == "" {
			ns[i].Title = fmt.Sprintf("%d end of year analysis", year)
		}
	}
	return ns
}
