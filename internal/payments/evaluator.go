package payments

import (
	"sort"
	"time"
)

// DefaultUpcomingWindowDays applies when the bulk upcoming window is not
// configured. It is independent of DueSoonWindowDays.
const DefaultUpcomingWindowDays = 7

type Site struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	ClientName      string     `json:"clientName,omitempty"`
	NextPaymentDate *time.Time `json:"nextPaymentDate"`
	PaymentCycle    Cycle      `json:"paymentCycle"`
	Amount          float64    `json:"amount,omitempty"`
}

type EvaluatorOptions struct {
	// Now defaults to time.Now.
	Now          func() time.Time
	DueSoonDays  int
	UpcomingDays int
}

type Evaluator struct {
	now          func() time.Time
	dueSoonDays  int
	upcomingDays int
}

func NewEvaluator(opts EvaluatorOptions) *Evaluator {
	e := &Evaluator{
		now:          opts.Now,
		dueSoonDays:  opts.DueSoonDays,
		upcomingDays: opts.UpcomingDays,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.dueSoonDays <= 0 {
		e.dueSoonDays = DueSoonWindowDays
	}
	if e.upcomingDays <= 0 {
		e.upcomingDays = DefaultUpcomingWindowDays
	}
	return e
}

func (e *Evaluator) UpcomingDays() int {
	return e.upcomingDays
}

type Badge struct {
	Classification
	SiteID     string `json:"siteId"`
	CycleLabel string `json:"cycleLabel,omitempty"`
}

func (e *Evaluator) Classify(next *time.Time) (Classification, bool) {
	return classify(e.now(), next, e.dueSoonDays)
}

// Badge classifies a single site. Sites without a next payment date get no badge.
func (e *Evaluator) Badge(site Site) (Badge, bool) {
	c, ok := e.Classify(site.NextPaymentDate)
	if !ok {
		return Badge{}, false
	}
	return Badge{
		Classification: c,
		SiteID:         site.ID,
		CycleLabel:     site.PaymentCycle.Label(),
	}, true
}

type Alert struct {
	Site Site `json:"site"`
	Days int  `json:"days"`
}

type AlertList struct {
	Overdue      []Alert `json:"overdue"`
	Upcoming     []Alert `json:"upcoming"`
	UpcomingDays int     `json:"upcomingDays"`
}

// Alerts partitions sites into overdue (most overdue first) and upcoming
// within the upcoming window (soonest first). Sites beyond the window or
// without a date are left out.
func (e *Evaluator) Alerts(sites []Site) AlertList {
	now := e.now()
	out := AlertList{
		Overdue:      []Alert{},
		Upcoming:     []Alert{},
		UpcomingDays: e.upcomingDays,
	}
	for _, site := range sites {
		if site.NextPaymentDate == nil {
			continue
		}
		days := DaysUntil(now, *site.NextPaymentDate)
		switch {
		case days < 0:
			out.Overdue = append(out.Overdue, Alert{Site: site, Days: -days})
		case days <= e.upcomingDays:
			out.Upcoming = append(out.Upcoming, Alert{Site: site, Days: days})
		}
	}
	sort.SliceStable(out.Overdue, func(i, j int) bool {
		if out.Overdue[i].Days != out.Overdue[j].Days {
			return out.Overdue[i].Days > out.Overdue[j].Days
		}
		return out.Overdue[i].Site.Name < out.Overdue[j].Site.Name
	})
	sort.SliceStable(out.Upcoming, func(i, j int) bool {
		if out.Upcoming[i].Days != out.Upcoming[j].Days {
			return out.Upcoming[i].Days < out.Upcoming[j].Days
		}
		return out.Upcoming[i].Site.Name < out.Upcoming[j].Site.Name
	})
	return out
}
