package usage

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const recentEventsLimit = 10

type ModelStats struct {
	Count   int     `json:"count"`
	Tokens  int64   `json:"tokens"`
	Cost    float64 `json:"cost"`
	Credits float64 `json:"credits"`
	MaxMode int     `json:"maxMode"`
}

type KindStats struct {
	Display string  `json:"display"`
	Count   int     `json:"count"`
	Tokens  int64   `json:"tokens"`
	Cost    float64 `json:"cost"`
}

type DateStats struct {
	Count  int     `json:"count"`
	Tokens int64   `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// Stats is fully derived from the dataset and recomputed on every write.
type Stats struct {
	TotalEvents   int                   `json:"totalEvents"`
	TotalTokens   int64                 `json:"totalTokens"`
	TotalCost     float64               `json:"totalCost"`
	EstimatedCost float64               `json:"estimatedCost"`
	TotalCredits  float64               `json:"totalCredits"`
	TotalMaxMode  int                   `json:"totalMaxMode"`
	ByModel       map[string]ModelStats `json:"byModel"`
	ByKind        map[string]KindStats  `json:"byKind"`
	ByDate        map[string]DateStats  `json:"byDate"`
	RecentEvents  []Event               `json:"recentEvents"`
	GeneratedAt   time.Time             `json:"generatedAt"`
}

// ResolveMaxMode prefers the flag recorded in the raw vendor payload and
// falls back to the event's own field.
func ResolveMaxMode(e Event) bool {
	if len(e.RawData) > 0 && gjson.ValidBytes(e.RawData) {
		if v := rawMaxMode(gjson.ParseBytes(e.RawData)); v.Exists() {
			return v.Bool()
		}
	}
	return e.MaxMode
}

// ComputeStats aggregates the whole event set. Errored-not-charged events are
// left out of TotalCost and per-model cost but still count toward
// EstimatedCost and their kind's cost.
func ComputeStats(events []Event, now time.Time) Stats {
	st := Stats{
		TotalEvents:  len(events),
		ByModel:      map[string]ModelStats{},
		ByKind:       map[string]KindStats{},
		ByDate:       map[string]DateStats{},
		RecentEvents: []Event{},
		GeneratedAt:  now.UTC(),
	}
	var (
		totalCost     decimal.Decimal
		estimatedCost decimal.Decimal
		totalCredits  decimal.Decimal
		modelCost     = map[string]decimal.Decimal{}
		kindCost      = map[string]decimal.Decimal{}
		dateCost      = map[string]decimal.Decimal{}
	)
	for _, e := range events {
		cost := decimal.NewFromFloat(e.Cost)
		maxMode := ResolveMaxMode(e)
		errored := e.Kind == KindErroredNotCharged

		st.TotalTokens += e.Tokens
		estimatedCost = estimatedCost.Add(cost)
		totalCredits = totalCredits.Add(decimal.NewFromFloat(e.Credits))
		if !errored {
			totalCost = totalCost.Add(cost)
		}
		if maxMode {
			st.TotalMaxMode++
		}

		m := st.ByModel[e.Model]
		m.Count++
		m.Tokens += e.Tokens
		m.Credits += e.Credits
		if maxMode {
			m.MaxMode++
		}
		if !errored {
			modelCost[e.Model] = modelCost[e.Model].Add(cost)
		}
		st.ByModel[e.Model] = m

		k := st.ByKind[e.Kind]
		k.Display = e.KindDisplay
		k.Count++
		k.Tokens += e.Tokens
		kindCost[e.Kind] = kindCost[e.Kind].Add(cost)
		st.ByKind[e.Kind] = k

		day := e.Date.UTC().Format("2006-01-02")
		d := st.ByDate[day]
		d.Count++
		d.Tokens += e.Tokens
		dateCost[day] = dateCost[day].Add(cost)
		st.ByDate[day] = d
	}

	st.TotalCost = toFloat(totalCost)
	st.EstimatedCost = toFloat(estimatedCost)
	st.TotalCredits = toFloat(totalCredits)
	for name, c := range modelCost {
		m := st.ByModel[name]
		m.Cost = toFloat(c)
		st.ByModel[name] = m
	}
	for name, c := range kindCost {
		k := st.ByKind[name]
		k.Cost = toFloat(c)
		st.ByKind[name] = k
	}
	for day, c := range dateCost {
		d := st.ByDate[day]
		d.Cost = toFloat(c)
		st.ByDate[day] = d
	}

	recent := append([]Event(nil), events...)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Date.After(recent[j].Date)
	})
	if len(recent) > recentEventsLimit {
		recent = recent[:recentEventsLimit]
	}
	for _, e := range recent {
		e.MaxMode = ResolveMaxMode(e)
		e.RawData = nil
		st.RecentEvents = append(st.RecentEvents, e)
	}
	return st
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Round(4).Float64()
	return f
}
