package usage

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Events dated before 2020-01-01 are treated as a missing timestamp.
const minPlausibleTimestampMS int64 = 1577836800000

const (
	KindProFreeTrial       = "pro-free-trial"
	KindFree               = "free"
	KindCustomSubscription = "custom_subscription"
	KindIncludedPro        = "included_pro"
	KindIncludedBusiness   = "included_business"
	KindIncludedProPlus    = "included_pro_plus"
	KindIncludedUltra      = "included_ultra"
	KindErroredNotCharged  = "errored_not_charged"
	KindAbortedNotCharged  = "aborted_not_charged"
	KindUsageBased         = "usage_based"
	KindUserAPIKey         = "user_api_key"
	KindUnknown            = "unknown"
)

type kindLabel struct {
	Slug  string
	Label string
}

var vendorKinds = map[string]kindLabel{
	"USAGE_EVENT_KIND_INCLUDED_IN_PRO":      {KindIncludedPro, "Included in Pro"},
	"USAGE_EVENT_KIND_INCLUDED_IN_BUSINESS": {KindIncludedBusiness, "Included in Business"},
	"USAGE_EVENT_KIND_INCLUDED_IN_PRO_PLUS": {KindIncludedProPlus, "Included in Pro+"},
	"USAGE_EVENT_KIND_INCLUDED_IN_ULTRA":    {KindIncludedUltra, "Included in Ultra"},
	"USAGE_EVENT_KIND_ERRORED_NOT_CHARGED":  {KindErroredNotCharged, "Errored, Not Charged"},
	"USAGE_EVENT_KIND_ABORTED_NOT_CHARGED":  {KindAbortedNotCharged, "Aborted, Not Charged"},
	"USAGE_EVENT_KIND_USAGE_BASED":          {KindUsageBased, "Usage Based"},
	"USAGE_EVENT_KIND_USER_API_KEY":         {KindUserAPIKey, "User API Key"},
}

// ClassifyKind maps a vendor kind (with or without the USAGE_EVENT_KIND_
// prefix) to its slug and display label.
func ClassifyKind(vendorKind, subscriptionName string) (slug string, label string) {
	k := strings.ToUpper(strings.TrimSpace(vendorKind))
	if k != "" && !strings.HasPrefix(k, "USAGE_EVENT_KIND_") {
		k = "USAGE_EVENT_KIND_" + k
	}
	if k == "USAGE_EVENT_KIND_CUSTOM_SUBSCRIPTION" {
		name := strings.TrimSpace(subscriptionName)
		switch name {
		case "pro-free-trial":
			return KindProFreeTrial, "Pro Free Trial"
		case "free":
			return KindFree, "Free"
		case "":
			return KindCustomSubscription, "Custom Subscription"
		default:
			return KindCustomSubscription, name
		}
	}
	if kl, ok := vendorKinds[k]; ok {
		return kl.Slug, kl.Label
	}
	return KindUnknown, "Unknown"
}

func IsIncludedKind(slug string) bool {
	switch slug {
	case KindIncludedPro, KindIncludedBusiness, KindIncludedProPlus, KindIncludedUltra:
		return true
	}
	return false
}

func IsNotChargedKind(slug string) bool {
	return slug == KindErroredNotCharged || slug == KindAbortedNotCharged
}

// NormalizeModel rewrites the vendor's "default" model to "auto".
func NormalizeModel(model string) string {
	model = strings.TrimSpace(model)
	switch {
	case model == "":
		return "unknown"
	case strings.EqualFold(model, "default"):
		return "auto"
	}
	return model
}

// Normalizer converts raw vendor records into Events.
type Normalizer struct {
	Now       func() time.Time
	NewSuffix func() string
}

func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{Now: now, NewSuffix: randomSuffix}
}

var defaultNormalizer = NewNormalizer(nil)

// Normalize converts one raw event with the process clock.
func Normalize(raw []byte) (Event, bool) {
	return defaultNormalizer.Normalize(raw)
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

// Normalize never fails on missing or malformed fields. It only rejects input
// that is not a JSON object.
func (n *Normalizer) Normalize(raw []byte) (Event, bool) {
	if !gjson.ValidBytes(raw) {
		return Event{}, false
	}
	res := gjson.ParseBytes(raw)
	if !res.IsObject() {
		return Event{}, false
	}
	now := n.Now().UTC()

	tsRaw := strings.TrimSpace(res.Get("timestamp").String())
	tsMS := res.Get("timestamp").Int()
	date := now
	if tsMS >= minPlausibleTimestampMS {
		date = time.UnixMilli(tsMS).UTC()
	} else {
		tsMS = now.UnixMilli()
	}
	if tsRaw == "" {
		tsRaw = strconv.FormatInt(tsMS, 10)
	}

	slug, label := ClassifyKind(res.Get("kind").String(), res.Get("customSubscriptionName").String())

	tu := res.Get("tokenUsage")
	tokens := TokenUsage{
		Input:      tu.Get("inputTokens").Int(),
		Output:     tu.Get("outputTokens").Int(),
		CacheRead:  tu.Get("cacheReadTokens").Int(),
		CacheWrite: tu.Get("cacheWriteTokens").Int(),
	}
	tokens.Total = tokens.Input + tokens.Output + tokens.CacheRead + tokens.CacheWrite

	cost := buildCostInfo(slug, tu.Get("totalCents").Float(), res.Get("requestsCosts").Float(), res.Get("usageBasedCosts").Float())

	suffix := randomSuffix
	if n.NewSuffix != nil {
		suffix = n.NewSuffix
	}
	return Event{
		ID:          tsRaw + "_" + suffix(),
		Date:        date,
		Timestamp:   tsMS,
		Model:       NormalizeModel(res.Get("model").String()),
		Kind:        slug,
		KindDisplay: label,
		TokenUsage:  tokens,
		Tokens:      tokens.Total,
		CostInfo:    cost,
		Cost:        cost.DisplayCost,
		Credits:     cost.RequestsCosts,
		MaxMode:     rawMaxMode(res).Bool(),
		Source:      SourceAPI,
		RawData:     json.RawMessage(append([]byte(nil), raw...)),
	}, true
}

func rawMaxMode(res gjson.Result) gjson.Result {
	if v := res.Get("maxMode"); v.Exists() {
		return v
	}
	return res.Get("details.toolCallComposer.maxMode")
}

func buildCostInfo(slug string, totalCents, requestsCosts, usageBasedCosts float64) CostInfo {
	original := centsToDollars(totalCents)
	info := CostInfo{
		TotalCents:      totalCents,
		RequestsCosts:   requestsCosts,
		UsageBasedCosts: usageBasedCosts,
		IsIncluded:      IsIncludedKind(slug),
		OriginalCost:    original,
	}
	switch {
	case info.IsIncluded:
		info.DisplayCost = 0
	case IsNotChargedKind(slug):
		info.DisplayCost = 0
	case totalCents > 0:
		info.DisplayCost = original
	case usageBasedCosts > 0:
		info.DisplayCost = usageBasedCosts
	case requestsCosts > 0:
		info.DisplayCost = requestsCosts
	}
	info.IsFree = info.DisplayCost == 0
	info.DiscountedCost = info.DisplayCost
	if original > info.DisplayCost {
		d, _ := decimal.NewFromFloat(original).Sub(decimal.NewFromFloat(info.DisplayCost)).Round(4).Float64()
		info.Discount = d
	}
	return info
}

func centsToDollars(cents float64) float64 {
	if cents <= 0 {
		return 0
	}
	d, _ := decimal.NewFromFloat(cents).Div(decimal.NewFromInt(100)).Round(4).Float64()
	return d
}

// DOMRow is one row scraped from the dashboard usage table.
type DOMRow struct {
	Date   string `json:"date"`
	Model  string `json:"model"`
	Kind   string `json:"kind"`
	Tokens string `json:"tokens"`
	Cost   string `json:"cost"`
}

var domDateLayouts = []string{
	time.RFC3339,
	"Jan 2, 2006, 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"Jan 02, 03:04 PM",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var nonNumeric = regexp.MustCompile(`[^0-9.\-]`)

// NormalizeDOM builds a minimal Event from a scraped table row.
func (n *Normalizer) NormalizeDOM(row DOMRow) (Event, bool) {
	if strings.TrimSpace(row.Date) == "" && strings.TrimSpace(row.Model) == "" {
		return Event{}, false
	}
	now := n.Now().UTC()
	date := now
	for _, layout := range domDateLayouts {
		if ts, err := time.ParseInLocation(layout, strings.TrimSpace(row.Date), time.Local); err == nil {
			if ts.Year() == 0 {
				ts = ts.AddDate(now.Year(), 0, 0)
			}
			date = ts.UTC()
			break
		}
	}
	tokens, _ := strconv.ParseInt(nonNumeric.ReplaceAllString(row.Tokens, ""), 10, 64)
	cost, _ := strconv.ParseFloat(nonNumeric.ReplaceAllString(row.Cost, ""), 64)
	if date.UnixMilli() < minPlausibleTimestampMS {
		date = now
	}
	slug, label := domKind(row.Kind)
	if IsIncludedKind(slug) || IsNotChargedKind(slug) {
		cost = 0
	}
	suffix := randomSuffix
	if n.NewSuffix != nil {
		suffix = n.NewSuffix
	}
	return Event{
		ID:          strconv.FormatInt(date.UnixMilli(), 10) + "_" + suffix(),
		Date:        date,
		Timestamp:   date.UnixMilli(),
		Model:       NormalizeModel(row.Model),
		Kind:        slug,
		KindDisplay: label,
		TokenUsage:  TokenUsage{Total: tokens},
		Tokens:      tokens,
		CostInfo:    CostInfo{DisplayCost: cost, DiscountedCost: cost, IsIncluded: IsIncludedKind(slug), IsFree: cost == 0},
		Cost:        cost,
		Source:      SourceDOM,
	}, true
}

func domKind(text string) (string, string) {
	t := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.Contains(t, "errored"):
		return KindErroredNotCharged, "Errored, Not Charged"
	case strings.Contains(t, "aborted"):
		return KindAbortedNotCharged, "Aborted, Not Charged"
	case strings.Contains(t, "ultra"):
		return KindIncludedUltra, "Included in Ultra"
	case strings.Contains(t, "pro+"):
		return KindIncludedProPlus, "Included in Pro+"
	case strings.Contains(t, "business"):
		return KindIncludedBusiness, "Included in Business"
	case strings.Contains(t, "included"):
		return KindIncludedPro, "Included in Pro"
	case strings.Contains(t, "usage"):
		return KindUsageBased, "Usage Based"
	case strings.Contains(t, "api key"):
		return KindUserAPIKey, "User API Key"
	case strings.Contains(t, "free trial"):
		return KindProFreeTrial, "Pro Free Trial"
	case t == "free":
		return KindFree, "Free"
	}
	return KindUnknown, "Unknown"
}
