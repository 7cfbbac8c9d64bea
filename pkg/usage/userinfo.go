package usage

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ParseUserInfo builds an account snapshot from the profile document and
// the billing summary. Either may be nil.
func ParseUserInfo(profile, summary []byte, now time.Time) UserInfo {
	info := UserInfo{UpdatedAt: now.UTC(), Status: "active"}
	p := gjson.ParseBytes(profile)
	info.Email = strings.TrimSpace(p.Get("email").String())
	info.Name = strings.TrimSpace(p.Get("name").String())
	if info.Name == "" {
		first, last := p.Get("given_name").String(), p.Get("family_name").String()
		info.Name = strings.TrimSpace(first + " " + last)
	}

	s := gjson.ParseBytes(summary)
	info.MembershipType = s.Get("membershipType").String()
	info.Plan = info.MembershipType
	if v := s.Get("individualUsage.plan.remaining"); v.Exists() {
		info.Balance = centsToDollars(v.Float())
	}
	if s.Get("individualUsage.plan.enabled").Exists() && !s.Get("individualUsage.plan.enabled").Bool() {
		info.Status = "disabled"
	}

	raw := map[string]json.RawMessage{}
	if gjson.ValidBytes(profile) {
		raw["profile"] = json.RawMessage(profile)
	}
	if gjson.ValidBytes(summary) {
		raw["summary"] = json.RawMessage(summary)
	}
	if len(raw) > 0 {
		if b, err := json.Marshal(raw); err == nil {
			info.Raw = b
		}
	}
	return info
}
