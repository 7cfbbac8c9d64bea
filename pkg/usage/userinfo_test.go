package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseUserInfo(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	profile := []byte(`{"email":"dev@example.com","given_name":"Ada","family_name":"L"}`)
	summary := []byte(`{"membershipType":"pro","individualUsage":{"plan":{"enabled":true,"used":1200,"limit":2000,"remaining":800}}}`)

	info := ParseUserInfo(profile, summary, now)
	assert.Equal(t, "dev@example.com", info.Email)
	assert.Equal(t, "Ada L", info.Name)
	assert.Equal(t, "pro", info.Plan)
	assert.Equal(t, 8.0, info.Balance)
	assert.Equal(t, "active", info.Status)
	assert.Equal(t, now, info.UpdatedAt)
	assert.Contains(t, string(info.Raw), `"summary"`)
}

func TestParseUserInfoToleratesMissingDocuments(t *testing.T) {
	info := ParseUserInfo(nil, []byte(`{"individualUsage":{"plan":{"enabled":false}}}`), time.Now())
	assert.Empty(t, info.Email)
	assert.Equal(t, "disabled", info.Status)
	assert.Zero(t, info.Balance)
}
