package version

import (
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoString(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{name: "plain", info: Info{Version: "v1.2.0"}, want: "v1.2.0"},
		{name: "commit shortened", info: Info{Version: "dev", Commit: "0123456789abcdef"}, want: "dev+0123456789ab"},
		{name: "dirty", info: Info{Version: "dev", Commit: "abc", Dirty: true}, want: "dev+abc+dirty"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.info.String())
		})
	}
}

func TestLdflagsWinOverBuildSettings(t *testing.T) {
	info := Info{Commit: "fromldflags"}
	applyBuildSettings(&info, []debug.BuildSetting{
		{Key: "vcs.revision", Value: "fromvcs"},
		{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		{Key: "vcs.modified", Value: "true"},
	})
	assert.Equal(t, "fromldflags", info.Commit)
	assert.Equal(t, "2026-01-02T03:04:05Z", info.Date)
	assert.True(t, info.Dirty)
}

func TestUserAgentAndDetailed(t *testing.T) {
	assert.True(t, strings.HasPrefix(UserAgent(), "cursor-usage-tracker/"))
	out := Detailed("")
	assert.True(t, strings.HasPrefix(out, "cursor-usage-tracker "))
	assert.Contains(t, out, "go:")
}
