package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	v, c, b := Version, GitCommit, BuildTime
	t.Cleanup(func() { Version, GitCommit, BuildTime = v, c, b })

	Version, GitCommit, BuildTime = "1.2.3", "abc1234", "2026-10-19T00:00:00Z"
	assert.Equal(t, "1.2.3 (abc1234, 2026-10-19T00:00:00Z)", Info())
	assert.Contains(t, Full(), "Go: go")
}
