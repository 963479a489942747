package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/grove/internal/clock"
	"github.com/roach88/grove/internal/config"
)

var jan7 = time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)

// testCLI runs commands against one temp cache with a fixed clock and ids.
type testCLI struct {
	db    string
	env   map[string]string
	clock *clock.FixedClock
	ids   *clock.FixedGenerator
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("e%d", i+1)
	}
	return &testCLI{
		db:    filepath.Join(t.TempDir(), "grove.db"),
		env:   map[string]string{config.EnvTimezone: "UTC"},
		clock: clock.NewFixedClock(jan7),
		ids:   clock.NewFixedGenerator(ids...),
	}
}

// run executes the root command with --db set and returns stdout.
func (c *testCLI) run(args ...string) (string, error) {
	return c.runContext(context.Background(), args...)
}

func (c *testCLI) runContext(ctx context.Context, args ...string) (string, error) {
	opts := &RootOptions{
		Env: func(key string) (string, bool) {
			v, ok := c.env[key]
			return v, ok
		},
		Clock: c.clock,
		IDs:   c.ids,
	}
	cmd := newRootCommand(opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--db", c.db}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// mustRun fails the test on a command error.
func (c *testCLI) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := c.run(args...)
	require.NoError(t, err, "grove %v\n%s", args, out)
	return out
}

// jsonData runs a --format json command and returns the data payload.
func (c *testCLI) jsonData(t *testing.T, args ...string) map[string]any {
	t.Helper()
	out := c.mustRun(t, append([]string{"--format", "json"}, args...)...)
	var resp struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

// startSprout pushes a goal_started for g1 and a progress log a minute later.
func (c *testCLI) startSprout(t *testing.T) {
	t.Helper()
	c.mustRun(t, "--offline", "push", "goal_started",
		"--set", "goalId=g1",
		"--set", "categoryId=health",
		"--set", "title=Run a 10k",
		"--set", "durationClass=1m",
		"--set", "difficultyClass=firm",
		"--set", "soilCost=5",
	)
	c.clock.Advance(time.Minute)
	c.mustRun(t, "--offline", "push", "goal_logged", "--payload", `{"goalId":"g1","text":"5k done"}`)
}
