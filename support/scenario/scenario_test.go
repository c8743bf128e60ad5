package scenario_test

import (
	"context"
	"testing"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xorcare/golden"
	"golang.org/x/sync/errgroup"

	"github.com/timeloc/capsule-actors/support/scenario"
)

func TestRunLifecycle(t *testing.T) {
	sc, err := scenario.Load("testdata/lifecycle.toml")
	require.NoError(t, err)
	assert.Equal(t, "lifecycle", sc.Name)
	assert.Equal(t, []string{"alice", "bob"}, sc.Accounts)

	res, err := scenario.Run(context.Background(), sc)
	require.NoError(t, err)
	require.NoError(t, res.Check())
	assert.Equal(t, abi.ChainEpoch(14), res.Height)
	assert.Len(t, res.Digest(), 64)

	golden.Assert(t, []byte(res.Transcript()))
}

func TestRunReportsFailures(t *testing.T) {
	sc, err := scenario.Parse(`
accounts = ["alice"]

[[step]]
  [[step.tx]]
  from = "alice"
  method = "create-capsule"
  message = "hi"
  lock_duration = 5
  expect = { id = 7 }

  [[step.tx]]
  from = "alice"
  method = "reveal-capsule"
  id = 1
  expect = { message = "hi" }
`)
	require.NoError(t, err)

	res, err := scenario.Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, res.Failures, 2)
	assert.Contains(t, res.Failures[0], "id 1, expected 7")
	assert.Contains(t, res.Failures[1], "exit code 103, expected 0")
	assert.Error(t, res.Check())
}

func TestAdvanceWithoutTxs(t *testing.T) {
	sc, err := scenario.Parse(`
accounts = ["alice"]

[[step]]
advance_to = 20

[[step]]
`)
	require.NoError(t, err)

	res, err := scenario.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, abi.ChainEpoch(21), res.Height)
	assert.Empty(t, res.Entries)
	assert.Empty(t, res.Transcript())
}

func TestParseRejectsInvalidScenarios(t *testing.T) {
	testCases := []struct {
		desc string
		data string
	}{{
		desc: "unknown key",
		data: `
accounts = ["alice"]
colour = "blue"
`,
	}, {
		desc: "duplicate account",
		data: `accounts = ["alice", "alice"]`,
	}, {
		desc: "unknown sender",
		data: `
accounts = ["alice"]
[[step]]
  [[step.tx]]
  from = "carol"
  method = "get-total-capsules"
`,
	}, {
		desc: "unknown method",
		data: `
accounts = ["alice"]
[[step]]
  [[step.tx]]
  from = "alice"
  method = "burn-capsule"
`,
	}, {
		desc: "unknown owner",
		data: `
accounts = ["alice"]
[[step]]
  [[step.tx]]
  from = "alice"
  method = "get-owner-capsules"
  owner = "carol"
`,
	}, {
		desc: "negative height",
		data: `
accounts = ["alice"]
[[step]]
advance_to = -1
`,
	}, {
		desc: "malformed",
		data: `accounts = [`,
	}}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := scenario.Parse(tc.data)
			assert.Error(t, err)
		})
	}
}

func TestRunIsDeterministic(t *testing.T) {
	sc, err := scenario.Load("testdata/lifecycle.toml")
	require.NoError(t, err)

	results := make([]*scenario.Result, 4)
	var g errgroup.Group
	for i := range results {
		i := i
		g.Go(func() error {
			res, err := scenario.Run(context.Background(), sc)
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, res := range results[1:] {
		assert.Equal(t, results[0].StateRoot, res.StateRoot)
		assert.Equal(t, results[0].Tip, res.Tip)
		assert.Equal(t, results[0].Digest(), res.Digest())
	}
}
