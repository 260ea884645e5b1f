package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStrategyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: 4
user_id: u1
name: breakout
model_provider: anthropic
model_name: claude-test
prompt: |
  Trade breakouts only.
filters:
  exit:
    mode: trailing
    trailing_stop_pct: 2.5
  trade_control:
    max_trades_per_day: 3
`), 0o600))

	id, in, err := loadStrategyFile(path)
	require.NoError(t, err)
	assert.EqualValues(t, 4, id)
	assert.Equal(t, "breakout", in.Name)
	assert.Equal(t, "anthropic", in.ModelProvider)
	assert.Equal(t, "Trade breakouts only.\n", in.Prompt)

	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(in.Filters, &doc))
	assert.Equal(t, "trailing", doc["exit"]["mode"])
	assert.EqualValues(t, 3, doc["trade_control"]["max_trades_per_day"])
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{{"serve"}, {"tick"}, {"migrate"}, {"decisions"}, {"strategy", "import"}, {"trades", "export"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
