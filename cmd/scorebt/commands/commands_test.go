package commands

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/scorebt/pkg/config"
)

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"0", "0.00"},
		{"999.5", "999.50"},
		{"1000", "1,000.00"},
		{"100000", "100,000.00"},
		{"1234567.891", "1,234,567.89"},
		{"-2500.5", "-2,500.50"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, formatMoney(decimal.RequireFromString(tt.input)))
		})
	}
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "+10.00%", formatPercent(0.1))
	assert.Equal(t, "-3.25%", formatPercent(-0.0325))
}

func TestApplyParameterFlags(t *testing.T) {
	cmd := backtestRunCmd
	require.NoError(t, cmd.Flags().Set("top-n", "5"))
	require.NoError(t, cmd.Flags().Set("allocation", "equal"))
	t.Cleanup(func() {
		cmd.Flags().Set("top-n", "0")
		cmd.Flags().Set("allocation", "")
		cmd.Flags().Lookup("top-n").Changed = false
		cmd.Flags().Lookup("allocation").Changed = false
	})

	cfg := &config.Config{Backtest: config.DefaultBacktestConfig()}
	require.NoError(t, applyParameterFlags(cmd, cfg))

	assert.Equal(t, 5, cfg.Backtest.TopN)
	assert.Equal(t, "equal", cfg.Backtest.Allocation)
	assert.Equal(t, 400, cfg.Backtest.MinBreadth, "unset flags keep the configured value")
	assert.Equal(t, "zero", cfg.Backtest.Valuation)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"backtest", "benchmark", "snapshots", "prices", "serve"} {
		assert.True(t, names[want], want)
	}
}
