package syncloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSelectSpeedLimitFirstMatchWins(t *testing.T) {
	rules := ParseSpeedPlan(`[{"limit":""},{"limit":"2M"}]`)
	limit := SelectSpeedLimit(rules, time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC))
	require.Equal(t, "2M", limit)
}

func TestSelectSpeedLimitNoRulesIsUnlimited(t *testing.T) {
	require.Equal(t, "0", SelectSpeedLimit(nil, time.Now()))
}

func TestSelectSpeedLimitOvernightWindow(t *testing.T) {
	rules := []SpeedRule{{Start: "22:00", End: "06:00", Limit: "1M"}}

	before := time.Date(2026, 1, 5, 23, 59, 0, 0, time.UTC)
	require.Equal(t, "1M", SelectSpeedLimit(rules, before))

	after := time.Date(2026, 1, 6, 0, 1, 0, 0, time.UTC)
	require.Equal(t, "1M", SelectSpeedLimit(rules, after))

	midday := time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)
	require.Equal(t, "0", SelectSpeedLimit(rules, midday))
}

func TestSelectSpeedLimitDayRestriction(t *testing.T) {
	rules := []SpeedRule{{Days: "6,7", Limit: "500K"}}

	saturday := time.Date(2026, 1, 3, 10, 0, 0, 0, time.UTC) // Saturday
	require.Equal(t, "500K", SelectSpeedLimit(rules, saturday))

	monday := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC) // Monday
	require.Equal(t, "0", SelectSpeedLimit(rules, monday))
}
