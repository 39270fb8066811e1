package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney(t *testing.T) {
	tests := []struct {
		in   string
		want Money
		str  string
	}{
		{"49", 4900, "49.00"},
		{"49.5", 4950, "49.50"},
		{"0.01", 1, "0.01"},
		{"-0.5", -50, "-0.50"},
		{" 1990.00 ", 199000, "1990.00"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMoney(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.str, got.String())
		})
	}

	_, err := ParseMoney("abc")
	assert.Error(t, err)
	_, err = ParseMoney("")
	assert.Error(t, err)
}

func TestMoneyJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Price Money `json:"price"`
	}{NewMoney(199, 0)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":"199.00"}`, string(b))

	var v struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12.34","b":5.5}`), &v))
	assert.Equal(t, Money(1234), v.A)
	assert.Equal(t, Money(550), v.B)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(3, 0))
	assert.Equal(t, 33.33, Percent(1, 3))
	assert.Equal(t, 66.67, Percent(2, 3))
	assert.Equal(t, 100.0, Percent(5, 5))
}

func TestAdvanceStatus(t *testing.T) {
	tests := []struct {
		current, next, want string
	}{
		{TargetPending, TargetSent, TargetSent},
		{TargetSent, TargetOpened, TargetOpened},
		{TargetClicked, TargetOpened, TargetClicked},
		{TargetSubmitted, TargetClicked, TargetSubmitted},
		{TargetOpened, TargetReported, TargetReported},
		{TargetReported, TargetSubmitted, TargetReported},
		{TargetPending, TargetFailed, TargetFailed},
		{TargetSent, TargetFailed, TargetSent},
		{TargetFailed, TargetSent, TargetSent},
		{TargetFailed, TargetOpened, TargetFailed},
		{TargetPending, TargetClicked, TargetClicked},
	}
	for _, tt := range tests {
		t.Run(tt.current+"->"+tt.next, func(t *testing.T) {
			assert.Equal(t, tt.want, AdvanceStatus(tt.current, tt.next))
		})
	}
}

func TestNextRunAfter(t *testing.T) {
	from := time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC)
	now := time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 2, 11, 9, 0, 0, 0, time.UTC), NextRunAfter("daily", from, now))
	assert.Equal(t, time.Date(2025, 2, 14, 9, 0, 0, 0, time.UTC), NextRunAfter("weekly", from, now))
	assert.True(t, NextRunAfter("monthly", from, now).After(now))
	assert.Equal(t, time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC), NextRunAfter("quarterly", from, now))
}

func TestNotificationPreferenceCategories(t *testing.T) {
	p := DefaultPreference("u1")
	assert.Equal(t, DigestDaily, p.DigestFrequency)
	assert.Equal(t, "UTC", p.Timezone)

	p.AppSecurityAlerts = false
	p.EmailReports = false
	assert.False(t, p.InApp(CategoryOf(NotifyHighRiskClick)))
	assert.True(t, p.InApp(CategoryOf(NotifyReportReady)))
	assert.False(t, p.Email(CategoryOf(NotifyReportReady)))
	assert.True(t, p.Email(CategoryOf(NotifyBillingAlert)))
	assert.Equal(t, CategorySystem, CategoryOf(NotifyTrainingReminder))
}

func TestNewTrialSubscription(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := NewTrialSubscription("org", now)

	assert.Equal(t, SubTrial, s.Status)
	assert.Equal(t, PlanBasic, s.PlanType)
	assert.Equal(t, 100, s.MaxTargets)
	assert.Equal(t, "49.00", s.MonthlyPrice.String())
	require.NotNil(t, s.TrialEndDate)
	assert.Equal(t, now.AddDate(0, 0, TrialDays), *s.TrialEndDate)
	assert.True(t, s.IsTrial(now))
	assert.False(t, s.IsTrial(now.AddDate(0, 0, 15)))
	assert.Equal(t, 14, s.DaysUntilRenewal(now))
}

func TestUsageMetricRecompute(t *testing.T) {
	m := UsageMetric{CurrentValue: 79, LimitValue: 100, WarningThreshold: DefaultWarningThreshold}
	assert.False(t, m.Recompute())
	assert.Equal(t, 79.0, m.UsagePercentage)

	m.CurrentValue = 80
	assert.True(t, m.Recompute())
	assert.True(t, m.WarningSent)
	assert.False(t, m.Recompute(), "warning fires once")

	m.CurrentValue = 101
	m.Recompute()
	assert.True(t, m.LimitExceeded)
}

func TestMarshalNullables(t *testing.T) {
	b, err := json.Marshal(User{ID: "u", FirstName: "Ada", LastName: "Lovelace"})
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Nil(t, got["organization"])
	assert.Equal(t, "Ada Lovelace", got["full_name"])
	assert.NotContains(t, got, "PasswordHash")

	b, err = json.Marshal(Campaign{ID: "c"})
	require.NoError(t, err)
	got = map[string]any{}
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Nil(t, got["landing_page"])
	assert.Equal(t, []any{}, got["target_groups"])
}

func TestFirstOfNextMonth(t *testing.T) {
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		FirstOfNextMonth(time.Date(2025, 12, 15, 8, 0, 0, 0, time.UTC)))
}
