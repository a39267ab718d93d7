package businesstime_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/franksunye/FSOpsAssistant/internal/businesstime"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		t.Fatal(err)
	}
	return tm
}

func TestBusinessHoursBetween_SameInstant_Zero(t *testing.T) {
	cfg := businesstime.DefaultConfig()
	a := mustParse(t, "2026-07-27 10:00") // Monday
	assert.Equal(t, 0.0, cfg.BusinessHoursBetween(a, a))
}

func TestBusinessHoursBetween_BEforeA_Zero(t *testing.T) {
	cfg := businesstime.DefaultConfig()
	a := mustParse(t, "2026-07-27 10:00")
	b := mustParse(t, "2026-07-27 09:00")
	assert.Equal(t, 0.0, cfg.BusinessHoursBetween(a, b))
}

func TestBusinessHoursBetween_WithinSingleDay(t *testing.T) {
	cfg := businesstime.DefaultConfig() // 09:00-19:00 Mon-Fri
	a := mustParse(t, "2026-07-27 10:00")
	b := mustParse(t, "2026-07-27 14:30")
	assert.Equal(t, 4.5, cfg.BusinessHoursBetween(a, b))
}

func TestBusinessHoursBetween_SkipsWeekend(t *testing.T) {
	cfg := businesstime.DefaultConfig()
	// Friday 18:00 to Monday 10:00: 1h Friday + 1h Monday = 2h, weekend skipped.
	a := mustParse(t, "2026-07-24 18:00") // Friday
	b := mustParse(t, "2026-07-27 10:00") // Monday
	assert.Equal(t, 2.0, cfg.BusinessHoursBetween(a, b))
}

func TestBusinessHoursBetween_OutsideWorkWindow_ClampsToWindow(t *testing.T) {
	cfg := businesstime.DefaultConfig()
	a := mustParse(t, "2026-07-27 06:00") // before 09:00
	b := mustParse(t, "2026-07-27 21:00") // after 19:00
	assert.Equal(t, 10.0, cfg.BusinessHoursBetween(a, b))
}

func TestBusinessHoursBetween_Additive(t *testing.T) {
	cfg := businesstime.DefaultConfig()
	a := mustParse(t, "2026-07-27 09:00")
	mid := mustParse(t, "2026-07-28 09:00")
	b := mustParse(t, "2026-07-29 09:00")

	whole := cfg.BusinessHoursBetween(a, b)
	parts := cfg.BusinessHoursBetween(a, mid) + cfg.BusinessHoursBetween(mid, b)
	assert.Equal(t, whole, parts)
}

func TestIsBusinessTime(t *testing.T) {
	cfg := businesstime.DefaultConfig()
	assert.True(t, cfg.IsBusinessTime(mustParse(t, "2026-07-27 09:00")))
	assert.False(t, cfg.IsBusinessTime(mustParse(t, "2026-07-27 19:00")))
	assert.False(t, cfg.IsBusinessTime(mustParse(t, "2026-07-25 10:00"))) // Saturday
}

func TestNextBusinessStart_AlreadyInWindow(t *testing.T) {
	cfg := businesstime.DefaultConfig()
	t1 := mustParse(t, "2026-07-27 10:00")
	assert.Equal(t, t1, cfg.NextBusinessStart(t1))
}

func TestNextBusinessStart_BeforeWindow_JumpsToStart(t *testing.T) {
	cfg := businesstime.DefaultConfig()
	t1 := mustParse(t, "2026-07-27 06:00")
	want := mustParse(t, "2026-07-27 09:00")
	assert.Equal(t, want, cfg.NextBusinessStart(t1))
}

func TestNextBusinessStart_AfterWindow_JumpsToNextDay(t *testing.T) {
	cfg := businesstime.DefaultConfig()
	t1 := mustParse(t, "2026-07-24 20:00") // Friday evening
	want := mustParse(t, "2026-07-27 09:00") // Monday morning
	assert.Equal(t, want, cfg.NextBusinessStart(t1))
}
