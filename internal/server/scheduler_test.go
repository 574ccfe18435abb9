package server

import (
	"testing"
	"time"
)

func TestIsDueDaily(t *testing.T) {
	if !isDue("@daily", nil) {
		t.Fatal("never-run job must be due")
	}
	recent := time.Now().Add(-time.Hour)
	if isDue("@daily", &recent) {
		t.Fatal("job run an hour ago is not due daily")
	}
	old := time.Now().Add(-25 * time.Hour)
	if !isDue("@daily", &old) {
		t.Fatal("job run 25h ago is due daily")
	}
}

func TestIsDueHourly(t *testing.T) {
	recent := time.Now().Add(-30 * time.Minute)
	if isDue("@hourly", &recent) {
		t.Fatal("job run 30m ago is not due hourly")
	}
	old := time.Now().Add(-2 * time.Hour)
	if !isDue("@hourly", &old) {
		t.Fatal("job run 2h ago is due hourly")
	}
}

func TestIsDueCronExpression(t *testing.T) {
	// every minute: anything older than a minute is due
	old := time.Now().Add(-5 * time.Minute)
	if !isDue("* * * * *", &old) {
		t.Fatal("every-minute job run 5m ago is due")
	}
	if !isDue("* * * * *", nil) {
		t.Fatal("never-run cron job must be due")
	}
}

func TestIsDueInvalidExpressionDegradesToDaily(t *testing.T) {
	recent := time.Now().Add(-time.Hour)
	if isDue("not a cron spec", &recent) {
		t.Fatal("invalid spec must degrade to @daily")
	}
	old := time.Now().Add(-25 * time.Hour)
	if !isDue("not a cron spec", &old) {
		t.Fatal("invalid spec must degrade to @daily")
	}
}
