package cadence

import (
	"testing"
	"time"
)

func TestOffsetDaysConstantPerType(t *testing.T) {
	tests := []struct {
		typ  Type
		want int
	}{
		{OneDay, 1},
		{ThreeDay, 3},
		{Weekly, 7},
		{Biweekly, 14},
		{Monthly, 28},
		{None, 0},
	}
	for _, tt := range tests {
		for step := 0; step < 6; step++ {
			got, ok := OffsetDays(tt.typ, step)
			if !ok {
				t.Fatalf("OffsetDays(%s, %d) not recognized", tt.typ, step)
			}
			if got != tt.want {
				t.Errorf("OffsetDays(%s, %d) = %d, want %d", tt.typ, step, got, tt.want)
			}
		}
	}
}

func TestOffsetDaysPingPong(t *testing.T) {
	want := []int{3, 1, 3, 1, 3, 1}
	for step, w := range want {
		got, ok := OffsetDays(PingPong, step)
		if !ok || got != w {
			t.Errorf("OffsetDays(31day, %d) = %d (ok=%v), want %d", step, got, ok, w)
		}
	}
}

func TestOffsetDaysUnknown(t *testing.T) {
	if _, ok := OffsetDays(Type("fortnightly"), 0); ok {
		t.Error("unknown cadence should not be recognized")
	}
}

func TestNextStepDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	due := NextStepDue(ThreeDay, 0, nil, now)
	if due == nil {
		t.Fatal("expected a due date")
	}
	if want := now.AddDate(0, 0, 3); !due.Equal(want) {
		t.Errorf("due = %v, want %v", due, want)
	}
}

func TestNextStepDuePastEndDate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := now.AddDate(0, 0, 1)

	if due := NextStepDue(ThreeDay, 2, &end, now); due != nil {
		t.Errorf("expected completion (nil), got %v", due)
	}

	// End date beyond the proposed date keeps the sequence alive.
	end = now.AddDate(0, 0, 10)
	if due := NextStepDue(ThreeDay, 2, &end, now); due == nil {
		t.Error("expected a due date within the end date")
	}
}

func TestNextStepDueExactEndDate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := now.AddDate(0, 0, 3)

	// Proposed date equal to endDate is not "after" it, so the step fires.
	if due := NextStepDue(ThreeDay, 0, &end, now); due == nil {
		t.Error("step due exactly on the end date should fire")
	}
}

func TestNextStepDueManualAndUnknown(t *testing.T) {
	now := time.Now()
	if due := NextStepDue(None, 0, nil, now); due != nil {
		t.Error("manual cadence should never become due")
	}
	if due := NextStepDue(Type("custom-x"), 0, nil, now); due != nil {
		t.Error("unknown cadence should never become due")
	}
}

func TestDescribe(t *testing.T) {
	if Describe(PingPong) != "3 days, then 1 day" {
		t.Error("31day label")
	}
	if Describe(Type("whatever")) != "Custom" {
		t.Error("unknown cadence should describe as Custom")
	}
}
