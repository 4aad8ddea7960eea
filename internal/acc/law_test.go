package acc

import "testing"

// TestLawCruiseScenario verifies the reference cycle: gap above minimum.
func TestLawCruiseScenario(t *testing.T) {
	res := EvaluateLaw(scenarioRecord())

	if res.TargetSpeed != 100 {
		t.Errorf("Expected target 100, got %v", res.TargetSpeed)
	}
	if res.Errors != [3]float64{10, 12, 15} {
		t.Errorf("Expected errors (10,12,15), got %v", res.Errors)
	}
	if res.Command != 19.75 {
		t.Errorf("Expected command 19.75, got %v", res.Command)
	}
}

// TestLawTooCloseSteps verifies the reference steps down once per cycle.
func TestLawTooCloseSteps(t *testing.T) {
	rec := scenarioRecord()
	rec.Distance = 40

	res := EvaluateLaw(rec)
	if res.TargetSpeed != 95 {
		t.Fatalf("Expected target 95, got %v", res.TargetSpeed)
	}
	if res.Errors != [3]float64{5, 7, 10} {
		t.Errorf("Expected errors (5,7,10), got %v", res.Errors)
	}
	// 1*5 + 0.5*7 + 0.25*10
	if res.Command != 11 {
		t.Errorf("Expected command 11, got %v", res.Command)
	}

	// Next cycle still too close: 95 → 90
	rec.TargetSpeed = res.TargetSpeed
	if got := EvaluateLaw(rec).TargetSpeed; got != 90 {
		t.Errorf("Expected target 90 on second close cycle, got %v", got)
	}
}

// TestLawBoundaryDistance verifies distance == minimum counts as safe.
func TestLawBoundaryDistance(t *testing.T) {
	rec := scenarioRecord()
	rec.Distance = rec.MinDistance
	rec.TargetSpeed = 70

	if got := EvaluateLaw(rec).TargetSpeed; got != rec.CruiseSpeed {
		t.Errorf("Expected cruise speed at boundary, got %v", got)
	}
}
