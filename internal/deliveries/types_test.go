package deliveries

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to StageType
		ok       bool
	}{
		{StageAssigned, StageAssigned, true}, // reassignment
		{StageAssigned, StageAtPickup, true},
		{StageAssigned, StageInTransit, true},
		{StageAssigned, StageDelivered, false},
		{StageAtPickup, StageInTransit, true},
		{StageAtPickup, StageAssigned, false},
		{StageInTransit, StageDelivered, true},
		{StageInTransit, StageFailed, true},
		{StageDelivered, StageAssigned, false},
		{StageCancelled, StageAssigned, false},
		{StageFailed, StageInTransit, false},
		{StageType("unknown"), StageAssigned, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestStageType_TerminalAndValid(t *testing.T) {
	for _, s := range []StageType{StageDelivered, StageCancelled, StageFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []StageType{StageAssigned, StageAtPickup, StageInTransit} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if StageType("teleported").Valid() {
		t.Error("unknown stage should not be valid")
	}
	if StageType("teleported").Terminal() {
		t.Error("unknown stage should not be terminal")
	}
}

func TestDerivedCurrentStage(t *testing.T) {
	now := time.Now()
	d := &Delivery{
		CurrentStage: StageAssigned, // stale cache
		Stages: []Stage{
			{Stage: StageAssigned, Timestamp: now},
			{Stage: StageInTransit, Timestamp: now.Add(time.Hour)},
		},
	}
	if got := d.DerivedCurrentStage(); got != StageInTransit {
		t.Fatalf("expected in_transit from last stage, got %s", got)
	}

	// cache is only a fallback for an empty history
	empty := &Delivery{CurrentStage: StageAssigned}
	if got := empty.DerivedCurrentStage(); got != StageAssigned {
		t.Fatalf("expected cached stage for empty history, got %s", got)
	}
}
