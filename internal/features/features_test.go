package features

import "testing"

func TestManager(t *testing.T) {
	m := Defaults(true, false)

	if !m.IsEnabled(FeatureCacheEnabled) {
		t.Error("Expected cache flag enabled")
	}
	if m.IsEnabled(FeatureEventHooksEnabled) {
		t.Error("Expected event hooks disabled")
	}
	if m.IsEnabled("unknown") {
		t.Error("Expected unknown flag disabled")
	}

	m.Enable(FeatureEventHooksEnabled)
	m.Disable(FeatureCacheEnabled)
	m.Enable("unknown")

	all := m.GetAll()
	if len(all) != 2 {
		t.Fatalf("Expected 2 flags, got %d", len(all))
	}
	if all[FeatureCacheEnabled].Enabled || !all[FeatureEventHooksEnabled].Enabled {
		t.Errorf("Unexpected flags: %+v", all)
	}
}
