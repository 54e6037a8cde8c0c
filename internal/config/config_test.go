package config

import "testing"

func TestGetEnvInt(t *testing.T) {
	t.Setenv("ANALYSIS_WINDOW_DAYS", "30")
	t.Setenv("SYNTHESIS_RETRIES", "not-a-number")

	if got := getEnvInt("ANALYSIS_WINDOW_DAYS", 90); got != 30 {
		t.Errorf("set value = %d, want 30", got)
	}
	if got := getEnvInt("SYNTHESIS_RETRIES", 2); got != 2 {
		t.Errorf("unparseable value = %d, want fallback 2", got)
	}
	if got := getEnvInt("MISSING_KEY_FOR_TEST", 7); got != 7 {
		t.Errorf("unset value = %d, want fallback 7", got)
	}
}

func TestLoadReadsIntSettings(t *testing.T) {
	t.Setenv("DATA_PATH", t.TempDir())
	t.Setenv("ANALYSIS_WINDOW_DAYS", "45")
	t.Setenv("SYNTHESIS_RETRIES", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WindowDays != 45 {
		t.Errorf("WindowDays = %d, want 45", cfg.WindowDays)
	}
	if cfg.SynthesisRetries != 5 {
		t.Errorf("SynthesisRetries = %d, want 5", cfg.SynthesisRetries)
	}
}
