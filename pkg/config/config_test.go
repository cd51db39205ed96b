package config

import "testing"

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default("/tmp/concourse")

	if cfg.BlockRotateThreshold != 4096 {
		t.Errorf("BlockRotateThreshold = %d, want 4096", cfg.BlockRotateThreshold)
	}
	if cfg.BloomFalsePositiveRate != 0.03 {
		t.Errorf("BloomFalsePositiveRate = %v, want 0.03", cfg.BloomFalsePositiveRate)
	}
	if cfg.Dir != "/tmp/concourse" {
		t.Errorf("Dir = %q, want /tmp/concourse", cfg.Dir)
	}
	if cfg.TransportInterval <= 0 || cfg.HungDetectionThreshold <= cfg.HungDetectionFrequency {
		t.Errorf("expected HungDetectionThreshold > HungDetectionFrequency, got %v <= %v",
			cfg.HungDetectionThreshold, cfg.HungDetectionFrequency)
	}
}
