package app

import (
	"testing"
	"time"

	"github.com/alanyoungcy/polygraph/internal/config"
)

func TestDetectorConfigFromDefaults(t *testing.T) {
	got := detectorConfig(config.Defaults().Detection)

	if got.VolumeSpike.Threshold != 2.5 || got.VolumeSpike.Minimum != 10_000 || got.VolumeSpike.MinSamples != 10 {
		t.Errorf("VolumeSpike = %+v", got.VolumeSpike)
	}
	if got.Imbalance.Threshold != 3.0 || got.Imbalance.Minimum != 5_000 {
		t.Errorf("Imbalance = %+v", got.Imbalance)
	}
	if got.Divergence.Threshold != 0.05 || got.Divergence.Sensitivity != 2.0 || got.Divergence.BaselineVolume != 1_000 {
		t.Errorf("Divergence = %+v", got.Divergence)
	}
	if got.VolumeLookback != 24*time.Hour || got.DivergenceLookback != time.Hour {
		t.Errorf("lookbacks = %v/%v", got.VolumeLookback, got.DivergenceLookback)
	}
	if got.MinPublishScore != 30 {
		t.Errorf("MinPublishScore = %v, want 30", got.MinPublishScore)
	}
}
