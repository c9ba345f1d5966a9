package config

import (
	"github.com/petems/visiontone/internal/synth"
	"github.com/petems/visiontone/internal/vision"
)

// Changes describes what differs between two configs in terms the running
// pipeline can apply without restarting.
type Changes struct {
	Processing vision.Update
	// ROI is set when any roi field changed.
	ROI *vision.ROI
	Tone synth.Update
	// Sampling is set when row_step, col_step or interval_ms changed.
	Sampling *SamplingConfig
	// LogLevel is the new level, or empty when unchanged.
	LogLevel string
	// Restart lists changed keys that only take effect on the next start.
	Restart []string
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return c.Processing.Empty() && c.ROI == nil && c.Tone.Empty() &&
		c.Sampling == nil && c.LogLevel == "" && len(c.Restart) == 0
}

// Diff compares two configs field by field.
func Diff(old, new *Config) Changes {
	var c Changes

	if old.LogLevel != new.LogLevel {
		c.LogLevel = new.LogLevel
	}

	if old.Source != new.Source {
		c.Restart = append(c.Restart, "source")
	}
	if old.Processing.FrameRate != new.Processing.FrameRate {
		c.Restart = append(c.Restart, "processing.frame_rate")
	}
	if old.Audio.SampleRate != new.Audio.SampleRate {
		c.Restart = append(c.Restart, "audio.sample_rate")
	}
	if old.Audio.BufferSize != new.Audio.BufferSize {
		c.Restart = append(c.Restart, "audio.buffer_size")
	}
	if old.Audio.Sink != new.Audio.Sink || old.Audio.WAVPath != new.Audio.WAVPath {
		c.Restart = append(c.Restart, "audio.sink")
	}
	if old.Server != new.Server {
		c.Restart = append(c.Restart, "server")
	}

	op, np := old.Processing, new.Processing
	c.Processing.BlurRadius = changedFloat(op.BlurRadius, np.BlurRadius)
	c.Processing.EdgeThreshold = changedFloat(op.EdgeThreshold, np.EdgeThreshold)
	c.Processing.DepthScale = changedFloat(op.DepthScale, np.DepthScale)
	if op.ROI != np.ROI {
		roi := new.VisionSettings().ROI
		c.ROI = &roi
	}

	oa, na := old.Audio, new.Audio
	c.Tone.BaseFreq = changedFloat(oa.BaseFreq, na.BaseFreq)
	c.Tone.DepthFactor = changedFloat(oa.DepthFactor, na.DepthFactor)
	c.Tone.AngleFactor = changedFloat(oa.AngleFactor, na.AngleFactor)
	c.Tone.VolumeFactor = changedFloat(oa.VolumeFactor, na.VolumeFactor)
	c.Tone.Reverb = changedFloat(oa.Reverb, na.Reverb)
	if oa.Compression != na.Compression {
		v := na.Compression
		c.Tone.Compression = &v
	}

	if old.Sampling != new.Sampling {
		s := new.Sampling
		c.Sampling = &s
	}

	return c
}

func changedFloat(old, new float64) *float64 {
	if old == new {
		return nil
	}
	return &new
}
