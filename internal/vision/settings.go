package vision

// ROI is a sub-rectangle of the frame to restrict processing to.
type ROI struct {
	Enabled bool `json:"enabled"`
	X       int  `json:"x"`
	Y       int  `json:"y"`
	Width   int  `json:"width"`
	Height  int  `json:"height"`
}

// Settings is an immutable snapshot of processing parameters.
type Settings struct {
	BlurRadius float64 `json:"blur_radius"`
	// EdgeThreshold is carried and reported but does not affect extraction.
	EdgeThreshold float64 `json:"edge_threshold"`
	DepthScale    float64 `json:"depth_scale"`
	ROI           ROI     `json:"roi"`
}

// DefaultSettings returns the processing defaults.
func DefaultSettings() Settings {
	return Settings{
		BlurRadius:    3,
		EdgeThreshold: 100,
		DepthScale:    1.0,
	}
}

// Update is a partial change to Settings; nil fields keep their value.
type Update struct {
	BlurRadius    *float64 `json:"blur_radius,omitempty"`
	EdgeThreshold *float64 `json:"edge_threshold,omitempty"`
	DepthScale    *float64 `json:"depth_scale,omitempty"`
}

// Empty reports whether u changes nothing.
func (u Update) Empty() bool {
	return u.BlurRadius == nil && u.EdgeThreshold == nil && u.DepthScale == nil
}

// Apply returns s with the fields set in u replaced.
func (u Update) Apply(s Settings) Settings {
	if u.BlurRadius != nil {
		s.BlurRadius = *u.BlurRadius
	}
	if u.EdgeThreshold != nil {
		s.EdgeThreshold = *u.EdgeThreshold
	}
	if u.DepthScale != nil {
		s.DepthScale = *u.DepthScale
	}
	return s
}
