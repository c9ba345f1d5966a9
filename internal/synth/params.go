package synth

// Parameters is an immutable snapshot of the tone mapping and effects.
type Parameters struct {
	BaseFreq     float64 `json:"base_freq"`
	DepthFactor  float64 `json:"depth_factor"`
	AngleFactor  float64 `json:"angle_factor"`
	VolumeFactor float64 `json:"volume_factor"`
	Reverb       float64 `json:"reverb"`
	Compression  bool    `json:"compression"`
}

// DefaultParameters returns the mapping f = 440 + 500·depth + 300·angle at
// volume 0.8 with light reverb and compression.
func DefaultParameters() Parameters {
	return Parameters{
		BaseFreq:     440,
		DepthFactor:  500,
		AngleFactor:  300,
		VolumeFactor: 0.8,
		Reverb:       0.3,
		Compression:  true,
	}
}

// Update is a partial change to Parameters; nil fields keep their value.
type Update struct {
	BaseFreq     *float64 `json:"base_freq,omitempty"`
	DepthFactor  *float64 `json:"depth_factor,omitempty"`
	AngleFactor  *float64 `json:"angle_factor,omitempty"`
	VolumeFactor *float64 `json:"volume_factor,omitempty"`
	Reverb       *float64 `json:"reverb,omitempty"`
	Compression  *bool    `json:"compression,omitempty"`
}

// Empty reports whether u changes nothing.
func (u Update) Empty() bool {
	return u.BaseFreq == nil && u.DepthFactor == nil && u.AngleFactor == nil &&
		u.VolumeFactor == nil && u.Reverb == nil && u.Compression == nil
}

// Apply returns p with the fields set in u replaced.
func (u Update) Apply(p Parameters) Parameters {
	if u.BaseFreq != nil {
		p.BaseFreq = *u.BaseFreq
	}
	if u.DepthFactor != nil {
		p.DepthFactor = *u.DepthFactor
	}
	if u.AngleFactor != nil {
		p.AngleFactor = *u.AngleFactor
	}
	if u.VolumeFactor != nil {
		p.VolumeFactor = *u.VolumeFactor
	}
	if u.Reverb != nil {
		p.Reverb = *u.Reverb
	}
	if u.Compression != nil {
		p.Compression = *u.Compression
	}
	return p
}
