package server

import (
	"encoding/json"
	"fmt"

	"github.com/petems/visiontone/internal/app"
	"github.com/petems/visiontone/internal/synth"
	"github.com/petems/visiontone/internal/vision"
)

// message is every frame the server sends.
type message struct {
	Type      string      `json:"type"`
	State     string      `json:"state,omitempty"`
	Status    *app.Status `json:"status,omitempty"`
	Error     string      `json:"error,omitempty"`
	WSClients int         `json:"ws_clients,omitempty"`
}

// request is a control message from a websocket client. Only the fields
// relevant to Type are read.
type request struct {
	Type       string         `json:"type"`
	Tone       *synth.Update  `json:"tone,omitempty"`
	Processing *vision.Update `json:"processing,omitempty"`
	ROI        *vision.ROI    `json:"roi,omitempty"`
	Sampling   *app.Sampling  `json:"sampling,omitempty"`
}

// handleControl applies one control request and returns the reply.
//
//	{"type":"set_tone","tone":{"base_freq":330}}
//	{"type":"set_processing","processing":{"blur_radius":2}}
//	{"type":"set_roi","roi":{"x":0,"y":0,"width":320,"height":240}}
//	{"type":"disable_roi"}
//	{"type":"set_sampling","sampling":{"row_step":10,"col_step":5}}
//	{"type":"status"}
func (s *Server) handleControl(payload []byte) message {
	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		return errorReply(fmt.Errorf("invalid message: %w", err))
	}

	switch req.Type {
	case "status":
	case "set_tone":
		if req.Tone == nil {
			return errorReply(fmt.Errorf("set_tone requires tone"))
		}
		s.ctrl.SetToneParameters(*req.Tone)
	case "set_processing":
		if req.Processing == nil {
			return errorReply(fmt.Errorf("set_processing requires processing"))
		}
		s.ctrl.SetProcessingParameters(*req.Processing)
	case "set_roi":
		if req.ROI == nil {
			return errorReply(fmt.Errorf("set_roi requires roi"))
		}
		r := req.ROI
		s.ctrl.SetROI(r.X, r.Y, r.Width, r.Height, true)
	case "disable_roi":
		s.ctrl.DisableROI()
	case "set_sampling":
		if req.Sampling == nil {
			return errorReply(fmt.Errorf("set_sampling requires sampling"))
		}
		s.ctrl.SetSampling(req.Sampling.RowStep, req.Sampling.ColStep)
	default:
		return errorReply(fmt.Errorf("unknown message type %q", req.Type))
	}

	st := s.ctrl.Status()
	return message{Type: "status", State: s.currentState(), Status: &st}
}

func errorReply(err error) message {
	return message{Type: "error", Error: err.Error()}
}
