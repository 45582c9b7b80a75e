package perception

import (
	"encoding/json"
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"
)

type roiJSON struct {
	ID      int `json:"id"`
	XOffset int `json:"x_offset"`
	YOffset int `json:"y_offset"`
	Width   int `json:"width"`
	Height  int `json:"height"`
}

func (r ROI) MarshalJSON() ([]byte, error) {
	return json.Marshal(roiJSON{
		ID:      r.ID,
		XOffset: r.Rect.Min.X,
		YOffset: r.Rect.Min.Y,
		Width:   r.Rect.Dx(),
		Height:  r.Rect.Dy(),
	})
}

func (r *ROI) UnmarshalJSON(data []byte) error {
	var w roiJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	if w.Width < 0 || w.Height < 0 {
		return fmt.Errorf("roi %d: negative size %dx%d", w.ID, w.Width, w.Height)
	}

	r.ID = w.ID
	r.Rect = image.Rect(w.XOffset, w.YOffset, w.XOffset+w.Width, w.YOffset+w.Height)
	return nil
}

type elementJSON struct {
	State      json.RawMessage `json:"state"`
	Confidence float32         `json:"confidence"`
}

func (e Element) MarshalJSON() ([]byte, error) {
	state, _ := json.Marshal(uint8(e.State))
	return json.Marshal(elementJSON{State: state, Confidence: e.Confidence})
}

//UnmarshalJSON accepts the state either as its numeric code or as its label ("green", "left", ...)
func (e *Element) UnmarshalJSON(data []byte) error {
	var w elementJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	state, err := parseStateJSON(w.State)
	if err != nil {
		return err
	}

	e.State = state
	e.Confidence = w.Confidence
	return nil
}

func parseStateJSON(raw json.RawMessage) (StateCode, error) {
	if len(raw) == 0 {
		return StateUnknown, nil
	}

	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		if code, ok := ParseState(name); ok {
			return code, nil
		}
		return StateUnknown, fmt.Errorf("unknown state label '%s'", name)
	}

	var code uint8
	if err := json.Unmarshal(raw, &code); err != nil {
		return StateUnknown, fmt.Errorf("invalid state %s", string(raw))
	}

	return StateCode(code), nil
}

type roiArrayJSON struct {
	Stamp json.RawMessage `json:"stamp"`
	ROIs  []ROI           `json:"rois"`
}

func (a ROIArray) MarshalJSON() ([]byte, error) {
	stamp, _ := json.Marshal(a.Stamp.UnixNano())
	return json.Marshal(roiArrayJSON{Stamp: stamp, ROIs: a.ROIs})
}

func (a *ROIArray) UnmarshalJSON(data []byte) error {
	var w roiArrayJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	stamp, err := DecodeStamp(w.Stamp)
	if err != nil {
		return err
	}

	a.Stamp = stamp
	a.ROIs = w.ROIs
	return nil
}

type signalJSON struct {
	ID       int       `json:"id"`
	Elements []Element `json:"elements"`
}

type signalArrayJSON struct {
	Stamp   json.RawMessage `json:"stamp"`
	Signals []signalJSON    `json:"signals"`
}

func (a SignalArray) MarshalJSON() ([]byte, error) {
	stamp, _ := json.Marshal(a.Stamp.UnixNano())
	w := signalArrayJSON{Stamp: stamp, Signals: make([]signalJSON, 0, len(a.Signals))}
	for _, s := range a.Signals {
		w.Signals = append(w.Signals, signalJSON(s))
	}

	return json.Marshal(w)
}

func (a *SignalArray) UnmarshalJSON(data []byte) error {
	var w signalArrayJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	stamp, err := DecodeStamp(w.Stamp)
	if err != nil {
		return err
	}

	a.Stamp = stamp
	a.Signals = make([]Signal, 0, len(w.Signals))
	for _, s := range w.Signals {
		a.Signals = append(a.Signals, Signal(s))
	}
	return nil
}

//DecodeStamp decodes a JSON stamp, either a string accepted by ParseStamp or a unix nanoseconds number
func DecodeStamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, fmt.Errorf("missing stamp")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseStamp(s)
	}

	return ParseStamp(strings.TrimSpace(string(raw)))
}

//ParseStamp parses a message timestamp given either as RFC3339 (nanosecond precision allowed) or as unix nanoseconds
func ParseStamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing stamp")
	}

	if nanos, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(0, nanos), nil
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stamp '%s'", s)
	}

	return t, nil
}
