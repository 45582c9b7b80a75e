package perception

import "strings"

//UnknownLabel is returned for any state or shape which can not be resolved
const UnknownLabel = "unknown"

var stateLabels = map[StateCode]string{
	//color
	StateRed:   "red",
	StateAmber: "yellow",
	StateGreen: "green",
	StateWhite: "white",
	//shape
	StateCircle:         "circle",
	StateLeftArrow:      "left",
	StateRightArrow:     "right",
	StateUpArrow:        "straight",
	StateDownArrow:      "down",
	StateDownLeftArrow:  "down_left",
	StateDownRightArrow: "down_right",
	StateCross:          "cross",
	//other
	StateUnknown: UnknownLabel,
}

var labelStates = func() map[string]StateCode {
	m := make(map[string]StateCode, len(stateLabels))
	for code, label := range stateLabels {
		m[label] = code
	}
	return m
}()

//Label returns the short token of given state code. Codes without a token (including the up-left and up-right
//arrows) are reported as "unknown".
func Label(code StateCode) string {
	if label, ok := stateLabels[code]; ok {
		return label
	}

	return UnknownLabel
}

//ParseState is the inverse of Label
func ParseState(label string) (StateCode, bool) {
	code, ok := labelStates[label]
	return code, ok
}

func (s StateCode) String() string {
	return Label(s)
}

//ExtractShape returns the shape part of a "<color>-<shape>,<...>" label: everything between the first hyphen
//and the following comma (or the end of the label). Labels without a hyphen have an "unknown" shape.
func ExtractShape(label string) string {
	start := strings.IndexByte(label, '-')
	if start < 0 {
		return UnknownLabel
	}
	start++

	end := strings.IndexByte(label[start:], ',')
	if end < 0 {
		return label[start:]
	}

	return label[start : start+end]
}

//LeadingColor returns the first token of given label, up to the first '-' or ','
func LeadingColor(label string) string {
	if end := strings.IndexAny(label, "-,"); end >= 0 {
		return label[:end]
	}

	return label
}
