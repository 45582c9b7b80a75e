package perception

import (
	"image"
	"time"
)

//StateCode is a traffic light element state as reported by the classifier, either a color or a shape. The values
//are the ones of the upstream TrafficLightElement message, so a bridge can forward them unchanged.
type StateCode uint8

const (
	StateUnknown        StateCode = 0
	StateRed            StateCode = 1
	StateAmber          StateCode = 2
	StateGreen          StateCode = 3
	StateWhite          StateCode = 4
	StateCircle         StateCode = 5
	StateLeftArrow      StateCode = 6
	StateRightArrow     StateCode = 7
	StateUpArrow        StateCode = 8
	StateUpLeftArrow    StateCode = 9
	StateUpRightArrow   StateCode = 10
	StateDownArrow      StateCode = 11
	StateDownLeftArrow  StateCode = 12
	StateDownRightArrow StateCode = 13
	StateCross          StateCode = 14
)

//ROI is the location of one detected traffic light instance in a frame, in pixel coordinates
type ROI struct {
	ID   int
	Rect image.Rectangle
}

//ROIArray holds all the ROIs detected in one frame. IDs are unique inside one array.
type ROIArray struct {
	Stamp time.Time
	ROIs  []ROI
}

//Element is one (state, confidence) hypothesis of the classifier
type Element struct {
	State      StateCode
	Confidence float32
}

//Signal is the classification of one traffic light instance
type Signal struct {
	ID       int
	Elements []Element
}

//SignalArray holds the classification of every instance in one frame
type SignalArray struct {
	Stamp   time.Time
	Signals []Signal
}

//ClassificationResult is the summary of a Signal used when rendering it
type ClassificationResult struct {
	Prob  float32
	Label string
}
