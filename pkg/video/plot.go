package video

import (
	"fmt"
	"image"
	"image/color"

	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/perception"
	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/utils"
	"gocv.io/x/gocv"
)

var redColor = color.RGBA{255, 0, 0, 0}
var yellowColor = color.RGBA{255, 255, 0, 0}
var greenColor = color.RGBA{0, 255, 0, 0}
var whiteColor = color.RGBA{255, 255, 255, 0}
var unknownColor = color.RGBA{128, 128, 128, 0}

const labelFont = gocv.FontHersheyPlain
const labelFontScale = 1.0
const labelThickness = 1
const labelMargin = 4

//Renderer draws ROIs onto BGR frames
type Renderer struct {
	//Thickness of the rectangle outline in pixels
	Thickness int
}

//ColorForLabel picks the display color of a classification from its leading color token
func ColorForLabel(label string) color.RGBA {
	switch perception.LeadingColor(label) {
	case "red":
		return redColor
	case "yellow":
		return yellowColor
	case "green":
		return greenColor
	case "white":
		return whiteColor
	default:
		return unknownColor
	}
}

//DrawPlain draws an unlabeled outline of roi. It returns false, leaving the frame untouched, when roi does not
//overlap the frame.
func (r Renderer) DrawPlain(frame *gocv.Mat, roi perception.ROI, plotColor color.RGBA) bool {
	rect, ok := clipToFrame(frame, roi.Rect)
	if !ok {
		return false
	}

	gocv.Rectangle(frame, rect, plotColor, r.thickness())
	return true
}

//DrawClassified draws roi in the color of the classification and writes the shape and confidence above it.
//Same return semantics as DrawPlain.
func (r Renderer) DrawClassified(frame *gocv.Mat, roi perception.ROI, result perception.ClassificationResult) bool {
	rect, ok := clipToFrame(frame, roi.Rect)
	if !ok {
		return false
	}

	plotColor := ColorForLabel(result.Label)
	gocv.Rectangle(frame, rect, plotColor, r.thickness())

	text := labelText(result)
	gocv.PutText(frame, text, labelOrigin(rect, text), labelFont, labelFontScale, plotColor, labelThickness)
	return true
}

//labelText is the shape of the classification followed by its confidence, e.g. "circle 0.95"
func labelText(result perception.ClassificationResult) string {
	return fmt.Sprintf("%s %.2f", perception.ExtractShape(result.Label), result.Prob)
}

func (r Renderer) thickness() int {
	if r.Thickness <= 0 {
		return utils.DefaultRectThickness
	}

	return r.Thickness
}

//clipToFrame returns the part of rect inside the frame, with its max corner moved onto the last row/column when
//it lies on the border, since the outline is drawn through both corners
func clipToFrame(frame *gocv.Mat, rect image.Rectangle) (image.Rectangle, bool) {
	cols, rows := frame.Cols(), frame.Rows()
	visible := rect.Canon().Intersect(image.Rect(0, 0, cols, rows))
	if visible.Empty() {
		return image.Rectangle{}, false
	}

	if visible.Max.X > cols-1 {
		visible.Max.X = cols - 1
	}
	if visible.Max.Y > rows-1 {
		visible.Max.Y = rows - 1
	}

	return visible, true
}

//labelOrigin places the text baseline right above the rectangle, or inside its top edge when there is no room above
func labelOrigin(rect image.Rectangle, text string) image.Point {
	size := gocv.GetTextSize(text, labelFont, labelFontScale, labelThickness)
	if rect.Min.Y-labelMargin-size.Y >= 0 {
		return image.Pt(rect.Min.X, rect.Min.Y-labelMargin)
	}

	return image.Pt(rect.Min.X+labelMargin, rect.Min.Y+size.Y+labelMargin)
}
