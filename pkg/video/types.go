package video

import (
	"errors"
	"fmt"
	"time"

	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/perception"
	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/utils"
	"gocv.io/x/gocv"
)

//Frame encodings
const (
	EncodingBGR8 = "bgr8"
	EncodingRGB8 = "rgb8"
	EncodingJPEG = "jpeg"
	EncodingPNG  = "png"
)

//Encodings lists every supported Frame encoding
var Encodings = []string{EncodingBGR8, EncodingRGB8, EncodingJPEG, EncodingPNG}

//ErrUnsupportedEncoding is returned for frames whose encoding is not one of Encodings
var ErrUnsupportedEncoding = errors.New("unsupported frame encoding")

//Frame is one camera image as received from the image stream. Raw encodings (bgr8, rgb8) hold Height rows of
//Width*3 bytes; compressed encodings hold the whole file and ignore Width/Height.
type Frame struct {
	Stamp    time.Time
	Width    int
	Height   int
	Encoding string
	Data     []byte
}

//Validate checks that the frame can be decoded without touching the pixels
func (f Frame) Validate() error {
	if !utils.InSlice(f.Encoding, Encodings) {
		return fmt.Errorf("%w '%s'", ErrUnsupportedEncoding, f.Encoding)
	}

	if len(f.Data) == 0 {
		return errors.New("empty frame data")
	}

	if f.raw() {
		if f.Width <= 0 || f.Height <= 0 {
			return fmt.Errorf("invalid raw frame size %dx%d", f.Width, f.Height)
		}
		if len(f.Data) != f.Width*f.Height*3 {
			return fmt.Errorf("raw frame of %dx%d needs %d bytes, got %d", f.Width, f.Height, f.Width*f.Height*3, len(f.Data))
		}
	}

	return nil
}

func (f Frame) raw() bool {
	return f.Encoding == EncodingBGR8 || f.Encoding == EncodingRGB8
}

//Mat decodes the frame into a new BGR Mat. The caller closes the returned Mat, also when an error is returned.
func (f Frame) Mat() (gocv.Mat, error) {
	if err := f.Validate(); err != nil {
		return gocv.NewMat(), err
	}

	if !f.raw() {
		mat, err := gocv.IMDecode(f.Data, gocv.IMReadColor)
		if err != nil {
			return mat, fmt.Errorf("could not decode %s frame, got '%v'", f.Encoding, err)
		}
		if mat.Empty() {
			return mat, fmt.Errorf("could not decode %s frame", f.Encoding)
		}
		return mat, nil
	}

	//the Mat built from bytes shares the Go slice, copy it out before returning
	shared, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("could not wrap %s frame, got '%v'", f.Encoding, err)
	}
	defer shared.Close()

	if f.Encoding == EncodingRGB8 {
		mat := gocv.NewMat()
		gocv.CvtColor(shared, &mat, gocv.ColorRGBToBGR)
		return mat, nil
	}

	return shared.Clone(), nil
}

//EncodeJPEG compresses given frame into a JPEG buffer owned by the caller
func EncodeJPEG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("EncodeJPEG: Error, got '%v'", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

//Mode selects which streams are synchronized
type Mode int

const (
	//ModeSimple joins image, ROIs and signals
	ModeSimple Mode = iota
	//ModeRoughROI joins image, fine ROIs, rough ROIs and signals, used with a two stage detector
	ModeRoughROI
)

func (m Mode) String() string {
	switch m {
	case ModeSimple:
		return "simple"
	case ModeRoughROI:
		return "rough_roi"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

//Tuple is one synchronized set of messages. RoughROIs is only set in ModeRoughROI.
type Tuple struct {
	Mode      Mode
	Image     Frame
	ROIs      perception.ROIArray
	RoughROIs perception.ROIArray
	Signals   perception.SignalArray
}
