package video

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/approxsync"
	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/perception"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var stamp0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

const frameSide = 100

//capture keeps a copy of every published frame
type capture struct {
	frames      []gocv.Mat
	stamps      []time.Time
	subscribers int
}

func (c *capture) Publish(frame *AnnotatedFrame) error {
	c.frames = append(c.frames, frame.Mat.Clone())
	c.stamps = append(c.stamps, frame.Stamp)
	return nil
}

func (c *capture) Subscribers() int {
	return c.subscribers
}

func (c *capture) close() {
	for _, f := range c.frames {
		f.Close()
	}
}

func blankFrame(stamp time.Time) Frame {
	return Frame{
		Stamp:    stamp,
		Width:    frameSide,
		Height:   frameSide,
		Encoding: EncodingBGR8,
		Data:     make([]byte, frameSide*frameSide*3),
	}
}

//bgrAt returns the B, G, R bytes of a pixel
func bgrAt(t *testing.T, mat gocv.Mat, x, y int) [3]byte {
	t.Helper()

	data := mat.ToBytes()
	i := (y*mat.Cols() + x) * 3
	require.Less(t, i+2, len(data))
	return [3]byte{data[i], data[i+1], data[i+2]}
}

func newTestVisualizer(t *testing.T, opts Options) (*Visualizer, *capture) {
	t.Helper()

	if opts.Sync.QueueSize == 0 {
		opts.Sync.QueueSize = approxsync.DefaultQueueSize
	}

	c := &capture{subscribers: 1}
	v, err := NewVisualizer(opts, c)
	require.NoError(t, err)
	t.Cleanup(c.close)
	return v, c
}

func roi(id, x, y, w, h int) perception.ROI {
	return perception.ROI{ID: id, Rect: image.Rect(x, y, x+w, y+h)}
}

func signal(id int, elements ...perception.Element) perception.Signal {
	return perception.Signal{ID: id, Elements: elements}
}

func TestSimpleModeDrawsClassifiedROI(t *testing.T) {
	v, c := newTestVisualizer(t, Options{Thickness: 2})
	assert.Equal(t, ModeSimple, v.Mode())

	require.NoError(t, v.OnImage(blankFrame(stamp0)))
	require.NoError(t, v.OnROIs(perception.ROIArray{Stamp: stamp0, ROIs: []perception.ROI{roi(1, 10, 40, 30, 30)}}))
	require.NoError(t, v.OnSignals(perception.SignalArray{Stamp: stamp0, Signals: []perception.Signal{
		signal(1, perception.Element{State: perception.StateGreen, Confidence: 0.95}),
	}}))

	require.Len(t, c.frames, 1)
	assert.Equal(t, stamp0, c.stamps[0])

	out := c.frames[0]
	assert.Equal(t, [3]byte{0, 255, 0}, bgrAt(t, out, 10, 55), "left edge is green")
	assert.Equal(t, [3]byte{0, 255, 0}, bgrAt(t, out, 25, 40), "top edge is green")
	assert.Equal(t, [3]byte{0, 0, 0}, bgrAt(t, out, 25, 55), "interior is untouched")

	stats := v.Stats()
	assert.Equal(t, "simple", stats.Mode)
	assert.Equal(t, 3, stats.Streams)
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(1), stats.Drawn)
	assert.Zero(t, stats.Skipped)
}

func TestROIWithoutClassificationIsSkipped(t *testing.T) {
	v, c := newTestVisualizer(t, Options{})

	require.NoError(t, v.OnImage(blankFrame(stamp0)))
	require.NoError(t, v.OnROIs(perception.ROIArray{Stamp: stamp0, ROIs: []perception.ROI{roi(7, 10, 40, 30, 30)}}))
	require.NoError(t, v.OnSignals(perception.SignalArray{Stamp: stamp0, Signals: []perception.Signal{
		signal(8, perception.Element{State: perception.StateRed, Confidence: 0.5}),
	}}))

	require.Len(t, c.frames, 1)
	assert.Equal(t, make([]byte, frameSide*frameSide*3), c.frames[0].ToBytes())
	assert.Equal(t, uint64(1), v.Stats().Skipped)
}

func TestOutOfBoundsROILeavesFrameUnchanged(t *testing.T) {
	v, _ := newTestVisualizer(t, Options{})

	tuple := Tuple{
		Mode:    ModeSimple,
		Image:   blankFrame(stamp0),
		ROIs:    perception.ROIArray{Stamp: stamp0, ROIs: []perception.ROI{roi(1, 200, 200, 10, 10)}},
		Signals: perception.SignalArray{Stamp: stamp0, Signals: []perception.Signal{signal(1, perception.Element{State: perception.StateRed, Confidence: 1})}},
	}

	out, rs, err := v.Render(tuple)
	defer out.Close()
	require.NoError(t, err)

	assert.Equal(t, RenderStats{OutOfBounds: 1}, rs)
	assert.Equal(t, tuple.Image.Data, out.ToBytes())
}

func TestPartiallyVisibleROIIsClipped(t *testing.T) {
	v, _ := newTestVisualizer(t, Options{Thickness: 1})

	tuple := Tuple{
		Mode:    ModeSimple,
		Image:   blankFrame(stamp0),
		ROIs:    perception.ROIArray{Stamp: stamp0, ROIs: []perception.ROI{roi(1, 80, 50, 40, 20)}},
		Signals: perception.SignalArray{Stamp: stamp0, Signals: []perception.Signal{signal(1, perception.Element{State: perception.StateRed, Confidence: 1})}},
	}

	out, rs, err := v.Render(tuple)
	defer out.Close()
	require.NoError(t, err)

	assert.Equal(t, RenderStats{Drawn: 1}, rs)
	assert.Equal(t, [3]byte{0, 0, 255}, bgrAt(t, out, 80, 60), "left edge is red")
	assert.Equal(t, [3]byte{0, 0, 255}, bgrAt(t, out, frameSide-1, 60), "clipped right edge lies on the last column")
}

func TestRenderIsDeterministic(t *testing.T) {
	v, _ := newTestVisualizer(t, Options{})

	tuple := Tuple{
		Mode:  ModeSimple,
		Image: blankFrame(stamp0),
		ROIs: perception.ROIArray{Stamp: stamp0, ROIs: []perception.ROI{
			roi(1, 10, 40, 30, 30), roi(2, 60, 20, 15, 40),
		}},
		Signals: perception.SignalArray{Stamp: stamp0, Signals: []perception.Signal{
			signal(1, perception.Element{State: perception.StateRed, Confidence: 0.3}, perception.Element{State: perception.StateLeftArrow, Confidence: 0.8}),
			signal(2, perception.Element{State: perception.StateAmber, Confidence: 0.6}),
		}},
	}

	first, _, err := v.Render(tuple)
	defer first.Close()
	require.NoError(t, err)

	second, _, err := v.Render(tuple)
	defer second.Close()
	require.NoError(t, err)

	assert.Equal(t, first.ToBytes(), second.ToBytes())
	assert.NotEqual(t, tuple.Image.Data, first.ToBytes())
}

func TestRoughStreamDisabledInSimpleMode(t *testing.T) {
	v, _ := newTestVisualizer(t, Options{})

	err := v.OnRoughROIs(perception.ROIArray{Stamp: stamp0})
	assert.Equal(t, ErrStreamDisabled, err)
}

func TestRoughROIMode(t *testing.T) {
	v, c := newTestVisualizer(t, Options{
		EnableFineDetection: true,
		RoughROIColor:       color.RGBA{0, 255, 0, 0},
		Thickness:           1,
	})
	assert.Equal(t, ModeRoughROI, v.Mode())

	require.NoError(t, v.OnImage(blankFrame(stamp0)))
	require.NoError(t, v.OnRoughROIs(perception.ROIArray{Stamp: stamp0, ROIs: []perception.ROI{roi(1, 50, 50, 40, 40)}}))
	require.NoError(t, v.OnROIs(perception.ROIArray{Stamp: stamp0, ROIs: []perception.ROI{
		roi(1, 5, 30, 20, 20),
		roi(2, 60, 60, 10, 20),
	}}))
	assert.Empty(t, c.frames, "the signals stream is still missing")

	require.NoError(t, v.OnSignals(perception.SignalArray{Stamp: stamp0, Signals: []perception.Signal{
		signal(1, perception.Element{State: perception.StateRed, Confidence: 0.9}),
		signal(2, perception.Element{State: perception.StateRed, Confidence: 0.9}),
	}}))

	require.Len(t, c.frames, 1)
	out := c.frames[0]
	assert.Equal(t, [3]byte{0, 255, 0}, bgrAt(t, out, 50, 80), "rough ROI is plain green")
	assert.Equal(t, [3]byte{0, 0, 255}, bgrAt(t, out, 5, 40), "fine ROI is drawn in its classification color")
	assert.Equal(t, [3]byte{0, 0, 255}, bgrAt(t, out, 60, 75), "fine ROI without rough match is still drawn")

	stats := v.Stats()
	assert.Equal(t, "rough_roi", stats.Mode)
	assert.Equal(t, 4, stats.Streams)
	assert.Equal(t, uint64(3), stats.Drawn)
	assert.Equal(t, uint64(1), stats.Unlocalized)
}

func TestInvalidImageIsRejected(t *testing.T) {
	v, _ := newTestVisualizer(t, Options{})

	frame := blankFrame(stamp0)
	frame.Width = 50
	assert.Error(t, v.OnImage(frame))
}

func TestUndecodableImageIsCounted(t *testing.T) {
	v, c := newTestVisualizer(t, Options{})

	frame := Frame{Stamp: stamp0, Encoding: EncodingJPEG, Data: []byte("not a jpeg")}
	require.NoError(t, v.OnImage(frame))
	require.NoError(t, v.OnROIs(perception.ROIArray{Stamp: stamp0}))
	require.NoError(t, v.OnSignals(perception.SignalArray{Stamp: stamp0}))

	assert.Empty(t, c.frames)
	stats := v.Stats()
	assert.Equal(t, uint64(1), stats.DecodeErrors)
	assert.Zero(t, stats.Published)
}

func TestLazySubscription(t *testing.T) {
	c := &capture{}
	t.Cleanup(c.close)

	v, err := NewVisualizer(Options{LazySubscribe: true, Sync: approxsync.Options{QueueSize: 10}}, c)
	require.NoError(t, err)
	assert.False(t, v.Connected())

	require.NoError(t, v.OnImage(blankFrame(stamp0)))
	require.NoError(t, v.OnROIs(perception.ROIArray{Stamp: stamp0}))
	require.NoError(t, v.OnSignals(perception.SignalArray{Stamp: stamp0}))
	assert.Empty(t, c.frames)
	assert.Equal(t, uint64(3), v.Stats().Discarded)

	c.subscribers = 1
	v.checkSubscribers()
	assert.True(t, v.Connected())

	require.NoError(t, v.OnImage(blankFrame(stamp0)))
	require.NoError(t, v.OnROIs(perception.ROIArray{Stamp: stamp0}))
	require.NoError(t, v.OnSignals(perception.SignalArray{Stamp: stamp0}))
	assert.Len(t, c.frames, 1)

	c.subscribers = 0
	v.checkSubscribers()
	assert.False(t, v.Connected())
}

func TestGreenSignalOutline(t *testing.T) {
	v, _ := newTestVisualizer(t, Options{Thickness: 1})

	tuple := Tuple{
		Mode:    ModeSimple,
		Image:   blankFrame(stamp0),
		ROIs:    perception.ROIArray{Stamp: stamp0, ROIs: []perception.ROI{roi(1, 10, 10, 20, 20)}},
		Signals: perception.SignalArray{Stamp: stamp0, Signals: []perception.Signal{signal(1, perception.Element{State: perception.StateGreen, Confidence: 0.95})}},
	}

	out, rs, err := v.Render(tuple)
	defer out.Close()
	require.NoError(t, err)
	assert.Equal(t, RenderStats{Drawn: 1}, rs)

	green := [3]byte{0, 255, 0}
	for _, p := range []image.Point{{10, 10}, {30, 10}, {10, 30}, {30, 30}, {10, 20}, {30, 20}, {20, 30}} {
		assert.Equal(t, green, bgrAt(t, out, p.X, p.Y), "outline at %v", p)
	}
	assert.Equal(t, [3]byte{0, 0, 0}, bgrAt(t, out, 5, 5), "outside is untouched")
	assert.Equal(t, [3]byte{0, 0, 0}, bgrAt(t, out, 35, 35), "outside is untouched")

	//no room above the box, so "unknown 0.95" starts inside it and runs past its right edge
	origin := labelOrigin(image.Rect(10, 10, 30, 30), labelText(perception.ClassificationResult{Prob: 0.95, Label: "green"}))
	assert.Equal(t, image.Pt(14, origin.Y), origin)
	assert.Greater(t, origin.Y, 10)
	assert.NotZero(t, countColored(t, out, image.Rect(11, 11, 30, 30)), "label text inside the box")
	assert.NotZero(t, countColored(t, out, image.Rect(31, 11, frameSide, origin.Y+1)), "label text right of the box")
}

//countColored counts the non black pixels of mat inside r
func countColored(t *testing.T, mat gocv.Mat, r image.Rectangle) int {
	t.Helper()

	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if bgrAt(t, mat, x, y) != [3]byte{} {
				n++
			}
		}
	}
	return n
}

func TestLabelText(t *testing.T) {
	assert.Equal(t, "unknown 0.95", labelText(perception.ClassificationResult{Prob: 0.95, Label: "green"}))
	assert.Equal(t, "circle 0.90", labelText(perception.ClassificationResult{Prob: 0.9, Label: "red-circle,green-circle"}))
	assert.Equal(t, "left 0.00", labelText(perception.ClassificationResult{Label: "red-left"}))
}

func TestAnnotatedFrameEncodesOnce(t *testing.T) {
	mat, err := blankFrame(stamp0).Mat()
	defer mat.Close()
	require.NoError(t, err)

	frame := &AnnotatedFrame{Stamp: stamp0, Mat: &mat}
	first, err := frame.JPEG()
	require.NoError(t, err)
	second, err := frame.JPEG()
	require.NoError(t, err)

	require.NotEmpty(t, first)
	assert.True(t, &first[0] == &second[0], "every publisher shares one JPEG buffer")

	latest := NewLatestFrame(time.Second)
	require.NoError(t, latest.Publish(frame))
	_, _, err = latest.Get()
	require.NoError(t, err)
	stored, _, _ := latest.Get()
	assert.True(t, &first[0] == &stored[0])
}
