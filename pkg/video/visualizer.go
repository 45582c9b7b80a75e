package video

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/approxsync"
	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/perception"
	"gocv.io/x/gocv"
)

//ErrStreamDisabled is returned when a message arrives on a stream the current Mode does not join
var ErrStreamDisabled = errors.New("stream is disabled in this mode")

const (
	streamImage = iota
	streamROIs
	//in ModeSimple the signals take the slot of the rough ROIs
	streamRoughROIs
	streamSignals
)

//AnnotatedFrame is one rendered tuple handed to the publishers. Mat is only valid during Publish.
type AnnotatedFrame struct {
	Stamp time.Time
	Mat   *gocv.Mat

	jpeg    []byte
	jpegErr error
	encoded bool
}

//JPEG compresses the frame on first use and returns the same buffer to every later caller, which must not
//modify it
func (f *AnnotatedFrame) JPEG() ([]byte, error) {
	if !f.encoded {
		f.jpeg, f.jpegErr = EncodeJPEG(*f.Mat)
		f.encoded = true
	}

	return f.jpeg, f.jpegErr
}

//Publisher receives every annotated frame. Publishers are called one after the other with the same frame.
type Publisher interface {
	Publish(frame *AnnotatedFrame) error
}

//SubscriberCounter is implemented by publishers which know how many consumers they currently serve
type SubscriberCounter interface {
	Subscribers() int
}

//Options configures a Visualizer
type Options struct {
	//EnableFineDetection selects ModeRoughROI
	EnableFineDetection bool
	Sync                approxsync.Options
	RoughROIColor       color.RGBA
	Thickness           int
	//LazySubscribe discards inputs while no publisher has subscribers
	LazySubscribe bool
}

//Stats are the visualizer counters, exposed by the stats endpoint
type Stats struct {
	Mode         string `json:"mode"`
	Streams      int    `json:"streams"`
	Connected    bool   `json:"connected"`
	Published    uint64 `json:"published"`
	SyncDropped  uint64 `json:"sync_dropped"`
	Discarded    uint64 `json:"discarded"`
	DecodeErrors uint64 `json:"decode_errors"`
	Drawn        uint64 `json:"drawn"`
	Skipped      uint64 `json:"skipped"`
	OutOfBounds  uint64 `json:"out_of_bounds"`
	Unlocalized  uint64 `json:"unlocalized"`
}

//RenderStats counts what happened to the ROIs of one tuple
type RenderStats struct {
	//Drawn ROIs, plain or classified
	Drawn int
	//Skipped ROIs had no classification
	Skipped int
	//OutOfBounds ROIs did not overlap the frame
	OutOfBounds int
	//Unlocalized fine ROIs had no rough ROI with the same ID
	Unlocalized int
}

//Visualizer synchronizes the input streams and renders every matched tuple
type Visualizer struct {
	mode          Mode
	sync          *approxsync.Synchronizer
	renderer      Renderer
	roughROIColor color.RGBA
	publishers    []Publisher
	lazy          bool
	connected     int32
	discarded     uint64

	mu    sync.Mutex
	stats Stats
}

//NewVisualizer builds a visualizer publishing to given publishers
func NewVisualizer(opts Options, publishers ...Publisher) (*Visualizer, error) {
	mode := ModeSimple
	streams := 3
	if opts.EnableFineDetection {
		mode = ModeRoughROI
		streams = 4
	}

	s, err := approxsync.New(streams, opts.Sync)
	if err != nil {
		return nil, fmt.Errorf("NewVisualizer: Error, got '%v'", err)
	}

	v := &Visualizer{
		mode:          mode,
		sync:          s,
		renderer:      Renderer{Thickness: opts.Thickness},
		roughROIColor: opts.RoughROIColor,
		publishers:    publishers,
		lazy:          opts.LazySubscribe,
		connected:     1,
	}
	v.stats.Mode = mode.String()
	s.RegisterCallback(v.onTuple)

	if v.lazy {
		v.checkSubscribers()
	}

	return v, nil
}

//Mode returns the synchronization mode chosen at construction
func (v *Visualizer) Mode() Mode {
	return v.mode
}

//OnImage feeds the image stream
func (v *Visualizer) OnImage(frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}

	return v.add(streamImage, frame.Stamp, frame)
}

//OnROIs feeds the (fine) ROI stream
func (v *Visualizer) OnROIs(rois perception.ROIArray) error {
	return v.add(streamROIs, rois.Stamp, rois)
}

//OnRoughROIs feeds the rough ROI stream, only joined in ModeRoughROI
func (v *Visualizer) OnRoughROIs(rois perception.ROIArray) error {
	if v.mode != ModeRoughROI {
		return ErrStreamDisabled
	}

	return v.add(streamRoughROIs, rois.Stamp, rois)
}

//OnSignals feeds the classification stream
func (v *Visualizer) OnSignals(signals perception.SignalArray) error {
	stream := streamSignals
	if v.mode == ModeSimple {
		stream = streamRoughROIs
	}

	return v.add(stream, signals.Stamp, signals)
}

func (v *Visualizer) add(stream int, stamp time.Time, payload interface{}) error {
	if !v.Connected() {
		atomic.AddUint64(&v.discarded, 1)
		return nil
	}

	return v.sync.Add(stream, approxsync.Message{Stamp: stamp, Payload: payload})
}

//onTuple runs under the synchronizer lock, one tuple at a time
func (v *Visualizer) onTuple(msgs []approxsync.Message) {
	t := Tuple{
		Mode:  v.mode,
		Image: msgs[streamImage].Payload.(Frame),
		ROIs:  msgs[streamROIs].Payload.(perception.ROIArray),
	}

	if v.mode == ModeRoughROI {
		t.RoughROIs = msgs[streamRoughROIs].Payload.(perception.ROIArray)
		t.Signals = msgs[streamSignals].Payload.(perception.SignalArray)
	} else {
		t.Signals = msgs[streamRoughROIs].Payload.(perception.SignalArray)
	}

	v.process(t)
}

func (v *Visualizer) process(t Tuple) {
	frame, rs, err := v.Render(t)
	defer frame.Close()

	if err != nil {
		log.Printf("Visualizer.process: Could not decode image stamped %v, got '%v'. Skipping.", t.Image.Stamp, err)
		v.mu.Lock()
		v.stats.DecodeErrors++
		v.mu.Unlock()
		return
	}

	annotated := &AnnotatedFrame{Stamp: t.Image.Stamp, Mat: &frame}
	for _, p := range v.publishers {
		if err := p.Publish(annotated); err != nil {
			log.Printf("Visualizer.process: Error publishing frame stamped %v, got '%v'", t.Image.Stamp, err)
		}
	}

	v.mu.Lock()
	v.stats.Published++
	v.stats.Drawn += uint64(rs.Drawn)
	v.stats.Skipped += uint64(rs.Skipped)
	v.stats.OutOfBounds += uint64(rs.OutOfBounds)
	v.stats.Unlocalized += uint64(rs.Unlocalized)
	v.mu.Unlock()
}

//Render decodes the tuple's image and annotates it. The caller closes the returned Mat, also on error.
func (v *Visualizer) Render(t Tuple) (gocv.Mat, RenderStats, error) {
	frame, err := t.Image.Mat()
	if err != nil {
		return frame, RenderStats{}, err
	}

	return frame, v.Annotate(&frame, t), nil
}

//Annotate draws the ROIs of t onto frame. ROIs without a classification are skipped in both modes.
func (v *Visualizer) Annotate(frame *gocv.Mat, t Tuple) RenderStats {
	var rs RenderStats

	if t.Mode == ModeRoughROI {
		for _, rough := range t.RoughROIs.ROIs {
			if v.renderer.DrawPlain(frame, rough, v.roughROIColor) {
				rs.Drawn++
			} else {
				rs.OutOfBounds++
			}
		}
	}

	for _, roi := range t.ROIs.ROIs {
		if t.Mode == ModeRoughROI {
			if _, ok := perception.ROIFromID(roi.ID, t.RoughROIs); !ok {
				rs.Unlocalized++
			}
		}

		result, ok := perception.ClassificationResultFromID(roi.ID, t.Signals)
		if !ok {
			rs.Skipped++
			continue
		}

		if v.renderer.DrawClassified(frame, roi, result) {
			rs.Drawn++
		} else {
			rs.OutOfBounds++
		}
	}

	return rs
}

//Connected reports whether inputs are currently accepted
func (v *Visualizer) Connected() bool {
	return atomic.LoadInt32(&v.connected) == 1
}

//WatchSubscribers periodically connects or disconnects the inputs depending on whether any publisher has
//subscribers. It returns when ctx is done. Without LazySubscribe inputs stay connected and it returns at once.
func (v *Visualizer) WatchSubscribers(ctx context.Context, period time.Duration) {
	if !v.lazy {
		return
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.checkSubscribers()
		}
	}
}

func (v *Visualizer) checkSubscribers() {
	subscribers := 0
	for _, p := range v.publishers {
		if counter, ok := p.(SubscriberCounter); ok {
			subscribers += counter.Subscribers()
		}
	}

	if subscribers > 0 {
		if atomic.CompareAndSwapInt32(&v.connected, 0, 1) {
			log.Printf("Visualizer: %d subscriber(s), connecting inputs", subscribers)
		}
	} else if atomic.CompareAndSwapInt32(&v.connected, 1, 0) {
		log.Printf("Visualizer: no subscribers, disconnecting inputs")
	}
}

//Stats returns a snapshot of the counters
func (v *Visualizer) Stats() Stats {
	syncStats := v.sync.Stats()

	v.mu.Lock()
	stats := v.stats
	v.mu.Unlock()

	stats.Streams = v.sync.Streams()
	stats.Connected = v.Connected()
	stats.SyncDropped = syncStats.Dropped
	stats.Discarded = atomic.LoadUint64(&v.discarded)
	return stats
}
