package video

import (
	"fmt"
	"log"
	"path"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

//RecordingExt is the extension of recorded videos
const RecordingExt = "avi"

const recordingCodec = "MJPG"

//Recorder writes annotated frames into MJPG ('.avi' extension) videos under a directory. A video is opened on the
//first frame and a new one is started whenever the frame size changes.
type Recorder struct {
	dir string
	fps float64

	mu      sync.Mutex
	writer  *gocv.VideoWriter
	width   int
	height  int
	current string
	written int
}

//NewRecorder returns a recorder writing into dir at given frame rate
func NewRecorder(dir string, fps float64) *Recorder {
	return &Recorder{dir: dir, fps: fps}
}

//Publish appends frame to the current video
func (r *Recorder) Publish(frame *AnnotatedFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	width, height := frame.Mat.Cols(), frame.Mat.Rows()
	if r.writer == nil || width != r.width || height != r.height {
		if err := r.open(frame.Stamp, width, height); err != nil {
			return err
		}
	}

	if err := r.writer.Write(*frame.Mat); err != nil {
		return fmt.Errorf("Recorder.Publish: Error writing '%s', got '%v'", r.current, err)
	}

	r.written++
	return nil
}

//open rotates to a new video named after the stamp of its first frame. Caller holds r.mu.
func (r *Recorder) open(stamp time.Time, width, height int) error {
	r.closeWriter()

	name := path.Join(r.dir, fmt.Sprintf("%s_%09d.%s", stamp.UTC().Format("20060102T150405"), stamp.Nanosecond(), RecordingExt))
	writer, err := gocv.VideoWriterFile(name, recordingCodec, r.fps, width, height, true)
	if err != nil {
		return fmt.Errorf("Recorder.open: Error creating '%s', got '%v'", name, err)
	}

	if !writer.IsOpened() {
		writer.Close()
		return fmt.Errorf("Recorder.open: Could not open '%s'", name)
	}

	log.Printf("Recorder: recording %dx%d frames into '%s'", width, height, name)
	r.writer, r.width, r.height, r.current, r.written = writer, width, height, name, 0
	return nil
}

func (r *Recorder) closeWriter() {
	if r.writer == nil {
		return
	}

	if err := r.writer.Close(); err != nil {
		log.Printf("Recorder: Error closing '%s', got '%v'", r.current, err)
	}
	log.Printf("Recorder: closed '%s' after %d frames", r.current, r.written)
	r.writer = nil
}

//currentPath returns the path of the video being written, empty before the first frame
func (r *Recorder) currentPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return ""
	}
	return r.current
}

//Subscribers is always 1, recording needs the inputs connected
func (r *Recorder) Subscribers() int {
	return 1
}

//Close finishes the current video
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeWriter()
	return nil
}
