package video

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/perception"
)

//Feed topics
const (
	TopicImage     = "image"
	TopicROIs      = "rois"
	TopicRoughROIs = "rough_rois"
	TopicSignals   = "signals"
)

const maxFeedLine = 64 << 20

type feedHeader struct {
	Topic string `json:"topic"`
}

//feedImage carries the pixels either inline (base64 in JSON) or as a path to an image file
type feedImage struct {
	Stamp    json.RawMessage `json:"stamp"`
	Encoding string          `json:"encoding"`
	Width    int             `json:"width"`
	Height   int             `json:"height"`
	Data     []byte          `json:"data"`
	Path     string          `json:"path"`
}

//RunFeed reads JSON lines, one message each, and hands them to v. Every line has a "topic" field, one of
//image, rois, rough_rois and signals, next to the fields of the message itself. Malformed lines are logged and
//skipped. It returns when r is exhausted or ctx is done.
func RunFeed(ctx context.Context, r io.Reader, v *Visualizer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFeedLine)

	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line++
		text := scanner.Bytes()
		if len(strings.TrimSpace(string(text))) == 0 {
			continue
		}

		if err := dispatch(text, v); err != nil {
			log.Printf("RunFeed: Skipping line %d, got '%v'", line, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("RunFeed: Error, got '%v'", err)
	}

	return nil
}

func dispatch(text []byte, v *Visualizer) error {
	var header feedHeader
	if err := json.Unmarshal(text, &header); err != nil {
		return err
	}

	switch header.Topic {
	case TopicImage:
		frame, err := decodeFeedImage(text)
		if err != nil {
			return err
		}
		return v.OnImage(frame)

	case TopicROIs, TopicRoughROIs:
		var rois perception.ROIArray
		if err := json.Unmarshal(text, &rois); err != nil {
			return err
		}
		if header.Topic == TopicRoughROIs {
			return v.OnRoughROIs(rois)
		}
		return v.OnROIs(rois)

	case TopicSignals:
		var signals perception.SignalArray
		if err := json.Unmarshal(text, &signals); err != nil {
			return err
		}
		return v.OnSignals(signals)

	default:
		return fmt.Errorf("unknown topic '%s'", header.Topic)
	}
}

func decodeFeedImage(text []byte) (Frame, error) {
	var img feedImage
	if err := json.Unmarshal(text, &img); err != nil {
		return Frame{}, err
	}

	stamp, err := perception.DecodeStamp(img.Stamp)
	if err != nil {
		return Frame{}, err
	}

	frame := Frame{Stamp: stamp, Width: img.Width, Height: img.Height, Encoding: img.Encoding, Data: img.Data}

	if img.Path != "" {
		if frame.Data, err = ioutil.ReadFile(img.Path); err != nil {
			return Frame{}, err
		}
		if frame.Encoding == "" {
			frame.Encoding = encodingFromExt(img.Path)
		}
	}

	return frame, nil
}

func encodingFromExt(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return EncodingPNG
	case ".jpg", ".jpeg":
		return EncodingJPEG
	default:
		return ""
	}
}

//RunFeedCommand executes an external bridge process (e.g. a script subscribed to the perception topics) and feeds
//its standard output to v. The process is killed when ctx is done.
func RunFeedCommand(ctx context.Context, v *Visualizer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("RunFeedCommand: Error, got '%v'", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("RunFeedCommand: Error executing '%s', got '%v'", name, err)
	}
	log.Printf("RunFeedCommand: started '%s' (pid %d)", name, cmd.Process.Pid)

	feedErr := RunFeed(ctx, stdout, v)

	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("RunFeedCommand: Error waiting '%s', got '%v'", name, err)
	}

	return feedErr
}
