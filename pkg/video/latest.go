package video

import (
	"errors"
	"sync"
	"time"
)

//ErrNoFrame is returned by LatestFrame.Get before anything was published
var ErrNoFrame = errors.New("no annotated frame yet")

//LatestFrame keeps the last annotated frame as JPEG
type LatestFrame struct {
	//pollTimeout is how long a Get keeps counting as a subscriber
	pollTimeout time.Duration
	now         func() time.Time

	mu       sync.RWMutex
	stamp    time.Time
	jpeg     []byte
	lastPoll time.Time
}

//NewLatestFrame returns an empty LatestFrame. Every Get counts as one subscriber for pollTimeout.
func NewLatestFrame(pollTimeout time.Duration) *LatestFrame {
	return &LatestFrame{pollTimeout: pollTimeout, now: time.Now}
}

//Publish replaces the stored frame
func (l *LatestFrame) Publish(frame *AnnotatedFrame) error {
	jpeg, err := frame.JPEG()
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.stamp = frame.Stamp
	l.jpeg = jpeg
	l.mu.Unlock()
	return nil
}

//Get returns the last JPEG and its stamp. The returned slice must not be modified.
func (l *LatestFrame) Get() ([]byte, time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastPoll = l.now()
	if l.jpeg == nil {
		return nil, time.Time{}, ErrNoFrame
	}

	return l.jpeg, l.stamp, nil
}

//Subscribers reports 1 while the frame was polled within the poll timeout, so lazy inputs connect on the first
//request and disconnect once clients stop polling
func (l *LatestFrame) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.lastPoll.IsZero() || l.now().Sub(l.lastPoll) > l.pollTimeout {
		return 0
	}
	return 1
}
