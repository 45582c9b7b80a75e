//Package approxsync joins independently timestamped message streams into tuples of messages whose
//timestamps are close to each other (approximate-time synchronization).
//
//Every stream keeps a deque of pending messages. Once all deques are non-empty, the oldest front message is
//repeatedly moved aside while the span [oldest front, newest front] of the current fronts is compared against the
//best candidate found so far. The stream holding the newest message of the first candidate becomes the pivot:
//candidates must contain a pivot message, so once the pivot message itself would be moved aside the best
//candidate is final and gets published. Newer candidates are penalized by AgePenalty so that an older tuple is
//preferred over a marginally tighter but later one. Inter-message lower bounds (known minimum periods of a stream)
//let the search prove a candidate optimal without waiting for the next message.
package approxsync

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

//DefaultQueueSize is the default per-stream number of pending messages
const DefaultQueueSize = 10

//DefaultAgePenalty is the default penalty applied to newer candidates
const DefaultAgePenalty = 0.1

const noPivot = -1

//ErrUnknownStream is returned when adding a message to a stream index the synchronizer does not have
var ErrUnknownStream = errors.New("approxsync: unknown stream")

//Message is a timestamped payload arriving on one stream
type Message struct {
	Stamp   time.Time
	Payload interface{}
}

//Options controls the matching policy
type Options struct {
	//QueueSize is the maximum number of pending messages per stream. When exceeded the oldest message of that stream is dropped.
	QueueSize int
	//MaxInterval is the largest allowed span between the oldest and the newest message of a tuple. Zero means unbounded.
	MaxInterval time.Duration
	//AgePenalty biases the search toward older candidates
	AgePenalty float64
	//InterMessageLowerBounds holds, per stream, the minimum time between two consecutive messages. Nil means zero for all streams.
	InterMessageLowerBounds []time.Duration
}

//Stats are counters over the lifetime of a Synchronizer
type Stats struct {
	Published uint64
	Dropped   uint64
}

//Synchronizer matches messages of N streams into tuples. It is safe for concurrent use; arrivals are serialized and
//the registered callback runs on the goroutine whose arrival completed the tuple, before Add returns.
type Synchronizer struct {
	mu sync.Mutex

	streams     int
	queueSize   int
	maxInterval time.Duration
	agePenalty  float64
	lowerBounds []time.Duration

	deques      [][]Message
	past        [][]Message
	hasDropped  []bool
	numNonEmpty int

	candidate      []Message
	candidateStart time.Time
	candidateEnd   time.Time
	pivot          int
	pivotTime      time.Time

	callback func(tuple []Message)
	stats    Stats
}

//New returns a synchronizer for given number of streams
func New(streams int, opts Options) (*Synchronizer, error) {
	if streams < 2 {
		return nil, fmt.Errorf("approxsync: need at least 2 streams, got %d", streams)
	}

	if opts.QueueSize < 1 {
		return nil, fmt.Errorf("approxsync: queue size must be positive, got %d", opts.QueueSize)
	}

	if opts.MaxInterval < 0 || opts.AgePenalty < 0 {
		return nil, errors.New("approxsync: max interval and age penalty can not be negative")
	}

	lowerBounds := make([]time.Duration, streams)
	if opts.InterMessageLowerBounds != nil {
		if len(opts.InterMessageLowerBounds) != streams {
			return nil, fmt.Errorf("approxsync: got %d inter message lower bounds for %d streams", len(opts.InterMessageLowerBounds), streams)
		}
		for i, bound := range opts.InterMessageLowerBounds {
			if bound < 0 {
				return nil, fmt.Errorf("approxsync: negative inter message lower bound for stream %d", i)
			}
			lowerBounds[i] = bound
		}
	}

	return &Synchronizer{
		streams:     streams,
		queueSize:   opts.QueueSize,
		maxInterval: opts.MaxInterval,
		agePenalty:  opts.AgePenalty,
		lowerBounds: lowerBounds,
		deques:      make([][]Message, streams),
		past:        make([][]Message, streams),
		hasDropped:  make([]bool, streams),
		pivot:       noPivot,
	}, nil
}

//RegisterCallback sets the function receiving every matched tuple, one message per stream in stream order.
//The callback must not call Add on the same Synchronizer.
func (s *Synchronizer) RegisterCallback(cb func(tuple []Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

//Streams returns the number of joined streams
func (s *Synchronizer) Streams() int {
	return s.streams
}

//Stats returns a snapshot of the counters
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

//Add pushes a message arriving on given stream and runs the matching
func (s *Synchronizer) Add(stream int, msg Message) error {
	if stream < 0 || stream >= s.streams {
		return fmt.Errorf("%w: %d", ErrUnknownStream, stream)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deques[stream] = append(s.deques[stream], msg)
	if len(s.deques[stream]) == 1 {
		s.numNonEmpty++
		if s.numNonEmpty == s.streams {
			s.process()
		}
	}

	if len(s.deques[stream])+len(s.past[stream]) > s.queueSize {
		//abort the ongoing candidate search, the non-empty count is rebuilt by recover
		s.numNonEmpty = 0
		for i := 0; i < s.streams; i++ {
			s.recover(i, len(s.past[i]))
		}

		s.deques[stream] = s.deques[stream][1:]
		s.hasDropped[stream] = true
		s.stats.Dropped++

		if s.pivot != noPivot {
			s.candidate = nil
			s.pivot = noPivot
			s.process()
		}
	}

	return nil
}

//process assumes s.mu is held
func (s *Synchronizer) process() {
	for s.numNonEmpty == s.streams {
		endIndex, endTime := s.candidateBoundary(true)
		startIndex, startTime := s.candidateBoundary(false)

		for i := range s.hasDropped {
			if i != endIndex {
				s.hasDropped[i] = false
			}
		}

		if s.pivot == noPivot {
			if s.maxInterval > 0 && endTime.Sub(startTime) > s.maxInterval {
				s.dequeDeleteFront(startIndex)
				continue
			}

			//a stream which dropped messages is not a reliable pivot
			if s.hasDropped[endIndex] {
				s.dequeDeleteFront(startIndex)
				continue
			}

			s.makeCandidate()
			s.candidateStart = startTime
			s.candidateEnd = endTime
			s.pivot = endIndex
			s.pivotTime = endTime
			s.dequeMoveFrontToPast(startIndex)
		} else {
			if s.notBetter(endTime, startTime) {
				s.dequeMoveFrontToPast(startIndex)
			} else {
				s.makeCandidate()
				s.candidateStart = startTime
				s.candidateEnd = endTime
				s.dequeMoveFrontToPast(startIndex)
			}
		}

		if startIndex == s.pivot {
			//every candidate containing the pivot message was examined
			s.publishCandidate()
		} else if s.notBetter(endTime, s.pivotTime) {
			//any later candidate spans at least [pivotTime, endTime], already too wide
			s.publishCandidate()
		} else if s.numNonEmpty < s.streams {
			s.virtualSearch()
		}
	}
}

//virtualSearch tries to prove the current candidate optimal using the inter message lower bounds of the streams
//which ran out of messages. Moves done during the search are undone when optimality can not be proven.
func (s *Synchronizer) virtualSearch() {
	virtualMoves := make([]int, s.streams)
	for {
		_, endTime := s.virtualCandidateBoundary(true)
		startIndex, startTime := s.virtualCandidateBoundary(false)

		if s.notBetter(endTime, s.pivotTime) {
			s.publishCandidate()
			return
		}

		if !s.notBetter(endTime, startTime) || len(s.deques[startIndex]) == 0 {
			s.numNonEmpty = 0
			for i := 0; i < s.streams; i++ {
				s.recover(i, virtualMoves[i])
			}
			return
		}

		s.dequeMoveFrontToPast(startIndex)
		virtualMoves[startIndex]++
	}
}

//notBetter reports whether a candidate spanning [start, end] does not improve on the current one once the age
//penalty is applied
func (s *Synchronizer) notBetter(end, start time.Time) bool {
	return float64(end.Sub(s.candidateEnd))*(1+s.agePenalty) >= float64(start.Sub(s.candidateStart))
}

func (s *Synchronizer) makeCandidate() {
	s.candidate = make([]Message, s.streams)
	for i := 0; i < s.streams; i++ {
		s.candidate[i] = s.deques[i][0]
		s.stats.Dropped += uint64(len(s.past[i]))
		s.past[i] = s.past[i][:0]
	}
}

func (s *Synchronizer) publishCandidate() {
	tuple := s.candidate
	s.candidate = nil
	s.pivot = noPivot

	s.numNonEmpty = 0
	for i := 0; i < s.streams; i++ {
		s.recoverAndDelete(i)
	}

	s.stats.Published++
	if s.callback != nil {
		s.callback(tuple)
	}
}

//recover moves the last n messages of the past of stream i back to the front of its deque
func (s *Synchronizer) recover(i, n int) {
	past := s.past[i]
	moved := make([]Message, 0, n+len(s.deques[i]))
	moved = append(moved, past[len(past)-n:]...)
	s.deques[i] = append(moved, s.deques[i]...)
	s.past[i] = past[:len(past)-n]

	if len(s.deques[i]) > 0 {
		s.numNonEmpty++
	}
}

//recoverAndDelete restores the whole past of stream i and deletes its oldest message, the one used by the published tuple
func (s *Synchronizer) recoverAndDelete(i int) {
	restored := make([]Message, 0, len(s.past[i])+len(s.deques[i]))
	restored = append(restored, s.past[i]...)
	restored = append(restored, s.deques[i]...)
	s.past[i] = s.past[i][:0]

	if len(restored) > 0 {
		restored = restored[1:]
	}
	s.deques[i] = restored

	if len(s.deques[i]) > 0 {
		s.numNonEmpty++
	}
}

func (s *Synchronizer) dequeDeleteFront(i int) {
	s.deques[i] = s.deques[i][1:]
	s.stats.Dropped++
	if len(s.deques[i]) == 0 {
		s.numNonEmpty--
	}
}

func (s *Synchronizer) dequeMoveFrontToPast(i int) {
	s.past[i] = append(s.past[i], s.deques[i][0])
	s.deques[i] = s.deques[i][1:]
	if len(s.deques[i]) == 0 {
		s.numNonEmpty--
	}
}

//candidateBoundary returns the stream holding the oldest (end == false) or newest (end == true) front message.
//Assumes every deque is non-empty. Ties go to the first stream for the start and to the last one for the end.
func (s *Synchronizer) candidateBoundary(end bool) (int, time.Time) {
	index := 0
	stamp := s.deques[0][0].Stamp
	for i := 1; i < s.streams; i++ {
		if t := s.deques[i][0].Stamp; t.Before(stamp) != end {
			index, stamp = i, t
		}
	}

	return index, stamp
}

//virtualTime is the stamp of the front message of stream i or, when the stream ran out of messages, the earliest
//time its next message could carry
func (s *Synchronizer) virtualTime(i int) time.Time {
	if len(s.deques[i]) > 0 {
		return s.deques[i][0].Stamp
	}

	last := s.past[i][len(s.past[i])-1].Stamp
	if bound := last.Add(s.lowerBounds[i]); bound.After(s.pivotTime) {
		return bound
	}

	return s.pivotTime
}

func (s *Synchronizer) virtualCandidateBoundary(end bool) (int, time.Time) {
	index := 0
	stamp := s.virtualTime(0)
	for i := 1; i < s.streams; i++ {
		if t := s.virtualTime(i); t.Before(stamp) != end {
			index, stamp = i, t
		}
	}

	return index, stamp
}
