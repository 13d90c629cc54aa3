package speech

import (
	"math"
	"sync"
	"time"
)

// Voice activity detection parameters.
const (
	HopMS = 10 // analysis hop (ms)

	// Level thresholds (dBFS), with hysteresis between them.
	VADOnThreshold  = -35.0
	VADOffThreshold = -45.0

	VADAttackMS  = 40  // sustained level before speech starts
	VADReleaseMS = 400 // sustained silence before speech ends

	// MaxUtterance caps a single utterance.
	MaxUtterance = 10 * time.Second
)

// Segmenter splits a PCM16 mono stream into utterances using a level-based
// voice activity detector with attack and release hysteresis.
type Segmenter struct {
	mu sync.Mutex

	sampleRate  int
	hopSize     int
	attackHops  int
	releaseHops int
	maxSamples  int

	pending []int16 // samples not yet analyzed
	preroll []int16 // recent hops kept while idle
	current []int16 // active utterance

	active bool
	above  int
	below  int
}

// NewSegmenter creates a segmenter for the given sample rate.
func NewSegmenter(sampleRate int) *Segmenter {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	hop := sampleRate * HopMS / 1000
	return &Segmenter{
		sampleRate:  sampleRate,
		hopSize:     hop,
		attackHops:  max(1, VADAttackMS/HopMS),
		releaseHops: max(1, VADReleaseMS/HopMS),
		maxSamples:  int(MaxUtterance.Seconds() * float64(sampleRate)),
	}
}

// SampleRate returns the configured sample rate.
func (s *Segmenter) SampleRate() int {
	return s.sampleRate
}

// Active reports whether speech is currently in progress.
func (s *Segmenter) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Feed analyzes samples and returns any utterances completed by them.
func (s *Segmenter) Feed(samples []int16) [][]int16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, samples...)

	var out [][]int16
	for len(s.pending) >= s.hopSize {
		hop := s.pending[:s.hopSize]
		if u := s.processHop(hop); u != nil {
			out = append(out, u)
		}
		s.pending = s.pending[s.hopSize:]
	}
	return out
}

// Flush ends the stream and returns the utterance in progress, if any.
func (s *Segmenter) Flush() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		s.current = append(s.current, s.pending...)
	}
	u := s.finish()
	s.pending = nil
	s.preroll = nil
	s.above = 0
	return u
}

// Reset drops all state.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.preroll = nil
	s.current = nil
	s.active = false
	s.above = 0
	s.below = 0
}

func (s *Segmenter) processHop(hop []int16) []int16 {
	db := rmsDBFS(hop)

	if !s.active {
		s.preroll = append(s.preroll, hop...)
		if keep := s.attackHops * s.hopSize; len(s.preroll) > keep {
			s.preroll = s.preroll[len(s.preroll)-keep:]
		}
		if db >= VADOnThreshold {
			s.above++
			if s.above >= s.attackHops {
				s.active = true
				s.below = 0
				s.current = append(s.current[:0], s.preroll...)
				s.preroll = nil
			}
		} else {
			s.above = 0
		}
		return nil
	}

	s.current = append(s.current, hop...)
	switch {
	case db <= VADOffThreshold:
		s.below++
	case db >= VADOnThreshold:
		s.below = 0
	}

	if s.below >= s.releaseHops || len(s.current) >= s.maxSamples {
		return s.finish()
	}
	return nil
}

// finish closes the active utterance, trimming the trailing silence.
func (s *Segmenter) finish() []int16 {
	if !s.active || len(s.current) == 0 {
		s.active = false
		s.current = nil
		return nil
	}
	trim := s.below * s.hopSize
	u := s.current
	if trim < len(u) {
		u = u[:len(u)-trim]
	}
	out := make([]int16, len(u))
	copy(out, u)

	s.active = false
	s.current = nil
	s.above = 0
	s.below = 0
	return out
}

// HasSpeech reports whether any part of samples exceeds the speech threshold
// for the attack time.
func HasSpeech(samples []int16, sampleRate int) bool {
	seg := NewSegmenter(sampleRate)
	if len(seg.Feed(samples)) > 0 {
		return true
	}
	return seg.Flush() != nil
}

func rmsDBFS(samples []int16) float64 {
	if len(samples) == 0 {
		return -100.0
	}
	var sum float64
	for _, v := range samples {
		f := float64(v) / 32768.0
		sum += f * f
	}
	rms := math.Sqrt(sum/float64(len(samples)) + 1e-12)
	return 20.0 * math.Log10(rms+1e-12)
}
