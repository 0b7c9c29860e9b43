// Package media tracks the remote audio of the live call.
package media

import (
	"encoding/binary"
	"sync"
)

// Track states.
const (
	TrackLive  = "live"
	TrackEnded = "ended"
)

// Track is one media track of a stream.
type Track interface {
	ID() string
	Kind() string
	ReadyState() string
}

// Stream is the remote media of a call as exposed by the telephony client.
type Stream interface {
	ID() string
	AudioTracks() []Track
	// Samples copies the most recent len(dst) mono samples in [-1, 1] into dst
	// in chronological order and returns how many were copied.
	Samples(dst []float64) int
}

// StreamSource is anything that can hand over its remote stream. It returns
// nil until the stream is attached.
type StreamSource interface {
	RemoteStream() Stream
}

// HasLiveAudio reports whether s carries at least one live audio track.
func HasLiveAudio(s Stream) bool {
	if s == nil {
		return false
	}
	for _, t := range s.AudioTracks() {
		if t.Kind() == "audio" && t.ReadyState() == TrackLive {
			return true
		}
	}
	return false
}

// PCMStream is a Stream fed with little-endian 16-bit mono PCM frames.
type PCMStream struct {
	id         string
	sampleRate int
	ring       *SampleRing

	mu    sync.RWMutex
	ended bool
}

// NewPCMStream returns a stream that keeps the last capacity samples.
func NewPCMStream(id string, sampleRate, capacity int) *PCMStream {
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	return &PCMStream{
		id:         id,
		sampleRate: sampleRate,
		ring:       NewSampleRing(capacity),
	}
}

// ID implements Stream.
func (s *PCMStream) ID() string { return s.id }

// SampleRate returns the nominal sample rate of the stream.
func (s *PCMStream) SampleRate() int { return s.sampleRate }

// AudioTracks implements Stream.
func (s *PCMStream) AudioTracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := TrackLive
	if s.ended {
		state = TrackEnded
	}
	return []Track{pcmTrack{id: s.id + "-audio", state: state}}
}

// Samples implements Stream.
func (s *PCMStream) Samples(dst []float64) int {
	return s.ring.Latest(dst)
}

// WritePCM16 appends a frame of little-endian signed 16-bit samples.
// A trailing odd byte is ignored.
func (s *PCMStream) WritePCM16(frame []byte) {
	s.mu.RLock()
	ended := s.ended
	s.mu.RUnlock()
	if ended {
		return
	}

	n := len(frame) / 2
	if n == 0 {
		return
	}
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(frame[2*i:]))
		samples[i] = float64(v) / 32768
	}
	s.ring.Write(samples)
}

// End marks the audio track as ended. Later frames are dropped.
func (s *PCMStream) End() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
}

type pcmTrack struct {
	id    string
	state string
}

func (t pcmTrack) ID() string         { return t.id }
func (t pcmTrack) Kind() string       { return "audio" }
func (t pcmTrack) ReadyState() string { return t.state }
