package alert

import (
	"context"
	"sync"
)

// MockSink implements Sink and Alarmer for testing.
// Set the Err fields to make the corresponding calls fail.
type MockSink struct {
	// SpeakHook, if set, runs at the start of every Speak call.
	SpeakHook func(ctx context.Context, text string)

	SpeakErr   error
	VibrateErr error
	AlarmErr   error

	mu       sync.Mutex
	spoken   []string
	patterns []Pattern
	alarms   int
}

var (
	_ Sink    = (*MockSink)(nil)
	_ Alarmer = (*MockSink)(nil)
)

// NewMockSink creates an empty mock sink.
func NewMockSink() *MockSink {
	return &MockSink{}
}

// Speak records text.
func (m *MockSink) Speak(ctx context.Context, text string) error {
	if m.SpeakHook != nil {
		m.SpeakHook(ctx, text)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spoken = append(m.spoken, text)
	return m.SpeakErr
}

// Vibrate records pattern.
func (m *MockSink) Vibrate(ctx context.Context, pattern Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append(m.patterns, pattern)
	return m.VibrateErr
}

// Alarm counts the call.
func (m *MockSink) Alarm(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarms++
	return m.AlarmErr
}

// Spoken returns every message spoken so far.
func (m *MockSink) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.spoken...)
}

// Patterns returns every vibration pattern so far.
func (m *MockSink) Patterns() []Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Pattern(nil), m.patterns...)
}

// Alarms returns the number of siren requests.
func (m *MockSink) Alarms() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alarms
}

// Reset clears recorded calls.
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spoken = nil
	m.patterns = nil
	m.alarms = 0
}
