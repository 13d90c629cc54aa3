package navigation

import (
	"context"
	"sync"

	"github.com/teslashibe/go-smartstick/pkg/route"
)

// MockLocation implements LocationSource for testing. Emit pushes a fix to
// the active subscriber.
type MockLocation struct {
	// CurrentFunc is called when Current is invoked.
	// If nil, returns the last emitted fix or ErrNoPosition.
	CurrentFunc func(ctx context.Context) (Sample, error)

	// SubscribeErr makes Subscribe fail.
	SubscribeErr error

	mu       sync.Mutex
	last     *Sample
	subs     map[int]func(Sample)
	nextID   int
	started  int
	canceled int
}

var _ LocationSource = (*MockLocation)(nil)

// NewMockLocation creates a mock whose current fix is pos.
func NewMockLocation(pos route.Coordinate) *MockLocation {
	s := Sample{Position: pos}
	return &MockLocation{last: &s, subs: make(map[int]func(Sample))}
}

// Current returns the current fix.
func (m *MockLocation) Current(ctx context.Context) (Sample, error) {
	if m.CurrentFunc != nil {
		return m.CurrentFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Sample{}, ErrNoPosition
	}
	return *m.last, nil
}

// Subscribe registers fn.
func (m *MockLocation) Subscribe(fn func(Sample)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubscribeErr != nil {
		return nil, m.SubscribeErr
	}
	if m.subs == nil {
		m.subs = make(map[int]func(Sample))
	}
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.started++

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.canceled++
			m.mu.Unlock()
		})
	}, nil
}

// Emit records pos as the current fix and delivers it to every subscriber.
func (m *MockLocation) Emit(pos route.Coordinate) {
	s := Sample{Position: pos}
	m.mu.Lock()
	m.last = &s
	subs := make([]func(Sample), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

// Subscribers returns the number of live subscriptions.
func (m *MockLocation) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Canceled returns how many subscriptions were cancelled.
func (m *MockLocation) Canceled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canceled
}

// MockRenderer implements MapRenderer and records calls.
type MockRenderer struct {
	mu        sync.Mutex
	routes    [][]route.Coordinate
	positions []route.Coordinate
}

var _ MapRenderer = (*MockRenderer)(nil)

// DrawRoute records geometry.
func (m *MockRenderer) DrawRoute(ctx context.Context, origin, destination route.Coordinate, geometry []route.Coordinate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, geometry)
	return nil
}

// UpdatePosition records pos.
func (m *MockRenderer) UpdatePosition(ctx context.Context, pos route.Coordinate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = append(m.positions, pos)
	return nil
}

// Routes returns every drawn route.
func (m *MockRenderer) Routes() [][]route.Coordinate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]route.Coordinate(nil), m.routes...)
}

// Positions returns every marker update.
func (m *MockRenderer) Positions() []route.Coordinate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]route.Coordinate(nil), m.positions...)
}
