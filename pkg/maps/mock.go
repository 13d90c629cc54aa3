package maps

import (
	"context"
	"sync"

	"github.com/teslashibe/go-smartstick/pkg/route"
)

// Mock implements Geocoder and Directions for testing.
// All methods can be customized via function fields.
type Mock struct {
	// SearchFunc is called when Search is invoked.
	// If nil, returns no candidates.
	SearchFunc func(ctx context.Context, text string, near route.Coordinate) ([]Candidate, error)

	// RouteFunc is called when Route is invoked.
	// If nil, returns ErrNoRoute.
	RouteFunc func(ctx context.Context, origin, destination route.Coordinate) (*Route, error)

	mu    sync.Mutex
	calls []MockCall
}

var (
	_ Geocoder   = (*Mock)(nil)
	_ Directions = (*Mock)(nil)
)

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Text   string
	From   route.Coordinate
	To     route.Coordinate
}

// NewMock creates a mock with no canned responses.
func NewMock() *Mock {
	return &Mock{}
}

// Search calls SearchFunc and records the call.
func (m *Mock) Search(ctx context.Context, text string, near route.Coordinate) ([]Candidate, error) {
	m.record(MockCall{Method: "Search", Text: text, From: near})
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, text, near)
	}
	return nil, nil
}

// Route calls RouteFunc and records the call.
func (m *Mock) Route(ctx context.Context, origin, destination route.Coordinate) (*Route, error) {
	m.record(MockCall{Method: "Route", From: origin, To: destination})
	if m.RouteFunc != nil {
		return m.RouteFunc(ctx, origin, destination)
	}
	return nil, ErrNoRoute
}

func (m *Mock) record(c MockCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns the number of calls to a specific method.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
