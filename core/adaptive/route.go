package adaptive

// RouteKey identifies a route by method and path pattern.
// The pattern is the registered route template ("/api/users/:id"),
// not the concrete request path.
type RouteKey struct {
	Method string
	Path   string
}

func (k RouteKey) String() string {
	return k.Method + " " + k.Path
}

// RouteState is the optimizer's per-route lifecycle state.
// Transitions happen only at optimize-cycle boundaries.
type RouteState uint8

const (
	// StateCold: observed but below the minimum sample count.
	StateCold RouteState = iota
	// StateWatched: enough samples to be scored and considered for promotion.
	StateWatched
	// StateHot: holds a slot in the bounded hot set.
	StateHot
	// StateMemoized: hot and passing all auto-memoize gates; responses
	// may be served from the response cache.
	StateMemoized
)

func (s RouteState) String() string {
	switch s {
	case StateCold:
		return "cold"
	case StateWatched:
		return "watched"
	case StateHot:
		return "hot"
	case StateMemoized:
		return "memoized"
	}
	return "unknown"
}
