package router

import (
	"testing"
)

// TestFastRouterStatic tests static route lookup
func TestFastRouterStatic(t *testing.T) {
	router := NewFastRouter()

	called := ""
	router.Add("GET", "/api/status", func(ctx any) { called = "status" })
	router.Add("POST", "/api/users", func(ctx any) { called = "create" })

	h, params := router.Find("GET", "/api/status")
	if h == nil {
		t.Fatal("Expected handler for /api/status")
	}
	if params != nil {
		t.Error("Static route should not produce params")
	}
	h(nil)
	if called != "status" {
		t.Errorf("Wrong handler called: %s", called)
	}

	if h, _ := router.Find("GET", "/api/users"); h != nil {
		t.Error("Method mismatch should not match")
	}
}

// TestFastRouterParams tests single-parameter route extraction
func TestFastRouterParams(t *testing.T) {
	router := NewFastRouter()
	router.Add("GET", "/api/users/:id", func(ctx any) {})
	router.Add("GET", "/api/users/:id/posts", func(ctx any) {})

	h, params := router.Find("GET", "/api/users/123")
	if h == nil {
		t.Fatal("Expected handler for /api/users/123")
	}
	if params["id"] != "123" {
		t.Errorf("Expected id=123, got %s", params["id"])
	}

	h, params = router.Find("GET", "/api/users/42/posts")
	if h == nil {
		t.Fatal("Expected handler for /api/users/42/posts")
	}
	if params["id"] != "42" {
		t.Errorf("Expected id=42, got %s", params["id"])
	}
}

// TestFastRouterPromote tests hot-first reordering of the param scan
func TestFastRouterPromote(t *testing.T) {
	router := NewFastRouter()

	router.Add("GET", "/a/:id", func(ctx any) {})
	router.Add("GET", "/b/:id", func(ctx any) {})
	router.Add("GET", "/c/:id", func(ctx any) {})

	router.Promote(map[string]bool{"GET /c/:id": true})

	routes := *router.paramRoutes.Load()
	if len(routes) != 3 {
		t.Fatalf("Expected 3 routes, got %d", len(routes))
	}
	if routes[0].pattern != "/c/:id" {
		t.Errorf("Hot route should be first, got %s", routes[0].pattern)
	}
	// Cold routes keep registration order
	if routes[1].pattern != "/a/:id" || routes[2].pattern != "/b/:id" {
		t.Errorf("Cold order wrong: %s, %s", routes[1].pattern, routes[2].pattern)
	}

	// Matching still works after reorder
	h, params := router.Find("GET", "/b/99")
	if h == nil || params["id"] != "99" {
		t.Error("Lookup broken after Promote")
	}

	// Clearing the hot set keeps the current relative order
	router.Promote(map[string]bool{})
	if h, _ := router.Find("GET", "/a/7"); h == nil {
		t.Error("Lookup broken after second Promote")
	}
}

// TestFastRouterWildcard tests wildcard matching
func TestFastRouterWildcard(t *testing.T) {
	router := NewFastRouter()
	router.Add("GET", "/static/*filepath", func(ctx any) {})

	h, params := router.Find("GET", "/static/css/site.css")
	if h == nil {
		t.Fatal("Expected wildcard match")
	}
	if params["filepath"] != "css/site.css" {
		t.Errorf("Expected filepath=css/site.css, got %s", params["filepath"])
	}
}

// BenchmarkFastRouterStatic benchmarks static lookup
func BenchmarkFastRouterStatic(b *testing.B) {
	router := NewFastRouter()
	router.Add("GET", "/api/status", func(ctx any) {})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		router.Find("GET", "/api/status")
	}
}

// BenchmarkFastRouterParamPromoted benchmarks a promoted param route
func BenchmarkFastRouterParamPromoted(b *testing.B) {
	router := NewFastRouter()
	for _, p := range []string{"/a/:id", "/b/:id", "/c/:id", "/d/:id"} {
		router.Add("GET", p, func(ctx any) {})
	}
	router.Promote(map[string]bool{"GET /d/:id": true})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		router.Find("GET", "/d/123")
	}
}
