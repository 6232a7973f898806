package memorystore

import "testing"

func TestStoreAndSearchRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.Store("the build uses bazel", "project", 0.8, []string{"build"}, "/proj"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := s.Store("unrelated fact", "project", 0.2, nil, "/proj"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	nodes, err := s.Search("bazel", "", "/proj", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(nodes) != 1 || nodes[0].Content != "the build uses bazel" {
		t.Fatalf("expected one bazel match, got %+v", nodes)
	}
	if len(nodes[0].Tags) != 1 || nodes[0].Tags[0] != "build" {
		t.Fatalf("expected tags round trip, got %+v", nodes[0].Tags)
	}
}

func TestSearchScopesByProjectAndLayer(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.Store("shared topic detail", "session", 0.5, nil, "/proj-a"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := s.Store("shared topic detail", "project", 0.5, nil, "/proj-b"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	nodes, err := s.Search("topic", "", "/proj-a", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected project scoping to exclude other project, got %+v", nodes)
	}

	nodes, err = s.Search("topic", "project", "/proj-b", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(nodes) != 1 || nodes[0].Layer != "project" {
		t.Fatalf("expected layer-scoped match, got %+v", nodes)
	}

	nodes, err = s.Search("topic", "session", "/proj-b", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(nodes) != 0 {
		t.Fatalf("expected no session-layer match in proj-b, got %+v", nodes)
	}
}

func TestSearchOrdersByImportance(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.Store("ranked low", "", 0.1, nil, ""); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := s.Store("ranked high", "", 0.9, nil, ""); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	nodes, err := s.Search("ranked", "", "", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(nodes) != 2 || nodes[0].Content != "ranked high" {
		t.Fatalf("expected highest importance first, got %+v", nodes)
	}
}
