package library

import (
	"testing"

	"go.uber.org/zap"
)

func testLibrary(name, namespace string) *Library {
	return &Library{
		Manifest: &Manifest{
			Name:      name,
			Namespace: namespace,
			dir:       "/tmp/" + name,
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	if err := registry.Register(testLibrary("math", "demo")); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	if registry.Count() != 1 {
		t.Errorf("expected count 1, got %d", registry.Count())
	}

	library, ok := registry.Get("math")
	if !ok {
		t.Fatal("Get() did not find registered library")
	}
	if library.Namespace() != "demo" {
		t.Errorf("expected namespace 'demo', got '%s'", library.Namespace())
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	if err := registry.Register(testLibrary("math", "demo")); err != nil {
		t.Fatalf("first Register() failed: %v", err)
	}

	err := registry.Register(testLibrary("math", "other"))
	if err == nil {
		t.Fatal("Register() should fail for duplicate library")
	}

	if _, ok := err.(*LibraryAlreadyRegisteredError); !ok {
		t.Errorf("expected LibraryAlreadyRegisteredError, got %T", err)
	}

	if got := registry.LookupByNamespace("other"); len(got) != 0 {
		t.Errorf("rejected library must not be indexed, got %d", len(got))
	}
}

func TestRegistry_LookupByNamespace(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	for _, l := range []*Library{
		testLibrary("math", "demo"),
		testLibrary("strings", "demo"),
		testLibrary("crypto", "security"),
	} {
		if err := registry.Register(l); err != nil {
			t.Fatal(err)
		}
	}

	if got := registry.LookupByNamespace("demo"); len(got) != 2 {
		t.Errorf("expected 2 libraries in demo, got %d", len(got))
	}
	if got := registry.LookupByNamespace("security"); len(got) != 1 {
		t.Errorf("expected 1 library in security, got %d", len(got))
	}
	if got := registry.LookupByNamespace("none"); len(got) != 0 {
		t.Errorf("expected no libraries, got %d", len(got))
	}
}

func TestRegistry_List(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	for _, name := range []string{"b", "c", "a"} {
		if err := registry.Register(testLibrary(name, name)); err != nil {
			t.Fatal(err)
		}
	}

	list := registry.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 libraries, got %d", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].Name() != want {
			t.Errorf("List()[%d] = %s, want %s", i, list[i].Name(), want)
		}
	}
}

func TestRegistry_Unregister(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	if err := registry.Register(testLibrary("math", "demo")); err != nil {
		t.Fatal(err)
	}

	registry.Unregister("math")
	registry.Unregister("never-registered")

	if registry.Count() != 0 {
		t.Errorf("expected count 0, got %d", registry.Count())
	}
	if _, ok := registry.Get("math"); ok {
		t.Error("library should have been removed")
	}
	if got := registry.LookupByNamespace("demo"); len(got) != 0 {
		t.Errorf("namespace index not cleaned up, got %d", len(got))
	}

	// The name is free again.
	if err := registry.Register(testLibrary("math", "demo")); err != nil {
		t.Errorf("re-register failed: %v", err)
	}
}
