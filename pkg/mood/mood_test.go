package mood

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLookupFallback(t *testing.T) {
	c := Default()
	got := c.Lookup("does-not-exist")
	if got.ID != Fallback {
		t.Fatalf("Lookup() = %s; want %s", got.ID, Fallback)
	}
	got = c.Lookup("debug-spiral")
	if got.ID != "debug-spiral" || !got.Instrumental {
		t.Fatalf("Lookup() = %+v; want instrumental debug-spiral", got)
	}
}

func TestCatalogImmutable(t *testing.T) {
	c := Default()
	p, _ := c.Get("lock-in")
	p.Tags[0] = "polka"
	again, _ := c.Get("lock-in")
	if again.Tags[0] != "electronic" {
		t.Fatalf("Get() tags = %v; catalog was mutated", again.Tags)
	}
	if len(c.IDs()) != 6 {
		t.Fatalf("IDs() = %d; want 6", len(c.IDs()))
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "moods.yaml")
	data := `
demo-day:
  tags: [orchestral, epic]
  delta:
    tempo: 5
    energy: 0.1
  instrumental: true
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() err = %v; want nil", err)
	}
	p, ok := c.Get("demo-day")
	if !ok {
		t.Fatalf("Get() demo-day not found")
	}
	if p.Delta.Tempo != 5 || len(p.Tags) != 2 || !p.Instrumental {
		t.Fatalf("Get() = %+v; want loaded preset", p)
	}
	if _, ok := Default().Get("demo-day"); ok {
		t.Fatalf("Default() was extended by Load")
	}

	if err := os.WriteFile(path, []byte("broken:\n  tags: []\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("Load() err = nil; want error for preset without tags")
	}
}
