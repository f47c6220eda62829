package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStaticProviderQuery(t *testing.T) {
	provider := NewStaticProvider([]Snippet{
		{Title: "a", Keywords: []string{"department"}},
		{Title: "b", Keywords: []string{"group"}},
		{Title: "c", Tags: []string{"generic_query"}},
	}, 2)

	results := provider.Query("users in the sales department", "directory_query")
	if len(results) != 1 || results[0].Title != "a" {
		t.Fatalf("unexpected results: %+v", results)
	}

	results = provider.Query("anything", "generic_query")
	if len(results) != 1 || results[0].Title != "c" {
		t.Fatalf("tag match failed: %+v", results)
	}
}

func TestStaticProviderMaxResults(t *testing.T) {
	provider := NewStaticProvider([]Snippet{
		{Title: "a"}, {Title: "b"}, {Title: "c"},
	}, 2)
	if got := len(provider.Query("x", "")); got != 2 {
		t.Fatalf("expected 2 results, got %d", got)
	}
}

func TestLoadStaticProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	payload := `[{"title":"t","content":"c","keywords":["ldap"]}]`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	provider, err := LoadStaticProvider(path, 0)
	if err != nil {
		t.Fatalf("LoadStaticProvider returned error: %v", err)
	}
	if results := provider.Query("ldap basics", ""); len(results) != 1 {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestDefaultProviderCoversDirectoryTopics(t *testing.T) {
	provider := DefaultProvider(3)
	if results := provider.Query("quién soy", "directory_query"); len(results) == 0 {
		t.Fatal("expected builtin user snippet to match")
	}
}
