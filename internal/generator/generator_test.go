package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"AgentForge/internal/coordinator"
	"AgentForge/internal/directory"
	"AgentForge/internal/llm"
	"AgentForge/internal/tool"
)

type stubClient struct {
	blueprint string
	err       error
	calls     int
}

func (s *stubClient) GenerateTool(_ context.Context, _ llm.Request) (*llm.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Blueprint: s.blueprint}, nil
}

func newTestGenerator(t *testing.T, opts ...Option) (*Generator, *tool.Registry) {
	t.Helper()
	registry, err := tool.NewRegistry(context.Background(), nil)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}
	connector := directory.NewConnector(directory.Config{})
	return New(connector, registry, opts...), registry
}

func TestGenerateWithoutClientUsesFallback(t *testing.T) {
	g, registry := newTestGenerator(t)

	result := g.Generate(context.Background(), coordinator.TypeDirectoryQuery, "usuarios del departamento ventas")
	if result.Record.Backend != tool.BackendFallback {
		t.Fatalf("expected fallback backend, got %s", result.Record.Backend)
	}
	if result.Record.Origin != tool.OriginGenerated {
		t.Fatalf("unexpected origin: %s", result.Record.Origin)
	}
	if result.Record.ToolType != coordinator.TypeDirectoryQuery {
		t.Fatalf("tool type lost: %s", result.Record.ToolType)
	}
	if result.Record.Blueprint == nil || !strings.Contains(result.Record.Blueprint.Filter, "ventas") {
		t.Fatalf("department not parameterized: %+v", result.Record.Blueprint)
	}
	if result.Callable == nil {
		t.Fatal("callable missing")
	}

	if _, ok := registry.Get(result.Record.Name); !ok {
		t.Fatal("record not registered")
	}
	if counters := registry.CountersSnapshot(); counters.TotalGenerated != 1 {
		t.Fatalf("generation not counted: %+v", counters)
	}
}

func TestGenerateUsesBackendBlueprint(t *testing.T) {
	client := &stubClient{blueprint: `{
		"description": "busca impresoras",
		"tool_type": "directory_query",
		"filter": "(&(objectClass=device)(cn=*printer*))",
		"attributes": ["cn"],
		"scope": "sub",
		"response_template": "dispositivo {cn}"
	}`}
	g, registry := newTestGenerator(t, WithClient(client))

	result := g.Generate(context.Background(), coordinator.TypeDirectoryQuery, "inventario de impresoras")
	if result.Record.Backend != tool.BackendAI {
		t.Fatalf("expected ai backend, got %s", result.Record.Backend)
	}
	if result.Record.Blueprint.Filter != "(&(objectClass=device)(cn=*printer*))" {
		t.Fatalf("blueprint not adopted: %+v", result.Record.Blueprint)
	}
	if client.calls != 1 {
		t.Fatalf("unexpected backend calls: %d", client.calls)
	}
	if counters := registry.CountersSnapshot(); counters.TotalFailures != 0 {
		t.Fatalf("unexpected failures: %+v", counters)
	}
}

func TestGenerateFallsBackOnBackendError(t *testing.T) {
	client := &stubClient{err: errors.New("backend down")}
	g, registry := newTestGenerator(t, WithClient(client))

	result := g.Generate(context.Background(), coordinator.TypeDirectoryQuery, "usuarios de ventas")
	if result.Record.Backend != tool.BackendFallback {
		t.Fatalf("expected fallback after backend error, got %s", result.Record.Backend)
	}
	if counters := registry.CountersSnapshot(); counters.TotalFailures != 1 {
		t.Fatalf("failure not counted: %+v", counters)
	}
}

func TestGenerateRejectsInvalidBlueprint(t *testing.T) {
	cases := map[string]string{
		"not json":       `describe a tool`,
		"unknown type":   `{"tool_type":"shell_command","response_template":"x"}`,
		"empty template": `{"tool_type":"generic_query","response_template":"  "}`,
		"bad filter":     `{"tool_type":"directory_query","filter":"(unclosed","response_template":"x"}`,
		"missing filter": `{"tool_type":"directory_query","response_template":"x"}`,
		"bad scope":      `{"tool_type":"generic_query","scope":"onelevel","response_template":"x"}`,
	}

	for name, payload := range cases {
		client := &stubClient{blueprint: payload}
		g, registry := newTestGenerator(t, WithClient(client))

		result := g.Generate(context.Background(), coordinator.TypeGenericQuery, "cualquier cosa")
		if result.Record.Backend != tool.BackendFallback {
			t.Errorf("%s: invalid blueprint accepted", name)
		}
		if counters := registry.CountersSnapshot(); counters.TotalFailures != 1 {
			t.Errorf("%s: failure not counted: %+v", name, counters)
		}
	}
}

func TestGenerateCollisionRenames(t *testing.T) {
	g, registry := newTestGenerator(t)

	first := g.Generate(context.Background(), coordinator.TypeGenericQuery, "estado del sistema")
	second := g.Generate(context.Background(), coordinator.TypeGenericQuery, "estado del sistema")

	if first.Record.Name == second.Record.Name {
		t.Fatalf("collision not renamed: %s", first.Record.Name)
	}
	if !strings.HasPrefix(second.Record.Name, first.Record.Name+"_") {
		t.Fatalf("renamed tool lost derived prefix: %s vs %s", first.Record.Name, second.Record.Name)
	}
	if _, ok := registry.Get(first.Record.Name); !ok {
		t.Fatal("original record overwritten")
	}
}

func TestGenerateNeverFailsOnEmptyQuery(t *testing.T) {
	g, _ := newTestGenerator(t)

	result := g.Generate(context.Background(), coordinator.TypeGenericQuery, "")
	if result.Callable == nil {
		t.Fatal("empty query produced no callable")
	}
	payload, err := result.Callable(context.Background(), "")
	if err != nil {
		t.Fatalf("generic callable returned error: %v", err)
	}
	if payload == nil {
		t.Fatal("generic callable returned nil payload")
	}
}

func TestDeriveName(t *testing.T) {
	name := deriveName("¿Cuántos usuarios hay en el departamento de ventas?")
	if !namePattern.MatchString(name) {
		t.Fatalf("derived name not snake_case: %q", name)
	}
	if !strings.HasPrefix(name, "get_") {
		t.Fatalf("derived name missing prefix: %q", name)
	}
	if name != deriveName("¿Cuántos usuarios hay en el departamento de ventas?") {
		t.Fatal("derivation not deterministic")
	}
}
