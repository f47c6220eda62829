package orchestrator

import (
	"context"
	"testing"

	"AgentForge/internal/coordinator"
	"AgentForge/internal/directory"
	"AgentForge/internal/executor"
	"AgentForge/internal/generator"
	"AgentForge/internal/tool"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	registry, err := tool.NewRegistry(context.Background(), nil)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}
	connector := directory.NewConnector(directory.Config{})
	coord := coordinator.New(nil)
	gen := generator.New(connector, registry)
	exec := executor.New(registry)

	baseTools := append(directory.BaseTools(connector), directory.ProbeTools(connector)...)
	o, err := New(coord, gen, exec, registry, baseTools)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return o
}

func TestProcessRoutesToBaseTool(t *testing.T) {
	o := newTestOrchestrator(t)

	result := o.Process(context.Background(), "¿Quién soy?")
	if result.Err {
		t.Fatalf("unexpected failure: %+v", result)
	}
	if result.Tool != "get_current_user_info" {
		t.Fatalf("routed to wrong tool: %+v", result)
	}

	record, _ := o.Registry().Get("get_current_user_info")
	if record.UsageCount != 1 {
		t.Fatalf("usage not recorded: %d", record.UsageCount)
	}
}

func TestProcessGeneratesAndReuses(t *testing.T) {
	o := newTestOrchestrator(t)
	query := "dame el inventario de impresoras"

	first := o.Process(context.Background(), query)
	if first.Err {
		t.Fatalf("generation path failed: %+v", first)
	}
	if first.Origin != "generated" {
		t.Fatalf("expected generated tool, got %+v", first)
	}

	// 第二次同样的查询应直接命中已生成的工具，而不是再生成一个。
	second := o.Process(context.Background(), query)
	if second.Tool != first.Tool {
		t.Fatalf("generated tool not reused: %q vs %q", first.Tool, second.Tool)
	}
	if counters := o.Registry().CountersSnapshot(); counters.TotalGenerated != 1 {
		t.Fatalf("generated more than once: %+v", counters)
	}

	stats := o.Session()
	if stats.QueriesProcessed != 2 || stats.ToolsGenerated != 1 {
		t.Fatalf("unexpected session stats: %+v", stats)
	}
}

func TestProcessEmptyQueryStillAnswers(t *testing.T) {
	o := newTestOrchestrator(t)

	result := o.Process(context.Background(), "   ")
	if result.Err {
		t.Fatalf("empty query must not fail: %+v", result)
	}
}

func TestResetRestoresBaseSet(t *testing.T) {
	o := newTestOrchestrator(t)
	baseCount := o.BaseToolCount()

	o.Process(context.Background(), "dame el inventario de impresoras")
	o.Process(context.Background(), "estado de las licencias")

	stats := o.Registry().Stats()
	if stats.GeneratedTools != 2 {
		t.Fatalf("expected 2 generated tools, got %+v", stats)
	}

	result := o.Process(context.Background(), "reset")
	if result.Err || result.Tool != "reset_system" {
		t.Fatalf("reset not routed: %+v", result)
	}

	stats = o.Registry().Stats()
	if stats.GeneratedTools != 0 {
		t.Fatalf("generated tools survived reset: %+v", stats)
	}
	if o.BaseToolCount() != baseCount {
		t.Fatalf("base tool count changed: %d vs %d", o.BaseToolCount(), baseCount)
	}

	// 多次重置后基础工具数量保持不变。
	o.Process(context.Background(), "reset")
	if o.BaseToolCount() != baseCount {
		t.Fatalf("base tool count drifted after second reset: %d", o.BaseToolCount())
	}
}

func TestResetKeepsLifetimeCounters(t *testing.T) {
	o := newTestOrchestrator(t)
	o.Process(context.Background(), "dame el inventario de impresoras")

	o.Reset()

	counters := o.Registry().CountersSnapshot()
	if counters.TotalQueries != 1 || counters.TotalGenerated != 1 {
		t.Fatalf("lifetime counters lost: %+v", counters)
	}
	if counters.ResetsPerformed != 1 {
		t.Fatalf("reset not counted: %+v", counters)
	}
}

func TestGeneratedToolsRestoredFromSnapshotState(t *testing.T) {
	o := newTestOrchestrator(t)
	query := "dame el inventario de impresoras"
	first := o.Process(context.Background(), query)

	// 用同一个注册表重建编排器，模拟进程重启后的快照恢复。
	registry := o.Registry()
	connector := directory.NewConnector(directory.Config{})
	coord := coordinator.New(nil)
	gen := generator.New(connector, registry)
	exec := executor.New(registry)
	baseTools := append(directory.BaseTools(connector), directory.ProbeTools(connector)...)

	restarted, err := New(coord, gen, exec, registry, baseTools)
	if err != nil {
		t.Fatalf("rebuild returned error: %v", err)
	}

	result := restarted.Process(context.Background(), query)
	if result.Tool != first.Tool {
		t.Fatalf("restored tool not reused: %q vs %q", first.Tool, result.Tool)
	}
	if counters := registry.CountersSnapshot(); counters.TotalGenerated != 1 {
		t.Fatalf("tool regenerated after restart: %+v", counters)
	}
}
