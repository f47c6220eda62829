package executor

import (
	"context"
	"errors"
	"testing"

	"AgentForge/internal/tool"
)

func newTestExecutor(t *testing.T) (*Executor, *tool.Registry) {
	t.Helper()
	registry, err := tool.NewRegistry(context.Background(), nil)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}
	return New(registry), registry
}

func TestInvokeBaseTool(t *testing.T) {
	e, registry := newTestExecutor(t)
	if err := registry.Register(tool.Record{Name: "echo", Origin: tool.OriginBase, ToolType: "generic_query"}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	e.RegisterBase("echo", func(_ context.Context, query string) (any, error) {
		return query, nil
	})

	result := e.Invoke(context.Background(), "echo", "hola")
	if result.Err {
		t.Fatalf("unexpected failure: %+v", result)
	}
	if result.Payload != "hola" || result.Origin != "base" {
		t.Fatalf("unexpected result: %+v", result)
	}

	record, _ := registry.Get("echo")
	if record.UsageCount != 1 {
		t.Fatalf("usage not recorded: %d", record.UsageCount)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	e, _ := newTestExecutor(t)
	result := e.Invoke(context.Background(), "missing", "query")
	if !result.Err || result.Message != "tool not found" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestInvokeBaseShadowsDynamic(t *testing.T) {
	e, _ := newTestExecutor(t)
	e.RegisterBase("dup", func(context.Context, string) (any, error) { return "base", nil })
	e.AddDynamic("dup", func(context.Context, string) (any, error) { return "dynamic", nil })

	if result := e.Invoke(context.Background(), "dup", ""); result.Payload != "base" {
		t.Fatalf("base tool not preferred: %+v", result)
	}
}

func TestInvokeErrorBecomesResult(t *testing.T) {
	e, registry := newTestExecutor(t)
	if err := registry.Register(tool.Record{Name: "broken", Origin: tool.OriginGenerated, ToolType: "generic_query"}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	e.AddDynamic("broken", func(context.Context, string) (any, error) {
		return nil, errors.New("boom")
	})

	result := e.Invoke(context.Background(), "broken", "")
	if !result.Err || result.Message != "boom" {
		t.Fatalf("unexpected result: %+v", result)
	}

	// 失败的调用同样计入使用统计。
	record, _ := registry.Get("broken")
	if record.UsageCount != 1 {
		t.Fatalf("failed invocation not recorded: %d", record.UsageCount)
	}
}

func TestInvokeRecoversFromPanic(t *testing.T) {
	e, _ := newTestExecutor(t)
	e.AddDynamic("panicky", func(context.Context, string) (any, error) {
		panic("unexpected state")
	})

	result := e.Invoke(context.Background(), "panicky", "")
	if !result.Err {
		t.Fatalf("panic not converted to failure: %+v", result)
	}
	if result.Message != "tool panicked: unexpected state" {
		t.Fatalf("unexpected message: %q", result.Message)
	}
}

func TestClearDynamicKeepsBase(t *testing.T) {
	e, _ := newTestExecutor(t)
	e.RegisterBase("base_a", func(context.Context, string) (any, error) { return nil, nil })
	e.AddDynamic("gen_a", func(context.Context, string) (any, error) { return nil, nil })

	e.ClearDynamic()

	if e.BaseCount() != 1 || e.DynamicCount() != 0 {
		t.Fatalf("unexpected counts: base=%d dynamic=%d", e.BaseCount(), e.DynamicCount())
	}
}
