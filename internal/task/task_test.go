package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	xerrors "AgentForge/internal/errors"
	"AgentForge/internal/executor"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	task := &Task{ID: "t1", Query: "muestra los usuarios", Status: StatusPending, MaxAttempts: 3}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("Create 失败: %v", err)
	}
	if err := store.Create(ctx, task); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("重复创建应返回 ErrTaskConflict，实际: %v", err)
	}

	claimed, err := store.Claim(ctx, "t1")
	if err != nil {
		t.Fatalf("Claim 失败: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("Claim 后状态异常: %+v", claimed)
	}

	if _, err := store.Claim(ctx, "t1"); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("运行中任务再次 Claim 应冲突，实际: %v", err)
	}

	if err := store.MarkSucceeded(ctx, "t1", Result{Tool: "list_all_users"}); err != nil {
		t.Fatalf("MarkSucceeded 失败: %v", err)
	}
	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get 失败: %v", err)
	}
	if got.Status != StatusSucceeded || got.Result == nil || got.Result.Tool != "list_all_users" {
		t.Fatalf("结果未正确保存: %+v", got)
	}

	if _, err := store.Claim(ctx, "t1"); !errors.Is(err, ErrTaskCompleted) {
		t.Fatalf("已完成任务 Claim 应返回 ErrTaskCompleted，实际: %v", err)
	}
}

func TestMemoryStoreRetryExhaustion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Create(ctx, &Task{ID: "t2", Query: "q", Status: StatusPending, MaxAttempts: 2}); err != nil {
		t.Fatalf("Create 失败: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := store.Claim(ctx, "t2"); err != nil {
			t.Fatalf("第 %d 次 Claim 失败: %v", i+1, err)
		}
		if err := store.MarkFailed(ctx, "t2", CodeTaskProcessing, "boom", false); err != nil {
			t.Fatalf("MarkFailed 失败: %v", err)
		}
	}

	if _, err := store.Claim(ctx, "t2"); !errors.Is(err, ErrTaskExhausted) {
		t.Fatalf("重试耗尽后应返回 ErrTaskExhausted，实际: %v", err)
	}
}

func TestMemoryStoreListAndStats(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, &Task{ID: id, Query: id, Status: StatusPending, MaxAttempts: 1}); err != nil {
			t.Fatalf("Create %s 失败: %v", id, err)
		}
	}
	if _, err := store.Claim(ctx, "a"); err != nil {
		t.Fatalf("Claim 失败: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "a", Result{Tool: "x"}); err != nil {
		t.Fatalf("MarkSucceeded 失败: %v", err)
	}

	tasks, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List 失败: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("List 应返回 2 条，实际 %d", len(tasks))
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats 失败: %v", err)
	}
	if stats.Total != 3 || stats.Succeeded != 1 || stats.Pending != 2 {
		t.Fatalf("统计结果异常: %+v", stats)
	}
}

func TestMemoryQueueDeliversToHandler(t *testing.T) {
	queue := NewMemoryQueue(4)
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		received []Message
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = queue.Consume(ctx, 2, func(_ context.Context, msg Message) error {
			mu.Lock()
			received = append(received, msg)
			if len(received) == 2 {
				cancel()
			}
			mu.Unlock()
			return nil
		})
	}()

	if err := queue.Publish(context.Background(), Message{ID: "t1", Query: "quien soy"}); err != nil {
		t.Fatalf("Publish 失败: %v", err)
	}
	if err := queue.Publish(context.Background(), Message{ID: "t2", Query: "lista usuarios"}); err != nil {
		t.Fatalf("Publish 失败: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("消费超时")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("应收到 2 条任务，实际 %d", len(received))
	}
	for _, msg := range received {
		if msg.ID == "" || msg.Query == "" {
			t.Fatalf("任务信封字段丢失: %+v", msg)
		}
	}
}

func TestMemoryQueuePublishAfterClose(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Close(); err != nil {
		t.Fatalf("Close 失败: %v", err)
	}
	if err := queue.Publish(context.Background(), Message{ID: "t1"}); err == nil {
		t.Fatal("关闭后 Publish 应返回错误")
	}
}

func TestMessageRoundTripAndLegacyPayload(t *testing.T) {
	payload, err := Message{ID: "t1", Query: "quien soy", Attempt: 2}.Encode()
	if err != nil {
		t.Fatalf("Encode 失败: %v", err)
	}
	decoded, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage 失败: %v", err)
	}
	if decoded.ID != "t1" || decoded.Query != "quien soy" || decoded.Attempt != 2 {
		t.Fatalf("信封解析结果异常: %+v", decoded)
	}

	// 手工 RPUSH 的裸任务 ID 也要能消费。
	legacy, err := DecodeMessage([]byte("plain-task-id"))
	if err != nil {
		t.Fatalf("裸 ID 解析失败: %v", err)
	}
	if legacy.ID != "plain-task-id" {
		t.Fatalf("裸 ID 解析结果异常: %+v", legacy)
	}

	if _, err := DecodeMessage([]byte(`{"query":"sin id"}`)); err == nil {
		t.Fatal("缺少 ID 的信封应被拒绝")
	}
}

func TestServiceSubmitCreatesAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	svc := NewService(store, queue)

	task, err := svc.Submit(ctx, "  lista todos los usuarios  ")
	if err != nil {
		t.Fatalf("Submit 失败: %v", err)
	}
	if task.ID == "" {
		t.Fatal("任务 ID 不应为空")
	}
	if task.Query != "lista todos los usuarios" {
		t.Fatalf("查询内容未去除空白: %q", task.Query)
	}
	if task.Status != StatusPending || task.MaxAttempts != defaultMaxAttempts {
		t.Fatalf("任务初始状态异常: %+v", task)
	}

	stored, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("任务未持久化: %v", err)
	}
	if stored.Query != task.Query {
		t.Fatalf("持久化内容不一致: %q", stored.Query)
	}
}

func TestServiceSubmitRejectsOversizedQuery(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(1)
	svc := NewService(store, queue)

	long := make([]byte, maxQueryLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := svc.Submit(context.Background(), string(long)); err == nil {
		t.Fatal("超长查询应被拒绝")
	}
}

type failingProducer struct{ cause error }

func (p failingProducer) Publish(context.Context, Message) error { return p.cause }
func (failingProducer) Close() error                             { return nil }

func TestServiceSubmitMarksFailedOnPublishError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cause := errors.New("queue down")
	svc := NewService(store, failingProducer{cause: cause})

	_, err := svc.Submit(ctx, "hola")
	if err == nil {
		t.Fatal("投递失败时 Submit 应返回错误")
	}
	if xerrors.CodeOf(err) != CodeTaskPublish {
		t.Fatalf("错误码应为 %s，实际 %s", CodeTaskPublish, xerrors.CodeOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("原始错误应保留在链中: %v", err)
	}

	tasks, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List 失败: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Status != StatusFailed {
		t.Fatalf("投递失败的任务应进入 failed 状态: %+v", tasks)
	}
}

type stubRunner struct {
	result executor.InvocationResult
}

func (r stubRunner) Process(context.Context, string) executor.InvocationResult {
	return r.result
}

func TestProcessorMarksTaskSucceeded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Create(ctx, &Task{ID: "t1", Query: "quien soy", Status: StatusPending, MaxAttempts: 3}); err != nil {
		t.Fatalf("Create 失败: %v", err)
	}

	runner := stubRunner{result: executor.InvocationResult{
		Tool:    "get_current_user_info",
		Origin:  "base",
		Payload: map[string]any{"dn": "cn=admin"},
	}}
	processor := NewProcessor(runner, store, NewMemoryQueue(1))

	if err := processor.handle(ctx, Message{ID: "t1", Query: "quien soy"}); err != nil {
		t.Fatalf("handle 失败: %v", err)
	}

	task, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get 失败: %v", err)
	}
	if task.Status != StatusSucceeded {
		t.Fatalf("任务应为 succeeded，实际 %s", task.Status)
	}
	if task.Result == nil || task.Result.Tool != "get_current_user_info" || task.Result.Failed {
		t.Fatalf("任务结果异常: %+v", task.Result)
	}
}

func TestProcessorToolFailureStillCompletesTask(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Create(ctx, &Task{ID: "t1", Query: "algo", Status: StatusPending, MaxAttempts: 3}); err != nil {
		t.Fatalf("Create 失败: %v", err)
	}

	runner := stubRunner{result: executor.InvocationResult{
		Err:     true,
		Tool:    "tool_rootdse_info",
		Origin:  "base",
		Message: "connection refused",
	}}
	processor := NewProcessor(runner, store, NewMemoryQueue(1))

	if err := processor.handle(ctx, Message{ID: "t1", Query: "algo"}); err != nil {
		t.Fatalf("handle 失败: %v", err)
	}

	task, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get 失败: %v", err)
	}
	if task.Status != StatusSucceeded {
		t.Fatalf("工具失败仍应算任务完成，实际 %s", task.Status)
	}
	if task.Result == nil || !task.Result.Failed || task.Result.Message != "connection refused" {
		t.Fatalf("失败信息未保留: %+v", task.Result)
	}
}

func TestProcessorSkipsUnknownAndCompletedTasks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	processor := NewProcessor(stubRunner{}, store, NewMemoryQueue(1))

	if err := processor.handle(ctx, Message{ID: "missing"}); err != nil {
		t.Fatalf("未知任务应被静默跳过: %v", err)
	}

	if err := store.Create(ctx, &Task{ID: "done", Query: "q", Status: StatusPending, MaxAttempts: 1}); err != nil {
		t.Fatalf("Create 失败: %v", err)
	}
	if _, err := store.Claim(ctx, "done"); err != nil {
		t.Fatalf("Claim 失败: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "done", Result{Tool: "x"}); err != nil {
		t.Fatalf("MarkSucceeded 失败: %v", err)
	}
	if err := processor.handle(ctx, Message{ID: "done"}); err != nil {
		t.Fatalf("已完成任务应被静默跳过: %v", err)
	}
}

func TestProcessorEndToEndWithQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	svc := NewService(store, queue)
	processor := NewProcessor(stubRunner{result: executor.InvocationResult{Tool: "list_all_users", Origin: "base"}},
		store, queue, WithWorkerCount(2))

	go func() { _ = processor.Start(ctx) }()

	task, err := svc.Submit(ctx, "lista todos los usuarios")
	if err != nil {
		t.Fatalf("Submit 失败: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	done, err := svc.WaitUntilCompleted(waitCtx, task.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("等待任务完成失败: %v", err)
	}
	if done.Status != StatusSucceeded {
		t.Fatalf("任务未成功: %+v", done)
	}
}

func TestIsValidStatus(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusRunning, StatusSucceeded, StatusFailed} {
		if !IsValidStatus(status) {
			t.Fatalf("%s 应为合法状态", status)
		}
	}
	if IsValidStatus(Status("archived")) {
		t.Fatal("未知状态不应通过校验")
	}
}
