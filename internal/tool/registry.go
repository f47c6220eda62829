package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	xerrors "AgentForge/internal/errors"
	"AgentForge/pkg/logger"
)

// Snapshot 定义注册表状态的持久化驱动。
type Snapshot interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
	Close() error
}

// Registry 维护工具元数据与累计计数，所有变更写穿到快照。
// 快照写入失败只记录告警，内存状态仍然是权威数据。
type Registry struct {
	mu       sync.RWMutex
	records  map[string]*Record
	order    []string
	counters Counters

	snapshot Snapshot
	onError  func(error)
	now      func() time.Time
}

// Option 配置 Registry 的可选行为。
type Option func(*Registry)

// WithSnapshotErrorHandler 指定快照写入失败时的回调，常用于接入告警。
func WithSnapshotErrorHandler(handler func(error)) Option {
	return func(r *Registry) {
		if handler != nil {
			r.onError = handler
		}
	}
}

// WithClock 覆盖时间来源，仅用于测试。
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry 创建注册表并尝试从快照恢复状态。
// 快照缺失或为空视为全新启动，不是错误。
func NewRegistry(ctx context.Context, snapshot Snapshot, opts ...Option) (*Registry, error) {
	r := &Registry{
		records:  make(map[string]*Record),
		snapshot: snapshot,
		now:      time.Now,
		onError: func(err error) {
			logger.L().Warn("注册表快照写入失败", "error", err)
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	if snapshot != nil {
		state, err := snapshot.Load(ctx)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "加载注册表快照失败")
		}
		if state != nil {
			r.restore(state)
		}
	}
	return r, nil
}

func (r *Registry) restore(state *State) {
	r.counters = state.Counters
	for i := range state.Tools {
		record := state.Tools[i]
		if record.Name == "" {
			continue
		}
		clone := record
		r.records[record.Name] = &clone
		r.order = append(r.order, record.Name)
	}
}

// Register 插入或覆盖一条工具记录。
// 覆盖同名记录时保留原 CreatedAt 与累计使用次数。
func (r *Registry) Register(record Record) error {
	if record.Name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具名称不能为空")
	}

	r.mu.Lock()
	if existing, ok := r.records[record.Name]; ok {
		record.CreatedAt = existing.CreatedAt
		record.UsageCount = existing.UsageCount
		record.LastUsedAt = existing.LastUsedAt
	} else {
		if record.CreatedAt == 0 {
			record.CreatedAt = r.now().Unix()
		}
		r.order = append(r.order, record.Name)
	}
	clone := record
	r.records[record.Name] = &clone
	r.mu.Unlock()

	r.persist()
	return nil
}

// Get 返回指定名称的工具记录。
func (r *Registry) Get(name string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[name]
	if !ok {
		return Record{}, false
	}
	return *record, true
}

// List 按注册顺序返回全部工具记录。
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Record, 0, len(r.order))
	for _, name := range r.order {
		if record, ok := r.records[name]; ok {
			result = append(result, *record)
		}
	}
	return result
}

// RecordInvocation 记录一次工具调用。未知名称静默忽略。
func (r *Registry) RecordInvocation(name string) {
	r.mu.Lock()
	record, ok := r.records[name]
	if ok {
		record.UsageCount++
		record.LastUsedAt = r.now().Unix()
	}
	r.mu.Unlock()

	if ok {
		r.persist()
	}
}

// CountQuery 累加一次查询计数。
func (r *Registry) CountQuery() {
	r.mu.Lock()
	r.counters.TotalQueries++
	r.mu.Unlock()
	r.persist()
}

// CountGenerated 累加一次工具生成计数。
func (r *Registry) CountGenerated() {
	r.mu.Lock()
	r.counters.TotalGenerated++
	r.mu.Unlock()
	r.persist()
}

// CountFailure 累加一次生成失败计数。失败从不向调用方抛出。
func (r *Registry) CountFailure() {
	r.mu.Lock()
	r.counters.TotalFailures++
	r.mu.Unlock()
	r.persist()
}

// Reset 清理注册表。
// full 为 false 时仅删除 generated 记录，保留基础工具与累计计数；
// full 为 true 时清空全部记录与计数。两种情况都会计入 ResetsPerformed。
func (r *Registry) Reset(full bool) {
	r.mu.Lock()
	if full {
		resets := r.counters.ResetsPerformed
		r.records = make(map[string]*Record)
		r.order = nil
		r.counters = Counters{ResetsPerformed: resets + 1}
	} else {
		kept := r.order[:0]
		for _, name := range r.order {
			record, ok := r.records[name]
			if !ok {
				continue
			}
			if record.Origin == OriginGenerated {
				delete(r.records, name)
				continue
			}
			kept = append(kept, name)
		}
		r.order = kept
		r.counters.ResetsPerformed++
	}
	r.mu.Unlock()

	r.persist()
}

// Export 将当前状态写入指定 JSON 文件。
func (r *Registry) Export(path string) error {
	state := r.snapshotState()
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "序列化注册表状态失败")
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "导出注册表失败")
	}
	return nil
}

// LoadFile 从 JSON 文件恢复状态，文件缺失视为空状态。
// 恢复后立即写穿到快照驱动。
func (r *Registry) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "读取注册表文件失败")
	}
	if len(content) == 0 {
		return nil
	}

	var state State
	if err := json.Unmarshal(content, &state); err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "解析注册表文件失败")
	}

	r.mu.Lock()
	r.records = make(map[string]*Record)
	r.order = nil
	r.restore(&state)
	r.mu.Unlock()

	r.persist()
	return nil
}

// Stats 汇总注册表的统计信息。
type Stats struct {
	BaseTools        int      `json:"base_tools"`
	GeneratedTools   int      `json:"generated_tools"`
	TotalInvocations int64    `json:"total_invocations"`
	MostUsed         string   `json:"most_used,omitempty"`
	Counters         Counters `json:"counters"`
}

// Stats 返回当前统计快照。
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{Counters: r.counters}
	var maxUsage int64
	names := make([]string, 0, len(r.records))
	for name := range r.records {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		record := r.records[name]
		switch record.Origin {
		case OriginGenerated:
			stats.GeneratedTools++
		default:
			stats.BaseTools++
		}
		stats.TotalInvocations += record.UsageCount
		if record.UsageCount > maxUsage {
			maxUsage = record.UsageCount
			stats.MostUsed = name
		}
	}
	return stats
}

// CountersSnapshot 返回累计计数的副本。
func (r *Registry) CountersSnapshot() Counters {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters
}

// Close 释放快照驱动持有的资源。
func (r *Registry) Close() error {
	if r.snapshot == nil {
		return nil
	}
	return r.snapshot.Close()
}

func (r *Registry) snapshotState() *State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state := &State{Counters: r.counters, Tools: make([]Record, 0, len(r.order))}
	for _, name := range r.order {
		if record, ok := r.records[name]; ok {
			state.Tools = append(state.Tools, *record)
		}
	}
	return state
}

func (r *Registry) persist() {
	if r.snapshot == nil {
		return
	}
	state := r.snapshotState()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.snapshot.Save(ctx, state); err != nil {
		r.onError(xerrors.Wrap(xerrors.CodePersistenceFailure, err,
			fmt.Sprintf("写入注册表快照失败，内存状态仍然有效（%d 个工具）", len(state.Tools))))
	}
}
