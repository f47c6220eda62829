package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSnapshot 将注册表状态以完整 JSON 文档的形式落盘。
// 写入流程为先写临时文件再原子重命名，避免半写状态。
type FileSnapshot struct {
	path string
}

// NewFileSnapshot 创建文件快照驱动。
func NewFileSnapshot(path string) (*FileSnapshot, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("快照文件路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建快照目录失败: %w", err)
	}
	return &FileSnapshot{path: path}, nil
}

// Load 读取快照文件。文件缺失或为空返回 nil 状态。
func (s *FileSnapshot) Load(_ context.Context) (*State, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取快照文件失败: %w", err)
	}
	if len(content) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(content, &state); err != nil {
		return nil, fmt.Errorf("解析快照文件失败: %w", err)
	}
	return &state, nil
}

// Save 以原子替换的方式写入快照文件。
func (s *FileSnapshot) Save(_ context.Context, state *State) error {
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化快照失败: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".registry-*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时快照文件失败: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("写入临时快照文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("关闭临时快照文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("替换快照文件失败: %w", err)
	}
	return nil
}

// Close 实现 Snapshot 接口，文件驱动无需释放资源。
func (s *FileSnapshot) Close() error {
	return nil
}
