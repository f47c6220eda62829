// agentforge 是本地交互入口：直接组装一个进程内编排器处理单条查询，
// 不经过 HTTP 服务。适合快速验证路由与工具生成行为。
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"AgentForge/internal/config"
	"AgentForge/internal/coordinator"
	"AgentForge/internal/directory"
	"AgentForge/internal/executor"
	"AgentForge/internal/generator"
	"AgentForge/internal/orchestrator"
	"AgentForge/internal/tool"
	"AgentForge/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径，缺省时使用默认配置")
	reset := flag.Bool("reset", false, "清除全部生成的工具后退出")
	showTools := flag.Bool("tools", false, "列出当前注册的工具后退出")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "用法: agentforge [选项] \"<查询>\"\n\n选项:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*configPath, *reset, *showTools, strings.TrimSpace(strings.Join(flag.Args(), " "))); err != nil {
		fmt.Fprintf(os.Stderr, "agentforge: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, reset, showTools bool, query string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// CLI 将日志压到 stderr，stdout 只输出结果。
	if err := logger.Init(logger.Config{
		Level:       "warn",
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stderr"},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	orch, registry, err := buildOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	switch {
	case reset:
		removed := orch.Reset()
		fmt.Printf("已移除 %d 个生成的工具，保留 %d 个基础工具\n", removed, orch.BaseToolCount())
		return nil
	case showTools:
		return printJSON(map[string]any{"tools": registry.List()})
	case query == "":
		flag.Usage()
		return fmt.Errorf("缺少查询内容")
	}

	// 工具层面的失败已经渲染在结果里，不影响退出码。
	return printJSON(orch.Process(ctx, query))
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	baseDir, err := os.Getwd()
	if err != nil {
		baseDir = "."
	}
	return config.Default(baseDir), nil
}

func buildOrchestrator(ctx context.Context, cfg *config.Config) (*orchestrator.Orchestrator, *tool.Registry, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Registry.SnapshotPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	snapshot, err := tool.NewFileSnapshot(cfg.Registry.SnapshotPath)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化注册表快照失败: %w", err)
	}
	registry, err := tool.NewRegistry(ctx, snapshot)
	if err != nil {
		return nil, nil, fmt.Errorf("加载工具注册表失败: %w", err)
	}

	connector := directory.NewConnector(directory.Config{
		ServerURL:    cfg.Directory.ServerURL,
		BaseDN:       cfg.Directory.BaseDN,
		BindDN:       cfg.Directory.BindDN,
		BindPassword: cfg.Directory.ResolvePassword(),
		Timeout:      cfg.Directory.Timeout(),
	})

	coord, err := coordinator.NewWithPack(cfg.Routing.TriggerPack)
	if err != nil {
		return nil, nil, fmt.Errorf("加载触发短语失败: %w", err)
	}
	templates, err := generator.TemplatesWithPack(cfg.Routing.TemplatePack)
	if err != nil {
		return nil, nil, fmt.Errorf("加载生成模板失败: %w", err)
	}

	// CLI 不请求远端大模型，生成一律走本地模板。
	gen := generator.New(connector, registry, generator.WithTemplates(templates))
	exec := executor.New(registry)

	baseTools := append(directory.BaseTools(connector), directory.ProbeTools(connector)...)
	orch, err := orchestrator.New(coord, gen, exec, registry, baseTools)
	if err != nil {
		return nil, nil, fmt.Errorf("组装编排器失败: %w", err)
	}
	return orch, registry, nil
}

func printJSON(payload any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(payload)
}
