package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"AgentForge/internal/api"
	"AgentForge/internal/config"
	"AgentForge/internal/coordinator"
	"AgentForge/internal/directory"
	"AgentForge/internal/executor"
	"AgentForge/internal/generator"
	"AgentForge/internal/knowledge"
	"AgentForge/internal/llm"
	"AgentForge/internal/llm/gemini"
	"AgentForge/internal/llm/openai"
	"AgentForge/internal/observability/alerting"
	"AgentForge/internal/orchestrator"
	storagemysql "AgentForge/internal/storage/mysql"
	"AgentForge/internal/task"
	"AgentForge/internal/tool"
	"AgentForge/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径，缺省时读取 AGENTFORGE_CONFIG")
	flag.Parse()

	if *configPath == "" {
		*configPath = os.Getenv("AGENTFORGE_CONFIG")
	}

	if err := run(*configPath); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "agentforged: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	alerter := buildAlerter(cfg)

	registry, err := buildRegistry(ctx, cfg, alerter)
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	connector := directory.NewConnector(directory.Config{
		ServerURL:    cfg.Directory.ServerURL,
		BaseDN:       cfg.Directory.BaseDN,
		BindDN:       cfg.Directory.BindDN,
		BindPassword: cfg.Directory.ResolvePassword(),
		Timeout:      cfg.Directory.Timeout(),
	})
	if !connector.Configured() {
		logger.L().Warn("目录服务未配置，目录工具将返回降级结果")
	}

	coord, err := coordinator.NewWithPack(cfg.Routing.TriggerPack)
	if err != nil {
		return fmt.Errorf("加载触发短语失败: %w", err)
	}

	gen, err := buildGenerator(cfg, connector, registry)
	if err != nil {
		return err
	}

	exec := executor.New(registry)
	baseTools := append(directory.BaseTools(connector), directory.ProbeTools(connector)...)
	orch, err := orchestrator.New(coord, gen, exec, registry, baseTools)
	if err != nil {
		return fmt.Errorf("组装编排器失败: %w", err)
	}

	store, err := buildTaskStore(ctx, cfg)
	if err != nil {
		return err
	}
	queue, err := buildTaskQueue(cfg)
	if err != nil {
		_ = store.Close()
		return err
	}

	svc := task.NewService(store, queue, task.WithMaxAttempts(cfg.TaskStore.Retries))
	defer func() { _ = svc.Close() }()

	processor := task.NewProcessor(orch, store, queue,
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithAlertDispatcher(alerter),
	)
	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器退出", "error", err)
		}
	}()

	server := api.NewServer(orch,
		api.WithTaskService(svc),
		api.WithToken(cfg.Server.Token()),
	)
	return server.Start(ctx, cfg.Server.Address)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		baseDir, err := os.Getwd()
		if err != nil {
			baseDir = "."
		}
		return config.Default(baseDir), nil
	}
	return config.Load(path)
}

func buildAlerter(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}
	return alerting.NewFanout(notifiers...)
}

func buildRegistry(ctx context.Context, cfg *config.Config, alerter alerting.Dispatcher) (*tool.Registry, error) {
	var (
		snapshot tool.Snapshot
		err      error
	)
	switch cfg.Registry.Driver {
	case "file":
		if mkErr := os.MkdirAll(filepath.Dir(cfg.Registry.SnapshotPath), 0o755); mkErr != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", mkErr)
		}
		snapshot, err = tool.NewFileSnapshot(cfg.Registry.SnapshotPath)
	case "mysql":
		snapshot, err = tool.NewMySQLSnapshot(ctx, storagemysql.Config{DSN: cfg.Registry.DSN})
	default:
		return nil, fmt.Errorf("不支持的注册表驱动: %s", cfg.Registry.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("初始化注册表快照失败: %w", err)
	}

	return tool.NewRegistry(ctx, snapshot, tool.WithSnapshotErrorHandler(func(snapErr error) {
		logger.L().Error("注册表快照写入失败", "error", snapErr)
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if notifyErr := alerter.Notify(notifyCtx, alerting.FromError("tool-registry", snapErr)); notifyErr != nil {
			logger.L().Error("快照告警发送失败", "error", notifyErr)
		}
	}))
}

func buildGenerator(cfg *config.Config, connector *directory.Connector, registry *tool.Registry) (*generator.Generator, error) {
	templates, err := generator.TemplatesWithPack(cfg.Routing.TemplatePack)
	if err != nil {
		return nil, fmt.Errorf("加载生成模板失败: %w", err)
	}

	var provider knowledge.Provider
	if cfg.Knowledge.Source != "" {
		provider, err = knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
		if err != nil {
			return nil, fmt.Errorf("加载知识库失败: %w", err)
		}
	} else {
		provider = knowledge.DefaultProvider(cfg.Knowledge.MaxResults)
	}

	opts := []generator.Option{
		generator.WithTemplates(templates),
		generator.WithKnowledge(provider),
	}

	client, err := buildLLMClient(cfg)
	if err != nil {
		return nil, err
	}
	if client != nil {
		opts = append(opts, generator.WithClient(client))
	}

	return generator.New(connector, registry, opts...), nil
}

// buildLLMClient 按配置选择大模型后端。密钥缺失只会降级到模板生成，不会阻止启动。
func buildLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "gemini":
		key := cfg.LLM.Gemini.ResolveKey()
		if key == "" {
			logger.L().Warn("Gemini API Key 未配置，工具生成使用本地模板")
			return nil, nil
		}
		return gemini.NewClient(gemini.Config{
			APIKey:  key,
			BaseURL: cfg.LLM.Gemini.BaseURL,
			Model:   cfg.LLM.Gemini.Model,
			Timeout: cfg.LLM.Gemini.Timeout(),
		})
	case "openai":
		key := cfg.LLM.OpenAI.ResolveKey()
		if key == "" {
			logger.L().Warn("OpenAI API Key 未配置，工具生成使用本地模板")
			return nil, nil
		}
		return openai.NewClient(openai.Config{
			APIKey:  key,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("不支持的大模型后端: %s", cfg.LLM.Provider)
	}
}

func buildTaskStore(ctx context.Context, cfg *config.Config) (task.Store, error) {
	switch cfg.TaskStore.Driver {
	case "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		store, err := task.NewMySQLStore(ctx, storagemysql.Config{DSN: cfg.TaskStore.DSN})
		if err != nil {
			return nil, fmt.Errorf("初始化任务存储失败: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("不支持的任务存储驱动: %s", cfg.TaskStore.Driver)
	}
}

func buildTaskQueue(cfg *config.Config) (task.Queue, error) {
	switch cfg.TaskQueue.Driver {
	case "memory":
		return task.NewMemoryQueue(0), nil
	case "redis":
		queue, err := task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.TaskQueue.Redis.Address,
			Password:  cfg.TaskQueue.Redis.Password,
			DB:        cfg.TaskQueue.Redis.DB,
			Queue:     cfg.TaskQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.TaskQueue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 Redis 队列失败: %w", err)
		}
		return queue, nil
	case "rabbitmq":
		queue, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 RabbitMQ 队列失败: %w", err)
		}
		return queue, nil
	default:
		return nil, fmt.Errorf("不支持的任务队列驱动: %s", cfg.TaskQueue.Driver)
	}
}
