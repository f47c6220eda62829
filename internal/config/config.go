package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 AgentForge 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Registry  RegistryConfig  `json:"registry"`
	LLM       LLMConfig       `json:"llm"`
	Directory DirectoryConfig `json:"directory"`
	Routing   RoutingConfig   `json:"routing"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	TaskStore TaskStoreConfig `json:"task_store"`
	TaskQueue TaskQueueConfig `json:"task_queue"`
	Alerting  AlertingConfig  `json:"alerting"`
	Logging   LoggingConfig   `json:"logging"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与访问令牌。
type ServerConfig struct {
	Address  string `json:"address"`
	APIToken string `json:"api_token"`
	// APITokenEnv 指定从哪个环境变量读取令牌，优先级低于 APIToken。
	APITokenEnv string `json:"api_token_env"`
}

// RegistryConfig 描述工具注册表快照的持久化方式。
type RegistryConfig struct {
	Driver       string `json:"driver"`        // file | mysql
	SnapshotPath string `json:"snapshot_path"` // file 驱动使用
	DSN          string `json:"dsn"`           // mysql 驱动使用
}

// LLMConfig 用于配置工具生成所依赖的大模型后端。
type LLMConfig struct {
	Provider string       `json:"provider"` // gemini | openai | none
	Gemini   GeminiConfig `json:"gemini"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// GeminiConfig 描述调用 Gemini generateContent API 所需的信息。
type GeminiConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// OpenAIConfig 描述调用 OpenAI Chat Completions API 所需的信息。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回 Gemini 的调用超时时间。
func (c GeminiConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout 返回 OpenAI 的调用超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DirectoryConfig 描述目录服务（LDAP）的连接参数。
// 凭据缺失时目录工具会降级为提示性回复，而不会导致启动失败。
type DirectoryConfig struct {
	ServerURL      string `json:"server_url"`
	BaseDN         string `json:"base_dn"`
	BindDN         string `json:"bind_dn"`
	BindPassword   string `json:"bind_password"`
	BindPassEnv    string `json:"bind_password_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RoutingConfig 允许通过外部 YAML 扩展触发短语与生成模板。
type RoutingConfig struct {
	TriggerPack  string `json:"trigger_pack"`
	TemplatePack string `json:"template_pack"`
}

// KnowledgeConfig 描述生成提示所引用的静态知识库。
type KnowledgeConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// TaskStoreConfig 描述异步查询任务的存储后端。
type TaskStoreConfig struct {
	Driver  string `json:"driver"` // memory | mysql
	DSN     string `json:"dsn"`
	Retries int    `json:"retries"`
}

// TaskQueueConfig 描述异步查询任务的队列后端。
type TaskQueueConfig struct {
	Driver   string         `json:"driver"` // memory | redis | rabbitmq
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// AlertingConfig 控制告警通知渠道。日志渠道始终开启。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// LoggingConfig 控制结构化日志与审计日志输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置，主要供 CLI 使用。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Registry.Driver == "" {
		c.Registry.Driver = "file"
	}
	if c.Registry.SnapshotPath == "" {
		c.Registry.SnapshotPath = filepath.Join(c.Runtime.DataDir, "tools_registry.json")
	} else if !filepath.IsAbs(c.Registry.SnapshotPath) {
		c.Registry.SnapshotPath = filepath.Join(baseDir, c.Registry.SnapshotPath)
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "gemini"
	}
	if c.LLM.Gemini.APIKeyEnv == "" {
		c.LLM.Gemini.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.LLM.Gemini.Model == "" {
		c.LLM.Gemini.Model = "gemini-2.0-flash"
	}
	if c.LLM.Gemini.TimeoutSeconds <= 0 {
		c.LLM.Gemini.TimeoutSeconds = 30
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 30
	}

	if c.Directory.ServerURL == "" {
		c.Directory.ServerURL = os.Getenv("LDAP_SERVER")
	}
	if c.Directory.BaseDN == "" {
		c.Directory.BaseDN = os.Getenv("LDAP_BASE_DN")
	}
	if c.Directory.BindDN == "" {
		c.Directory.BindDN = os.Getenv("LDAP_BIND_DN")
	}
	if c.Directory.BindPassEnv == "" {
		c.Directory.BindPassEnv = "LDAP_BIND_PASSWORD"
	}
	if c.Directory.TimeoutSeconds <= 0 {
		c.Directory.TimeoutSeconds = 10
	}

	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}

	if c.TaskStore.Driver == "" {
		c.TaskStore.Driver = "memory"
	}
	if c.TaskStore.Retries <= 0 {
		c.TaskStore.Retries = 3
	}
	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		// 默认单 worker，保持一次只处理一条查询的模型。
		c.TaskQueue.Worker = 1
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Token 返回生效的 API 访问令牌，可能为空。
func (c ServerConfig) Token() string {
	if c.APIToken != "" {
		return c.APIToken
	}
	if c.APITokenEnv != "" {
		return os.Getenv(c.APITokenEnv)
	}
	return ""
}

// ResolveKey 返回生效的 Gemini API Key，可能为空。
func (c GeminiConfig) ResolveKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.APIKeyEnv != "" {
		return os.Getenv(c.APIKeyEnv)
	}
	return ""
}

// ResolveKey 返回生效的 OpenAI API Key，可能为空。
func (c OpenAIConfig) ResolveKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.APIKeyEnv != "" {
		return os.Getenv(c.APIKeyEnv)
	}
	return ""
}

// ResolvePassword 返回生效的目录服务绑定口令，可能为空。
func (c DirectoryConfig) ResolvePassword() string {
	if c.BindPassword != "" {
		return c.BindPassword
	}
	if c.BindPassEnv != "" {
		return os.Getenv(c.BindPassEnv)
	}
	return ""
}

// Timeout 返回目录服务操作的超时时间。
func (c DirectoryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
