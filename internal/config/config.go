package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"dao-voting-sol/internal/cache"
	"dao-voting-sol/internal/consts"
	"dao-voting-sol/internal/ledger"
	"dao-voting-sol/internal/types"
	"dao-voting-sol/pkg/logger"
)

// 环境变量覆盖（优先级高于配置文件）
const (
	EnvProgramID  = "DAO_PROGRAM_ID"
	EnvRpcURL     = "DAO_RPC_URL"
	EnvCommitment = "DAO_COMMITMENT"
	EnvKeypair    = "DAO_KEYPAIR"
)

type LogConfig struct {
	Format   string `yaml:"format"`   // 日志格式，支持 "console" 或 "json"
	LogDir   string `yaml:"log_dir"`  // 日志目录（可为相对路径或绝对路径）
	Level    string `yaml:"level"`    // 日志级别：debug / info / warn / error
	Compress bool   `yaml:"compress"` // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// LedgerConfig 账本连接配置
type LedgerConfig struct {
	ProgramID   string `yaml:"program_id"`   // dao_program 部署地址（base58）
	RpcEndpoint string `yaml:"rpc_endpoint"` // JSON-RPC 地址
	Commitment  string `yaml:"commitment"`   // 读取与确认级别：processed / confirmed / finalized
	NodeRetries uint64 `yaml:"node_retries"` // 节点侧转发重试次数
}

// SubmitConfig 交易提交配置
type SubmitConfig struct {
	KeypairPath        string `yaml:"keypair_path"`         // solana-keygen 格式的密钥文件
	PollIntervalMs     int    `yaml:"poll_interval_ms"`     // 确认轮询间隔
	BroadcastRetries   int    `yaml:"broadcast_retries"`    // 网络错误时重发同一交易的次数
	BroadcastBackoffMs int    `yaml:"broadcast_backoff_ms"` // 重发间隔
	ReconcileAttempts  int    `yaml:"reconcile_attempts"`   // 重复提交后的对账读取次数
	ReconcileDelayMs   int    `yaml:"reconcile_delay_ms"`   // 对账读取间隔
	MaxCreateAttempts  int    `yaml:"max_create_attempts"`  // CreateProposal 地址冲突后的最大尝试次数

	// FinalizeIncludesDaoState finalize 指令是否带 DaoState 账户（旧部署不带）
	FinalizeIncludesDaoState *bool `yaml:"finalize_includes_dao_state"`
}

// CacheConfig 读缓存配置
type CacheConfig struct {
	Mode          string `yaml:"mode"`           // none / memory / redis
	RedisAddr     string `yaml:"redis_addr"`     // Redis 地址，如 127.0.0.1:6379
	RedisPassword string `yaml:"redis_password"` // Redis 密码
	RedisDB       int    `yaml:"redis_db"`       // Redis DB
	TTLSec        int    `yaml:"ttl_sec"`        // 缓存有效期（秒）
	MemoryLimit   int    `yaml:"memory_limit"`   // 进程内缓存条目上限
}

// KafkaProducerConfig 表示 Kafka 生产者相关配置，brokers 为空时不发布活动事件
type KafkaProducerConfig struct {
	Brokers       string `yaml:"brokers"`         // Kafka broker 地址，多个用英文逗号分隔
	BatchSize     int    `yaml:"batch_size"`      // 批处理大小（单位字节）
	LingerMs      int    `yaml:"linger_ms"`       // 批处理最大延迟（毫秒）
	SendTimeoutMs int    `yaml:"send_timeout_ms"` // 单条事件发送到 Kafka 并等待 ack 的超时时间

	Topics struct {
		Activity string `yaml:"activity"` // 治理活动事件的 Kafka topic
	} `yaml:"topics"`

	Partitions struct {
		Activity int `yaml:"activity"` // activity topic 的分区数
	} `yaml:"partitions"`
}

func (c *KafkaProducerConfig) Enabled() bool {
	return c.Brokers != ""
}

func (c *KafkaProducerConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMs) * time.Millisecond
}

// ReadConfig 读侧并发与超时
type ReadConfig struct {
	Concurrency int `yaml:"concurrency"` // 批量读取的最大并发
	TimeoutMs   int `yaml:"timeout_ms"`  // 单次账户读取超时（毫秒），0 表示不限
	MaxList     int `yaml:"max_list"`    // list 单次最多读取的提案数
}

// WatchConfig 提案轮询配置
type WatchConfig struct {
	IntervalSec int `yaml:"interval_sec"` // 轮询间隔（秒）
}

func (c *WatchConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// Config 是 daoctl 的主配置
type Config struct {
	LogConf           LogConfig           `yaml:"logger"`         // 日志配置
	Ledger            LedgerConfig        `yaml:"ledger"`         // 账本连接
	Submit            SubmitConfig        `yaml:"submit"`         // 交易提交
	Cache             CacheConfig         `yaml:"cache"`          // 读缓存
	KafkaProducerConf KafkaProducerConfig `yaml:"kafka_producer"` // Kafka 生产者配置
	Read              ReadConfig          `yaml:"read"`           // 读取配置
	Watch             WatchConfig         `yaml:"watch"`          // 轮询配置
}

// Load 读取 yaml 配置，叠加环境变量并补全默认值。path 为空或文件不存在时只使用默认值与环境变量
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &c); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	c.ApplyEnv()
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvProgramID); v != "" {
		c.Ledger.ProgramID = v
	}
	if v := os.Getenv(EnvRpcURL); v != "" {
		c.Ledger.RpcEndpoint = v
	}
	if v := os.Getenv(EnvCommitment); v != "" {
		c.Ledger.Commitment = v
	}
	if v := os.Getenv(EnvKeypair); v != "" {
		c.Submit.KeypairPath = v
	}
}

// Normalize 补全默认值
func (c *Config) Normalize() {
	if c.LogConf.Format == "" {
		c.LogConf.Format = "console"
	}
	if c.LogConf.Level == "" {
		c.LogConf.Level = "info"
	}

	if c.Ledger.ProgramID == "" {
		c.Ledger.ProgramID = consts.DefaultDaoProgramStr
	}
	if c.Ledger.RpcEndpoint == "" {
		c.Ledger.RpcEndpoint = consts.DefaultRpcEndpoint
	}
	if c.Ledger.Commitment == "" {
		c.Ledger.Commitment = consts.DefaultCommitment
	}
	if c.Ledger.NodeRetries == 0 {
		c.Ledger.NodeRetries = 3
	}

	if c.Submit.PollIntervalMs <= 0 {
		c.Submit.PollIntervalMs = 500
	}
	if c.Submit.BroadcastRetries <= 0 {
		c.Submit.BroadcastRetries = 2
	}
	if c.Submit.BroadcastBackoffMs <= 0 {
		c.Submit.BroadcastBackoffMs = 300
	}
	if c.Submit.ReconcileAttempts <= 0 {
		c.Submit.ReconcileAttempts = 3
	}
	if c.Submit.ReconcileDelayMs <= 0 {
		c.Submit.ReconcileDelayMs = 1000
	}
	if c.Submit.MaxCreateAttempts <= 0 {
		c.Submit.MaxCreateAttempts = 3
	}
	if c.Submit.FinalizeIncludesDaoState == nil {
		enabled := true
		c.Submit.FinalizeIncludesDaoState = &enabled
	}

	if c.Cache.Mode == "" {
		c.Cache.Mode = cache.ModeNone
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 30
	}

	if c.KafkaProducerConf.Topics.Activity == "" {
		c.KafkaProducerConf.Topics.Activity = "dao_voting_sol_activity"
	}
	if c.KafkaProducerConf.Partitions.Activity <= 0 {
		c.KafkaProducerConf.Partitions.Activity = 1
	}
	if c.KafkaProducerConf.SendTimeoutMs <= 0 {
		c.KafkaProducerConf.SendTimeoutMs = 5000
	}

	if c.Read.Concurrency <= 0 {
		c.Read.Concurrency = consts.CpuCount * 2
	}
	if c.Read.MaxList <= 0 {
		c.Read.MaxList = 10_000
	}

	if c.Watch.IntervalSec <= 0 {
		c.Watch.IntervalSec = 5
	}
}

func (c *Config) Validate() error {
	if _, err := types.TryPubkeyFromBase58(c.Ledger.ProgramID); err != nil {
		return fmt.Errorf("ledger.program_id: %w", err)
	}
	if _, err := ledger.ParseCommitment(c.Ledger.Commitment); err != nil {
		return fmt.Errorf("ledger.commitment: %w", err)
	}
	switch c.Cache.Mode {
	case cache.ModeNone, cache.ModeMemory:
	case cache.ModeRedis:
		if c.Cache.RedisAddr == "" {
			return errors.New("cache.redis_addr is required when cache.mode is redis")
		}
	default:
		return fmt.Errorf("cache.mode: unknown mode %q", c.Cache.Mode)
	}
	return nil
}

// ProgramID 已校验的程序地址
func (c *Config) ProgramID() types.Pubkey {
	return types.PubkeyFromBase58(c.Ledger.ProgramID)
}

func (c *Config) Commitment() ledger.Commitment {
	return ledger.Commitment(c.Ledger.Commitment)
}

func (c *SubmitConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *SubmitConfig) BroadcastBackoff() time.Duration {
	return time.Duration(c.BroadcastBackoffMs) * time.Millisecond
}

func (c *SubmitConfig) ReconcileDelay() time.Duration {
	return time.Duration(c.ReconcileDelayMs) * time.Millisecond
}

func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

func (c *ReadConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}
