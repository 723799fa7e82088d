package svc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/redis/go-redis/v9"

	"dao-voting-sol/internal/cache"
	"dao-voting-sol/internal/config"
	"dao-voting-sol/internal/ledger"
	"dao-voting-sol/internal/logic/instruction"
	"dao-voting-sol/internal/logic/repository"
	"dao-voting-sol/internal/logic/submitter"
	"dao-voting-sol/internal/mq"
	"dao-voting-sol/internal/service"
	"dao-voting-sol/pkg/logger"
)

// ServiceContext 包含 daoctl 运行所需的全部资源
type ServiceContext struct {
	Config     *config.Config
	Ledger     ledger.Ledger
	Cache      cache.AccountCache
	Repository *repository.Repository
	Builder    *instruction.Builder
	Query      *service.QueryService

	// 以下只在需要签名时初始化
	Signer    submitter.Signer
	Submitter *submitter.Submitter
	Producer  *kafka.Producer
	Dao       *service.DaoService

	redis *redis.Client
}

// NewServiceContext 创建只读上下文：账本、缓存、仓储、指令构造
func NewServiceContext(c *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Config: c,
		Ledger: ledger.NewRPCLedger(c.Ledger.RpcEndpoint, c.Commitment(), ledger.WithNodeRetries(c.Ledger.NodeRetries)),
		Builder: instruction.NewBuilder(c.ProgramID(),
			instruction.WithDaoStateOnFinalize(*c.Submit.FinalizeIncludesDaoState)),
	}

	accountCache, err := sc.newCache()
	if err != nil {
		return nil, err
	}
	sc.Cache = accountCache
	sc.Repository = repository.New(sc.Ledger, c.ProgramID(),
		repository.WithCache(accountCache),
		repository.WithConcurrency(c.Read.Concurrency),
		repository.WithFetchTimeout(c.Read.Timeout()),
		repository.WithMaxListCount(uint64(c.Read.MaxList)),
	)
	sc.Query = service.NewQueryService(sc.Repository)

	logger.Infof("[ServiceContext] program=%s rpc=%s commitment=%s cache=%s",
		c.Ledger.ProgramID, c.Ledger.RpcEndpoint, c.Ledger.Commitment, c.Cache.Mode)
	return sc, nil
}

func (sc *ServiceContext) newCache() (cache.AccountCache, error) {
	c := sc.Config.Cache
	switch c.Mode {
	case cache.ModeMemory:
		mc, err := cache.NewMemoryCache(c.TTL(), c.MemoryLimit)
		if err != nil {
			return nil, err
		}
		return mc, nil
	case cache.ModeRedis:
		sc.redis = redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		if err := sc.redis.Ping(context.Background()).Err(); err != nil {
			// 缓存不可用不影响正确性，降级为未命中
			logger.Warnf("[ServiceContext] Redis %s 不可用: %v", c.RedisAddr, err)
		}
		return cache.NewRedisCache(sc.redis, c.TTL()), nil
	default:
		return cache.Nop{}, nil
	}
}

// WithSigner 加载密钥并初始化提交链路与 DaoService
func (sc *ServiceContext) WithSigner() error {
	if sc.Dao != nil {
		return nil
	}
	path, err := ExpandHome(sc.Config.Submit.KeypairPath)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("submit.keypair_path is empty (or set %s)", config.EnvKeypair)
	}
	signer, err := submitter.LoadKeypairFile(path)
	if err != nil {
		return err
	}
	return sc.UseSigner(signer)
}

// UseSigner 使用给定签名者初始化提交链路，外部钱包签名时由调用方传入
func (sc *ServiceContext) UseSigner(signer submitter.Signer) error {
	c := sc.Config
	sc.Signer = signer
	sc.Submitter = submitter.New(sc.Ledger, signer, submitter.Config{
		Commitment:        c.Commitment(),
		PollInterval:      c.Submit.PollInterval(),
		BroadcastRetries:  c.Submit.BroadcastRetries,
		BroadcastBackoff:  c.Submit.BroadcastBackoff(),
		ReconcileAttempts: uint(c.Submit.ReconcileAttempts),
		ReconcileDelay:    c.Submit.ReconcileDelay(),
	})

	var publisher mq.ActivityPublisher = mq.NopPublisher{}
	if c.KafkaProducerConf.Enabled() {
		producer, err := mq.NewKafkaProducer(c.KafkaProducerConf)
		if err != nil {
			logger.Errorf("Kafka producer 初始化失败: %v", err)
			return err
		}
		sc.Producer = producer
		publisher = mq.NewKafkaPublisher(producer,
			c.KafkaProducerConf.Topics.Activity,
			c.KafkaProducerConf.Partitions.Activity,
			c.KafkaProducerConf.SendTimeout())
	}

	sc.Dao = service.NewDaoService(sc.Repository, sc.Builder, sc.Submitter,
		service.WithPublisher(publisher),
		service.WithMaxCreateAttempts(c.Submit.MaxCreateAttempts),
	)
	logger.Infof("[ServiceContext] signer=%s", signer.PublicKey())
	return nil
}

// Close 关闭服务上下文中的资源
func (sc *ServiceContext) Close() {
	if sc.Producer != nil {
		sc.Producer.Flush(sc.Config.KafkaProducerConf.SendTimeoutMs)
		sc.Producer.Close()
	}
	if sc.redis != nil {
		_ = sc.redis.Close()
	}
}

// ExpandHome 展开路径开头的 ~
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
