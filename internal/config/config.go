package config

import (
	"github.com/KOPOData2025/HanaChain-sub001/internal/logger"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Task     TaskConfig     `mapstructure:"task"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ChainConfig 链配置
type ChainConfig struct {
	ChainId          int64  `mapstructure:"chain_id"`           // 链ID
	RpcUrl           string `mapstructure:"rpc_url"`            // RPC节点URL
	PrivateKey       string `mapstructure:"private_key"`        // 服务账户私钥
	CampaignContract string `mapstructure:"campaign_contract"`  // 募捐活动合约地址
	UsdcContract     string `mapstructure:"usdc_contract"`      // USDC代币合约地址
	GasPriceGwei     int64  `mapstructure:"gas_price_gwei"`     // 默认gas价格（查询失败时回退）
	GasLimit         uint64 `mapstructure:"gas_limit"`          // 默认gas上限（估算失败时回退）
	ConfirmTimeout   int    `mapstructure:"confirm_timeout"`    // 交易确认超时（秒）
	PollIntervalMs   int    `mapstructure:"poll_interval_ms"`   // 回执轮询间隔（毫秒）
}

// WorkerConfig 链上任务协程池配置
type WorkerConfig struct {
	PoolSize int `mapstructure:"pool_size"` // 协程池大小
}

// TaskConfig 定时任务配置
type TaskConfig struct {
	MonitorInterval int `mapstructure:"monitor_interval"` // 处理中交易监控间隔（秒）
	SyncInterval    int `mapstructure:"sync_interval"`    // 链上状态同步间隔（秒）
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/dcs")

	// 设置默认值
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "donation")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("chain.chain_id", 11155111)
	viper.SetDefault("chain.gas_price_gwei", 20)
	viper.SetDefault("chain.gas_limit", 300000)
	viper.SetDefault("chain.confirm_timeout", 300)
	viper.SetDefault("chain.poll_interval_ms", 500)
	viper.SetDefault("worker.pool_size", 8)
	viper.SetDefault("task.monitor_interval", 300)
	viper.SetDefault("task.sync_interval", 3600)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.file", "logs/app.log")

	// 自动读取环境变量
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("Warning: Could not read config file: %v", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		logger.Fatal("Unable to decode config into struct: %v", err)
	}

	return &config
}
