package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 默认配置常量
const (
	// 应用默认配置
	DefaultHTTPAddress    = ":8080"
	DefaultRequestTimeout = 5 * time.Second
	DefaultServiceName    = "ServiceTelephony"

	// 模块默认配置
	DefaultModemPort      = "/dev/ttyUSB2"
	DefaultBaudRate       = 115200
	DefaultReadTimeout    = 50 * time.Millisecond
	DefaultCommandTimeout = 300 * time.Millisecond
	DefaultOpenTimeout    = 15 * time.Second
	DefaultRetryDelay     = 2 * time.Second
	DefaultInitRetries    = 3
	DefaultCharset        = "GSM"

	// 蓝牙默认配置
	DefaultAdapter       = "hci0"
	DefaultObjectRoot    = "/radio/profile"
	DefaultHFPChannel    = 13
	DefaultDBusTimeout   = 5 * time.Second
	DefaultBTServiceName = "radio-control"

	// NSQ 默认配置
	DefaultNSQInboundTopic  = "radio.inbound"
	DefaultNSQOutboundTopic = "radio.outbound"
	DefaultNSQChannel       = "radiod"
	DefaultNSQMaxInFlight   = 16
	DefaultNSQConcurrency   = 1
	DefaultNSQMaxAttempts   = 5
	DefaultDLQTopicSuffix   = ".DLQ"

	// 存储默认配置
	DefaultRedisNamespace = "radio"
	DefaultAuditMaxKeep   = 1000
	DefaultAuditTTL       = 7 * 24 * time.Hour
)

var supportedCharsets = map[string]bool{"GSM": true, "IRA": true, "UCS2": true, "GBK": true}

// App 应用全局配置
type App struct {
	Addr           string        `yaml:"Addr"`           // HTTP 诊断接口监听地址，为空时使用默认值
	RequestTimeout time.Duration `yaml:"RequestTimeout"` // HTTP 请求超时
	ServiceName    string        `yaml:"ServiceName"`    // 持有 Profile 的服务名称
}

// Modem 蜂窝模块配置
type Modem struct {
	Enabled        bool          `yaml:"Enabled"`        // 是否启用模块
	PortName       string        `yaml:"PortName"`       // 串口名称
	BaudRate       int           `yaml:"BaudRate"`       // 波特率
	ReadTimeout    time.Duration `yaml:"ReadTimeout"`    // 串口读取超时
	CommandTimeout time.Duration `yaml:"CommandTimeout"` // AT 指令默认超时
	OpenTimeout    time.Duration `yaml:"OpenTimeout"`    // 单次打开超时
	RetryDelay     time.Duration `yaml:"RetryDelay"`     // 打开失败重试间隔
	InitRetries    int           `yaml:"InitRetries"`    // 最大打开次数
	Charset        string        `yaml:"Charset"`        // AT+CSCS 字符集
}

// VoLTE 能力判定配置
type VoLTE struct {
	// AllowedOperators MCC -> MNC 列表，为空时使用内置的 T-Mobile US 列表
	AllowedOperators map[string][]string `yaml:"AllowedOperators"`
}

// Bluetooth BlueZ 配置
type Bluetooth struct {
	Enabled     bool          `yaml:"Enabled"`
	Adapter     string        `yaml:"Adapter"`
	ObjectRoot  string        `yaml:"ObjectRoot"`
	ServiceName string        `yaml:"ServiceName"`
	HFPChannel  uint16        `yaml:"HFPChannel"`
	HFPFeatures uint16        `yaml:"HFPFeatures"`
	CallTimeout time.Duration `yaml:"CallTimeout"`
	Device      string        `yaml:"Device"` // 启动时自动连接的设备地址，可为空
}

// NSQ 消息总线配置
type NSQ struct {
	Enabled                     bool     `yaml:"Enabled"`
	InboundTopic                string   `yaml:"InboundTopic"`
	OutboundTopic               string   `yaml:"OutboundTopic"`
	Channel                     string   `yaml:"Channel"`
	NsqdTCPAddrs                []string `yaml:"NsqdTCPAddrs"`
	LookupdHTTPAddrs            []string `yaml:"LookupdHTTPAddrs"`
	ProducerAddr                string   `yaml:"ProducerAddr"`
	MaxInFlight                 int      `yaml:"MaxInFlight"`
	Concurrency                 int      `yaml:"Concurrency"`
	DLQTopic                    string   `yaml:"DLQTopic"`
	MaxConsumeAttemptsBeforeDLQ int      `yaml:"MaxConsumeAttemptsBeforeDLQ"`
}

// Storage 审计存储配置
type Storage struct {
	RedisAddr string        `yaml:"RedisAddr"` // 为空时不记录审计
	Password  string        `yaml:"Password"`
	DB        int           `yaml:"DB"`
	Namespace string        `yaml:"Namespace"`
	MaxKeep   int64         `yaml:"MaxKeep"`
	TTL       time.Duration `yaml:"TTL"`
}

// Config 应用完整配置
type Config struct {
	App       App       `yaml:"App"`
	Modem     Modem     `yaml:"Modem"`
	VoLTE     VoLTE     `yaml:"VoLTE"`
	Bluetooth Bluetooth `yaml:"Bluetooth"`
	NSQ       NSQ       `yaml:"NSQ"`
	Storage   Storage   `yaml:"Storage"`
}

// Load 读取并校验 YAML 配置文件
func Load(configPath string) (Config, error) {
	fileContent, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(fileContent)
}

// Parse 解析 YAML 内容并填充默认值
func Parse(content []byte) (Config, error) {
	var config Config
	if err := yaml.Unmarshal(content, &config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// MustLoad 加载 YAML 配置文件
// 加载失败时直接 panic(用于应用启动阶段)
func MustLoad(configPath string) Config {
	config, err := Load(configPath)
	if err != nil {
		panic(err.Error())
	}
	return config
}

// validate 校验配置并设置默认值
func (config *Config) validate() error {
	config.validateAppConfig()
	config.validateBluetoothConfig()
	config.validateNSQConfig()
	config.validateStorageConfig()

	return errors.Join(
		config.validateModemConfig(),
		config.validateVoLTEConfig(),
	)
}

// validateAppConfig 设置应用默认值
func (config *Config) validateAppConfig() {
	if config.App.Addr == "" {
		config.App.Addr = DefaultHTTPAddress
	}
	if config.App.RequestTimeout <= 0 {
		config.App.RequestTimeout = DefaultRequestTimeout
	}
	if config.App.ServiceName == "" {
		config.App.ServiceName = DefaultServiceName
	}
}

// validateModemConfig 校验模块配置并设置默认值
func (config *Config) validateModemConfig() error {
	modem := &config.Modem

	if modem.PortName == "" {
		modem.PortName = DefaultModemPort
	}
	if modem.BaudRate <= 0 {
		modem.BaudRate = DefaultBaudRate
	}
	if modem.ReadTimeout <= 0 {
		modem.ReadTimeout = DefaultReadTimeout
	}
	if modem.CommandTimeout <= 0 {
		modem.CommandTimeout = DefaultCommandTimeout
	}
	if modem.OpenTimeout <= 0 {
		modem.OpenTimeout = DefaultOpenTimeout
	}
	if modem.RetryDelay <= 0 {
		modem.RetryDelay = DefaultRetryDelay
	}
	if modem.InitRetries <= 0 {
		modem.InitRetries = DefaultInitRetries
	}

	if modem.Charset == "" {
		modem.Charset = DefaultCharset
	}
	modem.Charset = strings.ToUpper(modem.Charset)
	if !supportedCharsets[modem.Charset] {
		return fmt.Errorf("unsupported modem charset %q", modem.Charset)
	}
	return nil
}

// validateVoLTEConfig 校验 MCC/MNC 格式
func (config *Config) validateVoLTEConfig() error {
	for mcc, mncs := range config.VoLTE.AllowedOperators {
		if len(mcc) != 3 || !isDigits(mcc) {
			return fmt.Errorf("invalid MCC %q in VoLTE.AllowedOperators", mcc)
		}
		for _, mnc := range mncs {
			if len(mnc) < 2 || len(mnc) > 3 || !isDigits(mnc) {
				return fmt.Errorf("invalid MNC %q for MCC %s", mnc, mcc)
			}
		}
	}
	return nil
}

// validateBluetoothConfig 设置蓝牙默认值
func (config *Config) validateBluetoothConfig() {
	bt := &config.Bluetooth

	if bt.Adapter == "" {
		bt.Adapter = DefaultAdapter
	}
	if bt.ObjectRoot == "" {
		bt.ObjectRoot = DefaultObjectRoot
	}
	if bt.ServiceName == "" {
		bt.ServiceName = DefaultBTServiceName
	}
	if bt.HFPChannel == 0 {
		bt.HFPChannel = DefaultHFPChannel
	}
	if bt.CallTimeout <= 0 {
		bt.CallTimeout = DefaultDBusTimeout
	}
}

// validateNSQConfig 设置 NSQ 默认值
func (config *Config) validateNSQConfig() {
	nsq := &config.NSQ

	if nsq.InboundTopic == "" {
		nsq.InboundTopic = DefaultNSQInboundTopic
	}
	if nsq.OutboundTopic == "" {
		nsq.OutboundTopic = DefaultNSQOutboundTopic
	}
	if nsq.Channel == "" {
		nsq.Channel = DefaultNSQChannel
	}
	if nsq.MaxInFlight <= 0 {
		nsq.MaxInFlight = DefaultNSQMaxInFlight
	}
	if nsq.Concurrency <= 0 {
		nsq.Concurrency = DefaultNSQConcurrency
	}
	if nsq.MaxConsumeAttemptsBeforeDLQ <= 0 {
		nsq.MaxConsumeAttemptsBeforeDLQ = DefaultNSQMaxAttempts
	}
	if nsq.DLQTopic == "" {
		nsq.DLQTopic = nsq.InboundTopic + DefaultDLQTopicSuffix
	}
	if nsq.ProducerAddr == "" && len(nsq.NsqdTCPAddrs) > 0 {
		nsq.ProducerAddr = nsq.NsqdTCPAddrs[0]
	}
}

// validateStorageConfig 设置存储默认值
func (config *Config) validateStorageConfig() {
	if config.Storage.Namespace == "" {
		config.Storage.Namespace = DefaultRedisNamespace
	}
	if config.Storage.MaxKeep <= 0 {
		config.Storage.MaxKeep = DefaultAuditMaxKeep
	}
	if config.Storage.TTL <= 0 {
		config.Storage.TTL = DefaultAuditTTL
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
