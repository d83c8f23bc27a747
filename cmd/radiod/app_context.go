package main

import (
	"context"
	"log"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"radio-control/internal/at"
	"radio-control/internal/audit"
	"radio-control/internal/bluetooth"
	"radio-control/internal/bluetooth/bluez"
	"radio-control/internal/cellular"
	"radio-control/internal/config"
	"radio-control/internal/events"
	"radio-control/internal/httpapi"
	"radio-control/internal/service"
)

// AppContext 聚合所有运行期依赖,统一管理生命周期
type AppContext struct {
	Config       config.Config
	RedisClient  *redis.Client
	AuditStore   *audit.RedisStore
	ModemManager *service.ModemManager
	Stack        *bluez.Stack
	Producer     *events.Producer
	EventHub     *httpapi.EventHub
	Consumer     *events.Consumer
	Telephony    *service.Telephony
}

// InitAppContext 按依赖顺序构建运行期组件
// 模块、蓝牙、NSQ 任一不可用都不阻止启动
func InitAppContext(ctx context.Context, configuration config.Config) *AppContext {
	appContext := &AppContext{Config: configuration}

	exchangeLogger := appContext.initAuditStore()
	appContext.initModemManager(exchangeLogger)

	var owner atomic.Pointer[service.Telephony]
	stack := appContext.initBluetoothStack(func(device bluetooth.Device, kind bluetooth.Kind, line string) {
		if telephony := owner.Load(); telephony != nil {
			telephony.HandleProfileCommand(device, kind, line)
		}
	})

	appContext.EventHub = httpapi.NewEventHub()
	publisher := events.MultiPublisher{appContext.initProducer(), appContext.EventHub}

	telephony := service.NewTelephony(service.Options{
		Name:       configuration.App.ServiceName,
		Modem:      appContext.ModemManager,
		Capability: newCapabilityHandler(configuration),
		Network:    cellular.NewATCellular(configuration.Modem.Charset),
		Music:      bluetooth.NewA2DP(stack),
		Call:       bluetooth.NewHFP(stack),
		Publisher:  publisher,
	})
	owner.Store(telephony)
	appContext.Telephony = telephony

	if err := telephony.Init(); err != nil {
		log.Printf("[AppContext] Profile 初始化失败: %v", err)
	}
	appContext.attachConfiguredDevice(ctx)

	return appContext
}

// initAuditStore 配置了 Redis 时把指令交互写入审计存储
func (app *AppContext) initAuditStore() at.ExchangeLogger {
	stdLogger := at.NewStdLogger(nil)
	storage := app.Config.Storage
	if storage.RedisAddr == "" {
		log.Println("[AppContext] 未配置 Redis,跳过指令审计")
		return stdLogger
	}

	app.RedisClient = redis.NewClient(&redis.Options{
		Addr:     storage.RedisAddr,
		Password: storage.Password,
		DB:       storage.DB,
	})
	app.AuditStore = audit.NewRedisStore(app.RedisClient, storage.Namespace, storage.MaxKeep, storage.TTL)
	log.Printf("[AppContext] 指令审计写入 Redis: %s", storage.RedisAddr)

	return at.MultiLogger{stdLogger, app.AuditStore}
}

// initModemManager 启动后台串口打开；未启用时 Channel() 始终返回 ErrModemNotStarted
func (app *AppContext) initModemManager(exchangeLogger at.ExchangeLogger) {
	modem := app.Config.Modem
	opener := service.SerialOpener(at.SerialConfig{
		PortName:    modem.PortName,
		BaudRate:    modem.BaudRate,
		ReadTimeout: modem.ReadTimeout,
	}, at.WithLogger(exchangeLogger))

	initCmds := append(append([]at.Cmd{}, at.InitSequence...), at.CmdSetCharset(modem.Charset))
	app.ModemManager = service.NewModemManager(opener, service.ModemOptions{
		OpenTimeout: modem.OpenTimeout,
		RetryDelay:  modem.RetryDelay,
		MaxRetries:  modem.InitRetries,
		InitCmds:    initCmds,
	})

	if !modem.Enabled {
		log.Println("[AppContext] 蜂窝模块未启用")
		return
	}
	app.ModemManager.Start()
}

// initBluetoothStack 连接 BlueZ；失败或未启用时 Profile 运行在离线协议栈上
func (app *AppContext) initBluetoothStack(handler bluez.CommandHandler) bluetooth.Stack {
	settings := app.Config.Bluetooth
	if !settings.Enabled {
		log.Println("[AppContext] 蓝牙未启用")
		return offlineStack{}
	}

	stack, err := bluez.Dial(bluez.Config{
		Adapter:     settings.Adapter,
		ObjectRoot:  settings.ObjectRoot,
		ServiceName: settings.ServiceName,
		HFPChannel:  settings.HFPChannel,
		HFPFeatures: settings.HFPFeatures,
		CallTimeout: settings.CallTimeout,
	}, bluez.WithCommandHandler(handler))
	if err != nil {
		log.Printf("[AppContext] 连接 BlueZ 失败: %v", err)
		return offlineStack{}
	}

	app.Stack = stack
	return stack
}

// initProducer 出站事件；未启用 NSQ 时丢弃
func (app *AppContext) initProducer() events.Publisher {
	settings := app.Config.NSQ
	if !settings.Enabled || settings.ProducerAddr == "" {
		return events.Discard
	}

	producer, err := events.NewProducer(settings.ProducerAddr, settings.OutboundTopic)
	if err != nil {
		log.Printf("[AppContext] 创建出站事件生产者失败: %v", err)
		return events.Discard
	}
	app.Producer = producer
	return producer
}

// attachConfiguredDevice 配置了默认设备时启动即连接
func (app *AppContext) attachConfiguredDevice(ctx context.Context) {
	address := strings.TrimSpace(app.Config.Bluetooth.Device)
	if address == "" || app.Stack == nil {
		return
	}
	if err := app.Telephony.Attach(ctx, bluetooth.Device{Address: address}); err != nil {
		log.Printf("[AppContext] 连接默认设备 %s 失败: %v", address, err)
	}
}

func newCapabilityHandler(configuration config.Config) *cellular.CapabilityHandler {
	allowed := cellular.NewAllowedUSList()
	if len(configuration.VoLTE.AllowedOperators) > 0 {
		allowed = cellular.NewAllowedList(configuration.VoLTE.AllowedOperators)
	}
	return cellular.NewCapabilityHandler(
		cellular.ImsiParserUS{},
		allowed,
		cellular.NewATCellular(configuration.Modem.Charset),
	)
}

// BuildGinRouter 构建诊断接口路由
func BuildGinRouter(appContext *AppContext) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	var auditReader httpapi.AuditReader
	if appContext.AuditStore != nil {
		auditReader = appContext.AuditStore
	}
	handler := httpapi.NewHandler(appContext.Telephony, auditReader).WithEventHub(appContext.EventHub)
	return httpapi.NewRouter(handler)
}

// Close 按依赖关系倒序释放资源
func (app *AppContext) Close() {
	app.stopConsumer()
	app.closeTelephony()
	app.closeEventHub()
	app.closeBluetoothStack()
	app.closeModemManager()
	app.closeProducer()
	app.closeAuditStore()
	app.closeRedis()
}

func (app *AppContext) stopConsumer() {
	if app.Consumer != nil {
		app.Consumer.Stop()
	}
}

func (app *AppContext) closeTelephony() {
	if app.Telephony == nil {
		return
	}
	if err := app.Telephony.Close(); err != nil {
		log.Printf("[AppContext] 断开 Profile 出现错误: %v", err)
	}
}

func (app *AppContext) closeEventHub() {
	if app.EventHub != nil {
		app.EventHub.Close()
	}
}

func (app *AppContext) closeBluetoothStack() {
	if app.Stack != nil {
		if err := app.Stack.Close(); err != nil {
			log.Printf("[AppContext] 关闭 BlueZ 连接出现错误: %v", err)
		}
	}
}

func (app *AppContext) closeModemManager() {
	if app.ModemManager != nil {
		if err := app.ModemManager.Close(); err != nil {
			log.Printf("[AppContext] 关闭模块出现错误: %v", err)
		}
	}
}

func (app *AppContext) closeProducer() {
	if app.Producer != nil {
		app.Producer.Close()
	}
}

// closeAuditStore 在 Redis 连接关闭前写完排队的审计记录
func (app *AppContext) closeAuditStore() {
	if app.AuditStore != nil {
		_ = app.AuditStore.Close()
	}
}

func (app *AppContext) closeRedis() {
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			log.Printf("[AppContext] 关闭 Redis 连接出现错误: %v", err)
		}
	}
}

// offlineStack 蓝牙不可用时的协议栈，所有操作返回 ErrStackNotReady
type offlineStack struct{}

func (offlineStack) InitSdp() error   { return bluetooth.ErrStackNotReady }
func (offlineStack) InitL2cap() error { return bluetooth.ErrStackNotReady }
func (offlineStack) RegisterProfile(bluetooth.Kind) error {
	return bluetooth.ErrStackNotReady
}
func (offlineStack) ConnectProfile(bluetooth.Device, bluetooth.Kind) error {
	return bluetooth.ErrStackNotReady
}
func (offlineStack) DisconnectProfile(bluetooth.Device, bluetooth.Kind) error {
	return bluetooth.ErrStackNotReady
}
func (offlineStack) StartStream(bluetooth.Device) error { return bluetooth.ErrStackNotReady }
func (offlineStack) StopStream(bluetooth.Device) error  { return bluetooth.ErrStackNotReady }
func (offlineStack) Send(bluetooth.Device, bluetooth.Kind, []byte) error {
	return bluetooth.ErrStackNotReady
}
