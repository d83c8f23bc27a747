package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"radio-control/internal/config"
)

const (
	defaultConfigFilePath  = "etc/radio.yaml"
	configPathEnv          = "RADIOD_CONFIG"
	gracefulShutdownPeriod = 5 * time.Second
)

var serialDevicePatterns = []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*"}

//
// 串口设备检测与选择
//

// SerialPortDetector 串口设备检测器
// 仅在 Linux 且配置的串口不存在时提示选择
type SerialPortDetector struct {
	operatingSystem string
	scanner         *bufio.Scanner
}

// NewSerialPortDetector 创建串口检测器实例
func NewSerialPortDetector() *SerialPortDetector {
	return &SerialPortDetector{
		operatingSystem: runtime.GOOS,
		scanner:         bufio.NewScanner(os.Stdin),
	}
}

// DetectAndSelect 配置的串口不可用时列出候选设备并交互选择
func (detector *SerialPortDetector) DetectAndSelect(configuration *config.Config) {
	if detector.operatingSystem != "linux" || !configuration.Modem.Enabled {
		return
	}
	if _, err := os.Stat(configuration.Modem.PortName); err == nil {
		return
	}

	fmt.Printf("配置的串口 %s 不存在,正在查找可用串口设备...\n", configuration.Modem.PortName)

	devices := detector.listSerialDevices()
	if len(devices) == 0 {
		fmt.Println("未检测到串口设备,模块将在后台持续重试")
		return
	}

	detector.displayDeviceList(devices)
	selectedPort := detector.getUserSelection(devices)

	if selectedPort != "" {
		configuration.Modem.PortName = selectedPort
		fmt.Printf("已选择串口设备: %s\n", selectedPort)
	} else {
		fmt.Println("输入无效,使用默认配置")
	}
}

// listSerialDevices 列出系统中可用的串口设备
func (detector *SerialPortDetector) listSerialDevices() []string {
	var devices []string
	for _, pattern := range serialDevicePatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		devices = append(devices, matches...)
	}
	return devices
}

// displayDeviceList 显示可用设备列表
func (detector *SerialPortDetector) displayDeviceList(devices []string) {
	fmt.Println("可用串口设备列表:")
	for index, device := range devices {
		fmt.Printf("[%d] %s\n", index, device)
	}
}

// getUserSelection 获取用户选择的设备
func (detector *SerialPortDetector) getUserSelection(devices []string) string {
	fmt.Print("请输入要使用的设备编号: ")

	if !detector.scanner.Scan() {
		return ""
	}

	selectedIndex, err := strconv.Atoi(detector.scanner.Text())
	if err != nil || selectedIndex < 0 || selectedIndex >= len(devices) {
		return ""
	}

	return devices[selectedIndex]
}

//
// HTTP 服务器管理
//

// ServerManager HTTP 服务器管理器
type ServerManager struct {
	server *http.Server
}

// NewServerManager 创建服务器管理器实例
func NewServerManager(address string, timeout time.Duration, handler http.Handler) *ServerManager {
	return &ServerManager{
		server: &http.Server{
			Addr:              address,
			Handler:           handler,
			ReadHeaderTimeout: timeout,
		},
	}
}

// Start 在独立的 goroutine 中启动 HTTP 服务器
func (manager *ServerManager) Start() {
	go func() {
		log.Printf("[Server] HTTP 诊断接口启动于 %s", manager.server.Addr)

		if err := manager.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Server] 启动失败: %v", err)
		}
	}()
}

// GracefulShutdown 等待现有请求完成或超时后强制关闭
func (manager *ServerManager) GracefulShutdown() error {
	log.Println("[Server] 开始优雅关闭...")

	shutdownContext, cancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer cancel()

	if err := manager.server.Shutdown(shutdownContext); err != nil {
		log.Printf("[Server] 关闭过程出现错误: %v", err)
		return err
	}

	log.Println("[Server] 优雅关闭完成")
	return nil
}

//
// 信号处理器
//

// SignalHandler 监听 SIGINT 和 SIGTERM
type SignalHandler struct {
	notifyContext context.Context
	stopFunc      context.CancelFunc
}

// NewSignalHandler 创建信号处理器实例
func NewSignalHandler() *SignalHandler {
	notifyContext, stopFunc := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	return &SignalHandler{
		notifyContext: notifyContext,
		stopFunc:      stopFunc,
	}
}

// Context 收到信号后取消的上下文
func (handler *SignalHandler) Context() context.Context {
	return handler.notifyContext
}

// WaitForShutdownSignal 阻塞直到收到中断信号
func (handler *SignalHandler) WaitForShutdownSignal() {
	<-handler.notifyContext.Done()
	handler.stopFunc()
	log.Println("[SignalHandler] 收到关闭信号")
}

//
// 应用程序启动器
//

// ApplicationRunner 负责整个应用的生命周期管理
type ApplicationRunner struct {
	configuration config.Config
	serverManager *ServerManager
	signalHandler *SignalHandler
	appContext    *AppContext
}

// NewApplicationRunner 创建应用运行器实例
func NewApplicationRunner() *ApplicationRunner {
	configPath := os.Getenv(configPathEnv)
	if configPath == "" {
		configPath = defaultConfigFilePath
	}

	return &ApplicationRunner{
		configuration: config.MustLoad(configPath),
		signalHandler: NewSignalHandler(),
	}
}

// Run 执行完整的启动、运行和关闭流程
func (runner *ApplicationRunner) Run() {
	runner.detectSerialPort()
	runner.initializeApplication()
	runner.startConsumers()
	runner.startHTTPServer()
	runner.waitForShutdown()
}

func (runner *ApplicationRunner) detectSerialPort() {
	NewSerialPortDetector().DetectAndSelect(&runner.configuration)
}

func (runner *ApplicationRunner) initializeApplication() {
	runner.appContext = InitAppContext(runner.signalHandler.Context(), runner.configuration)
	log.Println("[Runner] 应用程序初始化完成")
}

func (runner *ApplicationRunner) startConsumers() {
	startEventConsumer(runner.appContext)
}

func (runner *ApplicationRunner) startHTTPServer() {
	router := BuildGinRouter(runner.appContext)

	runner.serverManager = NewServerManager(
		runner.configuration.App.Addr,
		runner.configuration.App.RequestTimeout,
		router,
	)
	runner.serverManager.Start()
}

func (runner *ApplicationRunner) waitForShutdown() {
	runner.signalHandler.WaitForShutdownSignal()
	runner.performShutdown()
}

// performShutdown 先停止 HTTP 入口，再释放应用上下文
func (runner *ApplicationRunner) performShutdown() {
	if err := runner.serverManager.GracefulShutdown(); err != nil {
		log.Printf("[Runner] 服务器关闭出现错误: %v", err)
	}

	if runner.appContext != nil {
		runner.appContext.Close()
		log.Println("[Runner] 应用上下文资源释放完成")
	}

	log.Println("[Runner] 应用程序已完全关闭")
}
