package at

import (
	"log"
	"time"
)

// Channel 调制解调器指令通道。
// 同一通道上的指令由调用方串行发出，Cmd/Exec 在超时内必定返回，失败以 Result 值表示。
type Channel interface {
	// Cmd 执行文本指令，timeout <= 0 使用 DefaultTimeout
	Cmd(text string, timeout time.Duration) Result
	// Exec 执行结构化指令
	Exec(cmd Cmd) Result
	// Send 原样写出字节，不等待应答
	Send(raw []byte) error
	// Receive 在 timeout 内最多读取 len(buf) 字节，超时或无数据返回 0
	Receive(buf []byte, timeout time.Duration) int
}

// Exchange 一次指令交互的诊断记录
type Exchange struct {
	Command string
	Result  Result
	Elapsed time.Duration
	At      time.Time
}

// ExchangeLogger 接收每一次指令交互；仅用于诊断与审计，不应参与控制流
type ExchangeLogger interface {
	LogExchange(exchange Exchange)
}

// ExchangeLoggerFunc 函数适配器
type ExchangeLoggerFunc func(exchange Exchange)

func (f ExchangeLoggerFunc) LogExchange(exchange Exchange) { f(exchange) }

// MultiLogger 依次分发到多个 ExchangeLogger
type MultiLogger []ExchangeLogger

func (m MultiLogger) LogExchange(exchange Exchange) {
	for _, logger := range m {
		if logger != nil {
			logger.LogExchange(exchange)
		}
	}
}

const logPrefix = "[AT]"

// StdLogger 使用标准库 log 输出交互记录
type StdLogger struct {
	logger *log.Logger
}

// NewStdLogger 创建 StdLogger，logger 为 nil 时使用 log.Default()
func NewStdLogger(logger *log.Logger) *StdLogger {
	if logger == nil {
		logger = log.Default()
	}
	return &StdLogger{logger: logger}
}

func (l *StdLogger) LogExchange(exchange Exchange) {
	result := exchange.Result
	if result.Err != nil {
		l.logger.Printf("%s %s -> %s (%s): %v", logPrefix, exchange.Command, result.Code, exchange.Elapsed, result.Err)
		return
	}
	if result.Code == CodeCMEError || result.Code == CodeCMSError {
		l.logger.Printf("%s %s -> %s %d (%s)", logPrefix, exchange.Command, result.Code, result.ErrorCode, exchange.Elapsed)
		return
	}
	l.logger.Printf("%s %s -> %s (%s, %d行)", logPrefix, exchange.Command, result.Code, exchange.Elapsed, len(result.Response))
}
