package at

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// ==================== 可调常量 ====================

const (
	defaultReadTimeout  = 50 * time.Millisecond
	defaultPollInterval = 10 * time.Millisecond
	readChunkSize       = 256
	maxPendingBytes     = 4096
	commandTerminator   = "\r"
)

// SerialConfig 串口参数
type SerialConfig struct {
	PortName    string
	BaudRate    int
	ReadTimeout time.Duration
}

// SerialChannel 基于串口的 AT 指令通道。
// 要求底层 port 的 Read 带读超时（无数据时返回 0 或 EOF），否则无法保证指令超时。
type SerialChannel struct {
	port         io.ReadWriteCloser
	logger       ExchangeLogger
	pollInterval time.Duration
	now          func() time.Time

	mu       sync.Mutex
	buffered []byte // 上一次应答结束标记之后读到的字节
}

// Option SerialChannel 可选参数
type Option func(*SerialChannel)

// WithLogger 设置交互日志接收者
func WithLogger(logger ExchangeLogger) Option {
	return func(c *SerialChannel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPollInterval 设置无数据时的轮询间隔
func WithPollInterval(interval time.Duration) Option {
	return func(c *SerialChannel) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// OpenSerial 打开串口并创建指令通道
func OpenSerial(config SerialConfig, opts ...Option) (*SerialChannel, error) {
	readTimeout := config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        config.PortName,
		Baud:        config.BaudRate,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("打开串口 %s 失败: %w", config.PortName, err)
	}

	return NewSerialChannel(port, opts...), nil
}

// NewSerialChannel 在已打开的 port 上创建指令通道
func NewSerialChannel(port io.ReadWriteCloser, opts ...Option) *SerialChannel {
	c := &SerialChannel{
		port:         port,
		logger:       NewStdLogger(nil),
		pollInterval: defaultPollInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close 关闭串口
func (c *SerialChannel) Close() error {
	if c.port == nil {
		return nil
	}
	return c.port.Close()
}

// ==================== Channel 实现 ====================

// Cmd 执行文本指令
func (c *SerialChannel) Cmd(text string, timeout time.Duration) Result {
	return c.Exec(Cmd{Text: text, Timeout: timeout})
}

// Exec 执行结构化指令并记录一次交互。日志在释放串口锁之后写出。
func (c *SerialChannel) Exec(cmd Cmd) Result {
	c.mu.Lock()
	start := c.now()
	deadline := start.Add(cmd.timeoutOrDefault())

	result := c.execute(cmd.Text, deadline)
	result.Elapsed = c.now().Sub(start)
	c.mu.Unlock()

	c.logger.LogExchange(Exchange{
		Command: cmd.Text,
		Result:  result,
		Elapsed: result.Elapsed,
		At:      start,
	})
	return result
}

// Send 原样写出字节
func (c *SerialChannel) Send(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.port.Write(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// Receive 在 timeout 内读取数据，返回实际读取的字节数
func (c *SerialChannel) Receive(buf []byte, timeout time.Duration) int {
	if len(buf) == 0 {
		return 0
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buffered) > 0 {
		n := copy(buf, c.buffered)
		c.buffered = c.buffered[n:]
		return n
	}

	deadline := c.now().Add(timeout)
	for c.now().Before(deadline) {
		n, err := c.port.Read(buf)
		if n > 0 {
			return n
		}
		if err != nil && !isRecoverableReadError(err) {
			return 0
		}
		c.sleepUntil(deadline)
	}
	return 0
}

// Initialize 依次执行初始化指令，任一失败即返回
func (c *SerialChannel) Initialize(cmds ...Cmd) error {
	for _, cmd := range cmds {
		if err := c.Exec(cmd).AsError(cmd.Text); err != nil {
			return fmt.Errorf("初始化指令 %s 失败: %w", cmd.Text, err)
		}
	}
	return nil
}

// ==================== 内部实现 ====================

// execute 写出指令并收集应答行，直到结束标记或截止时间
func (c *SerialChannel) execute(text string, deadline time.Time) Result {
	// 丢弃上一条指令超时后迟到的应答，避免被当成本条指令的结果
	if stale := c.drain(deadline); len(stale) > 0 {
		log.Printf("%s 丢弃 %s 之前的残留数据: %q", logPrefix, text, stale)
	}

	if _, err := c.port.Write([]byte(text + commandTerminator)); err != nil {
		return Result{Code: CodeTransportError, Err: fmt.Errorf("%w: 写入指令失败: %v", ErrTransport, err)}
	}

	var (
		lines   []string
		pending []byte
		chunk   = make([]byte, readChunkSize)
	)

	for c.now().Before(deadline) {
		n, err := c.port.Read(chunk)
		if err != nil && !isRecoverableReadError(err) {
			return Result{Code: CodeTransportError, Response: lines, Err: fmt.Errorf("%w: 读取应答失败: %v", ErrTransport, err)}
		}
		if n == 0 {
			c.sleepUntil(deadline)
			continue
		}

		pending = append(pending, chunk[:n]...)
		var done bool
		lines, pending, done = splitLines(lines, pending, text)
		if done {
			c.buffered = append(c.buffered, pending...)
			return ParseResponse(lines)
		}
		if len(pending) > maxPendingBytes {
			pending = pending[len(pending)-maxPendingBytes:]
		}
	}

	return Result{Code: CodeTimeout, Response: lines, Err: ErrTimeout}
}

// drain 取走缓存与串口中已到达的全部字节，读到无数据为止
func (c *SerialChannel) drain(deadline time.Time) []byte {
	stale := c.buffered
	c.buffered = nil

	chunk := make([]byte, readChunkSize)
	for len(stale) < maxPendingBytes && c.now().Before(deadline) {
		n, err := c.port.Read(chunk)
		stale = append(stale, chunk[:n]...)
		if n == 0 || err != nil {
			break
		}
	}
	return bytes.TrimSpace(stale)
}

// splitLines 从 pending 中切出完整行，跳过空行与回显；遇到结束标记时 done 为 true
func splitLines(lines []string, pending []byte, echo string) ([]string, []byte, bool) {
	for {
		idx := bytes.IndexAny(pending, "\r\n")
		if idx < 0 {
			return lines, pending, false
		}

		line := strings.TrimSpace(string(pending[:idx]))
		pending = pending[idx+1:]
		if line == "" || line == echo {
			continue
		}

		lines = append(lines, line)
		if isTerminalLine(line) {
			return lines, pending, true
		}
	}
}

func (c *SerialChannel) sleepUntil(deadline time.Time) {
	remaining := deadline.Sub(c.now())
	if remaining <= 0 {
		return
	}
	if remaining > c.pollInterval {
		remaining = c.pollInterval
	}
	time.Sleep(remaining)
}

// isRecoverableReadError 读超时与 EOF 视为暂时无数据
func isRecoverableReadError(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
