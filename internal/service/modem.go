package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"radio-control/internal/at"
)

// --------------------------- 常量与错误定义 ---------------------------

const (
	defaultOpenTimeout   = 15 * time.Second
	defaultRetryDelay    = 2 * time.Second
	defaultMaxRetryCount = 3
	logPrefixModem       = "[MODEM]"
)

var (
	ErrModemUnavailable          = errors.New("modem unavailable")
	ErrInitializationInProgress  = errors.New("modem initialization in progress")
	ErrInitializationMaxExceeded = errors.New("modem initialization max retries exceeded")
	ErrModemNotStarted           = errors.New("modem not started")
)

// ModemChannel 打开后的模块指令通道
type ModemChannel interface {
	at.Channel
	Initialize(cmds ...at.Cmd) error
	Close() error
}

// ModemOpener 打开模块指令通道
type ModemOpener func() (ModemChannel, error)

// SerialOpener 基于串口配置的默认 ModemOpener
func SerialOpener(config at.SerialConfig, opts ...at.Option) ModemOpener {
	return func() (ModemChannel, error) {
		return at.OpenSerial(config, opts...)
	}
}

// ModemOptions 懒加载参数
type ModemOptions struct {
	OpenTimeout time.Duration
	RetryDelay  time.Duration
	MaxRetries  int
	InitCmds    []at.Cmd
}

// ModemStatus 模块可用性快照
type ModemStatus struct {
	Available  bool      `json:"available"`
	InProgress bool      `json:"in_progress"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	LastTry    time.Time `json:"last_try"`
	LastError  string    `json:"last_error,omitempty"`
}

// --------------------------- 结构体定义 ---------------------------

// ModemManager 懒加载的蜂窝模块通道：后台打开串口，失败按间隔重试
type ModemManager struct {
	opener  ModemOpener
	options ModemOptions

	mu             sync.RWMutex
	channel        ModemChannel
	started        bool
	closed         bool
	initError      error
	lastTryTime    time.Time
	initInProgress bool
	retryCount     int
	retryTimer     *time.Timer
}

// NewModemManager 创建管理器；调用 Start 后才开始打开
func NewModemManager(opener ModemOpener, options ModemOptions) *ModemManager {
	if options.OpenTimeout <= 0 {
		options.OpenTimeout = defaultOpenTimeout
	}
	if options.RetryDelay <= 0 {
		options.RetryDelay = defaultRetryDelay
	}
	if options.MaxRetries <= 0 {
		options.MaxRetries = defaultMaxRetryCount
	}
	if options.InitCmds == nil {
		options.InitCmds = at.InitSequence
	}
	return &ModemManager{opener: opener, options: options}
}

// --------------------------- 生命周期 ---------------------------

// Start 异步打开模块，重复调用无效
func (m *ModemManager) Start() {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.backgroundInitialize()
}

// Close 关闭通道并停止重试
func (m *ModemManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}

	var err error
	if m.channel != nil {
		err = m.channel.Close()
		m.channel = nil
	}
	log.Printf("%s 模块通道已关闭", logPrefixModem)
	return err
}

// --------------------------- 公共方法 ---------------------------

// Channel 返回可用的指令通道，不可用时返回包装 ErrModemUnavailable 的错误
func (m *ModemManager) Channel() (at.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.channel != nil {
		return m.channel, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrModemUnavailable, m.unavailableReasonLocked())
}

// IsAvailable 通道是否已就绪
func (m *ModemManager) IsAvailable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channel != nil
}

// LastError 最近一次打开失败的原因
func (m *ModemManager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initError
}

// Status 返回状态快照
func (m *ModemManager) Status() ModemStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := ModemStatus{
		Available:  m.channel != nil,
		InProgress: m.initInProgress,
		RetryCount: m.retryCount,
		MaxRetries: m.options.MaxRetries,
		LastTry:    m.lastTryTime,
	}
	if m.initError != nil {
		status.LastError = m.initError.Error()
	}
	return status
}

func (m *ModemManager) unavailableReasonLocked() error {
	switch {
	case !m.started:
		return ErrModemNotStarted
	case m.retryCount >= m.options.MaxRetries:
		return fmt.Errorf("%w: 已重试%d次: %v", ErrInitializationMaxExceeded, m.retryCount, m.initError)
	case m.initInProgress:
		return fmt.Errorf("%w: 第%d次尝试", ErrInitializationInProgress, m.retryCount+1)
	case m.initError != nil:
		return fmt.Errorf("暂时不可用(重试进度 %d/%d): %w", m.retryCount, m.options.MaxRetries, m.initError)
	default:
		return errors.New("模块尚未初始化")
	}
}

// --------------------------- 初始化流程 ---------------------------

func (m *ModemManager) backgroundInitialize() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.initInProgress = true
	m.lastTryTime = time.Now()
	m.mu.Unlock()

	log.Printf("%s 开始后台打开模块通道", logPrefixModem)

	channel, err := m.openWithTimeout()
	if err != nil {
		m.handleInitFailure(err)
		return
	}

	// 基础初始化失败不影响通道可用
	if err := channel.Initialize(m.options.InitCmds...); err != nil {
		log.Printf("%s 基础初始化指令失败: %v", logPrefixModem, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = channel.Close()
		return
	}
	m.channel = channel
	m.initError = nil
	m.initInProgress = false
	m.retryCount = 0
	m.mu.Unlock()

	log.Printf("%s 模块通道已就绪", logPrefixModem)
}

func (m *ModemManager) openWithTimeout() (ModemChannel, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.options.OpenTimeout)
	defer cancel()

	type openResult struct {
		channel ModemChannel
		err     error
	}

	resultChan := make(chan openResult, 1)
	go func() {
		channel, err := m.opener()
		resultChan <- openResult{channel: channel, err: err}
	}()

	select {
	case result := <-resultChan:
		if result.err != nil {
			return nil, fmt.Errorf("打开模块通道失败: %w", result.err)
		}
		return result.channel, nil
	case <-ctx.Done():
		// 超时后迟到的通道直接关闭
		go func() {
			if result := <-resultChan; result.channel != nil {
				_ = result.channel.Close()
			}
		}()
		return nil, fmt.Errorf("打开模块通道超时(%s)", m.options.OpenTimeout)
	}
}

func (m *ModemManager) handleInitFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.initInProgress = false
	m.initError = err
	m.retryCount++

	log.Printf("%s 打开模块通道失败(第%d次): %v", logPrefixModem, m.retryCount, err)

	if m.closed {
		return
	}
	if m.retryCount >= m.options.MaxRetries {
		log.Printf("%s 已达到最大重试次数(%d)，停止重试", logPrefixModem, m.options.MaxRetries)
		return
	}

	log.Printf("%s 将在%v后进行第%d次重试", logPrefixModem, m.options.RetryDelay, m.retryCount+1)
	m.retryTimer = time.AfterFunc(m.options.RetryDelay, m.backgroundInitialize)
}
