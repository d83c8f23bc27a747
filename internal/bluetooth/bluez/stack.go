package bluez

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	dbus "github.com/godbus/dbus/v5"

	"radio-control/internal/bluetooth"
)

const logPrefix = "[BLUEZ]"

// 默认参数
const (
	DefaultAdapter     = "hci0"
	DefaultObjectRoot  = "/radio/profile"
	DefaultHFPChannel  = 13
	DefaultCallTimeout = 5 * time.Second
)

// Config BlueZ 协议栈参数
type Config struct {
	Adapter     string
	ObjectRoot  string
	ServiceName string
	HFPChannel  uint16
	HFPFeatures uint16
	CallTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Adapter == "" {
		c.Adapter = DefaultAdapter
	}
	if c.ObjectRoot == "" {
		c.ObjectRoot = DefaultObjectRoot
	}
	if c.ServiceName == "" {
		c.ServiceName = "radio-control"
	}
	if c.HFPChannel == 0 {
		c.HFPChannel = DefaultHFPChannel
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
}

// CommandHandler 接收远端经信令链路发来的一行指令（如 AT+CIND?）
type CommandHandler func(device bluetooth.Device, kind bluetooth.Kind, line string)

type linkKey struct {
	path dbus.ObjectPath
	kind bluetooth.Kind
}

type transportHandle struct {
	path dbus.ObjectPath
	fd   *os.File
}

// Stack 基于 BlueZ D-Bus 接口的 bluetooth.Stack 实现
type Stack struct {
	conn    Conn
	config  Config
	adapter dbus.ObjectPath
	handler CommandHandler

	mu         sync.Mutex
	closed     bool
	endpoints  map[bluetooth.Kind]dbus.ObjectPath
	registered map[bluetooth.Kind]bool
	links      map[linkKey]*os.File
	transports map[dbus.ObjectPath]*transportHandle
	cleanup    []func()
}

var _ bluetooth.Stack = (*Stack)(nil)

// Option Stack 构造参数
type Option func(*Stack)

// WithCommandHandler 设置远端指令回调
func WithCommandHandler(handler CommandHandler) Option {
	return func(s *Stack) {
		s.handler = handler
	}
}

// Dial 连接系统总线并创建 Stack
func Dial(config Config, opts ...Option) (*Stack, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}
	s := New(conn, config, opts...)
	s.cleanup = append(s.cleanup, func() { _ = conn.Close() })
	return s, nil
}

// New 基于已有总线连接创建 Stack，不接管连接的关闭
func New(conn Conn, config Config, opts ...Option) *Stack {
	config.applyDefaults()
	s := &Stack{
		conn:       conn,
		config:     config,
		adapter:    dbus.ObjectPath(string(bluezRoot) + "/" + config.Adapter),
		endpoints:  make(map[bluetooth.Kind]dbus.ObjectPath),
		registered: make(map[bluetooth.Kind]bool),
		links:      make(map[linkKey]*os.File),
		transports: make(map[dbus.ObjectPath]*transportHandle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stack) call(obj dbus.BusObject, method string, args ...interface{}) *dbus.Call {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.CallTimeout)
	defer cancel()
	return obj.CallWithContext(ctx, method, 0, args...)
}

// ==================== 共享资源 ====================

// InitSdp 确认适配器存在并已上电，SDP 记录由 bluetoothd 维护
func (s *Stack) InitSdp() error {
	adapter := s.conn.Object(bluezService, s.adapter)

	var powered dbus.Variant
	call := s.call(adapter, propsIface+".Get", adapterIface, "Powered")
	if call.Err != nil {
		return classify("read adapter power", call.Err)
	}
	if err := call.Store(&powered); err != nil {
		return fmt.Errorf("bluez: decode adapter power: %w: %v", bluetooth.ErrStackTransport, err)
	}
	if on, _ := powered.Value().(bool); on {
		return nil
	}

	log.Printf("%s 适配器 %s 未上电, 尝试上电", logPrefix, s.config.Adapter)
	if call := s.call(adapter, propsIface+".Set", adapterIface, "Powered", dbus.MakeVariant(true)); call.Err != nil {
		return classify("power on adapter", call.Err)
	}
	return nil
}

// InitL2cap 导出各 Profile 的连接接收端点
func (s *Stack) InitL2cap() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, kind := range []bluetooth.Kind{bluetooth.KindA2DP, bluetooth.KindHFP} {
		if _, ok := s.endpoints[kind]; ok {
			continue
		}
		path := dbus.ObjectPath(s.config.ObjectRoot + "/" + strings.ToLower(kind.String()))
		if err := s.conn.Export(&endpoint{kind: kind, stack: s}, path, profileIface); err != nil {
			return fmt.Errorf("bluez: export %s endpoint: %w: %v", kind, bluetooth.ErrStackTransport, err)
		}
		s.endpoints[kind] = path
		s.cleanup = append(s.cleanup, func() { _ = s.conn.Export(nil, path, profileIface) })
	}
	return nil
}

// ==================== Profile 注册与连接 ====================

// RegisterProfile 向 ProfileManager1 注册 HFP AG。
// A2DP 的 SDP 记录与媒体端点由 bluetoothd 的 a2dp 插件提供，仅记录状态。
func (s *Stack) RegisterProfile(kind bluetooth.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered[kind] {
		return nil
	}
	if kind == bluetooth.KindA2DP {
		s.registered[kind] = true
		return nil
	}

	path, ok := s.endpoints[kind]
	if !ok {
		return fmt.Errorf("bluez: %s endpoint not exported: %w", kind, bluetooth.ErrStackNotReady)
	}

	options := map[string]dbus.Variant{
		"Name":    dbus.MakeVariant(s.config.ServiceName + " " + kind.String()),
		"Role":    dbus.MakeVariant("server"),
		"Channel": dbus.MakeVariant(s.config.HFPChannel),
	}
	if s.config.HFPFeatures != 0 {
		options["Features"] = dbus.MakeVariant(s.config.HFPFeatures)
	}

	manager := s.conn.Object(bluezService, bluezRoot)
	if call := s.call(manager, profileManagerIface+".RegisterProfile", path, kind.UUID(), options); call.Err != nil {
		return classify("register "+kind.String(), call.Err)
	}
	s.registered[kind] = true
	s.cleanup = append(s.cleanup, func() {
		_ = s.call(manager, profileManagerIface+".UnregisterProfile", path).Err
	})
	return nil
}

func (s *Stack) ConnectProfile(device bluetooth.Device, kind bluetooth.Kind) error {
	obj := s.conn.Object(bluezService, devicePath(s.adapter, device))
	if call := s.call(obj, deviceIface+".ConnectProfile", kind.UUID()); call.Err != nil {
		return classify("connect "+kind.String(), call.Err)
	}
	return nil
}

func (s *Stack) DisconnectProfile(device bluetooth.Device, kind bluetooth.Kind) error {
	path := devicePath(s.adapter, device)
	s.detach(kind, path)

	obj := s.conn.Object(bluezService, path)
	if call := s.call(obj, deviceIface+".DisconnectProfile", kind.UUID()); call.Err != nil {
		return classify("disconnect "+kind.String(), call.Err)
	}
	return nil
}

// ==================== 音频流 ====================

// StartStream 获取设备的 MediaTransport1 文件描述符
func (s *Stack) StartStream(device bluetooth.Device) error {
	path, err := s.findTransport(devicePath(s.adapter, device))
	if err != nil {
		return err
	}

	var (
		fd       dbus.UnixFD
		readMTU  uint16
		writeMTU uint16
		obj      = s.conn.Object(bluezService, path)
	)
	call := s.call(obj, transportIface+".TryAcquire")
	if call.Err != nil {
		return classify("acquire transport", call.Err)
	}
	if err := call.Store(&fd, &readMTU, &writeMTU); err != nil {
		return fmt.Errorf("bluez: decode transport: %w: %v", bluetooth.ErrStackTransport, err)
	}

	s.mu.Lock()
	s.transports[path] = &transportHandle{path: path, fd: os.NewFile(uintptr(fd), "a2dp")}
	s.mu.Unlock()

	log.Printf("%s 已获取传输通道 %s (mtu %d/%d)", logPrefix, path, readMTU, writeMTU)
	return nil
}

func (s *Stack) StopStream(device bluetooth.Device) error {
	prefix := string(devicePath(s.adapter, device)) + "/"

	s.mu.Lock()
	var handles []*transportHandle
	for path, h := range s.transports {
		if strings.HasPrefix(string(path), prefix) {
			handles = append(handles, h)
			delete(s.transports, path)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, h := range handles {
		_ = h.fd.Close()
		if call := s.call(s.conn.Object(bluezService, h.path), transportIface+".Release"); call.Err != nil {
			errs = append(errs, classify("release transport", call.Err))
		}
	}
	return errors.Join(errs...)
}

func (s *Stack) findTransport(device dbus.ObjectPath) (dbus.ObjectPath, error) {
	var objects managedObjects
	call := s.call(s.conn.Object(bluezService, "/"), objManagerIface+".GetManagedObjects")
	if call.Err != nil {
		return "", classify("list objects", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return "", fmt.Errorf("bluez: decode objects: %w: %v", bluetooth.ErrStackTransport, err)
	}

	prefix := string(device) + "/"
	for path, ifaces := range objects {
		if _, ok := ifaces[transportIface]; ok && strings.HasPrefix(string(path), prefix) {
			return path, nil
		}
	}
	return "", fmt.Errorf("bluez: no media transport for %s: %w", device, bluetooth.ErrStackNotReady)
}

// ==================== 信令链路 ====================

// Send 写入 Profile 的 RFCOMM 链路
func (s *Stack) Send(device bluetooth.Device, kind bluetooth.Kind, payload []byte) error {
	key := linkKey{path: devicePath(s.adapter, device), kind: kind}

	s.mu.Lock()
	link, ok := s.links[key]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("bluez: no %s link to %s: %w", kind, device, bluetooth.ErrStackTransport)
	}

	if _, err := link.Write(payload); err != nil {
		return fmt.Errorf("bluez: write %s link: %w: %v", kind, bluetooth.ErrStackTransport, err)
	}
	return nil
}

// attach 保存 BlueZ 交付的连接并开始读取远端指令
func (s *Stack) attach(kind bluetooth.Kind, path dbus.ObjectPath, fd int) error {
	link := os.NewFile(uintptr(fd), strings.ToLower(kind.String()))
	key := linkKey{path: path, kind: kind}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = link.Close()
		return errors.New("stack closed")
	}
	if old, ok := s.links[key]; ok {
		_ = old.Close()
	}
	s.links[key] = link
	s.mu.Unlock()

	log.Printf("%s %s 链路已建立: %s", logPrefix, kind, path)
	go s.readLoop(key, link)
	return nil
}

func (s *Stack) detach(kind bluetooth.Kind, path dbus.ObjectPath) {
	key := linkKey{path: path, kind: kind}

	s.mu.Lock()
	link, ok := s.links[key]
	delete(s.links, key)
	s.mu.Unlock()

	if ok {
		_ = link.Close()
		log.Printf("%s %s 链路已关闭: %s", logPrefix, kind, path)
	}
}

func (s *Stack) readLoop(key linkKey, link *os.File) {
	device := deviceFromPath(key.path)
	scanner := bufio.NewScanner(link)
	scanner.Split(splitCommandLines)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || s.handler == nil {
			continue
		}
		s.handler(device, key.kind, line)
	}

	s.mu.Lock()
	if s.links[key] == link {
		delete(s.links, key)
	}
	s.mu.Unlock()
}

// splitCommandLines 按 \r 或 \n 切分远端指令
func splitCommandLines(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Close 关闭全部链路并按注册的逆序释放总线资源，可重复调用
func (s *Stack) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	links := s.links
	transports := s.transports
	cleanup := s.cleanup
	s.links = make(map[linkKey]*os.File)
	s.transports = make(map[dbus.ObjectPath]*transportHandle)
	s.cleanup = nil
	s.mu.Unlock()

	for _, link := range links {
		_ = link.Close()
	}
	for _, h := range transports {
		_ = h.fd.Close()
	}
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	return nil
}
