package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"radio-control/internal/at"
	"radio-control/internal/bluetooth"
	"radio-control/internal/cellular"
	"radio-control/internal/events"
)

const logPrefix = "[SERVICE]"

var ErrUnknownEvent = errors.New("unknown event kind")

// Modem Telephony 所需的模块能力，*ModemManager 满足该接口
type Modem interface {
	Channel() (at.Channel, error)
	Status() ModemStatus
}

// NetworkReader 读取蜂窝网络状态，*cellular.ATCellular 满足该接口
type NetworkReader interface {
	SignalBars(channel at.Channel) (int, error)
	Registration(channel at.Channel) (cellular.NetworkStatus, error)
	OperatorName(channel at.Channel) (string, error)
}

// Options Telephony 依赖
type Options struct {
	Name       string
	Modem      Modem
	Capability *cellular.CapabilityHandler
	Network    NetworkReader
	Music      *bluetooth.A2DP
	Call       *bluetooth.HFP
	Publisher  events.Publisher
}

// ProfileStatus Profile 状态快照
type ProfileStatus struct {
	Kind      string `json:"kind"`
	State     string `json:"state"`
	Device    string `json:"device,omitempty"`
	Streaming bool   `json:"streaming,omitempty"`
	CallState string `json:"call_state,omitempty"`
}

// Telephony 持有蓝牙 Profile 的服务。
// Profile 本身不加锁，所有调用经 mu 串行化。
type Telephony struct {
	name       string
	modem      Modem
	capability *cellular.CapabilityHandler
	network    NetworkReader
	music      *bluetooth.A2DP
	call       *bluetooth.HFP
	publisher  events.Publisher

	mu sync.Mutex
}

var _ bluetooth.OwnerService = (*Telephony)(nil)

// NewTelephony 创建服务并将自身设置为 Profile 的所属服务
func NewTelephony(options Options) *Telephony {
	if options.Name == "" {
		options.Name = "ServiceTelephony"
	}
	if options.Publisher == nil {
		options.Publisher = events.Discard
	}
	t := &Telephony{
		name:       options.Name,
		modem:      options.Modem,
		capability: options.Capability,
		network:    options.Network,
		music:      options.Music,
		call:       options.Call,
		publisher:  options.Publisher,
	}
	t.music.SetOwnerService(t)
	t.call.SetOwnerService(t)
	return t
}

// Name 服务名称
func (t *Telephony) Name() string {
	return t.name
}

// ==================== 生命周期 ====================

// Init 初始化两个 Profile（共享资源只初始化一次）
func (t *Telephony) Init() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if code := t.music.Init(); code != bluetooth.Success {
		errs = append(errs, fmt.Errorf("init %s: %w", t.music.Kind(), code.Err()))
	}
	if code := t.call.Init(); code != bluetooth.Success {
		errs = append(errs, fmt.Errorf("init %s: %w", t.call.Kind(), code.Err()))
	}
	return errors.Join(errs...)
}

// Attach 绑定设备并连接两个 Profile
func (t *Telephony) Attach(ctx context.Context, device bluetooth.Device) error {
	t.mu.Lock()
	var errs []error
	for _, profile := range t.profiles() {
		// 启动时初始化失败的 Profile 在此重试，已初始化时为空操作
		if code := profile.Init(); code != bluetooth.Success {
			errs = append(errs, fmt.Errorf("init %s: %w", profile.Kind(), code.Err()))
			continue
		}
		profile.SetDevice(device)
		if code := profile.Connect(); code != bluetooth.Success {
			errs = append(errs, fmt.Errorf("connect %s: %w", profile.Kind(), code.Err()))
		}
	}
	statuses := t.profileStatusLocked()
	t.mu.Unlock()

	t.publishProfiles(ctx, statuses)
	return errors.Join(errs...)
}

// Detach 断开两个 Profile
func (t *Telephony) Detach(ctx context.Context) error {
	t.mu.Lock()
	var errs []error
	for _, profile := range t.profiles() {
		if code := profile.Disconnect(); code != bluetooth.Success {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", profile.Kind(), code.Err()))
		}
	}
	statuses := t.profileStatusLocked()
	t.mu.Unlock()

	t.publishProfiles(ctx, statuses)
	return errors.Join(errs...)
}

// Close 销毁前断开全部 Profile
func (t *Telephony) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if code := t.music.Close(); code != bluetooth.Success {
		errs = append(errs, code.Err())
	}
	if code := t.call.Close(); code != bluetooth.Success {
		errs = append(errs, code.Err())
	}
	return errors.Join(errs...)
}

func (t *Telephony) profiles() []bluetooth.Profile {
	return []bluetooth.Profile{t.music, t.call}
}

// ==================== 事件分发 ====================

// Handle 处理一条入站事件。返回错误时消息会被重新投递。
func (t *Telephony) Handle(ctx context.Context, event events.Event) error {
	switch event.Kind {
	case events.KindCallIncoming:
		number, _ := event.String("number")
		return t.callOp(ctx, event.Kind, func() bluetooth.ErrorCode {
			setup := t.call.InitializeCall()
			if setup == bluetooth.InvalidState {
				return setup
			}
			// 状态与号码先落地，重投时 InitializeCall 对 Incoming 幂等
			return firstFailure(setup, t.call.SetIncomingCallNumber(number), t.call.StartRinging())
		})
	case events.KindCallRinging:
		ringing, err := event.Bool("ringing")
		if err != nil {
			return t.dropInvalid(event, err)
		}
		return t.callOp(ctx, event.Kind, func() bluetooth.ErrorCode {
			if ringing {
				return t.call.StartRinging()
			}
			return t.call.StopRinging()
		})
	case events.KindCallOutgoing:
		number, _ := event.String("number")
		return t.callOp(ctx, event.Kind, func() bluetooth.ErrorCode { return t.call.CallStarted(number) })
	case events.KindCallAnswered:
		return t.callOp(ctx, event.Kind, t.call.CallActive)
	case events.KindCallEnded:
		return t.callOp(ctx, event.Kind, t.call.TerminateCall)
	case events.KindBatteryLevel:
		percent, err := event.Int("percent")
		if err != nil {
			return t.dropInvalid(event, err)
		}
		return t.callOp(ctx, event.Kind, func() bluetooth.ErrorCode {
			return t.call.SetBatteryLevel(bluetooth.BatteryLevel{Percent: percent})
		})
	case events.KindNetworkRefresh:
		return t.RefreshNetwork(ctx)
	case events.KindVolteCheck:
		t.CheckVolte(ctx)
		return nil
	case events.KindAudioStart:
		return t.audioOp(event.Kind, t.music.Start)
	case events.KindAudioStop:
		return t.audioOp(event.Kind, t.music.Stop)
	case events.KindDeviceAttach:
		address, err := event.String("address")
		if err != nil {
			return t.dropInvalid(event, err)
		}
		name, _ := event.String("name")
		path, _ := event.String("path")
		return t.Attach(ctx, bluetooth.Device{Address: address, Name: name, Path: path})
	case events.KindDeviceDetach:
		return t.Detach(ctx)
	default:
		return t.dropInvalid(event, ErrUnknownEvent)
	}
}

// dropInvalid 无效事件重试也无法成功，记录后确认
func (t *Telephony) dropInvalid(event events.Event, err error) error {
	log.Printf("%s 丢弃事件 %s(%s): %v", logPrefix, event.Kind, event.ID, err)
	return nil
}

// callOp 执行通话操作并发布通话状态。
// 免提设备未连接或蓝牙不可用时状态照常推进，不视为失败。
func (t *Telephony) callOp(ctx context.Context, kind events.Kind, op func() bluetooth.ErrorCode) error {
	t.mu.Lock()
	code := op()
	state := t.call.CallState()
	ringing := t.call.Ringing()
	t.mu.Unlock()

	t.publish(ctx, events.New(events.KindCallState, "", map[string]any{
		"state":   state.String(),
		"ringing": ringing,
		"result":  code.String(),
	}))

	switch {
	case code == bluetooth.Success:
		return nil
	case skipsSignaling(code):
		log.Printf("%s %s: 免提设备不可用(%s), 仅更新状态", logPrefix, kind, code)
		return nil
	case code == bluetooth.InvalidState:
		log.Printf("%s %s: 当前通话状态 %s 不允许该操作", logPrefix, kind, state)
		return nil
	default:
		return fmt.Errorf("%s: %w", kind, code.Err())
	}
}

func (t *Telephony) audioOp(kind events.Kind, op func() bluetooth.ErrorCode) error {
	t.mu.Lock()
	code := op()
	t.mu.Unlock()

	switch {
	case code == bluetooth.Success:
		return nil
	case skipsSignaling(code):
		log.Printf("%s %s: %s", logPrefix, kind, code)
		return nil
	default:
		return fmt.Errorf("%s: %w", kind, code.Err())
	}
}

// ==================== 蜂窝网络 ====================

// CheckVolte 运行 VoLTE 判定并发布结果；模块不可用时判定为不允许
func (t *Telephony) CheckVolte(ctx context.Context) bool {
	allowed := false
	channel, err := t.modem.Channel()
	if err != nil {
		log.Printf("%s VoLTE 判定跳过: %v", logPrefix, err)
	} else {
		allowed = t.capability.IsVolteAllowed(channel)
	}

	t.publish(ctx, events.New(events.KindVolteVerdict, "", map[string]any{"allowed": allowed}))
	return allowed
}

// RefreshNetwork 读取信号、注册状态与运营商名称并同步到免提设备。
// 只推送读取成功的值；读取失败仅记录，信令失败返回以便重投。
func (t *Telephony) RefreshNetwork(ctx context.Context) error {
	channel, err := t.modem.Channel()
	if err != nil {
		return err
	}

	bars, barsErr := t.network.SignalBars(channel)
	status, regErr := t.network.Registration(channel)
	name, nameErr := t.network.OperatorName(channel)
	if errors.Is(nameErr, cellular.ErrNotRegistered) {
		name, nameErr = "", nil
	}
	if readErr := errors.Join(barsErr, regErr, nameErr); readErr != nil {
		log.Printf("%s 网络状态读取不完整, 保留上次的值: %v", logPrefix, readErr)
	}

	var errs []error
	t.mu.Lock()
	if barsErr == nil {
		errs = append(errs, signalingError("signal", t.call.SetSignalStrength(bars)))
	}
	if regErr == nil {
		errs = append(errs, signalingError("service", t.call.SetNetworkRegistrationStatus(status.Registered)))
		errs = append(errs, signalingError("roam", t.call.SetRoamingStatus(status.Roaming)))
	}
	if nameErr == nil {
		errs = append(errs, signalingError("operator", t.call.SetOperatorName(name)))
	}
	t.mu.Unlock()

	return errors.Join(errs...)
}

// skipsSignaling 免提设备未连接或蓝牙不可用，重投也无法送达
func skipsSignaling(code bluetooth.ErrorCode) bool {
	switch code {
	case bluetooth.NotConnected, bluetooth.NotInitialized, bluetooth.NotReady:
		return true
	default:
		return false
	}
}

// signalingError 可跳过的结果返回 nil，其余失败包装为 error
func signalingError(step string, code bluetooth.ErrorCode) error {
	if code == bluetooth.Success || skipsSignaling(code) {
		return nil
	}
	return fmt.Errorf("%s: %w", step, code.Err())
}

// firstFailure 返回第一个非 Success 的结果
func firstFailure(codes ...bluetooth.ErrorCode) bluetooth.ErrorCode {
	for _, code := range codes {
		if code != bluetooth.Success {
			return code
		}
	}
	return bluetooth.Success
}

// ==================== 免提设备指令 ====================

// HandleProfileCommand 转发远端经 HFP 链路发来的查询指令
func (t *Telephony) HandleProfileCommand(_ bluetooth.Device, kind bluetooth.Kind, line string) {
	if kind != bluetooth.KindHFP {
		return
	}

	t.mu.Lock()
	code := t.call.HandleCommand(line)
	t.mu.Unlock()

	if code != bluetooth.Success {
		log.Printf("%s 应答 %q 失败: %s", logPrefix, line, code)
	}
}

// ==================== 状态查询 ====================

// Profiles 返回 Profile 状态快照
func (t *Telephony) Profiles() []ProfileStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.profileStatusLocked()
}

// ModemStatus 返回模块状态
func (t *Telephony) ModemStatus() ModemStatus {
	return t.modem.Status()
}

func (t *Telephony) profileStatusLocked() []ProfileStatus {
	music := ProfileStatus{
		Kind:      t.music.Kind().String(),
		State:     t.music.State().String(),
		Device:    t.music.Device().Address,
		Streaming: t.music.Streaming(),
	}
	call := ProfileStatus{
		Kind:      t.call.Kind().String(),
		State:     t.call.State().String(),
		Device:    t.call.Device().Address,
		CallState: t.call.CallState().String(),
	}
	return []ProfileStatus{music, call}
}

func (t *Telephony) publishProfiles(ctx context.Context, statuses []ProfileStatus) {
	for _, status := range statuses {
		t.publish(ctx, events.New(events.KindProfileState, status.Device, map[string]any{
			"kind":  status.Kind,
			"state": status.State,
		}))
	}
}

func (t *Telephony) publish(ctx context.Context, event events.Event) {
	if err := t.publisher.Publish(ctx, event); err != nil {
		log.Printf("%s 发布 %s 失败: %v", logPrefix, event.Kind, err)
	}
}
