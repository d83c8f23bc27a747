package bluetooth

// State Profile 连接状态
type State int

const (
	StateDetached State = iota
	StateDisconnected
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDetached:
		return "Detached"
	case StateDisconnected:
		return "Disconnected"
	case StateConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// Profile 所有蓝牙 Profile 共享的生命周期契约。
//
// 生命周期：构造(Detached) -> Init -> SetDevice + SetOwnerService -> Connect/Disconnect。
// 同一 Profile 只被其所属服务的执行上下文调用，本身不加锁。
// 已连接时再次 Connect、未连接时 Disconnect 均为返回 Success 的空操作。
type Profile interface {
	Kind() Kind
	State() State
	Init() ErrorCode
	SetDevice(device Device)
	SetOwnerService(service OwnerService)
	Connect() ErrorCode
	Disconnect() ErrorCode
	SetAudioDevice(device AudioDevice)
}

// MusicProfile 音频流控制
type MusicProfile interface {
	Profile
	Start() ErrorCode
	Stop() ErrorCode
}

// CallProfile 将手机侧通话状态同步到免提设备。
// 返回值只表示本地信令是否发出成功，不代表远端已确认。
type CallProfile interface {
	Profile
	StartRinging() ErrorCode
	StopRinging() ErrorCode
	InitializeCall() ErrorCode
	TerminateCall() ErrorCode
	CallActive() ErrorCode
	CallStarted(number string) ErrorCode
	SetIncomingCallNumber(number string) ErrorCode
	SetSignalStrength(bars int) ErrorCode
	SetOperatorName(name string) ErrorCode
	SetBatteryLevel(level BatteryLevel) ErrorCode
	SetNetworkRegistrationStatus(registered bool) ErrorCode
	SetRoamingStatus(enabled bool) ErrorCode
}

// Option Profile 构造参数
type Option func(*base)

// WithResources 指定共享资源守卫，默认使用进程级单例
func WithResources(resources *Resources) Option {
	return func(b *base) {
		if resources != nil {
			b.resources = resources
		}
	}
}

// New 按 Kind 创建 Profile，未知 Kind 返回 nil
func New(kind Kind, stack Stack, opts ...Option) Profile {
	switch kind {
	case KindA2DP:
		return NewA2DP(stack, opts...)
	case KindHFP:
		return NewHFP(stack, opts...)
	default:
		return nil
	}
}
