package bluetooth

// Kind 已知的 Profile 变体
type Kind int

const (
	KindA2DP Kind = iota + 1
	KindHFP
)

// Profile UUID（手机侧角色）
const (
	A2DPSourceUUID = "0000110a-0000-1000-8000-00805f9b34fb"
	HFPAGUUID      = "0000111f-0000-1000-8000-00805f9b34fb"
)

func (k Kind) String() string {
	switch k {
	case KindA2DP:
		return "A2DP"
	case KindHFP:
		return "HFP"
	default:
		return "Unknown"
	}
}

// UUID 对应的服务 UUID
func (k Kind) UUID() string {
	switch k {
	case KindA2DP:
		return A2DPSourceUUID
	case KindHFP:
		return HFPAGUUID
	default:
		return ""
	}
}

// Stack Profile 之下的无线协议栈端口
type Stack interface {
	// InitSdp 初始化服务发现数据库（进程内只需一次）
	InitSdp() error
	// InitL2cap 初始化链路控制通道（进程内只需一次，须在 InitSdp 之后）
	InitL2cap() error
	RegisterProfile(kind Kind) error
	ConnectProfile(device Device, kind Kind) error
	DisconnectProfile(device Device, kind Kind) error
	StartStream(device Device) error
	StopStream(device Device) error
	// Send 通过该 Profile 的信令链路向远端写出数据
	Send(device Device, kind Kind, payload []byte) error
}
