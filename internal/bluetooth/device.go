package bluetooth

// Device 已配对远端设备的标识，不含行为
type Device struct {
	Address string
	Name    string
	Path    string // BlueZ Device1 对象路径，可为空
}

// IsZero 是否未设置
func (d Device) IsZero() bool {
	return d.Address == "" && d.Path == ""
}

func (d Device) String() string {
	if d.Name != "" {
		return d.Name + "(" + d.Address + ")"
	}
	return d.Address
}

// OwnerService 持有 Profile 的服务句柄。Profile 只读取其名称用于日志，不管理其生命周期。
type OwnerService interface {
	Name() string
}

// AudioDevice 音频管线共享的收发端
type AudioDevice interface {
	Name() string
	Start() error
	Stop() error
}

// BatteryLevel 手机电量百分比（0..100）
type BatteryLevel struct {
	Percent int
}

// Bars 映射为 HFP battchg 指示 0..5
func (b BatteryLevel) Bars() int {
	p := b.Percent
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return (p + 10) / 20
}
