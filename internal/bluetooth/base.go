package bluetooth

import "log"

// base Profile 公共生命周期实现，由 A2DP / HFP 内嵌
type base struct {
	kind      Kind
	stack     Stack
	resources *Resources

	initialized bool
	state       State
	device      Device
	owner       OwnerService
	audio       AudioDevice
}

func newBase(kind Kind, stack Stack, opts []Option) base {
	b := base{
		kind:      kind,
		stack:     stack,
		resources: DefaultResources(),
		state:     StateDetached,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) Kind() Kind   { return b.kind }
func (b *base) State() State { return b.state }

// Device 当前绑定的设备
func (b *base) Device() Device { return b.device }

// Init 确保共享资源就绪后注册本 Profile；重复调用为空操作
func (b *base) Init() ErrorCode {
	if code := b.resources.Ensure(b.stack); code != Success {
		return code
	}
	if b.initialized {
		return Success
	}

	if err := b.stack.RegisterProfile(b.kind); err != nil {
		b.logf("注册失败: %v", err)
		return CodeFromError(err)
	}

	b.initialized = true
	b.state = StateDisconnected
	b.logf("注册完成")
	return Success
}

func (b *base) SetDevice(device Device) {
	if b.state == StateConnected {
		b.logf("已连接 %s, 忽略设备变更", b.device)
		return
	}
	b.device = device
}

func (b *base) SetOwnerService(service OwnerService) {
	b.owner = service
}

func (b *base) SetAudioDevice(device AudioDevice) {
	b.audio = device
}

func (b *base) Connect() ErrorCode {
	switch {
	case !b.initialized:
		return NotInitialized
	case b.device.IsZero():
		return DeviceNotFound
	case b.owner == nil:
		return NotReady
	case b.state == StateConnected:
		return Success
	}

	if err := b.stack.ConnectProfile(b.device, b.kind); err != nil {
		b.logf("连接 %s 失败: %v", b.device, err)
		return CodeFromError(err)
	}

	b.state = StateConnected
	b.logf("已连接 %s", b.device)
	return Success
}

func (b *base) Disconnect() ErrorCode {
	if b.state != StateConnected {
		return Success
	}

	if err := b.stack.DisconnectProfile(b.device, b.kind); err != nil {
		b.logf("断开 %s 失败: %v", b.device, err)
		return CodeFromError(err)
	}

	b.state = StateDisconnected
	b.logf("已断开 %s", b.device)
	return Success
}

// ready 信令前置检查
func (b *base) ready() ErrorCode {
	if !b.initialized {
		return NotInitialized
	}
	if b.state != StateConnected {
		return NotConnected
	}
	return Success
}

func (b *base) logf(format string, args ...any) {
	owner := "-"
	if b.owner != nil {
		owner = b.owner.Name()
	}
	log.Printf("%s %s(%s) "+format, append([]any{logPrefix, b.kind, owner}, args...)...)
}
