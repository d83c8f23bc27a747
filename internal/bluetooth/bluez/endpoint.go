package bluez

import (
	dbus "github.com/godbus/dbus/v5"

	"radio-control/internal/bluetooth"
)

// endpoint 导出到总线的 org.bluez.Profile1 实现，接收 BlueZ 交付的 RFCOMM 连接
type endpoint struct {
	kind  bluetooth.Kind
	stack *Stack
}

func (e *endpoint) Release() *dbus.Error { return nil }

func (e *endpoint) Cancel() *dbus.Error { return nil }

func (e *endpoint) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	if err := e.stack.attach(e.kind, dev, int(fd)); err != nil {
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{err.Error()}}
	}
	return nil
}

func (e *endpoint) RequestDisconnection(dev dbus.ObjectPath) *dbus.Error {
	e.stack.detach(e.kind, dev)
	return nil
}
