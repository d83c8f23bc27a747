package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"

	dbus "github.com/godbus/dbus/v5"

	"radio-control/internal/bluetooth"
)

const (
	bluezService        = "org.bluez"
	bluezRoot           = dbus.ObjectPath("/org/bluez")
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
	adapterIface        = "org.bluez.Adapter1"
	deviceIface         = "org.bluez.Device1"
	transportIface      = "org.bluez.MediaTransport1"
	objManagerIface     = "org.freedesktop.DBus.ObjectManager"
	propsIface          = "org.freedesktop.DBus.Properties"
)

// Conn Stack 所需的总线能力，*dbus.Conn 满足该接口
type Conn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	Close() error
}

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// classify 将 BlueZ / D-Bus 错误映射为 bluetooth 包的哨兵错误
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("bluez: %s: %w: %v", op, bluetooth.ErrStackTimeout, err)
	}

	var sentinel error
	switch name := errorName(err); {
	case name == "org.bluez.Error.DoesNotExist",
		name == "org.freedesktop.DBus.Error.UnknownObject":
		sentinel = bluetooth.ErrStackNoDevice
	case name == "org.bluez.Error.NotReady",
		name == "org.bluez.Error.NotAvailable",
		name == "org.freedesktop.DBus.Error.ServiceUnknown":
		sentinel = bluetooth.ErrStackNotReady
	case name == "org.freedesktop.DBus.Error.NoReply",
		name == "org.freedesktop.DBus.Error.Timeout",
		strings.HasSuffix(name, ".Timeout"):
		sentinel = bluetooth.ErrStackTimeout
	default:
		sentinel = bluetooth.ErrStackTransport
	}
	return fmt.Errorf("bluez: %s: %w: %v", op, sentinel, err)
}

func errorName(err error) string {
	var value dbus.Error
	if errors.As(err, &value) {
		return value.Name
	}
	var ptr *dbus.Error
	if errors.As(err, &ptr) {
		return ptr.Name
	}
	return ""
}

// devicePath 优先使用已知对象路径，否则由适配器路径与 MAC 推导
func devicePath(adapter dbus.ObjectPath, device bluetooth.Device) dbus.ObjectPath {
	if device.Path != "" {
		return dbus.ObjectPath(device.Path)
	}
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(strings.ToUpper(device.Address), ":", "_"))
}

// deviceFromPath 从 .../dev_XX_XX_XX_XX_XX_XX 还原设备标识
func deviceFromPath(path dbus.ObjectPath) bluetooth.Device {
	s := string(path)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return bluetooth.Device{Path: s}
	}
	return bluetooth.Device{
		Address: strings.ReplaceAll(s[idx+5:], "_", ":"),
		Path:    s,
	}
}
