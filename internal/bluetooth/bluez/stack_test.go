//go:build linux

package bluez

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radio-control/internal/bluetooth"
)

type recordedCall struct {
	path   dbus.ObjectPath
	method string
	args   []interface{}
}

type reply struct {
	body []interface{}
	err  error
}

// fakeBus 记录方法调用，并按方法名返回预设应答
type fakeBus struct {
	mu       sync.Mutex
	calls    []recordedCall
	replies  map[string]reply
	exported map[dbus.ObjectPath]interface{}
	closed   bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		replies:  make(map[string]reply),
		exported: make(map[dbus.ObjectPath]interface{}),
	}
}

func (b *fakeBus) Object(_ string, path dbus.ObjectPath) dbus.BusObject {
	return &fakeObject{bus: b, path: path}
}

func (b *fakeBus) Export(v interface{}, path dbus.ObjectPath, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v == nil {
		delete(b.exported, path)
		return nil
	}
	b.exported[path] = v
	return nil
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

func (b *fakeBus) methods() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.calls))
	for _, c := range b.calls {
		out = append(out, c.method)
	}
	return out
}

func (b *fakeBus) last(method string) (recordedCall, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.calls) - 1; i >= 0; i-- {
		if b.calls[i].method == method {
			return b.calls[i], true
		}
	}
	return recordedCall{}, false
}

type fakeObject struct {
	dbus.BusObject
	bus  *fakeBus
	path dbus.ObjectPath
}

func (o *fakeObject) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	o.bus.mu.Lock()
	defer o.bus.mu.Unlock()
	o.bus.calls = append(o.bus.calls, recordedCall{path: o.path, method: method, args: args})
	r := o.bus.replies[method]
	return &dbus.Call{Method: method, Path: o.path, Body: r.body, Err: r.err}
}

var carKit = bluetooth.Device{Address: "aa:bb:cc:dd:ee:ff", Name: "CarKit"}

const carKitPath = dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")

func TestInitSdp_AdapterAlreadyPowered(t *testing.T) {
	bus := newFakeBus()
	bus.replies[propsIface+".Get"] = reply{body: []interface{}{dbus.MakeVariant(true)}}
	s := New(bus, Config{})

	require.NoError(t, s.InitSdp())

	assert.Equal(t, []string{propsIface + ".Get"}, bus.methods())
	call, _ := bus.last(propsIface + ".Get")
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0"), call.path)
}

func TestInitSdp_PowersOnAdapter(t *testing.T) {
	bus := newFakeBus()
	bus.replies[propsIface+".Get"] = reply{body: []interface{}{dbus.MakeVariant(false)}}
	s := New(bus, Config{Adapter: "hci1"})

	require.NoError(t, s.InitSdp())

	call, ok := bus.last(propsIface + ".Set")
	require.True(t, ok)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci1"), call.path)
	assert.Equal(t, []interface{}{adapterIface, "Powered", dbus.MakeVariant(true)}, call.args)
}

func TestInitSdp_BluetoothdMissing(t *testing.T) {
	bus := newFakeBus()
	bus.replies[propsIface+".Get"] = reply{err: dbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown"}}
	s := New(bus, Config{})

	err := s.InitSdp()

	assert.ErrorIs(t, err, bluetooth.ErrStackNotReady)
	assert.Equal(t, bluetooth.NotReady, bluetooth.CodeFromError(err))
}

func TestRegisterProfile_RequiresEndpoints(t *testing.T) {
	s := New(newFakeBus(), Config{})

	assert.ErrorIs(t, s.RegisterProfile(bluetooth.KindHFP), bluetooth.ErrStackNotReady)
}

func TestRegisterProfile_HFP(t *testing.T) {
	bus := newFakeBus()
	s := New(bus, Config{ServiceName: "radiod", HFPFeatures: 0x0020})
	require.NoError(t, s.InitL2cap())
	assert.Len(t, bus.exported, 2)

	require.NoError(t, s.RegisterProfile(bluetooth.KindHFP))
	require.NoError(t, s.RegisterProfile(bluetooth.KindHFP))
	require.NoError(t, s.RegisterProfile(bluetooth.KindA2DP))

	assert.Equal(t, []string{profileManagerIface + ".RegisterProfile"}, bus.methods())
	call, _ := bus.last(profileManagerIface + ".RegisterProfile")
	assert.Equal(t, bluezRoot, call.path)
	require.Len(t, call.args, 3)
	assert.Equal(t, dbus.ObjectPath("/radio/profile/hfp"), call.args[0])
	assert.Equal(t, bluetooth.HFPAGUUID, call.args[1])
	options := call.args[2].(map[string]dbus.Variant)
	assert.Equal(t, uint16(DefaultHFPChannel), options["Channel"].Value())
	assert.Equal(t, uint16(0x0020), options["Features"].Value())
	assert.Equal(t, "radiod HFP", options["Name"].Value())
}

func TestConnectProfile_DerivesDevicePath(t *testing.T) {
	bus := newFakeBus()
	s := New(bus, Config{})

	require.NoError(t, s.ConnectProfile(carKit, bluetooth.KindA2DP))

	call, _ := bus.last(deviceIface + ".ConnectProfile")
	assert.Equal(t, carKitPath, call.path)
	assert.Equal(t, []interface{}{bluetooth.A2DPSourceUUID}, call.args)
}

func TestConnectProfile_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bluetooth.ErrorCode
	}{
		{"unknown device", dbus.Error{Name: "org.bluez.Error.DoesNotExist"}, bluetooth.DeviceNotFound},
		{"not ready", &dbus.Error{Name: "org.bluez.Error.NotReady"}, bluetooth.NotReady},
		{"no reply", dbus.Error{Name: "org.freedesktop.DBus.Error.NoReply"}, bluetooth.Timeout},
		{"deadline", context.DeadlineExceeded, bluetooth.Timeout},
		{"failed", dbus.Error{Name: "org.bluez.Error.Failed"}, bluetooth.TransportError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bus := newFakeBus()
			bus.replies[deviceIface+".ConnectProfile"] = reply{err: tc.err}
			s := New(bus, Config{})

			err := s.ConnectProfile(carKit, bluetooth.KindHFP)

			assert.Equal(t, tc.want, bluetooth.CodeFromError(err))
		})
	}
}

func TestLink_CommandsAndSend(t *testing.T) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	require.NoError(t, err)
	peer := os.NewFile(uintptr(fds[1]), "peer")
	defer peer.Close()

	lines := make(chan string, 4)
	bus := newFakeBus()
	s := New(bus, Config{}, WithCommandHandler(func(device bluetooth.Device, kind bluetooth.Kind, line string) {
		assert.Equal(t, "AA:BB:CC:DD:EE:FF", device.Address)
		assert.Equal(t, bluetooth.KindHFP, kind)
		lines <- line
	}))
	defer s.Close()
	require.NoError(t, s.InitL2cap())

	ep := bus.exported["/radio/profile/hfp"].(*endpoint)
	require.Nil(t, ep.NewConnection(carKitPath, dbus.UnixFD(fds[0]), nil))

	_, err = peer.Write([]byte("AT+CIND?\rAT+COPS?\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "AT+CIND?", waitLine(t, lines))
	assert.Equal(t, "AT+COPS?", waitLine(t, lines))

	require.NoError(t, s.Send(carKit, bluetooth.KindHFP, []byte("\r\nRING\r\n")))
	buf := make([]byte, 16)
	n, err := peer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "\r\nRING\r\n", string(buf[:n]))

	assert.ErrorIs(t, s.Send(carKit, bluetooth.KindA2DP, []byte("x")), bluetooth.ErrStackTransport)

	require.Nil(t, ep.RequestDisconnection(carKitPath))
	assert.ErrorIs(t, s.Send(carKit, bluetooth.KindHFP, []byte("x")), bluetooth.ErrStackTransport)
}

func waitLine(t *testing.T, lines <-chan string) string {
	t.Helper()
	select {
	case line := <-lines:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("no command received")
		return ""
	}
}

func TestStream_AcquireAndRelease(t *testing.T) {
	var pipe [2]int
	require.NoError(t, syscall.Pipe(pipe[:]))
	defer syscall.Close(pipe[1])

	transportPath := carKitPath + "/sep1/fd0"
	bus := newFakeBus()
	bus.replies[objManagerIface+".GetManagedObjects"] = reply{body: []interface{}{managedObjects{
		carKitPath:               {deviceIface: {}},
		transportPath:            {transportIface: {}},
		"/org/bluez/hci0/dev_11": {transportIface: {}},
	}}}
	bus.replies[transportIface+".TryAcquire"] = reply{body: []interface{}{dbus.UnixFD(pipe[0]), uint16(672), uint16(672)}}
	s := New(bus, Config{})

	require.NoError(t, s.StartStream(carKit))
	call, _ := bus.last(transportIface + ".TryAcquire")
	assert.Equal(t, transportPath, call.path)

	require.NoError(t, s.StopStream(carKit))
	call, ok := bus.last(transportIface + ".Release")
	require.True(t, ok)
	assert.Equal(t, transportPath, call.path)
}

func TestStream_NoTransport(t *testing.T) {
	bus := newFakeBus()
	bus.replies[objManagerIface+".GetManagedObjects"] = reply{body: []interface{}{managedObjects{}}}
	s := New(bus, Config{})

	err := s.StartStream(carKit)

	assert.ErrorIs(t, err, bluetooth.ErrStackNotReady)
}

func TestClose_UnregistersInReverse(t *testing.T) {
	bus := newFakeBus()
	s := New(bus, Config{})
	require.NoError(t, s.InitL2cap())
	require.NoError(t, s.RegisterProfile(bluetooth.KindHFP))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Empty(t, bus.exported)
	assert.Equal(t, []string{
		profileManagerIface + ".RegisterProfile",
		profileManagerIface + ".UnregisterProfile",
	}, bus.methods())
}

func TestSplitCommandLines(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("AT+BRSF=127\r\r\nAT+CIND=?\nAT+CMER"))
	scanner.Split(splitCommandLines)

	var got []string
	for scanner.Scan() {
		if scanner.Text() != "" {
			got = append(got, scanner.Text())
		}
	}

	assert.Equal(t, []string{"AT+BRSF=127", "AT+CIND=?", "AT+CMER"}, got)
}

func TestDeviceFromPath(t *testing.T) {
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", deviceFromPath(carKitPath).Address)
	assert.Equal(t, carKitPath, devicePath("/org/bluez/hci0", bluetooth.Device{Path: string(carKitPath)}))
	assert.Empty(t, deviceFromPath("/org/bluez/hci0").Address)
}
