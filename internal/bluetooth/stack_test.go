package bluetooth

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakeStack 记录调用次数与发出的信令
type fakeStack struct {
	sdpCalls   atomic.Int32
	l2capCalls atomic.Int32
	order      []string
	orderMu    sync.Mutex
	initDelay  time.Duration

	sdpErr      error
	l2capErr    error
	registerErr error
	connectErr  error
	streamErr   error
	sendErr     error

	registered []Kind
	connected  []Kind
	streams    int
	sent       []string
}

func (s *fakeStack) record(step string) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()
	s.order = append(s.order, step)
}

func (s *fakeStack) InitSdp() error {
	time.Sleep(s.initDelay)
	if s.sdpErr != nil {
		return s.sdpErr
	}
	s.sdpCalls.Add(1)
	s.record("sdp")
	return nil
}

func (s *fakeStack) InitL2cap() error {
	if s.l2capErr != nil {
		return s.l2capErr
	}
	s.l2capCalls.Add(1)
	s.record("l2cap")
	return nil
}

func (s *fakeStack) RegisterProfile(kind Kind) error {
	if s.registerErr != nil {
		return s.registerErr
	}
	s.registered = append(s.registered, kind)
	return nil
}

func (s *fakeStack) ConnectProfile(_ Device, kind Kind) error {
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = append(s.connected, kind)
	return nil
}

func (s *fakeStack) DisconnectProfile(_ Device, kind Kind) error {
	for i, k := range s.connected {
		if k == kind {
			s.connected = append(s.connected[:i], s.connected[i+1:]...)
			break
		}
	}
	return nil
}

func (s *fakeStack) StartStream(Device) error {
	if s.streamErr != nil {
		return s.streamErr
	}
	s.streams++
	return nil
}

func (s *fakeStack) StopStream(Device) error {
	s.streams--
	return nil
}

func (s *fakeStack) Send(_ Device, _ Kind, payload []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, string(payload))
	return nil
}

type ownerStub string

func (o ownerStub) Name() string { return string(o) }

type audioStub struct {
	started, stopped int
	startErr         error
}

func (a *audioStub) Name() string { return "speaker" }
func (a *audioStub) Start() error {
	if a.startErr != nil {
		return a.startErr
	}
	a.started++
	return nil
}
func (a *audioStub) Stop() error {
	a.stopped++
	return nil
}

var errBoom = errors.New("boom")

var testDevice = Device{Address: "AA:BB:CC:DD:EE:FF", Name: "CarKit", Path: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"}
