package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"radio-control/internal/at"
	"radio-control/internal/bluetooth"
	"radio-control/internal/events"
)

// fakeChannel 按指令文本返回预设结果
type fakeChannel struct {
	mu       sync.Mutex
	results  map[string]at.Result
	sent     []string
	initCmds []at.Cmd
	initErr  error
	closed   bool
}

func newFakeChannel(results map[string]at.Result) *fakeChannel {
	return &fakeChannel{results: results}
}

func (c *fakeChannel) Cmd(text string, timeout time.Duration) at.Result {
	return c.Exec(at.Cmd{Text: text, Timeout: timeout})
}

func (c *fakeChannel) Exec(cmd at.Cmd) at.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, cmd.Text)
	if result, ok := c.results[cmd.Text]; ok {
		return result
	}
	return at.Result{Code: at.CodeTimeout, Err: at.ErrTimeout}
}

func (c *fakeChannel) Send([]byte) error { return nil }

func (c *fakeChannel) Receive([]byte, time.Duration) int { return 0 }

func (c *fakeChannel) Initialize(cmds ...at.Cmd) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initCmds = append(c.initCmds, cmds...)
	return c.initErr
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func ok(lines ...string) at.Result {
	return at.Result{Code: at.CodeOK, Response: lines}
}

// fakeModem 固定返回通道或错误
type fakeModem struct {
	channel at.Channel
	err     error
}

func (m *fakeModem) Channel() (at.Channel, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.channel, nil
}

func (m *fakeModem) Status() ModemStatus {
	return ModemStatus{Available: m.err == nil, MaxRetries: 3}
}

// recordingStack 记录发往远端的信令
type recordingStack struct {
	mu      sync.Mutex
	sent    []string
	streams int
	sendErr error
	sdpErr  error
}

func (s *recordingStack) InitL2cap() error                                         { return nil }
func (s *recordingStack) RegisterProfile(bluetooth.Kind) error                     { return nil }
func (s *recordingStack) ConnectProfile(bluetooth.Device, bluetooth.Kind) error    { return nil }
func (s *recordingStack) DisconnectProfile(bluetooth.Device, bluetooth.Kind) error { return nil }

func (s *recordingStack) InitSdp() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdpErr
}

func (s *recordingStack) StartStream(bluetooth.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams++
	return nil
}

func (s *recordingStack) StopStream(bluetooth.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams--
	return nil
}

func (s *recordingStack) Send(_ bluetooth.Device, _ bluetooth.Kind, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, strings.TrimSpace(string(payload)))
	return nil
}

func (s *recordingStack) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *recordingStack) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}

// recordingPublisher 收集发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofKind(kind events.Kind) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
