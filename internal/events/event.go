package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Kind 事件类型
type Kind string

// 入站事件：由电话栈、电源管理等上游发往本服务
const (
	KindCallIncoming   Kind = "call.incoming"
	KindCallOutgoing   Kind = "call.outgoing"
	KindCallAnswered   Kind = "call.answered"
	KindCallEnded      Kind = "call.ended"
	KindCallRinging    Kind = "call.ringing"
	KindBatteryLevel   Kind = "battery.level"
	KindNetworkRefresh Kind = "network.refresh"
	KindVolteCheck     Kind = "volte.check"
	KindAudioStart     Kind = "audio.start"
	KindAudioStop      Kind = "audio.stop"
	KindDeviceAttach   Kind = "device.attach"
	KindDeviceDetach   Kind = "device.detach"
)

// 出站事件：本服务发布的状态通知
const (
	KindVolteVerdict Kind = "volte.verdict"
	KindProfileState Kind = "profile.state"
	KindCallState    Kind = "call.state"
)

var (
	ErrMissingKind  = errors.New("event kind is required")
	ErrMissingField = errors.New("event payload field missing")

	ErrInvalidInteger = errors.New("event payload field is not an integer")
)

// Event 总线上传递的消息
type Event struct {
	ID      string         `json:"id"`
	Kind    Kind           `json:"kind"`
	Device  string         `json:"device,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// New 创建带唯一 ID 与时间戳的事件
func New(kind Kind, device string, payload map[string]any) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Device:  device,
		Payload: payload,
		At:      time.Now().UTC(),
	}
}

// Encode 序列化为 JSON
func Encode(event Event) ([]byte, error) {
	if event.Kind == "" {
		return nil, ErrMissingKind
	}
	return json.Marshal(event)
}

// Decode 反序列化并校验
func Decode(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if event.Kind == "" {
		return Event{}, ErrMissingKind
	}
	return event, nil
}

// String 读取字符串字段
func (e Event) String(key string) (string, error) {
	value, ok := e.Payload[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("field %s: expected string, got %T", key, value)
	}
	return s, nil
}

// Int 读取数值字段，JSON 数字解码为 float64
func (e Event) Int(key string) (int, error) {
	value, ok := e.Payload[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	switch n := value.(type) {
	case float64:
		if n != math.Trunc(n) || n < math.MinInt || n >= math.MaxInt {
			return 0, fmt.Errorf("%w: %s=%v", ErrInvalidInteger, key, n)
		}
		return int(n), nil
	case int:
		return n, nil
	case json.Number:
		v, err := n.Int64()
		if err != nil || v < math.MinInt || v > math.MaxInt {
			return 0, fmt.Errorf("%w: %s=%s", ErrInvalidInteger, key, n)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("field %s: expected number, got %T", key, value)
	}
}

// Bool 读取布尔字段
func (e Event) Bool(key string) (bool, error) {
	value, ok := e.Payload[key]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("field %s: expected bool, got %T", key, value)
	}
	return b, nil
}
