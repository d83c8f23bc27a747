package bluetooth

import (
	"errors"
	"fmt"
)

// ErrorCode 蓝牙层操作结果，按值返回，不以 panic 传播
type ErrorCode int

const (
	Success ErrorCode = iota
	SystemError
	NotReady
	NotInitialized
	DeviceNotFound
	NotConnected
	Timeout
	TransportError
	InvalidState
)

func (c ErrorCode) String() string {
	switch c {
	case Success:
		return "Success"
	case SystemError:
		return "SystemError"
	case NotReady:
		return "NotReady"
	case NotInitialized:
		return "NotInitialized"
	case DeviceNotFound:
		return "DeviceNotFound"
	case NotConnected:
		return "NotConnected"
	case Timeout:
		return "Timeout"
	case TransportError:
		return "TransportError"
	case InvalidState:
		return "InvalidState"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// Err 非 Success 时返回可包装的 error，便于服务层记录
func (c ErrorCode) Err() error {
	if c == Success {
		return nil
	}
	return &CodeError{Code: c}
}

// CodeError 将 ErrorCode 适配为 error
type CodeError struct {
	Code ErrorCode
}

func (e *CodeError) Error() string {
	return "bluetooth: " + e.Code.String()
}

// 无线协议栈返回的哨兵错误，由 CodeFromError 映射为 ErrorCode
var (
	ErrStackTimeout   = errors.New("bluetooth: stack timeout")
	ErrStackTransport = errors.New("bluetooth: stack transport failure")
	ErrStackNoDevice  = errors.New("bluetooth: device not found")
	ErrStackNotReady  = errors.New("bluetooth: stack not ready")
)

// CodeFromError 将协议栈错误归类为 ErrorCode
func CodeFromError(err error) ErrorCode {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrStackTimeout):
		return Timeout
	case errors.Is(err, ErrStackTransport):
		return TransportError
	case errors.Is(err, ErrStackNoDevice):
		return DeviceNotFound
	case errors.Is(err, ErrStackNotReady):
		return NotReady
	default:
		return SystemError
	}
}
