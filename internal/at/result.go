package at

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ==================== 错误定义 ====================

var (
	ErrTimeout       = errors.New("at: command timeout")
	ErrTransport     = errors.New("at: transport error")
	ErrMalformed     = errors.New("at: malformed response")
	ErrCommandFailed = errors.New("at: command failed")
)

// ==================== 结果码 ====================

// ResultCode 单条 AT 指令的执行结果分类
type ResultCode int

const (
	CodeOK ResultCode = iota
	CodeError
	CodeCMEError
	CodeCMSError
	CodeTimeout
	CodeTransportError
	CodeMalformed
)

func (c ResultCode) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeError:
		return "ERROR"
	case CodeCMEError:
		return "CME_ERROR"
	case CodeCMSError:
		return "CMS_ERROR"
	case CodeTimeout:
		return "TIMEOUT"
	case CodeTransportError:
		return "TRANSPORT_ERROR"
	case CodeMalformed:
		return "MALFORMED"
	default:
		return "UNKNOWN"
	}
}

// Result 一条指令对应一个 Result，不做批量合并。
//
//	Response: 去掉回显和结束行之后的有效应答行
//	ErrorCode: +CME ERROR / +CMS ERROR 携带的数字码，无法解析时为 -1
type Result struct {
	Code      ResultCode
	Response  []string
	ErrorCode int
	Err       error
	Elapsed   time.Duration
}

// OK 指令是否以 OK 结束
func (r Result) OK() bool {
	return r.Code == CodeOK
}

// AsError 将失败结果转换为 *CommandError，成功时返回 nil
func (r Result) AsError(command string) error {
	if r.OK() {
		return nil
	}
	return &CommandError{Command: command, Code: r.Code, ErrorCode: r.ErrorCode, Err: r.Err}
}

// CommandError 供服务层使用的结构化错误（实时路径上仍使用 Result 值）
type CommandError struct {
	Command   string
	Code      ResultCode
	ErrorCode int
	Err       error
}

func (e *CommandError) Error() string {
	switch {
	case e.Code == CodeCMEError || e.Code == CodeCMSError:
		return fmt.Sprintf("%s失败: %s %d", e.Command, e.Code, e.ErrorCode)
	case e.Err != nil:
		return fmt.Sprintf("%s失败: %s (%v)", e.Command, e.Code, e.Err)
	default:
		return fmt.Sprintf("%s失败: %s", e.Command, e.Code)
	}
}

func (e *CommandError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrCommandFailed
}

// ==================== 应答解析 ====================

const (
	lineOK         = "OK"
	lineError      = "ERROR"
	lineNoCarrier  = "NO CARRIER"
	prefixCMEError = "+CME ERROR:"
	prefixCMSError = "+CMS ERROR:"
)

// isTerminalLine 判断是否为结束标记（OK/ERROR/+CME ERROR/+CMS ERROR/NO CARRIER）
func isTerminalLine(line string) bool {
	t := strings.TrimSpace(line)
	switch t {
	case lineOK, lineError, lineNoCarrier:
		return true
	}
	return strings.HasPrefix(t, prefixCMEError) || strings.HasPrefix(t, prefixCMSError)
}

// ParseResponse 将已收集的应答行归类为 Result。
// 最后一行必须是结束标记，否则视为 Malformed。
func ParseResponse(lines []string) Result {
	if len(lines) == 0 {
		return Result{Code: CodeMalformed, Err: ErrMalformed}
	}

	last := strings.TrimSpace(lines[len(lines)-1])
	if !isTerminalLine(last) {
		return Result{Code: CodeMalformed, Response: lines, Err: ErrMalformed}
	}

	body := lines[:len(lines)-1]
	switch {
	case last == lineOK:
		return Result{Code: CodeOK, Response: body}
	case strings.HasPrefix(last, prefixCMEError):
		return Result{Code: CodeCMEError, Response: body, ErrorCode: parseErrorCode(last, prefixCMEError)}
	case strings.HasPrefix(last, prefixCMSError):
		return Result{Code: CodeCMSError, Response: body, ErrorCode: parseErrorCode(last, prefixCMSError)}
	default:
		return Result{Code: CodeError, Response: body}
	}
}

func parseErrorCode(line, prefix string) int {
	code, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, prefix)))
	if err != nil {
		return -1
	}
	return code
}
