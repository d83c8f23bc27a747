package at

import (
	"fmt"
	"time"
)

// DefaultTimeout 未指定超时时的默认等待时间
const DefaultTimeout = 300 * time.Millisecond

// Cmd 结构化指令：指令文本（不含 \r）与该指令的超时
type Cmd struct {
	Text    string
	Timeout time.Duration
}

func (c Cmd) timeoutOrDefault() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c Cmd) String() string {
	return c.Text
}

// 常用指令
var (
	CmdReset         = Cmd{Text: "AT&F", Timeout: time.Second}
	CmdEchoOff       = Cmd{Text: "ATE0", Timeout: DefaultTimeout}
	CmdVerboseErrors = Cmd{Text: "AT+CMEE=1", Timeout: DefaultTimeout}
	CmdGetIMSI       = Cmd{Text: "AT+CIMI", Timeout: DefaultTimeout}
	CmdSignalQuality = Cmd{Text: "AT+CSQ", Timeout: DefaultTimeout}
	CmdRegistration  = Cmd{Text: "AT+CREG?", Timeout: DefaultTimeout}
	CmdOperatorLong  = Cmd{Text: "AT+COPS=3,0", Timeout: DefaultTimeout}
	CmdGetOperator   = Cmd{Text: "AT+COPS?", Timeout: 2 * time.Second}
)

// CmdSetCharset 构造 AT+CSCS 字符集设置指令
func CmdSetCharset(charset string) Cmd {
	return Cmd{Text: fmt.Sprintf("AT+CSCS=\"%s\"", charset), Timeout: DefaultTimeout}
}

// InitSequence 打开串口后执行的基础初始化指令
var InitSequence = []Cmd{
	CmdEchoOff,
	CmdVerboseErrors,
	CmdOperatorLong,
}
