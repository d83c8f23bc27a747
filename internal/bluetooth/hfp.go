package bluetooth

import (
	"fmt"
	"strconv"
	"strings"
)

// CallState HFP 通话状态
type CallState int

const (
	CallIdle CallState = iota
	CallIncoming
	CallOutgoing
	CallActive
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "Idle"
	case CallIncoming:
		return "Incoming"
	case CallOutgoing:
		return "Outgoing"
	case CallActive:
		return "Active"
	default:
		return "Unknown"
	}
}

// HFP 指示器序号，与 +CIND 列表顺序一致
const (
	indicatorService   = 1
	indicatorCall      = 2
	indicatorCallSetup = 3
	indicatorCallHeld  = 4
	indicatorSignal    = 5
	indicatorRoam      = 6
	indicatorBattery   = 7
)

// callsetup 取值
const (
	callSetupNone     = 0
	callSetupIncoming = 1
	callSetupOutgoing = 2
)

const (
	maxSignalBars   = 5
	numberTypeIntl  = 145
	numberTypeLocal = 129

	cindSupported = `+CIND: ("service",(0,1)),("call",(0,1)),("callsetup",(0-3)),("callheld",(0-2)),("signal",(0-5)),("roam",(0,1)),("battchg",(0-5))`
	chldSupported = "+CHLD: (0,1,2)"

	// AGFeatures AT+BRSF 应答的 AG 特性位：三方通话、拒接来电、扩展错误码
	AGFeatures = 1<<0 | 1<<5 | 1<<8
)

// 服务级连接建立期间免提设备可能发来、只需应答 OK 的设置指令
var acceptedSettings = []string{
	"AT+BAC=", "AT+BIA=", "AT+CCWA=", "AT+CMEE=", "AT+COPS=", "AT+NREC=", "AT+VGM=", "AT+VGS=",
}

// HFP 手机作为音频网关（AG）的通话 Profile。
// 状态变化以非请求结果码（RING、+CLIP、+CIEV）推送到免提设备。
type HFP struct {
	base

	callState    CallState
	ringing      bool
	number       string
	signal       int
	battery      int
	registered   bool
	roaming      bool
	operatorName string

	// 服务级连接（SLC）协商结果
	hfFeatures  int
	reporting   bool // AT+CMER 开启后才推送 +CIEV
	clipEnabled bool // AT+CLIP=1 开启后才推送 +CLIP
}

var _ CallProfile = (*HFP)(nil)

// NewHFP 创建 HFP Profile
func NewHFP(stack Stack, opts ...Option) *HFP {
	return &HFP{base: newBase(KindHFP, stack, opts)}
}

// CallState 当前通话状态
func (p *HFP) CallState() CallState { return p.callState }

// Ringing 是否处于振铃提示中
func (p *HFP) Ringing() bool { return p.ringing }

// ==================== 通话控制 ====================

func (p *HFP) StartRinging() ErrorCode {
	if !p.initialized {
		return NotInitialized
	}
	p.ringing = true

	if code := p.push("RING"); code != Success {
		return code
	}
	if p.number != "" && p.clipEnabled {
		return p.push(clipLine(p.number))
	}
	return Success
}

func (p *HFP) StopRinging() ErrorCode {
	if !p.initialized {
		return NotInitialized
	}
	p.ringing = false
	return p.ready()
}

// InitializeCall 来电建立：Idle -> Incoming；已是 Incoming 时重发 callsetup 指示
func (p *HFP) InitializeCall() ErrorCode {
	if !p.initialized {
		return NotInitialized
	}
	if p.callState != CallIdle && p.callState != CallIncoming {
		return InvalidState
	}
	p.callState = CallIncoming
	return p.pushIndicator(indicatorCallSetup, callSetupIncoming)
}

// CallStarted 去电建立：Idle -> Outgoing；已是 Outgoing 时重发 callsetup 指示
func (p *HFP) CallStarted(number string) ErrorCode {
	if !p.initialized {
		return NotInitialized
	}
	if p.callState != CallIdle && p.callState != CallOutgoing {
		return InvalidState
	}
	p.callState = CallOutgoing
	p.number = number
	return p.pushIndicator(indicatorCallSetup, callSetupOutgoing)
}

// CallActive 接通：Incoming/Outgoing -> Active
func (p *HFP) CallActive() ErrorCode {
	if !p.initialized {
		return NotInitialized
	}
	if p.callState != CallIncoming && p.callState != CallOutgoing {
		return InvalidState
	}
	p.callState = CallActive
	p.ringing = false

	if code := p.pushIndicator(indicatorCall, 1); code != Success {
		return code
	}
	return p.pushIndicator(indicatorCallSetup, callSetupNone)
}

// TerminateCall 结束通话：任意状态 -> Idle，Idle 时为空操作
func (p *HFP) TerminateCall() ErrorCode {
	if !p.initialized {
		return NotInitialized
	}

	previous := p.callState
	p.callState = CallIdle
	p.ringing = false
	p.number = ""

	switch previous {
	case CallActive:
		return p.pushIndicator(indicatorCall, 0)
	case CallIncoming, CallOutgoing:
		return p.pushIndicator(indicatorCallSetup, callSetupNone)
	default:
		return Success
	}
}

func (p *HFP) SetIncomingCallNumber(number string) ErrorCode {
	if !p.initialized {
		return NotInitialized
	}
	p.number = number
	if !p.ringing || !p.clipEnabled {
		return p.ready()
	}
	return p.push(clipLine(number))
}

// ==================== 状态指示 ====================

func (p *HFP) SetSignalStrength(bars int) ErrorCode {
	if !p.initialized {
		return NotInitialized
	}
	p.signal = clamp(bars, 0, maxSignalBars)
	return p.pushIndicator(indicatorSignal, p.signal)
}

// SetOperatorName 记录运营商名称，供免提设备 AT+COPS? 查询
func (p *HFP) SetOperatorName(name string) ErrorCode {
	if !p.initialized {
		return NotInitialized
	}
	p.operatorName = name
	return Success
}

func (p *HFP) SetBatteryLevel(level BatteryLevel) ErrorCode {
	if !p.initialized {
		return NotInitialized
	}
	p.battery = level.Bars()
	return p.pushIndicator(indicatorBattery, p.battery)
}

func (p *HFP) SetNetworkRegistrationStatus(registered bool) ErrorCode {
	if !p.initialized {
		return NotInitialized
	}
	p.registered = registered
	return p.pushIndicator(indicatorService, boolToInt(registered))
}

func (p *HFP) SetRoamingStatus(enabled bool) ErrorCode {
	if !p.initialized {
		return NotInitialized
	}
	p.roaming = enabled
	return p.pushIndicator(indicatorRoam, boolToInt(enabled))
}

// ==================== 免提设备查询 ====================

// HandleCommand 应答免提设备发来的指令：SLC 建立（BRSF、CIND、CMER、CHLD）、
// 状态查询（CIND?、COPS?）以及只需 OK 的设置指令
func (p *HFP) HandleCommand(line string) ErrorCode {
	if code := p.ready(); code != Success {
		return code
	}

	command := strings.ToUpper(strings.TrimSpace(line))
	switch {
	case command == "AT+CIND=?":
		return p.reply(cindSupported)
	case command == "AT+CIND?":
		return p.reply(p.indicatorStatus())
	case command == "AT+COPS?":
		return p.reply(fmt.Sprintf(`+COPS: 0,0,"%s"`, p.operatorName))
	case command == "AT+CHLD=?":
		return p.reply(chldSupported)
	case strings.HasPrefix(command, "AT+BRSF="):
		features, err := strconv.Atoi(strings.TrimPrefix(command, "AT+BRSF="))
		if err != nil {
			return p.push("ERROR")
		}
		p.hfFeatures = features
		return p.reply(fmt.Sprintf("+BRSF: %d", AGFeatures))
	case strings.HasPrefix(command, "AT+CMER="):
		fields := strings.Split(strings.TrimPrefix(command, "AT+CMER="), ",")
		if len(fields) < 4 {
			return p.push("ERROR")
		}
		p.reporting = strings.TrimSpace(fields[0]) == "3" && strings.TrimSpace(fields[3]) == "1"
		return p.reply()
	case strings.HasPrefix(command, "AT+CLIP="):
		p.clipEnabled = strings.TrimPrefix(command, "AT+CLIP=") == "1"
		return p.reply()
	case hasAnyPrefix(command, acceptedSettings):
		return p.reply()
	default:
		return p.push("ERROR")
	}
}

// ServiceLevel 返回 SLC 协商状态：免提设备特性位与 +CIEV 上报是否开启
func (p *HFP) ServiceLevel() (hfFeatures int, reporting bool) {
	return p.hfFeatures, p.reporting
}

func (p *HFP) indicatorStatus() string {
	callSetup := callSetupNone
	switch p.callState {
	case CallIncoming:
		callSetup = callSetupIncoming
	case CallOutgoing:
		callSetup = callSetupOutgoing
	}
	return fmt.Sprintf("+CIND: %d,%d,%d,0,%d,%d,%d",
		boolToInt(p.registered),
		boolToInt(p.callState == CallActive),
		callSetup,
		p.signal,
		boolToInt(p.roaming),
		p.battery,
	)
}

// ==================== 内部信令 ====================

// pushIndicator 未开启指示上报时只记录状态，免提设备通过 AT+CIND? 读取
func (p *HFP) pushIndicator(indicator, value int) ErrorCode {
	if code := p.ready(); code != Success {
		return code
	}
	if !p.reporting {
		return Success
	}
	return p.push(fmt.Sprintf("+CIEV: %d,%d", indicator, value))
}

// reply 写出若干应答行并以 OK 结束
func (p *HFP) reply(lines ...string) ErrorCode {
	for _, line := range lines {
		if code := p.push(line); code != Success {
			return code
		}
	}
	return p.push("OK")
}

// push 以 AG 格式（\r\n<line>\r\n）写出一行
func (p *HFP) push(line string) ErrorCode {
	if code := p.ready(); code != Success {
		return code
	}
	if err := p.stack.Send(p.device, p.kind, []byte("\r\n"+line+"\r\n")); err != nil {
		p.logf("信令 %q 发送失败: %v", line, err)
		return TransportError
	}
	return Success
}

// Disconnect 断开后复位 SLC 状态，下次连接需重新协商
func (p *HFP) Disconnect() ErrorCode {
	code := p.base.Disconnect()
	if code == Success {
		p.hfFeatures = 0
		p.reporting = false
		p.clipEnabled = false
	}
	return code
}

// Close 销毁前隐式断开
func (p *HFP) Close() ErrorCode {
	return p.Disconnect()
}

func clipLine(number string) string {
	numberType := numberTypeLocal
	if strings.HasPrefix(number, "+") {
		numberType = numberTypeIntl
	}
	return fmt.Sprintf(`+CLIP: "%s",%d`, number, numberType)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
