package cellular

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"

	"radio-control/internal/at"
)

// ==================== 常量与错误定义 ====================

const (
	imsiMinLength = mccLength + mncLengthUS
	imsiMaxLength = 15

	rssiUnknown = 99
	maxBars     = 5

	prefixCSQ  = "+CSQ:"
	prefixCREG = "+CREG:"
	prefixCOPS = "+COPS:"
)

// 字符集（AT+CSCS）
const (
	CharsetGSM  = "GSM"
	CharsetIRA  = "IRA"
	CharsetUCS2 = "UCS2"
	CharsetGBK  = "GBK"
)

var (
	ErrNoReply       = errors.New("cellular: no usable reply")
	ErrNotRegistered = errors.New("cellular: not registered")
)

// NetworkStatus 网络注册状态
type NetworkStatus struct {
	Registered bool
	Roaming    bool
}

// ATCellular 基于 AT 指令的蜂窝接口实现
type ATCellular struct {
	charset string
}

// NewATCellular 创建 AT 蜂窝接口，charset 为模块当前的 CSCS 字符集
func NewATCellular(charset string) *ATCellular {
	if charset == "" {
		charset = CharsetGSM
	}
	return &ATCellular{charset: strings.ToUpper(charset)}
}

// GetImsi 发送 AT+CIMI 并提取 IMSI；超时、无 SIM、格式异常均返回 false
func (c *ATCellular) GetImsi(channel at.Channel) (string, bool) {
	result := channel.Exec(at.CmdGetIMSI)
	if !result.OK() {
		return "", false
	}
	return parseIMSIFromResponse(result.Response)
}

// SignalBars 通过 AT+CSQ 计算 0..5 格信号
func (c *ATCellular) SignalBars(channel at.Channel) (int, error) {
	fields, err := queryFields(channel, at.CmdSignalQuality, prefixCSQ)
	if err != nil {
		return 0, err
	}

	rssi, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("%w: CSQ=%q", ErrNoReply, fields[0])
	}
	return rssiToBars(rssi), nil
}

// Registration 通过 AT+CREG? 查询注册与漫游状态
func (c *ATCellular) Registration(channel at.Channel) (NetworkStatus, error) {
	fields, err := queryFields(channel, at.CmdRegistration, prefixCREG)
	if err != nil {
		return NetworkStatus{}, err
	}
	if len(fields) < 2 {
		return NetworkStatus{}, fmt.Errorf("%w: CREG 字段不足", ErrNoReply)
	}

	switch fields[1] {
	case "1":
		return NetworkStatus{Registered: true}, nil
	case "5":
		return NetworkStatus{Registered: true, Roaming: true}, nil
	default:
		return NetworkStatus{}, nil
	}
}

// OperatorName 通过 AT+COPS? 查询运营商长名称，并按字符集解码
func (c *ATCellular) OperatorName(channel at.Channel) (string, error) {
	result := channel.Exec(at.CmdGetOperator)
	if err := result.AsError(at.CmdGetOperator.Text); err != nil {
		return "", err
	}

	for _, line := range result.Response {
		if !strings.HasPrefix(line, prefixCOPS) {
			continue
		}
		start, end := strings.Index(line, `"`), strings.LastIndex(line, `"`)
		if start < 0 || end <= start {
			return "", ErrNotRegistered
		}
		return decodeOperatorName(line[start+1:end], c.charset)
	}
	return "", fmt.Errorf("%w: %s", ErrNoReply, at.CmdGetOperator.Text)
}

// ==================== 内部解析 ====================

// parseIMSIFromResponse 取第一条全数字且长度合法的行
func parseIMSIFromResponse(lines []string) (string, bool) {
	for _, rawLine := range lines {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "AT") {
			continue
		}
		if len(line) >= imsiMinLength && len(line) <= imsiMaxLength && isAllDigits(line) {
			return line, true
		}
	}
	return "", false
}

// queryFields 执行查询指令并返回指定前缀行的逗号分隔字段
func queryFields(channel at.Channel, cmd at.Cmd, prefix string) ([]string, error) {
	result := channel.Exec(cmd)
	if err := result.AsError(cmd.Text); err != nil {
		return nil, err
	}

	for _, line := range result.Response {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		fields := strings.Split(strings.TrimPrefix(line, prefix), ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		return fields, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoReply, cmd.Text)
}

// rssiToBars 将 CSQ rssi(0..31, 99=未知) 映射为 0..5 格
func rssiToBars(rssi int) int {
	switch {
	case rssi == rssiUnknown || rssi < 2:
		return 0
	case rssi < 8:
		return 1
	case rssi < 13:
		return 2
	case rssi < 18:
		return 3
	case rssi < 23:
		return 4
	default:
		return maxBars
	}
}

func decodeOperatorName(name, charset string) (string, error) {
	switch charset {
	case CharsetUCS2:
		raw, err := hex.DecodeString(name)
		if err != nil {
			return "", fmt.Errorf("UCS2 名称解码失败: %w", err)
		}
		decoded, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("UCS2 名称解码失败: %w", err)
		}
		return string(decoded), nil
	case CharsetGBK:
		decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes([]byte(name))
		if err != nil {
			return "", fmt.Errorf("GBK 名称解码失败: %w", err)
		}
		return string(decoded), nil
	default:
		return name, nil
	}
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
