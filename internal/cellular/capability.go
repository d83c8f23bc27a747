package cellular

import (
	"log"

	"radio-control/internal/at"
)

const logPrefixVolte = "[VOLTE]"

// CellularInterface 通过指令通道获取 IMSI 的端口
type CellularInterface interface {
	GetImsi(channel at.Channel) (string, bool)
}

// CapabilityHandler VoLTE 资格判定：获取 IMSI -> 解析 -> 白名单。
// 任一环节缺少信息即判定为不允许，本层不做重试。
type CapabilityHandler struct {
	parser   ImsiParser
	allowed  AllowList
	cellular CellularInterface
}

// NewCapabilityHandler 创建判定器
func NewCapabilityHandler(parser ImsiParser, allowed AllowList, cellular CellularInterface) *CapabilityHandler {
	return &CapabilityHandler{
		parser:   parser,
		allowed:  allowed,
		cellular: cellular,
	}
}

// IsVolteAllowed 当前运营商是否允许开启 VoLTE
func (h *CapabilityHandler) IsVolteAllowed(channel at.Channel) bool {
	imsi, ok := h.cellular.GetImsi(channel)
	if !ok {
		log.Printf("%s 无法获取IMSI, VoLTE 不可用", logPrefixVolte)
		return false
	}

	operator, ok := h.parser.Parse(imsi)
	if !ok {
		log.Printf("%s IMSI 格式无效, VoLTE 不可用", logPrefixVolte)
		return false
	}

	allowed := h.allowed.IsAllowed(operator)
	log.Printf("%s 运营商 %s, VoLTE 允许: %v", logPrefixVolte, operator, allowed)
	return allowed
}
