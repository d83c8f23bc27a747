package cellular

import "fmt"

const (
	mccLength   = 3
	mncLengthUS = 3
)

// OperatorInfo 运营商标识：MCC + MNC，二者要么同时存在，要么解析失败
type OperatorInfo struct {
	MCC string
	MNC string
}

func (o OperatorInfo) String() string {
	return fmt.Sprintf("%s-%s", o.MCC, o.MNC)
}

// ImsiParser 从 IMSI 中提取运营商标识
type ImsiParser interface {
	Parse(imsi string) (OperatorInfo, bool)
}

// ImsiParserUS 北美 IMSI 解析：3 位 MCC + 3 位 MNC。
// 不校验是否全为数字，长度足够的非数字输入同样会被结构化切分。
type ImsiParserUS struct{}

// Parse 长度不足 6 时返回 false
func (ImsiParserUS) Parse(imsi string) (OperatorInfo, bool) {
	if len(imsi) < mccLength+mncLengthUS {
		return OperatorInfo{}, false
	}
	return OperatorInfo{
		MCC: imsi[:mccLength],
		MNC: imsi[mccLength : mccLength+mncLengthUS],
	}, true
}
