package cellular

// AllowList 判断运营商是否支持 VoLTE
type AllowList interface {
	IsAllowed(operator OperatorInfo) bool
}

// AllowedList 以 MCC -> MNC 集合表示的不可变白名单，精确匹配
type AllowedList struct {
	rules map[string]map[string]struct{}
}

// NewAllowedList 根据规则构建白名单，rules 在构建后被复制，外部修改不影响结果
func NewAllowedList(rules map[string][]string) *AllowedList {
	list := &AllowedList{rules: make(map[string]map[string]struct{}, len(rules))}
	for mcc, mncs := range rules {
		set := make(map[string]struct{}, len(mncs))
		for _, mnc := range mncs {
			set[mnc] = struct{}{}
		}
		list.rules[mcc] = set
	}
	return list
}

// tMobileUS T-Mobile US（含原 Sprint / MetroPCS 号段）
var tMobileUS = map[string][]string{
	"310": {"120", "160", "200", "210", "220", "230", "240", "250", "260", "270", "310", "490", "660", "800"},
	"311": {"490", "660", "882"},
	"312": {"250"},
}

// NewAllowedUSList 美国 VoLTE 白名单
func NewAllowedUSList() *AllowedList {
	return NewAllowedList(tMobileUS)
}

// IsAllowed MCC 与 MNC 均需精确命中
func (l *AllowedList) IsAllowed(operator OperatorInfo) bool {
	mncs, ok := l.rules[operator.MCC]
	if !ok {
		return false
	}
	_, ok = mncs[operator.MNC]
	return ok
}

// Len 规则中的运营商数量
func (l *AllowedList) Len() int {
	n := 0
	for _, mncs := range l.rules {
		n += len(mncs)
	}
	return n
}
