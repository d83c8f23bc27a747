package audit

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"radio-control/internal/at"
)

// Record 一次 AT 交互的审计记录。
// 只保留指令与结果码，应答行（可能包含 IMSI）不落盘。
type Record struct {
	Seq       int64     `cbor:"1,keyasint" json:"seq"`
	Command   string    `cbor:"2,keyasint" json:"command"`
	Code      string    `cbor:"3,keyasint" json:"code"`
	ErrorCode int       `cbor:"4,keyasint,omitempty" json:"error_code,omitempty"`
	ElapsedMs int64     `cbor:"5,keyasint" json:"elapsed_ms"`
	At        time.Time `cbor:"6,keyasint" json:"at"`
}

// FromExchange 从交互记录提取可审计字段
func FromExchange(exchange at.Exchange) Record {
	record := Record{
		Command:   exchange.Command,
		Code:      exchange.Result.Code.String(),
		ElapsedMs: exchange.Elapsed.Milliseconds(),
		At:        exchange.At,
	}
	if code := exchange.Result.Code; code == at.CodeCMEError || code == at.CodeCMSError {
		record.ErrorCode = exchange.Result.ErrorCode
	}
	return record
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	if encMode, err = encOpts.EncMode(); err != nil {
		panic(fmt.Sprintf("audit: cbor encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	if decMode, err = decOpts.DecMode(); err != nil {
		panic(fmt.Sprintf("audit: cbor decoder mode: %v", err))
	}
}

// Encode 编码为 CBOR
func Encode(record Record) ([]byte, error) {
	return encMode.Marshal(record)
}

// Decode 解码 CBOR 记录
func Decode(data []byte) (Record, error) {
	var record Record
	if err := decMode.Unmarshal(data, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}
