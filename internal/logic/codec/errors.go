package codec

import (
	"errors"
	"fmt"
)

var (
	ErrTruncatedBuffer  = errors.New("truncated buffer")
	ErrBadDiscriminator = errors.New("bad discriminator")
	ErrInvalidEnumTag   = errors.New("invalid enum tag")

	// ErrFieldTooLong 编码前的本地校验，链上程序同样会拒绝
	ErrFieldTooLong = errors.New("field too long")
)

// DecodeError 描述解码失败的位置，Err 为上面三个哨兵错误之一
type DecodeError struct {
	Record string // 记录或指令名，如 "Proposal"
	Field  string // 出错字段
	Offset int    // 出错时的读取偏移
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s.%s at offset %d: %v", e.Record, e.Field, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError 判断 err 是否来自解码（任意一类）
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
