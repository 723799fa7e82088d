package codec

import (
	"encoding/binary"

	"dao-voting-sol/internal/types"
)

// reader 只读游标，任何读取都先做边界检查，越界返回 ErrTruncatedBuffer 而不是 panic
type reader struct {
	buf    []byte
	off    int
	record string
}

func newReader(record string, buf []byte) *reader {
	return &reader{buf: buf, record: record}
}

func (r *reader) fail(field string, err error) error {
	return &DecodeError{Record: r.record, Field: field, Offset: r.off, Err: err}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) take(field string, n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, r.fail(field, ErrTruncatedBuffer)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) discriminator(want [8]byte) error {
	b, err := r.take("discriminator", 8)
	if err != nil {
		return err
	}
	if [8]byte(b) != want {
		r.off -= 8
		return r.fail("discriminator", ErrBadDiscriminator)
	}
	return nil
}

func (r *reader) u8(field string) (uint8, error) {
	b, err := r.take(field, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u32(field string) (uint32, error) {
	b, err := r.take(field, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64(field string) (uint64, error) {
	b, err := r.take(field, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) i64(field string) (int64, error) {
	v, err := r.u64(field)
	return int64(v), err
}

func (r *reader) pubkey(field string) (types.Pubkey, error) {
	b, err := r.take(field, 32)
	if err != nil {
		return types.Pubkey{}, err
	}
	return types.Pubkey(b), nil
}

// str 读取 u32 LE 长度前缀 + UTF-8 字节；长度先和剩余字节比较，避免按伪造长度分配内存
func (r *reader) str(field string) (string, error) {
	start := r.off
	n, err := r.u32(field)
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(r.remaining()) {
		r.off = start
		return "", r.fail(field, ErrTruncatedBuffer)
	}
	b, _ := r.take(field, int(n))
	return string(b), nil
}

// enumTag 读取 1 字节枚举 tag，valid 判定取值是否在声明范围内
func (r *reader) enumTag(field string, valid func(uint8) bool) (uint8, error) {
	tag, err := r.u8(field)
	if err != nil {
		return 0, err
	}
	if !valid(tag) {
		r.off--
		return 0, r.fail(field, ErrInvalidEnumTag)
	}
	return tag, nil
}
