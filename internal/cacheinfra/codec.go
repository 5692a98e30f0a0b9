package cacheinfra

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns cached values into the byte snapshots stored by both tiers.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// timeExtID is the msgpack timestamp extension type.
const timeExtID int8 = -1

// msgpack decodes timestamps into time.Local. Snapshots are decoded in UTC
// instead so a cached entity renders the same as one read from the store.
func init() {
	msgpack.RegisterExtDecoder(timeExtID, time.Time{}, decodeUTCTime)
}

func decodeUTCTime(d *msgpack.Decoder, v reflect.Value, extLen int) error {
	b := make([]byte, extLen)
	if err := d.ReadFull(b); err != nil {
		return err
	}

	var tm time.Time
	switch len(b) {
	case 4:
		tm = time.Unix(int64(binary.BigEndian.Uint32(b)), 0)
	case 8:
		sec := binary.BigEndian.Uint64(b)
		nsec := int64(sec >> 34)
		sec &= 0x00000003ffffffff
		tm = time.Unix(int64(sec), nsec)
	case 12:
		nsec := binary.BigEndian.Uint32(b)
		sec := binary.BigEndian.Uint64(b[4:])
		tm = time.Unix(int64(sec), int64(nsec))
	default:
		return fmt.Errorf("cache: invalid msgpack time length %d", extLen)
	}

	ptr := v.Addr().Interface().(*time.Time)
	*ptr = tm.UTC()
	return nil
}

type msgpackCodec struct{}

// MsgpackCodec returns the default snapshot codec.
func MsgpackCodec() Codec {
	return msgpackCodec{}
}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
