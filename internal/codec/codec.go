// Package codec реализует сетевой кодек: компактная бинарная сериализация
// (msgpack) плюс zstd-сжатие всего кадра. Каждый кадр начинается с байта
// версии протокола; кадр с чужой версией отбрасывается на этапе декодирования.
package codec

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// ProtocolVersion версия сетевого протокола. Несовпадение версии —
// ошибка декодирования, а не разрыв соединения.
const ProtocolVersion byte = 1

// DecodeError возвращается при любой ошибке декодирования кадра.
// Соединение при этом не разрывается — кадр просто отбрасывается.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode error (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode error (%s)", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError проверяет, является ли ошибка ошибкой декодирования
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	// EncodeAll/DecodeAll на одном экземпляре потокобезопасны
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("codec: не удалось создать zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("codec: не удалось создать zstd decoder: %v", err))
	}
}

// Encode сериализует значение в msgpack и сжимает zstd.
// Результат: [версия u8][zstd-данные].
func Encode(v interface{}) ([]byte, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации: %w", err)
	}

	frame := make([]byte, 1, len(raw)/2+8)
	frame[0] = ProtocolVersion
	return encoder.EncodeAll(raw, frame), nil
}

// Decode распаковывает и десериализует кадр в out.
func Decode(data []byte, out interface{}) error {
	if len(data) < 1 {
		return &DecodeError{Reason: "empty frame"}
	}
	if data[0] != ProtocolVersion {
		return &DecodeError{Reason: fmt.Sprintf("protocol version mismatch: got %d, want %d", data[0], ProtocolVersion)}
	}

	raw, err := decoder.DecodeAll(data[1:], nil)
	if err != nil {
		return &DecodeError{Reason: "decompress", Err: err}
	}

	if err := msgpack.Unmarshal(raw, out); err != nil {
		return &DecodeError{Reason: "unmarshal", Err: err}
	}
	return nil
}

// EncodeRaw сериализует без сжатия и версии (для вложенных полезных нагрузок,
// которые затем попадают внутрь уже сжимаемого кадра).
func EncodeRaw(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// DecodeRaw десериализует данные, полученные через EncodeRaw.
func DecodeRaw(data []byte, out interface{}) error {
	if err := msgpack.Unmarshal(data, out); err != nil {
		return &DecodeError{Reason: "unmarshal", Err: err}
	}
	return nil
}
