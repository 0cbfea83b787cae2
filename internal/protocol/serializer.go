package protocol

import (
	"fmt"

	"github.com/annel0/voxelspace/internal/codec"
)

// Marshal упаковывает нагрузку в конверт Message и кодирует кадр целиком
func Marshal(msgType MsgType, payload interface{}) ([]byte, error) {
	payloadData, err := codec.EncodeRaw(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации полезной нагрузки: %w", err)
	}

	frame, err := codec.Encode(&Message{
		Type:    msgType,
		Payload: payloadData,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации сообщения: %w", err)
	}
	return frame, nil
}

// Unmarshal декодирует кадр в конверт Message
func Unmarshal(data []byte) (*Message, error) {
	msg := &Message{}
	if err := codec.Decode(data, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// UnmarshalPayload десериализует нагрузку конверта в указанный тип
func UnmarshalPayload(msg *Message, out interface{}) error {
	return codec.DecodeRaw(msg.Payload, out)
}
