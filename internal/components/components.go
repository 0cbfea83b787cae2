// Package components определяет реплицируемые компоненты игры и их
// регистрацию в движке синхронизации.
package components

import (
	"fmt"

	"github.com/annel0/voxelspace/internal/codec"
	"github.com/annel0/voxelspace/internal/entity"
	"github.com/annel0/voxelspace/internal/netmap"
	"github.com/annel0/voxelspace/internal/sync"
)

// Стабильные имена компонентов
const (
	TransformName = "voxelspace:transform"
	HealthName    = "voxelspace:health"
	PilotName     = "voxelspace:pilot"
	SettingsName  = "voxelspace:player_settings"
)

// Transform позиция и скорость тела.
// Parent != 0 — позиция относительна родительской сущности (например,
// игрок внутри корабля); такая ссылка требует перевода через netmap.
type Transform struct {
	Position [3]float64 `msgpack:"pos"`
	Velocity [3]float64 `msgpack:"vel"`
	Rotation [4]float64 `msgpack:"rot"`
	Parent   uint64     `msgpack:"parent,omitempty"`
}

// Health очки прочности сущности
type Health struct {
	Current int32 `msgpack:"cur"`
	Max     int32 `msgpack:"max"`
}

// Pilot ссылка на пилотируемую структуру
type Pilot struct {
	Piloting uint64 `msgpack:"piloting"`
}

// PlayerSettings настройки игрока, предлагаемые клиентом.
// Сервер валидирует и рассылает наблюдателям.
type PlayerSettings struct {
	RenderDistance int32  `msgpack:"render_distance"`
	Nickname       string `msgpack:"nick"`
}

func encodeAny(v interface{}) ([]byte, error) { return codec.EncodeRaw(v) }

func decodeInto[T any](data []byte) (interface{}, error) {
	var v T
	if err := codec.DecodeRaw(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// rewriteRef переводит один ID сущности через карту соответствия.
// Нулевой ID означает отсутствие ссылки и не переводится.
func rewriteRef(ref uint64, m *netmap.Mapping, side sync.RewriteSide) (uint64, error) {
	if ref == 0 {
		return 0, nil
	}
	var mapped entity.ID
	var ok bool
	if side == sync.ToClient {
		mapped, ok = m.ClientFromServer(entity.ID(ref))
	} else {
		mapped, ok = m.ServerFromClient(entity.ID(ref))
	}
	if !ok {
		return 0, fmt.Errorf("%w: сущность %d", sync.ErrMappingMiss, ref)
	}
	return uint64(mapped), nil
}

// RegisterAll регистрирует все реплицируемые компоненты игры.
// Вызывается при старте и сервера, и клиента; ошибка здесь фатальна.
func RegisterAll(r *sync.ComponentRegistry) error {
	if err := r.Register(sync.ComponentDescriptor{
		Name:          TransformName,
		Direction:     sync.ServerAuthoritative,
		Encode:        encodeAny,
		Decode:        decodeInto[Transform],
		HasEntityRefs: true,
		Rewrite: func(v interface{}, m *netmap.Mapping, side sync.RewriteSide) (interface{}, error) {
			tf := v.(*Transform)
			parent, err := rewriteRef(tf.Parent, m, side)
			if err != nil {
				return nil, err
			}
			out := *tf
			out.Parent = parent
			return &out, nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register(sync.ComponentDescriptor{
		Name:      HealthName,
		Direction: sync.ServerAuthoritative,
		Encode:    encodeAny,
		Decode:    decodeInto[Health],
	}); err != nil {
		return err
	}

	if err := r.Register(sync.ComponentDescriptor{
		Name:          PilotName,
		Direction:     sync.ServerAuthoritative,
		Encode:        encodeAny,
		Decode:        decodeInto[Pilot],
		HasEntityRefs: true,
		Rewrite: func(v interface{}, m *netmap.Mapping, side sync.RewriteSide) (interface{}, error) {
			p := v.(*Pilot)
			piloting, err := rewriteRef(p.Piloting, m, side)
			if err != nil {
				return nil, err
			}
			return &Pilot{Piloting: piloting}, nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register(sync.ComponentDescriptor{
		Name:      SettingsName,
		Direction: sync.BidirectionalFromClient,
		Encode:    encodeAny,
		Decode:    decodeInto[PlayerSettings],
		Validate: func(proposer entity.ID, v interface{}) error {
			s := v.(*PlayerSettings)
			if s.RenderDistance < 1 || s.RenderDistance > 32 {
				return fmt.Errorf("недопустимая дальность прорисовки: %d", s.RenderDistance)
			}
			if len(s.Nickname) > 32 {
				return fmt.Errorf("слишком длинный ник")
			}
			return nil
		},
	}); err != nil {
		return err
	}

	return nil
}
