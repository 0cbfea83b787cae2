// Package lod реализует потоковую передачу LOD-дельт структур клиентам.
//
// Сериализованные дельты предвычисляются на сервере и кэшируются на пару
// (структура, наблюдатель). Быстрые последовательные изменения структуры
// схлопываются: на пару существует не более одной отложенной регенерации,
// и готовая дельта отражает только итоговое состояние. Это единственный
// явный механизм backpressure в системе.
package lod

import (
	"github.com/annel0/voxelspace/internal/codec"
	"github.com/annel0/voxelspace/internal/entity"
	"github.com/annel0/voxelspace/internal/logging"
	"github.com/annel0/voxelspace/internal/protocol"
	"github.com/annel0/voxelspace/internal/structure"
)

// MaxScale максимальный масштаб LOD (блоков на ячейку)
const MaxScale = 64

// StreamKey пара (структура, наблюдатель)
type StreamKey struct {
	Structure entity.ID
	Player    entity.ID
}

type entry struct {
	scale    int
	lastSent *structure.Lod
	dirty    bool
}

// Send готовая к отправке дельта для одного наблюдателя
type Send struct {
	Player  entity.ID
	Message protocol.LodDelta
}

// Streamer серверный стример LOD-дельт.
// Не потокобезопасен: все вызовы идут с тикового горутина.
type Streamer struct {
	entries map[StreamKey]*entry
	// scaleDistance — дистанция, удваивающая требуемый масштаб
	scaleDistance float64
}

// NewStreamer создаёт стример. scaleDistance <= 0 означает дефолт 256.
func NewStreamer(scaleDistance float64) *Streamer {
	if scaleDistance <= 0 {
		scaleDistance = 256
	}
	return &Streamer{
		entries:       make(map[StreamKey]*entry),
		scaleDistance: scaleDistance,
	}
}

// RequiredScale возвращает масштаб LOD для дистанции наблюдателя
func (s *Streamer) RequiredScale(distance float64) int {
	scale := 1
	for distance >= s.scaleDistance && scale < MaxScale {
		scale *= 2
		distance /= 2
	}
	return scale
}

// Observe регистрирует или обновляет наблюдение. Изменение требуемого
// масштаба помечает запись на регенерацию.
func (s *Streamer) Observe(player, structID entity.ID, distance float64) {
	key := StreamKey{Structure: structID, Player: player}
	scale := s.RequiredScale(distance)

	e, ok := s.entries[key]
	if !ok {
		s.entries[key] = &entry{scale: scale, dirty: true}
		return
	}
	if e.scale != scale {
		e.scale = scale
		e.dirty = true
	}
}

// StopObserving удаляет наблюдение одной структуры
func (s *Streamer) StopObserving(player, structID entity.ID) {
	delete(s.entries, StreamKey{Structure: structID, Player: player})
}

// RemovePlayer удаляет все записи наблюдателя (вызывается при отключении)
func (s *Streamer) RemovePlayer(player entity.ID) {
	for key := range s.entries {
		if key.Player == player {
			delete(s.entries, key)
		}
	}
}

// RemoveStructure удаляет все записи структуры
func (s *Streamer) RemoveStructure(structID entity.ID) {
	for key := range s.entries {
		if key.Structure == structID {
			delete(s.entries, key)
		}
	}
}

// Invalidate помечает все записи структуры на регенерацию.
// Повторные вызовы до регенерации схлопываются в одну.
func (s *Streamer) Invalidate(structID entity.ID) {
	for key, e := range s.entries {
		if key.Structure == structID {
			e.dirty = true
		}
	}
}

// Regenerate перестраивает дельты помеченных записей и возвращает их.
// lookup отдаёт структуру по сущности; nil означает, что структура
// исчезла и запись удаляется.
func (s *Streamer) Regenerate(lookup func(entity.ID) *structure.Structure) []Send {
	var sends []Send

	// Кэш построенных деревьев на тик: наблюдатели с одинаковым
	// масштабом одной структуры не пересчитывают дерево повторно
	type genKey struct {
		structID entity.ID
		scale    int
	}
	generated := make(map[genKey]*structure.Lod)

	for key, e := range s.entries {
		if !e.dirty {
			continue
		}

		st := lookup(key.Structure)
		if st == nil {
			delete(s.entries, key)
			continue
		}

		gk := genKey{structID: key.Structure, scale: e.scale}
		lod, ok := generated[gk]
		if !ok {
			lod = structure.Generate(st, e.scale)
			generated[gk] = lod
		}

		delta := structure.Diff(e.lastSent, lod)
		e.lastSent = lod
		e.dirty = false

		if delta.IsNoChange() {
			continue
		}

		serialized, err := codec.EncodeRaw(delta)
		if err != nil {
			logging.Warn("⚠️ Ошибка сериализации LOD-дельты структуры %d: %v", key.Structure, err)
			continue
		}

		sends = append(sends, Send{
			Player: key.Player,
			Message: protocol.LodDelta{
				Structure:  uint64(key.Structure),
				Serialized: serialized,
			},
		})
	}
	return sends
}

// Len возвращает количество записей наблюдения
func (s *Streamer) Len() int { return len(s.entries) }

// PlayerEntries возвращает количество записей наблюдателя
func (s *Streamer) PlayerEntries(player entity.ID) int {
	n := 0
	for key := range s.entries {
		if key.Player == player {
			n++
		}
	}
	return n
}
