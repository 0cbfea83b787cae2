// Package entity содержит минимальный мир сущностей с компонентами и
// пер-тиковым учётом изменений для движка репликации.
//
// Мир не потокобезопасен: все мутации выполняются на тиковом горутине.
package entity

import "sort"

// ID идентификатор сущности внутри одного мира.
// Серверные и клиентские ID независимы; перевод выполняет netmap.
type ID uint64

// DirtyEntry пара (сущность, компонент), изменённая с прошлого тика
type DirtyEntry struct {
	Entity    ID
	Component string
}

// World хранит сущности и их компоненты по стабильным строковым именам
type World struct {
	nextID    ID
	entities  map[ID]map[string]interface{}
	dirty     map[DirtyEntry]struct{}
	despawned []ID
}

// NewWorld создаёт пустой мир
func NewWorld() *World {
	return &World{
		nextID:   1,
		entities: make(map[ID]map[string]interface{}),
		dirty:    make(map[DirtyEntry]struct{}),
	}
}

// Spawn создаёт сущность и возвращает её ID
func (w *World) Spawn() ID {
	id := w.nextID
	w.nextID++
	w.entities[id] = make(map[string]interface{})
	return id
}

// Despawn удаляет сущность; факт удаления запоминается для репликации
func (w *World) Despawn(id ID) {
	if _, ok := w.entities[id]; !ok {
		return
	}
	delete(w.entities, id)
	w.despawned = append(w.despawned, id)
	for key := range w.dirty {
		if key.Entity == id {
			delete(w.dirty, key)
		}
	}
}

// Exists проверяет наличие сущности
func (w *World) Exists(id ID) bool {
	_, ok := w.entities[id]
	return ok
}

// SetComponent устанавливает компонент и помечает его изменённым
func (w *World) SetComponent(id ID, name string, value interface{}) {
	comps, ok := w.entities[id]
	if !ok {
		return
	}
	comps[name] = value
	w.dirty[DirtyEntry{Entity: id, Component: name}] = struct{}{}
}

// SetComponentQuiet устанавливает компонент без пометки об изменении.
// Используется приёмной стороной, чтобы полученное обновление не было
// тут же отправлено обратно.
func (w *World) SetComponentQuiet(id ID, name string, value interface{}) {
	if comps, ok := w.entities[id]; ok {
		comps[name] = value
	}
}

// Component возвращает компонент сущности
func (w *World) Component(id ID, name string) (interface{}, bool) {
	comps, ok := w.entities[id]
	if !ok {
		return nil, false
	}
	v, ok := comps[name]
	return v, ok
}

// RemoveComponent удаляет компонент сущности
func (w *World) RemoveComponent(id ID, name string) {
	if comps, ok := w.entities[id]; ok {
		delete(comps, name)
	}
}

// Components возвращает имена компонентов сущности в стабильном порядке
func (w *World) Components(id ID) []string {
	comps, ok := w.entities[id]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(comps))
	for name := range comps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entities возвращает все сущности в стабильном порядке
func (w *World) Entities() []ID {
	ids := make([]ID, 0, len(w.entities))
	for id := range w.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len возвращает количество сущностей
func (w *World) Len() int { return len(w.entities) }

// DrainDirty возвращает изменения с прошлого тика и очищает учёт
func (w *World) DrainDirty() []DirtyEntry {
	if len(w.dirty) == 0 {
		return nil
	}
	entries := make([]DirtyEntry, 0, len(w.dirty))
	for key := range w.dirty {
		entries = append(entries, key)
	}
	// стабильный порядок для воспроизводимости
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Entity != entries[j].Entity {
			return entries[i].Entity < entries[j].Entity
		}
		return entries[i].Component < entries[j].Component
	})
	w.dirty = make(map[DirtyEntry]struct{})
	return entries
}

// DrainDespawned возвращает удалённые с прошлого тика сущности
func (w *World) DrainDespawned() []ID {
	if len(w.despawned) == 0 {
		return nil
	}
	ids := w.despawned
	w.despawned = nil
	return ids
}
