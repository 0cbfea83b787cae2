package sync

import "github.com/annel0/voxelspace/internal/entity"

// SnapshotTracker отбрасывает устаревшие ненадёжные снапшоты.
// Пакеты ненадёжного канала могут приходить в произвольном порядке;
// снапшот с тиком старше последнего применённого для сущности
// игнорируется, поэтому итоговое состояние не зависит от порядка прихода.
type SnapshotTracker struct {
	lastTick map[entity.ID]uint64
}

// NewSnapshotTracker создаёт пустой трекер
func NewSnapshotTracker() *SnapshotTracker {
	return &SnapshotTracker{lastTick: make(map[entity.ID]uint64)}
}

// Accept возвращает true, если снапшот для сущности свежее последнего
// применённого, и запоминает его тик
func (t *SnapshotTracker) Accept(id entity.ID, tick uint64) bool {
	if last, ok := t.lastTick[id]; ok && tick <= last {
		return false
	}
	t.lastTick[id] = tick
	return true
}

// Forget сбрасывает учёт для сущности (при её удалении)
func (t *SnapshotTracker) Forget(id entity.ID) {
	delete(t.lastTick, id)
}
