// Package netmap реализует двустороннюю карту соответствия сущностей
// серверного и клиентского миров.
//
// На сервере карта создаётся на каждое подключение; на клиенте существует
// единственный экземпляр, так как у клиента ровно одно соединение.
// Используется только движками синхронизации — игровая логика напрямую
// с картой не работает.
package netmap

import "github.com/annel0/voxelspace/internal/entity"

// Mapping двусторонняя карта (серверная сущность <-> клиентская сущность).
// Обе выборки выполняются за O(1). Не потокобезопасна: все мутации идут
// с тикового горутина.
type Mapping struct {
	serverToClient map[entity.ID]entity.ID
	clientToServer map[entity.ID]entity.ID
}

// NewMapping создаёт пустую карту соответствия
func NewMapping() *Mapping {
	return &Mapping{
		serverToClient: make(map[entity.ID]entity.ID),
		clientToServer: make(map[entity.ID]entity.ID),
	}
}

// Add добавляет пару. Повторная вставка того же серверного ID полностью
// вытесняет прежнюю пару (last-write-wins).
func (m *Mapping) Add(serverEntity, clientEntity entity.ID) {
	if old, ok := m.serverToClient[serverEntity]; ok {
		delete(m.clientToServer, old)
	}
	if old, ok := m.clientToServer[clientEntity]; ok {
		delete(m.serverToClient, old)
	}
	m.serverToClient[serverEntity] = clientEntity
	m.clientToServer[clientEntity] = serverEntity
}

// ClientFromServer возвращает клиентскую сущность для серверной
func (m *Mapping) ClientFromServer(serverEntity entity.ID) (entity.ID, bool) {
	id, ok := m.serverToClient[serverEntity]
	return id, ok
}

// ServerFromClient возвращает серверную сущность для клиентской
func (m *Mapping) ServerFromClient(clientEntity entity.ID) (entity.ID, bool) {
	id, ok := m.clientToServer[clientEntity]
	return id, ok
}

// ContainsServer проверяет, известна ли серверная сущность
func (m *Mapping) ContainsServer(serverEntity entity.ID) bool {
	_, ok := m.serverToClient[serverEntity]
	return ok
}

// RemoveByServer удаляет пару по серверной сущности
func (m *Mapping) RemoveByServer(serverEntity entity.ID) {
	if clientEnt, ok := m.serverToClient[serverEntity]; ok {
		delete(m.serverToClient, serverEntity)
		delete(m.clientToServer, clientEnt)
	}
}

// RemoveByClient удаляет пару по клиентской сущности
func (m *Mapping) RemoveByClient(clientEntity entity.ID) {
	if serverEnt, ok := m.clientToServer[clientEntity]; ok {
		delete(m.clientToServer, clientEntity)
		delete(m.serverToClient, serverEnt)
	}
}

// Len возвращает количество пар
func (m *Mapping) Len() int { return len(m.serverToClient) }

// Clear удаляет все пары (используется при отключении)
func (m *Mapping) Clear() {
	m.serverToClient = make(map[entity.ID]entity.ID)
	m.clientToServer = make(map[entity.ID]entity.ID)
}
