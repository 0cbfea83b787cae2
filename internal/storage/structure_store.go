// Package storage реализует персистентное хранилище воксельных структур
// на BadgerDB. Структуры сохраняются образами целиком: дельта-хранение
// здесь не нужно, образ пишется на границе тика и читается при старте.
package storage

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/voxelspace/internal/codec"
	"github.com/annel0/voxelspace/internal/entity"
	"github.com/annel0/voxelspace/internal/logging"
	"github.com/annel0/voxelspace/internal/structure"
)

// ErrNotFound структура отсутствует в хранилище
var ErrNotFound = errors.New("структура не найдена")

const structurePrefix = "structure:"

// StructureStore хранилище структур
type StructureStore struct {
	db *badger.DB
}

// Open открывает хранилище в каталоге dataPath
func Open(dataPath string) (*StructureStore, error) {
	opts := badger.DefaultOptions(filepath.Join(dataPath, "structures"))
	opts.Logger = nil // BadgerDB пишет в свой логгер, отключаем

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	logging.Info("🪵 Хранилище структур открыто: %s", dataPath)
	return &StructureStore{db: db}, nil
}

func structureKey(id entity.ID) []byte {
	return []byte(fmt.Sprintf("%s%d", structurePrefix, id))
}

// Save сохраняет образ структуры
func (s *StructureStore) Save(st *structure.Structure) error {
	data, err := codec.EncodeRaw(st.Image())
	if err != nil {
		return fmt.Errorf("ошибка сериализации структуры %d: %w", st.Entity, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(structureKey(st.Entity), data)
	})
}

// Load читает структуру по сущности
func (s *StructureStore) Load(id entity.ID) (*structure.Structure, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(structureKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения структуры %d: %w", id, err)
	}

	var img structure.Image
	if err := codec.DecodeRaw(data, &img); err != nil {
		return nil, fmt.Errorf("повреждённый образ структуры %d: %w", id, err)
	}
	return structure.FromImage(&img), nil
}

// Delete удаляет структуру из хранилища
func (s *StructureStore) Delete(id entity.ID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(structureKey(id))
	})
}

// LoadAll читает все сохранённые структуры
func (s *StructureStore) LoadAll() ([]*structure.Structure, error) {
	var result []*structure.Structure
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(structurePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var img structure.Image
			if err := codec.DecodeRaw(data, &img); err != nil {
				logging.Warn("⚠️ Пропущен повреждённый образ %s: %v", it.Item().Key(), err)
				continue
			}
			result = append(result, structure.FromImage(&img))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close закрывает хранилище
func (s *StructureStore) Close() error {
	return s.db.Close()
}
