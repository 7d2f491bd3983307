// Package demo записывает поток авторитетных снапшотов/дельт в
// хранилище и воспроизводит его детерминированно, минуя живую сеть.
package demo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

var (
	// ErrTruncatedDemo — источник воспроизведения кончился неожиданно
	ErrTruncatedDemo = errors.New("demo: запись обрезана")
	// ErrRecordingIO — хранилище отвергло запись
	ErrRecordingIO = errors.New("demo: ошибка записи в хранилище")
	// ErrEndOfDemo — достигнут чистый конец демо (trailer)
	ErrEndOfDemo = errors.New("demo: конец записи")
)

// RecordStore — коллаборатор хранения: упорядоченные непрозрачные
// байтовые записи. Пути файлов и ротация — не забота этого пакета.
type RecordStore interface {
	Append(data []byte) error
	Count() (uint64, error)
	Read(seq uint64) ([]byte, error)
	Close() error
}

//================ BadgerDB implementation =================//

// BadgerStore хранит записи демо в BadgerDB: ключ — порядковый номер
type BadgerStore struct {
	db   *badger.DB
	mu   sync.Mutex
	next uint64
}

// NewBadgerStore открывает (или создает) хранилище демо в dataDir
func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Join(dataDir, "demo"))
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("demo: не удалось открыть BadgerDB: %w", err)
	}

	bs := &BadgerStore{db: db}
	if err := bs.initCounter(); err != nil {
		db.Close()
		return nil, err
	}
	return bs, nil
}

func recordKey(seq uint64) []byte {
	key := make([]byte, 3+8)
	copy(key, "rec")
	binary.BigEndian.PutUint64(key[3:], seq)
	return key
}

// initCounter находит следующий свободный порядковый номер
func (bs *BadgerStore) initCounter() error {
	return bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Ключи с BE-номером сортируются по порядку записи
		seek := recordKey(^uint64(0))
		for it.Seek(seek); it.ValidForPrefix([]byte("rec")); it.Next() {
			key := it.Item().Key()
			bs.next = binary.BigEndian.Uint64(key[3:]) + 1
			return nil
		}
		return nil
	})
}

// Append дописывает запись в конец
func (bs *BadgerStore) Append(data []byte) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	err := bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(bs.next), data)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecordingIO, err)
	}
	bs.next++
	return nil
}

// Count возвращает количество записей
func (bs *BadgerStore) Count() (uint64, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.next, nil
}

// Read возвращает запись по порядковому номеру
func (bs *BadgerStore) Read(seq uint64) ([]byte, error) {
	var out []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(seq))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: записи %d нет", ErrTruncatedDemo, seq)
	}
	if err != nil {
		return nil, fmt.Errorf("demo: чтение записи %d: %w", seq, err)
	}
	return out, nil
}

// Close закрывает хранилище
func (bs *BadgerStore) Close() error {
	return bs.db.Close()
}

//================ In-memory implementation =================//

// MemoryStore — хранилище в памяти для тестов и коротких сессий
type MemoryStore struct {
	mu      sync.RWMutex
	records [][]byte
	failAt  int // Для тестов: Append с этим номером падает (-1 — никогда)
}

// NewMemoryStore создает пустое хранилище в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{failAt: -1}
}

// FailAppendAt заставляет Append с порядковым номером seq вернуть ошибку
func (ms *MemoryStore) FailAppendAt(seq int) { ms.failAt = seq }

// Append дописывает запись
func (ms *MemoryStore) Append(data []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.failAt >= 0 && len(ms.records) == ms.failAt {
		return fmt.Errorf("%w: отказ хранилища", ErrRecordingIO)
	}
	ms.records = append(ms.records, append([]byte(nil), data...))
	return nil
}

// Count возвращает количество записей
func (ms *MemoryStore) Count() (uint64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return uint64(len(ms.records)), nil
}

// Read возвращает запись по номеру
func (ms *MemoryStore) Read(seq uint64) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if seq >= uint64(len(ms.records)) {
		return nil, fmt.Errorf("%w: записи %d нет", ErrTruncatedDemo, seq)
	}
	return ms.records[seq], nil
}

// Close ничего не делает
func (ms *MemoryStore) Close() error { return nil }

// Truncate обрезает хранилище до n записей (для тестов обрыва)
func (ms *MemoryStore) Truncate(n int) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if n < len(ms.records) {
		ms.records = ms.records[:n]
	}
}
