package sim

import (
	"sort"
)

// World — авторитетное состояние симуляции на одном тике.
// Сущности хранятся в слайсе, отсортированном по возрастанию ID:
// это единственный порядок итерации, от него зависит детерминизм.
// Вся мутация происходит только внутри Engine.Step над свежей копией;
// экземпляры, попавшие в историю, больше не изменяются.
type World struct {
	Tick      uint64
	Rand      uint64 // Состояние детерминированного ГСЧ (xorshift64*)
	ElapsedMs uint64 // Игровое время в миллисекундах
	NextID    uint64 // Следующий свободный ID сущности
	MapHash   uint64 // Контент-адрес карты, на которой идёт симуляция

	Entities []Entity // Отсортированы по возрастанию ID
}

// NewWorld создает мир с указанным сидом и картой
func NewWorld(seed uint64, mapHash uint64) *World {
	if seed == 0 {
		seed = 0x9E3779B97F4A7C15 // Нулевое состояние xorshift недопустимо
	}
	return &World{
		Rand:    seed,
		NextID:  1,
		MapHash: mapHash,
	}
}

// Clone возвращает глубокую копию мира
func (w *World) Clone() *World {
	out := *w
	out.Entities = append([]Entity(nil), w.Entities...)
	return &out
}

// Equal сравнивает миры структурно по всем полям
func (w *World) Equal(other *World) bool {
	if other == nil {
		return false
	}
	if w.Tick != other.Tick || w.Rand != other.Rand ||
		w.ElapsedMs != other.ElapsedMs || w.NextID != other.NextID ||
		w.MapHash != other.MapHash {
		return false
	}
	if len(w.Entities) != len(other.Entities) {
		return false
	}
	for i := range w.Entities {
		if w.Entities[i] != other.Entities[i] {
			return false
		}
	}
	return true
}

// Find возвращает индекс сущности по ID (бинарный поиск) либо -1
func (w *World) Find(id uint64) int {
	i := sort.Search(len(w.Entities), func(i int) bool {
		return w.Entities[i].ID >= id
	})
	if i < len(w.Entities) && w.Entities[i].ID == id {
		return i
	}
	return -1
}

// Get возвращает сущность по ID
func (w *World) Get(id uint64) (Entity, bool) {
	if i := w.Find(id); i >= 0 {
		return w.Entities[i], true
	}
	return Entity{}, false
}

// Insert добавляет сущность, сохраняя сортировку по ID
func (w *World) Insert(e Entity) {
	i := sort.Search(len(w.Entities), func(i int) bool {
		return w.Entities[i].ID >= e.ID
	})
	if i < len(w.Entities) && w.Entities[i].ID == e.ID {
		w.Entities[i] = e
		return
	}
	w.Entities = append(w.Entities, Entity{})
	copy(w.Entities[i+1:], w.Entities[i:])
	w.Entities[i] = e
}

// Remove удаляет сущность по ID; возвращает false, если её нет
func (w *World) Remove(id uint64) bool {
	i := w.Find(id)
	if i < 0 {
		return false
	}
	w.Entities = append(w.Entities[:i], w.Entities[i+1:]...)
	return true
}

// Spawn выделяет новый ID и вставляет сущность.
// Новые ID монотонно растут, поэтому вставка — всегда аппенд в конец.
func (w *World) Spawn(e Entity) uint64 {
	e.ID = w.NextID
	w.NextID++
	w.Entities = append(w.Entities, e)
	return e.ID
}

// nextRand продвигает состояние ГСЧ и возвращает очередное значение.
// Алгоритм xorshift64*: вся случайность симуляции идёт только отсюда,
// внешние источники энтропии запрещены.
func (w *World) nextRand() uint64 {
	x := w.Rand
	x ^= x >> 12
	x ^= x << 25
	x ^= x >> 27
	w.Rand = x
	return x * 0x2545F4914F6CDD1D
}

// RandIntn возвращает детерминированное число в диапазоне [0, n)
func (w *World) RandIntn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(w.nextRand() % uint64(n))
}
