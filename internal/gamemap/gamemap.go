package gamemap

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/annel0/arena-game/internal/vec"
)

// TileType определяет тип тайла карты
type TileType uint8

const (
	TileAir   TileType = 0 // Пустота, проходимо
	TileSolid TileType = 1 // Стена, непроходимо
	TileSpawn TileType = 2 // Точка возрождения
)

// Map — неизменяемый дескриптор карты: статическая геометрия,
// точки возрождения и стартовая раскладка пикапов.
// Симуляция никогда не мутирует карту; все копии мира ссылаются
// на один и тот же экземпляр.
type Map struct {
	Width  int32
	Height int32
	tiles  []TileType

	spawns  []vec.Vec2 // Точки возрождения в фиксированной точке, порядок стабилен
	pickups []vec.Vec2 // Стартовые позиции пикапов

	hash uint64 // Контент-адрес карты (xxhash от сырых данных)
}

// Hash возвращает контент-адрес карты.
// Сервер и клиент сверяют его при рукопожатии: разные карты —
// фатальная ошибка до начала симуляции.
func (m *Map) Hash() uint64 { return m.hash }

// TileAt возвращает тайл по координатам (за пределами карты — стена)
func (m *Map) TileAt(x, y int32) TileType {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return TileSolid
	}
	return m.tiles[y*m.Width+x]
}

// IsSolid проверяет проходимость точки в мировых координатах
func (m *Map) IsSolid(p vec.Vec2) bool {
	tx, ty := p.ToTile()
	return m.TileAt(tx, ty) == TileSolid
}

// Spawns возвращает точки возрождения (слайс только для чтения)
func (m *Map) Spawns() []vec.Vec2 { return m.spawns }

// Pickups возвращает стартовые позиции пикапов
func (m *Map) Pickups() []vec.Vec2 { return m.pickups }

// Bounds возвращает границы карты в мировых координатах
func (m *Map) Bounds() (min, max vec.Vec2) {
	return vec.FromTiles(0, 0), vec.FromTiles(m.Width-1, m.Height-1)
}

// FromTiles строит карту из готовой сетки тайлов (используется тестами
// и загрузчиком внешних карт). Сетка копируется.
func FromTiles(width, height int32, tiles []TileType) (*Map, error) {
	if int(width)*int(height) != len(tiles) {
		return nil, fmt.Errorf("gamemap: размер сетки %d не соответствует %dx%d", len(tiles), width, height)
	}

	m := &Map{
		Width:  width,
		Height: height,
		tiles:  append([]TileType(nil), tiles...),
	}
	m.collectPoints()
	m.hash = m.computeHash()
	return m, nil
}

// collectPoints собирает точки возрождения и пикапов в стабильном
// порядке обхода (слева направо, сверху вниз)
func (m *Map) collectPoints() {
	for y := int32(0); y < m.Height; y++ {
		for x := int32(0); x < m.Width; x++ {
			switch m.tiles[y*m.Width+x] {
			case TileSpawn:
				m.spawns = append(m.spawns, vec.FromTiles(x, y))
			}
		}
	}
}

// computeHash считает xxhash по размерам, сетке тайлов и раскладке
// пикапов. Пикапы входят в контент-адрес: они задают стартовый мир,
// и карты с разной раскладкой обязаны различаться на рукопожатии.
func (m *Map) computeHash() uint64 {
	h := xxhash.New()

	var dims [8]byte
	binary.BigEndian.PutUint32(dims[0:4], uint32(m.Width))
	binary.BigEndian.PutUint32(dims[4:8], uint32(m.Height))
	_, _ = h.Write(dims[:])

	raw := make([]byte, len(m.tiles))
	for i, t := range m.tiles {
		raw[i] = byte(t)
	}
	_, _ = h.Write(raw)

	var pt [8]byte
	for _, p := range m.pickups {
		binary.BigEndian.PutUint32(pt[0:4], uint32(p.X))
		binary.BigEndian.PutUint32(pt[4:8], uint32(p.Y))
		_, _ = h.Write(pt[:])
	}

	return h.Sum64()
}
