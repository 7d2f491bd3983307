package gamemap

import (
	"github.com/aquilax/go-perlin"

	"github.com/annel0/arena-game/internal/vec"
)

// Константы генерации ландшафта
const (
	noiseScale = 0.08 // Масштаб шума высот
	solidStart = 0.62 // Выше — стена
	spawnEvery = 11   // Каждая N-я свободная клетка-кандидат становится спавном
	pickupStep = 17   // Шаг размещения пикапов по свободным клеткам
)

// Generator детерминированно генерирует карту из сида.
// Один и тот же сид всегда даёт байт-идентичную карту (и одинаковый
// контент-адрес) на сервере и на всех клиентах.
type Generator struct {
	Seed   int64
	Width  int32
	Height int32
}

// NewGenerator создаёт генератор карты
func NewGenerator(seed int64, width, height int32) *Generator {
	return &Generator{Seed: seed, Width: width, Height: height}
}

// Generate строит карту: рамка из стен, ландшафт из шума Перлина,
// спавны и пикапы на свободных клетках в стабильном порядке обхода.
func (g *Generator) Generate() *Map {
	noise := perlin.NewPerlin(2.0, 2.0, 3, g.Seed)

	tiles := make([]TileType, int(g.Width)*int(g.Height))
	free := make([]int32, 0, len(tiles))

	for y := int32(0); y < g.Height; y++ {
		for x := int32(0); x < g.Width; x++ {
			idx := y*g.Width + x

			// Рамка по периметру всегда стена
			if x == 0 || y == 0 || x == g.Width-1 || y == g.Height-1 {
				tiles[idx] = TileSolid
				continue
			}

			v := (noise.Noise2D(float64(x)*noiseScale, float64(y)*noiseScale) + 1.0) / 2.0
			if v > solidStart {
				tiles[idx] = TileSolid
			} else {
				tiles[idx] = TileAir
				free = append(free, idx)
			}
		}
	}

	// Спавны раскладываются по свободным клеткам с фиксированным шагом
	for i := 0; i < len(free); i += spawnEvery * pickupStep {
		tiles[free[i]] = TileSpawn
	}
	// Как минимум один спавн обязан существовать
	if len(free) > 0 {
		hasSpawn := false
		for _, idx := range free {
			if tiles[idx] == TileSpawn {
				hasSpawn = true
				break
			}
		}
		if !hasSpawn {
			tiles[free[0]] = TileSpawn
		}
	}

	m, _ := FromTiles(g.Width, g.Height, tiles)

	// Пикапы: каждая pickupStep-я свободная клетка, не являющаяся спавном
	for i := pickupStep; i < len(free); i += pickupStep {
		idx := free[i]
		if tiles[idx] != TileAir {
			continue
		}
		x := idx % g.Width
		y := idx / g.Width
		m.pickups = append(m.pickups, vec.FromTiles(x, y))
	}
	// Раскладка пикапов — часть контент-адреса, пересчёт после размещения
	m.hash = m.computeHash()

	return m
}
