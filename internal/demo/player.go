package demo

import (
	"errors"
	"fmt"
	"sort"

	"github.com/annel0/arena-game/internal/delta"
	"github.com/annel0/arena-game/internal/protocol"
	"github.com/annel0/arena-game/internal/sim"
	"github.com/annel0/arena-game/internal/snapshot"
)

// Player последовательно воспроизводит демо через тот же кодек и
// дельта-движок, что и живая сеть. Повреждённый или обрезанный
// источник останавливает воспроизведение на последнем целом тике
// с ErrTruncatedDemo — без паники.
type Player struct {
	store RecordStore
	codec *snapshot.Codec

	seq     uint64 // Следующая запись для чтения
	total   uint64
	current *sim.World

	// Индекс полных снапшотов для произвольного Seek
	fullSeqs  []uint64
	fullTicks []uint64
}

// NewPlayer открывает демо и строит индекс полных снапшотов
func NewPlayer(store RecordStore, codec *snapshot.Codec) (*Player, error) {
	total, err := store.Count()
	if err != nil {
		return nil, err
	}

	p := &Player{store: store, codec: codec, total: total}
	p.buildIndex()
	return p, nil
}

// buildIndex проходит по записям и запоминает позиции полных снапшотов.
// Повреждённый хвост не мешает воспроизведению целой части.
func (p *Player) buildIndex() {
	for seq := uint64(0); seq < p.total; seq++ {
		data, err := p.store.Read(seq)
		if err != nil {
			return
		}
		rec, err := protocol.DecodeRecord(data)
		if err != nil {
			return
		}
		if rec.Kind == protocol.KindFullSnapshot {
			p.fullSeqs = append(p.fullSeqs, seq)
			p.fullTicks = append(p.fullTicks, rec.Tick)
		}
	}
}

// CurrentWorld возвращает последний восстановленный мир
func (p *Player) CurrentWorld() *sim.World { return p.current }

// Next восстанавливает мир следующего записанного тика.
// Возвращает ErrEndOfDemo на trailer-записи и ErrTruncatedDemo,
// если источник кончился или испортился до trailer.
func (p *Player) Next() (*sim.World, error) {
	if p.seq >= p.total {
		return nil, fmt.Errorf("%w: нет trailer-записи", ErrTruncatedDemo)
	}

	data, err := p.store.Read(p.seq)
	if err != nil {
		return nil, err
	}

	rec, err := protocol.DecodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: запись %d: %v", ErrTruncatedDemo, p.seq, err)
	}
	p.seq++

	switch rec.Kind {
	case protocol.KindTrailer:
		return nil, ErrEndOfDemo

	case protocol.KindFullSnapshot:
		w, err := p.codec.Decode(&snapshot.Snapshot{Tick: rec.Tick, Data: rec.Payload})
		if err != nil {
			return nil, fmt.Errorf("%w: снапшот тика %d: %v", ErrTruncatedDemo, rec.Tick, err)
		}
		p.current = w
		return w, nil

	case protocol.KindDelta:
		if p.current == nil {
			return nil, fmt.Errorf("%w: дельта без базового снапшота", ErrTruncatedDemo)
		}
		d := &delta.Delta{BaseTick: rec.BaseTick, TargetTick: rec.Tick, Data: rec.Payload}
		w, err := delta.Apply(p.current, d)
		if err != nil {
			if errors.Is(err, delta.ErrBaseMismatch) {
				return nil, fmt.Errorf("%w: разрыв цепочки дельт на тике %d", ErrTruncatedDemo, rec.Tick)
			}
			return nil, fmt.Errorf("%w: дельта тика %d: %v", ErrTruncatedDemo, rec.Tick, err)
		}
		p.current = w
		return w, nil

	default:
		return nil, fmt.Errorf("%w: неожиданная запись типа %d", ErrTruncatedDemo, rec.Kind)
	}
}

// Seek перематывает на указанный тик: декодирование идёт вперёд от
// ближайшего предшествующего полного снапшота.
func (p *Player) Seek(tick uint64) (*sim.World, error) {
	if len(p.fullSeqs) == 0 {
		return nil, fmt.Errorf("%w: нет ни одного полного снапшота", ErrTruncatedDemo)
	}

	// Последний полный снапшот с тиком <= tick
	i := sort.Search(len(p.fullTicks), func(i int) bool {
		return p.fullTicks[i] > tick
	})
	if i == 0 {
		return nil, fmt.Errorf("demo: тик %d раньше первого снапшота %d", tick, p.fullTicks[0])
	}

	p.seq = p.fullSeqs[i-1]
	p.current = nil

	for {
		w, err := p.Next()
		if err != nil {
			return nil, err
		}
		if w.Tick == tick {
			return w, nil
		}
		if w.Tick > tick {
			return nil, fmt.Errorf("demo: тик %d не записан", tick)
		}
	}
}
