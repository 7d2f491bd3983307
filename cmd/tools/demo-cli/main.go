package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/annel0/arena-game/internal/demo"
	"github.com/annel0/arena-game/internal/protocol"
	"github.com/annel0/arena-game/internal/sim"
	"github.com/annel0/arena-game/internal/snapshot"
)

func main() {
	var (
		dataDir = flag.String("dir", "data/demos", "Каталог хранилища демо")
		command = flag.String("cmd", "info", "Command: info, dump, replay, seek, verify")
		tick    = flag.Uint64("tick", 0, "Целевой тик для seek")
		limit   = flag.Int("limit", 0, "Максимум строк вывода (0 — без ограничения)")
	)
	flag.Parse()

	store, err := demo.NewBadgerStore(*dataDir)
	if err != nil {
		log.Fatalf("❌ Хранилище демо не открылось: %v", err)
	}
	defer store.Close()

	codec, err := snapshot.NewCodec(true)
	if err != nil {
		log.Fatalf("❌ Кодек не создался: %v", err)
	}

	switch *command {
	case "info":
		err = showInfo(store)
	case "dump":
		err = dumpRecords(store, *limit)
	case "replay":
		err = replayDemo(store, codec, *limit)
	case "seek":
		err = seekDemo(store, codec, *tick)
	case "verify":
		err = verifyDemo(store, codec)
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: info, dump, replay, seek, verify")
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}
}

// showInfo выводит сводку по записи: диапазон тиков и состав записей
func showInfo(store demo.RecordStore) error {
	total, err := store.Count()
	if err != nil {
		return err
	}
	fmt.Printf("📼 Записей в демо: %d\n", total)
	if total == 0 {
		return nil
	}

	var fulls, deltas, trailers uint64
	var firstTick, lastTick uint64
	for seq := uint64(0); seq < total; seq++ {
		data, err := store.Read(seq)
		if err != nil {
			return err
		}
		rec, err := protocol.DecodeRecord(data)
		if err != nil {
			fmt.Printf("⚠️  Запись %d повреждена: %v\n", seq, err)
			break
		}
		if seq == 0 {
			firstTick = rec.Tick
		}
		switch rec.Kind {
		case protocol.KindFullSnapshot:
			fulls++
			lastTick = rec.Tick
		case protocol.KindDelta:
			deltas++
			lastTick = rec.Tick
		case protocol.KindTrailer:
			trailers++
		}
	}

	fmt.Printf("Тики: %d - %d\n", firstTick, lastTick)
	fmt.Printf("Полных снапшотов: %d\n", fulls)
	fmt.Printf("Дельт: %d\n", deltas)
	if trailers == 0 {
		fmt.Println("⚠️  Трейлер отсутствует: запись оборвана")
	}
	return nil
}

// dumpRecords выводит записи по одной, без декодирования миров
func dumpRecords(store demo.RecordStore, limit int) error {
	total, err := store.Count()
	if err != nil {
		return err
	}
	for seq := uint64(0); seq < total; seq++ {
		if limit > 0 && seq >= uint64(limit) {
			break
		}
		data, err := store.Read(seq)
		if err != nil {
			return err
		}
		rec, err := protocol.DecodeRecord(data)
		if err != nil {
			fmt.Printf("[%6d] повреждена: %v\n", seq, err)
			break
		}
		switch rec.Kind {
		case protocol.KindFullSnapshot:
			fmt.Printf("[%6d] tick %-8d FULL   %6d байт\n", seq, rec.Tick, len(rec.Payload))
		case protocol.KindDelta:
			fmt.Printf("[%6d] tick %-8d DELTA  base %-8d %6d байт\n", seq, rec.Tick, rec.BaseTick, len(rec.Payload))
		case protocol.KindTrailer:
			fmt.Printf("[%6d] tick %-8d TRAILER\n", seq, rec.Tick)
		default:
			fmt.Printf("[%6d] tick %-8d kind=%d\n", seq, rec.Tick, rec.Kind)
		}
	}
	return nil
}

// replayDemo проигрывает демо от начала до конца
func replayDemo(store demo.RecordStore, codec *snapshot.Codec, limit int) error {
	player, err := demo.NewPlayer(store, codec)
	if err != nil {
		return err
	}

	count := 0
	for {
		world, err := player.Next()
		if errors.Is(err, demo.ErrEndOfDemo) {
			fmt.Printf("\n📊 Проиграно миров: %d\n", count)
			return nil
		}
		if err != nil {
			return err
		}
		printWorld(world)
		count++
		if limit > 0 && count >= limit {
			fmt.Printf("\n📊 Проиграно миров: %d (лимит)\n", count)
			return nil
		}
	}
}

// seekDemo перематывает к тику и печатает состояние мира
func seekDemo(store demo.RecordStore, codec *snapshot.Codec, tick uint64) error {
	player, err := demo.NewPlayer(store, codec)
	if err != nil {
		return err
	}

	world, err := player.Seek(tick)
	if err != nil {
		return err
	}

	fmt.Printf("🎯 Мир на тике %d (запрошен %d)\n", world.Tick, tick)
	printWorld(world)
	for i := range world.Entities {
		e := &world.Entities[i]
		fmt.Printf("  #%-6d kind=%d pos=(%d,%d) hp=%d flags=%02x\n",
			e.ID, e.Kind, e.Pos.X, e.Pos.Y, e.Health, e.Flags)
	}
	return nil
}

// verifyDemo прогоняет демо целиком и сообщает, воспроизводится ли оно
func verifyDemo(store demo.RecordStore, codec *snapshot.Codec) error {
	player, err := demo.NewPlayer(store, codec)
	if err != nil {
		return err
	}

	count := 0
	for {
		_, err := player.Next()
		if errors.Is(err, demo.ErrEndOfDemo) {
			fmt.Printf("✅ Демо целое: %d миров воспроизведено\n", count)
			return nil
		}
		if errors.Is(err, demo.ErrTruncatedDemo) {
			fmt.Printf("⚠️  Демо оборвано после %d миров\n", count)
			return nil
		}
		if err != nil {
			return err
		}
		count++
	}
}

func printWorld(w *sim.World) {
	alive := 0
	for i := range w.Entities {
		if w.Entities[i].Flags&sim.FlagDead == 0 {
			alive++
		}
	}
	fmt.Printf("[tick %8d] сущностей=%d живых=%d rand=%016x\n",
		w.Tick, len(w.Entities), alive, w.Rand)
}
