package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/annel0/arena-game/internal/netsync"
	"github.com/annel0/arena-game/internal/sim"
	"github.com/annel0/arena-game/internal/snapshot"
	"github.com/annel0/arena-game/internal/transport"
)

// Ручной клиент для проверки живого сервера: подключается по KCP,
// принимает стартовый снапшот, шлёт движение вправо и печатает
// принимаемые тики.
func main() {
	addr := flag.String("addr", "localhost:7777", "Адрес KCP сервера")
	seconds := flag.Int("t", 10, "Сколько секунд бегать")
	flag.Parse()

	fmt.Println("=== ТЕСТОВЫЙ КЛИЕНТ СИНХРОНИЗАЦИИ ===")

	ch, err := transport.DialKCP(*addr, 256)
	if err != nil {
		log.Fatalf("❌ Ошибка подключения: %v", err)
	}
	defer ch.Close()
	fmt.Printf("✅ Подключен к %s\n", *addr)

	codec, err := snapshot.NewCodec(true)
	if err != nil {
		log.Fatalf("❌ Кодек: %v", err)
	}

	// Движок nil: наблюдатель не предсказывает, сервер всегда впереди,
	// поэтому ветка повтора вводов недостижима
	consumer := netsync.NewConsumer(nil, codec, 128, ch, ch, nil)
	consumer.Start()
	defer consumer.Stop()

	fmt.Println("\n=== ПРИЁМ СНАПШОТОВ ===")

	deadline := time.Now().Add(time.Duration(*seconds) * time.Second)
	var lastReported uint64
	for time.Now().Before(deadline) {
		consumer.ApplyPending()

		w := consumer.Controller().CurrentWorld()
		if w != nil && w.Tick != lastReported {
			lastReported = w.Tick
			if ent := myCharacter(w); ent != nil {
				fmt.Printf("📥 tick %-8d сущностей=%d персонаж #%d pos=(%d,%d)\n",
					w.Tick, len(w.Entities), ent.ID, ent.Pos.X, ent.Pos.Y)
				// Бежим вправо следующий тик
				_ = consumer.SendInputs([]sim.Input{{Owner: ent.ID, Tick: w.Tick + 1, MoveX: 1}})
			} else {
				fmt.Printf("📥 tick %-8d сущностей=%d\n", w.Tick, len(w.Entities))
			}
		}
		time.Sleep(10 * time.Millisecond)
	}

	fmt.Printf("\n=== ЗАВЕРШЕНО: последний тик %d ===\n", consumer.LastApplied())
}

// myCharacter возвращает последнего персонажа в мире: при одном
// подключённом клиенте это наш собственный
func myCharacter(w *sim.World) *sim.Entity {
	for i := len(w.Entities) - 1; i >= 0; i-- {
		if w.Entities[i].Kind == sim.KindCharacter {
			return &w.Entities[i]
		}
	}
	return nil
}
