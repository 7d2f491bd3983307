package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/arena-game/internal/config"
	"github.com/annel0/arena-game/internal/demo"
	"github.com/annel0/arena-game/internal/eventbus"
	"github.com/annel0/arena-game/internal/gamemap"
	"github.com/annel0/arena-game/internal/logging"
	"github.com/annel0/arena-game/internal/netsync"
	"github.com/annel0/arena-game/internal/observability"
	"github.com/annel0/arena-game/internal/sim"
	"github.com/annel0/arena-game/internal/snapshot"
	"github.com/annel0/arena-game/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "Путь к YAML конфигурации (или ENV ARENA_CONFIG)")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🎮 Запуск Arena Game Server...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка чтения конфигурации: %v", err)
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
		logging.Info("Конфигурация не задана, используются значения по умолчанию")
	}

	seed := cfg.Sim.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	width, height := cfg.Sim.MapWidth, cfg.Sim.MapHeight
	if width <= 0 {
		width = 64
	}
	if height <= 0 {
		height = 64
	}
	tickRate := cfg.Sim.TickRateOrDefault()

	logging.Info("📡 Конфигурация: KCP=%d, UDP=%d, метрики=%d, тикрейт=%d Гц",
		cfg.Server.GetKCPPort(), cfg.Server.GetUDPPort(), cfg.Server.GetMetricsPort(), tickRate)

	// === МИР И ДВИЖОК ===
	gameMap := gamemap.NewGenerator(int64(seed), width, height).Generate()
	logging.Info("🗺️  Карта %dx%d сгенерирована, хэш %016x (сид %d)", width, height, gameMap.Hash(), seed)

	engine := sim.NewEngine(gameMap, sim.DefaultParams())
	world := engine.InitialWorld(seed)

	codec, err := snapshot.NewCodec(cfg.Sync.UseZstd)
	if err != nil {
		log.Fatalf("❌ Ошибка создания кодека снапшотов: %v", err)
	}

	// === МЕТРИКИ ===
	metrics := observability.NewMetrics(nil)
	go func() {
		if err := observability.ServeHTTP(cfg.Server.GetMetricsPort()); err != nil {
			logging.Error("❌ Сервер метрик остановлен: %v", err)
		}
	}()

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if cfg.Bus.URL != "" {
		stream := cfg.Bus.Stream
		if stream == "" {
			stream = "ARENA"
		}
		retention := time.Duration(cfg.Bus.RetentionHours) * time.Hour
		js, err := eventbus.NewJetStreamBus(cfg.Bus.URL, stream, retention)
		if err != nil {
			logging.Error("❌ JetStream недоступен (%v), используется in-memory шина", err)
			bus = eventbus.NewMemoryBus(1024)
		} else {
			logging.Info("✅ Шина событий: JetStream %s, стрим %s", cfg.Bus.URL, stream)
			bus = js
		}
	} else {
		bus = eventbus.NewMemoryBus(1024)
	}
	defer bus.Close()

	// === ЗАПИСЬ ДЕМО ===
	var recorder *demo.Recorder
	if cfg.Demo.Enabled {
		dataDir := cfg.Demo.DataDir
		if dataDir == "" {
			dataDir = "data/demos"
		}
		store, err := demo.NewBadgerStore(dataDir)
		if err != nil {
			logging.Error("❌ Хранилище демо не открылось: %v", err)
			log.Fatalf("❌ Хранилище демо не открылось: %v", err)
		}
		defer store.Close()

		recorder = demo.NewRecorder(store, codec, cfg.Sync.FullIntervalOrDefault(), 256)
		logging.Info("🎥 Запись демо включена: %s", dataDir)
	}

	// === СИНХРОНИЗАЦИЯ ===
	producer := netsync.NewProducer(engine, codec, world, netsync.ProducerConfig{
		FullInterval:  cfg.Sync.FullIntervalOrDefault(),
		HistoryWindow: cfg.Sync.HistoryWindowOrDefault(),
		Bus:           bus,
		Recorder:      recorder,
		Metrics:       metrics,
	})

	// === ПРИЁМ СОЕДИНЕНИЙ ===
	listener, err := transport.ListenKCP(listenAddr(cfg.Server.GetKCPPort()), 256)
	if err != nil {
		logging.Error("❌ KCP-сокет не открылся: %v", err)
		log.Fatalf("❌ KCP-сокет не открылся: %v", err)
	}
	defer listener.Close()

	go acceptLoop(listener, producer)

	// === ИГРОВОЙ ЦИКЛ ===
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(time.Second / time.Duration(tickRate))
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				producer.TickOnce()
			case <-stopCh:
				return
			}
		}
	}()

	logging.Info("✅ Сервер запущен и принимает соединения")

	// Ждем сигнала для завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	close(stopCh)
	<-doneCh
	producer.Stop()
	if recorder != nil {
		recorder.Stop()
		logging.Info("🎥 Демо записано: %d записей, %d потеряно", recorder.Written(), recorder.Dropped())
	}

	logging.Info("👋 Сервер остановлен на тике %d", producer.World().Tick)
}

// acceptLoop подключает входящие сессии к продюсеру. KCP-сессия
// используется и для надёжного, и для ненадёжного потока: дельты
// малы, а выделенный UDP-канал клиент может открыть отдельно.
func acceptLoop(listener *transport.KCPListener, producer *netsync.Producer) {
	for {
		ch, err := listener.Accept()
		if err != nil {
			logging.Debug("приём соединений завершён: %v", err)
			return
		}
		if _, err := producer.AddClient(ch, ch); err != nil {
			logging.Error("❌ Клиент не подключён: %v", err)
			_ = ch.Close()
		}
	}
}

func listenAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
