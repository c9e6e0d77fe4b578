package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/amr-mesh/internal/api"
	"github.com/annel0/amr-mesh/internal/config"
	"github.com/annel0/amr-mesh/internal/eventbus"
	"github.com/annel0/amr-mesh/internal/logging"
	"github.com/annel0/amr-mesh/internal/mesh"
	"github.com/annel0/amr-mesh/internal/observability"
	"github.com/annel0/amr-mesh/internal/simulation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config (or AMR_CONFIG)")
		cycles     = flag.Int("cycles", -1, "Override simulation.cycles (0 = run until stopped)")
		noAPI      = flag.Bool("no-api", false, "Do not start the admin REST API")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	if *cycles >= 0 {
		cfg.Simulation.Cycles = *cycles
	}

	// === ЛОГИРОВАНИЕ ===
	consoleLevel, err := logging.ParseLevel(cfg.Logging.ConsoleLevel)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	fileLevel, err := logging.ParseLevel(cfg.Logging.FileLevel)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	logging.Configure(logging.Options{Dir: cfg.Logging.Dir, ConsoleLevel: consoleLevel, FileLevel: fileLevel})
	if err := logging.InitDefaultLogger("amrd"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.Components().CloseAll()

	if err := run(cfg, !*noAPI); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("👋 amrd остановлен")
}

func run(cfg *config.Config, withAPI bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("🧊 Запуск amrd: rank=%d, delivery=%s, storage=%s", cfg.Mesh.Rank, cfg.Delivery.Mode, cfg.Storage.Backend)

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTelemetry := observability.NoopShutdown
	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, observability.Options{
			ServiceName: cfg.Telemetry.ServiceName,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
		})
		if err != nil {
			logging.Warn("⚠️ OpenTelemetry недоступен: %v", err)
		} else {
			shutdownTelemetry = shutdown
		}
	}
	defer shutdownTelemetry(context.Background())

	// === МЕТРИКИ ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// === ШИНА СОБЫТИЙ ===
	bus, err := simulation.OpenBus(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer bus.Close()

	if _, err := eventbus.StartLoggingListener(ctx, bus); err != nil {
		logging.Warn("⚠️ Не удалось подписать логгер событий: %v", err)
	}
	exporter := eventbus.NewMetricsExporter(bus, reg, time.Second)
	exporter.StartHTTP(fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()), reg)
	defer exporter.Stop()

	// === ХРАНИЛИЩЕ ===
	store, err := simulation.OpenStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	// === СЕТКА ===
	rt, err := simulation.NewRuntimeFromConfig(cfg, bus, mesh.NewMetrics(reg))
	if err != nil {
		return fmt.Errorf("mesh runtime: %w", err)
	}
	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("mesh start: %w", err)
	}
	defer rt.Close()

	driver := simulation.NewDriver(rt, store)

	// === ADMIN API ===
	var server *api.RestServer
	if withAPI {
		server = api.NewRestServer(api.Config{
			Port:     fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
			Driver:   driver,
			Registry: reg,
		})
		go func() {
			if err := server.Start(); err != nil {
				logging.Error("❌ Admin API: %v", err)
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				logging.Error("❌ Ошибка остановки admin API: %v", err)
			}
		}()
	}

	interval := time.Duration(cfg.Simulation.IntervalSeconds * float64(time.Second))
	err = driver.Run(ctx, cfg.Simulation.Cycles, interval)
	switch {
	case err == nil && withAPI && cfg.Simulation.Cycles > 0:
		// Циклы выполнены, но API продолжает обслуживать запросы до сигнала
		logging.Info("💤 Циклы выполнены, ожидание сигнала завершения...")
		<-ctx.Done()
		return nil
	case err == nil, ctx.Err() != nil:
		logging.Info("📡 Завершение работы...")
		return nil
	default:
		return err
	}
}
