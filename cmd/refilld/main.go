// cmd/refilld is the Refill Supervisor process: one instance serves one
// nozzle for its lifetime, wiring the nozzle port, fleet directory,
// transaction store, health monitor, and stability filter into the
// supervisor reactor, then exposing it through the operator HTTP surface
// and the Prometheus/healthz endpoint. Grounded on the teacher's
// cmd/api_gateway/main.go: env-driven config, a background hub/hub-alike
// goroutine, a plain net/http.ServeMux, and signal-driven graceful
// shutdown.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/fleetops/refilld/config"
	"github.com/fleetops/refilld/internal/auth"
	"github.com/fleetops/refilld/internal/directory"
	"github.com/fleetops/refilld/internal/eventbus"
	"github.com/fleetops/refilld/internal/health"
	"github.com/fleetops/refilld/internal/logger"
	"github.com/fleetops/refilld/internal/metrics"
	"github.com/fleetops/refilld/internal/notify"
	"github.com/fleetops/refilld/internal/nozzleport"
	"github.com/fleetops/refilld/internal/operator"
	"github.com/fleetops/refilld/internal/stability"
	"github.com/fleetops/refilld/internal/supervisor"
	"github.com/fleetops/refilld/internal/txstore"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[refilld] starting...")

	cfg := config.Load()
	slogger := logger.Init("refilld", slog.LevelInfo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	healthStatus := metrics.NewHealthStatus()

	transport, err := nozzleport.OpenSerial(cfg.SerialPath, cfg.SerialBaud)
	if err != nil {
		log.Fatalf("[refilld] open serial %s: %v", cfg.SerialPath, err)
	}
	rawPort := nozzleport.NewPort(cfg.NozzleID, transport)
	port := metrics.Instrument(rawPort, m)
	healthStatus.SetNozzlePortConnected(true)

	dirClient, err := directory.New(ctx, directory.Config{
		BaseURL:   cfg.DirectoryURL,
		Username:  cfg.DirectoryUser,
		Password:  cfg.DirectoryPassword,
		RedisAddr: cfg.RedisAddr,
	})
	if err != nil {
		log.Fatalf("[refilld] fleet directory login: %v", err)
	}
	healthStatus.SetDirectoryReachable(true)

	store, err := txstore.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[refilld] open transaction store %s: %v", cfg.SQLitePath, err)
	}
	defer store.Close()
	healthStatus.SetStoreOK(true)

	monitor := health.New(2*cfg.NozzleHeartbeatBudget, cfg.NozzleHeartbeatBudget, cfg.AppCommBudgetActive)
	filter := stability.New(cfg.MeterStabilityN, cfg.MeterStabilityDuration)

	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		rdb = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slogger.Warn("refilld: redis unavailable, running without cross-replica fan-out", "err", err)
			rdb = nil
		}
	}

	bus := eventbus.New(rdb, slogger)
	go bus.Subscribe(ctx)

	notifier := buildNotifier(cfg)
	bridge := notify.NewFaultBridge(notifier, slogger)

	sink := eventbus.FanOut{bus, bridge, metrics.NewSink(m)}

	sv := supervisor.New(supervisor.Deps{
		Cfg:       cfg,
		Port:      port,
		Directory: dirClient,
		Store:     store,
		Monitor:   monitor,
		Filter:    filter,
		Sink:      sink,
		Log:       slogger,
	})
	go sv.Run(ctx)

	authr := auth.MD5Authenticator{SharedSecret: cfg.OperatorSharedSecret}
	tokens := auth.NewTokenStore()

	opSrv := operator.New(cfg, sv, port, bus, authr, tokens, slogger)
	opSrv.Start()

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, healthStatus)
	metricsSrv.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("[refilld] nozzle %s serving operator API on %s, metrics on %s", cfg.NozzleID, cfg.OperatorAddr, cfg.MetricsAddr)
	<-sigCh
	log.Println("[refilld] shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	opSrv.Stop(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	port.Close()
}

// buildNotifier picks an alerting backend from configuration, in order of
// preference: Telegram, generic webhook, then the process log. Nothing
// about the supervisor or notify.FaultBridge depends on which one wins.
func buildNotifier(cfg *config.Config) notify.Notifier {
	switch {
	case cfg.TelegramBotToken != "" && cfg.TelegramChatID != "":
		return notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	case cfg.WebhookURL != "":
		return notify.NewWebhookNotifier(cfg.WebhookURL)
	default:
		return notify.NewLogNotifier()
	}
}
