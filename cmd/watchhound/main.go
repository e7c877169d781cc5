package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"watchhound/internal/bridge"
	"watchhound/internal/bus"
	"watchhound/internal/config"
	"watchhound/internal/events"
	"watchhound/internal/monitor"
	"watchhound/internal/notify"
	"watchhound/internal/status"
	"watchhound/internal/store"
)

const deliveryRetention = 7 * 24 * time.Hour

func main() {
	cfg := config.Load()

	b := bus.New(cfg.HistorySize)
	defer b.Close()
	defer bridge.Recover(b)

	// Persistence is best effort: a broken database disables the sink
	// store and the delivery audit, never the watchdog itself.
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Printf("store: disabled: %v", err)
		db = nil
	} else {
		defer db.Close()
		b.SetResultHook(func(e events.Event, notifier string, ok bool) {
			rec := store.DeliveryRecord{
				Notifier:  notifier,
				EventID:   e.ID,
				Category:  e.Category,
				Severity:  e.Severity.String(),
				Message:   e.Message,
				Delivered: ok,
			}
			if !ok && e.Err != nil {
				rec.ErrorMessage = e.Err.Error()
			}
			if _, err := store.RecordDelivery(db, &rec); err != nil {
				log.Printf("store: record delivery: %v", err)
			}
		})
	}

	registerSinks(b, db, cfg)

	// Elevated log records become events. slog users anywhere in the
	// process feed the bus through this handler.
	lb := bridge.NewLogBridge(b, events.SeverityError)
	lb.Start()
	defer lb.Stop()
	slog.SetDefault(slog.New(lb.Handler()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := status.NewHub()
	b.Register(status.NewFeedNotifier(hub, events.SeverityDebug))
	srv := status.NewServer(status.Config{Addr: cfg.StatusAddr, Password: cfg.AdminPass}, b, db, hub)
	srv.AddMonitor("feed", hub)

	if cfg.Container != "" {
		dm := monitor.NewDockerMonitor(monitor.DockerConfig{
			Container:     cfg.Container,
			SocketPath:    cfg.DockerSocket,
			LoopThreshold: cfg.LoopThreshold,
			LoopWindow:    cfg.LoopWindow,
		}, emitter(b, "docker", events.CategoryMonitor))
		srv.AddMonitor("docker", dm)
		bridge.Go(b, "docker-monitor", func() error { return dm.Run(ctx) })
	}

	if cfg.HealthURL != "" {
		hc := monitor.NewHealthChecker(monitor.HealthConfig{
			URL:       cfg.HealthURL,
			Interval:  cfg.HealthInterval,
			Timeout:   cfg.HealthTimeout,
			Threshold: cfg.HealthThreshold,
		}, emitter(b, "health", events.CategoryMonitor))
		srv.AddMonitor("health", hc)
		bridge.Go(b, "health-checker", func() error { return hc.Run(ctx) })
	}

	hm := monitor.NewHostMonitor(monitor.HostConfig{
		Interval: cfg.HostInterval,
		Thresholds: monitor.Thresholds{
			CPU:  cfg.CPUThreshold,
			RAM:  cfg.RAMThreshold,
			Disk: cfg.DiskThreshold,
		},
		Hysteresis: cfg.HostHysteresis,
		DiskPath:   cfg.DiskPath,
	}, emitter(b, "host", events.CategoryMonitor))
	srv.AddMonitor("host", hm)
	bridge.Go(b, "host-monitor", func() error { return hm.Run(ctx) })

	bridge.Go(b, "status-server", func() error { return srv.Run(ctx) })

	if cfg.NotifierFile != "" {
		watchSinkFile(ctx, b, cfg.NotifierFile)
	}

	bridge.Go(b, "status-report", func() error {
		return statusReport(ctx, b, srv)
	})
	if db != nil {
		bridge.Go(b, "delivery-prune", func() error {
			return pruneLoop(ctx, db)
		})
	}

	life := bridge.NewLifecycleEmitter(b)
	life.Startup()

	<-ctx.Done()
	lb.Stop()
	life.Shutdown("signal received")
}

// emitter adapts the bus to the monitor callback contract.
func emitter(b *bus.Bus, source, category string) monitor.EmitFunc {
	return func(sev events.Severity, message string, meta map[string]string) {
		b.Emit(events.New(sev, category, message).
			WithSource(source).
			WithMetadata(meta))
	}
}

// registerSinks wires every configured destination: the always-on file
// sink, env-configured telegram/webhook, the YAML sink file and the
// enabled rows from the sink store. A sink that fails to build is
// logged and skipped; the rest still come up.
func registerSinks(b *bus.Bus, db *sql.DB, cfg config.Config) {
	b.Register(notify.NewFile(notify.FileConfig{
		Dir:      cfg.LogDir,
		MaxBytes: cfg.LogMaxBytes,
		Backups:  cfg.LogBackups,
		Console:  true,
	}, notify.Options{Name: "file"}))

	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			BotToken: cfg.TelegramToken,
			ChatID:   cfg.TelegramChatID,
		}, notify.Options{Name: "telegram"})
		if err != nil {
			log.Printf("notify: telegram disabled: %v", err)
		} else {
			b.Register(tg)
		}
	}

	if cfg.WebhookURL != "" {
		wh, err := notify.NewWebhook(notify.WebhookConfig{
			URL:    cfg.WebhookURL,
			Format: cfg.WebhookFormat,
		}, notify.Options{Name: "webhook"})
		if err != nil {
			log.Printf("notify: webhook disabled: %v", err)
		} else {
			b.Register(wh)
		}
	}

	if cfg.NotifierFile != "" {
		nf, err := config.LoadNotifierFile(cfg.NotifierFile)
		if err != nil {
			log.Printf("notify: sink file skipped: %v", err)
		} else {
			registerSpecs(b, nf.Notifiers)
		}
	}

	if db != nil {
		rows, err := store.ListEnabledNotifiers(db)
		if err != nil {
			log.Printf("notify: stored sinks skipped: %v", err)
			return
		}
		for _, row := range rows {
			var settings map[string]string
			if err := json.Unmarshal([]byte(row.ConfigJSON), &settings); err != nil {
				log.Printf("notify: stored sink %q has bad config: %v", row.Name, err)
				continue
			}
			registerSpecs(b, []notify.Spec{{
				Name:        row.Name,
				Type:        row.SinkType,
				MinSeverity: row.MinSeverity,
				Settings:    settings,
			}})
		}
	}
}

func registerSpecs(b *bus.Bus, specs []notify.Spec) {
	for _, spec := range specs {
		n, err := notify.Build(spec)
		if err != nil {
			log.Printf("notify: sink %q skipped: %v", spec.Name, err)
			continue
		}
		b.Register(n)
	}
}

// watchSinkFile hot-reloads the YAML sink file. Sinks removed from the
// file are unregistered; a file that fails to parse leaves the current
// set untouched.
func watchSinkFile(ctx context.Context, b *bus.Bus, path string) {
	active := map[string]bool{}
	if nf, err := config.LoadNotifierFile(path); err == nil {
		for _, s := range nf.Notifiers {
			active[s.Name] = true
		}
	}

	bridge.Go(b, "sink-file-watch", func() error {
		return config.WatchNotifierFile(ctx, path, func(nf *config.NotifierFile) {
			next := map[string]bool{}
			for _, s := range nf.Notifiers {
				next[s.Name] = true
			}
			registerSpecs(b, nf.Notifiers)
			for name := range active {
				if !next[name] {
					b.Unregister(name)
				}
			}
			active = next
		})
	})
}

// statusReport emits an hourly digest so a silent day still produces a
// sign of life in the logs.
func statusReport(ctx context.Context, b *bus.Bus, srv *status.Server) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			bs := b.GetStatus()
			b.Emit(events.New(events.SeverityDebug, events.CategorySystem,
				fmt.Sprintf("status report: %d notifier(s), %d event(s) in history",
					len(bs.Notifiers), bs.HistoryLen)).
				WithSource("report").
				WithMetadata(srv.MonitorDigest()))
		}
	}
}

// pruneLoop trims old delivery records once a day.
func pruneLoop(ctx context.Context, db *sql.DB) error {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := store.PruneDeliveries(db, deliveryRetention)
			if err != nil {
				log.Printf("store: prune deliveries: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("store: pruned %d delivery record(s)", n)
			}
		}
	}
}
