// Демонстрация ядра синхронизации: две вкладки в одном процессе поверх
// внутрипроцессной шины и общего BoltDB-файла. Сценарии: оптимистичное
// создание с подтверждением, оптимистичное обновление с отказом сервера
// и откатом, серверный push с недопустимым переходом статуса заказа.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/clientkit/syncstore/internal/broadcast"
	"github.com/clientkit/syncstore/internal/events"
	"github.com/clientkit/syncstore/internal/models"
	"github.com/clientkit/syncstore/internal/mutation"
	"github.com/clientkit/syncstore/internal/resolver"
	"github.com/clientkit/syncstore/internal/rules"
	"github.com/clientkit/syncstore/internal/storage/boltdb"
	"github.com/clientkit/syncstore/internal/store"
	"github.com/clientkit/syncstore/internal/syncer"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	dbPath := flag.String("db", "", "Path to local database (default: temp file)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *showVersion {
		fmt.Printf("syncdemo %s (built %s)\n", Version, BuildDate)
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(context.Background(), *dbPath, logger); err != nil {
		logger.Error("demo failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dbPath string, logger *slog.Logger) error {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "syncdemo.db")
		defer os.Remove(dbPath)
	}

	kv, err := boltdb.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	bus := broadcast.NewBus()
	defer bus.Close()

	emitter := events.NewEmitter()
	emitter.Subscribe(events.StateSynced, func(ev events.Event) {
		logger.Info("event: state synced", "entity", ev.EntityName)
	})
	emitter.Subscribe(events.ConflictResolved, func(ev events.Event) {
		logger.Info("event: conflict resolved", "entity", ev.EntityName)
	})
	emitter.Subscribe(events.OptimisticRollback, func(ev events.Event) {
		logger.Warn("event: optimistic update rolled back", "entity", ev.EntityName)
	})
	emitter.Subscribe(events.Notification, func(ev events.Event) {
		logger.Info("event: notification", "payload", ev.Payload)
	})

	res := resolver.New(resolver.Config{
		FieldPriorities: map[string]int{
			rules.FieldOrderStatus: 80,
			"total":                60,
			"note":                 10,
		},
		Checks:         []resolver.Check{rules.OrderStatusCheck},
		FieldResolvers: map[string]resolver.FieldResolver{rules.FieldOrderStatus: rules.ResolveOrderStatus},
	}, logger)

	cfg := syncer.Config{
		EntityName:    "orders",
		SchemaVersion: 1,
		Strategy:      models.StrategyBusinessRules,
		Topics:        map[string]string{"orders": "orders-list"},
	}

	// Две «вкладки» делят шину; персистентность подключена к первой
	tabA, err := syncer.New(ctx, cfg, syncer.Deps{
		KV: kv, Channels: bus, Resolver: res, Emitter: emitter, Logger: logger,
	})
	if err != nil {
		return err
	}
	defer tabA.Close()

	tabB, err := syncer.New(ctx, cfg, syncer.Deps{
		Channels: bus, Resolver: res, Emitter: emitter, Logger: logger,
	})
	if err != nil {
		return err
	}
	defer tabB.Close()

	exec := mutation.New(res, emitter, logger)

	if err := optimisticCreate(ctx, exec, tabA); err != nil {
		return err
	}
	printTabs("after optimistic create", tabA, tabB, logger)

	if err := failingUpdate(ctx, exec, tabA); err != nil {
		return err
	}
	printTabs("after rejected update", tabA, tabB, logger)

	illegalTransitionPush(ctx, tabB, logger)
	printTabs("after illegal transition push", tabA, tabB, logger)

	return nil
}

// optimisticCreate создает заказ оптимистично; «сервер» подтверждает
// и назначает итоговую сумму.
func optimisticCreate(ctx context.Context, exec *mutation.Executor, tab *syncer.Coordinator) error {
	order := models.Entity{
		"id":        "o-1",
		"status":    rules.StatusPending,
		"total":     120,
		"version":   1,
		"updatedAt": time.Now().Format(time.RFC3339Nano),
	}

	result, err := exec.Execute(ctx, mutation.Request{
		Kind:       models.MutationCreate,
		EntityName: "orders",
		Data:       order,
		Snapshot:   func() any { return tab.Snapshot() },
		Apply:      func(d models.Entity) { _ = tab.ApplyLocal(d) },
		Remote: func(ctx context.Context, d models.Entity) (models.RemoteResponse, error) {
			confirmed := d.Clone()
			confirmed["total"] = 125 // сервер добавил доставку
			confirmed["version"] = 2
			return models.RemoteResponse{Success: true, Data: confirmed}, nil
		},
		Commit: func(confirmed models.Entity) {
			_, _ = tab.CommitConfirmed(ctx, confirmed)
		},
	}, mutation.Options{})
	if err != nil {
		return err
	}

	slog.Info("optimistic create finished",
		"success", result.Success,
		"mutation_id", result.MutationID)
	return nil
}

// failingUpdate обновляет заказ оптимистично, сервер отвечает отказом —
// состояние откатывается к снимку.
func failingUpdate(ctx context.Context, exec *mutation.Executor, tab *syncer.Coordinator) error {
	update := models.Entity{"id": "o-1", "note": "please deliver before noon"}

	result, err := exec.Execute(ctx, mutation.Request{
		Kind:       models.MutationUpdate,
		EntityName: "orders",
		Data:       update,
		Snapshot:   func() any { return tab.Snapshot() },
		Apply:      func(d models.Entity) { _ = tab.ApplyLocal(d) },
		Remote: func(ctx context.Context, d models.Entity) (models.RemoteResponse, error) {
			return models.RemoteResponse{Success: false, Message: "order already locked for delivery"}, nil
		},
		Rollback: func(snapshot any) {
			if state, ok := snapshot.(store.State[models.Entity]); ok {
				tab.Restore(state)
			}
		},
	}, mutation.Options{})
	if err != nil {
		return err
	}

	slog.Info("failing update finished",
		"success", result.Success,
		"error", result.Error)
	return nil
}

// illegalTransitionPush эмулирует серверный push, пытающийся вернуть
// завершенный заказ в ранний статус. Бизнес-правило удерживает статус.
func illegalTransitionPush(ctx context.Context, tab *syncer.Coordinator, logger *slog.Logger) {
	// Заказ уже отменен
	_, _ = tab.CommitConfirmed(ctx, models.Entity{
		"id": "o-2", "status": rules.StatusCancelled, "version": 3,
	})

	// Push хочет «подтвердить» отмененный заказ
	err := tab.HandlePush(ctx, syncer.OrderChanged{Entity: models.Entity{
		"id": "o-2", "status": rules.StatusConfirmed, "version": 4,
	}})
	if err != nil {
		logger.Warn("push rejected", "error", err)
	}
}

func printTabs(label string, tabA, tabB *syncer.Coordinator, logger *slog.Logger) {
	logger.Info("--- "+label+" ---",
		"tab_a", summarize(tabA.Entities()),
		"tab_b", summarize(tabB.Entities()))
}

func summarize(entities []models.Entity) string {
	out := ""
	for i, e := range entities {
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%s status=%v total=%v", e.ID(), e["status"], e["total"])
	}
	if out == "" {
		out = "(empty)"
	}
	return out
}
