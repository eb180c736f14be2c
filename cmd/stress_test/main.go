package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-ledger/internal/adapter/storage"
	"github.com/rl1809/inventory-ledger/internal/config"
	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/core/service"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional env file loaded before the process environment")
	initialStock := flag.Int("stock", 20, "units received before the run")
	quantity := flag.Int("quantity", 1, "units per reserve")
	totalRequests := flag.Int("requests", 50, "concurrent reserve requests")
	flag.Parse()

	if *quantity <= 0 || *initialStock <= 0 {
		log.Fatalf("stock and quantity must be positive")
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	store, err := storage.Open(ctx, cfg.DBDriver, cfg.DBDSN, storage.Options{MaxOpenConns: cfg.DBMaxOpenConns})
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	ledger := service.NewLedgerService(store, service.LedgerConfig{
		DefaultThreshold: cfg.LowStockDefaultThreshold,
		Retry: service.RetryConfig{
			MaxAttempts:    cfg.LedgerMaxAttempts,
			AttemptTimeout: cfg.LedgerOpTimeout,
		},
	}, zap.NewNop(), noop.NewTracerProvider().Tracer("stress"))

	// Fresh item per run so results never depend on earlier runs
	runID := uuid.NewString()[:8]
	balance, err := ledger.Receive(ctx, service.ReceiveInput{
		SKU:         "stress-" + runID,
		Quantity:    *initialStock,
		ReferenceID: "stress-receipt-" + runID,
	})
	if err != nil {
		log.Fatalf("failed to receive stock: %v", err)
	}

	// Counters
	var successCount, insufficientCount, errorCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			_, err := ledger.Reserve(ctx, balance.ItemID, *quantity, fmt.Sprintf("stress-%s-%d", runID, n))
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficientCount.Add(1)
			default:
				errorCount.Add(1)
				log.Printf("reserve %d: %v", n, err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	expected := *initialStock / *quantity
	if expected > *totalRequests {
		expected = *totalRequests
	}

	success := successCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Store:            %s\n", cfg.DBDriver)
	fmt.Printf("Item:             %s\n", balance.ItemID)
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Units / Reserve:  %d\n", *quantity)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Insufficient:     %d\n", insufficientCount.Load())
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false
	if int(success) == expected {
		fmt.Printf("PASS: exactly %d reserves succeeded\n", expected)
	} else {
		fmt.Printf("FAIL: expected %d successful reserves, got %d\n", expected, success)
		failed = true
	}

	item, err := ledger.GetItem(ctx, balance.ItemID)
	if err != nil {
		log.Fatalf("failed to read final balance: %v", err)
	}
	fmt.Printf("Final Balance:    on_hand=%d reserved=%d available=%d\n", item.OnHand, item.Reserved, item.Available())

	wantReserved := expected * *quantity
	if item.Reserved == wantReserved && item.Valid() {
		fmt.Println("PASS: reserved matches successful reserves")
	} else {
		fmt.Printf("FAIL: expected reserved %d, got %d\n", wantReserved, item.Reserved)
		failed = true
	}

	if failed {
		os.Exit(1)
	}
}
