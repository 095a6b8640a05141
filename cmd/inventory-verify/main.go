package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/models"
	"github.com/gempos/jewels_backend/workflow"
)

func main() {
	organizationID := flag.String("organization-id", "", "Optional: verify a single organization (uuid). Defaults to all active organizations.")
	repair := flag.Bool("repair", false, "Rewrite drifted counters from the ledger/sale history instead of only reporting")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing organizations and continue verifying others")
	daemon := flag.Bool("daemon", false, "Run the periodic reconciliation loop instead of a one-shot pass")
	interval := flag.Duration("interval", time.Hour, "Cycle interval for -daemon")
	flag.Parse()

	if *daemon && strings.TrimSpace(*organizationID) != "" {
		fmt.Fprintln(os.Stderr, "cannot combine -daemon with -organization-id")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	reconciler := workflow.NewReconciler(db, logger)
	reconciler.Repair = *repair

	if *daemon {
		// The loop takes the single-runner lock each cycle, so extra
		// replicas just wait their turn.
		config.ConnectRedisWithRetry()
		reconciler.Interval = *interval

		sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stopSignals()

		fmt.Printf("reconciliation daemon started interval=%s repair=%v\n", interval.String(), *repair)
		reconciler.Run(sigCtx)
		fmt.Println("reconciliation daemon stopped")
		return
	}

	var organizationIds []string
	if strings.TrimSpace(*organizationID) != "" {
		organizationIds = []string{strings.TrimSpace(*organizationID)}
	} else {
		err := db.Model(&models.Organization{}).
			Where("is_active = ?", true).
			Order("created_at ASC").
			Pluck("id", &organizationIds).Error
		if err != nil {
			fmt.Fprintf(os.Stderr, "discover organizations: %v\n", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	totalDrift := 0
	totalRepaired := 0
	for _, organizationId := range organizationIds {
		fmt.Printf("Verifying organization=%s repair=%v\n", organizationId, *repair)
		summary, err := reconciler.ReconcileOrganization(ctx, organizationId)
		if err != nil {
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "verify failed (skipping): %v\n", err)
				continue
			}
			fmt.Fprintf(os.Stderr, "verify failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("  products=%d product_drift=%d customers=%d customer_drift=%d repaired=%d correlation_id=%s\n",
			summary.ProductsChecked, summary.ProductDrift,
			summary.CustomersChecked, summary.CustomerDrift,
			summary.Repaired, summary.CorrelationId)
		totalDrift += summary.ProductDrift + summary.CustomerDrift
		totalRepaired += summary.Repaired
	}

	if totalDrift > 0 && totalRepaired < totalDrift {
		fmt.Printf("inventory verify complete: %d drifted values, %d repaired\n", totalDrift, totalRepaired)
		os.Exit(3)
	}
	fmt.Println("inventory verify complete")
}
