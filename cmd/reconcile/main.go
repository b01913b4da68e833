package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mercavio/retail_backend/config"
	"bitbucket.org/mercavio/retail_backend/workflow"
)

// One-shot reconciliation run. Intended for cron; the server exposes the same
// checks at /internal/ops/reconcile for an admin trigger.
func main() {
	timeoutMin := flag.Int("timeout-minutes", 10, "Abort the run after this many minutes")
	failOnMismatch := flag.Bool("fail-on-mismatch", false, "Exit non-zero when any mismatch is found")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutMin)*time.Minute)
	defer cancel()

	mismatches, err := workflow.RunReconciliationChecks(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconciliation failed: %v\n", err)
		os.Exit(1)
	}

	for _, m := range mismatches {
		fmt.Printf("%s entity=%d expected=%s actual=%s %s\n",
			m.Area, m.EntityId, m.Expected, m.Actual, m.Detail)
	}
	fmt.Printf("done: %d mismatch(es)\n", len(mismatches))
	if *failOnMismatch && len(mismatches) > 0 {
		os.Exit(2)
	}
}
