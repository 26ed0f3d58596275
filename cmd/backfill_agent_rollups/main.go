package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/copilot-adoption-backend/internal/app"
	"github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/envutil"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

// Re-runs the per-agent rollup for each report day in [from, to].
func main() {
	var from, to string
	var dryRun bool
	flag.StringVar(&from, "from", "", "first report date (yyyy-MM-dd)")
	flag.StringVar(&to, "to", "", "last report date (yyyy-MM-dd), defaults to -from")
	flag.BoolVar(&dryRun, "dry-run", false, "print the dates without rolling up")
	flag.Parse()

	start, err := usage.ParseDate(from)
	if err != nil {
		fmt.Printf("invalid -from: %v\n", err)
		os.Exit(2)
	}
	end := start
	if to != "" {
		if end, err = usage.ParseDate(to); err != nil {
			fmt.Printf("invalid -to: %v\n", err)
			os.Exit(2)
		}
	}
	if end.Before(start) {
		fmt.Println("-to is before -from")
		os.Exit(2)
	}

	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()
	application, err := app.New(ctx, log, app.ModeWorker)
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close(ctx)

	began := time.Now()
	days, agents := 0, 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := usage.FormatDate(d)
		if dryRun {
			fmt.Printf("would roll up %s\n", date)
			continue
		}
		n, err := application.Services.Engine.ProcessAgentUsageAggregations(ctx, date)
		if err != nil {
			fmt.Printf("rollup %s: %v\n", date, err)
			os.Exit(1)
		}
		days++
		agents += n
		fmt.Printf("rolled up %s agents=%d\n", date, n)
	}
	fmt.Printf("done days=%d agent_rows=%d elapsed=%s\n", days, agents, time.Since(began).Truncate(time.Millisecond))
}
