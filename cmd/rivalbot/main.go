package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rivalbot/internal/app"
	"rivalbot/internal/config"
	"rivalbot/internal/storage"
	logx "rivalbot/pkg/logx"
)

var version = "dev"

func main() {
	var (
		cfgPath      string
		once         bool
		simulateGoal bool
		history      int
		check        bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.BoolVar(&once, "once", false, "take the baseline, run one cycle and exit")
	flag.BoolVar(&simulateGoal, "simulate-goal", false, "rewind every baseline by one so the first cycle notifies")
	flag.IntVar(&history, "history", 0, "print the N most recent audited deliveries and exit")
	flag.BoolVar(&check, "check", false, "verify config, the stats API, the composer and the actor command, then exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if check {
		os.Exit(runCheck(ctx, cfgPath))
	}

	a, err := app.NewApp(cfgPath, app.Options{Version: version, Once: once, SimulateGoal: simulateGoal})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if history > 0 {
		os.Exit(printHistory(ctx, a, history))
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}

	reason := app.StopSignal
	if once {
		rep := a.RunCycle(ctx)
		fmt.Printf("cycle: checked=%d skipped=%d increased=%d delivered=%d failed=%d took=%s\n",
			rep.Checked, rep.Skipped, rep.Increased, rep.Delivered, rep.Failed, rep.Duration.Round(time.Millisecond))
		reason = app.StopOnceDone
	} else {
		select {
		case <-ctx.Done():
		case <-a.Done():
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func printHistory(ctx context.Context, a *app.App, n int) int {
	defer a.Stop(context.Background(), app.StopUnknown)
	recs, err := a.RecentDeliveries(ctx, n)
	if errors.Is(err, storage.ErrDisabled) {
		fmt.Fprintln(os.Stderr, "storage is disabled; set storage.driver to file or sqlite")
		return 1
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "history:", err)
		return 1
	}
	for _, r := range recs {
		status := "ok"
		if !r.OK {
			status = "failed:" + r.Reason
		}
		fmt.Printf("%s  %-20s  %-8s  %6d  -> %-18s  %s\n",
			r.At.Local().Format(time.DateTime), r.Entity, r.Kind, r.Count, r.Recipient, status)
	}
	return 0
}

func runCheck(ctx context.Context, cfgPath string) int {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		fmt.Printf("[FAIL] config: %v\n", err)
		return 1
	}
	fmt.Printf("[ ok ] config: %s\n", cfgPath)

	code := 0
	for _, r := range app.Check(ctx, cfg, logx.NewConsoleTo(os.Stderr, "warn")) {
		mark := "[ ok ]"
		if !r.OK {
			mark = "[FAIL]"
			code = 1
		}
		fmt.Printf("%s %s: %s\n", mark, r.Name, r.Detail)
	}
	return code
}
