package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dnsperf-go/internal/config"
	"dnsperf-go/internal/dnstapexport"
	"dnsperf-go/internal/engine"
	"dnsperf-go/internal/input"
	"dnsperf-go/internal/logging"
	"dnsperf-go/internal/report"
	"dnsperf-go/internal/statsexport"
	"dnsperf-go/internal/statsserver"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "dnsperf:", err)
		return 2
	}

	log := logging.New(cfg.Engine.Verbose, os.Stderr)

	src, err := input.Load(cfg.InputFile)
	if err != nil {
		log.WithError(err).Error("load input file")
		return 2
	}

	var dnstapExp *dnstapexport.Exporter
	if cfg.DnstapSocket != "" {
		dnstapExp, err = dnstapexport.Dial(cfg.DnstapSocket, 4096, log)
		if err != nil {
			log.WithError(err).Warn("dnstap export disabled: dial failed")
			dnstapExp = nil
		} else {
			cfg.Engine.OnEvent = dnstapExp.OnEvent
			defer dnstapExp.Close()
		}
	}

	coord, err := engine.NewCoordinator(cfg.Engine, src, log)
	if err != nil {
		log.WithError(err).Error("build coordinator")
		return 2
	}

	var statsSrv *statsserver.Server
	if cfg.Listen != "" {
		statsSrv = statsserver.New(coord.RunID(), coord.StartTime(), coord.LiveSnapshot, log)
		go func() {
			if err := statsSrv.Listen(cfg.Listen); err != nil {
				log.WithError(err).Warn("stats server stopped")
			}
		}()
		defer statsSrv.Shutdown()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received interrupt, winding down")
		coord.Interrupt()
	}()

	report.PrintStarting(os.Stdout, report.Params{
		RunID:      coord.RunID(),
		ServerAddr: cfg.Engine.ServerAddr,
		Mode:       cfg.Engine.Mode.String(),
		NumThreads: coord.NumWorkers(),
		StartTime:  time.Now(),
	})

	total, samples := coord.Run()

	interrupted := total.NumInterrupted > 0
	p50, p95, p99, _ := engine.Percentiles(flattenAll(samples))

	report.PrintComplete(os.Stdout, report.Params{
		RunID:              coord.RunID(),
		ServerAddr:         cfg.Engine.ServerAddr,
		Mode:               cfg.Engine.Mode.String(),
		NumThreads:         coord.NumWorkers(),
		StartTime:          coord.StartTime(),
		EndTime:            coord.EndTime(),
		Interrupted:        interrupted,
		VerboseLatencyDump: cfg.Engine.Verbose,
	}, total, samples)

	if cfg.ClickHouseDSN != "" {
		qps := 0.0
		if d := coord.EndTime().Sub(coord.StartTime()).Seconds(); d > 0 {
			qps = float64(total.NumCompleted) / d
		}
		statsexport.Export(cfg.ClickHouseDSN, statsexport.Row{
			RunID:      coord.RunID(),
			ServerAddr: cfg.Engine.ServerAddr,
			StartTime:  coord.StartTime(),
			EndTime:    coord.EndTime(),
			NumThreads: coord.NumWorkers(),
			Totals:     total,
			P50:        p50,
			P95:        p95,
			P99:        p99,
			QPS:        qps,
		}, log)
	}

	return 0
}

func flattenAll(samples [][]uint64) []uint64 {
	n := 0
	for _, s := range samples {
		n += len(s)
	}
	out := make([]uint64, 0, n)
	for _, s := range samples {
		out = append(out, s...)
	}
	return out
}
