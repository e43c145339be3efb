// Command marginloopd runs the margin-management daemon: the
// risk-and-collateral control loop that keeps a derivatives account's
// isolated positions behaving like a cross-margined one.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/marginloopd/internal/alerts"
	"github.com/aristath/marginloopd/internal/config"
	"github.com/aristath/marginloopd/internal/exchange/restclient"
	"github.com/aristath/marginloopd/internal/exchange/wsstream"
	"github.com/aristath/marginloopd/internal/history/sqlitesink"
	"github.com/aristath/marginloopd/internal/margin/controller"
	"github.com/aristath/marginloopd/internal/margin/events"
	"github.com/aristath/marginloopd/internal/margin/liquidation"
	"github.com/aristath/marginloopd/internal/margin/rebalance"
	"github.com/aristath/marginloopd/internal/margin/risk"
	"github.com/aristath/marginloopd/internal/margin/scheduler"
	"github.com/aristath/marginloopd/internal/statusserver"
	"github.com/aristath/marginloopd/pkg/logger"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to configuration file")
	dryRun := flag.Bool("dry-run", false, "force all liquidation to dry-run regardless of config")
	flag.Parse()

	log := logger.New(logger.Config{Level: "info", Pretty: true})
	log.Info().Msg("starting marginloopd")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *dryRun {
		cfg.Liquidation.DryRun = true
	}
	log = logger.New(logger.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})

	history, err := sqlitesink.Open(cfg.History.DatabasePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open history database")
	}
	defer history.Close()

	exchange := restclient.New(restclient.Config{
		BaseURL:   cfg.Exchange.BaseURL,
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}, cfg.Exchange.SymbolMap, log)

	stream := wsstream.New(wsstream.Config{URL: cfg.Exchange.StreamURL}, log)

	alertChannel := alerts.New(log)
	exchange.SetAlerter(alertChannel)
	stream.SetAlerter(alertChannel)

	riskEst := risk.New(risk.Config{
		LookbackDays:  cfg.Risk.LookbackDays,
		Timeframe:     cfg.Risk.Timeframe,
		NormalRefresh: cfg.NormalRefresh(),
		SpikeRefresh:  cfg.SpikeRefresh(),
		Overrides:     cfg.Risk.Overrides,
	}, exchange, log)

	rebalancer := rebalance.New(exchange, exchange, history, log)

	liquidationCfg := liquidation.Config{
		Enabled:              cfg.Liquidation.Enabled,
		DryRun:               cfg.Liquidation.DryRun,
		MaxSingleClosePct:    decimal.NewFromFloat(cfg.Liquidation.MaxSingleClosePct),
		CooldownSeconds:      cfg.Liquidation.CooldownSeconds,
		SafetyMultiplier:     decimal.NewFromFloat(cfg.Liquidation.SafetyMarginMultiplier),
		MaintenanceMarginPct: decimal.NewFromFloat(cfg.Liquidation.MaintenanceMarginPct),
		Priority:             cfg.Liquidation.Priority,
	}
	liquidator := liquidation.New(liquidationCfg, exchange, exchange, history, liquidation.NewClock(), log)

	detector := events.New(events.Config{
		EmergencyMarginRate:      decimal.NewFromFloat(cfg.Rebalance.EmergencyMarginRatePct),
		AccountMarginRateWarning: decimal.NewFromFloat(cfg.Event.AccountMarginRateWarningPct),
		PriceSpikePct:            decimal.NewFromFloat(cfg.Event.PriceSpikePct),
	}, riskEst, log)

	ctrl := controller.New(
		controller.Config{
			Thresholds: rebalance.Thresholds{
				MinAdjustment: decimal.NewFromFloat(cfg.Rebalance.MinAdjustmentUSDT),
				MinDeviation:  decimal.NewFromFloat(cfg.Rebalance.MinDeviationPct),
			},
			EmergencyRate: decimal.NewFromFloat(cfg.Rebalance.EmergencyMarginRatePct),
		},
		exchange, stream, history,
		riskEst, rebalancer, liquidator, detector,
		alertChannel, log,
	)

	stream.OnPrice(func(symbol string, price decimal.Decimal) {
		if signal := detector.CheckPrice(symbol, price); signal != nil {
			ctrl.HandleEmergency(context.Background(), *signal)
		}
	})

	streamCtx, stopStream := context.WithCancel(context.Background())
	go stream.Run(streamCtx)
	defer stopStream()

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	tickSchedule := "@every " + time.Duration(cfg.Tick.PollIntervalSeconds*int(time.Second)).String()
	if err := sched.AddJob(tickSchedule, ctrl); err != nil {
		log.Fatal().Err(err).Msg("failed to register tick job")
	}

	healthJob := scheduler.NewHealthCheckJob(log, history, ctrl, time.Hour)
	if err := sched.AddJob("@every 1h", healthJob); err != nil {
		log.Fatal().Err(err).Msg("failed to register health-check job")
	}

	statusSrv := statusserver.New(statusserver.Config{
		Port:    cfg.Server.Port,
		DevMode: cfg.Server.DevMode,
		Log:     log,
	})
	go func() {
		if err := statusSrv.Start(); err != nil {
			log.Error().Err(err).Msg("status server stopped")
		}
	}()
	go reportStatus(ctrl, statusSrv)

	log.Info().Int("port", cfg.Server.Port).Msg("marginloopd started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := statusSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("status server forced to shutdown")
	}
	log.Info().Msg("marginloopd stopped")
}

// reportStatus periodically mirrors the controller's last-tick
// summary into the status server.
func reportStatus(ctrl *controller.Controller, srv *statusserver.Server) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		st := ctrl.LastStatus()
		srv.UpdateStatus(statusserver.Status{
			LastTickAt:       st.LastTickAt,
			HighRiskSymbols:  st.HighRiskSymbols,
			LastRebalanceOK:  st.SuccessCount,
			LastRebalanceErr: st.FailCount,
		})
	}
}
