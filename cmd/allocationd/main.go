// Package main runs the water allocation daemon: telemetry ingest, the
// decision pipeline, the approval workflow and the REST API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AquaGrid-Network/allocation_layer/internal/app"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/config"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/httpapi"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/ingest"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/ledger"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/ledger/evm"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/ledger/fabric"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/notify"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/storage/postgres"
	"github.com/AquaGrid-Network/allocation_layer/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("allocationd").WithError(err).Fatal("load configuration")
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}).WithComponent("allocationd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		pg, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			log.WithError(err).Fatal("connect to postgres")
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			log.WithError(err).Fatal("ensure schema")
		}
		stores = app.Stores{Allocations: pg, TopUps: pg, Farmers: pg}
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_DSN not set; using in-memory storage")
	}

	gateway, err := buildGateway(cfg.Ledger, log)
	if err != nil {
		log.WithError(err).Fatal("configure ledger gateway")
	}

	var publisher notify.Publisher
	if cfg.MQTT.BrokerURL != "" {
		mq, err := notify.NewMQTT(notify.MQTTConfig{
			BrokerURL: cfg.MQTT.BrokerURL,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			Timeout:   cfg.MQTT.Timeout,
		}, log)
		if err != nil {
			log.WithError(err).Fatal("connect notification broker")
		}
		defer mq.Close()
		publisher = mq
	} else {
		log.Warn("MQTT_BROKER_URL not set; notifications stay in memory")
	}

	application, err := app.New(stores, app.Deps{
		Gateway:   gateway,
		Publisher: publisher,
		Inference: cfg.Inference,
		Approver:  cfg.Auth.Approver,
	}, []byte(cfg.Auth.JWTSecret), log)
	if err != nil {
		log.WithError(err).Fatal("build application")
	}

	if cfg.MQTT.BrokerURL != "" {
		ingestSvc := ingest.New(ingest.Config{
			BrokerURL:   cfg.MQTT.BrokerURL,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			Timeout:     cfg.MQTT.Timeout,
			MinInterval: cfg.MQTT.MinInterval,
		}, application.Decisions, log)
		if err := application.Attach(ingestSvc); err != nil {
			log.WithError(err).Fatal("attach telemetry ingest")
		}
	}

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      httpapi.NewHandler(application.Approvals, application.Decisions, application.Farmers),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
}

func buildGateway(cfg config.LedgerConfig, log *logger.Logger) (ledger.Gateway, error) {
	switch cfg.Backend {
	case "evm":
		return evm.New(evm.Config{
			RPCURL:          cfg.EVM.RPCURL,
			ContractAddress: cfg.EVM.ContractAddress,
			PrivateKeyHex:   cfg.EVM.PrivateKeyHex,
			ChainID:         cfg.EVM.ChainID,
			Timeout:         cfg.Timeout,
		}, log)
	default:
		return fabric.New(fabric.Config{
			PeerEndpoint:  cfg.Fabric.PeerEndpoint,
			GatewayPeer:   cfg.Fabric.GatewayPeer,
			MSPID:         cfg.Fabric.MSPID,
			ChannelName:   cfg.Fabric.ChannelName,
			ChaincodeName: cfg.Fabric.ChaincodeName,
			CertPath:      cfg.Fabric.CertPath,
			KeyPath:       cfg.Fabric.KeyPath,
			TLSCertPath:   cfg.Fabric.TLSCertPath,
			Timeout:       cfg.Timeout,
		}, log)
	}
}
