package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-telemetry/internal/config"
	"github.com/ukydev/fleet-telemetry/internal/db"
	"github.com/ukydev/fleet-telemetry/internal/fanout"
	"github.com/ukydev/fleet-telemetry/internal/handlers"
	"github.com/ukydev/fleet-telemetry/internal/ingest"
	"github.com/ukydev/fleet-telemetry/internal/middleware"
	"github.com/ukydev/fleet-telemetry/internal/refdata"
	"github.com/ukydev/fleet-telemetry/internal/tracker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using environment")
	}
	cfg := config.Load()
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := db.Connect(ctx, cfg.MongoURI)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to MongoDB")
	}
	store := db.NewMongoStore(client, cfg.MongoDB)
	log.Info("connected to MongoDB")

	rm := db.NewResilienceManager(db.ClientDialer(client), db.ResilienceConfig{
		BaseDelay:      cfg.ReconnectBaseDelay,
		MaxAttempts:    cfg.ReconnectMaxAttempts,
		HealthInterval: cfg.HealthCheckInterval,
		OpTimeout:      5 * time.Second,
	})
	if err := rm.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start store monitor")
	}

	ref := refdata.NewProvider(store, cfg.RefreshInterval)
	if err := ref.Load(ctx); err != nil {
		log.WithError(err).Fatal("failed to load reference data")
	}
	log.WithField("vehicles", ref.Snapshot().VehicleCount()).Info("reference data loaded")
	ref.Run(ctx)
	go watchReference(ctx, store, ref, rm)

	fan := fanout.NewManager(cfg.SubscriberQueueSize)
	trk := tracker.New(store, rm, ref, fan)
	ingestor := ingest.New(trk, ref)

	var consumer *ingest.MQTTConsumer
	if cfg.MQTTBroker != "" {
		consumer = ingest.NewMQTTConsumer(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic, ingestor)
		if err := consumer.Start(); err != nil {
			log.WithError(err).Fatal("failed to start MQTT consumer")
		}
	}

	auth := middleware.NewAuth(cfg.JWTSecret)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/telemetry", handlers.NewTelemetryHandler(ingestor).Ingest)
	mux.HandleFunc("/ws/subscribe", handlers.NewSubscribeHandler(fan, auth).Subscribe)
	mux.HandleFunc("/api/status", handlers.NewStatusHandler(rm, trk, ingestor, fan).Status)

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: mux}
	go func() {
		log.WithField("port", cfg.HTTPPort).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-rm.Terminal():
		log.WithError(err).Error("store connection lost for good, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if consumer != nil {
		consumer.Stop()
	}
	srv.Shutdown(shutdownCtx)
	fan.Close()
	ref.Close()
	rm.Stop(shutdownCtx)
	client.Disconnect(shutdownCtx)
	log.Info("shutdown complete")
}

// watchReference tails the configuration collections' change stream and
// nudges the provider when vehicles or geofences change. Change streams
// need a replica set, so failing to open one degrades to interval polling.
func watchReference(ctx context.Context, store *db.MongoStore, ref *refdata.Provider, rm *db.ResilienceManager) {
	for {
		stream, err := store.WatchReference(ctx)
		if err != nil {
			log.WithError(err).Info("change stream unavailable, relying on periodic refresh")
			return
		}
		for stream.Next(ctx) {
			ref.Notify()
		}
		streamErr := stream.Err()
		stream.Close(ctx)
		if ctx.Err() != nil {
			return
		}
		if streamErr != nil {
			log.WithError(streamErr).Warn("reference change stream interrupted, reopening")
			rm.ReportFailure(streamErr)
			time.Sleep(5 * time.Second)
		}
	}
}
