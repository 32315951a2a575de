// Package service wires the pipeline together and runs it: datastore,
// cascade, deterrent loop, scheduler, MQTT publishing and the control API.
package service

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkarjala/foewatch-go/internal/api"
	"github.com/mkarjala/foewatch-go/internal/cascade"
	"github.com/mkarjala/foewatch-go/internal/conf"
	"github.com/mkarjala/foewatch-go/internal/datastore"
	"github.com/mkarjala/foewatch-go/internal/deterrent"
	"github.com/mkarjala/foewatch-go/internal/diagnostics"
	"github.com/mkarjala/foewatch-go/internal/errors"
	"github.com/mkarjala/foewatch-go/internal/frame"
	"github.com/mkarjala/foewatch-go/internal/logging"
	"github.com/mkarjala/foewatch-go/internal/mqtt"
	"github.com/mkarjala/foewatch-go/internal/observability"
	"github.com/mkarjala/foewatch-go/internal/providers"
	"github.com/mkarjala/foewatch-go/internal/scheduler"
	"github.com/mkarjala/foewatch-go/internal/taxonomy"
	"golang.org/x/sync/errgroup"
)

// Run starts the full pipeline and blocks until SIGINT or SIGTERM.
func Run(settings *conf.Settings) error {
	logger := logging.ForService("service")

	if err := conf.ValidateSettings(settings); err != nil {
		return errors.New(err).
			Component("service").
			Category(errors.CategoryConfiguration).
			Build()
	}

	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close datastore", "error", err)
		}
	}()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	effectiveness, err := deterrent.NewEffectivenessStore(store)
	if err != nil {
		return err
	}
	selector := deterrent.NewSelector(&settings.Deterrent, effectiveness, store, metrics.Deterrent)
	tracker, err := deterrent.NewTracker(&settings.Deterrent, store, effectiveness, metrics.Deterrent)
	if err != nil {
		return err
	}

	playback, err := providers.NewCommandPlayback(settings.Deterrent.PlayerCommand)
	if err != nil {
		return err
	}

	var cloud providers.CloudVision
	if settings.Cascade.Cloud.Enabled && settings.Cascade.Cloud.Endpoint != "" {
		cloud = providers.NewRemoteCloud(settings.Cascade.Cloud.Endpoint)
	}

	filter := frame.NewChangeFilter(settings.ChangeFilter.Threshold, settings.ChangeFilter.ForceSampleEvery)
	diag := diagnostics.NewService(store, settings.Scheduler.DiagnosticLimit, settings.Scheduler.UnhealthyAfter)

	var publisher scheduler.EventPublisher
	var mqttClient mqtt.Client
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if settings.MQTT.Enabled {
		mqttClient = mqtt.NewClient(settings)
		if err := mqttClient.Connect(ctx); err != nil {
			// publishing is optional; the pipeline starts regardless
			logger.Warn("mqtt connect failed, events will not be published", "error", err)
		}
		publisher = mqtt.NewNotifier(mqttClient, &settings.MQTT)
		defer mqttClient.Disconnect()
	}

	sched, err := scheduler.New(settings, scheduler.Deps{
		Source:   providers.NewSnapshotSource(),
		Playback: playback,
		Filter:   filter,
		Cascade: cascade.New(&settings.Cascade,
			providers.NewRemoteDetector(settings.Cascade.Detector.Endpoint),
			providers.NewRemoteIdentifier(settings.Cascade.Identifier.Endpoint),
			cloud,
			metrics.Cascade),
		Resolver:    taxonomy.New(&settings.Taxonomy),
		Selector:    selector,
		Tracker:     tracker,
		Datastore:   store,
		Diagnostics: diag,
		Publisher:   publisher,
		Metrics:     metrics,
	})
	if err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(groupCtx)
	})
	if settings.API.Enabled {
		server := api.New(settings, api.Deps{
			Scheduler:     sched,
			Diagnostics:   diag,
			Effectiveness: effectiveness,
			Selector:      selector,
			Filter:        filter,
			Metrics:       metrics,
		})
		g.Go(func() error {
			return server.Start(groupCtx)
		})
	}

	logger.Info("foewatch started",
		"cameras", len(settings.EnabledCameras()),
		"taxonomy_version", settings.Taxonomy.Version)

	err = g.Wait()
	logger.Info("foewatch stopped")
	return err
}
