// Package main implements the entry point for the cloudrelay process.
// One binary serves every tier; which endpoints and movers a process
// runs follows from the provider assignments in its configuration.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/c360/cloudrelay/boundary"
	"github.com/c360/cloudrelay/config"
	"github.com/c360/cloudrelay/connector"
	"github.com/c360/cloudrelay/dispatcher"
	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/gateway"
	"github.com/c360/cloudrelay/health"
	"github.com/c360/cloudrelay/ingestion"
	"github.com/c360/cloudrelay/metric"
	"github.com/c360/cloudrelay/mover"
	"github.com/c360/cloudrelay/natsclient"
	"github.com/c360/cloudrelay/processor"
	"github.com/c360/cloudrelay/reader"
	"github.com/c360/cloudrelay/relay"
	"github.com/c360/cloudrelay/store"
	"github.com/c360/cloudrelay/store/dynamohot"
	"github.com/c360/cloudrelay/store/hotkv"
	"github.com/c360/cloudrelay/store/objectstore"
	"github.com/c360/cloudrelay/writer"
)

// Build information constants.
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "cloudrelay"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}
	if err := validateFlags(cliCfg); err != nil {
		return err
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		logger.Info("configuration is valid", "path", cliCfg.ConfigPath)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detector, err := cfg.Detector(logger)
	if err != nil {
		return err
	}

	self := envelope.Provider(cfg.Provider)
	hosts := func(layer boundary.Layer) bool {
		p, err := detector.ProviderOf(layer)
		return err == nil && p == self
	}

	registry := metric.NewRegistry()
	metrics := registry.Metrics
	relayClient := relay.NewClient(relay.ClientConfig{}, logger, metric.NewRelayObserver(metrics))
	monitor := health.NewMonitor()

	stores, err := openStores(ctx, cfg, hosts, monitor, logger)
	if err != nil {
		return err
	}
	defer stores.close()

	endpoints, feed, err := buildEndpoints(cfg, detector, stores, relayClient, metrics, logger)
	if err != nil {
		return err
	}
	if feed != nil {
		defer feed.Close()
	}

	srv := gateway.New(cfg.HTTPAddr, endpoints, monitor, registry.Handler(), logger)
	monitor.SetHealthy("gateway", "serving")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx, nil)
	})

	if hosts(boundary.LayerHot) && stores.hot != nil {
		hotToCold, err := mover.NewHotToCold(mover.HotToColdConfig{
			Source:    self,
			Detector:  detector,
			Hot:       stores.hot,
			Cold:      stores.cold,
			Client:    relayClient,
			Retention: cfg.HotRetention.Std(),
			Interval:  cfg.MoverInterval.Std(),
			Clock:     clock.New(),
			Metrics:   metrics,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			return hotToCold.Run(gctx)
		})
	}

	if hosts(boundary.LayerCold) && stores.cold != nil {
		coldToArchive, err := mover.NewColdToArchive(mover.ColdToArchiveConfig{
			Source:    self,
			Detector:  detector,
			Cold:      stores.cold,
			Archive:   stores.archive,
			Client:    relayClient,
			Retention: cfg.ColdRetention.Std(),
			Interval:  cfg.MoverInterval.Std(),
			Clock:     clock.New(),
			Metrics:   metrics,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			return coldToArchive.Run(gctx)
		})
	}

	logger.Info("cloudrelay running",
		"provider", cfg.Provider,
		"addr", cfg.HTTPAddr)

	if err := g.Wait(); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// tierStores holds whichever stores this deployment hosts locally. Any
// field may be nil when the matching tier lives in another cloud.
type tierStores struct {
	hot     store.HotStore
	cold    store.ObjectStore
	archive store.ObjectStore
	nats    *natsclient.Client
}

func (s *tierStores) close() {
	if s.nats != nil {
		s.nats.Close()
	}
}

func openStores(ctx context.Context, cfg *config.Config, hosts func(boundary.Layer) bool,
	monitor *health.Monitor, logger *slog.Logger) (*tierStores, error) {
	stores := &tierStores{}

	needNATS := (hosts(boundary.LayerHot) && cfg.HotBackend == "nats") ||
		hosts(boundary.LayerCold) || hosts(boundary.LayerArchive)
	if needNATS {
		nc, err := natsclient.NewClient(cfg.NATS.URL, appName, logger)
		if err != nil {
			return nil, err
		}
		if err := nc.Connect(ctx); err != nil {
			return nil, err
		}
		stores.nats = nc
		monitor.SetHealthy("nats", "connected")
	}

	if hosts(boundary.LayerHot) {
		switch cfg.HotBackend {
		case "nats":
			kv, err := stores.nats.KeyValue(ctx, bucketName(cfg.NATS.HotBucket, "hot"))
			if err != nil {
				stores.close()
				return nil, err
			}
			stores.hot = hotkv.New(kv, logger)
		case "dynamodb":
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DynamoDB.Region))
			if err != nil {
				stores.close()
				return nil, err
			}
			hot, err := dynamohot.New(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDB.Table, logger)
			if err != nil {
				stores.close()
				return nil, err
			}
			stores.hot = hot
		}
		monitor.SetHealthy("hot-store", cfg.HotBackend)
	}

	if hosts(boundary.LayerCold) {
		obj, err := stores.nats.ObjectStore(ctx, bucketName(cfg.NATS.ColdBucket, "cold"))
		if err != nil {
			stores.close()
			return nil, err
		}
		stores.cold = objectstore.New(obj, logger)
		monitor.SetHealthy("cold-store", "nats object store")
	}

	if hosts(boundary.LayerArchive) {
		obj, err := stores.nats.ObjectStore(ctx, bucketName(cfg.NATS.ArchiveBucket, "archive"))
		if err != nil {
			stores.close()
			return nil, err
		}
		stores.archive = objectstore.New(obj, logger)
		monitor.SetHealthy("archive-store", "nats object store")
	}

	return stores, nil
}

func bucketName(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// buildEndpoints wires the handlers for every tier this process hosts.
// The returned feed, when non-nil, must be closed on shutdown.
func buildEndpoints(cfg *config.Config, detector *boundary.Detector, stores *tierStores,
	relayClient *relay.Client, metrics *metric.Metrics, logger *slog.Logger) (gateway.Endpoints, *reader.Feed, error) {

	var endpoints gateway.Endpoints
	var feed *reader.Feed

	self := envelope.Provider(cfg.Provider)
	hosts := func(layer boundary.Layer) bool {
		p, err := detector.ProviderOf(layer)
		return err == nil && p == self
	}

	// The processing pipeline exists wherever events enter: on the
	// ingestion tier behind the device ingress, and on the compute tier
	// behind the relay endpoint.
	var proc *processor.Processor
	if hosts(boundary.LayerIngestion) || hosts(boundary.LayerCompute) {
		persister, err := processor.NewPersister(self, detector, stores.hot, relayClient, logger)
		if err != nil {
			return endpoints, nil, err
		}
		proc, err = processor.New(persister, logger)
		if err != nil {
			return endpoints, nil, err
		}
	}

	if hosts(boundary.LayerIngestion) {
		conn, err := connector.New(self, detector, relayClient, logger)
		if err != nil {
			return endpoints, nil, err
		}
		disp, err := dispatcher.New(cfg.TwinPrefix, detector, proc, conn, logger)
		if err != nil {
			return endpoints, nil, err
		}
		endpoints.Events = disp.HTTPHandler(relay.DefaultMaxBodyBytes)
	}

	if hosts(boundary.LayerCompute) {
		opts := []ingestion.Option{ingestion.WithMetrics(metrics)}
		if cfg.SchemaFile != "" {
			schemaJSON, err := os.ReadFile(cfg.SchemaFile)
			if err != nil {
				return endpoints, nil, err
			}
			schemaOpt, err := ingestion.WithSchema(string(schemaJSON))
			if err != nil {
				return endpoints, nil, err
			}
			opts = append(opts, schemaOpt)
		}
		ingest, err := ingestion.New(proc, logger, opts...)
		if err != nil {
			return endpoints, nil, err
		}
		endpoints.Ingest = ingest.HTTPHandler(cfg.Token(boundary.IngestToCompute))
	}

	if hosts(boundary.LayerHot) {
		hotWriter, err := writer.NewHot(stores.hot, logger)
		if err != nil {
			return endpoints, nil, err
		}
		endpoints.WriteHot = hotWriter.HTTPHandler(cfg.Token(boundary.ComputeToHot))

		rdr, err := reader.New(stores.hot, logger)
		if err != nil {
			return endpoints, nil, err
		}
		endpoints.Query = rdr.HTTPHandler(cfg.Token(boundary.HotToTwin))
	}

	if hosts(boundary.LayerCold) {
		coldWriter, err := writer.NewCold(stores.cold, logger)
		if err != nil {
			return endpoints, nil, err
		}
		endpoints.WriteCold = coldWriter.HTTPHandler(cfg.Token(boundary.HotToCold))
	}

	if hosts(boundary.LayerArchive) {
		archive, err := writer.NewArchive(stores.archive, logger)
		if err != nil {
			return endpoints, nil, err
		}
		endpoints.WriteArchive = archive.HTTPHandler(cfg.Token(boundary.ColdToArchive))
	}

	if hosts(boundary.LayerTwin) {
		feed = reader.NewFeed(logger)
		twin := reader.NewTwinReceiver(feed, logger)
		endpoints.Twin = twin.HTTPHandler(cfg.Token(boundary.ComputeToTwin))
		endpoints.TwinStream = feed.HTTPHandler()
	}

	return endpoints, feed, nil
}
