package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	res := resource.NewSchemaless(semconv.ServiceName(cfg.OTel.ServiceName))

	// OTel metric exporter
	var metricOpts []otlpmetricgrpc.Option
	metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	if cfg.OTel.Endpoint != "" {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithEndpoint(cfg.OTel.Endpoint))
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		log.Fatalf("metric exporter: %v", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(cfg.Metrics.Interval))),
	)
	defer shutdown("meter provider", meterProvider.Shutdown)
	otel.SetMeterProvider(meterProvider)

	// OTel log exporter
	var logOpts []otlploggrpc.Option
	logOpts = append(logOpts, otlploggrpc.WithInsecure())
	if cfg.OTel.Endpoint != "" {
		logOpts = append(logOpts, otlploggrpc.WithEndpoint(cfg.OTel.Endpoint))
	}
	logExporter, err := otlploggrpc.New(ctx, logOpts...)
	if err != nil {
		log.Fatalf("log exporter: %v", err)
	}
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	defer shutdown("logger provider", loggerProvider.Shutdown)
	logger := loggerProvider.Logger(cfg.OTel.ServiceName)

	var metrics *Metrics
	if cfg.Metrics.Enabled {
		metrics, err = NewMetrics(meterProvider)
		if err != nil {
			log.Fatalf("metrics: %v", err)
		}
	}

	// Control channel
	var rcon Commander
	switch cfg.RCON.Protocol {
	case "source":
		sc, err := NewSourceChannel(cfg.RCON, metrics)
		if err != nil {
			log.Fatalf("rcon: %v", err)
		}
		defer sc.Close()
		rcon = sc
	default:
		uc, err := NewUDPChannel(ctx, cfg.RCON, metrics)
		if err != nil {
			log.Fatalf("rcon: %v", err)
		}
		rcon = uc
	}
	messenger := NewMessenger(rcon)

	// Dispatch core
	commands := NewCommandRegistry()
	events := NewEventRegistry()
	plugins := NewPluginRegistry()
	dispatcher := NewDispatcher(cfg.Dispatch, commands, events, messenger, metrics)
	bus := NewBus()

	clients := NewClientDirectory(cfg.adminLevels())
	admin := NewAdminPlugin(commands, plugins, clients, messenger, rcon)
	if err := admin.Register(events); err != nil {
		log.Fatalf("plugins: %v", err)
	}
	plugins.Add(admin)

	depths := dispatcher.QueueDepths()
	depths["bus"] = bus.Len
	if err := metrics.ObserveDepth(meterProvider, depths); err != nil {
		log.Fatalf("metrics: %v", err)
	}

	// Bus subscribers
	if err := bus.Register(NewFactLogger(logger, &cfg), 0); err != nil {
		log.Fatalf("bus: %v", err)
	}

	var channels []Channel
	if cfg.Discord.Enabled {
		dc, err := NewDiscordChannel(&cfg)
		if err != nil {
			log.Fatalf("discord: %v", err)
		}
		channels = append(channels, dc)
	}
	bridge := NewBridge(rcon, channels)
	if err := bus.Register(bridge, 10); err != nil {
		log.Fatalf("bus: %v", err)
	}

	// Log source
	parser := NewLineParser(dispatcher, bus, clients, cfg.Dispatch.Prefixes)
	tailer, err := NewLogTailer(cfg.Log, parser, metrics)
	if err != nil {
		log.Fatalf("log tail: %v", err)
	}

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	run(dispatcher.RunCommands)
	run(dispatcher.RunEvents)
	run(bus.Run)
	run(tailer.Run)
	run(bridge.FanOutEvents)

	if cfg.Status.Enabled {
		poller := NewStatusPoller(rcon, bus, cfg.Status.Interval, metrics)
		run(poller.Run)
	}

	for _, ch := range channels {
		wg.Add(1)
		go func(c Channel) {
			defer wg.Done()
			if err := c.Start(ctx); err != nil {
				log.Printf("channel %s: %v", c.Name(), err)
			}
		}(ch)

		wg.Add(1)
		go func(c Channel) {
			defer wg.Done()
			bridge.HandleInbound(ctx, c)
		}(ch)
	}

	channelNames := make([]string, len(channels))
	for i, ch := range channels {
		channelNames[i] = ch.Name()
	}
	log.Printf("orion-agent started (rcon=%s, log=%s, status=%v, channels=%v)",
		cfg.RCON.Protocol, cfg.Log.Path, cfg.Status.Enabled, channelNames)

	<-ctx.Done()
	dispatcher.Close()
	bus.Close()
	wg.Wait()
	log.Println("shutting down")
}

func shutdown(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Printf("%s shutdown: %v", name, err)
	}
}
