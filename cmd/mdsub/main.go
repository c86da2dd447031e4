package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"marketsub/internal/catalog"
	"marketsub/internal/holding"
	"marketsub/internal/logger"
	"marketsub/internal/model"
	"marketsub/internal/model/enum"
	"marketsub/internal/obs"
	"marketsub/internal/ops"
	"marketsub/internal/publisher"
	"marketsub/internal/publisher/pgsnapshot"
	"marketsub/internal/publisher/simfeed"
	"marketsub/internal/publisher/wsfeed"
	"marketsub/internal/subscription"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("mdsub: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "configs/mdsub.yaml", "config file path")
	flag.Parse()

	cfg, err := ops.Load(*configFlag)
	if err != nil {
		return err
	}

	if cfg.Profiling.Enabled {
		profiler, err := startProfiler(cfg.Profiling)
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := obs.NewMetrics()
	sink := logger.Default
	registry := newRegistry(ctx, cfg, sink, metrics)

	manager, err := subscription.NewManager(cfg.ManagerConfig(catalog.Factory{}, registry, sink, metrics))
	if err != nil {
		return err
	}
	defer manager.Finalise()

	incubator, items, err := subscribeDemo(manager, cfg)
	if err != nil {
		return err
	}
	logs.Infof("mdsub: started, publishers %v, %d demo subscriptions", registry.Types(), len(items))

	ticker := time.NewTicker(cfg.Engine.TickInterval)
	defer ticker.Stop()
	stats := time.NewTicker(cfg.Engine.StatsInterval)
	defer stats.Stop()

	var ready <-chan struct{}
	if inc := incubator.Current(); inc != nil {
		ready = inc.Done()
	}

	for {
		select {
		case <-ctx.Done():
			logs.Infof("mdsub: shutting down")
			return nil
		case <-sys.Shutdown():
			logs.Infof("mdsub: shutting down")
			return nil
		case now := <-ticker.C:
			manager.Process(now)
		case <-ready:
			ready = nil
			inc := incubator.Current()
			if inc.State() == subscription.IncubationReady {
				logs.Infof("mdsub: %s ready", inc.Item().Base())
			}
		case <-stats.C:
			logStats(metrics, items)
		}
	}
}

func startProfiler(cfg ops.ProfilingConfig) (*pyroscope.Profiler, error) {
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "start pyroscope").With("server", cfg.ServerAddress)
	}
	return profiler, nil
}

// newRegistry registers a constructor for every enabled publisher section. The
// manager creates publishers lazily on first use.
func newRegistry(ctx context.Context, cfg *ops.Config, sink logger.Sink, metrics *obs.Metrics) *publisher.Registry {
	registry := publisher.NewRegistry()
	decoders := catalog.Decoders()

	if c := cfg.Publishers.Stream; c != nil {
		registry.Register(enum.PublisherTypeStream, func() (publisher.Publisher, error) {
			wc := *c
			wc.Decoders, wc.Sink, wc.Metrics = decoders, sink, metrics
			return wsfeed.New(ctx, wc)
		})
	}
	if c := cfg.Publishers.Snapshot; c != nil {
		registry.Register(enum.PublisherTypeSnapshot, func() (publisher.Publisher, error) {
			pc := *c
			pc.Decoders, pc.Sink, pc.Metrics = decoders, sink, metrics
			return pgsnapshot.New(ctx, pc)
		})
	}
	if c := cfg.Publishers.Simulated; c != nil {
		registry.Register(enum.PublisherTypeSimulated, func() (publisher.Publisher, error) {
			sc := *c
			sc.Decoders, sc.Sink = decoders, sink
			return simfeed.New(sc), nil
		})
	}

	return registry
}

// subscribeDemo subscribes the holdings of every configured account in one batch.
// The first account is incubated so its readiness gets logged.
func subscribeDemo(manager *subscription.Manager, cfg *ops.Config) (*subscription.Incubator, []*holding.Item, error) {
	incubator := subscription.NewIncubator(manager)
	typeID, _ := cfg.DemoPublisherType()

	var items []*holding.Item
	err := manager.WithMultipleSubscriptionChanges(func() error {
		for i, accountID := range cfg.Demo.Accounts {
			def := holding.NewDefinition(accountID, holdingsOptions(typeID)...)
			if i == 0 {
				inc, err := incubator.Incubate(def)
				if err != nil {
					return err
				}
				items = append(items, inc.Item().(*holding.Item))
				continue
			}

			item, err := manager.Subscribe(def)
			if err != nil {
				return err
			}
			items = append(items, item.(*holding.Item))
		}
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "subscribe demo accounts")
	}

	return incubator, items, nil
}

func holdingsOptions(typeID enum.PublisherType) []model.DefinitionOption {
	return []model.DefinitionOption{model.WithPublisherType(typeID)}
}

func logStats(metrics *obs.Metrics, items []*holding.Item) {
	snapshot := metrics.Snapshot()

	counters := make([]string, 0, len(snapshot.Counters))
	for c, v := range snapshot.Counters {
		if v != 0 {
			counters = append(counters, c.String()+"="+strconv.FormatUint(v, 10))
		}
	}
	sort.Strings(counters)

	lat := snapshot.ProcessLatency
	logs.Infof("mdsub: stats [%s] process count=%d avg=%s max=%s", strings.Join(counters, " "), lat.Count, lat.Avg, lat.Max)

	for _, item := range items {
		logs.Infof("mdsub: %s %s badness=%s holdings=%d", item.Base(), item.Base().State(), item.Base().Badness(), item.List().Len())
	}
}
