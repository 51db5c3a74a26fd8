package main

import (
	"context"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tabrev-incubator/tabrev/config"
	"github.com/tabrev-incubator/tabrev/coordination"
	"github.com/tabrev-incubator/tabrev/ledger"
	"github.com/tabrev-incubator/tabrev/txn"
	"go.etcd.io/etcd/clientv3"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "config file path")
	endpoints  = flag.String("coordination", "", "coordination store endpoints, comma separated")
)

func main() {
	flag.Parse()
	conf := loadConfig()
	if *endpoints != "" {
		conf.CoordinationEndpoints = strings.Split(*endpoints, ",")
	}

	lg, prop, err := log.InitLogger(&log.Config{Level: conf.LogLevel})
	if err != nil {
		panic(err)
	}
	log.ReplaceGlobals(lg, prop)
	log.Info("starting stale-transaction sweeper", zap.Stringer("conf", conf))

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   conf.CoordinationEndpoints,
		DialTimeout: conf.DialTimeout.Duration,
	})
	if err != nil {
		log.Fatal("cannot connect coordination store", zap.Error(err))
	}
	store := coordination.NewEtcdStore(client, conf.RequestTimeout.Duration)
	defer store.Close()

	retry := coordination.RetryConfig{
		Budget:     conf.RetryBudget,
		Backoff:    conf.RetryBackoff.Duration,
		MaxBackoff: 20 * conf.RetryBackoff.Duration,
	}
	l := ledger.NewRevisionLedger(store, conf.RootPath, retry)
	manager := txn.NewManager(l, nil)
	sweeper := txn.NewSweeper(manager, l, conf.SweepInterval.Duration, conf.StaleTimeout.Duration).
		KeepCommitted(conf.KeepCommitted)

	if conf.MetricsAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(conf.MetricsAddr, nil); err != nil {
				log.Error("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	handleSignal(cancel)

	if err := sweeper.Run(ctx); err != nil && err != context.Canceled {
		log.Fatal("sweeper stopped", zap.Error(err))
	}
	log.Info("sweeper stopped")
}

func loadConfig() *config.Config {
	conf := config.NewDefaultConfig()
	if *configPath != "" {
		if err := conf.FromFile(*configPath); err != nil {
			panic(err)
		}
	}
	return conf
}

func handleSignal(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		sig := <-sigCh
		log.Info("got signal to exit", zap.Stringer("signal", sig))
		cancel()
	}()
}
