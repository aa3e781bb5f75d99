package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/cloudseg/logging"
	"go.viam.com/cloudseg/params"
	"go.viam.com/cloudseg/pipeline"
	"go.viam.com/cloudseg/pointcloud"
	"go.viam.com/cloudseg/ros"
	"go.viam.com/cloudseg/transport"
)

func runNodeAction(c *cli.Context, logger logging.Logger) (err error) {
	ctx := c.Context
	bus, err := transport.DialNATS(transport.DefaultNATSConfig(c.String(flagNATSURL)), logger.Sublogger("nats"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, bus.Close())
	}()

	store, err := openStore(ctx, c.String(flagParamsFile), c.String(flagParamsBucket), bus.Conn(), logger)
	if err != nil {
		return err
	}
	adapter := params.NewAdapter(store, c.String(flagNamespace), logger.Sublogger("params"))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := pipeline.NewMetrics(registry)
	if err != nil {
		return err
	}
	if addr := c.String(flagMetricsAddr); addr != "" {
		stop := serveMetrics(addr, registry, logger.Sublogger("metrics"))
		defer stop()
	}

	node := pipeline.NewNode(
		pipeline.Config{InputTopic: c.String(flagInput), OutputTopic: c.String(flagOutput)},
		bus,
		bus,
		adapter,
		metrics,
		logger.Sublogger("node"),
	)
	return node.Run(ctx)
}

// openStore picks the parameter store named by the flags. Without either flag every parameter
// keeps its default.
func openStore(ctx context.Context, file, bucket string, conn *nats.Conn, logger logging.Logger) (params.Store, error) {
	switch {
	case file != "" && bucket != "":
		return nil, errors.Errorf("only one of --%s and --%s may be given", flagParamsFile, flagParamsBucket)
	case file != "":
		logger.Infow("reading parameters from file", "path", file)
		return params.NewFileStore(file), nil
	case bucket != "":
		if conn == nil {
			return nil, errors.New("a NATS connection is required for a parameter bucket")
		}
		logger.Infow("reading parameters from key-value bucket", "bucket", bucket)
		return params.OpenKVStore(ctx, conn, bucket)
	default:
		logger.Info("no parameter store given, using defaults")
		return params.NewMapStore(nil), nil
	}
}

func serveMetrics(addr string, registry *prometheus.Registry, logger logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	goutils.PanicCapturingGo(func() {
		logger.Infow("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("metrics server failed", "error", err)
		}
	})
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warnw("error shutting down metrics server", "error", err)
		}
	}
}

func replayAction(c *cli.Context, logger logging.Logger) (err error) {
	msgs, restamp, err := loadReplayClouds(c.StringSlice(flagPCD), c.String(flagBag), c.String(flagBagTopic), c.String(flagFrameID))
	if err != nil {
		return err
	}
	bus, err := transport.DialNATS(transport.DefaultNATSConfig(c.String(flagNATSURL)), logger.Sublogger("nats"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, bus.Close())
	}()
	r := replayer{
		pub:     bus,
		topic:   c.String(flagTopic),
		rate:    c.Float64(flagRate),
		loop:    c.Bool(flagLoop),
		restamp: restamp,
		clock:   clock.New(),
		logger:  logger,
	}
	return r.run(c.Context, msgs)
}

// loadReplayClouds reads the clouds to replay. Clouds from PCD files carry no time so they are
// stamped when published; rosbag clouds keep their recorded headers.
func loadReplayClouds(pcds []string, bag, bagTopic, frameID string) ([]*ros.PointCloud2, bool, error) {
	switch {
	case len(pcds) > 0 && bag != "":
		return nil, false, errors.Errorf("only one of --%s and --%s may be given", flagPCD, flagBag)
	case bag != "":
		msgs, err := ros.PointCloudsFromBag(bag, bagTopic)
		if err != nil {
			return nil, false, err
		}
		return msgs, false, nil
	case len(pcds) > 0:
		msgs := make([]*ros.PointCloud2, 0, len(pcds))
		for _, fn := range pcds {
			cloud, err := pointcloud.ReadPCDFile(fn, frameID)
			if err != nil {
				return nil, false, err
			}
			msgs = append(msgs, ros.FromPointCloud(cloud))
		}
		return msgs, true, nil
	default:
		return nil, false, errors.Errorf("one of --%s or --%s is required", flagPCD, flagBag)
	}
}

type replayer struct {
	pub     transport.Publisher
	topic   string
	rate    float64
	loop    bool
	restamp bool
	clock   clock.Clock
	logger  logging.Logger
}

func (r *replayer) run(ctx context.Context, msgs []*ros.PointCloud2) error {
	if r.rate <= 0 {
		return errors.Errorf("--%s must be positive, got %v", flagRate, r.rate)
	}
	if len(msgs) == 0 {
		return errors.New("nothing to replay")
	}
	t := r.clock.Ticker(time.Duration(float64(time.Second) / r.rate))
	defer t.Stop()

	var seq uint32
	for {
		for _, msg := range msgs {
			if ctx.Err() != nil {
				return nil
			}
			if r.restamp {
				msg.Header.Seq = seq
				msg.Header.Stamp = r.clock.Now().UTC()
			}
			seq++
			if err := r.pub.Publish(ctx, r.topic, msg); err != nil {
				return err
			}
			r.logger.Debugw("published cloud", "topic", r.topic, "seq", msg.Header.Seq, "points", msg.Width*msg.Height)
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
			}
		}
		if !r.loop {
			r.logger.Infow("replay finished", "clouds", seq)
			return nil
		}
	}
}

func paramsKey(namespace, name string) (string, error) {
	if !lo.Contains(params.Keys, name) {
		return "", errors.Errorf("unknown parameter %q, expected one of %s", name, strings.Join(params.Keys, ", "))
	}
	if ns := strings.Trim(namespace, "/"); ns != "" {
		return ns + "/" + name, nil
	}
	return name, nil
}

func withKVStore(c *cli.Context, logger logging.Logger, f func(*params.KVStore) error) (err error) {
	bucket := c.String(flagParamsBucket)
	if bucket == "" {
		return errors.Errorf("--%s is required", flagParamsBucket)
	}
	bus, err := transport.DialNATS(transport.DefaultNATSConfig(c.String(flagNATSURL)), logger.Sublogger("nats"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, bus.Close())
	}()
	store, err := params.OpenKVStore(c.Context, bus.Conn(), bucket)
	if err != nil {
		return err
	}
	return f(store)
}

func paramsListAction(c *cli.Context, logger logging.Logger) error {
	return withKVStore(c, logger, func(store *params.KVStore) error {
		tunables, err := params.NewAdapter(store, c.String(flagNamespace), logger.Sublogger("params")).Refresh(c.Context)
		if err != nil {
			logger.Warnw("some stored parameters are invalid, showing the values a node would use", "error", err)
		}
		fmt.Fprintln(c.App.Writer, tunables)
		return nil
	})
}

func paramsGetAction(c *cli.Context, logger logging.Logger) error {
	if c.Args().Len() != 1 {
		return errors.New("expected KEY")
	}
	key, err := paramsKey(c.String(flagNamespace), c.Args().First())
	if err != nil {
		return err
	}
	return withKVStore(c, logger, func(store *params.KVStore) error {
		value, ok, err := store.Get(c.Context, key)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Errorf("%s is not set", key)
		}
		fmt.Fprintln(c.App.Writer, value)
		return nil
	})
}

func paramsSetAction(c *cli.Context, logger logging.Logger) error {
	if c.Args().Len() != 2 {
		return errors.New("expected KEY VALUE")
	}
	name, value := c.Args().Get(0), c.Args().Get(1)
	key, err := paramsKey(c.String(flagNamespace), name)
	if err != nil {
		return err
	}
	return withKVStore(c, logger, func(store *params.KVStore) error {
		if err := checkParameter(c.Context, store, c.String(flagNamespace), name, value); err != nil {
			return err
		}
		return store.Set(c.Context, key, value)
	})
}

// checkParameter runs the stored parameters, with name set to value, through the same
// validation a node applies on refresh. It fails only when the group holding name would be
// rejected; a node keeps applying other groups whatever their state.
func checkParameter(ctx context.Context, store params.Store, namespace, name, value string) error {
	key, err := paramsKey(namespace, name)
	if err != nil {
		return err
	}
	overlay := overlayStore{Store: store, key: key, value: value}
	adapter := params.NewAdapter(overlay, namespace, logging.NewBlankLogger("check"))
	_, err = adapter.Refresh(ctx)
	return params.ErrorForKey(err, name)
}

type overlayStore struct {
	params.Store
	key   string
	value string
}

func (s overlayStore) Get(ctx context.Context, key string) (string, bool, error) {
	if key == s.key {
		return s.value, true, nil
	}
	return s.Store.Get(ctx, key)
}
