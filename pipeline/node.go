package pipeline

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/cloudseg/logging"
	"go.viam.com/cloudseg/params"
	"go.viam.com/cloudseg/pointcloud"
	"go.viam.com/cloudseg/ros"
	"go.viam.com/cloudseg/transport"
)

// Default node settings.
const (
	DefaultInputTopic    = "/camera/depth/points"
	DefaultOutputTopic   = "output"
	DefaultRefreshPeriod = 500 * time.Millisecond
)

// State is what a Node is doing.
type State int

// The node states.
const (
	StateIdle State = iota
	StateProcessing
)

func (s State) String() string {
	if s == StateProcessing {
		return "processing"
	}
	return "idle"
}

// Config holds the settings of a Node. Zero fields take their defaults.
type Config struct {
	InputTopic    string
	OutputTopic   string
	RefreshPeriod time.Duration
	Clock         clock.Clock
}

func (cfg Config) withDefaults() Config {
	if cfg.InputTopic == "" {
		cfg.InputTopic = DefaultInputTopic
	}
	if cfg.OutputTopic == "" {
		cfg.OutputTopic = DefaultOutputTopic
	}
	if cfg.RefreshPeriod <= 0 {
		cfg.RefreshPeriod = DefaultRefreshPeriod
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return cfg
}

// A Node subscribes to an input topic, processes every cloud it can keep up with and
// publishes the result on an output topic. Clouds arriving while one is processed replace
// each other, so the next cycle always starts from the most recent cloud. Parameters are
// refreshed on a fixed period and each cycle uses the snapshot current at its start.
type Node struct {
	cfg     Config
	sub     transport.Subscriber
	pub     transport.Publisher
	adapter *params.Adapter
	metrics *Metrics
	logger  logging.Logger

	tunables   atomic.Pointer[params.Tunables]
	mailbox    *transport.Mailbox[*pointcloud.PointCloud]
	processing atomic.Bool
}

// NewNode returns a node reading tunables through adapter. metrics may be nil.
func NewNode(
	cfg Config,
	sub transport.Subscriber,
	pub transport.Publisher,
	adapter *params.Adapter,
	metrics *Metrics,
	logger logging.Logger,
) *Node {
	if metrics == nil {
		//nolint:errcheck
		metrics, _ = NewMetrics(nil)
	}
	n := &Node{
		cfg:     cfg.withDefaults(),
		sub:     sub,
		pub:     pub,
		adapter: adapter,
		metrics: metrics,
		logger:  logger,
		mailbox: transport.NewMailbox[*pointcloud.PointCloud](),
	}
	current := adapter.Current()
	n.tunables.Store(&current)
	return n
}

// State returns whether the node is processing a cloud.
func (n *Node) State() State {
	if n.processing.Load() {
		return StateProcessing
	}
	return StateIdle
}

// Tunables returns the parameter snapshot the next cycle will use.
func (n *Node) Tunables() params.Tunables {
	return *n.tunables.Load()
}

// Run refreshes parameters, subscribes to the input topic and processes clouds until ctx is
// done. A cycle in progress when ctx ends is completed before Run returns.
func (n *Node) Run(ctx context.Context) error {
	n.refresh(ctx)

	if notifier, ok := n.sub.(transport.DecodeErrorNotifier); ok {
		notifier.OnDecodeError(n.decodeFailed)
	}
	sub, err := n.sub.Subscribe(ctx, n.cfg.InputTopic, n.receive)
	if err != nil {
		return errors.Wrapf(err, "subscribing to %s", n.cfg.InputTopic)
	}
	n.logger.Infow("node running",
		"input", n.cfg.InputTopic,
		"output", n.cfg.OutputTopic,
		"refresh_period", n.cfg.RefreshPeriod,
	)
	n.logger.Debugf("parameters:\n%s", n.Tunables())

	workers := goutils.NewBackgroundStoppableWorkers(n.controlLoop, n.worker)
	<-ctx.Done()

	err = sub.Unsubscribe()
	workers.Stop()
	n.logger.Info("node stopped")
	return err
}

func (n *Node) controlLoop(ctx context.Context) {
	t := n.cfg.Clock.Ticker(n.cfg.RefreshPeriod)
	defer t.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.refresh(ctx)
		}
	}
}

func (n *Node) refresh(ctx context.Context) {
	tunables, err := n.adapter.Refresh(ctx)
	if err != nil {
		n.metrics.configErrors.Add(float64(len(multierr.Errors(err))))
	}
	n.tunables.Store(&tunables)
}

// receive runs on the transport's delivery goroutine.
func (n *Node) receive(msg *ros.PointCloud2) {
	cloud, err := ros.ToPointCloud(msg)
	if err != nil {
		n.decodeFailed(n.cfg.InputTopic, err)
		return
	}
	if n.mailbox.Put(cloud) {
		n.metrics.droppedMessages.Inc()
		n.logger.Debugw("replaced unprocessed cloud", "seq", cloud.Header.Seq)
	}
}

func (n *Node) decodeFailed(topic string, err error) {
	n.metrics.decodeErrors.Inc()
	n.logger.Warnw("skipping undecodable cloud", "topic", topic, "error", err)
}

func (n *Node) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.mailbox.Ready():
		}
		cloud, ok := n.mailbox.Take()
		if !ok {
			continue
		}
		n.cycle(ctx, cloud)
	}
}

func (n *Node) cycle(ctx context.Context, cloud *pointcloud.PointCloud) {
	n.processing.Store(true)
	defer n.processing.Store(false)

	tunables := n.Tunables()
	start := n.cfg.Clock.Now()
	result, err := Process(cloud, tunables)
	if err != nil {
		n.metrics.cyclesFailed.WithLabelValues(failureProcess).Inc()
		n.logger.Errorw("processing failed, skipping cloud", "seq", cloud.Header.Seq, "error", err)
		return
	}
	if err := n.pub.Publish(ctx, n.cfg.OutputTopic, ros.FromPointCloud(result.Output)); err != nil {
		n.metrics.cyclesFailed.WithLabelValues(failurePublish).Inc()
		n.logger.Errorw("publishing failed", "topic", n.cfg.OutputTopic, "error", err)
		return
	}
	took := n.cfg.Clock.Since(start)
	n.metrics.observeCycle(cloud.Size(), result, took)
	if n.logger.GetLevel() != logging.DEBUG {
		return
	}
	meta := cloud.MetaData()
	n.logger.Debugw("processed cloud",
		"seq", cloud.Header.Seq,
		"frame_id", cloud.Header.FrameID,
		"input_points", cloud.Size(),
		"finite_points", meta.Finite,
		"min", []float64{meta.MinX, meta.MinY, meta.MinZ},
		"max", []float64{meta.MaxX, meta.MaxY, meta.MaxZ},
		"reduced_points", result.Reduced.Size(),
		"filtered_points", len(result.Indices),
		"regions", len(result.Regions),
		"took", took,
	)
}
