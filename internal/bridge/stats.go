package bridge

import (
	"context"
	"sync"
	"time"

	"vawter.tech/stopper"

	"github.com/nerrad567/starport-core/internal/fifo"
	"github.com/nerrad567/starport-core/internal/indiserver"
	"github.com/nerrad567/starport-core/internal/infrastructure/mqtt"
)

const reporterStopWait = time.Second

// StatsSource supplies the numbers the Reporter samples.
// *connector.Connector satisfies it.
type StatsSource interface {
	ServerStats() indiserver.Stats
	RunningDriverCount() int
	FifoStats() fifo.Stats
}

// StatsWriter stores a sample. *influxdb.Client satisfies it.
type StatsWriter interface {
	WriteServerStats(stats indiserver.Stats, drivers int)
	WriteChannelStats(stats fifo.Stats)
}

// Sample is one snapshot of server and channel statistics.
type Sample struct {
	Server    indiserver.Stats `json:"server"`
	Drivers   int              `json:"drivers"`
	Channel   fifo.Stats       `json:"channel"`
	Timestamp time.Time        `json:"timestamp"`
}

// Reporter periodically samples a StatsSource and hands the sample to an
// optional StatsWriter and an optional MQTT publisher.
type Reporter struct {
	source   StatsSource
	writer   StatsWriter
	pub      JSONPublisher
	interval time.Duration
	logger   Logger

	mu   sync.Mutex
	sctx *stopper.Context
}

// NewReporter creates a Reporter. writer and pub may be nil.
func NewReporter(source StatsSource, interval time.Duration, writer StatsWriter, pub JSONPublisher, logger Logger) *Reporter {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Reporter{source: source, writer: writer, pub: pub, interval: interval, logger: logger}
}

// Collect takes and emits one sample.
func (r *Reporter) Collect() Sample {
	s := Sample{
		Server:    r.source.ServerStats(),
		Drivers:   r.source.RunningDriverCount(),
		Channel:   r.source.FifoStats(),
		Timestamp: time.Now().UTC(),
	}
	if r.writer != nil {
		r.writer.WriteServerStats(s.Server, s.Drivers)
		r.writer.WriteChannelStats(s.Channel)
	}
	if r.pub != nil {
		if err := r.pub.PublishJSON(mqtt.Topics{}.ServerStats(), s, false); err != nil {
			r.logger.Debug("failed to publish stats", "error", err)
		}
	}
	return s
}

// Start samples every interval until Close or ctx is cancelled.
func (r *Reporter) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	sctx := stopper.WithContext(ctx)
	r.mu.Lock()
	r.sctx = sctx
	r.mu.Unlock()

	sctx.Go(func(sctx *stopper.Context) error {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case <-ticker.C:
				r.Collect()
			}
		}
	})
}

// Close stops the sampling loop.
func (r *Reporter) Close() {
	r.mu.Lock()
	sctx := r.sctx
	r.sctx = nil
	r.mu.Unlock()
	if sctx == nil {
		return
	}
	sctx.Stop(reporterStopWait)
	_ = sctx.Wait()
}
