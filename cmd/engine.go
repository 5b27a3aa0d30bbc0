package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/facegate/internal/config"
	"github.com/andresmejia3/facegate/internal/matcher"
	"github.com/andresmejia3/facegate/internal/metrics"
	"github.com/andresmejia3/facegate/internal/pipeline"
	"github.com/andresmejia3/facegate/internal/registry"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/andresmejia3/facegate/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	log "github.com/sirupsen/logrus"
)

// engine bundles everything a recognition command needs.
type engine struct {
	worker   *worker.PythonWorker
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	promReg  *prometheus.Registry
}

func (e *engine) Close() {
	e.worker.Close()
}

func workerConfig(c config.WorkerConfig) worker.Config {
	return worker.Config{
		Python:             c.Python,
		Script:             c.Script,
		Model:              c.Model,
		DetectionThreshold: c.DetectionThreshold,
		JPEGQuality:        c.JPEGQuality,
	}
}

// newPromRegistry returns a registry carrying facegate metrics plus the Go runtime collectors.
func newPromRegistry() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.New(reg)
}

// buildPipeline wires the collaborators to a registry using the pipeline settings.
func buildPipeline(det pipeline.Detector, ext pipeline.Extractor, reg *registry.Registry, cfg config.PipelineConfig, m *metrics.Metrics) *pipeline.Pipeline {
	mt := matcher.New(
		matcher.WithMetrics(m),
		matcher.WithSkipHook(func(s matcher.Skip) {
			fmt.Fprintf(os.Stderr, "⚠️  Skipping identity '%s': %v\n", s.Label, s.Err)
		}),
	)
	return pipeline.New(det, ext, reg,
		pipeline.WithTimeout(cfg.Timeout),
		pipeline.WithCropSize(cfg.CropSize),
		pipeline.WithMetrics(m),
		pipeline.WithMatcher(mt),
	)
}

// startEngine loads the enrolled identities from the database and starts the model worker.
func startEngine(ctx context.Context, hydrate bool) (*engine, error) {
	reg := registry.New()
	if hydrate {
		records, err := DB.LoadIdentities(ctx)
		if err != nil {
			utils.ShowError("Failed to load identities", err, nil)
			return nil, err
		}
		reg.Replace(records)
		log.WithField("identities", reg.Len()).Debug("registry loaded from database")
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	// We use ID 0 for this ad-hoc worker
	w, err := worker.New(ctx, 0, workerConfig(Cfg.Worker))
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return nil, err
	}

	promReg, m := newPromRegistry()
	return &engine{
		worker:   w,
		pipeline: buildPipeline(w, w, reg, Cfg.Pipeline, m),
		metrics:  m,
		promReg:  promReg,
	}, nil
}
