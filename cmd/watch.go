package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/andresmejia3/facegate/internal/capture"
	"github.com/andresmejia3/facegate/internal/pipeline"
	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

var watchJSON bool

var watchCmd = &cobra.Command{
	Use:   "watch <source>",
	Short: "Recognize faces in a live stream (webcam, file or URL)",
	Long: `Reads frames through ffmpeg and recognizes every Nth one against the enrolled identities.
A line is printed whenever the recognized identity changes.

Sources: /dev/video0, ./clip.mp4, rtsp://camera/stream, ...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runWatch(cmd.Context(), args[0])
	},
}

func init() {
	addEngineFlags(watchCmd)
	addThresholdFlag(watchCmd)
	f := watchCmd.Flags()
	f.IntP("nth-frame", "n", 5, "Recognize every Nth frame")
	f.Float64("fps", 0, "Resample the source to this frame rate before splitting (0 keeps the source rate)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	f.BoolVar(&watchJSON, "json", false, "Print events as JSON lines")
	rootCmd.AddCommand(watchCmd)
}

// watchStats summarizes a watch session.
type watchStats struct {
	Frames  int
	Matched int
	NoFace  int
	Events  int
}

// recognizeFrames runs every frame through the pipeline and calls emit when the
// status or the matched label differs from the previous frame's.
func recognizeFrames(ctx context.Context, p *pipeline.Pipeline, frames <-chan types.FrameTask, threshold float64, emit func(types.MatchEvent)) (watchStats, error) {
	var (
		stats     watchStats
		last      = pipeline.Status(-1)
		lastLabel string
	)
	for {
		var task types.FrameTask
		var ok bool
		select {
		case task, ok = <-frames:
			if !ok {
				return stats, nil
			}
		case <-ctx.Done():
			return stats, ctx.Err()
		}

		img, err := utils.DecodeFrame(task.Data)
		if err != nil {
			log.WithFields(log.Fields{"frame": task.Index, "error": err}).Warn("dropping undecodable frame")
			continue
		}

		out := p.Recognize(ctx, img, threshold)
		stats.Frames++
		switch out.Status {
		case pipeline.StatusMatched:
			stats.Matched++
		case pipeline.StatusNoFace:
			stats.NoFace++
		}

		if out.Status == last && out.Label == lastLabel {
			continue
		}
		last, lastLabel = out.Status, out.Label

		ev := newMatchEvent(task.Index, out)
		ev.At = task.CapturedAt
		emit(ev)
		stats.Events++
	}
}

// eventPrinter writes events as text lines or JSON lines.
func eventPrinter(w io.Writer, asJSON bool) func(types.MatchEvent) {
	enc := json.NewEncoder(w)
	return func(ev types.MatchEvent) {
		if asJSON {
			if err := enc.Encode(ev); err != nil {
				log.WithError(err).Warn("failed to write event")
			}
			return
		}
		stamp := ev.At.Local().Format("15:04:05")
		switch ev.Status {
		case pipeline.StatusMatched.String():
			fmt.Fprintf(w, "[%s] frame %d ✅ %s (score %.3f)\n", stamp, ev.Frame, ev.Label, ev.Score)
		case pipeline.StatusUnmatched.String():
			fmt.Fprintf(w, "[%s] frame %d ❓ unknown face (best score %.3f)\n", stamp, ev.Frame, ev.Score)
		default:
			fmt.Fprintf(w, "[%s] frame %d 👻 no face\n", stamp, ev.Frame)
		}
	}
}

// serveMetrics exposes reg on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.WithField("addr", addr).Info("serving metrics")

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func runWatch(parent context.Context, source string) error {
	eng, err := startEngine(parent, true)
	if err != nil {
		return err
	}
	defer eng.Close()

	n := eng.pipeline.Registry().Len()
	if n == 0 {
		fmt.Fprintln(os.Stderr, "⚠️  No identities enrolled. Every face will be unmatched.")
	}
	fmt.Fprintf(os.Stderr, "👀 Watching %s (%d identities, every %d frame(s), threshold %.2f)\n",
		source, n, Cfg.Capture.NthFrame, Cfg.Pipeline.Threshold)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	stream, err := capture.Start(ctx, source, Cfg.Capture.FPS)
	if err != nil {
		utils.ShowError("Failed to start FFmpeg", err, nil)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	frames := make(chan types.FrameTask, 4)

	var read int
	g.Go(func() error {
		defer close(frames)
		var err error
		read, err = stream.Run(gctx, Cfg.Capture.NthFrame, frames)
		return err
	})

	var stats watchStats
	g.Go(func() error {
		// The stream ending normally also stops the metrics server.
		defer cancel()
		var err error
		stats, err = recognizeFrames(gctx, eng.pipeline, frames, Cfg.Pipeline.Threshold, eventPrinter(os.Stdout, watchJSON))
		return err
	})

	if addr := Cfg.Metrics.Addr; addr != "" {
		g.Go(func() error { return serveMetrics(gctx, addr, eng.promReg) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
		if parent.Err() != nil {
			fmt.Fprintln(os.Stderr, "\n🛑 Interrupted.")
		}
	}
	if err != nil {
		utils.ShowError("Watch failed", err, stream.Cmd)
		return err
	}

	fmt.Fprintf(os.Stderr, "🏁 Read %d frames, recognized %d: %d matched, %d without a face, %d events.\n",
		read, stats.Frames, stats.Matched, stats.NoFace, stats.Events)
	return nil
}
