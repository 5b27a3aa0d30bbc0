package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/facegate/internal/pipeline"
	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
)

var recognizeJSON bool

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image_path>",
	Short: "Identify the face in an image against the enrolled identities",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRecognize(cmd.Context(), args[0])
	},
}

func init() {
	addEngineFlags(recognizeCmd)
	addThresholdFlag(recognizeCmd)
	recognizeCmd.Flags().BoolVar(&recognizeJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(recognizeCmd)
}

func runRecognize(ctx context.Context, imagePath string) error {
	img, err := utils.LoadImage(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	eng, err := startEngine(ctx, true)
	if err != nil {
		return err
	}
	defer eng.Close()

	if eng.pipeline.Registry().Len() == 0 {
		fmt.Fprintln(os.Stderr, "⚠️  No identities enrolled. Every face will be unmatched.")
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	out := eng.pipeline.Recognize(ctx, img, Cfg.Pipeline.Threshold)

	if recognizeJSON {
		return json.NewEncoder(os.Stdout).Encode(newMatchEvent(0, out))
	}
	fmt.Println(formatOutcome(out))
	return nil
}

func newMatchEvent(frame int, out pipeline.Outcome) types.MatchEvent {
	return types.MatchEvent{
		Frame:  frame,
		Status: out.Status.String(),
		Label:  out.Label,
		Score:  out.Score,
		At:     time.Now(),
	}
}

// formatOutcome renders an outcome as a human-readable status line.
func formatOutcome(out pipeline.Outcome) string {
	switch out.Status {
	case pipeline.StatusNoFace:
		return "❌ No faces detected."
	case pipeline.StatusMatched:
		return fmt.Sprintf("✅ Match: %s (score %.3f)", out.Label, out.Score)
	default:
		return fmt.Sprintf("❓ Unknown face (best score %.3f)", out.Score)
	}
}
