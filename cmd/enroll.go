package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
)

var errNoFace = errors.New("no usable face found")

var enrollCmd = &cobra.Command{
	Use:   "enroll <label> <image_path>",
	Short: "Enroll the face in an image under a label",
	Long:  "Detects the largest face in the image, extracts its embedding and stores it under the label. Re-enrolling a label replaces its embedding.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runEnroll(cmd.Context(), args[0], args[1])
	},
}

func init() {
	addEngineFlags(enrollCmd)
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(ctx context.Context, label, imagePath string) error {
	if err := validateLabel(label); err != nil {
		utils.ShowError("Invalid label", err, nil)
		return err
	}
	img, err := utils.LoadImage(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	eng, err := startEngine(ctx, false)
	if err != nil {
		return err
	}
	defer eng.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	if !eng.pipeline.Register(ctx, label, img) {
		utils.ShowError("Enrollment failed", fmt.Errorf("%w in %s", errNoFace, imagePath), eng.worker.Cmd)
		return errNoFace
	}

	vec, _ := eng.pipeline.Registry().Get(label)
	if err := DB.SaveIdentity(ctx, label, vec); err != nil {
		utils.ShowError("Failed to save identity", err, nil)
		return err
	}

	fmt.Printf("✅ Enrolled '%s' (%d-d embedding)\n", label, vec.Dim())
	return nil
}

// validateLabel rejects labels that would be unusable on the command line.
func validateLabel(label string) error {
	if label == "" {
		return errors.New("label must not be empty")
	}
	for _, r := range label {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("label %q contains control characters", label)
		}
	}
	return nil
}
