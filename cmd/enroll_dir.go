package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var enrollDirCmd = &cobra.Command{
	Use:   "enroll-dir <directory>",
	Short: "Enroll every image in a directory, labelled by file name",
	Long:  "Enrolls each .jpg, .jpeg and .png file in the directory. The label is the file name without its extension, so alice.jpg is enrolled as 'alice'.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runEnrollDir(cmd.Context(), args[0])
	},
}

func init() {
	addEngineFlags(enrollDirCmd)
	rootCmd.AddCommand(enrollDirCmd)
}

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// imageFiles lists the enrollable images of dir, sorted by name.
func imageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// labelFromPath derives the enrollment label from an image file name.
func labelFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func runEnrollDir(ctx context.Context, dir string) error {
	files, err := imageFiles(dir)
	if err != nil {
		utils.ShowError("Failed to read directory", err, nil)
		return err
	}
	if len(files) == 0 {
		fmt.Println("No images found.")
		return nil
	}

	eng, err := startEngine(ctx, false)
	if err != nil {
		return err
	}
	defer eng.Close()

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("🧬 Enrolling"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("faces"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
	)

	var failed []string
	enrolled := 0
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		bar.Add(1)

		label := labelFromPath(path)
		img, err := utils.LoadImage(path)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", filepath.Base(path), err))
			continue
		}
		if !eng.pipeline.Register(ctx, label, img) {
			failed = append(failed, fmt.Sprintf("%s: %v", filepath.Base(path), errNoFace))
			continue
		}
		vec, _ := eng.pipeline.Registry().Get(label)
		if err := DB.SaveIdentity(ctx, label, vec); err != nil {
			utils.ShowError("Failed to save identity", err, nil)
			return err
		}
		enrolled++
	}
	bar.Finish()

	fmt.Fprintf(os.Stderr, "\n🏁 Enrolled %d of %d images.\n", enrolled, len(files))
	for _, f := range failed {
		fmt.Fprintf(os.Stderr, "   ⚠️  %s\n", f)
	}
	return ctx.Err()
}
