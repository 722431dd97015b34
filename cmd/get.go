package cmd

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/phiinfo/phi-extract/internal/asset"
	"github.com/phiinfo/phi-extract/internal/extractor"
)

var (
	outputPath string
	format     string
)

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get {text|music|image} <archive> <asset-path>",
	Short: "Extract a single asset",
	Long: `Extract a single asset by its logical path.

The path is looked up in the catalog, the referenced bundle is opened and the
first object of the requested kind is extracted. Images are written with an
8-byte header holding width and height as little-endian uint32.

Examples:
  # Extract a chart
  phi-extract get text game.apk Assets/Tracks/Glaciaxion.SunsetRay.0/Chart_IN.json -o chart.json

  # Extract music from a remote APK
  phi-extract get music https://example.com/game.apk Assets/Tracks/Glaciaxion.SunsetRay.0/music.wav

  # Write an illustration to stdout
  phi-extract get image ./unpacked Assets/Tracks/Glaciaxion.SunsetRay.0/Illustration.jpg -o -`,
	Args: cobra.ExactArgs(3),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output path, - for stdout (default: base name of the asset path)")
	getCmd.Flags().StringVar(&format, "format", "auto", "Force input format: auto, zip, directory, remote")
}

func runGet(cmd *cobra.Command, args []string) error {
	kind, err := asset.ParseKind(args[0])
	if err != nil {
		return err
	}
	location, assetPath := args[1], args[2]

	orch, err := newOrchestrator(format)
	if err != nil {
		return err
	}
	data, err := orch.Extract(cmd.Context(), extractor.ExtractOptions{
		Location: location,
		Path:     assetPath,
		Kind:     kind,
	})
	if err != nil {
		return err
	}

	out := outputPath
	if out == "" {
		out = path.Base(assetPath)
	}
	if out == "-" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	logger.Info("asset extracted", "path", assetPath, "kind", kind.String(), "bytes", len(data), "output", out)
	return nil
}
