package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/phiinfo/phi-extract/internal/extractor"
	"github.com/phiinfo/phi-extract/internal/manifest"
	"github.com/phiinfo/phi-extract/internal/pack"
)

var (
	infoPath    string
	compression string
	workers     int
	strict      bool
)

// packCmd represents the pack command
var packCmd = &cobra.Command{
	Use:   "pack <archive>",
	Short: "Extract every asset named by an info document into a package",
	Long: `Extract every chart, illustration, music track, collection cover, avatar
and chapter cover named by an info document and write them as one tar
package.

The package starts with metadata.json, which mirrors the info document with
each asset path replaced by {content_id, metadata}. Payloads follow as
files/<content_id>. A path shared by several entities is extracted and stored
once.

Assets that fail to extract are reported and left out of the metadata; the
rest of the package is still written unless --strict is set.

Examples:
  # Pack an APK using info.json
  phi-extract pack game.apk --info info.json -o phigros.tar

  # Compressed package with eight workers
  phi-extract pack game.apk --info info.json -o phigros.tar.zst --compress zstd --workers 8`,
	Args: cobra.ExactArgs(1),
	RunE: runPack,
}

func init() {
	rootCmd.AddCommand(packCmd)

	packCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output package path, - for stdout (required)")
	packCmd.Flags().StringVar(&infoPath, "info", "", "Info document (default: info from config)")
	packCmd.Flags().StringVar(&compression, "compress", "", "Package compression: none, zstd, lz4 (default: compression from config)")
	packCmd.Flags().IntVarP(&workers, "workers", "j", 0, "Concurrent extractions (default: workers from config, then CPU count)")
	packCmd.Flags().BoolVar(&strict, "strict", false, "Fail when any asset could not be extracted")
	packCmd.Flags().StringVar(&format, "format", "auto", "Force input format: auto, zip, directory, remote")
	_ = packCmd.MarkFlagRequired("output")
}

func runPack(cmd *cobra.Command, args []string) error {
	if infoPath == "" {
		infoPath = cfg.Info
	}
	if infoPath == "" {
		return errors.New("no info document: pass --info or set info in the config")
	}
	info, err := manifest.LoadInfo(infoPath)
	if err != nil {
		return err
	}

	if compression == "" {
		compression = cfg.Compression
	}
	c, err := pack.ParseCompression(compression)
	if err != nil {
		return err
	}
	if workers == 0 {
		workers = cfg.Workers
	}
	if workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", workers)
	}

	orch, err := newOrchestrator(format)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var file *os.File
	if outputPath != "-" {
		file, err = os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		out = file
	}

	start := time.Now()
	res, err := orch.Pack(cmd.Context(), extractor.PackOptions{
		Location: args[0],
		Info:     info,
		Output:   out,
		Workers:  workers,
		Write:    pack.WriteOptions{Compression: c},
	})
	if file != nil {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(outputPath)
		}
	}
	if err != nil {
		return err
	}

	for _, d := range res.Diagnostics {
		fmt.Fprintln(cmd.ErrOrStderr(), d)
	}
	logger.Info("package written",
		"output", outputPath,
		"files", res.Registry.Len(),
		"failed", len(res.Diagnostics),
		"compression", string(c),
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)
	if strict && len(res.Diagnostics) > 0 {
		return fmt.Errorf("%d assets could not be extracted", len(res.Diagnostics))
	}
	return nil
}
