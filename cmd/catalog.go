package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/phiinfo/phi-extract/internal/catalog"
)

var showAll bool

// catalogCmd represents the catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog <archive> [asset-path...]",
	Short: "List catalog entries or look up asset paths",
	Long: `Print the addressables catalog of an archive.

Without asset paths every entry with a string key and a resolved reference is
printed as key and bundle. With asset paths each one is looked up and its
bundle printed; lookups apply the configured path rewrites.

Examples:
  # List every asset path and its bundle
  phi-extract catalog game.apk

  # Include byte keys and entries without a reference
  phi-extract catalog game.apk --all

  # Look up one path
  phi-extract catalog game.apk Assets/Tracks/Glaciaxion.SunsetRay.0/music.wav`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCatalog,
}

func init() {
	rootCmd.AddCommand(catalogCmd)

	catalogCmd.Flags().BoolVarP(&showAll, "all", "a", false, "List every entry, including byte keys and unresolved values")
	catalogCmd.Flags().StringVar(&format, "format", "auto", "Force input format: auto, zip, directory, remote")
}

func runCatalog(cmd *cobra.Command, args []string) error {
	orch, err := newOrchestrator(format)
	if err != nil {
		return err
	}
	a, err := orch.Open(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	if paths := args[1:]; len(paths) > 0 {
		r := orch.Retriever(a)
		var missed int
		for _, p := range paths {
			bundle, err := a.Catalog.Bundle(r.Canonical(p))
			if err != nil {
				logger.Warn("lookup failed", "path", p, "error", err)
				missed++
				continue
			}
			fmt.Fprintf(w, "%s\t%s\n", p, bundle)
		}
		if missed > 0 {
			_ = w.Flush()
			return fmt.Errorf("%d of %d paths not found", missed, len(paths))
		}
		return nil
	}

	var listed int
	for _, e := range a.Catalog.Entries() {
		if !showAll && (!e.Key.IsString() || e.Value == nil || e.Value.IsReference()) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Key, e.Key.Type, describeValue(e.Value))
		listed++
	}
	logger.Debug("catalog listed", "entries", a.Catalog.Len(), "listed", listed)
	return nil
}

func describeValue(v *catalog.Value) string {
	switch {
	case v == nil:
		return "-"
	case v.IsReference():
		return fmt.Sprintf("#%d", v.Raw)
	default:
		return v.Resolved.String()
	}
}
