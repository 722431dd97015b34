package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/phiinfo/phi-extract/internal/detector"
	"github.com/phiinfo/phi-extract/internal/pack"
	"github.com/phiinfo/phi-extract/internal/pathutil"
	"github.com/phiinfo/phi-extract/internal/source"
	"github.com/phiinfo/phi-extract/internal/unityfs"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Describe an archive, bundle or package",
	Long: `Detect the format of a file and print its structure.

  - APKs, directories and URLs: catalog size and bundle count
  - UnityFS bundles: header, storage blocks, nodes and serialized objects
  - packages (plain, zstd or lz4): asset counts, and entry names with --list

Examples:
  phi-extract inspect game.apk
  phi-extract inspect ./unpacked/assets/aa/Android/cf_char.bundle
  phi-extract inspect phigros.tar.zst`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var listEntries bool

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().BoolVarP(&listEntries, "list", "l", false, "List package entries")
}

func runInspect(cmd *cobra.Command, args []string) error {
	location := args[0]
	f, err := detector.Detect(location)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "format: %s\n", f)

	switch f {
	case detector.FormatZip, detector.FormatDirectory, detector.FormatRemote:
		orch, err := newOrchestrator(f.String())
		if err != nil {
			return err
		}
		a, err := orch.Open(cmd.Context(), location)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()
		fmt.Fprintf(out, "catalog entries: %d\n", a.Catalog.Len())
		if l, ok := a.Bundles.(source.Lister); ok {
			fmt.Fprintf(out, "bundles: %d\n", len(l.Names()))
		}
		return nil

	case detector.FormatBundle:
		file, err := os.Open(location)
		if err != nil {
			return err
		}
		defer func() { _ = file.Close() }()
		return inspectBundle(out, file)

	case detector.FormatTar, detector.FormatZstd, detector.FormatLZ4:
		file, err := os.Open(location)
		if err != nil {
			return err
		}
		defer func() { _ = file.Close() }()
		return inspectPackage(out, file)

	default:
		return fmt.Errorf("%s: unrecognized format", location)
	}
}

func inspectBundle(out io.Writer, file *os.File) error {
	b, err := unityfs.Open(file)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	h := b.Header
	fmt.Fprintf(out, "unity: %s (%s), bundle format %d, %d bytes\n", h.UnityVersion, h.UnityRevision, h.FormatVersion, h.Size)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BLOCK\tCOMPRESSION\tSTORED\tSIZE")
	for i, blk := range b.Blocks {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", i, blk.Compression(), blk.CompressedSize, blk.UncompressedSize)
	}
	_ = w.Flush()

	if err := b.Unpack(); err != nil {
		return err
	}

	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tPATH\tOFFSET\tSIZE\tOBJECTS")
	for i, n := range b.Nodes {
		objects := "-"
		if sec, err := b.Section(i); err == nil {
			if sf, err := unityfs.ReadSerialized(sec, n.Size); err == nil {
				objects = describeObjects(sf)
				_ = sf.Close()
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n", i, n.Path, n.Offset, n.Size, objects)
	}
	return w.Flush()
}

// describeObjects summarizes a serialized file as class id counts
func describeObjects(sf *unityfs.SerializedFile) string {
	counts := make(map[int32]int)
	var order []int32
	for _, o := range sf.Objects {
		if counts[o.ClassID] == 0 {
			order = append(order, o.ClassID)
		}
		counts[o.ClassID]++
	}
	s := fmt.Sprintf("%d (v%d", len(sf.Objects), sf.Header.Version)
	for _, id := range order {
		s += fmt.Sprintf(", class %d x%d", id, counts[id])
	}
	return s + ")"
}

func inspectPackage(out io.Writer, file *os.File) error {
	pkg, err := pack.ReadPackage(file)
	if err != nil {
		return err
	}
	var size int
	for _, data := range pkg.Files {
		size += len(data)
	}
	doc := pkg.Metadata
	fmt.Fprintf(out, "files: %d (%d bytes)\n", len(pkg.Files), size)
	fmt.Fprintf(out, "songs: %d\ncollection covers: %d\navatars: %d\nchapter covers: %d\n",
		len(doc.Songs), len(doc.CollectionCovers), len(doc.Avatars), len(doc.ChapterCovers))
	if !listEntries {
		return nil
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	names, err := pack.ListEntries(file)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(out, pathutil.NormalizeForDisplay(name))
	}
	return nil
}
