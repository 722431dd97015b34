package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"

	"github.com/phiinfo/phi-extract/internal/asset"
	"github.com/phiinfo/phi-extract/internal/catalog"
	"github.com/phiinfo/phi-extract/internal/detector"
	"github.com/phiinfo/phi-extract/internal/manifest"
	"github.com/phiinfo/phi-extract/internal/pack"
	"github.com/phiinfo/phi-extract/internal/remote"
	"github.com/phiinfo/phi-extract/internal/source"
)

// Options configures how archives are opened and assets resolved
type Options struct {
	// CatalogEntry is the archive entry holding catalog.json
	CatalogEntry string

	// BundlePrefix is the archive directory holding bundles
	BundlePrefix string

	// ForceFormat skips detection when not FormatUnknown
	ForceFormat detector.Format

	// Resolver derives and canonicalizes logical paths
	Resolver *manifest.Resolver

	MaxPayload int64
	ReadAhead  int
	Client     *http.Client
	Logger     *slog.Logger
}

// Archive is an opened input with its catalog loaded
type Archive struct {
	Location string
	Format   detector.Format
	Catalog  *catalog.Table

	// Entries serves whole-archive entry names, Bundles names relative to
	// the bundle prefix
	Entries source.Source
	Bundles source.Source

	closer io.Closer
}

// Close releases the underlying file or connection
func (a *Archive) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// Orchestrator manages opening archives and running extractions
type Orchestrator struct {
	opts   Options
	logger *slog.Logger
}

// NewOrchestrator creates a new extraction orchestrator
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.CatalogEntry == "" {
		opts.CatalogEntry = source.DefaultCatalogEntry
	}
	if opts.Resolver == nil {
		opts.Resolver = &manifest.Resolver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{opts: opts, logger: logger}
}

// Open detects the format of location, opens it and loads its catalog
func (o *Orchestrator) Open(ctx context.Context, location string) (*Archive, error) {
	format := o.opts.ForceFormat
	if format == detector.FormatUnknown {
		var err error
		format, err = detector.Detect(location)
		if err != nil {
			return nil, fmt.Errorf("failed to detect format: %w", err)
		}
	}
	o.logger.Debug("opening archive", "location", location, "format", format.String())

	a := &Archive{Location: location, Format: format}
	switch format {
	case detector.FormatRemote:
		var opts []remote.Option
		if o.opts.ReadAhead > 0 {
			opts = append(opts, remote.WithReadAhead(o.opts.ReadAhead))
		}
		if o.opts.Client != nil {
			opts = append(opts, remote.WithClient(o.opts.Client))
		}
		r, err := remote.NewReader(ctx, location, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create remote reader: %w", err)
		}
		z, err := source.NewZip(r, r.Size())
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		a.Entries, a.closer = z, r

	case detector.FormatZip:
		z, err := source.OpenZip(location)
		if err != nil {
			return nil, err
		}
		a.Entries, a.closer = z, z

	case detector.FormatDirectory:
		a.Entries = &source.Dir{Root: location}

	case detector.FormatBundle:
		return nil, fmt.Errorf("%s is a single bundle without a catalog", location)

	default:
		return nil, fmt.Errorf("unsupported input format %s for %s", format, location)
	}

	prefix, err := o.loadCatalog(a)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Bundles = &source.Prefixed{Source: a.Entries, Prefix: prefix}
	o.logger.Debug("catalog loaded", "entries", a.Catalog.Len(), "bundle_prefix", prefix)
	return a, nil
}

// loadCatalog reads the catalog at CatalogEntry. Directories may instead
// hold catalog.json next to the bundles, in which case the returned bundle
// prefix is empty.
func (o *Orchestrator) loadCatalog(a *Archive) (prefix string, err error) {
	files, ok := a.Entries.(source.FileReader)
	if !ok {
		return "", fmt.Errorf("%s cannot read whole entries", a.Format)
	}

	prefix = o.opts.BundlePrefix
	data, err := files.ReadFile(o.opts.CatalogEntry)
	if errors.Is(err, source.ErrNotFound) && a.Format == detector.FormatDirectory {
		o.logger.Debug("catalog not at archive path, trying directory root", "entry", o.opts.CatalogEntry)
		data, err = files.ReadFile(path.Base(o.opts.CatalogEntry))
		prefix = ""
	}
	if err != nil {
		return "", fmt.Errorf("failed to read catalog: %w", err)
	}

	a.Catalog, err = catalog.FromJSON(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	return prefix, nil
}

// Retriever returns a single-asset retriever over a
func (o *Orchestrator) Retriever(a *Archive) *asset.Retriever {
	return &asset.Retriever{
		Catalog:   a.Catalog,
		Source:    a.Bundles,
		Extractor: asset.Extractor{MaxPayload: o.opts.MaxPayload},
		Canonical: o.opts.Resolver.Canonical,
	}
}

// ExtractOptions contains options for single-asset extraction
type ExtractOptions struct {
	Location string
	Path     string
	Kind     asset.Kind
}

// Extract returns the payload at opts.Path. Images carry the size header.
func (o *Orchestrator) Extract(ctx context.Context, opts ExtractOptions) ([]byte, error) {
	a, err := o.Open(ctx, opts.Location)
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.Close() }()

	r := o.Retriever(a)
	switch opts.Kind {
	case asset.KindText:
		text, err := r.Text(ctx, opts.Path)
		if err != nil {
			return nil, err
		}
		return []byte(text), nil
	case asset.KindAudio:
		return r.Music(ctx, opts.Path)
	default:
		return r.Image(ctx, opts.Path)
	}
}

// PackOptions contains options for a full extraction
type PackOptions struct {
	Location string
	Info     *manifest.Info
	Output   io.Writer
	Workers  int
	Write    pack.WriteOptions
}

// Pack extracts every asset named by opts.Info and writes the package to
// opts.Output
func (o *Orchestrator) Pack(ctx context.Context, opts PackOptions) (*pack.Result, error) {
	a, err := o.Open(ctx, opts.Location)
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.Close() }()

	m := o.opts.Resolver.Resolve(opts.Info)
	o.logger.Info("manifest resolved",
		"songs", len(m.Songs),
		"collection_covers", len(m.CollectionCovers),
		"avatars", len(m.Avatars),
		"chapter_covers", len(m.ChapterCovers),
		"paths", len(m.Paths()),
	)

	b := &pack.Builder{Fetcher: o.Retriever(a), Workers: opts.Workers, Logger: o.logger}
	res, err := b.Build(ctx, m)
	if err != nil {
		return nil, err
	}
	if err := pack.WritePackage(opts.Output, res, opts.Write); err != nil {
		return nil, fmt.Errorf("failed to write package: %w", err)
	}
	return res, nil
}
