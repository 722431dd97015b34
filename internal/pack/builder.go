package pack

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/phiinfo/phi-extract/internal/asset"
	"github.com/phiinfo/phi-extract/internal/manifest"
)

// Fetcher produces asset payloads by logical path. asset.Retriever is the
// production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, path string, kind asset.Kind) (asset.Payload, error)
}

// SongLeaves mirrors manifest.SongPaths. Leaves whose fetch failed are
// absent.
type SongLeaves struct {
	Charts             map[string]Leaf `json:"charts"`
	Illustration       *Leaf           `json:"illustration,omitempty"`
	IllustrationLowRes *Leaf           `json:"illustration_low_res,omitempty"`
	IllustrationBlur   *Leaf           `json:"illustration_blur,omitempty"`
	Music              *Leaf           `json:"music,omitempty"`
}

// Document is the metadata.json of a package. It mirrors the manifest
// with every path replaced by its leaf.
type Document struct {
	Songs            map[string]*SongLeaves `json:"songs"`
	CollectionCovers map[string]Leaf        `json:"collection_covers"`
	Avatars          map[string]Leaf        `json:"avatars"`
	ChapterCovers    map[string]Leaf        `json:"chapter_covers"`
}

func newDocument() *Document {
	return &Document{
		Songs:            make(map[string]*SongLeaves),
		CollectionCovers: make(map[string]Leaf),
		Avatars:          make(map[string]Leaf),
		ChapterCovers:    make(map[string]Leaf),
	}
}

// Diagnostic records a path that could not be extracted
type Diagnostic struct {
	Path string
	Err  error
}

func (d Diagnostic) String() string {
	return d.Path + ": " + d.Err.Error()
}

// Result is the outcome of a build
type Result struct {
	Metadata    *Document
	Registry    *Registry
	Diagnostics []Diagnostic
}

// Builder runs the extraction pipeline
type Builder struct {
	Fetcher Fetcher

	// Workers bounds concurrent fetches. Zero means runtime.NumCPU().
	Workers int

	// Logger receives one record per failed path. Nil discards.
	Logger *slog.Logger
}

// task is one manifest leaf. place stores its leaf in the document and
// runs under the document lock.
type task struct {
	path  string
	kind  asset.Kind
	place func(*Document, Leaf)
}

// Build extracts every leaf of m. Per-path failures are logged, recorded in
// Result.Diagnostics and leave the leaf out of the metadata; they never stop
// sibling work. A cancelled context stops scheduling and Build returns the
// context error.
func (b *Builder) Build(ctx context.Context, m *manifest.Manifest) (*Result, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	workers := b.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	reg := NewRegistry()
	doc := newDocument()
	var docMu sync.Mutex

	fetch := func(ctx context.Context, path string, kind asset.Kind) (asset.Payload, error) {
		p, err := b.Fetcher.Fetch(ctx, path, kind)
		if err != nil {
			logger.Warn("asset extraction failed", "path", path, "kind", kind.String(), "error", err)
			return nil, err
		}
		logger.Debug("asset extracted", "path", path, "kind", kind.String(), "size", len(p.Bytes()))
		return p, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, t := range tasks(m, doc) {
		t := t
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			leaf, err := reg.GetOrCreate(gctx, t.path, t.kind, fetch)
			if err != nil {
				return nil
			}
			docMu.Lock()
			t.place(doc, leaf)
			docMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Metadata: doc, Registry: reg, Diagnostics: reg.Failures()}
	logger.Info("extraction finished",
		"files", reg.Len(),
		"songs", len(doc.Songs),
		"failures", len(res.Diagnostics),
	)
	return res, nil
}

// tasks flattens m into leaves. Songs get their document entry up front so
// a song whose every leaf failed still appears.
func tasks(m *manifest.Manifest, doc *Document) []task {
	var out []task
	for id, s := range m.Songs {
		song := &SongLeaves{Charts: make(map[string]Leaf, len(s.Charts))}
		doc.Songs[id] = song
		for diff, path := range s.Charts {
			diff := diff
			out = append(out, task{path, asset.KindText, func(_ *Document, l Leaf) { song.Charts[diff] = l }})
		}
		out = append(out,
			task{s.Illustration, asset.KindImage, func(_ *Document, l Leaf) { song.Illustration = &l }},
			task{s.IllustrationLowRes, asset.KindImage, func(_ *Document, l Leaf) { song.IllustrationLowRes = &l }},
			task{s.IllustrationBlur, asset.KindImage, func(_ *Document, l Leaf) { song.IllustrationBlur = &l }},
			task{s.Music, asset.KindAudio, func(_ *Document, l Leaf) { song.Music = &l }},
		)
	}
	for key, path := range m.CollectionCovers {
		key := key
		out = append(out, task{path, asset.KindImage, func(d *Document, l Leaf) { d.CollectionCovers[key] = l }})
	}
	for key, path := range m.Avatars {
		key := key
		out = append(out, task{path, asset.KindImage, func(d *Document, l Leaf) { d.Avatars[key] = l }})
	}
	for code, path := range m.ChapterCovers {
		code := code
		out = append(out, task{path, asset.KindImage, func(d *Document, l Leaf) { d.ChapterCovers[code] = l }})
	}
	return out
}
