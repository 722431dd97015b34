package asset

import (
	"context"
	"fmt"

	"github.com/phiinfo/phi-extract/internal/catalog"
	"github.com/phiinfo/phi-extract/internal/source"
)

// Retriever serves single assets by logical path: the catalog names the
// owning bundle, the source supplies its bytes and the extractor decodes
// the payload. Errors keep their sentinels so callers can tell a catalog
// miss from a missing bundle or record.
type Retriever struct {
	Catalog   *catalog.Table
	Source    source.Source
	Extractor Extractor

	// Canonical maps a requested path to the path looked up in the
	// catalog. Nil means identity.
	Canonical func(string) string
}

// Fetch extracts the payload of the given kind for path
func (r *Retriever) Fetch(ctx context.Context, path string, kind Kind) (Payload, error) {
	if r.Canonical != nil {
		path = r.Canonical(path)
	}
	name, err := r.Catalog.Bundle(path)
	if err != nil {
		return nil, err
	}
	s, err := r.Source.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer func() { _ = s.Close() }()

	p, err := r.Extractor.Extract(s, kind)
	if err != nil {
		return nil, fmt.Errorf("%s in %s: %w", path, name, err)
	}
	return p, nil
}

// Text returns the content of the text asset at path
func (r *Retriever) Text(ctx context.Context, path string) (string, error) {
	p, err := r.Fetch(ctx, path, KindText)
	if err != nil {
		return "", err
	}
	return p.(*Text).Content, nil
}

// Music returns the raw audio clip data at path
func (r *Retriever) Music(ctx context.Context, path string) ([]byte, error) {
	p, err := r.Fetch(ctx, path, KindAudio)
	if err != nil {
		return nil, err
	}
	return p.Bytes(), nil
}

// Image returns the texture at path framed by WithHeader
func (r *Retriever) Image(ctx context.Context, path string) ([]byte, error) {
	p, err := r.Fetch(ctx, path, KindImage)
	if err != nil {
		return nil, err
	}
	return p.(*Image).WithHeader(), nil
}
