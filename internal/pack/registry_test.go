package pack

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/phiinfo/phi-extract/internal/asset"
)

func TestRegistryGetOrCreateConcurrent(t *testing.T) {
	reg := NewRegistry()
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context, string, asset.Kind) (asset.Payload, error) {
		calls.Add(1)
		<-release
		return &asset.Text{Content: "shared"}, nil
	}

	const callers = 32
	leaves := make([]Leaf, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			leaf, err := reg.GetOrCreate(context.Background(), "Assets/shared.json", asset.KindText, fetch)
			if err != nil {
				t.Errorf("GetOrCreate() error = %v", err)
			}
			leaves[i] = leaf
		}()
	}
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("fetch called %d times, want 1", got)
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
	for i, leaf := range leaves {
		if leaf.ContentID != 0 || leaf.Metadata.Size != len("shared") {
			t.Errorf("caller %d got leaf %+v", i, leaf)
		}
	}
}

func TestRegistryRemembersFailures(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	var calls int
	fail := func(context.Context, string, asset.Kind) (asset.Payload, error) {
		calls++
		return nil, boom
	}
	ok := func(context.Context, string, asset.Kind) (asset.Payload, error) {
		return &asset.Audio{Length: 3, Data: []byte("pcm")}, nil
	}

	for i := 0; i < 3; i++ {
		if _, err := reg.GetOrCreate(context.Background(), "bad.wav", asset.KindAudio, fail); !errors.Is(err, boom) {
			t.Fatalf("GetOrCreate(bad) error = %v, want boom", err)
		}
	}
	if calls != 1 {
		t.Errorf("failing fetch called %d times, want 1", calls)
	}

	leaf, err := reg.GetOrCreate(context.Background(), "good.wav", asset.KindAudio, ok)
	if err != nil {
		t.Fatalf("GetOrCreate(good) error = %v", err)
	}
	if leaf.ContentID != 0 {
		t.Errorf("first successful path got id %d, want 0", leaf.ContentID)
	}
	if leaf.Metadata.Kind != "audio" || leaf.Metadata.Length != 3 {
		t.Errorf("metadata = %+v", leaf.Metadata)
	}

	diags := reg.Failures()
	if len(diags) != 1 || diags[0].Path != "bad.wav" {
		t.Errorf("Failures() = %v", diags)
	}
	if _, err := reg.Blob(1); err == nil {
		t.Error("Blob(1) succeeded past the last id")
	}
}

func TestRegistryNilPayload(t *testing.T) {
	reg := NewRegistry()
	empty := func(context.Context, string, asset.Kind) (asset.Payload, error) { return nil, nil }
	if _, err := reg.GetOrCreate(context.Background(), "x", asset.KindImage, empty); err == nil {
		t.Error("GetOrCreate() with a nil payload succeeded")
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
}

func TestDescribe(t *testing.T) {
	img := &asset.Image{Width: 4, Height: 2, Format: 3, Data: make([]byte, 24)}
	m := describe(img, img.Bytes())
	if m.Kind != "image" || m.Width != 4 || m.Height != 2 || m.Format != 3 || m.Size != 24 {
		t.Errorf("describe(image) = %+v", m)
	}
	if len(m.Blake3) != 64 {
		t.Errorf("Blake3 = %q, want 64 hex digits", m.Blake3)
	}
	if other := describe(img, []byte("different")); other.Blake3 == m.Blake3 {
		t.Error("different content produced the same digest")
	}
}
