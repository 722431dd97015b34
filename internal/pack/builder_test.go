package pack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/phiinfo/phi-extract/internal/asset"
	"github.com/phiinfo/phi-extract/internal/catalog/catalogtest"
	"github.com/phiinfo/phi-extract/internal/manifest"
	"github.com/phiinfo/phi-extract/internal/source"
	"github.com/phiinfo/phi-extract/internal/unityfs/unityfstest"
)

// fakeFetcher synthesizes payloads from the path and counts fetches
type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), fail: make(map[string]error)}
}

func (f *fakeFetcher) Fetch(_ context.Context, path string, kind asset.Kind) (asset.Payload, error) {
	f.mu.Lock()
	f.calls[path]++
	err := f.fail[path]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	switch kind {
	case asset.KindText:
		return &asset.Text{Content: "chart " + path}, nil
	case asset.KindAudio:
		return &asset.Audio{Length: 90, Data: []byte("audio " + path)}, nil
	default:
		return &asset.Image{Width: len(path), Height: 1, Data: []byte("image " + path)}, nil
	}
}

func songManifest(ids ...string) *manifest.Manifest {
	var r manifest.Resolver
	info := &manifest.Info{}
	for _, id := range ids {
		info.Songs = append(info.Songs, manifest.Song{
			ID:     id,
			Levels: map[string]manifest.Level{"EZ": {}, "HD": {}},
		})
	}
	return r.Resolve(info)
}

func TestBuildDenseIDsWithDuplicates(t *testing.T) {
	m := songManifest("a.0", "b.0", "c.0")
	// shared references: covers and avatars pointing at song assets
	m.CollectionCovers["cover1"] = m.Songs["a.0"].Illustration
	m.CollectionCovers["cover2"] = m.Songs["b.0"].IllustrationBlur
	m.Avatars["avatar1"] = m.Songs["a.0"].Illustration
	m.Avatars["avatar2"] = "Assets/Avatars/Solo.png"
	m.ChapterCovers["c1"] = "Assets/Avatars/Solo.png"
	m.Songs["c.0"].IllustrationLowRes = m.Songs["a.0"].IllustrationLowRes

	f := newFakeFetcher()
	b := &Builder{Fetcher: f, Workers: 4}
	res, err := b.Build(context.Background(), m)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	n := len(m.Paths())
	if res.Registry.Len() != n {
		t.Errorf("stored %d files, want %d", res.Registry.Len(), n)
	}
	for path, calls := range f.calls {
		if calls != 1 {
			t.Errorf("%s fetched %d times", path, calls)
		}
	}

	ids := make(map[int]bool)
	collect := func(l Leaf) { ids[l.ContentID] = true }
	for _, s := range res.Metadata.Songs {
		for _, c := range s.Charts {
			collect(c)
		}
		for _, l := range []*Leaf{s.Illustration, s.IllustrationLowRes, s.IllustrationBlur, s.Music} {
			if l == nil {
				t.Fatal("song leaf missing")
			}
			collect(*l)
		}
	}
	for _, group := range []map[string]Leaf{res.Metadata.CollectionCovers, res.Metadata.Avatars, res.Metadata.ChapterCovers} {
		for _, l := range group {
			collect(l)
		}
	}
	for id := 0; id < n; id++ {
		if !ids[id] {
			t.Errorf("content id %d unreachable from metadata", id)
		}
	}
	if len(ids) != n {
		t.Errorf("metadata references %d ids, want %d", len(ids), n)
	}

	if got, want := res.Metadata.Avatars["avatar1"].ContentID, res.Metadata.Songs["a.0"].Illustration.ContentID; got != want {
		t.Errorf("duplicate path got id %d, want %d", got, want)
	}
	if got, want := res.Metadata.ChapterCovers["c1"].ContentID, res.Metadata.Avatars["avatar2"].ContentID; got != want {
		t.Errorf("duplicate path got id %d, want %d", got, want)
	}
	if len(res.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %v", res.Diagnostics)
	}
}

func TestBuildIsolatesFailures(t *testing.T) {
	m := songManifest("a.0", "b.0")
	f := newFakeFetcher()
	f.fail[m.Songs["b.0"].Music] = fmt.Errorf("decode: %w", asset.ErrTruncatedRead)

	res, err := (&Builder{Fetcher: f}).Build(context.Background(), m)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if res.Metadata.Songs["b.0"].Music != nil {
		t.Error("failed leaf present in metadata")
	}
	if res.Metadata.Songs["b.0"].Illustration == nil {
		t.Error("sibling of a failed leaf missing")
	}
	if len(res.Diagnostics) != 1 || !errors.Is(res.Diagnostics[0].Err, asset.ErrTruncatedRead) {
		t.Errorf("Diagnostics = %v", res.Diagnostics)
	}
	if res.Registry.Len() != len(m.Paths())-1 {
		t.Errorf("stored %d files, want %d", res.Registry.Len(), len(m.Paths())-1)
	}
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Builder{Fetcher: newFakeFetcher()}).Build(ctx, songManifest("a.0"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Build() error = %v, want context.Canceled", err)
	}
}

// fixture builds an archive of real bundles for songs, each song's assets
// in their own bundle
type fixture struct {
	catalog *catalogtest.Builder
	source  *source.Memory
}

func newFixture(t *testing.T, m *manifest.Manifest) *fixture {
	t.Helper()
	fx := &fixture{catalog: catalogtest.New(), source: source.NewMemory()}
	put := func(path, bundle string, b *unityfstest.Builder) {
		data, err := b.Bundle()
		if err != nil {
			t.Fatalf("Bundle() error = %v", err)
		}
		fx.catalog.Add(path, bundle)
		fx.source.Put(bundle, data)
	}

	ids := make([]string, 0, len(m.Songs))
	for id := range m.Songs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for i, id := range ids {
		s := m.Songs[id]
		for diff, path := range s.Charts {
			put(path, id+"_"+diff+".bundle", unityfstest.New().AddText(unityfstest.Text{Name: "Chart_" + diff, Script: "chart " + id + " " + diff}))
		}
		for j, path := range []string{s.Illustration, s.IllustrationLowRes, s.IllustrationBlur} {
			px := bytes.Repeat([]byte{byte(i), byte(j), 0x7f, 0xff}, 8*(j+1)*4)
			put(path, fmt.Sprintf("%s_ill%d.bundle", id, j), unityfstest.New().AddTexture(unityfstest.Texture{
				Name: "Illustration", Width: 8 * (j + 1), Height: 4, Format: 4, Data: px,
			}))
		}
		put(s.Music, id+"_music.bundle", unityfstest.New().AddAudio(unityfstest.Audio{
			Name: "music", Length: float32(100 + i), Data: bytes.Repeat([]byte{byte(i)}, 512),
		}))
	}
	return fx
}

func (fx *fixture) retriever(t *testing.T) *asset.Retriever {
	t.Helper()
	table, err := fx.catalog.Table()
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	return &asset.Retriever{Catalog: table, Source: fx.source}
}

func TestBuildPartialFailure(t *testing.T) {
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("Song%d.Artist.0", i)
	}
	m := songManifest(ids...)
	fx := newFixture(t, m)
	missing := m.Songs["Song3.Artist.0"].Charts["HD"]
	fx.source.Delete("Song3.Artist.0_HD.bundle")

	res, err := (&Builder{Fetcher: fx.retriever(t)}).Build(context.Background(), m)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(res.Metadata.Songs) != 10 {
		t.Errorf("metadata has %d songs, want 10", len(res.Metadata.Songs))
	}
	for id, s := range res.Metadata.Songs {
		want := 2
		if id == "Song3.Artist.0" {
			want = 1
		}
		if len(s.Charts) != want {
			t.Errorf("%s has %d charts, want %d", id, len(s.Charts), want)
		}
	}
	if _, ok := res.Metadata.Songs["Song3.Artist.0"].Charts["HD"]; ok {
		t.Error("unreachable chart present in metadata")
	}
	if len(res.Diagnostics) != 1 {
		t.Fatalf("got %d diagnostics, want 1: %v", len(res.Diagnostics), res.Diagnostics)
	}
	if d := res.Diagnostics[0]; d.Path != missing || !errors.Is(d.Err, source.ErrNotFound) {
		t.Errorf("diagnostic = %v", d)
	}
}

func TestBuildMetadataMatchesFixture(t *testing.T) {
	m := songManifest("Glaciaxion.SunsetRay.0", "Nhelv.Silentroom.0")
	fx := newFixture(t, m)

	res, err := (&Builder{Fetcher: fx.retriever(t)}).Build(context.Background(), m)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	for i, id := range []string{"Glaciaxion.SunsetRay.0", "Nhelv.Silentroom.0"} {
		song := res.Metadata.Songs[id]
		for j, leaf := range []*Leaf{song.Illustration, song.IllustrationLowRes, song.IllustrationBlur} {
			if leaf == nil {
				t.Fatalf("%s illustration %d missing", id, j)
			}
			md := leaf.Metadata
			if md.Width != 8*(j+1) || md.Height != 4 || md.Format != 4 {
				t.Errorf("%s illustration %d = %dx%d format %d", id, j, md.Width, md.Height, md.Format)
			}
		}
		if song.Music == nil || song.Music.Metadata.Length != float32(100+i) {
			t.Errorf("%s music = %+v, want length %d", id, song.Music, 100+i)
		}
		chart, err := res.Registry.Blob(song.Charts["EZ"].ContentID)
		if err != nil || string(chart) != "chart "+id+" EZ" {
			t.Errorf("%s EZ chart = %q, %v", id, chart, err)
		}
	}

	var buf bytes.Buffer
	if err := WritePackage(&buf, res, WriteOptions{}); err != nil {
		t.Fatalf("WritePackage() error = %v", err)
	}
	pkg, err := ReadPackage(&buf)
	if err != nil {
		t.Fatalf("ReadPackage() error = %v", err)
	}
	music := pkg.Metadata.Songs["Nhelv.Silentroom.0"].Music
	if music == nil || music.Metadata.Length != 101 {
		t.Fatalf("round-tripped music = %+v", music)
	}
	if !bytes.Equal(pkg.Files[music.ContentID], bytes.Repeat([]byte{1}, 512)) {
		t.Error("round-tripped music bytes mismatch")
	}
}
