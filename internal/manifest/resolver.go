package manifest

import "sort"

// DefaultChapterRoot is the directory holding chapter cover images
const DefaultChapterRoot = "Assets/Tracks/#ChapterCover"

// LegacyChapterCover was replaced in later game versions by its _2 variant
const LegacyChapterCover = DefaultChapterRoot + "/MainStory8.jpg"

// DefaultRewrites maps retired asset paths to the paths that replaced them
func DefaultRewrites() map[string]string {
	return map[string]string{
		LegacyChapterCover: DefaultChapterRoot + "/MainStory8_2.jpg",
	}
}

// SongPaths holds the logical paths of one song's assets. Charts is keyed
// by difficulty.
type SongPaths struct {
	Charts             map[string]string
	Illustration       string
	IllustrationLowRes string
	IllustrationBlur   string
	Music              string
}

// Manifest groups logical asset paths by domain entity. Songs are keyed by
// song id, collection covers by the declared cover path, avatars by
// addressable key and chapter covers by chapter code.
type Manifest struct {
	Songs            map[string]*SongPaths
	CollectionCovers map[string]string
	Avatars          map[string]string
	ChapterCovers    map[string]string
}

// Paths returns every distinct leaf path in sorted order
func (m *Manifest) Paths() []string {
	seen := make(map[string]struct{})
	add := func(p string) { seen[p] = struct{}{} }
	for _, s := range m.Songs {
		for _, c := range s.Charts {
			add(c)
		}
		add(s.Illustration)
		add(s.IllustrationLowRes)
		add(s.IllustrationBlur)
		add(s.Music)
	}
	for _, group := range []map[string]string{m.CollectionCovers, m.Avatars, m.ChapterCovers} {
		for _, p := range group {
			add(p)
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Resolver derives logical asset paths. The zero value uses
// DefaultChapterRoot and DefaultRewrites.
type Resolver struct {
	ChapterRoot string

	// Rewrites maps a path to the path used in its place. Nil means
	// DefaultRewrites; an empty map disables rewriting.
	Rewrites map[string]string
}

// Canonical returns the path under which path is fetched and deduplicated
func (r *Resolver) Canonical(path string) string {
	rewrites := r.Rewrites
	if rewrites == nil {
		rewrites = DefaultRewrites()
	}
	if to, ok := rewrites[path]; ok {
		return to
	}
	return path
}

func (r *Resolver) chapterRoot() string {
	if r.ChapterRoot != "" {
		return r.ChapterRoot
	}
	return DefaultChapterRoot
}

// SongPaths returns the asset paths of a song
func (r *Resolver) SongPaths(s Song) *SongPaths {
	base := "Assets/Tracks/" + s.ID + "/"
	p := &SongPaths{
		Charts:             make(map[string]string, len(s.Levels)),
		Illustration:       r.Canonical(base + "Illustration.jpg"),
		IllustrationLowRes: r.Canonical(base + "IllustrationLowRes.jpg"),
		IllustrationBlur:   r.Canonical(base + "IllustrationBlur.jpg"),
		Music:              r.Canonical(base + "music.wav"),
	}
	for diff := range s.Levels {
		p.Charts[diff] = r.Canonical(base + "Chart_" + diff + ".json")
	}
	return p
}

// ChapterCover returns the cover path of a chapter
func (r *Resolver) ChapterCover(code string) string {
	return r.Canonical(r.chapterRoot() + "/" + code + ".jpg")
}

// Resolve builds the manifest for info. Entities without an id, cover or
// key are skipped.
func (r *Resolver) Resolve(info *Info) *Manifest {
	m := &Manifest{
		Songs:            make(map[string]*SongPaths, len(info.Songs)),
		CollectionCovers: make(map[string]string, len(info.Collection)),
		Avatars:          make(map[string]string, len(info.Avatars)),
		ChapterCovers:    make(map[string]string, len(info.Chapters)),
	}
	for _, s := range info.Songs {
		if s.ID != "" {
			m.Songs[s.ID] = r.SongPaths(s)
		}
	}
	for _, f := range info.Collection {
		if f.Cover != "" {
			m.CollectionCovers[f.Cover] = r.Canonical(f.Cover)
		}
	}
	for _, a := range info.Avatars {
		if a.AddressableKey != "" {
			m.Avatars[a.AddressableKey] = r.Canonical(a.AddressableKey)
		}
	}
	for _, c := range info.Chapters {
		if c.Code != "" {
			m.ChapterCovers[c.Code] = r.ChapterCover(c.Code)
		}
	}
	return m
}
