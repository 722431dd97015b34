package manifest

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const infoDoc = `{
  // exported from the game's level data
  "songs": [
    {
      "id": "Glaciaxion.SunsetRay.0",
      "name": "Glaciaxion",
      "composer": "SunsetRay",
      "levels": {
        "EZ": {"charter": "NerSAN", "all_combo_num": 262, "difficulty": 1.0},
        "HD": {"charter": "NerSAN", "all_combo_num": 469, "difficulty": 6.5},
      },
    },
  ],
  "collection": [
    {"title": "Chapter 1", "cover": "Assets/Collections/Cover1.jpg", "files": [{"key": "f1", "sub_index": 1}]},
  ],
  "avatars": [
    {"name": "Introduction", "addressable_key": "Assets/Avatars/Introduction.png"},
  ],
  "chapters": [
    {"code": "MainStory8"},
    {"code": "SideStory1"},
  ],
  "tips": ["tip one"],
}`

func TestParseInfo(t *testing.T) {
	info, err := ParseInfo([]byte(infoDoc))
	if err != nil {
		t.Fatalf("ParseInfo() error = %v", err)
	}
	if len(info.Songs) != 1 || info.Songs[0].ID != "Glaciaxion.SunsetRay.0" {
		t.Fatalf("Songs = %+v", info.Songs)
	}
	if lv := info.Songs[0].Levels["HD"]; lv.AllComboNum != 469 || lv.Difficulty != 6.5 {
		t.Errorf("HD level = %+v", lv)
	}
	if len(info.Collection) != 1 || info.Collection[0].Files[0].SubIndex != 1 {
		t.Errorf("Collection = %+v", info.Collection)
	}
	if len(info.Chapters) != 2 || len(info.Tips) != 1 {
		t.Errorf("Chapters = %+v, Tips = %v", info.Chapters, info.Tips)
	}

	if _, err := ParseInfo([]byte(`{"songs": [`)); err == nil {
		t.Error("ParseInfo() accepted a truncated document")
	}
}

func TestLoadInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.jsonc")
	if err := os.WriteFile(path, []byte(infoDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := LoadInfo(path)
	if err != nil {
		t.Fatalf("LoadInfo() error = %v", err)
	}
	if len(info.Avatars) != 1 {
		t.Errorf("Avatars = %+v", info.Avatars)
	}
	if _, err := LoadInfo(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("LoadInfo() of a missing file succeeded")
	}
}

func TestResolve(t *testing.T) {
	info, err := ParseInfo([]byte(infoDoc))
	if err != nil {
		t.Fatal(err)
	}
	var r Resolver
	m := r.Resolve(info)

	want := &SongPaths{
		Charts: map[string]string{
			"EZ": "Assets/Tracks/Glaciaxion.SunsetRay.0/Chart_EZ.json",
			"HD": "Assets/Tracks/Glaciaxion.SunsetRay.0/Chart_HD.json",
		},
		Illustration:       "Assets/Tracks/Glaciaxion.SunsetRay.0/Illustration.jpg",
		IllustrationLowRes: "Assets/Tracks/Glaciaxion.SunsetRay.0/IllustrationLowRes.jpg",
		IllustrationBlur:   "Assets/Tracks/Glaciaxion.SunsetRay.0/IllustrationBlur.jpg",
		Music:              "Assets/Tracks/Glaciaxion.SunsetRay.0/music.wav",
	}
	if got := m.Songs["Glaciaxion.SunsetRay.0"]; !reflect.DeepEqual(got, want) {
		t.Errorf("song paths = %+v, want %+v", got, want)
	}
	if got := m.CollectionCovers["Assets/Collections/Cover1.jpg"]; got != "Assets/Collections/Cover1.jpg" {
		t.Errorf("collection cover = %q", got)
	}
	if got := m.Avatars["Assets/Avatars/Introduction.png"]; got != "Assets/Avatars/Introduction.png" {
		t.Errorf("avatar = %q", got)
	}
	if got := m.ChapterCovers["SideStory1"]; got != "Assets/Tracks/#ChapterCover/SideStory1.jpg" {
		t.Errorf("chapter cover = %q", got)
	}
	if n := len(m.Paths()); n != 10 {
		t.Errorf("len(Paths()) = %d, want 10", n)
	}
}

func TestLegacyChapterRewrite(t *testing.T) {
	var r Resolver
	m := r.Resolve(&Info{Chapters: []Chapter{{Code: "MainStory8"}}})
	want := "Assets/Tracks/#ChapterCover/MainStory8_2.jpg"
	if got := m.ChapterCovers["MainStory8"]; got != want {
		t.Errorf("MainStory8 cover = %q, want %q", got, want)
	}
	if got := r.Canonical(LegacyChapterCover); got != want {
		t.Errorf("Canonical(%q) = %q, want %q", LegacyChapterCover, got, want)
	}
	for _, p := range m.Paths() {
		if p == LegacyChapterCover {
			t.Errorf("manifest still references %q", LegacyChapterCover)
		}
	}

	// a collection that declares the legacy cover is rewritten as well
	m = r.Resolve(&Info{Collection: []Folder{{Cover: LegacyChapterCover}}})
	if got := m.CollectionCovers[LegacyChapterCover]; got != want {
		t.Errorf("collection cover = %q, want %q", got, want)
	}
}

func TestResolverOptions(t *testing.T) {
	r := Resolver{ChapterRoot: "Assets/Chapters", Rewrites: map[string]string{}}
	if got := r.ChapterCover("MainStory8"); got != "Assets/Chapters/MainStory8.jpg" {
		t.Errorf("ChapterCover() = %q", got)
	}
	if got := r.Canonical(LegacyChapterCover); got != LegacyChapterCover {
		t.Errorf("Canonical() with rewriting disabled = %q", got)
	}
}
