// Package manifest turns the game's domain info (songs, collections,
// avatars and chapters) into the logical asset paths to extract.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Level is one playable difficulty of a song
type Level struct {
	Charter     string  `json:"charter"`
	AllComboNum int     `json:"all_combo_num"`
	Difficulty  float64 `json:"difficulty"`
}

// Song describes one track. Levels is keyed by difficulty name (EZ, HD,
// IN, AT, Legacy).
type Song struct {
	ID             string           `json:"id"`
	Key            string           `json:"key"`
	Name           string           `json:"name"`
	Composer       string           `json:"composer"`
	Illustrator    string           `json:"illustrator"`
	PreviewTime    float64          `json:"preview_time"`
	PreviewEndTime float64          `json:"preview_end_time"`
	Levels         map[string]Level `json:"levels"`
}

// FileItem is one entry of a collection folder
type FileItem struct {
	Key        string `json:"key"`
	SubIndex   int    `json:"sub_index"`
	Name       string `json:"name"`
	Date       string `json:"date"`
	Supervisor string `json:"supervisor"`
	Category   string `json:"category"`
	Content    string `json:"content"`
	Properties string `json:"properties"`
}

// Folder is a collection folder. Cover is the logical path of its cover
// image.
type Folder struct {
	Title    string     `json:"title"`
	SubTitle string     `json:"sub_title"`
	Cover    string     `json:"cover"`
	Files    []FileItem `json:"files"`
}

// Avatar is a player avatar. AddressableKey is the logical path of its
// image.
type Avatar struct {
	Name           string `json:"name"`
	AddressableKey string `json:"addressable_key"`
}

// Chapter is a story chapter whose cover lives at <root>/<code>.jpg
type Chapter struct {
	Code  string   `json:"code"`
	Name  string   `json:"name"`
	Songs []string `json:"songs"`
}

// Info is the domain info document
type Info struct {
	Songs      []Song    `json:"songs"`
	Collection []Folder  `json:"collection"`
	Avatars    []Avatar  `json:"avatars"`
	Chapters   []Chapter `json:"chapters"`
	Tips       []string  `json:"tips"`
}

// ParseInfo decodes an info document. Comments and trailing commas are
// allowed.
func ParseInfo(data []byte) (*Info, error) {
	var info Info
	if err := json.Unmarshal(jsonc.ToJSON(data), &info); err != nil {
		return nil, fmt.Errorf("failed to parse info document: %w", err)
	}
	return &info, nil
}

// LoadInfo reads and parses the info document at path
func LoadInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	info, err := ParseInfo(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return info, nil
}
