package packagetype

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Media is one media file referenced by a manifest.
type Media struct {
	File   string `json:"file"`
	Height int    `json:"height,omitempty"`
}

// Timecode is a manifest point of interest.
type Timecode struct {
	Time  float64 `json:"timecode"`
	Image string  `json:"image"`
}

// Manifest is the format-independent view of a package description.
type Manifest struct {
	Title     string     `json:"title"`
	Medias    []Media    `json:"medias"`
	Timecodes []Timecode `json:"timecodes"`
}

type xmlManifest struct {
	XMLName   xml.Name `xml:"synchro"`
	Title     string   `xml:"title"`
	Videos    []struct {
		File   string `xml:"file,attr"`
		Height int    `xml:"height,attr"`
	} `xml:"video"`
	Timecodes []struct {
		Time  float64 `xml:"time,attr"`
		Image string  `xml:"image,attr"`
	} `xml:"timecode"`
}

// LoadManifest decodes the manifest of an extracted archive.
func LoadManifest(dir string, version Version) (*Manifest, error) {
	switch version {
	case VersionV2:
		data, err := os.ReadFile(filepath.Join(dir, MarkerV2))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", MarkerV2, err)
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", MarkerV2, err)
		}
		return &m, nil
	case VersionV1:
		data, err := os.ReadFile(filepath.Join(dir, MarkerV1))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", MarkerV1, err)
		}
		var raw xmlManifest
		if err := xml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", MarkerV1, err)
		}
		m := &Manifest{Title: strings.TrimSpace(raw.Title)}
		for _, v := range raw.Videos {
			m.Medias = append(m.Medias, Media{File: v.File, Height: v.Height})
		}
		for _, tc := range raw.Timecodes {
			m.Timecodes = append(m.Timecodes, Timecode{Time: tc.Time, Image: tc.Image})
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown manifest version %d", version)
	}
}

// VideoManifest describes a single-video package.
func VideoManifest(title, file string) *Manifest {
	return &Manifest{Title: title, Medias: []Media{{File: file}}}
}
