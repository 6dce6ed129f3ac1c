// Package snapshot reads the static JSON export published alongside the
// site. It is the read-only fallback used when the database is unreachable:
// stale content beats a blank page.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound reports that the requested file is absent from the snapshot.
var ErrNotFound = errors.New("snapshot: not found")

type Store struct {
	root string
}

func New(root string) *Store {
	return &Store{root: root}
}

// Read returns the raw bytes of one snapshot file. The relative path is
// cleaned and confined to the snapshot root, so request-derived segments
// cannot escape it.
func (s *Store) Read(rel string) ([]byte, error) {
	clean := strings.TrimPrefix(path.Clean("/"+rel), "/")
	if clean == "" || clean == "." {
		return nil, ErrNotFound
	}
	raw, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(clean)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", clean, err)
	}
	return raw, nil
}

// Load reads one snapshot file and decodes it into T.
func Load[T any](s *Store, rel string) (T, error) {
	var out T
	raw, err := s.Read(rel)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode snapshot %s: %w", rel, err)
	}
	return out, nil
}

// The layout below mirrors the exported site verbatim, including its
// historical quirks: the testimony and analyst indexes sit next to their
// section directory while timeline, resistance and fototeca keep theirs
// inside it. The export job and the frontend both assume these exact paths.

func Countries(lang string) string {
	return path.Join(lang, "countries.json")
}

func Meta(lang, code string) string {
	return path.Join(lang, code, "meta.json")
}

func Description(lang, code string) string {
	return path.Join(lang, code, "description.json")
}

func TimelineIndex(lang, code string) string {
	return path.Join(lang, code, "timeline", "timeline.index.json")
}

func TimelineEvent(lang, code, eventID string) string {
	return path.Join(lang, code, "timeline", eventID+".json")
}

func TestimonyIndex(lang, code string) string {
	return path.Join(lang, code, "testimonies.index.json")
}

func Witness(lang, code, witnessID string) string {
	return path.Join(lang, code, "testimonies", witnessID+".json")
}

func Testimony(lang, code, witnessID, testimonyID string) string {
	return path.Join(lang, code, "testimonies", witnessID, testimonyID+".json")
}

func ResistanceIndex(lang, code string) string {
	return path.Join(lang, code, "resistance", "resistance.index.json")
}

func Resistor(lang, code, resistorID string) string {
	return path.Join(lang, code, "resistance", resistorID+".json")
}

func ResistanceEntry(lang, code, resistorID, entryID string) string {
	return path.Join(lang, code, "resistance", resistorID, entryID+".json")
}

func AnalystIndex(lang, code string) string {
	return path.Join(lang, code, "analysts.index.json")
}

func Analyst(lang, code, analystID string) string {
	return path.Join(lang, code, "analysts", analystID+".json")
}

func Analysis(lang, code, analystID, analysisID string) string {
	return path.Join(lang, code, "analysts", analystID, analysisID+".json")
}

func FototecaIndex(lang, code string) string {
	return path.Join(lang, code, "fototeca", "fototeca.index.json")
}

func VelumIndex(lang string) string {
	return path.Join(lang, "velum", "velum.index.json")
}

func VelumArticle(lang, articleID string) string {
	return path.Join(lang, "velum", articleID+".json")
}

func Terminology(lang string) string {
	return path.Join(lang, "terminology.json")
}

func TerminologyIndex(lang string) string {
	return path.Join(lang, "terminology.index.json")
}

func TerminologyCategory(lang, category, letter string) string {
	return path.Join(lang, "terminology", category, strings.ToLower(letter)+".json")
}
