// Package storage persists patterns as JSON files and lists sample files.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"

	"github.com/satindergrewal/drumseq/internal/pattern"
)

// SampleExts lists the file extensions treated as samples.
var SampleExts = []string{".wav", ".flac", ".mp3", ".ogg", ".aiff", ".aif"}

var fileNamer = strings.NewReplacer(" ", "_", "/", "_", `\`, "_")

type savedTrack struct {
	Name       string `json:"name,omitempty"`
	Slots      []int  `json:"slots"`
	SamplePath string `json:"sample_path"`
	Choke      int    `json:"choke,omitempty"`
}

type savedPattern struct {
	Name     string       `json:"name"`
	Length   int          `json:"length,omitempty"`
	Division int          `json:"division"`
	Swing    int          `json:"swing,omitempty"`
	Tracks   []savedTrack `json:"tracks"`
}

// Store reads and writes pattern files under one directory and lists
// samples under another.
type Store struct {
	patternsDir string
	samplesDir  string
}

// New creates a store. Directories are created on first save.
func New(patternsDir, samplesDir string) *Store {
	return &Store{patternsDir: patternsDir, samplesDir: samplesDir}
}

// ListPatterns returns saved pattern file names, sorted.
func (s *Store) ListPatterns() ([]string, error) {
	entries, err := os.ReadDir(s.patternsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("list patterns"), ftag.With(ftag.Internal))
	}
	names := []string{}
	for _, e := range entries {
		if e.Type().IsRegular() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// ListSamples returns sample paths relative to the samples directory. Files
// in the root and in its immediate subfolders are listed.
func (s *Store) ListSamples() ([]string, error) {
	entries, err := os.ReadDir(s.samplesDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("list samples"), ftag.With(ftag.Internal))
	}
	files := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			if isSample(e.Name()) {
				files = append(files, e.Name())
			}
			continue
		}
		sub, err := os.ReadDir(filepath.Join(s.samplesDir, e.Name()))
		if err != nil {
			continue
		}
		for _, f := range sub {
			if !f.IsDir() && isSample(f.Name()) {
				files = append(files, e.Name()+"/"+f.Name())
			}
		}
	}
	slices.Sort(files)
	return files, nil
}

// Save writes p and returns its file name, "<name>-<hash8>.json" with spaces
// replaced by underscores. Saving identical content twice returns the same
// name without rewriting the file.
func (s *Store) Save(p *pattern.Pattern) (string, error) {
	data, err := json.MarshalIndent(toSaved(p), "", "  ")
	if err != nil {
		return "", fault.Wrap(err, fmsg.With("encode pattern"), ftag.With(ftag.Internal))
	}

	h := fnv.New64a()
	h.Write(data)
	hash := fmt.Sprintf("%016x", h.Sum64())[:8]
	name := fileNamer.Replace(fmt.Sprintf("%s-%s.json", p.Name, hash))

	if err := os.MkdirAll(s.patternsDir, 0o755); err != nil {
		return "", fault.Wrap(err, fmsg.With("create patterns directory"), ftag.With(ftag.Internal))
	}
	f, err := os.OpenFile(filepath.Join(s.patternsDir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return name, nil
	}
	if err != nil {
		return "", fault.Wrap(err, fmsg.With("create pattern file"), ftag.With(ftag.Internal))
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fault.Wrap(err, fmsg.With("write pattern file"), ftag.With(ftag.Internal))
	}
	if err := f.Close(); err != nil {
		return "", fault.Wrap(err, fmsg.With("close pattern file"), ftag.With(ftag.Internal))
	}
	return name, nil
}

// Load reads and validates a saved pattern. The returned pattern has ID 0;
// callers assign it.
func (s *Store) Load(name string) (*pattern.Pattern, error) {
	if name == "" || filepath.Base(name) != name {
		return nil, fault.New("invalid pattern file name", fmsg.WithDesc("bad name "+name, "Pattern file names cannot contain paths"), ftag.With(ftag.InvalidArgument))
	}

	data, err := os.ReadFile(filepath.Join(s.patternsDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fault.Wrap(err, fmsg.WithDesc("load pattern", "No saved pattern named "+name), ftag.With(ftag.NotFound))
	}
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("read pattern file"), ftag.With(ftag.Internal))
	}

	var sp savedPattern
	if err := json.Unmarshal(data, &sp); err != nil {
		return nil, fault.Wrap(err, fmsg.WithDesc("decode pattern", "Pattern file "+name+" is corrupt"), ftag.With(ftag.InvalidArgument))
	}
	p, err := fromSaved(sp)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.WithDesc("validate pattern", "Pattern file "+name+" is invalid"), ftag.With(ftag.InvalidArgument))
	}
	return p, nil
}

func toSaved(p *pattern.Pattern) savedPattern {
	sp := savedPattern{
		Name:     p.Name,
		Length:   p.Length,
		Division: p.Division,
		Swing:    p.Swing,
		Tracks:   make([]savedTrack, len(p.Tracks)),
	}
	for i, t := range p.Tracks {
		slots := make([]int, len(t.Slots))
		for j, v := range t.Slots {
			slots[j] = int(v)
		}
		sp.Tracks[i] = savedTrack{
			Name:       t.Name,
			Slots:      slots,
			SamplePath: t.Sample,
			Choke:      t.Choke,
		}
	}
	return sp
}

func fromSaved(sp savedPattern) (*pattern.Pattern, error) {
	p := pattern.New(0, sp.Name, sp.Length, sp.Division)
	p.Swing = sp.Swing
	for i, st := range sp.Tracks {
		t := pattern.NewTrack(st.Name, st.SamplePath, len(st.Slots))
		for j, v := range st.Slots {
			if v < 0 || v > pattern.MaxVelocity {
				return nil, fmt.Errorf("%w: track %d slot %d velocity %d", pattern.ErrInvalid, i, j, v)
			}
			t.Slots[j] = uint8(v)
		}
		t.Choke = st.Choke
		p.Tracks = append(p.Tracks, t)
	}
	// files written before the nominal length was stored
	if p.Length == 0 {
		p.Length = p.MasterLength()
		if p.Length == 0 {
			p.Length = pattern.DefaultLength
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func isSample(name string) bool {
	return slices.Contains(SampleExts, strings.ToLower(filepath.Ext(name)))
}
