// Package migrations embeds the sheetpipe schema and applies it with golang-migrate.
//
// Migration files follow the 001_name.up.sql / 001_name.down.sql convention and are
// compiled into every binary that imports this package, so the uploader, the ingester
// and the migrator all carry the same schema version.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embedded embed.FS

var filenamePattern = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// ErrInvalidSource indicates the embedded migration files are inconsistent.
var ErrInvalidSource = errors.New("invalid migration source")

// File describes a single parsed migration filename.
type File struct {
	Sequence  int
	Name      string
	Direction string
	Filename  string
}

// Source is a validated view over a migration file system.
type Source struct {
	fsys fs.FS
}

// NewSource wraps fsys. A nil fsys selects the embedded migrations.
func NewSource(fsys fs.FS) *Source {
	if fsys == nil {
		fsys = embedded
	}

	return &Source{fsys: fsys}
}

// FS returns the underlying file system for the iofs driver.
func (s *Source) FS() fs.FS {
	return s.fsys
}

// Files returns every well-formed migration file in lexical order.
func (s *Source) Files() ([]File, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []File

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		f, err := parseFilename(entry.Name())
		if err != nil {
			continue
		}

		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })

	return files, nil
}

// LatestVersion returns the highest sequence number in the source, or 0 when empty.
func (s *Source) LatestVersion() int {
	files, err := s.Files()
	if err != nil {
		return 0
	}

	latest := 0

	for _, f := range files {
		if f.Sequence > latest {
			latest = f.Sequence
		}
	}

	return latest
}

// Validate checks naming, up/down pairing and sequence continuity.
func (s *Source) Validate() error {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}

	pairs := make(map[int]map[string]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		f, err := parseFilename(entry.Name())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSource, err)
		}

		if pairs[f.Sequence] == nil {
			pairs[f.Sequence] = make(map[string]string)
		}

		if existing, ok := pairs[f.Sequence][f.Direction]; ok {
			return fmt.Errorf("%w: sequence %03d has two %s migrations: %s and %s",
				ErrInvalidSource, f.Sequence, f.Direction, existing, f.Filename)
		}

		pairs[f.Sequence][f.Direction] = f.Filename
	}

	if len(pairs) == 0 {
		return fmt.Errorf("%w: no migration files found", ErrInvalidSource)
	}

	sequences := make([]int, 0, len(pairs))
	for seq := range pairs {
		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	for i, seq := range sequences {
		if seq != i+1 {
			return fmt.Errorf("%w: expected sequence %03d, found %03d", ErrInvalidSource, i+1, seq)
		}

		if _, ok := pairs[seq]["up"]; !ok {
			return fmt.Errorf("%w: sequence %03d has no up migration", ErrInvalidSource, seq)
		}

		if _, ok := pairs[seq]["down"]; !ok {
			return fmt.Errorf("%w: sequence %03d has no down migration", ErrInvalidSource, seq)
		}
	}

	return nil
}

func parseFilename(name string) (File, error) {
	m := filenamePattern.FindStringSubmatch(name)
	if len(m) != 4 {
		return File{}, fmt.Errorf("invalid migration filename %q (expected 001_name.up.sql)", name)
	}

	seq, err := strconv.Atoi(m[1])
	if err != nil {
		return File{}, fmt.Errorf("invalid sequence in %q: %w", name, err)
	}

	return File{Sequence: seq, Name: m[2], Direction: m[3], Filename: name}, nil
}
