package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/target/fbdispatch/internal/domain/model"
	apperrors "github.com/target/fbdispatch/internal/errors"
)

// Default font file ceilings per worker role.
const (
	DefaultMaxFontFiles     = 45
	DefaultMaxDiffFontFiles = 60
)

// Diff bundles carry their files under these directories.
const (
	DiffBeforeDir = "before"
	DiffAfterDir  = "after"
)

// FileRules controls which bundle entries a worker accepts.
type FileRules struct {
	// MaxFonts is the ceiling on accepted font files.
	MaxFonts int
	// Dirs, when set, requires every name to live in exactly one of these directories
	// ("before/A-Regular.ttf"). Names outside them are skipped.
	Dirs []string
}

// CheckerRules returns the rules used by distributor and checker workers.
func CheckerRules(maxFonts int) FileRules {
	if maxFonts <= 0 {
		maxFonts = DefaultMaxFontFiles
	}
	return FileRules{MaxFonts: maxFonts}
}

// DiffRules returns the rules used by diff workers.
func DiffRules(maxFonts int) FileRules {
	if maxFonts <= 0 {
		maxFonts = DefaultMaxDiffFontFiles
	}
	return FileRules{MaxFonts: maxFonts, Dirs: []string{DiffBeforeDir, DiffAfterDir}}
}

// AcceptedFile is a bundle entry that passed validation.
type AcceptedFile struct {
	// Dir is the directory the file was submitted under, empty without FileRules.Dirs.
	Dir  string
	Name string
	Data []byte
}

// RelPath is the path of the file inside a workspace.
func (f AcceptedFile) RelPath() string {
	return filepath.Join(f.Dir, f.Name)
}

// IsFont reports whether the file has a font extension.
func (f AcceptedFile) IsFont() bool {
	ext := strings.ToLower(filepath.Ext(f.Name))
	return ext == ".ttf" || ext == ".otf"
}

// ValidateBundle checks every name in bundle before anything is written to disk. Invalid names
// fail the whole bundle with a preparation error; duplicates are skipped. The returned logs are
// meant for the document's preparation_logs and are valid even when err is set.
func ValidateBundle(bundle model.Bundle, rules FileRules) ([]AcceptedFile, []string, error) {
	var (
		accepted []AcceptedFile
		logs     []string
		fonts    = make(map[string]int)
		seen     = make(map[string]bool, len(bundle))
	)
	for _, blob := range bundle {
		dir, base, ok := splitDir(blob.Name, rules.Dirs)
		if !ok {
			logs = append(logs, fmt.Sprintf("Skipping file name %q must be in one of these directories: %s.",
				blob.Name, strings.Join(withSlash(rules.Dirs), ", ")))
			continue
		}
		if base == "" || base == "." || base == ".." || strings.ContainsAny(base, `/\`) {
			return nil, logs, apperrors.PreparationFile(blob.Name, fmt.Sprintf("Invalid filename: %q.", blob.Name))
		}
		if seen[blob.Name] {
			logs = append(logs, fmt.Sprintf("Skipping duplicate file name %q.", blob.Name))
			continue
		}
		seen[blob.Name] = true

		f := AcceptedFile{Dir: dir, Name: base, Data: blob.Data}
		accepted = append(accepted, f)
		logs = append(logs, fmt.Sprintf("Added file %q.", blob.Name))
		if f.IsFont() {
			fonts[dir]++
		}
	}

	total := 0
	for _, n := range fonts {
		total += n
	}
	if rules.MaxFonts > 0 && total > rules.MaxFonts {
		return nil, logs, apperrors.Preparationf("Found %d font files, but maximum is limiting to %d.",
			total, rules.MaxFonts)
	}
	dirs := rules.Dirs
	if len(dirs) == 0 {
		dirs = []string{""}
	}
	for _, d := range dirs {
		if fonts[d] == 0 {
			if d == "" {
				return nil, logs, apperrors.Preparationf("Could not find font files in job.")
			}
			return nil, logs, apperrors.Preparationf("Could not find font files in %q.", d+"/")
		}
	}
	return accepted, logs, nil
}

func splitDir(name string, dirs []string) (dir, base string, ok bool) {
	if len(dirs) == 0 {
		return "", name, true
	}
	for _, d := range dirs {
		if rest, found := strings.CutPrefix(name, d+"/"); found {
			return d, rest, true
		}
	}
	return "", "", false
}

func withSlash(dirs []string) []string {
	out := make([]string, len(dirs))
	for i, d := range dirs {
		out[i] = d + "/"
	}
	return out
}

// BundleGetter fetches input bundles by cache key.
type BundleGetter interface {
	Get(ctx context.Context, cacheKey string) (model.Bundle, error)
}

// Workspace is a private directory holding one job's validated input files.
type Workspace struct {
	Dir   string
	Files []AcceptedFile
	Logs  []string
}

// PrepareWorkspace fetches the bundle, validates it and writes the accepted files to a fresh
// directory below parent. On error the returned workspace is nil but logs are still returned.
func PrepareWorkspace(
	ctx context.Context,
	blobs BundleGetter,
	cacheKey, parent string,
	rules FileRules,
) (*Workspace, []string, error) {
	bundle, err := blobs.Get(ctx, cacheKey)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch bundle %s: %w", cacheKey, err)
	}
	files, logs, err := ValidateBundle(bundle, rules)
	if err != nil {
		return nil, logs, err
	}

	dir, err := os.MkdirTemp(parent, "fbdispatch-*")
	if err != nil {
		return nil, logs, fmt.Errorf("create workspace: %w", err)
	}
	ws := &Workspace{Dir: dir, Files: files, Logs: logs}
	for _, d := range rules.Dirs {
		if err := os.Mkdir(filepath.Join(dir, d), 0o750); err != nil {
			_ = ws.Cleanup()
			return nil, logs, fmt.Errorf("create workspace dir %s: %w", d, err)
		}
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.RelPath()), f.Data, 0o600); err != nil {
			_ = ws.Cleanup()
			return nil, logs, fmt.Errorf("write %s: %w", f.RelPath(), err)
		}
	}
	return ws, logs, nil
}

// Fonts returns the workspace-relative paths of font files submitted under dir, sorted.
func (w *Workspace) Fonts(dir string) []string {
	if w == nil {
		return nil
	}
	var out []string
	for _, f := range w.Files {
		if f.Dir == dir && f.IsFont() {
			out = append(out, f.RelPath())
		}
	}
	sort.Strings(out)
	return out
}

// Path returns the absolute path of a workspace-relative path.
func (w *Workspace) Path(rel string) string {
	return filepath.Join(w.Dir, rel)
}

// Cleanup removes the workspace directory.
func (w *Workspace) Cleanup() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	return os.RemoveAll(w.Dir)
}
