// Package assets enumerates the audio clips the dispatcher can play: end
// tones, error cues and anything else grouped into named sets.
package assets

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Well-known sets.
const (
	SetTones  = "tones"
	SetErrors = "errors"
)

var ErrNoAssets = errors.New("assets: set is empty")

// Asset is a playable file.
type Asset struct {
	Set  string
	Name string // file name without extension
	Path string
}

type Catalog interface {
	// List returns the set's assets sorted by name.
	List(set string) ([]Asset, error)
}

var audioExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".ogg": true, ".flac": true, ".opus": true, ".m4a": true,
}

// DirCatalog maps each set to a sub-directory of Root.
type DirCatalog struct {
	Root string
}

func NewDirCatalog(root string) *DirCatalog {
	return &DirCatalog{Root: root}
}

func (c *DirCatalog) List(set string) ([]Asset, error) {
	dir := filepath.Join(c.Root, set)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("assets: list %s: %w", set, err)
	}

	var out []Asset
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !audioExtensions[ext] {
			continue
		}
		out = append(out, Asset{
			Set:  set,
			Name: strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			Path: filepath.Join(dir, e.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Sample picks one asset uniformly at random.
func Sample(c Catalog, rng *rand.Rand, set string) (Asset, error) {
	list, err := c.List(set)
	if err != nil {
		return Asset{}, err
	}
	if len(list) == 0 {
		return Asset{}, fmt.Errorf("%w: %s", ErrNoAssets, set)
	}
	return list[rng.Intn(len(list))], nil
}

// Lookup finds an asset by name, case-insensitively.
func Lookup(c Catalog, set, name string) (Asset, error) {
	list, err := c.List(set)
	if err != nil {
		return Asset{}, err
	}
	for _, a := range list {
		if strings.EqualFold(a.Name, name) {
			return a, nil
		}
	}
	return Asset{}, fmt.Errorf("assets: %s/%s: %w", set, name, os.ErrNotExist)
}
