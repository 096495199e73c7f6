// Package dataset builds record files from a directory tree of labeled images.
//
// The tree has one subdirectory per class.  Class ids are assigned from the sorted
// unique directory names, images are split into train, val and test partitions,
// and each partition is written as one record file plus a statistics sidecar.
package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/janelia-flyem/limbs/limbs"
)

// File is one image in the dataset tree.
type File struct {
	Path  string
	Class string // parent directory name
	Label int    // index of Class among the sorted class names
}

func (f File) String() string {
	return fmt.Sprintf("%s (%d:%s)", f.Path, f.Label, f.Class)
}

var supportedExts = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".tif":  {},
	".tiff": {},
	".bmp":  {},
}

// SupportedExt returns true if images with the extension can be loaded.
func SupportedExt(ext string) bool {
	_, found := supportedExts[strings.ToLower(ext)]
	return found
}

// Scan lists the files ending in imExt inside each of the subdirectories of root.
// If subdirs is empty, every directory directly under root is scanned.  Files are
// returned in sorted path order with labels inferred from their parent directory,
// along with the sorted class names.
func Scan(root string, subdirs []string, imExt string) ([]File, []string, error) {
	if !strings.HasPrefix(imExt, ".") || !SupportedExt(imExt) {
		return nil, nil, limbs.NewConfigError("im_ext", "unsupported image extension %q", imExt)
	}
	if len(subdirs) == 0 {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot list dataset directory %q: %w", root, err)
		}
		for _, e := range entries {
			if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				subdirs = append(subdirs, e.Name())
			}
		}
	}

	var paths []string
	for _, sub := range subdirs {
		dirFiles, err := filepath.Glob(filepath.Join(root, sub, "*"+imExt))
		if err != nil {
			return nil, nil, err
		}
		limbs.Debugf("Found %d files in %s\n", len(dirFiles), filepath.Join(root, sub))
		paths = append(paths, dirFiles...)
	}
	sort.Strings(paths)

	classSet := make(map[string]struct{})
	for _, p := range paths {
		classSet[filepath.Base(filepath.Dir(p))] = struct{}{}
	}
	classes := make([]string, 0, len(classSet))
	for c := range classSet {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	ids := make(map[string]int, len(classes))
	for i, c := range classes {
		ids[c] = i
	}

	files := make([]File, len(paths))
	for i, p := range paths {
		class := filepath.Base(filepath.Dir(p))
		files[i] = File{Path: p, Class: class, Label: ids[class]}
	}
	return files, classes, nil
}

// Partition names.
const (
	Train = "train"
	Val   = "val"
	Test  = "test"
)

// Partitions selects which partitions besides train are produced.
type Partitions struct {
	Val  bool
	Test bool
}

// Partition is a named subset of the dataset.
type Partition struct {
	Name  string
	Files []File
}

// Split shuffles files and divides them by trainProportion.  Train receives
// round(n * trainProportion) files.  The remainder goes to val and test when both
// are requested (val gets the larger half) or to whichever one is requested.  With
// neither requested train receives every file.  Train is always the first
// partition returned.
func Split(files []File, trainProportion float64, parts Partitions, rng *rand.Rand) ([]Partition, error) {
	if trainProportion < 0 || trainProportion > 1 || math.IsNaN(trainProportion) {
		return nil, limbs.NewConfigError("train_proportion", "must be in [0, 1], got %g", trainProportion)
	}
	n := len(files)
	order := rng.Perm(n)
	shuffled := make([]File, n)
	for i, j := range order {
		shuffled[i] = files[j]
	}
	split := int(math.Round(float64(n) * trainProportion))

	out := []Partition{{Name: Train, Files: shuffled[:split]}}
	rest := shuffled[split:]
	switch {
	case parts.Val && parts.Test:
		half := (len(rest) + 1) / 2
		out = append(out, Partition{Name: Val, Files: rest[:half]}, Partition{Name: Test, Files: rest[half:]})
	case parts.Val:
		out = append(out, Partition{Name: Val, Files: rest})
	case parts.Test:
		out = append(out, Partition{Name: Test, Files: rest})
	default:
		out[0].Files = shuffled
	}
	return out, nil
}
