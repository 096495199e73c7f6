// Package augment applies the random image augmentations used at training time,
// always in the same order, and reports the crop window when a random crop fires.
package augment

import (
	"sort"
	"strings"

	"github.com/janelia-flyem/limbs/limbs"
)

// Kind is one configurable augmentation.
type Kind uint8

const (
	LeftRight Kind = iota
	UpDown
	RandomContrast
	RandomBrightness
	Rotate
	RandomCrop

	// ConvertLabelsToPixelSpace does not touch the image.  It asks the decode stage
	// to move labels into the resized and cropped image frame.
	ConvertLabelsToPixelSpace

	numKinds
)

var kindNames = [numKinds]string{
	LeftRight:                 "left_right",
	UpDown:                    "up_down",
	RandomContrast:            "random_contrast",
	RandomBrightness:          "random_brightness",
	Rotate:                    "rotate",
	RandomCrop:                "random_crop",
	ConvertLabelsToPixelSpace: "convert_labels_to_pixel_space",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind returns the augmentation with the given configuration name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, limbs.NewConfigError("data_augmentations", "unknown augmentation %q (known: %s)", name, strings.Join(kindNames[:], ", "))
}

// Set is the set of enabled augmentations.  The zero value enables nothing.
type Set uint16

// ParseSet converts configuration names into a Set.  Order and duplicates in the
// names do not matter since augmentations always run in a fixed order.
func ParseSet(names []string) (Set, error) {
	var s Set
	for _, name := range names {
		k, err := ParseKind(name)
		if err != nil {
			return 0, err
		}
		s = s.With(k)
	}
	return s, nil
}

// NewSet returns a set holding the given kinds.
func NewSet(kinds ...Kind) Set {
	var s Set
	for _, k := range kinds {
		s = s.With(k)
	}
	return s
}

// With returns the set with k added.
func (s Set) With(k Kind) Set {
	return s | 1<<k
}

// Has returns true if k is enabled.
func (s Set) Has(k Kind) bool {
	return s&(1<<k) != 0
}

// Kinds returns the enabled kinds in application order.
func (s Set) Kinds() []Kind {
	var kinds []Kind
	for k := Kind(0); k < numKinds; k++ {
		if s.Has(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Names returns the sorted configuration names of the enabled kinds.
func (s Set) Names() []string {
	var names []string
	for _, k := range s.Kinds() {
		names = append(names, k.String())
	}
	sort.Strings(names)
	return names
}

func (s Set) String() string {
	if s == 0 {
		return "none"
	}
	return strings.Join(s.Names(), ",")
}
