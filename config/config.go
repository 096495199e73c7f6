// Package config reads the TOML configuration shared by the dataset builder and
// the batch pipeline.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/janelia-flyem/limbs/augment"
	"github.com/janelia-flyem/limbs/dataset"
	"github.com/janelia-flyem/limbs/limbs"
	"github.com/janelia-flyem/limbs/pipeline"
	"github.com/janelia-flyem/limbs/record"
)

//go:embed schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("schema.json", schemaJSON)

// Config is the parsed TOML configuration.
type Config struct {
	Logging  limbs.LogConfig `toml:"logging"`
	Dataset  DatasetConfig   `toml:"dataset"`
	Pipeline PipelineConfig  `toml:"pipeline"`
	Train    TrainConfig     `toml:"train"`

	location string
}

// DatasetConfig is the [dataset] section used when building record files.
type DatasetConfig struct {
	TrainDirectory   string   `toml:"train_directory"`
	LabelDirectories []string `toml:"label_directories"`
	ImExt            string   `toml:"im_ext"`
	TFRecordDir      string   `toml:"tfrecord_dir"` // local path or bucket URL
	TrainProportion  float64  `toml:"train_proportion"`
	TVTFlags         []string `toml:"tvt_flags"`
	Resize           []int    `toml:"resize"`
	LabelExt         string   `toml:"label_ext"`
	OcclusionExt     string   `toml:"occlusion_ext"`
	MaxFile          string   `toml:"max_file"`
	Compression      string   `toml:"compression"`
	NumWorkers       int      `toml:"num_workers"`
	Seed             int64    `toml:"seed"`
}

// PipelineConfig is the [pipeline] section describing how records decode.
type PipelineConfig struct {
	TargetSize           []int     `toml:"target_size"`
	ModelInputShape      []int     `toml:"model_input_shape"`
	ImageTargetSize      []int     `toml:"image_target_size"`
	ImageInputSize       []int     `toml:"image_input_size"`
	LabelShape           int       `toml:"label_shape"`
	NumDims              int       `toml:"num_dims"`
	MaxValue             *float32  `toml:"max_value"`
	MayaToPixel          bool      `toml:"maya_to_pixel"`
	MayaConversion       []float32 `toml:"maya_conversion"`
	NormalizeLabels      bool      `toml:"normalize_labels"`
	BackgroundMultiplier float32   `toml:"background_multiplier"`
	ClipZ                bool      `toml:"clip_z"`
	Occlusions           bool      `toml:"occlusions"`
	DataAugmentations    []string  `toml:"data_augmentations"`
}

// TrainConfig is the [train] section describing batching.
type TrainConfig struct {
	TrainTFRecords         string `toml:"train_tfrecords"`
	ValTFRecords           string `toml:"val_tfrecords"`
	BatchSize              int    `toml:"batch_size"`
	ValBatchSize           int    `toml:"val_batch_size"`
	NumThreads             int    `toml:"num_threads"`
	Capacity               int    `toml:"capacity"`
	MinAfterDequeue        *int   `toml:"min_after_dequeue"`
	Epochs                 int    `toml:"epochs"`
	AllowSmallerFinalBatch bool   `toml:"allow_smaller_final_batch"`
	SkipCorrupt            bool   `toml:"skip_corrupt"`
	CacheMB                int    `toml:"cache_mb"`
	Seed                   int64  `toml:"seed"`
}

// Load reads, validates and decodes a TOML configuration file.  Relative paths
// are taken relative to the file's directory.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no TOML configuration file provided")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	c, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", filename, err)
	}
	c.location = filename
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %w", err)
	}
	return c, nil
}

// Parse validates and decodes TOML text.  Paths are left as written.
func Parse(data string) (*Config, error) {
	var raw map[string]interface{}
	if _, err := toml.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %w", err)
	}
	if err := validate(raw); err != nil {
		return nil, err
	}
	c := new(Config)
	md, err := toml.Decode(data, c)
	if err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, limbs.NewConfigError(undecoded[0].String(), "unknown setting")
	}
	return c, nil
}

// validate checks the raw TOML tree against the embedded JSON schema.  The tree
// goes through JSON so TOML integer and float types map onto JSON numbers.
func validate(raw map[string]interface{}) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return limbs.NewConfigError(settingName(verr), "%s", strings.TrimSpace(leafMessage(verr)))
		}
		return limbs.NewConfigError("", "%v", err)
	}
	return nil
}

// leafCause returns the most specific validation failure.
func leafCause(verr *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	return verr
}

func leafMessage(verr *jsonschema.ValidationError) string {
	return leafCause(verr).Message
}

func settingName(verr *jsonschema.ValidationError) string {
	loc := strings.Trim(leafCause(verr).InstanceLocation, "/")
	return strings.ReplaceAll(loc, "/", ".")
}

// Location returns the file the configuration was loaded from, if any.
func (c *Config) Location() string {
	return c.location
}

// Some settings can be given as relative paths.  This converts them in place to
// absolute paths, assuming they were relative to the TOML file's own directory.
// Bucket URLs are left alone.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	configDir := filepath.Dir(configPath)
	convert := func(setting string, p *string) error {
		if *p == "" || record.IsBucketRef(*p) {
			return nil
		}
		abs, err := limbs.ConvertToAbsolute(*p, configDir)
		if err != nil {
			return fmt.Errorf("error converting %s setting to absolute path: %w", setting, err)
		}
		*p = abs
		return nil
	}
	for setting, p := range map[string]*string{
		"logging.logfile":         &c.Logging.Logfile,
		"dataset.train_directory": &c.Dataset.TrainDirectory,
		"dataset.tfrecord_dir":    &c.Dataset.TFRecordDir,
	} {
		if err := convert(setting, p); err != nil {
			return err
		}
	}
	// Record files are relative to tfrecord_dir unless given as absolute paths.
	for setting, p := range map[string]*string{
		"train.train_tfrecords": &c.Train.TrainTFRecords,
		"train.val_tfrecords":   &c.Train.ValTFRecords,
	} {
		if *p == "" || record.IsBucketRef(*p) || filepath.IsAbs(*p) {
			continue
		}
		if c.Dataset.TFRecordDir != "" {
			*p = record.JoinRef(c.Dataset.TFRecordDir, *p)
			continue
		}
		if err := convert(setting, p); err != nil {
			return err
		}
	}
	return nil
}

// Augmentations returns the configured augmentation set.
func (c *Config) Augmentations() (augment.Set, error) {
	return augment.ParseSet(c.Pipeline.DataAugmentations)
}

// DecodeConfig returns the decoder settings.  Image augmentations only apply when
// train is set.
func (c *Config) DecodeConfig(train bool) (pipeline.DecodeConfig, error) {
	augs, err := c.Augmentations()
	if err != nil {
		return pipeline.DecodeConfig{}, err
	}
	p := c.Pipeline
	return pipeline.DecodeConfig{
		TargetSize:           p.TargetSize,
		ModelInputShape:      p.ModelInputShape,
		ImageTargetSize:      p.ImageTargetSize,
		ImageInputSize:       p.ImageInputSize,
		LabelShape:           p.LabelShape,
		NumDims:              p.NumDims,
		MaxValue:             p.MaxValue,
		MayaToPixel:          p.MayaToPixel,
		MayaConversion:       p.MayaConversion,
		NormalizeLabels:      p.NormalizeLabels,
		BackgroundMultiplier: p.BackgroundMultiplier,
		ClipZ:                p.ClipZ,
		Occlusions:           p.Occlusions,
		Augmentations:        augs,
		Train:                train,
	}, nil
}

// ProducerConfig returns the batching settings for the training stream, or for
// the validation stream when val is set.
func (c *Config) ProducerConfig(val bool) pipeline.ProducerConfig {
	t := c.Train
	batch := t.BatchSize
	if val && t.ValBatchSize > 0 {
		batch = t.ValBatchSize
	}
	pc := pipeline.DefaultProducerConfig(batch)
	if t.NumThreads > 0 {
		pc.NumThreads = t.NumThreads
	}
	if t.Capacity > 0 {
		pc.Capacity = t.Capacity
	}
	if t.MinAfterDequeue != nil {
		pc.MinAfterDequeue = *t.MinAfterDequeue
	}
	pc.NumEpochs = t.Epochs
	pc.AllowSmallerFinalBatch = t.AllowSmallerFinalBatch
	pc.SkipCorrupt = t.SkipCorrupt
	pc.Seed = t.Seed
	return pc
}

// Source returns the record source for a record file reference, wrapped in a
// cache when cache_mb is set.
func (c *Config) Source(ref string) record.Source {
	var src record.Source = record.NewFileSource(ref)
	if c.Train.CacheMB > 0 {
		src = record.NewCachedSource(src, c.Train.CacheMB)
	}
	return src
}

// BuilderConfig returns the dataset builder settings.
func (c *Config) BuilderConfig() (dataset.Config, error) {
	d := c.Dataset
	compress, err := record.ParseCompression(d.Compression)
	if err != nil {
		return dataset.Config{}, limbs.NewConfigError("dataset.compression", "%v", err)
	}
	var parts dataset.Partitions
	for _, flag := range d.TVTFlags {
		switch flag {
		case dataset.Val:
			parts.Val = true
		case dataset.Test:
			parts.Test = true
		}
	}
	return dataset.Config{
		Root:            d.TrainDirectory,
		Subdirs:         d.LabelDirectories,
		ImExt:           d.ImExt,
		OutputDir:       d.TFRecordDir,
		TrainProportion: d.TrainProportion,
		Partitions:      parts,
		Resize:          d.Resize,
		LabelExt:        d.LabelExt,
		OcclusionExt:    d.OcclusionExt,
		StatsFile:       d.MaxFile,
		Compression:     compress,
		NumWorkers:      d.NumWorkers,
		Seed:            d.Seed,
	}, nil
}

func (c *Config) String() string {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(c); err != nil {
		return fmt.Sprintf("unprintable config: %v", err)
	}
	return sb.String()
}
