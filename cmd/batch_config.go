package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BatchFile describes a batch of runs:
//
//	config: network.yaml
//	runs: "0..9"
//	settings:
//	  - sim-time-limit=100s
//	  - record-eventlog=true
//
// Settings apply in order after the configuration file is loaded.
type BatchFile struct {
	Config   string   `yaml:"config"`
	Runs     string   `yaml:"runs"`
	Settings []string `yaml:"settings"`
}

// LoadBatchFile parses a batch file. Unknown fields are errors so that
// typos are not silently ignored. A relative config path resolves against
// the batch file's directory.
func LoadBatchFile(path string) (BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BatchFile{}, fmt.Errorf("read batch file: %w", err)
	}
	var b BatchFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
		return BatchFile{}, fmt.Errorf("parse batch file %s: %w", path, err)
	}
	if b.Config != "" && !filepath.IsAbs(b.Config) {
		b.Config = filepath.Join(filepath.Dir(path), b.Config)
	}
	return b, nil
}
