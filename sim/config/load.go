package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a run configuration file. The format is chosen by
// extension: ".cue" files are evaluated as CUE, everything else is YAML.
// Relative file names inside the configuration resolve against the file's
// directory.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	baseDir := filepath.Dir(path)
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		return LoadCUE(path, data, baseDir)
	}
	return LoadYAML(path, data, baseDir)
}

// LoadYAML parses a flat YAML mapping of option keys to scalar values.
// Sequences are accepted for list-valued options and joined with spaces.
// Entry order is preserved, since per-object lookups use the first match.
func LoadYAML(name string, data []byte, baseDir string) (*Store, error) {
	store := NewStore(baseDir)

	var doc yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return store, nil
		}
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if len(doc.Content) == 0 {
		return store, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse %s: line %d: top level must be a mapping of option keys to values", name, root.Line)
	}

	seen := make(map[string]int)
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		if line, dup := seen[k.Value]; dup {
			return nil, fmt.Errorf("parse %s: line %d: duplicate key %q (first set on line %d)", name, k.Line, k.Value, line)
		}
		seen[k.Value] = k.Line

		text, err := yamlText(v)
		if err != nil {
			return nil, fmt.Errorf("parse %s: line %d: key %q: %w", name, v.Line, k.Value, err)
		}
		store.Set(k.Value, text)
	}
	return store, nil
}

func yamlText(n *yaml.Node) (string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return "", nil
		}
		return n.Value, nil
	case yaml.SequenceNode:
		items := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return "", fmt.Errorf("list items must be scalars")
			}
			items = append(items, quoteIfSpaced(item.Value))
		}
		return strings.Join(items, " "), nil
	}
	return "", fmt.Errorf("value must be a scalar or a list of scalars")
}

// LoadCUE evaluates CUE source whose top level is a struct of option keys
// to concrete values. Constraints and references are resolved by CUE
// before the values are read.
func LoadCUE(name string, data []byte, baseDir string) (*Store, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(name))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", name, err)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", name, err)
	}

	iter, err := value.Fields()
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: top level must be a struct: %w", name, err)
	}
	store := NewStore(baseDir)
	for iter.Next() {
		key := iter.Selector().Unquoted()
		text, err := cueText(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: key %q: %w", name, key, err)
		}
		store.Set(key, text)
	}
	return store, nil
}

func cueText(v cue.Value) (string, error) {
	switch v.Kind() {
	case cue.StringKind:
		return v.String()
	case cue.BoolKind:
		b, err := v.Bool()
		return strconv.FormatBool(b), err
	case cue.IntKind:
		i, err := v.Int64()
		return strconv.FormatInt(i, 10), err
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		return strconv.FormatFloat(f, 'g', -1, 64), err
	case cue.NullKind:
		return "", nil
	case cue.ListKind:
		list, err := v.List()
		if err != nil {
			return "", err
		}
		var items []string
		for list.Next() {
			s, err := cueText(list.Value())
			if err != nil {
				return "", err
			}
			items = append(items, quoteIfSpaced(s))
		}
		return strings.Join(items, " "), nil
	}
	return "", fmt.Errorf("unsupported value kind %s", v.Kind())
}

func quoteIfSpaced(s string) string {
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}
