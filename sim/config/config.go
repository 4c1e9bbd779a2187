// Package config is the configuration collaborator of a simulation run.
//
// A Configuration answers two kinds of queries: global options ("network",
// "sim-time-limit") and per-object options, whose keys are an object path
// pattern followed by the option name ("**.server.rng-0"). Values are raw
// text; the typed getters in this package parse them against the option's
// declaration.
package config

import (
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Configuration is queried by the run controller. Implementations return
// raw, unparsed text.
type Configuration interface {
	// ConfigValue returns the value of a global option.
	ConfigValue(name string) (string, bool)
	// PerObjectValue returns the value of option name for the object at
	// objectPath, taken from the first matching pattern.
	PerObjectValue(objectPath, name string) (string, bool)
	// BaseDirectory is the directory relative file names are resolved in.
	BaseDirectory() string
	// Substitute expands ${variable} references in s.
	Substitute(s string) (string, error)
}

// KeyLister is implemented by configurations that can enumerate their keys,
// which enables detection of unknown options.
type KeyLister interface {
	Keys() []string
}

type perObjectEntry struct {
	pattern string // object path pattern, as written
	glob    string // pattern translated to doublestar syntax
	option  string
	value   string
}

// Store is an in-memory Configuration. Entries keep insertion order, and
// per-object lookups return the first matching entry.
type Store struct {
	baseDir   string
	global    map[string]string
	keys      []string
	perObject []perObjectEntry
	vars      map[string]string
}

// NewStore creates an empty Store resolving relative names in baseDir.
func NewStore(baseDir string) *Store {
	return &Store{
		baseDir: baseDir,
		global:  make(map[string]string),
		vars:    make(map[string]string),
	}
}

// Set adds or replaces an entry. Keys containing a dot are per-object
// entries: everything before the last dot is the object pattern. Replacing
// an entry keeps its position.
func (s *Store) Set(key, value string) {
	if idx := strings.LastIndex(key, "."); idx >= 0 {
		pattern, option := key[:idx], key[idx+1:]
		for i, e := range s.perObject {
			if e.pattern == pattern && e.option == option {
				s.perObject[i].value = value
				return
			}
		}
		s.perObject = append(s.perObject, perObjectEntry{pattern: pattern, glob: toGlob(pattern), option: option, value: value})
		s.keys = append(s.keys, key)
		return
	}
	if _, exists := s.global[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.global[key] = value
}

// Override sets key like Set, and additionally gives a per-object entry
// precedence over every other entry. Command-line settings use it.
func (s *Store) Override(key, value string) {
	s.Set(key, value)
	idx := strings.LastIndex(key, ".")
	if idx < 0 {
		return
	}
	pattern, option := key[:idx], key[idx+1:]
	for i, e := range s.perObject {
		if e.pattern == pattern && e.option == option {
			moved := append([]perObjectEntry{e}, s.perObject[:i]...)
			s.perObject = append(moved, s.perObject[i+1:]...)
			return
		}
	}
}

// SetVariable defines a ${name} substitution.
func (s *Store) SetVariable(name, value string) {
	s.vars[name] = value
}

func (s *Store) ConfigValue(name string) (string, bool) {
	v, ok := s.global[name]
	return v, ok
}

func (s *Store) PerObjectValue(objectPath, name string) (string, bool) {
	target := toPath(objectPath)
	for _, e := range s.perObject {
		if e.option != name {
			continue
		}
		if ok, err := doublestar.Match(e.glob, target); err == nil && ok {
			return e.value, true
		}
	}
	return "", false
}

func (s *Store) BaseDirectory() string { return s.baseDir }

func (s *Store) Substitute(text string) (string, error) {
	return substitute(text, s.vars)
}

// Keys returns every key in insertion order.
func (s *Store) Keys() []string {
	return append([]string(nil), s.keys...)
}

var variableRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func substitute(text string, vars map[string]string) (string, error) {
	var missing string
	out := variableRef.ReplaceAllStringFunc(text, func(ref string) string {
		name := ref[2 : len(ref)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		if missing == "" {
			missing = name
		}
		return ref
	})
	if missing != "" {
		return "", Errorf("", "", "unknown variable ${%s} in %q", missing, text)
	}
	return out, nil
}

type withVars struct {
	Configuration
	vars map[string]string
}

// WithVariables returns a view of cfg whose substitutions additionally
// resolve vars, which take precedence over cfg's own variables.
func WithVariables(cfg Configuration, vars map[string]string) Configuration {
	return &withVars{Configuration: cfg, vars: vars}
}

func (w *withVars) Substitute(text string) (string, error) {
	partial := variableRef.ReplaceAllStringFunc(text, func(ref string) string {
		if v, ok := w.vars[ref[2:len(ref)-1]]; ok {
			return v
		}
		return ref
	})
	return w.Configuration.Substitute(partial)
}

func (w *withVars) Keys() []string {
	if kl, ok := w.Configuration.(KeyLister); ok {
		return kl.Keys()
	}
	return nil
}

// Validate reports the first key of cfg that names no declared option.
// Configurations that cannot list their keys are not checked.
func Validate(cfg Configuration, reg *Registry) error {
	kl, ok := cfg.(KeyLister)
	if !ok {
		return nil
	}
	keys := kl.Keys()
	sort.Strings(keys)
	for _, key := range keys {
		name, perObject := key, false
		if idx := strings.LastIndex(key, "."); idx >= 0 {
			name, perObject = key[idx+1:], true
		}
		opt, found := reg.Lookup(name)
		switch {
		case !found:
			return Errorf(key, "", "unknown configuration option")
		case opt.PerObject != perObject && perObject:
			return Errorf(key, "", "option %s= is global, it cannot be set per object", name)
		case opt.PerObject != perObject:
			return Errorf(key, "", "option %s= is per-object, it needs an object pattern, e.g. **.%s", name, name)
		}
	}
	return nil
}

// toGlob translates an object path pattern into doublestar syntax: path
// separators become "/" and index brackets are matched literally.
func toGlob(pattern string) string {
	r := strings.NewReplacer(".", "/", "[", `\[`, "]", `\]`)
	return r.Replace(pattern)
}

func toPath(objectPath string) string {
	return strings.ReplaceAll(objectPath, ".", "/")
}
