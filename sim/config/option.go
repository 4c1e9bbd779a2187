package config

import (
	"sort"
	"strconv"
	"strings"
)

// Type is the declared value type of an option.
type Type int

const (
	TypeBool Type = iota
	TypeInt
	TypeDouble
	TypeString
	TypeFilename
	TypeFilenames
	TypePath
	TypeCustom
)

var typeNames = map[Type]string{
	TypeBool:      "bool",
	TypeInt:       "int",
	TypeDouble:    "double",
	TypeString:    "string",
	TypeFilename:  "filename",
	TypeFilenames: "filenames",
	TypePath:      "path",
	TypeCustom:    "custom",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Option declares one configuration option. Name may contain a single "%d"
// placeholder, e.g. "rng-%d", matching any non-negative decimal number.
type Option struct {
	Name        string
	PerObject   bool
	Type        Type
	Unit        string // for TypeDouble, e.g. "s"; empty for dimensionless
	Default     string // raw default text; empty means no default
	Description string
}

// Registry holds declared options. Declarations are made once, before any
// configuration is read.
type Registry struct {
	byName map[string]*Option
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Option)}
}

// Declare adds opt and returns it. Declaring a name twice panics.
func (r *Registry) Declare(opt *Option) *Option {
	if _, exists := r.byName[opt.Name]; exists {
		panic("config: option declared twice: " + opt.Name)
	}
	r.byName[opt.Name] = opt
	return opt
}

// Lookup finds the declaration matching name, resolving "%d" placeholders.
func (r *Registry) Lookup(name string) (*Option, bool) {
	if opt, ok := r.byName[name]; ok {
		return opt, true
	}
	for declared, opt := range r.byName {
		prefix, suffix, found := strings.Cut(declared, "%d")
		if !found || len(name) <= len(prefix)+len(suffix) ||
			!strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		if isDecimal(name[len(prefix) : len(name)-len(suffix)]) {
			return opt, true
		}
	}
	return nil, false
}

// Options returns all declarations sorted by name.
func (r *Registry) Options() []*Option {
	opts := make([]*Option, 0, len(r.byName))
	for _, opt := range r.byName {
		opts = append(opts, opt)
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].Name < opts[j].Name })
	return opts
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Instance returns a copy of a "%d" option declaration bound to index n,
// e.g. "rng-%d" bound to 2 reads "rng-2".
func (o *Option) Instance(n int) *Option {
	bound := *o
	bound.Name = strings.Replace(o.Name, "%d", strconv.Itoa(n), 1)
	return &bound
}
