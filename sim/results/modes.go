package results

import (
	"strings"

	"github.com/desim/envir/sim/config"
)

// Per-object options read for every statistic. The object path is the
// component path followed by the statistic name, e.g.
// "**.queue.queueLength.result-recording-modes".
var (
	OptResultRecordingModes = &config.Option{
		Name:        "result-recording-modes",
		PerObject:   true,
		Type:        config.TypeString,
		Default:     "default",
		Description: "Comma separated recording modes: default, all, +mode, -mode or plain mode names.",
	}
	OptScalarRecording = &config.Option{
		Name:        "scalar-recording",
		PerObject:   true,
		Type:        config.TypeBool,
		Default:     "true",
		Description: "Whether scalar, histogram and stats recorders are created for the statistic.",
	}
	OptVectorRecording = &config.Option{
		Name:        "vector-recording",
		PerObject:   true,
		Type:        config.TypeBool,
		Default:     "true",
		Description: "Whether vector recorders are created for the statistic.",
	}
)

// Declare registers the options this package reads.
func Declare(reg *config.Registry) {
	reg.Declare(OptResultRecordingModes)
	reg.Declare(OptScalarRecording)
	reg.Declare(OptVectorRecording)
}

// ResolveModes expands a recording mode list against the declared modes.
// "default" adds the declared modes not marked optional with "?", "all"
// adds every declared mode, "-m" removes m, "+m" or "m" adds m. A list
// starting with "+" or "-" is applied on top of "default". The result
// keeps first-appearance order without duplicates.
func ResolveModes(list string, declared []string) []string {
	var items []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return nil
	}
	if items[0][0] == '+' || items[0][0] == '-' {
		items = append([]string{"default"}, items...)
	}

	var modes []string
	add := func(m string) {
		for _, existing := range modes {
			if existing == m {
				return
			}
		}
		modes = append(modes, m)
	}
	for _, item := range items {
		switch {
		case item == "default":
			for _, d := range declared {
				if !strings.HasSuffix(d, "?") {
					add(d)
				}
			}
		case item == "all":
			for _, d := range declared {
				add(strings.TrimSuffix(d, "?"))
			}
		case item[0] == '-':
			drop := strings.TrimSpace(item[1:])
			kept := modes[:0]
			for _, m := range modes {
				if m != drop {
					kept = append(kept, m)
				}
			}
			modes = kept
		case item[0] == '+':
			add(strings.TrimSpace(item[1:]))
		default:
			add(item)
		}
	}
	return modes
}
