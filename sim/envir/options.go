package envir

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"lukechampine.com/blake3"

	"github.com/desim/envir/sim"
	"github.com/desim/envir/sim/config"
	"github.com/desim/envir/sim/eventlog"
	"github.com/desim/envir/sim/fingerprint"
	"github.com/desim/envir/sim/results"
)

// Run options. Defaults may reference ${network}, ${runnumber},
// ${seedset} and ${runid}.
var (
	OptSchedulerClass = &config.Option{Name: "scheduler-class", Type: config.TypeString, Default: "sequential",
		Description: "Event scheduler: sequential or realtime."}
	OptNetwork = &config.Option{Name: "network", Type: config.TypeString,
		Description: "Name of the network to run."}
	OptTotalStack = &config.Option{Name: "total-stack", Type: config.TypeCustom, Default: "0",
		Description: "Stack budget for coroutine-based modules, e.g. 8MiB. 0 means no budget."}
	OptNumRNGs = &config.Option{Name: "num-rngs", Type: config.TypeInt, Default: "1",
		Description: "Number of random number generators."}
	OptRNGClass = &config.Option{Name: "rng-class", Type: config.TypeString, Default: "lfib",
		Description: "Generator class: lfib (math/rand lagged Fibonacci), pcg or chacha8. mt is an alias of lfib."}
	OptSeedSet = &config.Option{Name: "seed-set", Type: config.TypeInt, Default: "${runnumber}",
		Description: "Seed set the generators are seeded from."}
	OptSeed = &config.Option{Name: "seed-%d", Type: config.TypeInt,
		Description: "Explicit seed of generator k, replacing the derived one."}
	OptRNG = &config.Option{Name: "rng-%d", PerObject: true, Type: config.TypeInt,
		Description: "Physical generator that a component's logical generator k maps to."}
	OptVectorClass = &config.Option{Name: "outputvectormanager-class", Type: config.TypeString, Default: "sqlite",
		Description: "Vector result backend: sqlite, memory or none."}
	OptScalarClass = &config.Option{Name: "outputscalarmanager-class", Type: config.TypeString, Default: "sqlite",
		Description: "Scalar result backend: sqlite, memory or none."}
	OptSnapshotClass = &config.Option{Name: "snapshotmanager-class", Type: config.TypeString, Default: "file",
		Description: "Snapshot backend: file, memory or none."}
	OptVectorFile = &config.Option{Name: "output-vector-file", Type: config.TypeFilename,
		Default: "results/${network}-${runnumber}.vec.db", Description: "Vector result database."}
	OptScalarFile = &config.Option{Name: "output-scalar-file", Type: config.TypeFilename,
		Default: "results/${network}-${runnumber}.sca.db", Description: "Scalar result database."}
	OptSnapshotFile = &config.Option{Name: "snapshot-file", Type: config.TypeFilename,
		Default: "results/${network}-${runnumber}.snap.yaml", Description: "Snapshot file."}
	OptDBDriver = &config.Option{Name: "output-db-driver", Type: config.TypeString, Default: "sqlite",
		Description: "SQLite driver: sqlite (pure Go) or sqlite3 (cgo)."}
	OptDebugStatistics = &config.Option{Name: "debug-statistics-recording", Type: config.TypeBool, Default: "false",
		Description: "Log the recorder chains of each component as they are attached."}
	OptCheckSignals = &config.Option{Name: "check-signals", Type: config.TypeBool, Default: "true",
		Description: "Reject emission of undeclared signals."}
	OptWarnings = &config.Option{Name: "warnings", Type: config.TypeBool, Default: "true",
		Description: "Log recoverable problems as warnings."}
	OptFnameAppendHost = &config.Option{Name: "fname-append-host", Type: config.TypeBool, Default: "false",
		Description: "Append the host name to output file names."}
	OptSimTimeLimit = &config.Option{Name: "sim-time-limit", Type: config.TypeDouble, Unit: "s", Default: "0s",
		Description: "Stop before the first event later than this simulated time. 0 means no limit."}
	OptCPUTimeLimit = &config.Option{Name: "cpu-time-limit", Type: config.TypeDouble, Unit: "s", Default: "0s",
		Description: "Stop once this much wall-clock time was spent running events. 0 means no limit."}
	OptWarmupPeriod = &config.Option{Name: "warmup-period", Type: config.TypeDouble, Unit: "s", Default: "0s",
		Description: "Results before this simulated time are discarded."}
	OptFingerprint = &config.Option{Name: "fingerprint", Type: config.TypeString,
		Description: "Expected fingerprint, 8 hex digits."}
	OptFingerprintFatal = &config.Option{Name: "fingerprint-fatal", Type: config.TypeBool, Default: "false",
		Description: "Treat a fingerprint mismatch as a run error."}
	OptBackendErrorsFatal = &config.Option{Name: "result-backend-errors-fatal", Type: config.TypeBool, Default: "false",
		Description: "Fail the run on the first result or event log write failure."}
	OptRecordEventlog = &config.Option{Name: "record-eventlog", Type: config.TypeBool, Default: "false",
		Description: "Record the event log."}
	OptEventlogFile = &config.Option{Name: "eventlog-file", Type: config.TypeFilename,
		Default: "results/${network}-${runnumber}.elog", Description: "Event log file."}
	OptEventlogIntervals = &config.Option{Name: "eventlog-recording-intervals", Type: config.TypeCustom,
		Description: "Comma separated from..to ranges of simulated time or #event numbers."}
	OptRealtimeScaling = &config.Option{Name: "realtime-scaling", Type: config.TypeDouble, Default: "1",
		Description: "Simulated seconds per wall-clock second for the realtime scheduler."}
)

// Declare registers the run options.
func Declare(reg *config.Registry) {
	for _, opt := range []*config.Option{
		OptSchedulerClass, OptNetwork, OptTotalStack, OptNumRNGs, OptRNGClass, OptSeedSet, OptSeed, OptRNG,
		OptVectorClass, OptScalarClass, OptSnapshotClass, OptVectorFile, OptScalarFile, OptSnapshotFile,
		OptDBDriver, OptDebugStatistics, OptCheckSignals, OptWarnings, OptFnameAppendHost,
		OptSimTimeLimit, OptCPUTimeLimit, OptWarmupPeriod, OptFingerprint, OptFingerprintFatal,
		OptBackendErrorsFatal, OptRecordEventlog, OptEventlogFile, OptEventlogIntervals, OptRealtimeScaling,
	} {
		reg.Declare(opt)
	}
}

// NewRegistry returns a registry holding every option a run reads.
func NewRegistry() *config.Registry {
	reg := config.NewRegistry()
	Declare(reg)
	results.Declare(reg)
	eventlog.Declare(reg)
	return reg
}

// Options is the resolved, read-only option set of one run. A batch reads a
// fresh Options for every run.
type Options struct {
	RunNumber int    `yaml:"run-number"`
	RunID     string `yaml:"run-id"`
	Partition int    `yaml:"partition"`

	SchedulerClass  string  `yaml:"scheduler-class"`
	Network         string  `yaml:"network"`
	TotalStack      uint64  `yaml:"total-stack"`
	RealtimeScaling float64 `yaml:"realtime-scaling"`

	NumRNGs       int           `yaml:"num-rngs"`
	RNGClass      string        `yaml:"rng-class"`
	SeedSet       int64         `yaml:"seed-set"`
	SeedOverrides map[int]int64 `yaml:"seed-overrides,omitempty"`

	VectorClass   string `yaml:"outputvectormanager-class"`
	ScalarClass   string `yaml:"outputscalarmanager-class"`
	SnapshotClass string `yaml:"snapshotmanager-class"`
	VectorFile    string `yaml:"output-vector-file"`
	ScalarFile    string `yaml:"output-scalar-file"`
	SnapshotFile  string `yaml:"snapshot-file"`
	DBDriver      string `yaml:"output-db-driver"`

	DebugStatisticsRecording bool `yaml:"debug-statistics-recording"`
	CheckSignals             bool `yaml:"check-signals"`
	Warnings                 bool `yaml:"warnings"`
	FnameAppendHost          bool `yaml:"fname-append-host"`
	BackendErrorsFatal       bool `yaml:"result-backend-errors-fatal"`

	SimTimeLimit sim.Time      `yaml:"sim-time-limit"`
	CPUTimeLimit time.Duration `yaml:"cpu-time-limit"`
	WarmupPeriod sim.Time      `yaml:"warmup-period"`

	Fingerprint      string `yaml:"fingerprint,omitempty"`
	FingerprintFatal bool   `yaml:"fingerprint-fatal"`

	RecordEventlog    bool   `yaml:"record-eventlog"`
	EventlogFile      string `yaml:"eventlog-file"`
	EventlogIntervals string `yaml:"eventlog-recording-intervals,omitempty"`
}

// RunIdentity names the run whose options are read.
type RunIdentity struct {
	Number int
	ID     string
	Host   string // appended to output file names when fname-append-host is set

	// Partition of a distributed run. Output file names of multi-partition
	// runs carry a "-p<Partition>" suffix.
	Partition     int
	NumPartitions int
}

// variables returns the ${...} substitutions of the run: runnumber and
// runid, plus network and seedset once known.
func variables(run RunIdentity) map[string]string {
	return map[string]string{
		"runnumber": strconv.Itoa(run.Number),
		"runid":     run.ID,
	}
}

// ReadOptions resolves every run option from cfg. The configuration is
// read once; the returned Options never change afterwards.
func ReadOptions(cfg config.Configuration, run RunIdentity) (Options, error) {
	vars := variables(run)
	c := config.WithVariables(cfg, vars)
	o := Options{RunNumber: run.Number, RunID: run.ID, Partition: run.Partition}
	var err error

	if o.Network, err = config.GetString(c, OptNetwork, ""); err != nil {
		return Options{}, err
	}
	if o.Network == "" {
		return Options{}, config.Errorf(OptNetwork.Name, "", "no network specified")
	}
	vars["network"] = o.Network
	if o.SeedSet, err = config.GetInt(c, OptSeedSet, int64(run.Number)); err != nil {
		return Options{}, err
	}
	vars["seedset"] = strconv.FormatInt(o.SeedSet, 10)

	r := reader{cfg: c}
	o.SchedulerClass = r.text(OptSchedulerClass)
	o.RNGClass = r.text(OptRNGClass)
	o.NumRNGs = int(r.integer(OptNumRNGs))
	o.VectorClass = r.text(OptVectorClass)
	o.ScalarClass = r.text(OptScalarClass)
	o.SnapshotClass = r.text(OptSnapshotClass)
	o.DBDriver = r.text(OptDBDriver)
	o.VectorFile = r.file(OptVectorFile)
	o.ScalarFile = r.file(OptScalarFile)
	o.SnapshotFile = r.file(OptSnapshotFile)
	o.EventlogFile = r.file(OptEventlogFile)
	o.DebugStatisticsRecording = r.flag(OptDebugStatistics)
	o.CheckSignals = r.flag(OptCheckSignals)
	o.Warnings = r.flag(OptWarnings)
	o.FnameAppendHost = r.flag(OptFnameAppendHost)
	o.BackendErrorsFatal = r.flag(OptBackendErrorsFatal)
	o.FingerprintFatal = r.flag(OptFingerprintFatal)
	o.RecordEventlog = r.flag(OptRecordEventlog)
	o.SimTimeLimit = sim.FromSeconds(r.double(OptSimTimeLimit))
	o.CPUTimeLimit = time.Duration(r.double(OptCPUTimeLimit) * float64(time.Second))
	o.WarmupPeriod = sim.FromSeconds(r.double(OptWarmupPeriod))
	o.RealtimeScaling = r.double(OptRealtimeScaling)
	o.Fingerprint = r.text(OptFingerprint)
	o.EventlogIntervals = r.custom(OptEventlogIntervals)
	stack := r.custom(OptTotalStack)
	if r.err != nil {
		return Options{}, r.err
	}

	if o.TotalStack, err = config.ParseBytes(stack); err != nil {
		return Options{}, &config.Error{Option: OptTotalStack.Name, Err: err}
	}
	if o.NumRNGs < 1 {
		return Options{}, config.Errorf(OptNumRNGs.Name, "", "at least one RNG is required, got %d", o.NumRNGs)
	}
	for _, opt := range []*config.Option{OptSimTimeLimit, OptCPUTimeLimit, OptWarmupPeriod} {
		if v := r.double(opt); v < 0 {
			return Options{}, config.Errorf(opt.Name, "", "must not be negative, got %gs", v)
		}
	}
	if o.Fingerprint != "" {
		if _, err := fingerprint.Parse(o.Fingerprint); err != nil {
			return Options{}, &config.Error{Option: OptFingerprint.Name, Err: err}
		}
	}
	if o.EventlogIntervals != "" {
		if _, err := eventlog.ParseIntervals(o.EventlogIntervals); err != nil {
			return Options{}, &config.Error{Option: OptEventlogIntervals.Name, Err: err}
		}
	}
	if o.SeedOverrides, err = readSeedOverrides(c, o.NumRNGs); err != nil {
		return Options{}, err
	}
	var suffixes []string
	if o.FnameAppendHost && run.Host != "" {
		suffixes = append(suffixes, run.Host)
	}
	if run.NumPartitions > 1 {
		suffixes = append(suffixes, "p"+strconv.Itoa(run.Partition))
	}
	for _, sfx := range suffixes {
		for _, name := range []*string{&o.VectorFile, &o.ScalarFile, &o.SnapshotFile, &o.EventlogFile} {
			*name = appendSuffix(*name, sfx)
		}
	}
	return o, nil
}

// reader keeps the first error of a sequence of reads.
type reader struct {
	cfg config.Configuration
	err error
}

func (r *reader) keep(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) text(opt *config.Option) string {
	v, err := config.GetString(r.cfg, opt, "")
	r.keep(err)
	return v
}

func (r *reader) custom(opt *config.Option) string {
	v, err := config.GetCustom(r.cfg, opt, "")
	r.keep(err)
	return v
}

func (r *reader) file(opt *config.Option) string {
	v, err := config.GetFilename(r.cfg, opt)
	r.keep(err)
	return v
}

func (r *reader) integer(opt *config.Option) int64 {
	v, err := config.GetInt(r.cfg, opt, 0)
	r.keep(err)
	return v
}

func (r *reader) flag(opt *config.Option) bool {
	v, err := config.GetBool(r.cfg, opt, false)
	r.keep(err)
	return v
}

func (r *reader) double(opt *config.Option) float64 {
	v, err := config.GetDouble(r.cfg, opt, 0)
	r.keep(err)
	return v
}

// readSeedOverrides collects seed-<k> settings. Configurations that list
// their keys are scanned so that overrides outside the pool are reported.
func readSeedOverrides(cfg config.Configuration, numRNGs int) (map[int]int64, error) {
	indices := make(map[int]bool)
	if kl, ok := cfg.(config.KeyLister); ok {
		for _, key := range kl.Keys() {
			if rest, found := strings.CutPrefix(key, "seed-"); found {
				if k, err := strconv.Atoi(rest); err == nil {
					indices[k] = true
				}
			}
		}
	} else {
		for k := 0; k < numRNGs; k++ {
			indices[k] = true
		}
	}
	sorted := make([]int, 0, len(indices))
	for k := range indices {
		sorted = append(sorted, k)
	}
	sort.Ints(sorted)

	var overrides map[int]int64
	for _, k := range sorted {
		opt := OptSeed.Instance(k)
		if !config.IsSet(cfg, opt) {
			continue
		}
		seed, err := config.GetInt(cfg, opt, 0)
		if err != nil {
			return nil, err
		}
		if overrides == nil {
			overrides = make(map[int]int64)
		}
		overrides[k] = seed
	}
	return overrides, nil
}

// appendSuffix inserts "-<sfx>" before the extension of name, so
// "results/x.vec.db" becomes "results/x.vec-<sfx>.db".
func appendSuffix(name, sfx string) string {
	if name == "" {
		return name
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "-" + sfx + ext
}

// Digest returns the BLAKE3 hex digest of the YAML rendering of o. Equal
// options give equal digests.
func (o Options) Digest() string {
	data, err := yaml.Marshal(o)
	if err != nil {
		// Options holds only plain values; marshalling cannot fail.
		panic(fmt.Sprintf("envir: marshal options: %v", err))
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// YAML renders o as a YAML document.
func (o Options) YAML() ([]byte, error) {
	return yaml.Marshal(o)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	if i := strings.IndexByte(h, '.'); i > 0 {
		h = h[:i]
	}
	return h
}
