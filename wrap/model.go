package wrap

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// CacheEntry is a rewrite result as persisted in the rewrite cache.
type CacheEntry struct {
	// TemplateVersion is the version of the template the entry was produced with.
	TemplateVersion string
	Status          Status
	// Output is only held for changed modules, an unchanged module is its own output.
	Output     []byte
	Aliases    map[string]string
	Diagnostic string
}

type encCacheEntry struct {
	V string      `msgpack:"v"`
	S uint8       `msgpack:"s"`
	O []byte      `msgpack:"o,omitempty"`
	A [][2]string `msgpack:"a,omitempty"` // sorted alias pairs for a stable encoding
	D string      `msgpack:"d,omitempty"`
}

func newCacheEntry(version string, result Result) CacheEntry {
	entry := CacheEntry{
		TemplateVersion: version,
		Status:          result.Status,
		Aliases:         result.Aliases,
		Diagnostic:      result.Diagnostic,
	}
	if result.Status.Changed() {
		entry.Output = result.Output
	}
	return entry
}

// Result restores the rewrite result for the source the entry was produced from.
func (e CacheEntry) Result(src []byte) Result {
	result := Result{
		Output:     src,
		Status:     e.Status,
		Aliases:    e.Aliases,
		Diagnostic: e.Diagnostic,
	}
	if e.Status.Changed() {
		result.Output = e.Output
	}
	return result
}

// MarshalMsgpack encodes the entry in its compact form.
func (e *CacheEntry) MarshalMsgpack() ([]byte, error) {
	enc := encCacheEntry{
		V: e.TemplateVersion,
		S: uint8(e.Status),
		O: e.Output,
		D: e.Diagnostic,
	}
	for _, name := range slices.Sorted(maps.Keys(e.Aliases)) {
		enc.A = append(enc.A, [2]string{name, e.Aliases[name]})
	}
	return msgpack.Marshal(&enc)
}

// UnmarshalMsgpack decodes an entry written by MarshalMsgpack.
func (e *CacheEntry) UnmarshalMsgpack(data []byte) error {
	var enc encCacheEntry
	if err := msgpack.Unmarshal(data, &enc); err != nil {
		return err
	} else if int(enc.S) >= len(statusNames) {
		return fmt.Errorf("cache entry has unknown status %d", enc.S)
	}
	*e = CacheEntry{
		TemplateVersion: enc.V,
		Status:          Status(enc.S),
		Output:          enc.O,
		Diagnostic:      enc.D,
	}
	if len(enc.A) > 0 {
		e.Aliases = make(map[string]string, len(enc.A))
		for _, pair := range enc.A {
			e.Aliases[pair[0]] = pair[1]
		}
	}
	return nil
}

// FileOutcome records what happened to one page during a run.
type FileOutcome struct {
	// Path is the page path relative to the project directory.
	Path  string `json:"path"`
	Route string `json:"route"`
	// OutputPath is where the rewritten module was written, empty when nothing was written.
	OutputPath string            `json:"output_path,omitempty"`
	Status     Status            `json:"status"`
	Aliases    map[string]string `json:"aliases,omitempty"`
	Diagnostic string            `json:"diagnostic,omitempty"`
	Cached     bool              `json:"cached"`
	// AlreadyWrapped marks an in place page that still carries the wrappers of an earlier run.
	AlreadyWrapped bool          `json:"already_wrapped,omitempty"`
	Duration       time.Duration `json:"-"`
}

// RunSummary aggregates the outcomes of a batch run.
type RunSummary struct {
	StartTime       time.Time
	Duration        time.Duration
	TemplateVersion string
	Outcomes        []FileOutcome
	CacheHits       int64
	CacheMisses     int64
}

// StatusCounts returns the number of pages per status name.
func (s RunSummary) StatusCounts() map[string]int {
	counts := make(map[string]int, len(statusNames))
	for _, name := range statusNames {
		counts[name] = 0
	}
	for _, o := range s.Outcomes {
		counts[o.Status.String()]++
	}
	return counts
}
