package labels

import (
	"strconv"

	"ompt_exporter/internal/omp"
)

const (
	addressSuffix = ": UNRESOLVED ADDR 0x"
	waitSuffix    = " Wait"
)

// Taxonomy renders subkinds under one runtime prefix. The zero value is not
// usable; build one with New.
type Taxonomy struct {
	prefix string
	labels [numSubkinds]string
	waits  [numSubkinds]string
}

// New precomputes every label for prefix. An empty prefix selects
// DefaultPrefix.
func New(prefix string) *Taxonomy {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	t := &Taxonomy{prefix: prefix}
	for s := Subkind(0); s < numSubkinds; s++ {
		t.labels[s] = prefix + " " + baseLabels[s]
		t.waits[s] = t.labels[s] + waitSuffix
	}
	return t
}

// Prefix returns the runtime name in front of every label.
func (t *Taxonomy) Prefix() string { return t.prefix }

// Label returns the prefixed base label of s.
func (t *Taxonomy) Label(s Subkind) string {
	if s >= numSubkinds {
		s = Unknown
	}
	return t.labels[s]
}

// WithAddress appends the unresolved call-site suffix when the runtime
// supplied an address. A zero address leaves label unchanged.
func WithAddress(label string, codeptr uintptr) string {
	if codeptr == 0 {
		return label
	}
	b := make([]byte, 0, len(label)+len(addressSuffix)+16)
	b = append(b, label...)
	b = append(b, addressSuffix...)
	b = strconv.AppendUint(b, uint64(codeptr), 16)
	return string(b)
}

// Thread names a thread kind. The name doubles as the thread registration
// name and the thread_begin sample name.
func (t *Taxonomy) Thread(tt omp.ThreadType) string {
	return t.labels[ThreadKind(tt)]
}

func (t *Taxonomy) ParallelRegion(codeptr uintptr) string {
	return WithAddress(t.labels[ParallelRegion], codeptr)
}

func (t *Taxonomy) TaskCreate(flags omp.TaskFlag, codeptr uintptr) string {
	return WithAddress(t.labels[TaskCreateKind(flags)], codeptr)
}

// ImplicitTask has no call-site address; the runtime does not report one.
func (t *Taxonomy) ImplicitTask(flags omp.TaskFlag) string {
	return t.labels[ImplicitTaskKind(flags)]
}

func (t *Taxonomy) SyncRegion(kind omp.SyncRegionKind, codeptr uintptr) string {
	return WithAddress(t.labels[SyncKind(kind)], codeptr)
}

// SyncRegionWait labels the waiting part of a sync region, e.g.
// "OpenMP Barrier Wait".
func (t *Taxonomy) SyncRegionWait(kind omp.SyncRegionKind, codeptr uintptr) string {
	return WithAddress(t.waits[SyncKind(kind)], codeptr)
}

func (t *Taxonomy) Work(wt omp.WorkType, codeptr uintptr) string {
	return WithAddress(t.labels[WorkKind(wt)], codeptr)
}

// WorkSample names the count sample emitted with a work begin, keyed by the
// full interval label.
func (t *Taxonomy) WorkSample(wt omp.WorkType, label string) string {
	return CountType(wt) + ": " + label
}

func (t *Taxonomy) Master(codeptr uintptr) string {
	return WithAddress(t.labels[Master], codeptr)
}

func (t *Taxonomy) Flush(codeptr uintptr) string {
	return WithAddress(t.labels[Flush], codeptr)
}

// Cancel returns one sample name per cancel flag set.
func (t *Taxonomy) Cancel(flags omp.CancelFlag, codeptr uintptr) []string {
	kinds := CancelKinds(flags)
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = WithAddress(t.labels[k], codeptr)
	}
	return out
}
