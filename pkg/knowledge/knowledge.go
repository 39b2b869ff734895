// Package knowledge holds the per-investigation accumulator of confirmed
// facts. One Base belongs to exactly one investigation: the assess step
// writes it, every later planner reads it, nothing is shared across
// investigations.
package knowledge

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/cleargate/vantage/pkg/entity"
)

// EmploymentRecord is one confirmed employment span.
type EmploymentRecord struct {
	Employer   string   `json:"employer"`
	Title      string   `json:"title,omitempty"`
	Start      string   `json:"start,omitempty"` // YYYY-MM
	End        string   `json:"end,omitempty"`   // YYYY-MM, empty = current
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
}

// EducationRecord is one confirmed credential.
type EducationRecord struct {
	Institution string   `json:"institution"`
	Degree      string   `json:"degree,omitempty"`
	Field       string   `json:"field,omitempty"`
	Year        string   `json:"year,omitempty"`
	Sources     []string `json:"sources"`
	Confidence  float64  `json:"confidence"`
}

// LicenseRecord is one professional license or registration.
type LicenseRecord struct {
	Authority string   `json:"authority"`
	Kind      string   `json:"kind"`
	Number    string   `json:"number,omitempty"`
	Status    string   `json:"status,omitempty"`
	Sources   []string `json:"sources"`
}

// Discovery is a person or organization surfaced mid-investigation,
// queued for the network phase.
type Discovery struct {
	Name     string              `json:"name"`
	Kind     entity.Kind         `json:"kind"`
	Relation entity.RelationKind `json:"relation"`
	Strength float64             `json:"strength"`
	Source   string              `json:"source"`
}

// snapshot is the serialized form of a Base.
type snapshot struct {
	NameVariants  []string           `json:"name_variants"`
	DOB           string             `json:"dob,omitempty"`
	Addresses     []string           `json:"addresses"`
	Employment    []EmploymentRecord `json:"employment"`
	Education     []EducationRecord  `json:"education"`
	Licenses      []LicenseRecord    `json:"licenses"`
	Discoveries   []Discovery        `json:"discoveries"`
	Jurisdictions []string           `json:"jurisdictions"`
}

// Base is the knowledge base for one investigation. All methods are safe
// for the bounded concurrency inside a phase; the lock is investigation
// scoped.
type Base struct {
	mu sync.Mutex
	s  snapshot
}

// New creates an empty base seeded with the subject's own name.
func New(subjectName string) *Base {
	b := &Base{}
	if subjectName != "" {
		b.s.NameVariants = []string{normalize(subjectName)}
	}
	return b
}

func normalize(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}

// ObserveThenAdd checks a predicate and runs the write in one critical
// section. Two concurrent callers that both observe a missing fact
// converge: exactly one write wins and the other caller sees it present.
// Returns whether the write ran.
func (b *Base) ObserveThenAdd(missing func(*View) bool, add func(*Writer)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !missing((*View)(b)) {
		return false
	}
	add((*Writer)(b))
	return true
}

// View exposes read accessors. Obtained inside ObserveThenAdd or via
// Read; the caller must not retain it past the callback.
type View Base

// Writer exposes mutation accessors inside ObserveThenAdd.
type Writer Base

// Read runs fn with a consistent view of the base.
func (b *Base) Read(fn func(*View)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn((*View)(b))
}

// Write runs fn holding the investigation lock.
func (b *Base) Write(fn func(*Writer)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn((*Writer)(b))
}

func (v *View) NameVariants() []string  { return append([]string(nil), v.s.NameVariants...) }
func (v *View) DOB() string             { return v.s.DOB }
func (v *View) Addresses() []string     { return append([]string(nil), v.s.Addresses...) }
func (v *View) Jurisdictions() []string { return append([]string(nil), v.s.Jurisdictions...) }
func (v *View) Employment() []EmploymentRecord {
	return append([]EmploymentRecord(nil), v.s.Employment...)
}
func (v *View) Education() []EducationRecord {
	return append([]EducationRecord(nil), v.s.Education...)
}
func (v *View) Licenses() []LicenseRecord {
	return append([]LicenseRecord(nil), v.s.Licenses...)
}
func (v *View) Discoveries() []Discovery {
	return append([]Discovery(nil), v.s.Discoveries...)
}

// HasNameVariant reports whether the normalized variant is known.
func (v *View) HasNameVariant(name string) bool {
	n := normalize(name)
	for _, have := range v.s.NameVariants {
		if have == n {
			return true
		}
	}
	return false
}

// HasEmployer reports whether any employment record names the employer.
func (v *View) HasEmployer(employer string) bool {
	n := normalize(employer)
	for _, rec := range v.s.Employment {
		if normalize(rec.Employer) == n {
			return true
		}
	}
	return false
}

func (w *Writer) AddNameVariant(name string) {
	n := normalize(name)
	if n == "" {
		return
	}
	for _, have := range w.s.NameVariants {
		if have == n {
			return
		}
	}
	w.s.NameVariants = append(w.s.NameVariants, n)
}

// SetDOB records the date of birth; the first confirmed value sticks and
// a differing later value is reported back as a conflict.
func (w *Writer) SetDOB(dob string) (conflict bool) {
	if dob == "" {
		return false
	}
	if w.s.DOB == "" {
		w.s.DOB = dob
		return false
	}
	return w.s.DOB != dob
}

func (w *Writer) AddAddress(addr string) {
	n := normalize(addr)
	if n == "" {
		return
	}
	for _, have := range w.s.Addresses {
		if have == n {
			return
		}
	}
	w.s.Addresses = append(w.s.Addresses, n)
}

func (w *Writer) AddJurisdiction(code string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return
	}
	for _, have := range w.s.Jurisdictions {
		if have == code {
			return
		}
	}
	w.s.Jurisdictions = append(w.s.Jurisdictions, code)
	sort.Strings(w.s.Jurisdictions)
}

// AddEmployment merges by (employer, start): a repeat observation unions
// sources and keeps the higher confidence.
func (w *Writer) AddEmployment(rec EmploymentRecord) {
	key := normalize(rec.Employer) + "|" + rec.Start
	for i, have := range w.s.Employment {
		if normalize(have.Employer)+"|"+have.Start == key {
			w.s.Employment[i].Sources = unionSources(have.Sources, rec.Sources)
			if rec.Confidence > have.Confidence {
				w.s.Employment[i].Confidence = rec.Confidence
			}
			if have.Title == "" {
				w.s.Employment[i].Title = rec.Title
			}
			if have.End == "" && rec.End != "" {
				w.s.Employment[i].End = rec.End
			}
			return
		}
	}
	w.s.Employment = append(w.s.Employment, rec)
}

func (w *Writer) AddEducation(rec EducationRecord) {
	key := normalize(rec.Institution) + "|" + normalize(rec.Degree)
	for i, have := range w.s.Education {
		if normalize(have.Institution)+"|"+normalize(have.Degree) == key {
			w.s.Education[i].Sources = unionSources(have.Sources, rec.Sources)
			if rec.Confidence > have.Confidence {
				w.s.Education[i].Confidence = rec.Confidence
			}
			return
		}
	}
	w.s.Education = append(w.s.Education, rec)
}

func (w *Writer) AddLicense(rec LicenseRecord) {
	key := normalize(rec.Authority) + "|" + normalize(rec.Kind) + "|" + rec.Number
	for i, have := range w.s.Licenses {
		if normalize(have.Authority)+"|"+normalize(have.Kind)+"|"+have.Number == key {
			w.s.Licenses[i].Sources = unionSources(have.Sources, rec.Sources)
			return
		}
	}
	w.s.Licenses = append(w.s.Licenses, rec)
}

func (w *Writer) AddDiscovery(d Discovery) {
	key := normalize(d.Name) + "|" + string(d.Relation)
	for i, have := range w.s.Discoveries {
		if normalize(have.Name)+"|"+string(have.Relation) == key {
			if d.Strength > have.Strength {
				w.s.Discoveries[i].Strength = d.Strength
			}
			return
		}
	}
	w.s.Discoveries = append(w.s.Discoveries, d)
}

func unionSources(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Snapshot serializes the full state for checkpointing.
func (b *Base) Snapshot() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return json.Marshal(b.s)
}

// Restore replaces the state from a checkpoint snapshot.
func (b *Base) Restore(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return json.Unmarshal(data, &b.s)
}
