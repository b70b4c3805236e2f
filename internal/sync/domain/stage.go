// Package domain holds the pure business rules of the sync engine: the stage
// taxonomy and the record validator. Nothing in this package touches the
// network or the database.
package domain

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// CanonicalStage is one of the engine's closed set of pipeline states.
type CanonicalStage string

const (
	StageNew               CanonicalStage = "new"
	StageQualified         CanonicalStage = "qualified"
	StageEstimation        CanonicalStage = "estimation"
	StageEstimationRush    CanonicalStage = "estimation_rush"
	StageQuotation         CanonicalStage = "quotation"
	StageQuotationPriority CanonicalStage = "quotation_priority"
	StageWon               CanonicalStage = "won"
	StageLost              CanonicalStage = "lost"
	StageMerged            CanonicalStage = "merged"
)

//go:embed taxonomy.yaml
var defaultTaxonomyYAML []byte

type taxonomyFile struct {
	DefaultStage   string                      `yaml:"default_stage"`
	WonStage       string                      `yaml:"won_stage"`
	Stages         map[string]taxonomyStage    `yaml:"stages"`
	Terminal       []string                    `yaml:"terminal"`
	Families       [][]string                  `yaml:"families"`
	RevenueBearing []string                    `yaml:"revenue_bearing"`
}

type taxonomyStage struct {
	Labels []string `yaml:"labels"`
	Next   []string `yaml:"next"`
}

// Taxonomy is the immutable stage configuration, loaded once at process start
// and injected into the components that need it.
type Taxonomy struct {
	defaultStage   CanonicalStage
	wonStage       CanonicalStage
	labels         map[string]CanonicalStage
	known          map[CanonicalStage]struct{}
	terminal       map[CanonicalStage]struct{}
	transitions    map[CanonicalStage][]CanonicalStage
	family         map[CanonicalStage]int
	revenueBearing map[CanonicalStage]struct{}
}

// DefaultTaxonomy loads the embedded stage configuration.
func DefaultTaxonomy() (*Taxonomy, error) {
	return ParseTaxonomy(defaultTaxonomyYAML)
}

// ParseTaxonomy builds a Taxonomy from YAML configuration.
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var file taxonomyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}

	t := &Taxonomy{
		defaultStage:   CanonicalStage(file.DefaultStage),
		wonStage:       CanonicalStage(file.WonStage),
		labels:         make(map[string]CanonicalStage),
		known:          make(map[CanonicalStage]struct{}),
		terminal:       make(map[CanonicalStage]struct{}),
		transitions:    make(map[CanonicalStage][]CanonicalStage),
		family:         make(map[CanonicalStage]int),
		revenueBearing: make(map[CanonicalStage]struct{}),
	}

	for name, stage := range file.Stages {
		canonical := CanonicalStage(name)
		t.known[canonical] = struct{}{}
		for _, label := range stage.Labels {
			t.labels[normalizeLabel(label)] = canonical
		}
		for _, next := range stage.Next {
			t.transitions[canonical] = append(t.transitions[canonical], CanonicalStage(next))
		}
	}

	for _, name := range file.Terminal {
		t.terminal[CanonicalStage(name)] = struct{}{}
	}
	for idx, group := range file.Families {
		for _, name := range group {
			t.family[CanonicalStage(name)] = idx + 1
		}
	}
	for _, name := range file.RevenueBearing {
		t.revenueBearing[CanonicalStage(name)] = struct{}{}
	}

	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Taxonomy) validate() error {
	if _, ok := t.known[t.defaultStage]; !ok {
		return fmt.Errorf("taxonomy: default stage %q is not declared", t.defaultStage)
	}
	if _, ok := t.known[t.wonStage]; !ok {
		return fmt.Errorf("taxonomy: won stage %q is not declared", t.wonStage)
	}
	for stage := range t.terminal {
		if _, ok := t.known[stage]; !ok {
			return fmt.Errorf("taxonomy: terminal stage %q is not declared", stage)
		}
	}
	for from, nexts := range t.transitions {
		for _, to := range nexts {
			if _, ok := t.known[to]; !ok {
				return fmt.Errorf("taxonomy: transition %s -> %s targets undeclared stage", from, to)
			}
		}
	}
	return nil
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// Canonicalize maps an external stage label to a canonical stage. Unknown
// labels map to the default stage with ok=false; the caller flags them for
// review but the sync never aborts on an unrecognized label.
func (t *Taxonomy) Canonicalize(stageLabel string) (CanonicalStage, bool) {
	if stage, ok := t.labels[normalizeLabel(stageLabel)]; ok {
		return stage, true
	}
	return t.defaultStage, false
}

// DefaultStage returns the fail-open fallback stage.
func (t *Taxonomy) DefaultStage() CanonicalStage { return t.defaultStage }

// WonStage returns the single terminal stage that represents a closed-won deal.
func (t *Taxonomy) WonStage() CanonicalStage { return t.wonStage }

// IsKnown reports whether the stage is part of the canonical set.
func (t *Taxonomy) IsKnown(stage CanonicalStage) bool {
	_, ok := t.known[stage]
	return ok
}

// IsTerminal reports whether no further pipeline progress is expected.
func (t *Taxonomy) IsTerminal(stage CanonicalStage) bool {
	_, ok := t.terminal[stage]
	return ok
}

// IsActive is the complement of IsTerminal.
func (t *Taxonomy) IsActive(stage CanonicalStage) bool {
	return !t.IsTerminal(stage)
}

// IsRevenueBearing reports whether a zero expected revenue on this stage is
// suspicious.
func (t *Taxonomy) IsRevenueBearing(stage CanonicalStage) bool {
	_, ok := t.revenueBearing[stage]
	return ok
}

// AllowedNext returns the stages reachable from the given stage per the
// transition graph. Sibling stages in the same family are reachable even when
// the graph omits them, because upstream routinely reassigns between them.
func (t *Taxonomy) AllowedNext(stage CanonicalStage) []CanonicalStage {
	next := make([]CanonicalStage, 0, len(t.transitions[stage])+1)
	next = append(next, t.transitions[stage]...)
	for other := range t.known {
		if other != stage && t.SameFamily(stage, other) && !containsStage(next, other) {
			next = append(next, other)
		}
	}
	return next
}

// SameFamily reports whether two stages belong to the same sibling group.
func (t *Taxonomy) SameFamily(a, b CanonicalStage) bool {
	fa, ok := t.family[a]
	if !ok {
		return false
	}
	fb, ok := t.family[b]
	return ok && fa == fb
}

// TransitionAllowed reports whether moving from prev to next is covered by
// the graph or by family membership. Disallowed transitions are observational
// only; the engine never blocks a write on them.
func (t *Taxonomy) TransitionAllowed(prev, next CanonicalStage) bool {
	if prev == next {
		return true
	}
	if t.SameFamily(prev, next) {
		return true
	}
	return containsStage(t.transitions[prev], next)
}

func containsStage(stages []CanonicalStage, stage CanonicalStage) bool {
	for _, s := range stages {
		if s == stage {
			return true
		}
	}
	return false
}
