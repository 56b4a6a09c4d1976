// Package spaghetti holds the patchbay topology document: the set of
// named plugs and the links between them.
package spaghetti

import (
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Phase is the ghost-typed marker distinguishing a just-parsed Config
// from one that has passed Validate. Parse produces a Config[Raw], and
// Validate is the only function in this package that returns a
// Config[Validated]. The fields are exported, so a composite literal
// can still build a Config of either phase directly.
type Phase interface {
	phase()
}

// Raw marks a Config that has been parsed but not yet validated.
type Raw struct{}

func (Raw) phase() {}

// Validated marks a Config whose invariants have been proved. Only a
// Config[Validated] may be handed to the orchestrator.
type Validated struct{}

func (Validated) phase() {}

// Config is the patchbay topology: a set of named plugs and the links
// between them. The phase type parameter tracks whether Validate has
// run; orchestrator.Run only accepts Config[Validated].
type Config[P Phase] struct {
	Plugs map[string]string `yaml:"plugs"`
	Links map[string]string `yaml:"links"`
}

// Parse reads a YAML topology document into a Config[Raw].
func Parse(r io.Reader) (Config[Raw], error) {
	var cfg Config[Raw]
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config[Raw]{}, fmt.Errorf("parsing topology document: %w", err)
	}
	return cfg, nil
}

// Marshal serializes a Config back to YAML, regardless of phase. Used
// for the config round-trip property (spec §8 item 6).
func Marshal[P Phase](cfg Config[P]) ([]byte, error) {
	return yaml.Marshal(struct {
		Plugs map[string]string `yaml:"plugs"`
		Links map[string]string `yaml:"links"`
	}{cfg.Plugs, cfg.Links})
}

// ValidationError aggregates every invariant violation found during
// Validate, so a single run reports every problem in the document
// instead of stopping at the first.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Error())
	}
	return fmt.Sprintf("invalid topology: %s", strings.Join(msgs, "; "))
}

// Violation is a single validation offense.
type Violation struct {
	Kind Kind
	Name string
}

// Kind enumerates the structured validation error kinds from spec §4.3.
type Kind int

const (
	// KindUnknownPlug means a link endpoint names a plug not declared
	// under "plugs".
	KindUnknownPlug Kind = iota
	// KindDuplicateSink means a plug name appears as a link destination
	// more than once.
	KindDuplicateSink
)

func (v Violation) Error() string {
	switch v.Kind {
	case KindUnknownPlug:
		return fmt.Sprintf("unknown plug %q", v.Name)
	case KindDuplicateSink:
		return fmt.Sprintf("duplicate sink %q", v.Name)
	default:
		return fmt.Sprintf("unknown violation for %q", v.Name)
	}
}

// Validate proves the invariants from spec §3: every link endpoint
// names a declared plug, and no plug appears as a sink more than once.
// Links is itself a map keyed by source name, so a source cannot be
// repeated at the parse level and is not checked here.
func (cfg Config[P]) Validate() (Config[Validated], error) {
	var violations []Violation
	sinkCount := make(map[string]int, len(cfg.Links))

	for source, dest := range cfg.Links {
		if _, ok := cfg.Plugs[source]; !ok {
			violations = append(violations, Violation{Kind: KindUnknownPlug, Name: source})
		}
		if _, ok := cfg.Plugs[dest]; !ok {
			violations = append(violations, Violation{Kind: KindUnknownPlug, Name: dest})
		}
		sinkCount[dest]++
	}

	for name, count := range sinkCount {
		if count > 1 {
			violations = append(violations, Violation{Kind: KindDuplicateSink, Name: name})
		}
	}

	if len(violations) > 0 {
		return Config[Validated]{}, &ValidationError{Violations: violations}
	}

	return Config[Validated]{Plugs: cfg.Plugs, Links: cfg.Links}, nil
}

// ParseURL parses a plug's URL text. It checks only URL syntax: the
// scheme (exec, ws, wss) and the exec-specific rules (BadExecUrl) are
// checked by plug.Connect. Parsing is deferred to here, rather than done
// during YAML unmarshal, so a parse error surfaces with the plug name
// attached by the caller.
func ParseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing plug url %q: %w", raw, err)
	}
	return u, nil
}

// SortedPlugNames returns the plug names of a Config in a stable,
// sorted order, used when startup must bring plugs up in a
// deterministic sequence.
func (cfg Config[P]) SortedPlugNames() []string {
	names := make([]string, 0, len(cfg.Plugs))
	for name := range cfg.Plugs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
