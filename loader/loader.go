// Package loader reads process graphs from YAML or JSON documents and checks
// them for structural problems before they reach the engine.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/songzhibin97/transition-engine/types"
)

// ErrInvalidGraph is matched by every error Validate returns.
var ErrInvalidGraph = errors.New("invalid process graph")

// GraphError lists every structural problem found in one graph.
type GraphError struct {
	GraphID  string
	Problems []string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrInvalidGraph, e.GraphID, strings.Join(e.Problems, "; "))
}

// Is makes errors.Is(err, ErrInvalidGraph) hold.
func (e *GraphError) Is(target error) bool {
	return target == ErrInvalidGraph
}

// extensions accepted by LoadDir.
var extensions = map[string]bool{".yaml": true, ".yml": true, ".json": true}

// ParseGraph decodes a graph document. JSON is accepted as a subset of YAML.
// Unknown keys are rejected so misspelled fields do not silently vanish.
func ParseGraph(data []byte) (types.ProcessGraph, error) {
	var g types.ProcessGraph
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil {
		if errors.Is(err, io.EOF) {
			return g, fmt.Errorf("%w: empty document", ErrInvalidGraph)
		}
		return g, fmt.Errorf("failed to decode process graph: %w", err)
	}
	return g, nil
}

// LoadGraph reads and decodes the graph stored at path.
func LoadGraph(path string) (types.ProcessGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ProcessGraph{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	g, err := ParseGraph(data)
	if err != nil {
		return g, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// LoadDir loads every .yaml, .yml and .json file directly under dir, ordered
// by file name.
func LoadDir(dir string) ([]types.ProcessGraph, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !extensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	graphs := make([]types.ProcessGraph, 0, len(names))
	for _, name := range names {
		g, err := LoadGraph(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

// Validate reports structural problems: missing ids, duplicate step or action
// ids, an unknown initial step and actions pointing at unknown steps. Cycles
// are allowed. With strict set, unknown condition, validator and post-function
// kinds are problems too.
func Validate(g types.ProcessGraph, strict bool) error {
	var problems []string
	addf := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if g.ID == "" {
		addf("graph id is empty")
	}
	if len(g.Steps) == 0 {
		addf("graph has no steps")
	}

	steps := make(map[string]bool, len(g.Steps))
	for _, s := range g.Steps {
		if s.ID == "" {
			addf("step %q has an empty id", s.Name)
			continue
		}
		if steps[s.ID] {
			addf("duplicate step id %s", s.ID)
		}
		steps[s.ID] = true
	}

	if g.InitialStepID == "" {
		addf("initial step is not set")
	} else if !steps[g.InitialStepID] {
		addf("initial step %s does not exist", g.InitialStepID)
	}

	for _, s := range g.Steps {
		actions := make(map[string]bool, len(s.Actions))
		for _, a := range s.Actions {
			if a.ID == "" {
				addf("step %s has an action with an empty id", s.ID)
				continue
			}
			if actions[a.ID] {
				addf("duplicate action id %s in step %s", a.ID, s.ID)
			}
			actions[a.ID] = true
			if !steps[a.To] {
				addf("action %s in step %s targets unknown step %q", a.ID, s.ID, a.To)
			}
			if strict {
				problems = append(problems, unknownKinds(s.ID, a)...)
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return &GraphError{GraphID: g.ID, Problems: problems}
}

func unknownKinds(stepID string, a types.Action) []string {
	var problems []string
	for _, c := range a.Conditions {
		if !c.Kind.Valid() {
			problems = append(problems, fmt.Sprintf("action %s in step %s has unknown condition kind %q", a.ID, stepID, c.Kind))
		}
	}
	for _, v := range a.Validators {
		if !v.Kind.Valid() {
			problems = append(problems, fmt.Sprintf("action %s in step %s has unknown validator kind %q", a.ID, stepID, v.Kind))
		}
	}
	for _, f := range a.PostFunctions {
		if !f.Kind.Valid() {
			problems = append(problems, fmt.Sprintf("action %s in step %s has unknown post-function kind %q", a.ID, stepID, f.Kind))
		}
	}
	return problems
}
