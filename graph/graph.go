package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
)

// StageFunc is the body of a stage. It receives a private snapshot of the
// state as of dispatch and returns a partial update holding only fields the
// stage declared.
type StageFunc func(ctx context.Context, state State) (State, error)

// Stage is a named unit of work.
type Stage struct {
	// Name is the unique identifier for the stage.
	Name string

	// Description describes what the stage does.
	Description string

	// DependsOn lists the stages that must complete first.
	DependsOn []string

	// Writes lists the fields the stage may write.
	Writes []string

	// Function is the stage body.
	Function StageFunc
}

// Graph is a set of stages and dependency edges over a declared set of
// state fields. It becomes read-only once Freeze succeeds.
type Graph struct {
	fields      map[string]Field
	fieldOrder  []string
	stages      map[string]*Stage
	stageOrder  []string
	outputField string
	frozen      bool

	// populated by Freeze
	source     string
	sink       string
	order      []string
	dependents map[string][]string
	ancestors  map[string]map[string]bool
	writers    map[string][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		fields: make(map[string]Field),
		stages: make(map[string]*Stage),
	}
}

// AddField declares an optional state field.
func (g *Graph) AddField(name string, kind FieldKind) error {
	return g.addField(Field{Name: name, Kind: kind})
}

// AddInputField declares a field that must be present in the input of a new session.
func (g *Graph) AddInputField(name string, kind FieldKind) error {
	return g.addField(Field{Name: name, Kind: kind, Required: true})
}

func (g *Graph) addField(f Field) error {
	if g.frozen {
		return ErrGraphFrozen
	}
	if f.Name == "" {
		return fmt.Errorf("%w: empty field name", ErrUnknownField)
	}
	if _, ok := g.fields[f.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateField, f.Name)
	}
	g.fields[f.Name] = f
	g.fieldOrder = append(g.fieldOrder, f.Name)
	return nil
}

// AddStage adds a stage that runs after every stage in dependsOn and may write the fields in writes.
func (g *Graph) AddStage(name, description string, dependsOn, writes []string, fn StageFunc) error {
	if g.frozen {
		return ErrGraphFrozen
	}
	if name == "" {
		return errors.New("stage name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("stage %q has no function", name)
	}
	if _, ok := g.stages[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStage, name)
	}

	g.stages[name] = &Stage{
		Name:        name,
		Description: description,
		DependsOn:   dedupe(dependsOn),
		Writes:      dedupe(writes),
		Function:    fn,
	}
	g.stageOrder = append(g.stageOrder, name)
	return nil
}

// SetOutputField designates the field carried by the terminal event.
func (g *Graph) SetOutputField(name string) error {
	if g.frozen {
		return ErrGraphFrozen
	}
	g.outputField = name
	return nil
}

func dedupe(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

// Frozen reports whether Freeze has succeeded.
func (g *Graph) Frozen() bool {
	return g.frozen
}

// Freeze validates the graph and makes it read-only. Validation errors
// match ErrInvalidGraph with errors.Is. Calling Freeze on a frozen graph is a no-op.
func (g *Graph) Freeze() error {
	if g.frozen {
		return nil
	}
	if len(g.stages) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidGraph, ErrEmptyGraph)
	}

	names := slices.Sorted(maps.Keys(g.stages))

	for _, name := range names {
		s := g.stages[name]
		for _, dep := range s.DependsOn {
			if _, ok := g.stages[dep]; !ok {
				return fmt.Errorf("%w: %w: stage %q depends on %q", ErrInvalidGraph, ErrUnknownStage, name, dep)
			}
		}
		for _, field := range s.Writes {
			if _, ok := g.fields[field]; !ok {
				return fmt.Errorf("%w: %w: stage %q writes %q", ErrInvalidGraph, ErrUnknownField, name, field)
			}
		}
	}
	if g.outputField != "" {
		if _, ok := g.fields[g.outputField]; !ok {
			return fmt.Errorf("%w: %w: output field %q", ErrInvalidGraph, ErrUnknownField, g.outputField)
		}
	}

	dependents := make(map[string][]string, len(g.stages))
	for _, name := range names {
		for _, dep := range g.stages[name].DependsOn {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	order, err := topoSort(names, g.stages, dependents)
	if err != nil {
		return err
	}

	var sources, sinks []string
	for _, name := range names {
		if len(g.stages[name].DependsOn) == 0 {
			sources = append(sources, name)
		}
		if len(dependents[name]) == 0 {
			sinks = append(sinks, name)
		}
	}
	if len(sources) != 1 {
		return &MultipleSourcesError{Stages: sources}
	}
	if len(sinks) != 1 {
		return &MultipleSinksError{Stages: sinks}
	}

	ancestors := make(map[string]map[string]bool, len(order))
	for _, name := range order {
		set := make(map[string]bool)
		for _, dep := range g.stages[name].DependsOn {
			set[dep] = true
			for a := range ancestors[dep] {
				set[a] = true
			}
		}
		ancestors[name] = set
	}

	writers := make(map[string][]string)
	for _, name := range order {
		for _, field := range g.stages[name].Writes {
			writers[field] = append(writers[field], name)
		}
	}
	for _, field := range g.fieldOrder {
		ws := writers[field]
		for i := 0; i < len(ws); i++ {
			for j := i + 1; j < len(ws); j++ {
				a, b := ws[i], ws[j]
				if !ancestors[a][b] && !ancestors[b][a] {
					pair := []string{a, b}
					sort.Strings(pair)
					return &FieldConflictError{Field: field, Stages: pair}
				}
			}
		}
	}

	g.source = sources[0]
	g.sink = sinks[0]
	g.order = order
	g.dependents = dependents
	g.ancestors = ancestors
	g.writers = writers
	g.frozen = true
	return nil
}

// topoSort runs Kahn's algorithm, always taking the lexically smallest ready
// stage so the order is deterministic. On a cycle it returns a *CycleError.
func topoSort(names []string, stages map[string]*Stage, dependents map[string][]string) ([]string, error) {
	indegree := make(map[string]int, len(names))
	var ready []string
	for _, name := range names {
		indegree[name] = len(stages[name].DependsOn)
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(names))
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, d := range dependents[next] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) == len(names) {
		return order, nil
	}

	var remaining []string
	for _, name := range names {
		if indegree[name] > 0 {
			remaining = append(remaining, name)
		}
	}
	return nil, &CycleError{Path: findCycle(remaining, stages, indegree)}
}

// findCycle walks dependency edges among the unsorted stages until a stage repeats.
// Every unsorted stage has at least one unsorted dependency, so the walk cannot stall.
func findCycle(remaining []string, stages map[string]*Stage, indegree map[string]int) []string {
	pos := make(map[string]int)
	var path []string
	cur := remaining[0]
	for {
		if i, seen := pos[cur]; seen {
			cycle := slices.Clone(path[i:])
			slices.Reverse(cycle)
			return append(cycle, cycle[0])
		}
		pos[cur] = len(path)
		path = append(path, cur)
		for _, dep := range stages[cur].DependsOn {
			if indegree[dep] > 0 {
				cur = dep
				break
			}
		}
	}
}

// Source returns the single stage without dependencies.
func (g *Graph) Source() string { return g.source }

// Sink returns the terminal stage.
func (g *Graph) Sink() string { return g.sink }

// OutputField returns the field carried by the terminal event, or "".
func (g *Graph) OutputField() string { return g.outputField }

// Stages returns stage names in topological order, ties broken by name.
// Before Freeze it returns them in insertion order.
func (g *Graph) Stages() []string {
	if !g.frozen {
		return slices.Clone(g.stageOrder)
	}
	return slices.Clone(g.order)
}

// Stage looks up a stage by name.
func (g *Graph) Stage(name string) (*Stage, bool) {
	s, ok := g.stages[name]
	return s, ok
}

// Dependencies returns the direct dependencies of a stage.
func (g *Graph) Dependencies(name string) []string {
	if s, ok := g.stages[name]; ok {
		return slices.Clone(s.DependsOn)
	}
	return nil
}

// Dependents returns the stages that directly depend on name.
func (g *Graph) Dependents(name string) []string {
	return slices.Clone(g.dependents[name])
}

// IsAncestor reports whether a must complete before b can run.
func (g *Graph) IsAncestor(a, b string) bool {
	return g.ancestors[b][a]
}

// Fields returns the declared fields in declaration order.
func (g *Graph) Fields() []Field {
	out := make([]Field, 0, len(g.fieldOrder))
	for _, name := range g.fieldOrder {
		out = append(out, g.fields[name])
	}
	return out
}

// Field looks up a declared field.
func (g *Graph) Field(name string) (Field, bool) {
	f, ok := g.fields[name]
	return f, ok
}

// Writers returns the stages declaring the field, in topological order.
func (g *Graph) Writers(field string) []string {
	return slices.Clone(g.writers[field])
}

// ReadyStages returns, in topological order, the stages that are not in
// completed or running and whose dependencies are all completed.
func (g *Graph) ReadyStages(completed, running map[string]bool) []string {
	var ready []string
	for _, name := range g.order {
		if completed[name] || running[name] {
			continue
		}
		ok := true
		for _, dep := range g.stages[name].DependsOn {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, name)
		}
	}
	return ready
}
