package debate

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallnest/debategraph/graph"
	"github.com/smallnest/debategraph/llm"
)

// NewGraph builds and freezes the debate graph:
//
//	stances -> {debater_a, debater_b} -> rebuttal rounds -> judge -> assemble
//
// Each rebuttal of a round depends on both contributions of the previous
// round, so a debater always answers the opponent's latest text.
func NewGraph(gen llm.Generator, opts Options) (*graph.Graph, error) {
	if gen == nil {
		return nil, fmt.Errorf("debate: generator is nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	rounds := opts.EffectiveRounds()
	s := &stages{gen: gen, rounds: rounds}

	g := graph.NewGraph()
	fields := []struct {
		name string
		kind graph.FieldKind
	}{
		{FieldRounds, graph.KindInt},
		{FieldStanceA, graph.KindString},
		{FieldStanceB, graph.KindString},
		{FieldArgumentA, graph.KindString},
		{FieldArgumentB, graph.KindString},
		{FieldVerdict, graph.KindString},
		{FieldWinner, graph.KindString},
		{FieldFinalMarkdown, graph.KindString},
	}
	if err := g.AddInputField(FieldTopic, graph.KindString); err != nil {
		return nil, err
	}
	for _, f := range fields {
		if err := g.AddField(f.name, f.kind); err != nil {
			return nil, err
		}
	}

	add := func(name, desc string, deps, writes []string, fn graph.StageFunc) error {
		return g.AddStage(name, desc, deps, writes, fn)
	}

	if err := add(StageStances, "split the topic into two opposing stances", nil,
		[]string{FieldStanceA, FieldStanceB, FieldRounds}, s.stances); err != nil {
		return nil, err
	}
	if err := add(StageDebaterA, "opening argument for stance A", []string{StageStances},
		[]string{FieldArgumentA}, s.opening(SideA)); err != nil {
		return nil, err
	}
	if err := add(StageDebaterB, "opening argument for stance B", []string{StageStances},
		[]string{FieldArgumentB}, s.opening(SideB)); err != nil {
		return nil, err
	}

	previous := []string{StageDebaterA, StageDebaterB}
	for round := 1; round <= rounds; round++ {
		var current []string
		for _, side := range []Side{SideA, SideB} {
			if err := g.AddField(RebuttalField(side, round), graph.KindString); err != nil {
				return nil, err
			}
			name := RebuttalStage(side, round)
			desc := fmt.Sprintf("rebuttal round %d for %s", round, side)
			if err := add(name, desc, previous, []string{RebuttalField(side, round)}, s.rebuttal(side, round)); err != nil {
				return nil, err
			}
			current = append(current, name)
		}
		previous = current
	}

	if err := add(StageJudge, "pick the winner", previous,
		[]string{FieldVerdict, FieldWinner}, s.judge); err != nil {
		return nil, err
	}
	if err := add(StageAssemble, "assemble the markdown summary", []string{StageJudge},
		[]string{FieldFinalMarkdown}, s.assemble); err != nil {
		return nil, err
	}
	if err := g.SetOutputField(FieldFinalMarkdown); err != nil {
		return nil, err
	}
	if err := g.Freeze(); err != nil {
		return nil, err
	}
	return g, nil
}

type stages struct {
	gen    llm.Generator
	rounds int
}

func (s *stages) generate(ctx context.Context, system, user string) (string, error) {
	out, err := s.gen.Generate(ctx, system, user)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (s *stages) stances(ctx context.Context, state graph.State) (graph.State, error) {
	topic := state.String(FieldTopic)
	text, err := s.generate(ctx, systemStance,
		fmt.Sprintf("Topic: %s\nReturn two opposing labels as 'A: ...' and 'B: ...'", topic))
	if err != nil {
		return nil, err
	}
	a, b := ParseStances(text)
	return graph.State{FieldStanceA: a, FieldStanceB: b, FieldRounds: s.rounds}, nil
}

func stanceField(side Side) string {
	if side == SideA {
		return FieldStanceA
	}
	return FieldStanceB
}

func argumentField(side Side) string {
	if side == SideA {
		return FieldArgumentA
	}
	return FieldArgumentB
}

func (s *stages) opening(side Side) graph.StageFunc {
	return func(ctx context.Context, state graph.State) (graph.State, error) {
		text, err := s.generate(ctx, systemDebater, fmt.Sprintf(
			"Debate topic: %s\nYour stance: %s\nWrite an opening argument (150-250 words).",
			state.String(FieldTopic), state.String(stanceField(side))))
		if err != nil {
			return nil, err
		}
		return graph.State{argumentField(side): text}, nil
	}
}

// lastWord is what the opponent said most recently before the given round.
func lastWord(state graph.State, side Side, round int) string {
	if round <= 1 {
		return state.String(argumentField(side))
	}
	return state.String(RebuttalField(side, round-1))
}

func (s *stages) rebuttal(side Side, round int) graph.StageFunc {
	return func(ctx context.Context, state graph.State) (graph.State, error) {
		opponent := side.opponent()
		text, err := s.generate(ctx, fmt.Sprintf(systemRebuttal, side), fmt.Sprintf(
			"Topic: %s\nYour stance %s: %s\nOpponent %s's last: %s\nWrite a concise rebuttal (80-150 words).",
			state.String(FieldTopic),
			side, state.String(stanceField(side)),
			opponent, lastWord(state, opponent, round)))
		if err != nil {
			return nil, err
		}
		return graph.State{RebuttalField(side, round): text}, nil
	}
}

func (s *stages) judge(ctx context.Context, state graph.State) (graph.State, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", state.String(FieldTopic))
	fmt.Fprintf(&b, "Debater A (%s) opening:\n%s\n\n", state.String(FieldStanceA), state.String(FieldArgumentA))
	fmt.Fprintf(&b, "Debater B (%s) opening:\n%s\n\n", state.String(FieldStanceB), state.String(FieldArgumentB))
	for round := 1; round <= s.rounds; round++ {
		for _, side := range []Side{SideA, SideB} {
			fmt.Fprintf(&b, "Debater %s rebuttal, round %d:\n%s\n\n", side, round, state.String(RebuttalField(side, round)))
		}
	}
	b.WriteString(judgeFormat)

	text, err := s.generate(ctx, systemJudge, b.String())
	if err != nil {
		return nil, err
	}
	return graph.State{FieldVerdict: text, FieldWinner: ParseWinner(text)}, nil
}

func (s *stages) assemble(_ context.Context, state graph.State) (graph.State, error) {
	return graph.State{FieldFinalMarkdown: FormatMarkdown(state)}, nil
}
