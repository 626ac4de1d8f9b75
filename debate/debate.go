// Package debate defines the debate workflow: the state fields, the stage
// bodies that call the text generator, and the rendering of a finished
// debate as markdown or sanitized HTML.
package debate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smallnest/debategraph/graph"
)

// State field names.
const (
	FieldTopic         = "topic"
	FieldRounds        = "rounds"
	FieldStanceA       = "stance_a"
	FieldStanceB       = "stance_b"
	FieldArgumentA     = "argument_a"
	FieldArgumentB     = "argument_b"
	FieldVerdict       = "verdict"
	FieldWinner        = "winner"
	FieldFinalMarkdown = "final_markdown"
)

// Stage names.
const (
	StageStances  = "stances"
	StageDebaterA = "debater_a"
	StageDebaterB = "debater_b"
	StageJudge    = "judge"
	StageAssemble = "assemble"
)

// MaxRounds is the largest number of rebuttal rounds per side.
const MaxRounds = 5

var (
	// ErrEmptyTopic is returned for a blank topic.
	ErrEmptyTopic = errors.New("debate topic is empty")

	// ErrInvalidRounds is returned when Options.Rounds is outside 0..MaxRounds.
	ErrInvalidRounds = fmt.Errorf("rounds must be between 0 and %d", MaxRounds)
)

// Side is a debater, "A" or "B".
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

func (s Side) opponent() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

func (s Side) lower() string { return strings.ToLower(string(s)) }

// Options shape the graph. They are fixed when the graph is built.
type Options struct {
	// Rebuttals enables rebuttal rounds.
	Rebuttals bool
	// Rounds is the number of rebuttal rounds per side, 0..MaxRounds.
	Rounds int
}

// DefaultOptions is one rebuttal round per side.
func DefaultOptions() Options {
	return Options{Rebuttals: true, Rounds: 1}
}

// Validate checks the round count.
func (o Options) Validate() error {
	if o.Rounds < 0 || o.Rounds > MaxRounds {
		return ErrInvalidRounds
	}
	return nil
}

// EffectiveRounds is the number of rebuttal rounds the graph runs.
func (o Options) EffectiveRounds() int {
	if !o.Rebuttals {
		return 0
	}
	return o.Rounds
}

// RebuttalStage names the rebuttal stage of a side in a round (1 based).
// Round 1 is "rebuttal_a", later rounds are "rebuttal_a_2" and so on.
func RebuttalStage(side Side, round int) string {
	if round <= 1 {
		return "rebuttal_" + side.lower()
	}
	return fmt.Sprintf("rebuttal_%s_%d", side.lower(), round)
}

// RebuttalField names the field written by RebuttalStage(side, round).
func RebuttalField(side Side, round int) string {
	if round <= 1 {
		return "rebuttals_" + side.lower()
	}
	return fmt.Sprintf("rebuttals_%s_%d", side.lower(), round)
}

// Input builds the initial state of a debate session.
func Input(topic string) (graph.State, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	return graph.State{FieldTopic: topic}, nil
}

// Label is the listing title of a session: the topic cut to 40 runes, or
// the session id prefix when the topic is unknown.
func Label(sessionID, topic string) string {
	topic = strings.TrimSpace(topic)
	if topic != "" {
		r := []rune(topic)
		if len(r) > 40 {
			return string(r[:40]) + "..."
		}
		return topic
	}
	id := []rune(sessionID)
	if len(id) > 8 {
		id = id[:8]
	}
	return "Debate: " + string(id) + "..."
}
