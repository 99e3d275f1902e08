package model

import "fmt"

// StageDefinition is one slot in the fixed ordered stage list.
type StageDefinition struct {
	ID    StageID   `json:"id"`
	Order int       `json:"order"`
	Kind  StageKind `json:"kind"`
}

// Pipeline is the ordered stage list for a deployment. The order is total and
// fixed: stages are never skipped or reordered.
type Pipeline struct {
	stages []StageDefinition
	index  map[StageID]int
}

// NewPipeline validates and builds a pipeline from an ordered stage list.
// The list must start with exactly one source stage, end with exactly one
// terminal stage, and contain at most one human-review stage placed after all
// automated stages.
func NewPipeline(stages []StageDefinition) (*Pipeline, error) {
	if len(stages) < 2 {
		return nil, fmt.Errorf("pipeline needs at least a source and a terminal stage")
	}

	index := make(map[StageID]int, len(stages))
	reviews := 0
	for i, s := range stages {
		if s.ID == "" {
			return nil, fmt.Errorf("stage %d has no id", i)
		}
		if _, dup := index[s.ID]; dup {
			return nil, fmt.Errorf("duplicate stage id %q", s.ID)
		}
		index[s.ID] = i

		switch s.Kind {
		case StageKindSource:
			if i != 0 {
				return nil, fmt.Errorf("source stage %q must be first", s.ID)
			}
		case StageKindTerminal:
			if i != len(stages)-1 {
				return nil, fmt.Errorf("terminal stage %q must be last", s.ID)
			}
		case StageKindHumanReview:
			reviews++
			if reviews > 1 {
				return nil, fmt.Errorf("pipeline allows at most one human-review stage")
			}
		case StageKindAutomated:
			if reviews > 0 {
				return nil, fmt.Errorf("automated stage %q cannot follow the review stage", s.ID)
			}
		default:
			return nil, fmt.Errorf("stage %q has unknown kind %q", s.ID, s.Kind)
		}
	}
	if stages[0].Kind != StageKindSource {
		return nil, fmt.Errorf("first stage must be the source stage")
	}
	if stages[len(stages)-1].Kind != StageKindTerminal {
		return nil, fmt.Errorf("last stage must be the terminal stage")
	}

	// Normalize order to list position.
	normalized := make([]StageDefinition, len(stages))
	for i, s := range stages {
		s.Order = i
		normalized[i] = s
	}

	return &Pipeline{stages: normalized, index: index}, nil
}

// DefaultPipeline is the deployment default, mirroring the press-release flow:
// source markdown, two AI passes, markdown-to-HTML conversion, human review,
// publish.
func DefaultPipeline() *Pipeline {
	p, err := NewPipeline([]StageDefinition{
		{ID: StageExtract, Kind: StageKindSource},
		{ID: StageContentRewrite, Kind: StageKindAutomated},
		{ID: StagePRPolish, Kind: StageKindAutomated},
		{ID: StageFormat, Kind: StageKindAutomated},
		{ID: StageReview, Kind: StageKindHumanReview},
		{ID: StagePublish, Kind: StageKindTerminal},
	})
	if err != nil {
		panic(err) // static definition, cannot fail
	}
	return p
}

// Stages returns the ordered stage list.
func (p *Pipeline) Stages() []StageDefinition {
	out := make([]StageDefinition, len(p.stages))
	copy(out, p.stages)
	return out
}

// Stage looks up a stage by id.
func (p *Pipeline) Stage(id StageID) (StageDefinition, bool) {
	i, ok := p.index[id]
	if !ok {
		return StageDefinition{}, false
	}
	return p.stages[i], true
}

// Next returns the stage after id.
func (p *Pipeline) Next(id StageID) (StageDefinition, bool) {
	i, ok := p.index[id]
	if !ok || i+1 >= len(p.stages) {
		return StageDefinition{}, false
	}
	return p.stages[i+1], true
}

// Prev returns the stage before id.
func (p *Pipeline) Prev(id StageID) (StageDefinition, bool) {
	i, ok := p.index[id]
	if !ok || i == 0 {
		return StageDefinition{}, false
	}
	return p.stages[i-1], true
}

// Source returns the intake stage.
func (p *Pipeline) Source() StageDefinition {
	return p.stages[0]
}

// FirstProcessing returns the first stage after the source stage, where a new
// document starts.
func (p *Pipeline) FirstProcessing() StageDefinition {
	return p.stages[1]
}

// Terminal returns the publish stage.
func (p *Pipeline) Terminal() StageDefinition {
	return p.stages[len(p.stages)-1]
}

// Review returns the human-review stage, if the pipeline has one.
func (p *Pipeline) Review() (StageDefinition, bool) {
	for _, s := range p.stages {
		if s.Kind == StageKindHumanReview {
			return s, true
		}
	}
	return StageDefinition{}, false
}

// Progress reports how far through the pipeline a stage sits, as a percentage.
func (p *Pipeline) Progress(id StageID) int {
	i, ok := p.index[id]
	if !ok {
		return 0
	}
	return i * 100 / (len(p.stages) - 1)
}
