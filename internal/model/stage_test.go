package model

import "testing"

func TestDefaultPipelineOrder(t *testing.T) {
	p := DefaultPipeline()

	stages := p.Stages()
	want := []StageID{StageExtract, StageContentRewrite, StagePRPolish, StageFormat, StageReview, StagePublish}
	if len(stages) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(stages))
	}
	for i, id := range want {
		if stages[i].ID != id {
			t.Errorf("stage %d: expected %s, got %s", i, id, stages[i].ID)
		}
		if stages[i].Order != i {
			t.Errorf("stage %s: expected order %d, got %d", id, i, stages[i].Order)
		}
	}

	if p.Source().ID != StageExtract {
		t.Errorf("expected source stage %s, got %s", StageExtract, p.Source().ID)
	}
	if p.FirstProcessing().ID != StageContentRewrite {
		t.Errorf("expected first processing stage %s, got %s", StageContentRewrite, p.FirstProcessing().ID)
	}
	if p.Terminal().ID != StagePublish {
		t.Errorf("expected terminal stage %s, got %s", StagePublish, p.Terminal().ID)
	}
	review, ok := p.Review()
	if !ok || review.ID != StageReview {
		t.Errorf("expected review stage %s, got %v", StageReview, review.ID)
	}
}

func TestPipelineNextPrev(t *testing.T) {
	p := DefaultPipeline()

	next, ok := p.Next(StageFormat)
	if !ok || next.ID != StageReview {
		t.Errorf("expected next of %s to be %s, got %s", StageFormat, StageReview, next.ID)
	}

	prev, ok := p.Prev(StageContentRewrite)
	if !ok || prev.ID != StageExtract {
		t.Errorf("expected prev of %s to be %s, got %s", StageContentRewrite, StageExtract, prev.ID)
	}

	if _, ok := p.Next(StagePublish); ok {
		t.Error("terminal stage should have no successor")
	}
	if _, ok := p.Prev(StageExtract); ok {
		t.Error("source stage should have no predecessor")
	}
	if _, ok := p.Next("unknown"); ok {
		t.Error("unknown stage should have no successor")
	}
}

func TestPipelineProgress(t *testing.T) {
	p := DefaultPipeline()

	if got := p.Progress(StageExtract); got != 0 {
		t.Errorf("expected progress 0 at source, got %d", got)
	}
	if got := p.Progress(StagePublish); got != 100 {
		t.Errorf("expected progress 100 at terminal, got %d", got)
	}

	mid := p.Progress(StageFormat)
	if mid <= 0 || mid >= 100 {
		t.Errorf("expected mid-pipeline progress in (0,100), got %d", mid)
	}
}

func TestNewPipelineValidation(t *testing.T) {
	cases := []struct {
		name   string
		stages []StageDefinition
	}{
		{
			name:   "empty",
			stages: nil,
		},
		{
			name: "no source first",
			stages: []StageDefinition{
				{ID: "a", Kind: StageKindAutomated},
				{ID: "b", Kind: StageKindTerminal},
			},
		},
		{
			name: "no terminal last",
			stages: []StageDefinition{
				{ID: "a", Kind: StageKindSource},
				{ID: "b", Kind: StageKindAutomated},
			},
		},
		{
			name: "duplicate ids",
			stages: []StageDefinition{
				{ID: "a", Kind: StageKindSource},
				{ID: "a", Kind: StageKindAutomated},
				{ID: "b", Kind: StageKindTerminal},
			},
		},
		{
			name: "two review stages",
			stages: []StageDefinition{
				{ID: "a", Kind: StageKindSource},
				{ID: "b", Kind: StageKindHumanReview},
				{ID: "c", Kind: StageKindHumanReview},
				{ID: "d", Kind: StageKindTerminal},
			},
		},
		{
			name: "automated after review",
			stages: []StageDefinition{
				{ID: "a", Kind: StageKindSource},
				{ID: "b", Kind: StageKindHumanReview},
				{ID: "c", Kind: StageKindAutomated},
				{ID: "d", Kind: StageKindTerminal},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewPipeline(tc.stages); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestNewPipelineNormalizesOrder(t *testing.T) {
	p, err := NewPipeline([]StageDefinition{
		{ID: "in", Order: 7, Kind: StageKindSource},
		{ID: "work", Order: 3, Kind: StageKindAutomated},
		{ID: "out", Order: 99, Kind: StageKindTerminal},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, s := range p.Stages() {
		if s.Order != i {
			t.Errorf("stage %s: expected order %d, got %d", s.ID, i, s.Order)
		}
	}
}
