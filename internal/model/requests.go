package model

import "time"

// IntakeRequest is delivered by the external upload/extraction collaborator.
type IntakeRequest struct {
	DocumentID string `json:"documentId" validate:"omitempty,min=1,max=128"`
	Content    string `json:"content" validate:"required"`
	Mode       string `json:"mode" validate:"omitempty,oneof=auto manual"`
}

// ReviewRequest carries the human-edited content back into the pipeline.
type ReviewRequest struct {
	Content string `json:"content" validate:"required"`
}

// SetConfigRequest updates the active configuration of an automated stage.
type SetConfigRequest struct {
	Provider       string  `json:"provider" validate:"required,oneof=openai openrouter groq markdown mock"`
	Model          string  `json:"model" validate:"required"`
	PromptTemplate string  `json:"promptTemplate" validate:"required"`
	Temperature    float64 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens      int     `json:"maxTokens" validate:"omitempty,gt=0"`
}

// DocumentResponse is the status snapshot returned for a document.
type DocumentResponse struct {
	ID           string         `json:"id"`
	Mode         ProcessingMode `json:"mode"`
	Status       DocumentStatus `json:"status"`
	CurrentStage StageID        `json:"currentStage"`
	AttemptCount int            `json:"attemptCount"`
	ArtifactRefs []ArtifactRef  `json:"artifactRefs"`
	LastError    *ErrorRecord   `json:"lastError,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	PublishedAt  *time.Time     `json:"publishedAt,omitempty"`
}

// NewDocumentResponse maps a document to its snapshot.
func NewDocumentResponse(d *Document) *DocumentResponse {
	refs := make([]ArtifactRef, len(d.ArtifactRefs))
	copy(refs, d.ArtifactRefs)
	return &DocumentResponse{
		ID:           d.ID,
		Mode:         d.Mode,
		Status:       d.Status,
		CurrentStage: d.CurrentStage,
		AttemptCount: d.AttemptCount,
		ArtifactRefs: refs,
		LastError:    d.LastError,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		PublishedAt:  d.PublishedAt,
	}
}

// ArtifactResponse returns one artifact with its stable reference.
type ArtifactResponse struct {
	Key       string    `json:"key"`
	StageID   StageID   `json:"stageId"`
	Version   int64     `json:"version"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// StageStatus summarizes one stage with its active configuration, if any.
type StageStatus struct {
	ID            StageID   `json:"id"`
	Order         int       `json:"order"`
	Kind          StageKind `json:"kind"`
	Configured    bool      `json:"configured"`
	ActiveVersion int64     `json:"activeVersion,omitempty"`
	Provider      Provider  `json:"provider,omitempty"`
	Model         string    `json:"model,omitempty"`
}

// ConfigVersionsResponse is a cursor page of config versions, newest first.
type ConfigVersionsResponse struct {
	StageID  StageID        `json:"stageId"`
	Versions []AIStepConfig `json:"versions"`
	// NextAfter restarts the listing below the last returned version; zero
	// when the page is the end of the sequence.
	NextAfter int64 `json:"nextAfter,omitempty"`
}
