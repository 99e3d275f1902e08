package model

import "time"

// ArtifactRef points at one immutable artifact version. Documents hold only
// references; artifact content lives in the artifact store.
type ArtifactRef struct {
	StageID   StageID   `json:"stageId"`
	Version   int64     `json:"version"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
}

// ErrorRecord is the last failure observed for a document.
type ErrorRecord struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	StageID StageID   `json:"stageId"`
	At      time.Time `json:"at"`
}

// Document is one file moving through the pipeline. Only the orchestrator
// mutates status, currentStage and artifactRefs.
type Document struct {
	ID           string         `json:"id"`
	Mode         ProcessingMode `json:"mode"`
	Status       DocumentStatus `json:"status"`
	CurrentStage StageID        `json:"currentStage"`
	// AttemptCount is the bounded-retry state for the in-flight stage; reset
	// to zero whenever a stage completes or the document is reset.
	AttemptCount int           `json:"attemptCount"`
	ArtifactRefs []ArtifactRef `json:"artifactRefs"`
	LastError    *ErrorRecord  `json:"lastError,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	PublishedAt  *time.Time    `json:"publishedAt,omitempty"`
}

// AppendRef records a new artifact reference. The slice is append-only.
func (d *Document) AppendRef(ref ArtifactRef) {
	d.ArtifactRefs = append(d.ArtifactRefs, ref)
}

// LatestRef returns the newest artifact reference for a stage.
func (d *Document) LatestRef(stageID StageID) (ArtifactRef, bool) {
	for i := len(d.ArtifactRefs) - 1; i >= 0; i-- {
		if d.ArtifactRefs[i].StageID == stageID {
			return d.ArtifactRefs[i], true
		}
	}
	return ArtifactRef{}, false
}

// LastRef returns the newest artifact reference overall.
func (d *Document) LastRef() (ArtifactRef, bool) {
	if len(d.ArtifactRefs) == 0 {
		return ArtifactRef{}, false
	}
	return d.ArtifactRefs[len(d.ArtifactRefs)-1], true
}
