package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage is a per-document stage progress update
type WSProgressMessage struct {
	Type       string         `json:"type"`
	DocumentID string         `json:"documentId"`
	Progress   int            `json:"progress"`
	Status     DocumentStatus `json:"status"`
	Stage      StageID        `json:"stage,omitempty"`
	Attempt    int            `json:"attempt,omitempty"`
}

// WSCompleteMessage signals that a stage finished and carries the snapshot
type WSCompleteMessage struct {
	Type       string      `json:"type"`
	DocumentID string      `json:"documentId"`
	Result     interface{} `json:"result"`
}

// WSErrorMessage reports a stage failure
type WSErrorMessage struct {
	Type       string  `json:"type"`
	DocumentID string  `json:"documentId"`
	Error      WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
