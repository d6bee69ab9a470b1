package model

// WebSocket message types
const (
	WSMessageTypeSnapshot = "snapshot"
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

// WSSnapshotMessage is sent once when a client subscribes
type WSSnapshotMessage struct {
	Type     string                `json:"type"`
	DesignID string                `json:"designId"`
	Design   *DesignStatusResponse `json:"design"`
}

// WSProgressMessage represents a progress update
type WSProgressMessage struct {
	Type        string       `json:"type"`
	DesignID    string       `json:"designId"`
	Progress    int          `json:"progress"`
	Status      DesignStatus `json:"status"`
	CurrentStep string       `json:"currentStep,omitempty"`
}

// WSCompleteMessage carries the finished design
type WSCompleteMessage struct {
	Type     string                `json:"type"`
	DesignID string                `json:"designId"`
	Result   *DesignStatusResponse `json:"result"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type     string  `json:"type"`
	DesignID string  `json:"designId"`
	Error    WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
