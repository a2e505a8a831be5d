package types

// CreateSessionRequest starts a new shell
type CreateSessionRequest struct {
	Shell      string            `json:"shell,omitempty"`
	Args       []string          `json:"args,omitempty"`
	WorkingDir string            `json:"working_directory,omitempty"`
	Cols       int               `json:"cols,omitempty"`
	Rows       int               `json:"rows,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

// SubmitRequest records and runs one command
type SubmitRequest struct {
	Command    string `json:"command" binding:"required"`
	WorkingDir string `json:"working_directory,omitempty"`
}

// ResizeRequest changes the terminal window
type ResizeRequest struct {
	Cols int `json:"cols" binding:"required"`
	Rows int `json:"rows" binding:"required"`
}

// UpdateBlockRequest changes display state of a block
type UpdateBlockRequest struct {
	Expanded *bool `json:"expanded" binding:"required"`
}

// WSMessage is a client frame on the block stream
type WSMessage struct {
	Type       string `json:"type"`
	Command    string `json:"command,omitempty"`
	WorkingDir string `json:"working_directory,omitempty"`
	BlockID    string `json:"block_id,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}
