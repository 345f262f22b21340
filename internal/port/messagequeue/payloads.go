package messagequeue

// RunStartPayload is the schema for runs.start messages.
type RunStartPayload struct {
	Repository string `json:"repository"`
	Branch     string `json:"branch,omitempty"`
	TaskID     string `json:"task_id"`
	Workflow   string `json:"workflow,omitempty"`
	Tool       string `json:"tool"`
	Model      string `json:"model"`
	Prompt     string `json:"prompt"`
}

// RunCancelPayload is the schema for runs.cancel messages.
type RunCancelPayload struct {
	Repository string `json:"repository"`
}

// StageEventPayload is the schema for stages.event messages.
type StageEventPayload struct {
	Repository string `json:"repository"`
	TaskID     string `json:"task_id"`
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
}
