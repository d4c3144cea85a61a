package output

// GraphOutput is the JSON output of the graph command.
type GraphOutput struct {
	Order          []string     `json:"order"`
	Levels         [][]string   `json:"levels"`
	Processes      []GraphNode  `json:"processes"`
	Stages         []StageOrder `json:"stages"`
	TotalProcesses int          `json:"total_processes"`
	TotalEdges     int          `json:"total_edges"`
	TotalInputs    int          `json:"total_inputs"`
}

// GraphNode describes one process in the graph output.
type GraphNode struct {
	Name          string   `json:"name"`
	TimeDependent bool     `json:"time_dependent"`
	DependsOn     []string `json:"depends_on"`
	UsedBy        []string `json:"used_by"`
}

// StageOrder lists the processes run at one stage.
type StageOrder struct {
	Stage     string   `json:"stage"`
	Processes []string `json:"processes"`
}

// InputInfo describes a model input variable.
type InputInfo struct {
	Key         string `json:"key"`
	Dims        string `json:"dims"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// ProcessInfo describes a registered process definition.
type ProcessInfo struct {
	Name          string   `json:"name"`
	Source        string   `json:"source"`
	TimeDependent bool     `json:"time_dependent"`
	Variables     []string `json:"variables"`
}

// RunInfo summarizes a stored or finished run.
type RunInfo struct {
	ID          string   `json:"id"`
	Scenario    string   `json:"scenario"`
	Status      string   `json:"status"`
	Steps       int      `json:"steps,omitempty"`
	StartedAt   string   `json:"started_at,omitempty"`
	CompletedAt string   `json:"completed_at,omitempty"`
	DurationMS  int64    `json:"duration_ms,omitempty"`
	Error       string   `json:"error,omitempty"`
	Processes   []string `json:"processes,omitempty"`
	Arrays      []string `json:"arrays,omitempty"`
}

// RunEvent is a JSON line emitted while a batch of runs progresses.
type RunEvent struct {
	Event     string `json:"event"` // batch_start, run_complete, batch_complete
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id,omitempty"`
	Scenario  string `json:"scenario,omitempty"`
	Status    string `json:"status,omitempty"`
	Steps     int    `json:"steps,omitempty"`
	Error     string `json:"error,omitempty"`
	Total     int    `json:"total,omitempty"`
	Failed    int    `json:"failed,omitempty"`
	TotalMS   int64  `json:"total_ms,omitempty"`
}
