package coach

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// HelpMeStartArgs is the arguments for the help_me_start tool.
type HelpMeStartArgs struct {
	Task    Text `json:"task" jsonschema:"required" jsonschema_description:"The task that feels too big to start"`
	Feeling Text `json:"feeling,omitempty" jsonschema_description:"How the user feels about the task right now"`
}

// BreakDownTaskArgs is the arguments for the break_down_task tool.
type BreakDownTaskArgs struct {
	Task Text `json:"task" jsonschema:"required" jsonschema_description:"The task to split into micro-steps"`
}

// StartTimerArgs is the arguments for the start_timer tool.
type StartTimerArgs struct {
	Task    Text    `json:"task" jsonschema:"required" jsonschema_description:"What the user is focusing on"`
	Minutes Minutes `json:"minutes,omitempty" jsonschema:"default=5" jsonschema_description:"Length of the focus session in minutes"`
}

// CompleteTaskArgs is the arguments for the complete_task tool.
type CompleteTaskArgs struct {
	Task      Text `json:"task" jsonschema:"required" jsonschema_description:"The task that was finished"`
	HowItWent Text `json:"how_it_went,omitempty" jsonschema_description:"Optional reflection on how it went"`
}

// Text is a string argument that also accepts JSON numbers and booleans, keeping their
// literal text. Objects and arrays are rejected.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(s)
		return nil
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] == '{' || trimmed[0] == '[' {
		return errors.New("expected a string")
	}
	*t = Text(trimmed)
	return nil
}

// Minutes is a number argument that also accepts numeric strings such as "10".
type Minutes float64

// UnmarshalJSON implements json.Unmarshaler.
func (m *Minutes) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*m = Minutes(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected a number: %w", err)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("expected a number, got %q", s)
	}
	*m = Minutes(f)
	return nil
}

// HelpMeStartOutput is the structured result of help_me_start.
type HelpMeStartOutput struct {
	Message string `json:"message"`
}

// ToolText implements mcp.ToolOutput.
func (o HelpMeStartOutput) ToolText() string { return o.Message }

// BreakDownTaskOutput is the structured result of break_down_task.
type BreakDownTaskOutput struct {
	Task       string   `json:"task"`
	MicroTasks []string `json:"microTasks"`
	Message    string   `json:"message"`
}

// ToolText implements mcp.ToolOutput.
func (o BreakDownTaskOutput) ToolText() string { return o.Message }

// StartTimerOutput is the structured result of start_timer.
type StartTimerOutput struct {
	Task    string  `json:"task"`
	Minutes float64 `json:"minutes"`
	Message string  `json:"message"`
}

// ToolText implements mcp.ToolOutput.
func (o StartTimerOutput) ToolText() string { return o.Message }

// CompleteTaskOutput is the structured result of complete_task.
type CompleteTaskOutput struct {
	Task        string `json:"task"`
	Celebration string `json:"celebration"`
	Message     string `json:"message"`
}

// ToolText implements mcp.ToolOutput.
func (o CompleteTaskOutput) ToolText() string { return o.Message }
