package ipc

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tangthinker/watchman/internal/backup"
)

// CommandType 命令类型
type CommandType string

const (
	CmdAdd     CommandType = "ADD"
	CmdEdit    CommandType = "EDIT"
	CmdDelete  CommandType = "DELETE"
	CmdRun     CommandType = "RUN"
	CmdList    CommandType = "LIST"
	CmdLogs    CommandType = "LOGS"
	CmdHistory CommandType = "HISTORY"
)

// Command represents a command sent from CLI to daemon
type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response represents a response sent from daemon to CLI
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// JobPayload is the payload of ADD and EDIT. Index is ignored for ADD.
type JobPayload struct {
	Index int          `json:"index"`
	Job   backup.Draft `json:"job"`
}

// IndexPayload is the payload of DELETE and RUN.
type IndexPayload struct {
	Index int `json:"index"`
}

// LimitPayload is the payload of LOGS and HISTORY. N <= 0 means everything.
type LimitPayload struct {
	N int `json:"n"`
}

// AddResult is the data of a successful ADD.
type AddResult struct {
	Index int    `json:"index"`
	Dest  string `json:"dest"`
}

// NewCommand creates a new command with the given type and payload
func NewCommand(cmdType CommandType, payload any) (*Command, error) {
	cmd := &Command{Type: cmdType}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		cmd.Payload = b
	}
	return cmd, nil
}

// Decode unmarshals the payload into v.
func (c *Command) Decode(v any) error {
	if len(c.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", c.Type)
	}
	if err := json.Unmarshal(c.Payload, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", c.Type, err)
	}
	return nil
}

// NewResponse creates a new response. A non-nil err marks it failed.
func NewResponse(data any, err error) *Response {
	if err != nil {
		return &Response{Error: err.Error()}
	}
	resp := &Response{Success: true}
	if data != nil {
		b, mErr := json.Marshal(data)
		if mErr != nil {
			return &Response{Error: fmt.Sprintf("failed to marshal response: %v", mErr)}
		}
		resp.Data = b
	}
	return resp
}

// Decode unmarshals the response data into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return nil
}

// Err returns the remote error, if any.
func (r *Response) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == "" {
		return fmt.Errorf("request failed")
	}
	return fmt.Errorf("%s", r.Error)
}

// Write sends one message as a JSON value.
func Write(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// ReadCommand reads one command from r.
func ReadCommand(r io.Reader) (*Command, error) {
	var cmd Command
	if err := json.NewDecoder(r).Decode(&cmd); err != nil {
		return nil, fmt.Errorf("failed to decode command: %w", err)
	}
	return &cmd, nil
}

// ReadResponse reads one response from r.
func ReadResponse(r io.Reader) (*Response, error) {
	var resp Response
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}
