// Package uds implements the Unix domain socket IPC between the CLI
// and the background monitor.
package uds

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
)

const ProtocolVersion = 1

// DefaultSocketName is the conventional socket filename inside the
// workspace directory.
const DefaultSocketName = "monitor.sock"

// Commands the monitor serves.
const (
	CmdPing     = "ping"
	CmdCycle    = "cycle"
	CmdStatus   = "status"
	CmdShutdown = "shutdown"
)

type Request struct {
	ProtocolVersion int             `json:"protocol_version"`
	Command         string          `json:"command"`
	Params          json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeProtocolMismatch = "PROTOCOL_MISMATCH"
	ErrCodeUnknownCommand   = "UNKNOWN_COMMAND"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeBusy             = "BUSY"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeCycleFailed      = "CYCLE_FAILED"
)

// CycleParams optionally pins the cycle to a specific release tag.
type CycleParams struct {
	Tag string `json:"tag,omitempty"`
}

// StatusData is the monitor's answer to a status request.
type StatusData struct {
	PID           int    `json:"pid"`
	CurrentStep   string `json:"current_step"`
	CycleID       string `json:"cycle_id,omitempty"`
	FailureStreak int    `json:"failure_streak"`
	LastSavePoint string `json:"last_save_point,omitempty"`
	ReleaseTag    string `json:"release_tag,omitempty"`
	StartedAt     string `json:"started_at"`
	CyclesRun     int    `json:"cycles_run"`
	CyclesSkipped int    `json:"cycles_skipped"`
}

// CycleData reports one triggered cycle's outcome.
type CycleData struct {
	CycleID    string `json:"cycle_id,omitempty"`
	FinalStep  string `json:"final_step,omitempty"`
	Skipped    bool   `json:"skipped"`
	Fetched    bool   `json:"fetched"`
	ReleaseTag string `json:"release_tag,omitempty"`
	RolledBack bool   `json:"rolled_back"`
}

func NewRequest(command string, params any) (*Request, error) {
	req := &Request{
		ProtocolVersion: ProtocolVersion,
		Command:         command,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = data
	}
	return req, nil
}

func SuccessResponse(data any) *Response {
	resp := &Response{Success: true}
	if data != nil {
		raw, _ := json.Marshal(data)
		resp.Data = raw
	}
	return resp
}

func ErrorResponse(code, message string) *Response {
	return &Response{
		Success: false,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

// WriteFrame writes a length-prefixed JSON frame to the connection.
// Format: [4-byte BigEndian length][JSON payload]
func WriteFrame(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	length := uint32(len(data))
	if err := binary.Write(conn, binary.BigEndian, length); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	// io.Copy handles short writes
	if _, err := io.Copy(conn, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads a length-prefixed JSON frame from the connection.
func ReadFrame(conn net.Conn, v any) error {
	var length uint32
	if err := binary.Read(conn, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}

	if length > 10*1024*1024 {
		return fmt.Errorf("frame too large: %d bytes", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}

	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	return nil
}
