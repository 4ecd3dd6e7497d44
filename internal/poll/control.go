package poll

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type PipelineInfo struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Sysinfo is the server host report.
type Sysinfo struct {
	TotalMemory     uint64    `json:"total_memory"`
	FreeMemory      uint64    `json:"free_memory"`
	UsedMemory      uint64    `json:"used_memory"`
	AvailableMemory uint64    `json:"available_memory"`
	TotalSwap       uint64    `json:"total_swap"`
	Name            string    `json:"name"`
	KernelVersion   string    `json:"kernel_version"`
	OSVersion       string    `json:"os_version"`
	HostName        string    `json:"host_name"`
	CPUs            []CPUInfo `json:"cpus"`
	Disks           []Disk    `json:"disks"`
	GlobalCPUUsage  float32   `json:"global_cpu_usage"`
}

type CPUInfo struct {
	Name      string  `json:"name"`
	Brand     string  `json:"brand"`
	Frequency uint64  `json:"frequency"`
	Usage     float32 `json:"usage"`
}

type Disk struct {
	Name           string `json:"name"`
	FileSystem     string `json:"file_system"`
	MountPoint     string `json:"mount_point"`
	TotalSpace     uint64 `json:"total_space"`
	AvailableSpace uint64 `json:"available_space"`
}

// RecordingCommand is sent as-is in the recording request body.
type RecordingCommand string

const (
	RecordingStart RecordingCommand = "Start"
	RecordingStop  RecordingCommand = "Stop"
)

// ParseRecordingCommand accepts start or stop in any case.
func ParseRecordingCommand(s string) (RecordingCommand, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start":
		return RecordingStart, nil
	case "stop":
		return RecordingStop, nil
	}
	return "", fmt.Errorf("unknown recording command %q (want start or stop)", s)
}

// Control talks to the server's pipeline and stats endpoints over the same
// shared HTTP client the channel loops use.
type Control struct {
	client       *Client
	base         string
	probeTimeout time.Duration
}

func (c *Client) Control(base string) *Control {
	return &Control{client: c, base: strings.TrimRight(base, "/"), probeTimeout: 3 * time.Second}
}

func (c *Control) StartPipeline(ctx context.Context, name string) (string, error) {
	return c.pipelineCommand(ctx, pipelineStartPath, name)
}

func (c *Control) StopPipeline(ctx context.Context, name string) (string, error) {
	return c.pipelineCommand(ctx, pipelineStopPath, name)
}

func (c *Control) ListPipelines(ctx context.Context) ([]PipelineInfo, error) {
	var out []PipelineInfo
	if err := c.do(ctx, http.MethodGet, pipelineListPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Control) Whoami(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.do(ctx, http.MethodGet, whoamiPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Control) Sysinfo(ctx context.Context) (Sysinfo, error) {
	var out Sysinfo
	if err := c.do(ctx, http.MethodGet, sysinfoPath, nil, &out); err != nil {
		return Sysinfo{}, err
	}
	return out, nil
}

// PipelineConfig returns the server's pipeline node list undecoded.
func (c *Control) PipelineConfig(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, pipelineConfigPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Recording starts or stops server-side recording. The server answers 200
// either way, so a failure is only visible in the body.
func (c *Control) Recording(ctx context.Context, cmd RecordingCommand) error {
	if cmd != RecordingStart && cmd != RecordingStop {
		return fmt.Errorf("unknown recording command %q", cmd)
	}
	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, recordingPath, map[string]RecordingCommand{"command": cmd}, &out); err != nil {
		return err
	}
	if out.Error != "" {
		return fmt.Errorf("%s %s: %s", http.MethodPost, recordingPath, out.Error)
	}
	if !out.Success {
		return fmt.Errorf("%s %s: server did not confirm", http.MethodPost, recordingPath)
	}
	return nil
}

// Healthy is a bounded reachability probe used by the health loop; polls
// themselves stay unbounded.
func (c *Control) Healthy(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	_, err := c.Whoami(pctx)
	return err
}

func (c *Control) pipelineCommand(ctx context.Context, path, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("pipeline name is required")
	}
	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"name": name}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *Control) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	url := c.base + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &TransportError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.http.Do(req)
	if err != nil {
		return &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransportError{URL: url, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{URL: url, Status: resp.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}
	return nil
}
