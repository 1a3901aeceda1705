package client

import (
	"fmt"
	"net"
	"time"

	"github.com/tangthinker/watchman/internal/backup"
	"github.com/tangthinker/watchman/internal/history"
	"github.com/tangthinker/watchman/internal/ipc"
)

const dialTimeout = 5 * time.Second

// Client talks to the daemon. Each request uses its own connection.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new Unix domain socket client
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 30 * time.Second}
}

// SendCommand sends a command to the daemon and returns the response
func (c *Client) SendCommand(cmd *ipc.Command) (*ipc.Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := ipc.Write(conn, cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}
	return ipc.ReadResponse(conn)
}

func (c *Client) call(t ipc.CommandType, payload, out any) error {
	cmd, err := ipc.NewCommand(t, payload)
	if err != nil {
		return err
	}
	resp, err := c.SendCommand(cmd)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if out != nil {
		return resp.Decode(out)
	}
	return nil
}

// Add creates a schedule. An empty destination is filled in by the daemon.
func (c *Client) Add(d backup.Draft) (ipc.AddResult, error) {
	var res ipc.AddResult
	err := c.call(ipc.CmdAdd, ipc.JobPayload{Job: d}, &res)
	return res, err
}

func (c *Client) Edit(index int, d backup.Draft) error {
	return c.call(ipc.CmdEdit, ipc.JobPayload{Index: index, Job: d}, nil)
}

func (c *Client) Delete(index int) error {
	return c.call(ipc.CmdDelete, ipc.IndexPayload{Index: index}, nil)
}

// Run starts a schedule now, ignoring its period.
func (c *Client) Run(index int) error {
	return c.call(ipc.CmdRun, ipc.IndexPayload{Index: index}, nil)
}

func (c *Client) List() ([]backup.Job, error) {
	var jobs []backup.Job
	err := c.call(ipc.CmdList, nil, &jobs)
	return jobs, err
}

func (c *Client) Logs(n int) ([]string, error) {
	var lines []string
	err := c.call(ipc.CmdLogs, ipc.LimitPayload{N: n}, &lines)
	return lines, err
}

func (c *Client) History(n int) ([]history.Record, error) {
	var recs []history.Record
	err := c.call(ipc.CmdHistory, ipc.LimitPayload{N: n}, &recs)
	return recs, err
}
