package uds

import (
	"fmt"
	"net"
	"time"
)

// Client sends one request per connection to the monitor's control
// socket. Zero value is unusable; construct with NewClient.
type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 30 * time.Second}
}

// SetTimeout bounds dialing and the full request/response exchange.
// Waiting on a synchronous cycle needs this raised to the test budget.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SendCommand marshals params, sends the command, and returns the
// monitor's response. A Response with Success=false is not an error;
// transport and protocol failures are.
func (c *Client) SendCommand(command string, params any) (*Response, error) {
	req, err := NewRequest(command, params)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

func (c *Client) send(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to connect to monitor at %s: %w\n"+
				"Is the monitor running? Start it with: relcycle monitor run",
			c.socketPath, err,
		)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &resp, nil
}
