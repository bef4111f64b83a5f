package shell

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/openctf/ctfcore/internal/catalog"
	"github.com/openctf/ctfcore/internal/config"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/openctf/ctfcore/internal/util"
)

// Client talks to the management daemon on a shell server. Every call
// carries the configured timeout so a dead server cannot hang an admin
// request.
type Client struct {
	http    *http.Client
	timeout time.Duration
}

// NewClient builds a client from the shell transport config. A CA cert
// path pins outbound TLS; insecure_tls is for development servers with
// self-signed certs.
func NewClient(cfg config.Shell) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("shell ca cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("shell ca cert: no certificates in %s", cfg.CACert)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	} else if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return &Client{
		http:    &http.Client{Transport: transport, Timeout: timeout},
		timeout: timeout,
	}, nil
}

func (c *Client) baseURL(server *models.ShellServer) string {
	scheme := "http"
	if server.Protocol == models.ProtocolHTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, server.Host, server.Port)
}

func (c *Client) do(ctx context.Context, server *models.ShellServer, path string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL(server)+path, nil)
	if err != nil {
		return err
	}
	if server.Username != "" {
		req.SetBasicAuth(server.Username, server.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return util.Wrap(util.ErrState, "shell server %s unreachable: %v", server.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return util.Wrap(util.ErrState, "shell server %s returned %s", server.Name, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status reports whether the server's management daemon answers.
type Status struct {
	Online       bool   `json:"online"`
	Version      string `json:"version,omitempty"`
	ProblemCount int    `json:"problem_count,omitempty"`
}

// CheckStatus probes the daemon's status endpoint. An unreachable
// server is reported offline, not as an error.
func (c *Client) CheckStatus(ctx context.Context, server *models.ShellServer) Status {
	var status Status
	if err := c.do(ctx, server, "/status", &status); err != nil {
		return Status{Online: false}
	}
	status.Online = true
	return status
}

// FetchPublished pulls the deploy manifest the server last published.
// The manifest's sid is forced to the server's, so a misconfigured
// daemon cannot write another server's instances.
func (c *Client) FetchPublished(ctx context.Context, server *models.ShellServer) (*catalog.Manifest, error) {
	var manifest catalog.Manifest
	if err := c.do(ctx, server, "/published", &manifest); err != nil {
		return nil, err
	}
	manifest.SID = server.SID
	return &manifest, nil
}
