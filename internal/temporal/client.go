package temporal

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
)

// Default timeouts for batch workflows and health checks.
const (
	DefaultWorkflowExecutionTimeout = 48 * time.Hour
	DefaultHealthCheckTimeout       = 5 * time.Second
)

// TLSConfig contains TLS configuration for the Temporal client.
type TLSConfig struct {
	Enabled    bool
	CertPath   string
	KeyPath    string
	CACertPath string
	ServerName string
	// InsecureSkipVerify disables certificate verification. Development only.
	InsecureSkipVerify bool
}

func (t *TLSConfig) buildTLSConfig() (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: t.InsecureSkipVerify,
		ServerName:         t.ServerName,
		MinVersion:         tls.VersionTLS12,
	}

	if t.CertPath != "" && t.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(t.CertPath, t.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if t.CACertPath != "" {
		caCert, err := os.ReadFile(t.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// ClientConfig contains configuration for the Temporal client.
type ClientConfig struct {
	// HostPort is the Temporal server address (e.g. "localhost:7233").
	HostPort  string
	Namespace string
	// TaskQueue is the queue batch workflows are started on.
	TaskQueue string
	TLS       *TLSConfig
	// Logger receives SDK logs. Nil uses the SDK default.
	Logger log.Logger
	// HealthCheckTimeout defaults to DefaultHealthCheckTimeout.
	HealthCheckTimeout time.Duration
}

// NewClient dials the Temporal server.
func NewClient(cfg ClientConfig) (client.Client, error) {
	options := client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    cfg.Logger,
	}

	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsConfig, err := cfg.TLS.buildTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("configure TLS: %w", err)
		}
		options.ConnectionOptions = client.ConnectionOptions{TLS: tlsConfig}
	}

	c, err := client.Dial(options)
	if err != nil {
		return nil, fmt.Errorf("create Temporal client: %w", err)
	}
	return c, nil
}

// BatchClient starts and controls batch workflows.
type BatchClient struct {
	mu                 sync.RWMutex
	client             client.Client
	taskQueue          string
	healthCheckTimeout time.Duration
	closed             bool
}

// NewBatchClient wraps c. The workflow function is supplied per call so that
// this package does not depend on the workflows package.
func NewBatchClient(c client.Client, cfg ClientConfig) *BatchClient {
	timeout := cfg.HealthCheckTimeout
	if timeout == 0 {
		timeout = DefaultHealthCheckTimeout
	}
	return &BatchClient{
		client:             c,
		taskQueue:          cfg.TaskQueue,
		healthCheckTimeout: timeout,
	}
}

// Close closes the underlying connection. It is safe to call twice.
func (c *BatchClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && !c.closed {
		c.client.Close()
		c.closed = true
	}
}

func (c *BatchClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Health checks the connection to the Temporal server.
func (c *BatchClient) Health(ctx context.Context) error {
	if c.isClosed() {
		return &TemporalError{Op: "Health", Kind: ErrClientClosed}
	}
	checkCtx, cancel := context.WithTimeout(ctx, c.healthCheckTimeout)
	defer cancel()
	if _, err := c.client.CheckHealth(checkCtx, &client.CheckHealthRequest{}); err != nil {
		return wrapTemporalError("Health", err, "", "")
	}
	return nil
}

// WorkflowID returns the workflow ID of the batch named name.
func WorkflowID(name string) string {
	return "askllm-batch-" + name
}

// StartBatch starts workflowFunc for the batch named name. Only one workflow
// per name runs at a time since they share one checkpoint.
func (c *BatchClient) StartBatch(ctx context.Context, name string, workflowFunc interface{}, input BatchWorkflowInput) (workflowID, runID string, err error) {
	workflowID = WorkflowID(name)
	if c.isClosed() {
		return "", "", &TemporalError{Op: "StartBatch", Kind: ErrClientClosed, WorkflowID: workflowID}
	}

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                c.taskQueue,
		WorkflowExecutionTimeout: DefaultWorkflowExecutionTimeout,
	}, workflowFunc, input)
	if err != nil {
		return "", "", wrapTemporalError("StartBatch", err, workflowID, "")
	}
	return workflowID, run.GetRunID(), nil
}

// Stop signals the workflow to stop after the current document.
func (c *BatchClient) Stop(ctx context.Context, workflowID, reason string) error {
	if c.isClosed() {
		return &TemporalError{Op: "Stop", Kind: ErrClientClosed, WorkflowID: workflowID}
	}
	if err := c.client.SignalWorkflow(ctx, workflowID, "", SignalStop, StopSignal{Reason: reason}); err != nil {
		return wrapTemporalError("Stop", err, workflowID, "")
	}
	return nil
}

// Cancel cancels the workflow. The document in flight is abandoned and stays
// pending in the checkpoint.
func (c *BatchClient) Cancel(ctx context.Context, workflowID string) error {
	if c.isClosed() {
		return &TemporalError{Op: "Cancel", Kind: ErrClientClosed, WorkflowID: workflowID}
	}
	if err := c.client.CancelWorkflow(ctx, workflowID, ""); err != nil {
		return wrapTemporalError("Cancel", err, workflowID, "")
	}
	return nil
}

// Progress queries the workflow's progress.
func (c *BatchClient) Progress(ctx context.Context, workflowID string) (*BatchProgress, error) {
	if c.isClosed() {
		return nil, &TemporalError{Op: "Progress", Kind: ErrClientClosed, WorkflowID: workflowID}
	}
	resp, err := c.client.QueryWorkflow(ctx, workflowID, "", QueryProgress)
	if err != nil {
		return nil, wrapTemporalError("Progress", err, workflowID, "")
	}
	var p BatchProgress
	if err := resp.Get(&p); err != nil {
		return nil, &TemporalError{
			Op:         "Progress",
			Kind:       ErrQueryFailed,
			WorkflowID: workflowID,
			Err:        fmt.Errorf("decode query result: %w", err),
		}
	}
	return &p, nil
}

// Result waits for the workflow to finish.
func (c *BatchClient) Result(ctx context.Context, workflowID string) (*BatchWorkflowResult, error) {
	if c.isClosed() {
		return nil, &TemporalError{Op: "Result", Kind: ErrClientClosed, WorkflowID: workflowID}
	}
	var res BatchWorkflowResult
	if err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &res); err != nil {
		return nil, wrapTemporalError("Result", err, workflowID, "")
	}
	return &res, nil
}

// TaskQueue returns the configured task queue name.
func (c *BatchClient) TaskQueue() string {
	return c.taskQueue
}
