// Package fetch queries chain nodes over JSON-RPC and normalises their fee data.
package fetch

import (
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// DefaultRPCTimeout bounds a single JSON-RPC call including its retries
const DefaultRPCTimeout = 8 * time.Second

// ClientOptions configures the HTTP transport used for node calls
type ClientOptions struct {
	// Timeout bounds one logical call, retries included
	Timeout time.Duration

	// RetryMax is the number of retries after the first attempt
	RetryMax int

	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultClientOptions returns the transport settings used in production
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:      DefaultRPCTimeout,
		RetryMax:     1,
		RetryWaitMin: 200 * time.Millisecond,
		RetryWaitMax: 1 * time.Second,
	}
}

// newRetryClient creates an HTTP client with retry capabilities
func newRetryClient(opts ClientOptions) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = opts.RetryMax
	c.RetryWaitMin = opts.RetryWaitMin
	c.RetryWaitMax = opts.RetryWaitMax
	c.HTTPClient.Timeout = opts.Timeout
	// Hand back the last response instead of a generic "giving up" error so
	// non-2xx statuses can be reported precisely.
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = logrusLeveledLogger{entry: logrus.WithField("component", "rpc-transport")}
	return c
}

// logrusLeveledLogger adapts logrus to retryablehttp.LeveledLogger
type logrusLeveledLogger struct {
	entry *logrus.Entry
}

func (l logrusLeveledLogger) fields(keysAndValues []interface{}) *logrus.Entry {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if k, ok := keysAndValues[i].(string); ok {
			fields[k] = keysAndValues[i+1]
		}
	}
	return l.entry.WithFields(fields)
}

func (l logrusLeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Error(msg)
}

func (l logrusLeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	// retryablehttp is chatty at info level; every request would be logged
	l.fields(keysAndValues).Debug(msg)
}

func (l logrusLeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Trace(msg)
}

func (l logrusLeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Warn(msg)
}
