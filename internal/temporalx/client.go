package temporalx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/rocoloco/brandguard-backend/internal/platform/envutil"
	"github.com/rocoloco/brandguard-backend/internal/platform/logger"
)

// NewClient dials Temporal, retrying with capped backoff so process start
// order does not matter during boot. Returns (nil, nil) when no address is
// configured so callers can run without durable workflows (sync mode only).
func NewClient(log *logger.Logger) (temporalsdkclient.Client, error) {
	cfg := LoadConfig()
	if cfg.Address == "" {
		if log != nil {
			log.Warn("TEMPORAL_ADDRESS not set; durable workflows disabled")
		}
		return nil, nil
	}

	opts := temporalsdkclient.Options{
		HostPort:  cfg.Address,
		Namespace: cfg.Namespace,
		Logger:    log,
	}
	if cfg.ClientCertPath != "" || cfg.ClientKeyPath != "" || cfg.ClientCAPath != "" {
		tlsCfg, err := loadTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.ConnectionOptions.TLS = tlsCfg
	}

	dialTimeout := envutil.Seconds("TEMPORAL_DIAL_TIMEOUT_SECONDS", 5)
	maxWait := envutil.Seconds("TEMPORAL_DIAL_MAX_WAIT_SECONDS", 60)
	backoff := envutil.Millis("TEMPORAL_DIAL_BACKOFF_MS", 250)
	backoffMax := envutil.Millis("TEMPORAL_DIAL_BACKOFF_MAX_MS", 5000)

	deadline := time.Now().Add(maxWait)
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		c, err := temporalsdkclient.DialContext(ctx, opts)
		cancel()
		if err == nil {
			if log != nil && attempt > 1 {
				log.Info("Connected to Temporal", "address", cfg.Address, "namespace", cfg.Namespace, "attempts", attempt)
			}
			if envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false) {
				if err := EnsureNamespace(context.Background(), cfg, log); err != nil {
					c.Close()
					return nil, err
				}
			}
			return c, nil
		}

		if maxWait <= 0 || time.Now().After(deadline) {
			return nil, fmt.Errorf("temporal dial failed (address=%s namespace=%s): %w", cfg.Address, cfg.Namespace, err)
		}
		if log != nil {
			log.Warn("Temporal not reachable; retrying", "address", cfg.Address, "attempt", attempt, "error", err)
		}
		time.Sleep(clampBackoff(backoff, backoffMax, attempt))
	}
}

// EnsureNamespace creates the configured namespace when it does not exist.
// Meant for local and self-hosted setups; hosted namespaces should be
// provisioned out of band.
func EnsureNamespace(ctx context.Context, cfg Config, log *logger.Logger) error {
	namespace := cfg.Namespace
	if namespace == "" || cfg.Address == "" {
		return nil
	}

	maxWait := envutil.Seconds("TEMPORAL_NAMESPACE_ENSURE_TIMEOUT_SECONDS", 10)
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	// The namespace client carries no namespace header, so it works before
	// the namespace exists.
	nsOpts := temporalsdkclient.Options{HostPort: cfg.Address, Logger: log}
	if cfg.ClientCertPath != "" || cfg.ClientKeyPath != "" || cfg.ClientCAPath != "" {
		tlsCfg, err := loadTLSConfig(cfg)
		if err != nil {
			return err
		}
		nsOpts.ConnectionOptions.TLS = tlsCfg
	}
	nsClient, err := temporalsdkclient.NewNamespaceClient(nsOpts)
	if err != nil {
		return fmt.Errorf("temporal namespace ensure: init client: %w", err)
	}
	defer nsClient.Close()

	backoff := envutil.Millis("TEMPORAL_NAMESPACE_ENSURE_BACKOFF_MS", 250)
	backoffMax := envutil.Millis("TEMPORAL_NAMESPACE_ENSURE_BACKOFF_MAX_MS", 5000)
	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("temporal namespace ensure: timed out (namespace=%s): %w", namespace, ctx.Err())
		}

		if _, err := nsClient.Describe(ctx, namespace); err == nil {
			return nil
		} else {
			var nfe *serviceerror.NamespaceNotFound
			if !errors.As(err, &nfe) {
				if isRetryableRPC(err) && time.Now().Before(deadline) {
					time.Sleep(clampBackoff(backoff, backoffMax, attempt))
					continue
				}
				return fmt.Errorf("temporal namespace ensure: describe: %w", err)
			}
		}

		retentionDays := envutil.Int("TEMPORAL_NAMESPACE_RETENTION_DAYS", 7)
		if retentionDays < 1 {
			retentionDays = 7
		}
		regErr := nsClient.Register(ctx, &workflowservice.RegisterNamespaceRequest{
			Namespace:                        namespace,
			Description:                      "brandguard auto-registered namespace",
			WorkflowExecutionRetentionPeriod: durationpb.New(time.Duration(retentionDays) * 24 * time.Hour),
		})
		if regErr == nil {
			if log != nil {
				log.Info("Registered Temporal namespace", "namespace", namespace, "retention_days", retentionDays)
			}
			return nil
		}
		var already *serviceerror.NamespaceAlreadyExists
		if errors.As(regErr, &already) {
			return nil
		}
		if isRetryableRPC(regErr) && time.Now().Before(deadline) {
			if log != nil {
				log.Warn("Temporal namespace register retrying", "namespace", namespace, "attempt", attempt, "error", regErr)
			}
			time.Sleep(clampBackoff(backoff, backoffMax, attempt))
			continue
		}
		return fmt.Errorf("temporal namespace ensure: register: %w", regErr)
	}
}

func loadTLSConfig(cfg Config) (*tls.Config, error) {
	if cfg.ClientCertPath == "" || cfg.ClientKeyPath == "" {
		return nil, fmt.Errorf("temporal tls: both TEMPORAL_CLIENT_CERT_PATH and TEMPORAL_CLIENT_KEY_PATH are required for mTLS")
	}
	cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("temporal tls: load client cert/key: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.ClientCAPath != "" {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("temporal tls: read CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("temporal tls: invalid CA pem")
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

func clampBackoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	sleep := base
	for i := 1; i < attempt; i++ {
		sleep *= 2
		if max > 0 && sleep >= max {
			return max
		}
	}
	if max > 0 && sleep > max {
		return max
	}
	return sleep
}

func isRetryableRPC(err error) bool {
	if err == nil {
		return false
	}
	s, ok := status.FromError(err)
	if !ok {
		return errors.Is(err, context.DeadlineExceeded)
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
