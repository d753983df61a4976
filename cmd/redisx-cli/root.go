// Command redisx-cli is a thin interactive front end over client/,
// mirroring the teacher's cmd/cli package shape: one *cobra.Command per
// feature area, wired together through a PersistentPreRunE that lazily
// builds the shared client from configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/synnergy/redisx/client"
	"github.com/synnergy/redisx/conn"
	"github.com/synnergy/redisx/internal/config"
	"github.com/synnergy/redisx/pool"
	"github.com/synnergy/redisx/reliability"
	"github.com/synnergy/redisx/transport"
)

var (
	rdx     *client.Client
	rdxOnce sync.Once
	rdxErr  error

	cfgFile string
)

// backoffFor maps a config/retry.backoff name to a reliability.Strategy,
// per internal/config's RetryConfig.Backoff doc comment.
func backoffFor(name string) reliability.Strategy {
	switch name {
	case "constant":
		return reliability.ConstantBackoff{Delay_: 100 * time.Millisecond}
	case "exponential":
		return reliability.ExponentialBackoff{Base: 50 * time.Millisecond, Cap: 2 * time.Second}
	case "equal_jitter":
		return reliability.EqualJitterBackoff{Base: 50 * time.Millisecond, Cap: 2 * time.Second}
	case "none":
		return reliability.NoBackoff{}
	default:
		return reliability.FullJitterBackoff{Base: 50 * time.Millisecond, Cap: 2 * time.Second}
	}
}

// buildClient constructs a *client.Client from a loaded config.Config: a
// single-address dialer, a bounded pool, and an optional retry policy and
// circuit breaker. Cluster/Sentinel/Tracking wiring is left to
// applications that need it; the CLI exercises the request/response path.
func buildClient(cfg *config.Config) (*client.Client, error) {
	if len(cfg.Address) == 0 {
		return nil, fmt.Errorf("redisx-cli: no address configured (set REDISX_ADDRESS or address: in the config file)")
	}
	addr := cfg.Address[0]
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond

	var dialer transport.Dialer
	if cfg.TLS.Enabled {
		dialer = transport.NewTLSDialer(timeout, 0, nil)
	} else {
		dialer = transport.NewTCPDialer(timeout, 0)
	}

	p := pool.New(pool.Config{
		Factory: func(ctx context.Context) (*conn.Connection, error) {
			return conn.Connect(ctx, conn.Config{
				Dialer:          dialer,
				Address:         addr,
				Username:        cfg.Username,
				Password:        cfg.Password,
				ClientName:      cfg.ClientName,
				DatabaseIndex:   cfg.DatabaseIndex,
				ProtocolVersion: cfg.ProtocolVersion,
				Timeout:         timeout,
			})
		},
		MaxSize:             cfg.Pool.Size,
		CheckoutTimeout:     time.Duration(cfg.Pool.WaitMs) * time.Millisecond,
		HealthCheckInterval: time.Duration(cfg.Pool.HealthIntervalMs) * time.Millisecond,
	})

	var breaker *reliability.CircuitBreaker
	if cfg.Circuit.FailureThreshold > 0 {
		breaker = reliability.NewCircuitBreaker(reliability.CircuitBreakerConfig{
			FailureThreshold: cfg.Circuit.FailureThreshold,
			SuccessThreshold: cfg.Circuit.SuccessThreshold,
			Timeout:          time.Duration(cfg.Circuit.OpenMs) * time.Millisecond,
			HalfOpenTimeout:  time.Duration(cfg.Circuit.HalfOpenMs) * time.Millisecond,
		})
	}

	var retry *reliability.Policy
	if cfg.Retry.MaxAttempts > 0 {
		retry = &reliability.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Strategy:    backoffFor(cfg.Retry.Backoff),
		}
	}

	return client.New(client.Config{
		Pool:           p,
		Breaker:        breaker,
		Retry:          retry,
		DefaultTimeout: timeout,
	}), nil
}

// rootInit is the PersistentPreRunE shared by every subcommand: it loads
// configuration exactly once and builds the package-level client.
func rootInit(cmd *cobra.Command, _ []string) error {
	rdxOnce.Do(func() {
		_ = godotenv.Load()

		if lv, err := logrus.ParseLevel(viper.GetString("logging.level")); err == nil {
			logrus.SetLevel(lv)
		}

		var cfg *config.Config
		if cfgFile != "" {
			cfg, rdxErr = config.Load(cfgFile)
		} else {
			cfg, rdxErr = config.LoadFromEnv()
		}
		if rdxErr != nil {
			return
		}
		if rdxErr = cfg.Validate(); rdxErr != nil {
			return
		}
		rdx, rdxErr = buildClient(cfg)
	})
	return rdxErr
}

var rootCmd = &cobra.Command{
	Use:               "redisx-cli",
	Short:             "Minimal command-line client for redisx",
	PersistentPreRunE: rootInit,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a redisx config YAML file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
