package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/vetclinic/libs/auth"
	"github.com/md-rashed-zaman/vetclinic/libs/db"
	"github.com/md-rashed-zaman/vetclinic/libs/runtime"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/config"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/grpcserver"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:           "scheduling-service",
		Short:         "Veterinary clinic appointment scheduling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), publishOutboxCmd(), tokenCmd(), healthCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers and the outbox publisher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := runtime.SignalContext()
			defer stop()
			return serve(ctx, cfg, runtime.NewLogger(cfg.ServiceName, cfg.LogLevel))
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Store != config.StorePostgres {
				return fmt.Errorf("migrate needs STORE=postgres")
			}
			pool, err := db.Open(cmd.Context(), cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.NewMigrator(pool, storage.Migrations()).Up(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			}
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
			}
			return nil
		},
	}
}

func publishOutboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish-outbox",
		Short: "Publish every pending domain event once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.KafkaBrokers == "" {
				return fmt.Errorf("KAFKA_BROKERS is required")
			}
			a, err := newApp(cmd.Context(), cfg, runtime.NewLogger(cfg.ServiceName, cfg.LogLevel))
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.publisher.Drain(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "published %d events\n", n)
			return err
		},
	}
}

// tokenCmd mints a bearer token for local use.
func tokenCmd() *cobra.Command {
	var (
		subject, role, name string
		ttl                 time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is required")
			}
			if !model.Role(role).Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := auth.SignHS256(auth.NewClaims(subject, role, name, ttl), secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "user id")
	cmd.Flags().StringVar(&role, "role", string(model.RoleReceptionist), "CLIENT, RECEPTIONIST or VETERINARIAN")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

// healthCmd exits non-zero unless the running server reports SERVING. It
// suits container health checks.
func healthCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the gRPC health service of a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				port := os.Getenv("GRPC_PORT")
				if port == "" {
					port = "9095"
				}
				addr = "127.0.0.1:" + port
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			status, err := grpcserver.Check(ctx, addr)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			if status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("%s is %s", addr, status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gRPC address, default 127.0.0.1:GRPC_PORT")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "")
	return cmd
}
