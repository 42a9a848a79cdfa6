package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"tollfree-ivr/internal/auth"
	"tollfree-ivr/internal/config"
	"tollfree-ivr/internal/ivr"
	"tollfree-ivr/internal/rbac"
	"tollfree-ivr/internal/session"
	"tollfree-ivr/pkg/logger"
	"tollfree-ivr/pkg/utils"
)

func reapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Evict idle sessions from the shared Redis store once",
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Sessions.Store != config.SessionStoreRedis {
				return fmt.Errorf("SESSION_STORE=%s: in-memory sessions are reaped by the api process", cfg.Sessions.Store)
			}
			if olderThan <= 0 {
				olderThan = cfg.Sessions.Retention
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
				Addr:     cfg.RedisAddr(),
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err != nil {
				return err
			}
			defer rdb.Close()

			n, err := reapRedis(ctx, rdb, cfg.Sessions.Retention, olderThan, logger.NewWriter(cfg.App.Env, os.Stderr))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reaped %d sessions\n", n)
			return nil
		},
	}
	cmd.Flags().Duration("older-than", 0, "Idle age to evict (default SESSION_RETENTION)")
	return cmd
}

// reapRedis evicts idle sessions and gives back the concurrency slots they held.
func reapRedis(ctx context.Context, rdb *redis.Client, retention, olderThan time.Duration, log *slog.Logger) (int, error) {
	slots := &ivr.Service{Capacity: ivr.RedisCapacity{Client: rdb}}
	r := session.Reaper{
		Store:     session.NewRedisStore(rdb, retention),
		Retention: olderThan,
		Logger:    log,
		OnExpire:  slots.ReleaseExpired,
	}
	n, err := r.ReapOnce(ctx)
	if err != nil {
		return 0, fmt.Errorf("reap sessions: %w", err)
	}
	return n, nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API token pair (JWT_* env)",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			tenant, _ := cmd.Flags().GetString("tenant")
			role, _ := cmd.Flags().GetString("role")
			if user == "" || tenant == "" {
				return fmt.Errorf("--user and --tenant are required")
			}
			if !rbac.Known(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			if rbac.IsHiddenRole(role) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s is a hidden role; only routes that list it will accept this token\n", role)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			m, err := auth.NewManager(cfg.Auth)
			if err != nil {
				return err
			}
			pair, err := m.IssuePair(time.Now(), auth.Identity{UserID: user, TenantID: tenant, Role: role})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(pair)
		},
	}
	cmd.Flags().String("user", "", "User id")
	cmd.Flags().String("tenant", "", "Tenant id")
	cmd.Flags().String("role", rbac.RoleAnalyst, "Role")
	return cmd
}
