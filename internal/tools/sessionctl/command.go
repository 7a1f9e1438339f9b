package sessionctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sandeepkv93/secure-session-core/internal/config"
	"github.com/sandeepkv93/secure-session-core/internal/database"
	"github.com/sandeepkv93/secure-session-core/internal/di"
	"github.com/sandeepkv93/secure-session-core/internal/domain"
	"github.com/sandeepkv93/secure-session-core/internal/repository"
	"github.com/sandeepkv93/secure-session-core/internal/security"
	"github.com/sandeepkv93/secure-session-core/internal/service"
	"github.com/sandeepkv93/secure-session-core/internal/tools/common"
	"github.com/sandeepkv93/secure-session-core/internal/tools/ui"
)

type options struct {
	ci      bool
	envFile string

	// backend hooks, replaced in tests
	openStore func(cfg *config.Config) (repository.TokenStore, func(), error)
	openDB    func(cfg *config.Config) (*gorm.DB, error)
	loadCfg   func() (*config.Config, error)
}

func defaultOptions() *options {
	return &options{
		envFile: ".env",
		openStore: func(cfg *config.Config) (repository.TokenStore, func(), error) {
			return di.ProvideTokenStore(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
		},
		openDB: func(cfg *config.Config) (*gorm.DB, error) {
			db, err := database.Open(cfg)
			if err != nil {
				return nil, err
			}
			return db, database.Migrate(db)
		},
		loadCfg: config.Load,
	}
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultOptions())
}

func newRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Operate refresh-token sessions and local accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", opts.envFile, "dotenv file applied before loading config")
	cmd.AddCommand(
		newGenSecretCommand(opts),
		newCreateUserCommand(opts),
		newInspectCommand(opts),
		newListSessionsCommand(opts),
		newRevokeUserCommand(opts),
		newRevokeFamilyCommand(opts),
	)
	return cmd
}

func newGenSecretCommand(opts *options) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "gen-secret",
		Short: "Generate a base64 signing secret for JWT_SECRET_BASE64",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "sessionctl gen-secret", func(context.Context) ([]string, error) {
				secret, err := security.NewSigningSecret(n)
				if err != nil {
					return nil, err
				}
				return []string{"JWT_SECRET_BASE64=" + secret}, nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "bytes", security.MinSecretBytes, "secret length in bytes")
	return cmd
}

func newCreateUserCommand(opts *options) *cobra.Command {
	var username, password string
	var verified bool
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a local account with a bcrypt password hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "sessionctl create-user", func(ctx context.Context) ([]string, error) {
				cfg, err := opts.config()
				if err != nil {
					return nil, err
				}
				db, err := opts.openDB(cfg)
				if err != nil {
					return nil, fmt.Errorf("open database: %w", err)
				}
				if sqlDB, err := db.DB(); err == nil {
					defer func() { _ = sqlDB.Close() }()
				}
				creds := service.NewCredentialService(
					repository.NewUserRepository(db),
					security.NewBcryptHasher(cfg.BcryptCost),
					service.LockoutPolicy{MaxAttempts: cfg.LoginLockAttempts, LockFor: cfg.LoginLockDuration},
				)
				u, err := creds.CreateUser(ctx, username, password, verified)
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("user id=%d username=%s verified=%t", u.ID, u.Username, u.EmailVerified)}, nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "account username")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&verified, "verified", true, "mark the account as verified")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newInspectCommand(opts *options) *cobra.Command {
	var token, hash string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the stored record of a refresh token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (token == "") == (hash == "") {
				return errors.New("exactly one of --token or --hash is required")
			}
			return execute(opts, "sessionctl inspect", func(ctx context.Context) ([]string, error) {
				return opts.withRegistry(func(reg *service.SessionRegistry) ([]string, error) {
					var (
						rec domain.SessionRecord
						err error
					)
					if token != "" {
						rec, err = reg.Lookup(ctx, token)
					} else {
						rec, err = reg.LookupByHash(ctx, hash)
					}
					if err != nil {
						return nil, err
					}
					return describe(rec), nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "raw refresh token")
	cmd.Flags().StringVar(&hash, "hash", "", "SHA-256 hex digest of the refresh token")
	return cmd
}

func newListSessionsCommand(opts *options) *cobra.Command {
	var userID uint
	cmd := &cobra.Command{
		Use:   "list-sessions",
		Short: "List stored session records of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "sessionctl list-sessions", func(ctx context.Context) ([]string, error) {
				return opts.withRegistry(func(reg *service.SessionRegistry) ([]string, error) {
					records, err := reg.Sessions(ctx, userID)
					if err != nil {
						return nil, err
					}
					sort.Slice(records, func(i, j int) bool { return records[i].ExpiresAt.After(records[j].ExpiresAt) })
					details := []string{fmt.Sprintf("user_id=%d sessions=%d", userID, len(records))}
					for _, rec := range records {
						details = append(details, fmt.Sprintf("%s status=%s device=%s family=%s expires=%s",
							rec.TokenID, rec.Status, rec.DeviceID, rec.FamilyID, rec.ExpiresAt.Format(time.RFC3339)))
					}
					return details, nil
				})
			})
		},
	}
	cmd.Flags().UintVar(&userID, "user-id", 0, "user id")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func newRevokeUserCommand(opts *options) *cobra.Command {
	var userID uint
	cmd := &cobra.Command{
		Use:   "revoke-user",
		Short: "Revoke every session of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "sessionctl revoke-user", func(ctx context.Context) ([]string, error) {
				return opts.withRegistry(func(reg *service.SessionRegistry) ([]string, error) {
					n, err := reg.RevokeAllForUser(ctx, userID)
					if err != nil {
						return nil, err
					}
					return []string{fmt.Sprintf("user_id=%d revoked=%d", userID, n)}, nil
				})
			})
		},
	}
	cmd.Flags().UintVar(&userID, "user-id", 0, "user id")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func newRevokeFamilyCommand(opts *options) *cobra.Command {
	var familyID string
	cmd := &cobra.Command{
		Use:   "revoke-family",
		Short: "Revoke every token of one login lineage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "sessionctl revoke-family", func(ctx context.Context) ([]string, error) {
				return opts.withRegistry(func(reg *service.SessionRegistry) ([]string, error) {
					n, err := reg.RevokeFamily(ctx, familyID)
					if err != nil {
						return nil, err
					}
					return []string{"family_id=" + familyID + " revoked=" + strconv.Itoa(n)}, nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&familyID, "family", "", "family id")
	_ = cmd.MarkFlagRequired("family")
	return cmd
}

func (o *options) config() (*config.Config, error) {
	if err := common.LoadEnvFile(o.envFile); err != nil {
		return nil, err
	}
	return o.loadCfg()
}

func (o *options) withRegistry(fn func(*service.SessionRegistry) ([]string, error)) ([]string, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	store, cleanup, err := o.openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	details, err := fn(service.NewSessionRegistry(store, service.RegistryOptions{
		GraceTTL:      cfg.SessionGraceTTL,
		MinTTL:        cfg.SessionMinTTL,
		RevokeWorkers: cfg.SessionRevokeWorkers,
	}))
	if cfg.RedisAddr == "" {
		details = append(details, "warning: REDIS_ADDR unset, in-process store holds no server sessions")
	}
	return details, err
}

func describe(rec domain.SessionRecord) []string {
	return []string{
		"token_id=" + rec.TokenID,
		"user_id=" + strconv.FormatUint(uint64(rec.UserID), 10),
		"status=" + string(rec.Status),
		"device=" + rec.DeviceID,
		"family=" + rec.FamilyID,
		"expires=" + rec.ExpiresAt.Format(time.RFC3339),
	}
}

func execute(opts *options, title string, fn func(context.Context) ([]string, error)) error {
	details, err := run(opts, title, fn)
	if opts.ci {
		common.PrintCIResult(err == nil, title, details, err)
	}
	return err
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

// ExitCode maps command failures to process exit codes.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, service.ErrUnknownSession):
		return 3
	case errors.Is(err, repository.ErrStoreUnavailable):
		return 4
	default:
		return 1
	}
}
