package main

import (
	"context"
	"database/sql"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "sessiond",
		Short:         "Signed session tokens with refresh rotation",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `sessiond issues short lived access tokens and single use refresh tokens
for email and password accounts. Tokens are signed with named access policies
that are provisioned with "sessiond policy create".`,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML configuration file")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newPolicyCmd(opts),
	)

	return cmd
}

type runtime struct {
	cfg    *Config
	logger *glog.BaseLogger
	db     *bun.DB
}

func openRuntime(ctx context.Context, opts *rootOptions) (*runtime, error) {
	cfg, err := LoadConfig(ctx, opts.configPath, newLogger(false).GetLogger("config"))
	if err != nil {
		return nil, err
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:    cfg,
		logger: newLogger(cfg.Debug),
		db:     db,
	}, nil
}

func newLogger(debug bool) *glog.BaseLogger {
	if debug {
		return glog.NewLogger(
			glog.WithName("sessiond"),
			glog.WithLoggerTypePretty(),
			glog.WithLevel(glog.Trace),
			glog.WithAddSource(false),
			glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
		)
	}

	return glog.NewLogger(
		glog.WithName("sessiond"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}

func (r *runtime) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func openDB(cfg DatabaseConfig) (*bun.DB, error) {
	if cfg.IsPostgres() {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open sqlite database")
	}
	sqldb.SetMaxOpenConns(1)

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}
