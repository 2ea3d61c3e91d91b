package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-session-auth"
	"github.com/goliatone/go-session-auth/activitymap"
	"github.com/goliatone/go-session-auth/mailer"
	"github.com/goliatone/go-session-auth/middleware/jwtware"
	"github.com/goliatone/go-session-auth/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	migrate bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "Apply pending migrations before serving")

	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions) error {
	rt, err := openRuntime(ctx, root)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger := rt.logger.GetLogger("serve")

	if opts.migrate {
		if _, err := auth.Migrate(ctx, rt.db); err != nil {
			return err
		}
	}

	app, cleanup, err := buildApp(ctx, rt)
	if err != nil {
		return err
	}
	defer cleanup()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", rt.cfg.Listen)
		errCh <- app.Listen(rt.cfg.Listen)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return app.ShutdownWithContext(shutdownCtx)
}

// buildApp wires the policy registry, stores, mailer, and routes
func buildApp(ctx context.Context, rt *runtime) (*fiber.App, func(), error) {
	repo := auth.NewRepositoryManager(rt.db)
	if err := repo.Validate(); err != nil {
		return nil, nil, err
	}

	registry := auth.NewPolicyRegistry(repo.Policies()).
		WithLogger(rt.logger.GetLogger("policies"))
	if err := registry.Load(ctx); err != nil {
		return nil, nil, err
	}

	accounts, cleanup := buildAccountStore(rt, repo)

	mail, err := buildMailer(rt)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	manager, err := auth.NewSessionManager(rt.cfg, registry, accounts, mail)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	manager.
		WithLogger(rt.logger.GetLogger("session")).
		WithActivitySink(activitySink(rt))

	app := fiber.New(fiber.Config{
		AppName:               "sessiond",
		DisableStartupMessage: !rt.cfg.Debug,
	})

	controller := auth.NewAuthController(manager, rt.cfg,
		auth.WithControllerLogger(rt.logger.GetLogger("http")),
		auth.WithControllerPrefix(rt.cfg.RoutePrefix),
		auth.WithControllerDebug(rt.cfg.Debug),
	)
	controller.AccessGuard = jwtware.ForManager(manager, jwtware.Config{
		ErrorHandler: controller.AccessDenied,
	})
	auth.RegisterAuthRoutes(app, controller)

	return app, cleanup, nil
}

func activitySink(rt *runtime) auth.ActivitySink {
	logger := rt.logger.GetLogger("activity")
	if rt.cfg.Activity == ActivityEvents {
		return auth.NewLoggerActivitySink(logger)
	}

	return activitymap.Sink(func(_ context.Context, record activitymap.Normalized) error {
		logger.Info("activity",
			"actor_id", record.ActorID,
			"verb", record.Verb,
			"object_type", record.ObjectType,
			"object_id", record.ObjectID,
			"channel", record.Channel,
			"metadata", record.Metadata,
			"occurred_at", record.OccurredAt,
		)
		return nil
	})
}

func buildAccountStore(rt *runtime, repo auth.RepositoryManager) (auth.AccountStore, func()) {
	if rt.cfg.Store != StoreRedis {
		return repo.Accounts(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rt.cfg.Redis.Addr,
		Password: rt.cfg.Redis.Password,
		DB:       rt.cfg.Redis.DB,
	})

	return redisstore.New(client, rt.cfg.Redis.Prefix), func() {
		_ = client.Close()
	}
}

func buildMailer(rt *runtime) (auth.Mailer, error) {
	if rt.cfg.Mailer.Driver == MailerSendGrid {
		return mailer.NewSendGridMailer(rt.cfg.Mailer.SendGrid, rt.logger.GetLogger("mailer"))
	}
	return mailer.NewLogMailer(rt.logger.GetLogger("mailer")), nil
}
