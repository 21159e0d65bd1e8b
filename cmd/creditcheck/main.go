package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	creditcheck "github.com/fincore/creditcheck-go"
	"github.com/fincore/creditcheck-go/cards"
	"github.com/fincore/creditcheck-go/creditlimit"
	"github.com/fincore/creditcheck-go/health"
	"github.com/fincore/creditcheck-go/internal/admin"
	"github.com/fincore/creditcheck-go/internal/config"
	"github.com/fincore/creditcheck-go/internal/rabbitmq"
	"github.com/fincore/creditcheck-go/internal/reliability"
	"github.com/fincore/creditcheck-go/internal/store/postgres"
	"github.com/fincore/creditcheck-go/metrics"
	rabbitmqTransport "github.com/fincore/creditcheck-go/transports/rabbitmq"
)

var (
	// Version information
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	var envFile string
	var cfg *config.Config
	var logger *slog.Logger

	rootCmd := &cobra.Command{
		Use:           "creditcheck",
		Short:         "Credit card limit checks over RabbitMQ",
		Version:       fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(envFile)
			if err != nil {
				return err
			}
			logger, err = newLogger(cfg)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	rootCmd.AddCommand(
		evaluateCmd(&cfg, &logger),
		checkCmd(&cfg, &logger),
		issueCreditCardCmd(&cfg, &logger),
		queuesCmd(&cfg, &logger),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openStore(ctx context.Context, cfg *config.Config) (*postgres.Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	store, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func dial(ctx context.Context, cfg *config.Config, logger *slog.Logger, collector *metrics.Collector) (*creditcheck.Client, error) {
	opts := []creditcheck.ClientOption{
		creditcheck.WithLogger(logger),
		creditcheck.WithQueues(cfg.RequestQueue, creditcheck.InstanceReplyQueue(cfg.ReplyQueue)),
		creditcheck.WithTimeout(cfg.Timeout),
		creditcheck.WithReplyTTL(cfg.ReplyTTL),
		creditcheck.WithCircuitBreaker(5, 30*time.Second),
	}
	if collector != nil {
		opts = append(opts, creditcheck.WithMetrics(collector, true))
	}
	return creditcheck.Dial(ctx, cfg.AMQPURL, opts...)
}

// evaluateCmd runs the evaluator side until interrupted
func evaluateCmd(cfg **config.Config, logger **slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Serve credit limit checks from the request queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, log := *cfg, *logger
			ctx, stop := signalContext()
			defer stop()

			store, err := openStore(ctx, c)
			if err != nil {
				return err
			}
			defer store.Close()

			transport, err := rabbitmqTransport.NewTransport(ctx, c.AMQPURL,
				rabbitmqTransport.WithLogger(log),
				rabbitmqTransport.WithConnectionOptions(rabbitmq.WithConnectionName("creditcheck-evaluator")),
			)
			if err != nil {
				return err
			}
			defer transport.Close()

			// reply queues belong to the requesting processes
			if err := transport.DeclareQueues(ctx, rabbitmq.RequestQueue(c.RequestQueue, c.ReplyTTL.Milliseconds())); err != nil {
				return err
			}

			collector := metrics.NewCollector("")
			evaluator, err := creditlimit.NewEvaluator(store,
				creditlimit.WithMaxCreditToSalaryRatio(c.MaxCreditToSalaryRatio),
				creditlimit.WithEvaluatorLogger(log),
				creditlimit.WithDecisionRecorder(collector),
			)
			if err != nil {
				return err
			}

			responder, err := creditlimit.NewResponder(transport, transport, c.RequestQueue, evaluator)
			if err != nil {
				return err
			}
			if err := responder.Start(ctx); err != nil {
				return err
			}
			defer responder.Stop()

			registry := health.NewRegistry()
			registry.SetMetadata("role", "evaluator")
			registry.Register(health.NewTransportChecker("transport", transport))
			registry.Register(health.NewDatabaseChecker(store))
			registry.Register(backlogChecker(transport, c.RequestQueue, 1000))

			return admin.NewServer(c.AdminAddr, admin.NewRouter(registry, collector.Handler()), log).Run(ctx)
		},
	}
}

func backlogChecker(transport *rabbitmqTransport.Transport, queue string, warning int) health.Checker {
	return health.NewCheckerFunc("request_backlog", func(ctx context.Context) health.CheckResult {
		result := health.CheckResult{Name: "request_backlog", Timestamp: time.Now(), Status: health.StatusHealthy}
		depth, err := transport.QueueDepth(ctx, queue)
		switch {
		case err != nil:
			result.Status = health.StatusUnhealthy
			result.Error = err.Error()
		case depth >= warning:
			result.Status = health.StatusDegraded
		}
		result.Details = map[string]any{"depth": depth}
		return result
	})
}

func checkCmd(cfg **config.Config, logger **slog.Logger) *cobra.Command {
	var userID, balance int64

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Ask the evaluator about one proposed balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			client, err := dial(ctx, *cfg, *logger, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.CheckLimit(ctx, userID, balance)
			if err != nil {
				return err
			}

			if resp.Approved {
				fmt.Fprintf(cmd.OutOrStdout(), "user %d: approved\n", resp.UserID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "user %d: rejected (%s)\n", resp.UserID, resp.Reason)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().Int64Var(&balance, "balance", 0, "proposed new card balance in minor units")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("balance")
	return cmd
}

func issueCreditCardCmd(cfg **config.Config, logger **slog.Logger) *cobra.Command {
	var accountID int64
	var req cards.CreateCreditCardRequest

	cmd := &cobra.Command{
		Use:   "issue-credit-card",
		Short: "Create a credit card after a successful limit check",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, log := *cfg, *logger
			ctx, stop := signalContext()
			defer stop()

			store, err := openStore(ctx, c)
			if err != nil {
				return err
			}
			defer store.Close()

			client, err := dial(ctx, c, log, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			svc, err := cards.NewService(store, store, client.LimitChecker(),
				cards.WithLogger(log),
				cards.WithRetryPolicy(reliability.NewExponentialBackoff(200*time.Millisecond, 2*time.Second, 2.0, c.Retries)),
			)
			if err != nil {
				return err
			}

			card, err := svc.CreateCreditCard(ctx, accountID, req)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "credit card %d issued on account %d\n", card.ID, card.AccountID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "account id")
	cmd.Flags().StringVar(&req.CardNumber, "number", "", "card number")
	cmd.Flags().StringVar(&req.Expiry, "expiry", "", "expiry as YYYY-MM")
	cmd.Flags().StringVar(&req.CVVLastDigits, "cvv-last-digits", "", "last two cvv digits")
	cmd.Flags().BoolVar(&req.Active, "active", true, "activate the card")
	cmd.Flags().Int64Var(&req.Balance, "balance", 0, "card balance in minor units")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("number")
	_ = cmd.MarkFlagRequired("expiry")
	return cmd
}

func queuesCmd(cfg **config.Config, logger **slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "queues [queue...]",
		Short: "Show ready message counts on the request queue and any named queues",
		Long: "Reply queues are exclusive to the client that declared them, so only\n" +
			"that client's connection can inspect one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg
			ctx, stop := signalContext()
			defer stop()

			transport, err := rabbitmqTransport.NewTransport(ctx, c.AMQPURL, rabbitmqTransport.WithLogger(*logger))
			if err != nil {
				return err
			}
			defer transport.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-45s %-10s\n", "Queue", "Messages")
			fmt.Fprintln(out, strings.Repeat("-", 56))
			for _, q := range append([]string{c.RequestQueue}, args...) {
				depth, err := transport.QueueDepth(ctx, q)
				if err != nil {
					return fmt.Errorf("failed to inspect %s: %w", q, err)
				}
				fmt.Fprintf(out, "%-45s %-10d\n", q, depth)
			}
			return nil
		},
	}
}
