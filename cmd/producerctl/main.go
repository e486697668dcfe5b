package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	producer "github.com/glimte/rabbit-producer"
	"github.com/glimte/rabbit-producer/config"
	"github.com/glimte/rabbit-producer/contracts"
	"github.com/glimte/rabbit-producer/health"
	"github.com/glimte/rabbit-producer/messaging"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	url        string
	priority   string
	ttl        time.Duration
	verbose    bool
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "producerctl",
		Short: "Publish messages to RabbitMQ",
		Long: `producerctl sends fire-and-forget, acknowledged and RPC messages and
schedules delayed deliveries using the producer library.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage: true,
	}
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVarP(&flags.url, "url", "u", "", "RabbitMQ connection URL (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&flags.priority, "priority", "p", "normal", "Message priority: low, normal, high, max or 0-3")
	rootCmd.PersistentFlags().DurationVar(&flags.ttl, "ttl", 0, "Message TTL, and wait budget for calls (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose output")

	// Publish command
	var ack bool
	publishCmd := &cobra.Command{
		Use:   "publish <routing-key> [body]",
		Short: "Publish a message",
		Long:  "Publish a JSON body read from the argument or stdin. With --ack the message goes to the acknowledged exchange and its correlation id is printed.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(cmd.InOrStdin(), args[1:])
			if err != nil {
				return err
			}
			opts, err := flags.publishOptions()
			if err != nil {
				return err
			}
			return withProducer(cmd.Context(), flags, func(ctx context.Context, p *messaging.Producer) error {
				if !ack {
					return p.PublishFireAndForget(ctx, args[0], body, opts...)
				}
				id, err := p.PublishAcknowledged(ctx, args[0], body, opts...)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	publishCmd.Flags().BoolVarP(&ack, "ack", "a", false, "Publish to the acknowledged exchange")

	// Call command
	callCmd := &cobra.Command{
		Use:   "call <routing-key> [body]",
		Short: "Send an RPC request and print the reply",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(cmd.InOrStdin(), args[1:])
			if err != nil {
				return err
			}
			opts, err := flags.publishOptions()
			if err != nil {
				return err
			}
			return withProducer(cmd.Context(), flags, func(ctx context.Context, p *messaging.Producer) error {
				reply, err := p.Call(ctx, args[0], body, opts...)
				if err != nil {
					return err
				}
				return printReply(cmd.OutOrStdout(), reply)
			})
		},
	}

	// Schedule command
	var (
		at    string
		delay time.Duration
	)
	scheduleCmd := &cobra.Command{
		Use:   "schedule <exchange> <routing-key> [body]",
		Short: "Schedule a delayed delivery",
		Long:  "Deliver a message to an exchange at a later time, given with --at (RFC 3339) or --in (duration).",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			deliverAt, err := deliveryTime(at, delay, time.Now())
			if err != nil {
				return err
			}
			body, err := readBody(cmd.InOrStdin(), args[2:])
			if err != nil {
				return err
			}
			opts, err := flags.publishOptions()
			if err != nil {
				return err
			}
			return withProducer(cmd.Context(), flags, func(ctx context.Context, p *messaging.Producer) error {
				dq, err := p.ScheduleDelayed(ctx, args[0], args[1], body, deliverAt, opts...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (deliver at %s)\n", dq.Name, dq.DeliverAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	scheduleCmd.Flags().StringVar(&at, "at", "", "Delivery time in RFC 3339")
	scheduleCmd.Flags().DurationVar(&delay, "in", 0, "Delivery delay from now")
	scheduleCmd.MarkFlagsMutuallyExclusive("at", "in")

	// Health command
	var backlog int
	healthCmd := &cobra.Command{
		Use:   "health [queue-names...]",
		Short: "Check broker connectivity and queue backlogs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), flags, func(ctx context.Context, client *producer.Client) error {
				ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()

				report := client.Health(ctx, backlog, args...)
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
				if report.Status == health.StatusUnhealthy {
					return fmt.Errorf("broker is %s", report.Status)
				}
				return nil
			})
		},
	}
	healthCmd.Flags().IntVar(&backlog, "backlog", 10000, "Message count above which a queue is degraded")

	rootCmd.AddCommand(publishCmd, callCmd, scheduleCmd, healthCmd)
	return rootCmd
}

// publishOptions turns the global flags into publish options
func (f *globalFlags) publishOptions() ([]messaging.PublishOption, error) {
	priority, err := contracts.ParsePriority(f.priority)
	if err != nil {
		return nil, err
	}
	opts := []messaging.PublishOption{messaging.WithPriority(priority)}
	if f.ttl > 0 {
		opts = append(opts, messaging.WithTTL(f.ttl))
	}
	return opts, nil
}

// withProducer runs fn with the client's producer
func withProducer(parent context.Context, flags *globalFlags, fn func(context.Context, *messaging.Producer) error) error {
	return withClient(parent, flags, func(ctx context.Context, client *producer.Client) error {
		return fn(ctx, client.Producer())
	})
}

// withClient loads config, connects and runs fn until it returns or a signal arrives
func withClient(parent context.Context, flags *globalFlags, fn func(context.Context, *producer.Client) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if flags.url != "" {
		cfg.URL = flags.url
	}
	if flags.verbose {
		cfg.LogLevel = "debug"
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := producer.NewClient(ctx, *cfg, producer.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	return fn(ctx, client)
}

// readBody decodes the JSON body from args, or from in when no argument is given
func readBody(in io.Reader, args []string) (any, error) {
	var raw []byte
	if len(args) > 0 {
		raw = []byte(args[0])
	} else {
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		raw = data
	}

	if strings.TrimSpace(string(raw)) == "" {
		return map[string]any{}, nil
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("body is not valid JSON: %w", err)
	}
	return body, nil
}

func deliveryTime(at string, in time.Duration, now time.Time) (time.Time, error) {
	switch {
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --at: %w", err)
		}
		return t, nil
	case in > 0:
		return now.Add(in), nil
	default:
		return time.Time{}, fmt.Errorf("one of --at or --in is required")
	}
}

func printReply(out io.Writer, reply contracts.Reply) error {
	var v any
	if err := reply.Decode(&v); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		// CBOR maps may carry non-string keys
		_, err = fmt.Fprintf(out, "%v\n", v)
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", data)
	return err
}
