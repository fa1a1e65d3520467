package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mmdump/internal/app"
	"mmdump/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a wired App. The caller must
// defer a.Close(). When promptCredentials is set and neither token nor
// password is available, the password is read from the terminal.
func newApp(ctx context.Context, promptCredentials bool) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if promptCredentials && cfg.Connection.Token == "" && cfg.Connection.Password == "" {
		pw, err := promptSecret(fmt.Sprintf("Password for %s: ", cfg.Connection.Username))
		if err != nil {
			return nil, err
		}
		cfg.Connection.Password = pw
	}

	a, err := app.NewApp(ctx, cfg, defaults["log_dir"])
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// promptSecret reads a line from the terminal without echoing it.
func promptSecret(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return string(secret), nil
}

// interruptibleContext cancels on SIGINT/SIGTERM so a run stops cleanly
// between batches with everything fetched so far persisted.
func interruptibleContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:   "mmdump",
	Short: "Incremental Mattermost channel history archiver",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init SERVER_URL",
	Short: "Initialize configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(args[0], defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Server:   %s\n", args[0])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Server:      %s\n", cfg.Connection.ServerURL)
		fmt.Printf("User:        %s\n", cfg.Connection.Username)
		fmt.Printf("Archive Dir: %s\n", cfg.Output.Directory)
		fmt.Printf("Journal:     %s\n", cfg.Journal.Type)
		fmt.Printf("Mirror:      %s\n", cfg.Mirror.Type)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Generate the mirror encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := promptSecret("New key passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := promptSecret("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.SetupKeys(passphrase); err != nil {
			return fmt.Errorf("setting up keys: %w", err)
		}
		fmt.Println("Encryption keys generated.")
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Download configured channel histories",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := interruptibleContext()
		defer cancel()

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Sync(ctx)
		if report != nil {
			for _, s := range report.Summaries {
				line := fmt.Sprintf("%-40s  %-6s  +%d posts", s.Name, s.Action, s.Written)
				if s.StopReason != "" {
					line += fmt.Sprintf("  (%s)", s.StopReason)
				}
				if s.Err != nil {
					line += "  ERROR: " + s.Err.Error()
				}
				fmt.Println(line)
			}
		}
		if err != nil {
			return fmt.Errorf("run failed: %w", err)
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d channel(s) failed", report.Failed)
		}
		fmt.Printf("Run %s completed.\n", report.RunId)
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View stored archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		archives, err := a.Status()
		if err != nil {
			return err
		}
		if len(archives) == 0 {
			fmt.Println("No archives stored.")
			return nil
		}
		for _, s := range archives {
			line := fmt.Sprintf("%-40s  %6d posts  %10d bytes  %s", s.Name, s.Count, s.ByteSize, s.Organization)
			if s.Problem != "" {
				line += "  PROBLEM: " + s.Problem
			}
			fmt.Println(line)
		}
		return nil
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check archive integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Verify()
		if err != nil {
			return err
		}
		bad := 0
		for _, r := range results {
			if r.Err != nil {
				bad++
				fmt.Printf("%-40s  %s\n", r.Name, r.Err)
			} else {
				fmt.Printf("%-40s  ok\n", r.Name)
			}
		}
		if bad > 0 {
			return fmt.Errorf("%d archive(s) failed verification", bad)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history [RUN_ID]",
	Short: "View past runs, or one run's channels",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := context.Background()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 1 {
			records, err := a.RunChannels(ctx, args[0])
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No channels recorded for this run.")
				return nil
			}
			for _, r := range records {
				line := fmt.Sprintf("%-40s  %-6s  +%d posts  total %d", r.ArchiveName, r.Action, r.Written, r.PostCount)
				if r.StopReason != "" {
					line += fmt.Sprintf("  (%s)", r.StopReason)
				}
				if r.Error != "" {
					line += "  ERROR: " + r.Error
				}
				fmt.Println(line)
			}
			return nil
		}

		runs, err := a.History(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		for _, r := range runs {
			duration := ""
			if !r.FinishedAt.IsZero() {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("%s  %s  %-10s  %s\n",
				r.Id,
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Status,
				duration,
			)
		}
		return nil
	},
}

// mirror command
var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Manage the off-site archive copy",
}

var mirrorPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload archives to the mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := interruptibleContext()
		defer cancel()

		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		pushed, err := a.MirrorPush(ctx)
		if err != nil {
			return fmt.Errorf("push failed: %w", err)
		}
		fmt.Printf("Pushed %d object(s).\n", len(pushed))
		return nil
	},
}

var mirrorFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download archives from the mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := interruptibleContext()
		defer cancel()

		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := promptSecret("Key passphrase (empty if mirror is unencrypted): ")
		if err != nil {
			return err
		}

		fetched, err := a.MirrorFetch(ctx, passphrase)
		if err != nil {
			return fmt.Errorf("fetch failed: %w", err)
		}
		fmt.Printf("Fetched %d file(s).\n", len(fetched))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysSetupCmd)

	mirrorCmd.AddCommand(mirrorPushCmd)
	mirrorCmd.AddCommand(mirrorFetchCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
	rootCmd.AddCommand(mirrorCmd)
}
