package main

import (
	"fmt"
	"os"

	"gitchat/internal/app"
	"gitchat/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a ChatApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Serve", "SyncForks").
func newApp(operation string) (*app.ChatApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewChatApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "gitchat",
	Short: "Self-hosted chat over a git repository",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["repo_path"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Repository: %s\n", defaults["repo_path"])
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
		fmt.Printf("Repository:   %s\n", cfg.RepoPath)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Storage:      %s\n", cfg.Storage.Type)
		fmt.Printf("Sync enabled: %v\n", cfg.Sync.Enabled)
		fmt.Printf("Publish:      %s\n", cfg.Publish.Type)
		fmt.Printf("Port:         %d\n", cfg.Server.Port)
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP chat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Serve")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve()
	},
}

// post command
var postAuthor string
var postParent string

var postCmd = &cobra.Command{
	Use:   "post [message]",
	Short: "Post a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Post")
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.SaveMessage(postAuthor, args[0], postParent)
		if err != nil {
			return fmt.Errorf("saving message: %w", err)
		}
		fmt.Printf("Saved message %s\n", id)
		return nil
	},
}

// list command
var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List messages, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("List")
		if err != nil {
			return err
		}
		defer a.Close()

		msgs, err := a.ListMessages(listLimit)
		if err != nil {
			return fmt.Errorf("listing messages: %w", err)
		}
		for _, m := range msgs {
			ts := "unknown time"
			if m.HasTimestamp() {
				ts = m.CreatedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("[%s] %s: %s\n", ts, m.Author, m.Content)
		}
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Bundle old messages into an archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Archive")
		if err != nil {
			return err
		}
		defer a.Close()

		name, err := a.ArchiveOld()
		if err != nil {
			return fmt.Errorf("archiving: %w", err)
		}
		if name == "" {
			fmt.Println("No messages old enough to archive")
			return nil
		}
		fmt.Printf("Created %s\n", name)
		return nil
	},
}

// sync-forks command
var syncForksCmd = &cobra.Command{
	Use:   "sync-forks",
	Short: "Update fork clones and merge their messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SyncForks")
		if err != nil {
			return err
		}
		defer a.Close()

		merged, err := a.SyncForks()
		if err != nil {
			return fmt.Errorf("syncing forks: %w", err)
		}
		fmt.Printf("Merged %d message(s) from forks\n", merged)
		return nil
	},
}

// find-forks command
var findForksToken string

var findForksCmd = &cobra.Command{
	Use:   "find-forks",
	Short: "Discover the origin's fork tree and write the fork list",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("FindForks")
		if err != nil {
			return err
		}
		defer a.Close()

		token := findForksToken
		if token == "" {
			token = os.Getenv("GITHUB_TOKEN")
		}
		urls, err := a.FindForks(cmd.Context(), token)
		if err != nil {
			return fmt.Errorf("discovering forks: %w", err)
		}
		fmt.Printf("Found %d repositories:\n", len(urls))
		for _, u := range urls {
			fmt.Printf("  %s\n", u)
		}
		return nil
	},
}

// keygen command
var keygenCmd = &cobra.Command{
	Use:   "keygen [username]",
	Short: "Generate a signing key pair for a username",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Keygen")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Keygen(args[0]); err != nil {
			return fmt.Errorf("generating keys for %s: %w", args[0], err)
		}
		fmt.Printf("Generated key pair for %s\n", args[0])
		return nil
	},
}

func init() {
	postCmd.Flags().StringVar(&postAuthor, "author", "anonymous", "author username")
	postCmd.Flags().StringVar(&postParent, "parent", "", "parent message ID")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum messages to show, 0 for all")
	findForksCmd.Flags().StringVar(&findForksToken, "token", "", "GitHub API token (defaults to GITHUB_TOKEN)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(syncForksCmd)
	rootCmd.AddCommand(findForksCmd)
	rootCmd.AddCommand(keygenCmd)
}
