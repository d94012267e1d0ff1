package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"keybubbles/internal/config"
	"keybubbles/internal/diaglog"
	"keybubbles/internal/ipc"
	"keybubbles/internal/preview"
)

// errNotRunning is returned by control commands when no instance answers.
var errNotRunning = errors.New("KeyBubbles is not running")

// runPreviewFn is a test seam.
var runPreviewFn = func(ctx context.Context, cfg config.Config) error { return preview.Run(ctx, cfg) }

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:   "keybubbles",
		Short: "Show pressed keys as fading bubbles on screen",
		Long: `KeyBubbles shows every key combination you press as a bubble near the
bottom of the screen. Run without arguments to start the overlay; the
subcommands control an instance that is already running.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(verbose)
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output")

	for _, c := range controlCommands {
		root.AddCommand(newControlCmd(c.name, c.short))
	}
	root.AddCommand(newConfigCmd(), newPreviewCmd(), newLogsCmd())
	return root
}

var controlCommands = []struct {
	name  string
	short string
}{
	{ipc.CommandQuit, "Quit the running instance"},
	{ipc.CommandPause, "Stop showing new keys"},
	{ipc.CommandResume, "Show keys again after a pause"},
	{ipc.CommandToggle, "Toggle between paused and active"},
	{ipc.CommandSettings, "Open the settings page of the running instance"},
	{ipc.CommandStatus, "Print whether the running instance is active or paused"},
}

func newControlCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendControl(cmd.OutOrStdout(), name)
		},
	}
}

// sendControl delivers one command. quit succeeds when nothing is running
// so installers can call it unconditionally.
func sendControl(out io.Writer, command string) error {
	resp, err := sendControlFn("", ipc.Request{Command: command})
	if err != nil {
		if ipc.IsConnectionError(err) {
			if command == ipc.CommandQuit {
				fmt.Fprintln(out, errNotRunning.Error())
				return nil
			}
			return &exitError{code: 3, err: errNotRunning}
		}
		return fmt.Errorf("%s: %w", command, err)
	}
	if !resp.OK {
		return fmt.Errorf("%s: %s", command, resp.Message)
	}
	state := "active"
	if resp.Paused {
		state = "paused"
	}
	if command == ipc.CommandQuit {
		fmt.Fprintln(out, "KeyBubbles is shutting down")
		return nil
	}
	fmt.Fprintf(out, "KeyBubbles is %s\n", state)
	return nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or reset the configuration file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the configuration file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(cmd.OutOrStdout(), defaultConfigPath())
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, _, err := loadConfigForCLI()
				if err != nil {
					return err
				}
				for _, w := range config.ConsumeWarnings() {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
				}
				raw, err := config.Marshal(cfg)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(raw)
				return err
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Overwrite the configuration file with the defaults",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path := defaultConfigPath()
				if _, err := config.Save(path, config.DefaultConfig()); err != nil {
					return err
				}
				// A running instance picks the file up through its watcher.
				fmt.Fprintf(cmd.OutOrStdout(), "Defaults written to %s\n", path)
				return nil
			},
		},
	)
	return cmd
}

func newPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Try the current configuration in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfigForCLI()
			if err != nil {
				return err
			}
			config.ConsumeWarnings()
			return runPreviewFn(cmd.Context(), cfg)
		},
	}
}

func newLogsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print recent warnings recorded by earlier runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := diagnosticsPath(defaultConfigPath())
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(cmd.OutOrStdout(), "No diagnostics recorded yet.")
				return nil
			}
			store, err := diaglog.Open(path, diaglog.DefaultRetention)
			if err != nil {
				return err
			}
			defer store.Close()
			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No diagnostics recorded yet.")
				return nil
			}
			// Oldest first reads naturally in a terminal.
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				source := ""
				if e.Source != "" {
					source = " [" + e.Source + "]"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-5s%s %s\n",
					e.Time.Format("2006-01-02 15:04:05"), e.Level, source, strings.TrimSpace(e.Message))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "lines", "n", 20, "number of entries to print")
	return cmd
}
