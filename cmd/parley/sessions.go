package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/parley/pkg/chat"
)

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage persisted chat sessions",
	}
	cmd.AddCommand(
		newSessionsListCommand(),
		newSessionsShowCommand(),
		newSessionsExportCommand(),
		newSessionsRenameCommand(),
		newSessionsDeleteCommand(),
		newSessionsClearCommand(),
	)
	return cmd
}

func newSessionsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List persisted sessions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			index := store.SessionIndex()
			if len(index) == 0 {
				fmt.Println("no persisted sessions")
				return nil
			}
			printSessionIndex(index)
			return nil
		},
	}
}

func newSessionsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print the transcript of a persisted session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			data := store.ReadSession(args[0])
			if data == nil {
				return errors.Errorf("session %s not found", args[0])
			}

			model, err := chat.RestoreModel(data.Model, chat.RestoreOptions{})
			if err != nil {
				return errors.Wrapf(err, "failed to restore session %s", args[0])
			}

			if data.Title != "" {
				fmt.Printf("# %s\n\n", data.Title)
			}
			for _, request := range model.GetRequests() {
				marker := ""
				if request.IsStale() {
					marker = " [stale]"
				}
				fmt.Printf("> %s%s\n", request.Request().Text, marker)
				if text := request.Response().AsDisplayString(); text != "" {
					fmt.Println(text)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func newSessionsExportCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Write a persisted session to stdout as JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			data := store.ReadSession(args[0])
			if data == nil {
				return errors.Errorf("session %s not found", args[0])
			}

			switch format {
			case "json":
				payload, err := json.MarshalIndent(data, "", "  ")
				if err != nil {
					return errors.Wrapf(err, "failed to marshal session %s", args[0])
				}
				fmt.Println(string(payload))
			case "yaml":
				payload, err := yaml.Marshal(data)
				if err != nil {
					return errors.Wrapf(err, "failed to marshal session %s", args[0])
				}
				_, _ = os.Stdout.Write(payload)
			default:
				return errors.Errorf("unsupported format %s, expected json or yaml", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Output format (json, yaml)")
	return cmd
}

func newSessionsRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <session-id> <title>",
		Short: "Change the title of a persisted session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			return store.SetSessionTitle(args[0], args[1])
		},
	}
}

func newSessionsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a persisted session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			return store.DeleteSession(args[0])
		},
	}
}

func newSessionsClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all persisted sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			return store.ClearAllSessions()
		},
	}
}
