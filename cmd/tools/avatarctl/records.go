package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newMemoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "List or clear learned facts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print learned facts, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeFn, err := a.repository(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			facts := repo.LoadMemory(cmd.Context())
			out := cmd.OutOrStdout()
			if len(facts) == 0 {
				fmt.Fprintln(out, "No memories stored.")
				return nil
			}
			for i, fact := range facts {
				fmt.Fprintf(out, "%3d  %s\n", i, fact)
			}
			return nil
		},
	})

	var confirm bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget every learned fact, keeping the conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to clear memory without --confirm")
			}
			repo, closeFn, err := a.repository(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := repo.SaveMemory(cmd.Context(), nil); err != nil {
				return fmt.Errorf("failed to clear memory: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Memory cleared.")
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the deletion")
	cmd.AddCommand(clearCmd)

	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or clear the conversation log",
	}

	var limit int
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeFn, err := a.repository(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			messages := repo.LoadHistory(cmd.Context())
			if limit > 0 && len(messages) > limit {
				messages = messages[len(messages)-limit:]
			}

			out := cmd.OutOrStdout()
			for _, m := range messages {
				line := fmt.Sprintf("[%s] %-5s %s", m.Timestamp.Local().Format("15:04:05"), m.Role, m.Text)
				if m.Emotion != "" {
					line += fmt.Sprintf(" (%s)", m.Emotion)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	show.Flags().IntVarP(&limit, "limit", "n", 0, "show only the last n messages")
	cmd.AddCommand(show)

	var confirm bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the conversation and all memories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to clear history without --confirm")
			}
			repo, closeFn, err := a.repository(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := repo.ClearConversation(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear conversation: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Conversation cleared.")
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the deletion")
	cmd.AddCommand(clearCmd)

	return cmd
}

func newSettingsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the voice and roleplay settings as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeFn, err := a.repository(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			payload := map[string]any{
				"voice":    repo.LoadVoice(cmd.Context()),
				"roleplay": repo.LoadRoleplay(cmd.Context()),
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", strings.Repeat(" ", 2))
			return enc.Encode(payload)
		},
	}
}
