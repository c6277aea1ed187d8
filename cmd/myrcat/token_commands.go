package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"myrcat/internal/app"
)

func newTokenCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect and manage platform credentials",
	}
	cmd.AddCommand(
		newTokenStatusCommand(configPath),
		newTokenRefreshCommand(configPath),
		newTokenHistoryCommand(configPath),
		newTokenGenerateCommand(configPath),
	)
	return cmd
}

func newTokenStatusCommand(configPath *string) *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show credential state per platform",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			names := a.Registry().Names()
			if platform != "" {
				names = []string{platform}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PLATFORM\tSTATE\tTOKEN\tCREATED\tEXPIRES")
			for _, name := range names {
				st := a.Credentials().Status(cmd.Context(), name)
				token := "-"
				created := "-"
				expires := "-"
				if st.HasToken {
					token = "stored"
					created = st.CreatedAt.Local().Format("2006-01-02 15:04")
					if !st.ExpiresAt.IsZero() {
						expires = fmt.Sprintf("%s (%s)",
							st.ExpiresAt.Local().Format("2006-01-02 15:04"), humanTTL(st.TTL))
					} else {
						expires = "never/unknown"
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, st.State, token, created, expires)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "Limit to one platform")
	return cmd
}

func newTokenRefreshCommand(configPath *string) *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the stored token for a fresh one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if platform == "" {
				return fmt.Errorf("--platform is required")
			}
			a, err := app.New(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			tok, err := a.Credentials().Refresh(cmd.Context(), platform)
			if err != nil {
				return err
			}
			if tok.ExpiresAt.IsZero() {
				fmt.Printf("%s: token refreshed (no expiry reported)\n", platform)
			} else {
				fmt.Printf("%s: token refreshed, expires %s (%s)\n",
					platform, tok.ExpiresAt.Local().Format("2006-01-02 15:04"), humanTTL(time.Until(tok.ExpiresAt)))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "Platform to refresh")
	return cmd
}

func newTokenHistoryCommand(configPath *string) *cobra.Command {
	var (
		platform string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored token rows, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if platform == "" {
				return fmt.Errorf("--platform is required")
			}
			a, err := app.New(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.Store().TokenHistory(cmd.Context(), platform, limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Printf("%s: no stored tokens\n", platform)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tEXPIRES\tSOURCE")
			for _, t := range rows {
				expires := "never/unknown"
				if !t.ExpiresAt.IsZero() {
					expires = t.ExpiresAt.Local().Format("2006-01-02 15:04")
				}
				source := t.Metadata["source"]
				if source == "" {
					source = "-"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
					t.ID, t.CreatedAt.Local().Format("2006-01-02 15:04"), expires, source)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "Platform to list")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum rows")
	return cmd
}

func newTokenGenerateCommand(configPath *string) *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Interactively acquire and store a new token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if platform == "" {
				return fmt.Errorf("--platform is required")
			}
			a, err := app.New(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			reader := bufio.NewReader(os.Stdin)
			prompt := func(msg string) (string, error) {
				fmt.Printf("%s:\n> ", msg)
				line, err := reader.ReadString('\n')
				if err != nil {
					return "", err
				}
				return strings.TrimSpace(line), nil
			}

			tok, err := a.Credentials().Generate(cmd.Context(), platform, prompt)
			if err != nil {
				return err
			}
			if tok.ExpiresAt.IsZero() {
				fmt.Printf("%s: token stored (no expiry reported)\n", platform)
			} else {
				fmt.Printf("%s: token stored, expires %s (%s)\n",
					platform, tok.ExpiresAt.Local().Format("2006-01-02 15:04"), humanTTL(time.Until(tok.ExpiresAt)))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "Platform to generate for")
	return cmd
}

// humanTTL renders a remaining lifetime the way an operator reads it:
// "62d", "5d 3h", "4h 20m", "expired".
func humanTTL(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	switch {
	case days >= 14:
		return fmt.Sprintf("%dd", days)
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
