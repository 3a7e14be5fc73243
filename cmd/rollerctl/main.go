package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rollerd/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "rollerctl",
	Short: "Admin CLI for a rollerd control plane",
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(refreshCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ROLLERCTL")
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "rollerd base URL")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON instead of a table")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show repo and project state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap engine.Snapshot
			if err := getJSON(cmd.Context(), viper.GetString("server")+"/status", &snap); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(snap)
			}
			printReposTable(snap.Repos)
			printProjectsTable(snap.Projects)
			return nil
		},
	}
	return cmd
}

func refreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh <project-index>",
		Short: "Force a project rebuild against its repo's current commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("project index must be an integer: %w", err)
			}
			url := fmt.Sprintf("%s/admin/refresh/%d", viper.GetString("server"), index)
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("request rollerd: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 300 {
				return fmt.Errorf("rollerd returned %s", resp.Status)
			}
			fmt.Printf("refresh accepted for project %d\n", index)
			return nil
		},
	}
	return cmd
}

func getJSON(ctx context.Context, url string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request rollerd: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("rollerd returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReposTable(repos []engine.RepoSnapshot) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Repos")
	tw.AppendHeader(table.Row{"Clone URL", "State", "Commit", "Lock Count", "Pending"})
	for _, r := range repos {
		commit := r.Commit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		tw.AppendRow(table.Row{r.CloneURL, r.State, commit, r.LockCount, r.UpdatePending})
	}
	tw.Render()
}

func printProjectsTable(projects []engine.ProjectSnapshot) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Projects")
	tw.AppendHeader(table.Row{"Index", "State", "Active", "Starting", "Ending", "Image", "Hooks", "Pending"})
	for _, p := range projects {
		tw.AppendRow(table.Row{p.Index, p.State, p.Active, p.Starting, p.Ending, p.Image, len(p.Hooks), p.UpdatePending})
	}
	tw.Render()
}
