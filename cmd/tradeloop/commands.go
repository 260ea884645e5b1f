package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tradeloop/internal/db"
	"tradeloop/internal/engine"
	"tradeloop/internal/repository"
	"tradeloop/internal/service"
)

func withApp(opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := context.Background()
	a, err := newApp(ctx, opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func newTickCmd(opts *rootOptions) *cobra.Command {
	var sessionID uint64
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one tick for a session and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, a *app) error {
				report, err := a.orchestrator.Tick(ctx, sessionID)
				if report != nil {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if encErr := enc.Encode(report); encErr != nil {
						return encErr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().Uint64Var(&sessionID, "session", 0, "session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB(opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer db.Close(conn)
			if err := db.AutoMigrate(conn); err != nil {
				return fmt.Errorf("auto-migrate: %w", err)
			}
			opts.logger.Info("migration complete")
			return nil
		},
	}
}

func newDecisionsCmd(opts *rootOptions) *cobra.Command {
	var (
		sessionID uint64
		limit     int
		market    string
	)
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Show the latest decisions of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, a *app) error {
				params := repository.ListDecisionsParams{SessionID: &sessionID, Limit: limit}
				if market != "" {
					params.Market = &market
				}
				items, err := a.store.ListDecisions(ctx, params)
				if err != nil {
					return err
				}
				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.SetHeader([]string{"ID", "Time", "Market", "Conf", "Exec", "Summary"})
				table.SetAutoWrapText(false)
				for _, d := range items {
					exec := ""
					if d.Executed {
						exec = "yes"
					}
					table.Append([]string{
						strconv.FormatUint(d.ID, 10),
						d.CreatedAt.UTC().Format(time.DateTime),
						d.Market,
						strconv.FormatFloat(d.Confidence, 'f', 2, 64),
						exec,
						d.ActionSummary,
					})
				}
				table.Render()
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&sessionID, "session", 0, "session id")
	cmd.Flags().IntVar(&limit, "limit", 20, "rows to show")
	cmd.Flags().StringVar(&market, "market", "", "only this market")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// strategyFile is the YAML shape accepted by "strategy import".
type strategyFile struct {
	ID                    uint64 `yaml:"id"`
	service.StrategyInput `yaml:",inline"`
	Filters               map[string]any `yaml:"filters"`
}

func loadStrategyFile(path string) (uint64, service.StrategyInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, service.StrategyInput{}, err
	}
	var f strategyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return 0, service.StrategyInput{}, fmt.Errorf("parse %s: %w", path, err)
	}
	in := f.StrategyInput
	if len(f.Filters) > 0 {
		doc, err := json.Marshal(f.Filters)
		if err != nil {
			return 0, service.StrategyInput{}, fmt.Errorf("filters: %w", err)
		}
		in.Filters = doc
	}
	return f.ID, in, nil
}

func newStrategyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "Manage strategy definitions",
	}
	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Create or replace a strategy from a YAML file",
		Long: `Create a strategy from a YAML definition. When the file carries an id the
existing strategy is replaced; running sessions pick it up on their next tick.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, in, err := loadStrategyFile(file)
			if err != nil {
				return err
			}
			return withApp(opts, func(ctx context.Context, a *app) error {
				if id != 0 {
					item, err := a.strategies.Update(ctx, id, in)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "updated strategy %d (%s)\n", item.ID, item.Name)
					return nil
				}
				item, err := a.strategies.Create(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created strategy %d (%s)\n", item.ID, item.Name)
				return nil
			})
		},
	}
	importCmd.Flags().StringVarP(&file, "file", "f", "", "strategy YAML file")
	_ = importCmd.MarkFlagRequired("file")
	cmd.AddCommand(importCmd)
	return cmd
}

func newTradesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Inspect account trades",
	}
	var accountID uint64
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write an account's full trade history as CSV to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, a *app) error {
				trades, err := engine.AllTrades(ctx, a.store, accountID)
				if err != nil {
					return err
				}
				return service.WriteTradesCSV(cmd.OutOrStdout(), trades)
			})
		},
	}
	exportCmd.Flags().Uint64Var(&accountID, "account", 0, "account id")
	_ = exportCmd.MarkFlagRequired("account")
	cmd.AddCommand(exportCmd)
	return cmd
}
