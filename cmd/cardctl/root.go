package main

import (
	"cardcore/internal/config"
	"cardcore/internal/profiles"
	"cardcore/pkg/domain"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

type app struct {
	out      io.Writer
	envFiles []string
	account  string
	timeout  time.Duration
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:           "cardctl",
		Short:         "Inspect and manage the cards identities of an account",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.account, "account", "", "Account id to act for")
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "Env files to load (default .env)")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "Operation timeout")

	root.AddCommand(
		a.listCmd(),
		a.switchCmd(),
		a.activateCmd(),
		a.createCmd(),
		a.deleteCmd(),
		a.updateCmd(),
		a.migrateCmd(),
	)
	return root
}

// session opens the backends, signs the account in and hands the loaded
// engine to fn. The engine's snapshot is printed afterwards.
func (a *app) session(cmd *cobra.Command, fn func(ctx context.Context, e *profiles.Engine) (any, error)) error {
	if a.account == "" {
		return errors.New("--account is required")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
	defer cancel()

	cfg, err := config.Load(a.envFiles...)
	if err != nil {
		return err
	}
	backends, err := config.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = backends.Close() }()
	tel, err := config.OpenTelemetry(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = tel.Logger.Sync() }()

	engine := profiles.NewEngine(backends.Repository(), backends.Selections, tel.EngineOptions(cfg)...)
	if _, err := engine.SetAccount(ctx, a.account); err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	result, err := fn(ctx, engine)
	if err != nil {
		return err
	}
	return a.print(output{Result: result, Snapshot: newSnapshotView(engine.Snapshot())})
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type output struct {
	Result   any          `json:"result,omitempty"`
	Snapshot snapshotView `json:"snapshot"`
}

type snapshotView struct {
	State     string           `json:"state"`
	AccountID string           `json:"account_id"`
	ActiveID  string           `json:"active_profile_id,omitempty"`
	Profiles  []domain.Profile `json:"profiles"`
}

func newSnapshotView(s profiles.Snapshot) snapshotView {
	v := snapshotView{State: s.State.String(), AccountID: s.AccountID, Profiles: s.Profiles}
	if s.Active != nil {
		v.ActiveID = s.Active.ID
	}
	if v.Profiles == nil {
		v.Profiles = []domain.Profile{}
	}
	return v
}
