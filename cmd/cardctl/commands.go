package main

import (
	"cardcore/internal/config"
	"cardcore/internal/profiles"
	"cardcore/pkg/domain"
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Load and print the account's profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.session(cmd, func(context.Context, *profiles.Engine) (any, error) { return nil, nil })
		},
	}
}

func (a *app) switchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <profile-id>",
		Short: "Make a profile active by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.session(cmd, func(ctx context.Context, e *profiles.Engine) (any, error) {
				res, err := e.SwitchTo(ctx, args[0])
				if err != nil {
					return nil, err
				}
				if !res.Confirmed {
					return nil, fmt.Errorf("profile %s is not owned by account %s", args[0], a.account)
				}
				return res, nil
			})
		},
	}
}

func (a *app) activateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <handle>",
		Short: "Make a profile active by handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.session(cmd, func(ctx context.Context, e *profiles.Engine) (any, error) {
				return e.ActivateByHandle(ctx, args[0])
			})
		},
	}
}

func (a *app) createCmd() *cobra.Command {
	var in profiles.CreateInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new profile for the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.session(cmd, func(ctx context.Context, e *profiles.Engine) (any, error) {
				return e.CreateProfile(ctx, in)
			})
		},
	}
	cmd.Flags().StringVar(&in.Handle, "handle", "", "Handle (required)")
	cmd.Flags().StringVar(&in.DisplayName, "display-name", "", "Display name")
	cmd.Flags().StringVar(&in.AvatarURL, "avatar-url", "", "Avatar URL or storage path")
	cmd.Flags().StringVar(&in.Bio, "bio", "", "Bio")
	_ = cmd.MarkFlagRequired("handle")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <profile-id>",
		Short: "Delete a non-primary profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.session(cmd, func(ctx context.Context, e *profiles.Engine) (any, error) {
				return nil, e.DeleteProfile(ctx, args[0])
			})
		},
	}
}

func (a *app) updateCmd() *cobra.Command {
	var handle, displayName, avatarURL, bio string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update fields of the active profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var fields domain.ProfileFields
			flags := cmd.Flags()
			if flags.Changed("handle") {
				fields.Handle = domain.StringPtr(handle)
			}
			if flags.Changed("display-name") {
				fields.DisplayName = domain.StringPtr(displayName)
			}
			if flags.Changed("avatar-url") {
				fields.AvatarURL = domain.StringPtr(avatarURL)
			}
			if flags.Changed("bio") {
				fields.Bio = domain.StringPtr(bio)
			}
			return a.session(cmd, func(ctx context.Context, e *profiles.Engine) (any, error) {
				return e.UpdateProfile(ctx, fields)
			})
		},
	}
	cmd.Flags().StringVar(&handle, "handle", "", "New handle")
	cmd.Flags().StringVar(&displayName, "display-name", "", "New display name")
	cmd.Flags().StringVar(&avatarURL, "avatar-url", "", "New avatar URL or storage path")
	cmd.Flags().StringVar(&bio, "bio", "", "New bio")
	return cmd
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Provision the multi-profile schema on the configured storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			if err := backends.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			_, err = fmt.Fprintf(a.out, "multi-profile schema ready (%s)\n", cfg.StorageDriver)
			return err
		},
	}
}
