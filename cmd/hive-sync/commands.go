package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/hive-sync/internal/credentials"
	"github.com/iammorganparry/hive-sync/internal/models"
	"github.com/iammorganparry/hive-sync/internal/report"
)

// withApp opens the app for a one-shot command and closes it afterwards.
func withApp(fn func(ctx context.Context, a *app, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a, args)
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass and print the report",
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			r, err := a.runner.RunOnce(ctx)
			if r != nil {
				fmt.Print(report.Run(r))
			}
			return err
		}),
	}
}

var keepChoices = map[string]models.Resolution{
	"local":    models.ResolutionKeepLocal,
	"external": models.ResolutionKeepExternal,
	"merge":    models.ResolutionMerge,
}

func resolveCmd() *cobra.Command {
	var keep string

	cmd := &cobra.Command{
		Use:   "resolve <item-id>",
		Short: "Settle a conflicted item by keeping one side",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := keepChoices[keep]; !ok {
				return fmt.Errorf("--keep must be local, external or merge, got %q", keep)
			}
			return nil
		},
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			it, err := a.resolver.Resolve(ctx, args[0], keepChoices[keep])
			if err != nil {
				return err
			}
			fmt.Print(report.Items([]*models.TrackedItem{it}))
			return nil
		}),
	}

	cmd.Flags().StringVar(&keep, "keep", "", "Side to keep: local, external or merge")
	_ = cmd.MarkFlagRequired("keep")

	return cmd
}

func itemsCmd() *cobra.Command {
	var (
		conflicts bool
		category  string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "items",
		Short: "List tracked items",
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			items, err := a.items.List(ctx, &models.ListItemsRequest{
				CategoryID:   category,
				ConflictOnly: conflicts,
				Limit:        limit,
			})
			if err != nil {
				return err
			}
			fmt.Print(report.Items(items))
			return nil
		}),
	}

	cmd.Flags().BoolVar(&conflicts, "conflicts", false, "Only show items in conflict")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Filter by category")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum number of items")

	return cmd
}

func integrationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integrations",
		Short: "Manage tracker integrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import integrations from a YAML file, sealing their tokens",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			n, err := credentials.ImportFile(ctx, args[0], a.integrations, a.box, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("imported %d integration(s)\n", n)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured integrations and any missing settings",
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			list, err := a.integrations.List(ctx)
			if err != nil {
				return err
			}
			creds := credentials.NewResolver(a.integrations, a.box)
			for _, in := range list {
				_, err := creds.Lookup(ctx, &models.TrackedItem{CategoryID: in.CategoryID, ExternalSystem: in.System})
				fmt.Print(report.Check(fmt.Sprintf("%s (%s)", in.CategoryID, in.System), err))
			}
			return nil
		}),
	})

	return cmd
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}

	var (
		name  string
		perms []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the raw key is printed once",
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			ps := make([]models.Permission, 0, len(perms))
			for _, p := range perms {
				perm := models.Permission(strings.TrimSpace(p))
				if !models.ValidPermissions[perm] {
					return fmt.Errorf("unknown permission %q", p)
				}
				ps = append(ps, perm)
			}
			raw, key, err := a.keys.Create(ctx, name, ps)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "created key %s (%s)\n", key.ID, key.Name)
			fmt.Println(raw)
			return nil
		}),
	}
	create.Flags().StringVar(&name, "name", "", "Key name")
	create.Flags().StringSliceVar(&perms, "perm", []string{string(models.PermissionItemsRead)}, "Permissions to grant (repeatable)")
	_ = create.MarkFlagRequired("name")
	cmd.AddCommand(create)

	// secret does not need config: it produces the value HIVE_SECRET_KEY expects.
	cmd.AddCommand(&cobra.Command{
		Use:   "secret",
		Short: "Generate a value for HIVE_SECRET_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := credentials.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Println(k)
			return nil
		},
	})

	return cmd
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the tracker APIs are reachable",
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			failed := 0
			for _, c := range a.registry.Clients() {
				pctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
				err := c.Ping(pctx)
				cancel()
				if err != nil {
					failed++
				}
				fmt.Print(report.Check(string(c.System()), err))
			}
			if failed > 0 {
				return fmt.Errorf("%d tracker(s) unreachable", failed)
			}
			return nil
		}),
	}
}
