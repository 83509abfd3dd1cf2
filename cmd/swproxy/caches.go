package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"swproxy/internal/interface/repository/cache"
)

func newCachesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caches",
		Short: "Inspect or clear the cache store",
	}
	cmd.AddCommand(newCachesListCmd(), newCachesClearCmd())
	return cmd
}

func newCachesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List caches and their entry counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			storage, closeFn, err := openStorage(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			names, err := storage.Keys(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				c, err := storage.Open(ctx, name)
				if err != nil {
					return err
				}
				keys, err := c.Keys(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", name, len(keys))
			}
			return nil
		},
	}
	addStoreFlags(cmd)
	return cmd
}

func newCachesClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear [name...]",
		Short: "Delete the named caches, or every cache when no name is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, closeFn, err := openStorage(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			names := args
			if len(names) == 0 {
				if names, err = storage.Keys(ctx); err != nil {
					return err
				}
			}
			for _, name := range names {
				deleted, err := storage.Delete(ctx, name)
				if err != nil {
					return err
				}
				if deleted {
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
				}
			}
			return nil
		},
	}
	addStoreFlags(cmd)
	return cmd
}

func openStorage(cmd *cobra.Command) (*cache.Storage, func() error, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	backend, err := cache.OpenBackend(cfg.StoreKind, cfg.StorePath, cfg.MaxCacheSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cache store: %w", err)
	}
	return cache.NewStorage(backend), backend.Close, nil
}
