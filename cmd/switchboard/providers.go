package main

import (
	"github.com/newthinker/switchboard/internal/app"
	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/render"
	"github.com/spf13/cobra"
)

var (
	modelsProvider   string
	modelsCapability string
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers in dispatch order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App, out *render.Renderer) error {
			return out.Providers(a.Dispatcher().Providers())
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check every provider's health",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App, out *render.Renderer) error {
			statuses := a.Checker().CheckAll(cmd.Context(), a.Dispatcher().Providers())
			return out.Health(statuses)
		})
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List known models with pricing",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App, out *render.Renderer) error {
			return out.Models(a.Catalog().Filter(core.ProviderType(modelsProvider), core.Capability(modelsCapability)))
		})
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().StringVar(&modelsProvider, "provider", "", "only models of this provider type")
	modelsCmd.Flags().StringVar(&modelsCapability, "capability", "", "only models with this capability (chat, code, vision, tools, json)")
}
