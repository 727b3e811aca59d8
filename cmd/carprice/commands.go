package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/carprice/internal/api"
	"github.com/kalambet/carprice/internal/catalog"
	"github.com/kalambet/carprice/internal/config"
	"github.com/kalambet/carprice/internal/form"
)

// --- predict ---

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict the resale price of a car",
	Long: `Predict the resale price of a car.

By default the request is sent to the running server. With --local the
catalog and model are loaded in-process instead.

Examples:
  carprice predict --company Maruti --name "Maruti Suzuki Swift" --fuel-type Petrol --year 2019 --kms 2000
  carprice predict --local --company Hyundai --name "Hyundai Eon" --fuel-type Petrol --year 2013`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var sel form.Selection
		sel.Company, _ = cmd.Flags().GetString("company")
		sel.Model, _ = cmd.Flags().GetString("name")
		sel.FuelType, _ = cmd.Flags().GetString("fuel-type")
		sel.Year, _ = cmd.Flags().GetInt("year")
		sel.KmsDriven, _ = cmd.Flags().GetInt("kms")
		local, _ := cmd.Flags().GetBool("local")

		if sel.Company == "" || sel.Model == "" || sel.FuelType == "" || sel.Year == 0 {
			return fmt.Errorf("--company, --name, --fuel-type and --year are required")
		}

		var est form.Estimate
		var err error
		if local {
			est, err = estimateLocally(cmd.Context(), sel)
		} else {
			var client *apiClient
			client, err = newAPIClient()
			if err != nil {
				return err
			}
			est, err = requestEstimate(cmd.Context(), client, sel)
		}
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), est.Display)
		return nil
	},
}

func init() {
	predictCmd.Flags().String("company", "", "manufacturer")
	predictCmd.Flags().String("name", "", "model name")
	predictCmd.Flags().String("fuel-type", "", "fuel type")
	predictCmd.Flags().Int("year", 0, "year of purchase")
	predictCmd.Flags().Int("kms", 0, "kilometres travelled")
	predictCmd.Flags().Bool("local", false, "predict in-process instead of calling the server")
}

func requestEstimate(ctx context.Context, client *apiClient, sel form.Selection) (form.Estimate, error) {
	resp, err := client.post(ctx, "/api/v1/predict", sel)
	if err != nil {
		return form.Estimate{}, err
	}
	var est form.Estimate
	if err := decodeJSON(resp, &est); err != nil {
		return form.Estimate{}, err
	}
	return est, nil
}

func estimateLocally(ctx context.Context, sel form.Selection) (form.Estimate, error) {
	cfg, err := config.Load()
	if err != nil {
		return form.Estimate{}, err
	}
	res, err := loadResources(ctx, cfg)
	if err != nil {
		return form.Estimate{}, err
	}
	return newController(cfg, res, nil).Estimate(ctx, sel)
}

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect or import the car catalog",
}

var catalogCompaniesCmd = &cobra.Command{
	Use:   "companies",
	Short: "List manufacturers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		for _, company := range c.Companies() {
			fmt.Fprintln(cmd.OutOrStdout(), company)
		}
		return nil
	},
}

var catalogModelsCmd = &cobra.Command{
	Use:   "models <company>",
	Short: "List the models of a manufacturer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		models := c.ModelsForCompany(args[0])
		if len(models) == 0 {
			printWarning("no models for company %q", args[0])
		}
		for _, m := range models {
			fmt.Fprintln(cmd.OutOrStdout(), m)
		}
		return nil
	},
}

var catalogFuelTypesCmd = &cobra.Command{
	Use:   "fuel-types",
	Short: "List fuel types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		for _, f := range c.FuelTypes() {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return nil
	},
}

var catalogYearsCmd = &cobra.Command{
	Use:   "years",
	Short: "List purchase years, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		for _, y := range c.Years() {
			fmt.Fprintln(cmd.OutOrStdout(), y)
		}
		return nil
	},
}

var catalogSampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Show the first rows of the dataset",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}
		c, err := openCatalog(cmd)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tCOMPANY\tYEAR\tKMS\tFUEL\tPRICE")
		for _, r := range c.Head(limit) {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%.0f\n", r.Name, r.Company, r.Year, r.KmsDriven, r.FuelType, r.Price)
		}
		return tw.Flush()
	},
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <csv>",
	Short: "Validate a CSV dataset and store it in a SQLite catalog",
	Long: `Validate a CSV dataset and store it in a SQLite catalog.

The database replaces its previous contents atomically. Point the server at it
with:
  carprice config set data.catalog_path <db>`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("db")
		if dbPath == "" {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dbPath = filepath.Join(cfg.Storage.DataDir, "catalog.db")
		}

		n, err := catalog.ImportCSV(args[0], dbPath)
		if err != nil {
			return err
		}

		printSuccess("Imported %d records into %s", n, dbPath)
		return nil
	},
}

func init() {
	catalogCmd.PersistentFlags().String("path", "", "catalog CSV or SQLite file (default: data.catalog_path)")
	catalogSampleCmd.Flags().Int("limit", 10, "number of rows to show")
	catalogImportCmd.Flags().String("db", "", "target database (default: <storage.data_dir>/catalog.db)")

	catalogCmd.AddCommand(catalogCompaniesCmd)
	catalogCmd.AddCommand(catalogModelsCmd)
	catalogCmd.AddCommand(catalogFuelTypesCmd)
	catalogCmd.AddCommand(catalogYearsCmd)
	catalogCmd.AddCommand(catalogSampleCmd)
	catalogCmd.AddCommand(catalogImportCmd)
}

func openCatalog(cmd *cobra.Command) (*catalog.Catalog, error) {
	path, _ := cmd.Flags().GetString("path")
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		path = cfg.Data.CatalogPath
	}
	return catalog.Load(path)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the catalog and predictor as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := loadResources(ctx, cfg)
		if err != nil {
			return err
		}

		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Catalog:    res.catalog,
			Controller: newController(cfg, res, nil),
			Version:    version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:       "set <key> <value>",
	Short:     "Set a configuration value",
	Args:      cobra.ExactArgs(2),
	ValidArgs: config.ValidKeys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
