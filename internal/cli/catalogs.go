package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/icetop/internal/config"
	"github.com/harun/icetop/pkg/catalog"
)

var catalogsCmd = &cobra.Command{
	Use:   "catalogs",
	Short: "List the catalogs defined in the pyiceberg file",
	RunE:  runCatalogs,
}

func init() {
	rootCmd.AddCommand(catalogsCmd)
}

func runCatalogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	path := pyicebergFile
	if path == "" {
		path = cfg.PyIcebergConfigPath
	}
	if path == "" {
		path = config.DefaultPyIcebergConfigPath()
	}

	pyCfg, err := catalog.LoadPyIcebergConfig(path)
	if err != nil {
		return err
	}

	names := pyCfg.CatalogNames()
	if len(names) == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "No catalogs defined in %s\n", path)
		return nil
	}
	for _, name := range names {
		props, _ := pyCfg.Catalog(name)
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, props.Get("uri"))
	}
	return nil
}
