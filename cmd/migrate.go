package cmd

import (
	"fmt"

	"github.com/dataflowslab/core.rompharm-sub001/internal/auth"
	"github.com/dataflowslab/core.rompharm-sub001/internal/database"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Run database migrations to create or update database schema.
This command will:
- Create all required tables if they don't exist
- Update table schemas if needed
- Create indexes for optimal query performance

With --print-fga-model the OpenFGA authorization model used for role
membership is printed instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if printModel, _ := cmd.Flags().GetBool("print-fga-model"); printModel {
			fmt.Fprintln(cmd.OutOrStdout(), auth.GetPermissionModel())
			return nil
		}

		// 1. 加载配置
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}

		// 2. 连接数据库
		logger := logrus.WithFields(logrus.Fields{
			"driver": cfg.Database.Driver,
			"host":   cfg.Database.Host,
			"dbname": cfg.Database.DBName,
		})
		logger.Info("Connecting to database")
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return err
		}
		defer database.Close(db)

		// 3. 执行迁移
		logger.Info("Running database migrations...")
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		logger.Info("Database migrations completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("print-fga-model", false, "Print the OpenFGA authorization model and exit")
}
