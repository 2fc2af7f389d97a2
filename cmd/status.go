package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/openbridge-labs/bridge-listener/config"
	"github.com/openbridge-labs/bridge-listener/db"
)

func StatusCmd() *cobra.Command {
	var showFailed bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print transfer counts per status and the chain sync points",
		Run: func(c *cobra.Command, _ []string) {
			configFile, err := c.Flags().GetString("config")
			if err != nil {
				panic(err)
			}

			cfg, err := config.NewConfig(configFile)
			if err != nil {
				panic(err)
			}
			if !cfg.UseMysql() {
				panic(errors.New("status requires a configured database section"))
			}

			if err := db.Init(cfg.Database); err != nil {
				panic(err)
			}
			repository, err := db.NewMysqlRepository()
			if err != nil {
				panic(err)
			}

			for _, status := range []int{db.StatusPending, db.StatusRelayed, db.StatusCompleted, db.StatusFailed} {
				txs, err := repository.GetByStatus(status)
				if err != nil {
					panic(err)
				}
				fmt.Printf("%-10s %d\n", db.StatusName(status), len(txs))

				if status == db.StatusFailed && showFailed {
					for _, tx := range txs {
						fmt.Printf("  %s source tx %s retries %d\n", tx.ID, tx.SourceTxHash, tx.RetryCount)
					}
				}
			}

			for _, name := range []string{cfg.SourceChain.Name, cfg.DestChain.Name} {
				point, err := repository.GetSyncPoint(name)
				if err != nil {
					panic(err)
				}
				fmt.Printf("%s sync point: %d\n", name, point)
			}
		},
	}

	cmd.Flags().BoolVar(&showFailed, "show-failed", false, "List each failed transfer record")
	return cmd
}
