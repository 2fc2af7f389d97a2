package main

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openbridge-labs/bridge-listener/chain"
	"github.com/openbridge-labs/bridge-listener/config"
	"github.com/openbridge-labs/bridge-listener/db"
	"github.com/openbridge-labs/bridge-listener/listener"
	"github.com/openbridge-labs/bridge-listener/relayer"
)

func RootAction(c *cobra.Command, _ []string) {
	configFile, err := c.Flags().GetString("config")
	if err != nil {
		panic(err)
	}

	cfg, err := config.NewConfig(configFile)
	if err != nil {
		panic(err)
	}

	enableDebug, err := c.Flags().GetBool("debug")
	if err != nil {
		panic(err)
	}
	parentLogger, err := cfg.CreateLogger(enableDebug)
	if err != nil {
		panic(err)
	}
	logger := parentLogger.With().Sugar()

	repository, cursors, err := openStorage(&cfg, logger)
	if err != nil {
		panic(err)
	}

	sourceScanner, err := buildScanner(cfg.SourceChain, cursors, logger)
	if err != nil {
		panic(err)
	}
	destScanner, err := buildScanner(cfg.DestChain, cursors, logger)
	if err != nil {
		panic(err)
	}

	relayClient := relayer.NewClient(cfg.Relayer.Endpoint, cfg.Relayer.Timeout)

	bridgeListener := listener.New(logger, repository, relayClient, sourceScanner, destScanner,
		cfg.SourceChain.PollInterval, cfg.DestChain.PollInterval, cfg.Relayer.MaxAttempts)
	bridgeListener.Start()

	addInterruptHandler(func() {
		logger.Infof("Stopping bridge listener...")
		bridgeListener.Stop()
		bridgeListener.WaitForShutdown()
		logger.Infof("Bridge listener shutdown")
	})
	<-interruptHandlersDone
	parentLogger.Info("Shutdown complete")
}

func buildScanner(cfg config.ChainConfig, cursors db.ICursorStore,
	logger *zap.SugaredLogger) (*listener.ChainScanner, error) {
	contractAddress := common.HexToAddress(cfg.BridgeContractAddress)

	client, err := chain.NewClient(cfg.Name, cfg.RpcUrl, contractAddress,
		cfg.MaxBlockRange, cfg.RpcRetryAttempts, logger)
	if err != nil {
		return nil, err
	}

	decoder, err := chain.NewDecoder(contractAddress)
	if err != nil {
		return nil, err
	}

	return listener.NewChainScanner(client, decoder, cursors,
		cfg.ConfirmationDepth, cfg.StartBlockHeight, logger)
}

func openStorage(cfg *config.Config, logger *zap.SugaredLogger) (db.ITxRepository, db.ICursorStore, error) {
	if cfg.UseMysql() {
		if err := db.Init(cfg.Database); err != nil {
			return nil, nil, err
		}
		repository, err := db.NewMysqlRepository()
		if err != nil {
			return nil, nil, err
		}
		return repository, repository, nil
	}

	localDB, err := db.NewLevelDB(cfg.DBDir)
	if err != nil {
		return nil, nil, err
	}
	logger.Warnf("no database configured, transfer records are kept in memory and lost on restart")
	return db.NewMemoryRepository(), db.NewKVCursorStore(localDB), nil
}
