package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitcoincandy/candyd/blockchain"
	"github.com/bitcoincandy/candyd/mempool"
	"github.com/bitcoincandy/candyd/settings"
	"github.com/bitcoincandy/candyd/stores/blockstore"
	"github.com/bitcoincandy/candyd/ulogger"
	"github.com/bitcoincandy/candyd/utxo"
)

func main() {
	logger := ulogger.New("candyd")

	s := settings.NewSettings()
	params := s.ChainCfgParams

	logger.Infof("starting %s on %s", s.ClientName, params.Name)

	store, err := blockstore.New(logger, s.Store.BlockStorePath, params.DiskMagic, s.Store.BlockFileSize)
	if err != nil {
		logger.Fatalf("opening block store: %v", err)
	}
	defer store.Close()

	utxoStore, err := utxo.NewStore(logger, s.Store.UtxoStorePath)
	if err != nil {
		logger.Fatalf("opening utxo store: %v", err)
	}
	defer utxoStore.Close()

	chain, err := blockchain.New(&blockchain.Config{
		Logger:    logger,
		Settings:  s,
		Store:     store,
		UtxoStore: utxoStore,
		Mempool:   mempool.New(logger),
	})
	if err != nil {
		logger.Fatalf("building chain state: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := chain.Start(ctx); err != nil {
		logger.Fatalf("starting chain state: %v", err)
	}

	if tip := chain.Tip(); tip != nil {
		logger.Infof("chain ready at height %d, tip %s", tip.Height, tip.Hash)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("shutting down")
	cancel()

	if err := chain.Stop(context.Background()); err != nil {
		logger.Errorf("stopping chain state: %v", err)
	}
}
