// quasar-walletd monitors addresses against a Quasar node. It keeps a live
// UTXO view with maturity tracking and persists a journal of incoming and
// outgoing transactions.
//
// Usage:
//
//	quasar-walletd [flags] <address> [address...]
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/quasar-dag/quasar-wallet/config"
	"github.com/quasar-dag/quasar-wallet/internal/log"
	"github.com/quasar-dag/quasar-wallet/internal/rpcclient"
	"github.com/quasar-dag/quasar-wallet/internal/storage"
	"github.com/quasar-dag/quasar-wallet/internal/utxo"
	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	params, err := config.ForNetwork(cfg.Network)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid network")
	}

	addresses := make([]*types.Address, 0, len(cfg.Addresses))
	for _, s := range cfg.Addresses {
		addr, err := types.ParseAddressForNetwork(s, params.AddressPrefix)
		if err != nil {
			log.Fatal().Err(err).Str("address", s).Msg("invalid address")
		}
		addresses = append(addresses, addr)
	}
	if len(addresses) == 0 {
		log.Fatal().Msg("at least one address to track is required")
	}

	db, err := storage.NewBadger(filepath.Join(cfg.DataDir, string(cfg.Network)))
	if err != nil {
		log.Fatal().Err(err).Msg("open record store")
	}
	defer db.Close()
	records := storage.NewRecordStore(
		storage.NewPrefixDB(db, []byte("quasar-"+string(cfg.Network)+"/")))

	client := rpcclient.New(cfg.NodeRPC)
	notifier := rpcclient.NewNotifier(cfg.NodeWS)
	processor := utxo.NewProcessor(params, client, notifier, records)

	notifier.Start()
	if err := processor.Start(); err != nil {
		log.Fatal().Err(err).Msg("start processor")
	}

	ctx := processor.NewContext()
	if err := processor.TrackAddresses(ctx, addresses); err != nil {
		log.Fatal().Err(err).Msg("track addresses")
	}

	log.Info().
		Str("network", string(cfg.Network)).
		Int("addresses", len(addresses)).
		Msg("quasar-walletd running")

	go eventLoop(processor.Events())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	processor.Stop()
	notifier.Close()
}

// eventLoop renders processor events to the log.
func eventLoop(events <-chan utxo.Event) {
	for ev := range events {
		switch ev.Kind {
		case utxo.EventConnect:
			log.Info().Msg("node connected")
		case utxo.EventDisconnect:
			log.Warn().Msg("node disconnected")
		case utxo.EventDAAScoreChange:
			log.Debug().Uint64("daaScore", ev.DAAScore).Msg("virtual advanced")
		case utxo.EventBalance:
			if ev.Balance != nil {
				log.Info().
					Str("mature", utxo.FormatQSR(ev.Balance.Mature)).
					Str("pending", utxo.FormatQSR(ev.Balance.Pending)).
					Str("outgoing", utxo.FormatQSR(ev.Balance.Outgoing)).
					Msg("balance")
			}
		case utxo.EventDiscovery, utxo.EventPending, utxo.EventStasis, utxo.EventMaturity:
			if ev.Entry != nil {
				log.Info().
					Str("event", ev.Kind.String()).
					Str("outpoint", ev.Entry.Outpoint.String()).
					Str("amount", utxo.FormatQSR(ev.Entry.Entry.Amount)).
					Msg("entry")
			}
		case utxo.EventReorg:
			log.Warn().Str("txId", ev.TxID.String()).Msg("entry demoted by chain reorg")
		case utxo.EventError:
			log.Error().Err(ev.Err).Msg("processing failure")
		}
	}
}
