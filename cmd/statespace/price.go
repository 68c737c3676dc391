package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/spf13/cobra"

	"stateSpace/internal/config"
	"stateSpace/internal/statespace"
)

type priceOutput struct {
	Pool      string  `json:"pool"`
	Base      string  `json:"base"`
	Quote     string  `json:"quote"`
	Price     float64 `json:"price"`
	Block     uint64  `json:"block"`
	AmountIn  string  `json:"amount_in,omitempty"`
	AmountOut string  `json:"amount_out,omitempty"`
}

func runPrice(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	pool, _ := cmd.Flags().GetString("pool")
	base, _ := cmd.Flags().GetString("base")
	quote, _ := cmd.Flags().GetString("quote")
	amountIn, _ := cmd.Flags().GetString("amount-in")
	addresses, err := config.ParseAddresses([]string{pool, base, quote})
	if err != nil {
		return err
	}
	if len(addresses) != 3 {
		return fmt.Errorf("pool, base and quote are required")
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	if store == nil {
		return fmt.Errorf("snapshot or pg dsn is required")
	}

	space := statespace.New(statespace.Config{}, nil, nil, logger)
	ok, err := space.LoadFrom(ctx, store)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no snapshot saved")
	}

	out := priceOutput{
		Pool:  addresses[0].Hex(),
		Base:  addresses[1].Hex(),
		Quote: addresses[2].Hex(),
		Block: space.LastSyncedBlock(),
	}
	out.Price, err = space.Price(addresses[0], addresses[1], addresses[2])
	if err != nil {
		return err
	}
	if amountIn != "" {
		amount, ok := new(big.Int).SetString(amountIn, 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("invalid amount: %s", amountIn)
		}
		amountOut, err := space.SimulateSwap(addresses[0], addresses[1], addresses[2], amount)
		if err != nil {
			return err
		}
		out.AmountIn, out.AmountOut = amount.String(), amountOut.String()
	}

	return json.NewEncoder(os.Stdout).Encode(out)
}
