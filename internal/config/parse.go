package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"stateSpace/internal/amm"
)

// ParseAddresses converts string addresses into common.Address.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addresses = append(addresses, common.HexToAddress(input))
	}
	return addresses, nil
}

// ParseFactories converts `kind:address:creation_block[:fee]` entries into factories.
// The fee only applies to constant-product factories and defaults to 300.
func ParseFactories(inputs []string) ([]amm.Factory, error) {
	factories := make([]amm.Factory, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		factory, err := parseFactory(input)
		if err != nil {
			return nil, err
		}
		factories = append(factories, factory)
	}
	return factories, nil
}

func parseFactory(input string) (amm.Factory, error) {
	parts := strings.Split(input, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return nil, fmt.Errorf("invalid factory %q: want kind:address:creation_block[:fee]", input)
	}
	kind := amm.Kind(strings.ToLower(strings.TrimSpace(parts[0])))
	addr := strings.TrimSpace(parts[1])
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("invalid factory address: %s", addr)
	}
	block, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid factory creation block %q: %w", parts[2], err)
	}

	switch kind {
	case amm.KindUniswapV2:
		fee := uint64(amm.DefaultV2Fee)
		if len(parts) == 4 {
			fee, err = strconv.ParseUint(strings.TrimSpace(parts[3]), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid factory fee %q: %w", parts[3], err)
			}
		}
		return &amm.UniswapV2Factory{
			FactoryAddress: common.HexToAddress(addr),
			DeployBlock:    block,
			Fee:            uint32(fee),
		}, nil
	case amm.KindUniswapV3:
		if len(parts) == 4 {
			return nil, fmt.Errorf("factory %q: fee is read per pool for %s", input, kind)
		}
		return &amm.UniswapV3Factory{
			FactoryAddress: common.HexToAddress(addr),
			DeployBlock:    block,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", amm.ErrUnsupportedKind, kind)
	}
}
