package amm

import (
	"encoding/json"
	"fmt"

	"stateSpace/internal/model"
)

// EncodePool serializes a pool into a kind-tagged record.
func EncodePool(pool Pool) (model.Record, error) {
	data, err := json.Marshal(pool)
	if err != nil {
		return model.Record{}, fmt.Errorf("marshal pool %s: %w", pool.Address().Hex(), err)
	}
	return model.Record{Kind: string(pool.Kind()), Address: pool.Address().Hex(), Data: data}, nil
}

// DecodePool rebuilds a pool from a record produced by EncodePool.
func DecodePool(record model.Record) (Pool, error) {
	var pool Pool
	switch Kind(record.Kind) {
	case KindUniswapV2:
		pool = &UniswapV2Pool{}
	case KindUniswapV3:
		pool = &UniswapV3Pool{}
	default:
		return nil, fmt.Errorf("%w: pool kind %q", ErrUnsupportedKind, record.Kind)
	}
	if err := json.Unmarshal(record.Data, pool); err != nil {
		return nil, fmt.Errorf("unmarshal %s pool %s: %w", record.Kind, record.Address, err)
	}
	return pool, nil
}

// EncodeFactory serializes a factory into a kind-tagged record.
func EncodeFactory(factory Factory) (model.Record, error) {
	data, err := json.Marshal(factory)
	if err != nil {
		return model.Record{}, fmt.Errorf("marshal factory %s: %w", factory.Address().Hex(), err)
	}
	return model.Record{Kind: string(factory.Kind()), Address: factory.Address().Hex(), Data: data}, nil
}

// DecodeFactory rebuilds a factory from a record produced by EncodeFactory.
func DecodeFactory(record model.Record) (Factory, error) {
	var factory Factory
	switch Kind(record.Kind) {
	case KindUniswapV2:
		factory = &UniswapV2Factory{}
	case KindUniswapV3:
		factory = &UniswapV3Factory{}
	default:
		return nil, fmt.Errorf("%w: factory kind %q", ErrUnsupportedKind, record.Kind)
	}
	if err := json.Unmarshal(record.Data, factory); err != nil {
		return nil, fmt.Errorf("unmarshal %s factory %s: %w", record.Kind, record.Address, err)
	}
	return factory, nil
}
