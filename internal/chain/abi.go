package chain

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/tidwall/gjson"
)

// GameABI is the minimal interface of the game contract used by the oracle.
const GameABI = `[
	{"type":"function","name":"START_TIME","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"settings","stateMutability":"view","inputs":[],"outputs":[
		{"name":"freeGuessPerDay","type":"uint256"},
		{"name":"fixedReward","type":"uint256"},
		{"name":"windowTime","type":"uint256"},
		{"name":"lockoutTime","type":"uint256"}
	]},
	{"type":"function","name":"currentGame","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"callResult","stateMutability":"nonpayable","inputs":[{"name":"price","type":"uint256"}],"outputs":[]}
]`

const (
	methodStartTime   = "START_TIME"
	methodSettings    = "settings"
	methodCurrentGame = "currentGame"
	methodCallResult  = "callResult"
)

// LoadABI parses the contract ABI. An empty path uses GameABI; otherwise the
// file may hold a bare ABI array or a build artifact with an "abi" field.
func LoadABI(path string) (abi.ABI, error) {
	if path == "" {
		return parseABI([]byte(GameABI))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to read ABI file: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return abi.ABI{}, fmt.Errorf("ABI file %s is not valid JSON", path)
	}
	if doc := gjson.ParseBytes(data); doc.IsObject() {
		field := doc.Get("abi")
		if !field.IsArray() {
			return abi.ABI{}, fmt.Errorf("ABI file %s has no abi array", path)
		}
		data = []byte(field.Raw)
	}
	return parseABI(data)
}

func parseABI(data []byte) (abi.ABI, error) {
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	for _, name := range []string{methodStartTime, methodSettings, methodCurrentGame, methodCallResult} {
		if _, ok := parsed.Methods[name]; !ok {
			return abi.ABI{}, fmt.Errorf("ABI is missing method %s", name)
		}
	}
	if n := len(parsed.Methods[methodSettings].Outputs); n < 4 {
		return abi.ABI{}, fmt.Errorf("settings() must return 4 values, ABI declares %d", n)
	}
	if n := len(parsed.Methods[methodCallResult].Inputs); n != 1 {
		return abi.ABI{}, fmt.Errorf("callResult must take 1 argument, ABI declares %d", n)
	}
	return parsed, nil
}

// toBig converts a decoded integer output to *big.Int.
func toBig(v interface{}) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		return n, nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case int8:
		return big.NewInt(int64(n)), nil
	case int16:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	default:
		return nil, fmt.Errorf("unexpected output type %T", v)
	}
}

func toInt64(v interface{}, name string) (int64, error) {
	b, err := toBig(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if !b.IsInt64() {
		return 0, fmt.Errorf("%s value %s does not fit in int64", name, b)
	}
	return b.Int64(), nil
}

func toUint64(v interface{}, name string) (uint64, error) {
	b, err := toBig(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if !b.IsUint64() {
		return 0, fmt.Errorf("%s value %s does not fit in uint64", name, b)
	}
	return b.Uint64(), nil
}

// priceArg shapes price for the declared callResult parameter type.
func priceArg(method abi.Method, price *big.Int) (interface{}, error) {
	if price == nil {
		return nil, errors.New("price must not be nil")
	}
	t := method.Inputs[0].Type
	switch {
	case t.T == abi.UintTy && price.Sign() < 0:
		return nil, fmt.Errorf("price %s is negative", price)
	case (t.T == abi.UintTy || t.T == abi.IntTy) && !nativeIntSize(t.Size):
		return price, nil
	case t.T == abi.UintTy:
		if price.BitLen() > t.Size {
			return nil, fmt.Errorf("price %s overflows %s", price, t)
		}
		u := price.Uint64()
		switch t.Size {
		case 8:
			return uint8(u), nil
		case 16:
			return uint16(u), nil
		case 32:
			return uint32(u), nil
		default:
			return u, nil
		}
	case t.T == abi.IntTy:
		if price.BitLen() >= t.Size {
			return nil, fmt.Errorf("price %s overflows %s", price, t)
		}
		i := price.Int64()
		switch t.Size {
		case 8:
			return int8(i), nil
		case 16:
			return int16(i), nil
		case 32:
			return int32(i), nil
		default:
			return i, nil
		}
	default:
		return nil, fmt.Errorf("unsupported callResult parameter type %s", t)
	}
}

// nativeIntSize reports whether the ABI decoder maps an integer of this bit
// size to a Go fixed-width type rather than *big.Int.
func nativeIntSize(bits int) bool {
	return bits == 8 || bits == 16 || bits == 32 || bits == 64
}
