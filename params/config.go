package params

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// ErrConfigOutOfRange tags any configuration value outside its legal range.
var ErrConfigOutOfRange = errors.New("configuration value out of range")

// Engine holds settlement-engine parameters.
type Engine struct {
	// ChainID binds signed orders to one network.
	ChainID *big.Int
	// Address is the engine's own identity, mixed into the EIP-712 domain
	// and used as the transfer operator for escrow deposits.
	Address common.Address
	// MinDiffBps is the anti-evasion floor for resale listings, in basis
	// points of the locked royalty. Must be in [0, 10000].
	MinDiffBps int64
	// OracleAddress signs price attestations for listing-floor checks.
	// Zero address disables oracle-backed floors.
	OracleAddress common.Address
}

type Node struct {
	DBPath       string
	APIAddr      string
	KafkaBrokers string // comma-separated; empty disables the Kafka sink
	LogFile      string
}

type Config struct {
	Engine Engine
	Node   Node
}

func Default() Config {
	return Config{
		Engine: Engine{
			ChainID:    big.NewInt(1337),
			Address:    common.Address{},
			MinDiffBps: 9000, // resale must fetch >= 90% of locked royalty basis
		},
		Node: Node{
			DBPath:  "data/royaltylock.db",
			APIAddr: ":8080",
			LogFile: "data/node.log",
		},
	}
}

// Validate rejects out-of-range values before anything is wired up.
func (c Config) Validate() error {
	if c.Engine.MinDiffBps < 0 || c.Engine.MinDiffBps > 10000 {
		return fmt.Errorf("%w: MIN_DIFF_BPS must be in [0,10000], got %d", ErrConfigOutOfRange, c.Engine.MinDiffBps)
	}
	if c.Engine.ChainID == nil || c.Engine.ChainID.Sign() <= 0 {
		return fmt.Errorf("%w: CHAIN_ID must be positive", ErrConfigOutOfRange)
	}
	return nil
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return cfg, fmt.Errorf("invalid CHAIN_ID: %s", v)
		}
		cfg.Engine.ChainID = id
	}

	if v := os.Getenv("ENGINE_ADDRESS"); v != "" {
		if !common.IsHexAddress(v) {
			return cfg, fmt.Errorf("invalid ENGINE_ADDRESS: %s", v)
		}
		cfg.Engine.Address = common.HexToAddress(v)
	}

	if v := os.Getenv("MIN_DIFF_BPS"); v != "" {
		bps, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid MIN_DIFF_BPS: %s", v)
		}
		cfg.Engine.MinDiffBps = bps
	}

	if v := os.Getenv("ORACLE_ADDRESS"); v != "" {
		if !common.IsHexAddress(v) {
			return cfg, fmt.Errorf("invalid ORACLE_ADDRESS: %s", v)
		}
		cfg.Engine.OracleAddress = common.HexToAddress(v)
	}

	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Node.KafkaBrokers = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
