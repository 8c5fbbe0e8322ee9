package config

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
)

// ChainConfig describes one supported chain: RPC endpoint, USDC token and the
// CCTP v2 contracts deployed on it.
type ChainConfig struct {
	Key                string
	Name               string
	ChainID            uint64
	RpcURL             string
	ExplorerURL        string
	USDCAddress        common.Address
	CCTPDomain         uint32
	TokenMessenger     common.Address
	MessageTransmitter common.Address
}

// ExplorerTxURL returns the explorer link for a transaction hash.
func (c ChainConfig) ExplorerTxURL(txHash string) string {
	if !strings.HasPrefix(txHash, "0x") {
		txHash = "0x" + txHash
	}
	return c.ExplorerURL + "/tx/" + txHash
}

type Config struct {
	Chains         map[string]ChainConfig
	Wallet         common.Address
	PrivateKeyHex  string
	AttestationAPI string
	DbURL          string
	KafkaBroker    string
	KafkaTopic     string
	APIPort        int
	APIKey         string

	// DefaultLookback is how many blocks a first-time scan reaches back when
	// no high-water mark exists yet for a chain+wallet pair.
	DefaultLookback uint64
	// ReceiptTimeout bounds each blocking wait for a transaction receipt.
	ReceiptTimeout time.Duration
	// InfiniteApproval approves the maximum uint256 once instead of approving
	// per bridge, saving one transaction per subsequent bridge.
	InfiniteApproval bool
}

// mainnetChainIDs are rejected outright. This tool is testnet-only.
var mainnetChainIDs = map[uint64]bool{
	1: true, 8453: true, 42161: true, 10: true, 137: true, 43114: true, 56: true,
}

// NewConfig loads configuration from the environment. A .env file is honored
// when present but never overrides already-set variables.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Chains:           defaultChains(),
		AttestationAPI:   getEnv("TREASURY_ATTESTATION_API", "https://iris-api-sandbox.circle.com"),
		DbURL:            getEnv("DB_URL", "postgres://localhost/treasury?sslmode=disable"),
		KafkaBroker:      os.Getenv("KAFKA_BROKER"),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "treasury-events"),
		APIPort:          getEnvInt("TREASURY_PORT", 9090),
		APIKey:           os.Getenv("TREASURY_API_KEY"),
		DefaultLookback:  getEnvUint64("TREASURY_SCAN_LOOKBACK", 10000),
		ReceiptTimeout:   time.Duration(getEnvInt("TREASURY_RECEIPT_TIMEOUT_SEC", 120)) * time.Second,
		InfiniteApproval: getEnv("TREASURY_INFINITE_APPROVAL", "true") == "true",
	}

	if key, err := resolvePrivateKey(); err == nil {
		cfg.PrivateKeyHex = key
	}

	wallet, err := resolveWallet(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	cfg.Wallet = wallet

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the mainnet guard and basic registry sanity.
func (c *Config) Validate() error {
	domains := make(map[uint32]string)
	for key, chain := range c.Chains {
		if mainnetChainIDs[chain.ChainID] {
			return fmt.Errorf("safety: mainnet chain id %d configured for %q; this tool is testnet-only", chain.ChainID, key)
		}
		if prev, dup := domains[chain.CCTPDomain]; dup {
			return fmt.Errorf("chains %q and %q share CCTP domain %d", prev, key, chain.CCTPDomain)
		}
		domains[chain.CCTPDomain] = key
	}
	return nil
}

// Chain looks up a chain by key.
func (c *Config) Chain(key string) (ChainConfig, error) {
	chain, ok := c.Chains[key]
	if !ok {
		return ChainConfig{}, fmt.Errorf("unknown chain %q", key)
	}
	return chain, nil
}

// ChainByDomain looks up a chain by its CCTP domain.
func (c *Config) ChainByDomain(domain uint32) (ChainConfig, error) {
	for _, chain := range c.Chains {
		if chain.CCTPDomain == domain {
			return chain, nil
		}
	}
	return ChainConfig{}, fmt.Errorf("no chain with CCTP domain %d", domain)
}

// ChainKeys returns the configured chain keys.
func (c *Config) ChainKeys() []string {
	keys := make([]string, 0, len(c.Chains))
	for key := range c.Chains {
		keys = append(keys, key)
	}
	return keys
}

func defaultChains() map[string]ChainConfig {
	return map[string]ChainConfig{
		"ethereum_sepolia": {
			Key:                "ethereum_sepolia",
			Name:               "Ethereum Sepolia",
			ChainID:            11155111,
			RpcURL:             getEnv("TREASURY_RPC_ETHEREUM_SEPOLIA", "https://ethereum-sepolia-rpc.publicnode.com"),
			ExplorerURL:        "https://sepolia.etherscan.io",
			USDCAddress:        common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"),
			CCTPDomain:         0,
			TokenMessenger:     common.HexToAddress("0x8FE6B999Dc680CcFDD5Bf7EB0974218be2542DAA"),
			MessageTransmitter: common.HexToAddress("0xE737e5cEBEEBa77EFE34D4aa090756590b1CE275"),
		},
		"base_sepolia": {
			Key:                "base_sepolia",
			Name:               "Base Sepolia",
			ChainID:            84532,
			RpcURL:             getEnv("TREASURY_RPC_BASE_SEPOLIA", "https://base-sepolia-rpc.publicnode.com"),
			ExplorerURL:        "https://base-sepolia.blockscout.com",
			USDCAddress:        common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
			CCTPDomain:         6,
			TokenMessenger:     common.HexToAddress("0x8FE6B999Dc680CcFDD5Bf7EB0974218be2542DAA"),
			MessageTransmitter: common.HexToAddress("0xE737e5cEBEEBa77EFE34D4aa090756590b1CE275"),
		},
		"arbitrum_sepolia": {
			Key:                "arbitrum_sepolia",
			Name:               "Arbitrum Sepolia",
			ChainID:            421614,
			RpcURL:             getEnv("TREASURY_RPC_ARBITRUM_SEPOLIA", "https://arbitrum-sepolia-rpc.publicnode.com"),
			ExplorerURL:        "https://sepolia.arbiscan.io",
			USDCAddress:        common.HexToAddress("0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d"),
			CCTPDomain:         3,
			TokenMessenger:     common.HexToAddress("0x8FE6B999Dc680CcFDD5Bf7EB0974218be2542DAA"),
			MessageTransmitter: common.HexToAddress("0xE737e5cEBEEBa77EFE34D4aa090756590b1CE275"),
		},
	}
}

// resolvePrivateKey returns the signing key. Resolution order:
// TREASURY_PRIVATE_KEY, ETH_PRIVATE_KEY, then a secret helper command
// (TREASURY_SECRET_CMD) that prints the key to stdout.
func resolvePrivateKey() (string, error) {
	key := os.Getenv("TREASURY_PRIVATE_KEY")
	if key == "" {
		key = os.Getenv("ETH_PRIVATE_KEY")
	}
	if key != "" {
		return normalizeKey(key), nil
	}

	if secretCmd := os.Getenv("TREASURY_SECRET_CMD"); secretCmd != "" {
		out, err := exec.Command("sh", "-c", secretCmd).Output()
		if err == nil {
			key = strings.TrimSpace(string(out))
			if len(key) >= 64 {
				return normalizeKey(key), nil
			}
		}
	}

	return "", fmt.Errorf("no private key found; set TREASURY_PRIVATE_KEY")
}

func normalizeKey(key string) string {
	if strings.HasPrefix(key, "0x") {
		return key
	}
	return "0x" + key
}

// resolveWallet prefers TREASURY_WALLET, else derives the address from the
// private key. Read-only operations work with neither.
func resolveWallet(privateKeyHex string) (common.Address, error) {
	if addr := os.Getenv("TREASURY_WALLET"); addr != "" {
		if !common.IsHexAddress(addr) {
			return common.Address{}, fmt.Errorf("TREASURY_WALLET %q is not a valid address", addr)
		}
		return common.HexToAddress(addr), nil
	}
	if privateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			return common.Address{}, fmt.Errorf("invalid private key: %w", err)
		}
		return crypto.PubkeyToAddress(key.PublicKey), nil
	}
	return common.Address{}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
