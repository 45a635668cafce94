package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
	"gopkg.in/yaml.v3"

	"github.com/kaplanmaxe/marinade-crank/crypto/address"
)

type Config struct {
	// Run configuration
	Cluster    string `json:"cluster" yaml:"cluster"`
	Keypair    string `json:"keypair" yaml:"keypair"`
	Commitment string `json:"commitment" yaml:"commitment"`
	LogLevel   string `json:"log_level" yaml:"log_level"`

	// Protocol addresses
	Marinade MarinadeConfig `json:"marinade" yaml:"marinade"`

	// Transaction configuration
	Transaction TransactionConfig `json:"transaction" yaml:"transaction"`

	// RPC transport configuration
	RPC RPCConfig `json:"rpc" yaml:"rpc"`
}

type MarinadeConfig struct {
	ProgramID     string `json:"program_id" yaml:"program_id"`
	State         string `json:"state" yaml:"state"`
	Reserve       string `json:"reserve" yaml:"reserve"`
	ValidatorList string `json:"validator_list" yaml:"validator_list"`
}

type TransactionConfig struct {
	ComputeUnitLimit uint32 `json:"compute_unit_limit" yaml:"compute_unit_limit"`
	// nil means no priority fee (price 0)
	ComputeUnitPrice *uint64 `json:"compute_unit_price,omitempty" yaml:"compute_unit_price,omitempty"`
	Simulate         bool    `json:"simulate" yaml:"simulate"`
}

type RPCConfig struct {
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `json:"burst" yaml:"burst"`
	ConfirmTimeout    time.Duration `json:"confirm_timeout" yaml:"confirm_timeout"`
	PollInterval      time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

// Mainnet deployment of the Marinade liquid staking program
const (
	MarinadeProgram       = "MarBmsSgKXdrN1egZf5sqe1TMai9K1rChYNDJgjq7aD"
	MarinadeState         = "8szGkuLTAux9XMgZ2vtY39jVSowEcpBfFfD8hXSEqdGC"
	MarinadeReserve       = "Du3Ysj1wKbxPKkuPPnvzQLQh8oMSVifs3jGZjJWXFmHN"
	MarinadeValidatorList = "DwFYJNnhLmw19FBTrVaLWZ8SZJpxdPoSYVSJaio9tjbY"

	// Enough for one stake_reserve call
	DefaultComputeUnitLimit = 100_000
)

// Load returns a default configuration
func Load() (*Config, error) {
	return &Config{
		Cluster:    "",
		Commitment: string(rpc.CommitmentFinalized),
		LogLevel:   "info",
		Marinade: MarinadeConfig{
			ProgramID:     MarinadeProgram,
			State:         MarinadeState,
			Reserve:       MarinadeReserve,
			ValidatorList: MarinadeValidatorList,
		},
		Transaction: TransactionConfig{
			ComputeUnitLimit: DefaultComputeUnitLimit,
		},
		RPC: RPCConfig{
			RequestsPerSecond: 10,
			Burst:             5,
			ConfirmTimeout:    90 * time.Second,
			PollInterval:      2 * time.Second,
		},
	}, nil
}

// LoadFile returns the defaults overlaid with a YAML file. An empty path
// yields the defaults unchanged.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

var clusterMonikers = map[string]string{
	"mainnet-beta": rpc.MainNetBeta_RPC,
	"mainnet":      rpc.MainNetBeta_RPC,
	"m":            rpc.MainNetBeta_RPC,
	"devnet":       rpc.DevNet_RPC,
	"d":            rpc.DevNet_RPC,
	"testnet":      rpc.TestNet_RPC,
	"t":            rpc.TestNet_RPC,
	"localnet":     rpc.LocalNet_RPC,
	"l":            rpc.LocalNet_RPC,
}

// ResolveCluster turns a cluster moniker or URL into an RPC endpoint
func ResolveCluster(cluster string) (string, error) {
	cluster = strings.TrimSpace(cluster)
	if cluster == "" {
		return "", errors.New("cluster is empty")
	}
	if endpoint, ok := clusterMonikers[strings.ToLower(cluster)]; ok {
		return endpoint, nil
	}

	u, err := url.Parse(cluster)
	if err != nil {
		return "", fmt.Errorf("invalid cluster url %q: %w", cluster, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid cluster url %q: scheme must be http or https", cluster)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid cluster url %q: missing host", cluster)
	}
	return u.String(), nil
}

// Endpoint returns the resolved RPC endpoint
func (c *Config) Endpoint() (string, error) {
	return ResolveCluster(c.Cluster)
}

// CommitmentType returns the configured commitment level
func (c *Config) CommitmentType() rpc.CommitmentType {
	return rpc.CommitmentType(c.Commitment)
}

// Validate checks everything that can be checked without touching the network
func (c *Config) Validate() error {
	if _, err := c.Endpoint(); err != nil {
		return err
	}
	if c.Keypair == "" {
		return errors.New("keypair path is required")
	}

	switch c.CommitmentType() {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		return fmt.Errorf("unsupported commitment %q", c.Commitment)
	}

	for field, addr := range map[string]string{
		"marinade.program_id":     c.Marinade.ProgramID,
		"marinade.state":          c.Marinade.State,
		"marinade.reserve":        c.Marinade.Reserve,
		"marinade.validator_list": c.Marinade.ValidatorList,
	} {
		if _, err := address.ParseNamed(field, addr); err != nil {
			return err
		}
	}

	if c.Transaction.ComputeUnitLimit == 0 {
		return errors.New("compute unit limit must be positive")
	}
	if c.Transaction.ComputeUnitLimit > computebudget.MAX_COMPUTE_UNIT_LIMIT {
		return fmt.Errorf("compute unit limit %d exceeds %d", c.Transaction.ComputeUnitLimit, computebudget.MAX_COMPUTE_UNIT_LIMIT)
	}
	if c.RPC.RequestsPerSecond <= 0 || c.RPC.Burst <= 0 {
		return errors.New("rpc rate limit must be positive")
	}
	if c.RPC.ConfirmTimeout <= 0 || c.RPC.PollInterval <= 0 {
		return errors.New("confirmation timeout and poll interval must be positive")
	}
	return nil
}

// PriorityFee returns the compute unit price in micro-lamports, 0 when unset
func (c *Config) PriorityFee() uint64 {
	if c.Transaction.ComputeUnitPrice == nil {
		return 0
	}
	return *c.Transaction.ComputeUnitPrice
}
