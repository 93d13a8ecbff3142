package bundler

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownNetwork = errors.New("unknown network")
	ErrInvalidNetwork = errors.New("invalid network specification")
)

// NetworkConfig is loaded once at startup and never changes afterwards
type NetworkConfig struct {
	Name          string
	ChainID       *big.Int
	RPCURL        string
	RelayURL      string
	RouterAddress common.Address
	WETHAddress   common.Address
}

type NetworksConfig struct {
	Networks []struct {
		Name     string `yaml:"name"`
		ChainID  uint64 `yaml:"chain_id"`
		RPC      string `yaml:"rpc"`
		Relay    string `yaml:"relay"`
		Router   string `yaml:"router"`
		WETH     string `yaml:"weth"`
		Disabled bool   `yaml:"disabled"`
	} `yaml:"networks"`
}

// NetworkOverrides replace values from the networks file when set
type NetworkOverrides struct {
	ChainID  uint64
	RPCURL   string
	RelayURL string
}

// LoadNetworkConfig parses the networks file and picks the network by name
func LoadNetworkConfig(file, name string, overrides NetworkOverrides) (NetworkConfig, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return NetworkConfig{}, err
	}
	return ParseNetworkConfig(data, name, overrides)
}

func ParseNetworkConfig(data []byte, name string, overrides NetworkOverrides) (NetworkConfig, error) {
	var config NetworksConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return NetworkConfig{}, err
	}

	for _, network := range config.Networks {
		if network.Disabled || !strings.EqualFold(network.Name, name) {
			continue
		}

		res := NetworkConfig{
			Name:     network.Name,
			ChainID:  new(big.Int).SetUint64(network.ChainID),
			RPCURL:   network.RPC,
			RelayURL: network.Relay,
		}
		if overrides.ChainID != 0 {
			res.ChainID = new(big.Int).SetUint64(overrides.ChainID)
		}
		if overrides.RPCURL != "" {
			res.RPCURL = overrides.RPCURL
		}
		if overrides.RelayURL != "" {
			res.RelayURL = overrides.RelayURL
		}

		if !common.IsHexAddress(network.Router) || !common.IsHexAddress(network.WETH) {
			return NetworkConfig{}, fmt.Errorf("%w: %s router/weth address", ErrInvalidNetwork, network.Name)
		}
		res.RouterAddress = common.HexToAddress(network.Router)
		res.WETHAddress = common.HexToAddress(network.WETH)

		if res.ChainID.Sign() == 0 || res.RPCURL == "" || res.RelayURL == "" {
			return NetworkConfig{}, fmt.Errorf("%w: %s needs chain_id, rpc and relay", ErrInvalidNetwork, network.Name)
		}
		return res, nil
	}
	return NetworkConfig{}, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
}
