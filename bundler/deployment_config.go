package bundler

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrSwapLengthMismatch = errors.New("swap_wallets and swap_amounts have different lengths")
	ErrMissingField       = errors.New("missing required field")
	ErrInvalidPercent     = errors.New("token_percent must be between 0 and 100")
	ErrInvalidPrivateKey  = errors.New("invalid private key")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrInvalidGasLimit    = errors.New("invalid gas limit")
	ErrNotJSONObject      = errors.New("config document must be a json object")
)

// NumericString holds a number that operators may send either as a JSON number or as a string
type NumericString string

func (n *NumericString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = NumericString(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*n = NumericString(num.String())
	return nil
}

// DeploymentDocument is the persisted JSON form of the deployment parameters
type DeploymentDocument struct {
	OwnerWallet  string          `json:"owner_wallet"`
	TokenAddress string          `json:"token_address"`
	SwapWallets  []string        `json:"swap_wallets"`
	SwapAmounts  []NumericString `json:"swap_amounts"`
	GasLimitSwap NumericString   `json:"gas_limit_swap"`
	GasLimitLP   NumericString   `json:"gas_limit_lp"`
	TokenPercent NumericString   `json:"token_percent"`
	EthLP        NumericString   `json:"eth_lp"`
}

// CheckDocumentShape only checks that data is a JSON object.
// It is used by the ingress which stores documents without semantic validation.
func CheckDocumentShape(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Join(err, ErrNotJSONObject)
	}
	if obj == nil {
		return ErrNotJSONObject
	}
	return nil
}

// DecodeDeploymentConfig parses and validates a stored document.
// Every error returned wraps ErrConfiguration.
func DecodeDeploymentConfig(data []byte) (*DeploymentConfig, error) {
	var doc DeploymentDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Join(err, ErrConfiguration)
	}
	cfg, err := doc.Validate()
	if err != nil {
		return nil, errors.Join(err, ErrConfiguration)
	}
	return cfg, nil
}

func (d *DeploymentDocument) Validate() (*DeploymentConfig, error) {
	if len(d.SwapWallets) != len(d.SwapAmounts) {
		return nil, fmt.Errorf("%w: %d wallets, %d amounts", ErrSwapLengthMismatch, len(d.SwapWallets), len(d.SwapAmounts))
	}

	owner, err := parsePrivateKey("owner_wallet", d.OwnerWallet)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(d.TokenAddress) == "" {
		return nil, fmt.Errorf("%w: token_address", ErrMissingField)
	}
	if !common.IsHexAddress(d.TokenAddress) {
		return nil, fmt.Errorf("%w: token_address %q", ErrInvalidAddress, d.TokenAddress)
	}

	gasLimitSwap, err := parseGasLimit("gas_limit_swap", d.GasLimitSwap)
	if err != nil {
		return nil, err
	}
	gasLimitLP, err := parseGasLimit("gas_limit_lp", d.GasLimitLP)
	if err != nil {
		return nil, err
	}

	if d.TokenPercent == "" {
		return nil, fmt.Errorf("%w: token_percent", ErrMissingField)
	}
	percent, err := strconv.ParseUint(strings.TrimSpace(string(d.TokenPercent)), 10, 64)
	if err != nil || percent > 100 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPercent, d.TokenPercent)
	}

	if d.EthLP == "" {
		return nil, fmt.Errorf("%w: eth_lp", ErrMissingField)
	}
	ethLP, err := ParseUnits(string(d.EthLP), EtherDecimals)
	if err != nil {
		return nil, fmt.Errorf("eth_lp %q: %w", d.EthLP, err)
	}

	swapWallets := make([]*ecdsa.PrivateKey, len(d.SwapWallets))
	swapAmounts := make([]*big.Int, len(d.SwapAmounts))
	for i := range d.SwapWallets {
		swapWallets[i], err = parsePrivateKey(fmt.Sprintf("swap_wallets[%d]", i), d.SwapWallets[i])
		if err != nil {
			return nil, err
		}
		swapAmounts[i], err = ParseUnits(string(d.SwapAmounts[i]), EtherDecimals)
		if err != nil {
			return nil, fmt.Errorf("swap_amounts[%d] %q: %w", i, d.SwapAmounts[i], err)
		}
	}

	return &DeploymentConfig{
		Owner:        owner,
		OwnerAddress: crypto.PubkeyToAddress(owner.PublicKey),
		Token:        common.HexToAddress(d.TokenAddress),
		SwapWallets:  swapWallets,
		SwapAmounts:  swapAmounts,
		GasLimitSwap: gasLimitSwap,
		GasLimitLP:   gasLimitLP,
		TokenPercent: percent,
		EthLP:        ethLP,
	}, nil
}

func parsePrivateKey(field, value string) (*ecdsa.PrivateKey, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if value == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	key, err := crypto.HexToECDSA(value)
	if err != nil {
		// the key itself is never part of the error
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrivateKey, field)
	}
	return key, nil
}

func parseGasLimit(field string, value NumericString) (uint64, error) {
	if value == "" {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	limit, err := strconv.ParseUint(strings.TrimSpace(string(value)), 10, 64)
	if err != nil || limit == 0 {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidGasLimit, field, value)
	}
	return limit, nil
}
