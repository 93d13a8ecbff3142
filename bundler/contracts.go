package bundler

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABI = `[
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

const routerABI = `[
{"inputs":[{"name":"token","type":"address"},{"name":"amountTokenDesired","type":"uint256"},{"name":"amountTokenMin","type":"uint256"},{"name":"amountETHMin","type":"uint256"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"addLiquidityETH","outputs":[{"name":"amountToken","type":"uint256"},{"name":"amountETH","type":"uint256"},{"name":"liquidity","type":"uint256"}],"stateMutability":"payable","type":"function"},
{"inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactETHForTokens","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"payable","type":"function"}
]`

var ErrUnexpectedReturn = errors.New("unexpected contract return value")

var (
	tokenABI  = mustParseABI(erc20ABI)
	routerAbi = mustParseABI(routerABI)

	big0 = new(big.Int)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

func packApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return tokenABI.Pack("approve", spender, amount)
}

// packAddLiquidityETH accepts any price: both minimum amounts are zero
func packAddLiquidityETH(token common.Address, amount *big.Int, to common.Address, deadline uint64) ([]byte, error) {
	return routerAbi.Pack("addLiquidityETH", token, amount, big0, big0, to, new(big.Int).SetUint64(deadline))
}

// packSwapExactETHForTokens accepts any output amount
func packSwapExactETHForTokens(path []common.Address, to common.Address, deadline uint64) ([]byte, error) {
	return routerAbi.Pack("swapExactETHForTokens", big0, path, to, new(big.Int).SetUint64(deadline))
}

// TokenBalanceReader reads ERC20 balances
type TokenBalanceReader interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

type ERC20BalanceReader struct {
	caller ethereum.ContractCaller
}

func NewERC20BalanceReader(caller ethereum.ContractCaller) *ERC20BalanceReader {
	return &ERC20BalanceReader{caller: caller}
}

// BalanceOf calls balanceOf(owner) on the latest state
func (r *ERC20BalanceReader) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := tokenABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	res, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, errors.Join(err, ErrTransport)
	}
	out, err := tokenABI.Unpack("balanceOf", res)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, ErrUnexpectedReturn
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, ErrUnexpectedReturn
	}
	return balance, nil
}
