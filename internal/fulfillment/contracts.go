package fulfillment

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABI = `[{"type":"function","name":"approve","stateMutability":"nonpayable",
  "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
  "outputs":[{"name":"","type":"bool"}]}]`

const swapRouterABI = `[{"type":"function","name":"exactInputSingle","stateMutability":"payable",
  "inputs":[{"name":"params","type":"tuple","components":[
    {"name":"tokenIn","type":"address"},
    {"name":"tokenOut","type":"address"},
    {"name":"fee","type":"uint24"},
    {"name":"recipient","type":"address"},
    {"name":"deadline","type":"uint256"},
    {"name":"amountIn","type":"uint256"},
    {"name":"amountOutMinimum","type":"uint256"},
    {"name":"sqrtPriceLimitX96","type":"uint160"}]}],
  "outputs":[{"name":"amountOut","type":"uint256"}]}]`

// ExactInputSingleParams mirrors ISwapRouter.ExactInputSingleParams.
type ExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// Contracts encodes calldata for the stablecoin and the swap router.
type Contracts struct {
	erc20  abi.ABI
	router abi.ABI
}

// NewContracts parses the embedded ABIs.
func NewContracts() (*Contracts, error) {
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("解析 ERC20 ABI 失败: %w", err)
	}
	router, err := abi.JSON(strings.NewReader(swapRouterABI))
	if err != nil {
		return nil, fmt.Errorf("解析 SwapRouter ABI 失败: %w", err)
	}
	return &Contracts{erc20: erc20, router: router}, nil
}

// PackApprove encodes approve(spender, amount).
func (c *Contracts) PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := c.erc20.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("编码 approve 失败: %w", err)
	}
	return data, nil
}

// PackExactInputSingle encodes exactInputSingle(params).
func (c *Contracts) PackExactInputSingle(params ExactInputSingleParams) ([]byte, error) {
	data, err := c.router.Pack("exactInputSingle", params)
	if err != nil {
		return nil, fmt.Errorf("编码 exactInputSingle 失败: %w", err)
	}
	return data, nil
}
