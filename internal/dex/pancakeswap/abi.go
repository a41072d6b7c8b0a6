// =============================
// File: internal/dex/pancakeswap/abi.go
// =============================
package pancakeswap

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	//go:embed abi/router.json
	routerJSON string
	//go:embed abi/factory.json
	factoryJSON string
	//go:embed abi/erc20.json
	erc20JSON string
)

var (
	RouterABI  = mustParseABI("router", routerJSON)
	FactoryABI = mustParseABI("factory", factoryJSON)
	ERC20ABI   = mustParseABI("erc20", erc20JSON)
)

// Router methods used by the bot.
const (
	MethodAddLiquidity    = "addLiquidity"
	MethodAddLiquidityETH = "addLiquidityETH"
	MethodGetAmountsOut   = "getAmountsOut"
	MethodBuy             = "swapExactETHForTokensSupportingFeeOnTransferTokens"
	MethodSell            = "swapExactTokensForETHSupportingFeeOnTransferTokens"
	MethodBalanceOf       = "balanceOf"
	EventPairCreated      = "PairCreated"
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("pancakeswap: invalid embedded %s abi: %v", name, err))
	}
	return parsed
}
