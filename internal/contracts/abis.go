package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ABI fragments of the external contracts the scenarios drive. Only the
// members in use are listed.

const erc20JSON = `[
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

const babControllerJSON = `[
{"type":"function","name":"createGarden","stateMutability":"payable","inputs":[
  {"name":"_reserveAsset","type":"address"},
  {"name":"_name","type":"string"},
  {"name":"_symbol","type":"string"},
  {"name":"_tokenURI","type":"string"},
  {"name":"_seed","type":"uint256"},
  {"name":"_gardenParams","type":"uint256[]"},
  {"name":"_initialContribution","type":"uint256"},
  {"name":"_publicGardenStrategistsStewards","type":"bool[]"},
  {"name":"_profitSharing","type":"uint256[]"}],
 "outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"getGardens","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
{"type":"function","name":"addKeeper","stateMutability":"nonpayable","inputs":[{"name":"_keeper","type":"address"}],"outputs":[]},
{"type":"function","name":"isValidKeeper","stateMutability":"view","inputs":[{"name":"_keeper","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

const gardenJSON = `[
{"type":"function","name":"addStrategy","stateMutability":"nonpayable","inputs":[
  {"name":"_name","type":"string"},
  {"name":"_symbol","type":"string"},
  {"name":"_stratParams","type":"uint256[]"},
  {"name":"_opTypes","type":"uint8[]"},
  {"name":"_opIntegrations","type":"address[]"},
  {"name":"_opEncodedDatas","type":"bytes"}],
 "outputs":[]},
{"type":"function","name":"getStrategies","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
{"type":"function","name":"deposit","stateMutability":"payable","inputs":[
  {"name":"_amountIn","type":"uint256"},
  {"name":"_minAmountOut","type":"uint256"},
  {"name":"_to","type":"address"},
  {"name":"_referrer","type":"address"}],
 "outputs":[]},
{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[
  {"name":"_amountIn","type":"uint256"},
  {"name":"_minAmountOut","type":"uint256"},
  {"name":"_to","type":"address"},
  {"name":"_withPenalty","type":"bool"},
  {"name":"_unwindStrategy","type":"address"}],
 "outputs":[]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"reserveAsset","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const strategyJSON = `[
{"type":"function","name":"resolveVoting","stateMutability":"nonpayable","inputs":[
  {"name":"_voters","type":"address[]"},
  {"name":"_votes","type":"int256[]"},
  {"name":"fee","type":"uint256"}],
 "outputs":[]},
{"type":"function","name":"executeStrategy","stateMutability":"nonpayable","inputs":[
  {"name":"_capital","type":"uint256"},
  {"name":"fee","type":"uint256"}],
 "outputs":[]},
{"type":"function","name":"finalizeStrategy","stateMutability":"nonpayable","inputs":[
  {"name":"fee","type":"uint256"},
  {"name":"_tokenURI","type":"string"},
  {"name":"_minReserveOut","type":"uint256"}],
 "outputs":[]},
{"type":"function","name":"capitalAllocated","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const vaultJSON = `[
{"type":"function","name":"getPoolTokens","stateMutability":"view","inputs":[{"name":"poolId","type":"bytes32"}],"outputs":[
  {"name":"tokens","type":"address[]"},
  {"name":"balances","type":"uint256[]"},
  {"name":"lastChangeBlock","type":"uint256"}]},
{"type":"function","name":"swap","stateMutability":"payable","inputs":[
  {"name":"singleSwap","type":"tuple","components":[
    {"name":"poolId","type":"bytes32"},
    {"name":"kind","type":"uint8"},
    {"name":"assetIn","type":"address"},
    {"name":"assetOut","type":"address"},
    {"name":"amount","type":"uint256"},
    {"name":"userData","type":"bytes"}]},
  {"name":"funds","type":"tuple","components":[
    {"name":"sender","type":"address"},
    {"name":"fromInternalBalance","type":"bool"},
    {"name":"recipient","type":"address"},
    {"name":"toInternalBalance","type":"bool"}]},
  {"name":"limit","type":"uint256"},
  {"name":"deadline","type":"uint256"}],
 "outputs":[{"name":"amountCalculated","type":"uint256"}]},
{"type":"function","name":"joinPool","stateMutability":"payable","inputs":[
  {"name":"poolId","type":"bytes32"},
  {"name":"sender","type":"address"},
  {"name":"recipient","type":"address"},
  {"name":"request","type":"tuple","components":[
    {"name":"assets","type":"address[]"},
    {"name":"maxAmountsIn","type":"uint256[]"},
    {"name":"userData","type":"bytes"},
    {"name":"fromInternalBalance","type":"bool"}]}],
 "outputs":[]}
]`

const basePoolJSON = `[
{"type":"function","name":"getPoolId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
{"type":"function","name":"getSwapFeePercentage","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const weightedPoolFactoryJSON = `[
{"type":"function","name":"create","stateMutability":"nonpayable","inputs":[
  {"name":"name","type":"string"},
  {"name":"symbol","type":"string"},
  {"name":"tokens","type":"address[]"},
  {"name":"weights","type":"uint256[]"},
  {"name":"swapFeePercentage","type":"uint256"},
  {"name":"owner","type":"address"}],
 "outputs":[{"name":"","type":"address"}]},
{"type":"event","name":"PoolCreated","anonymous":false,"inputs":[{"name":"pool","type":"address","indexed":true}]}
]`

const protocolFeesCollectorJSON = `[
{"type":"function","name":"getSwapFeePercentage","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	ERC20ABI                 = mustParseABI(erc20JSON)
	BabControllerABI         = mustParseABI(babControllerJSON)
	GardenABI                = mustParseABI(gardenJSON)
	StrategyABI              = mustParseABI(strategyJSON)
	VaultABI                 = mustParseABI(vaultJSON)
	BasePoolABI              = mustParseABI(basePoolJSON)
	WeightedPoolFactoryABI   = mustParseABI(weightedPoolFactoryJSON)
	ProtocolFeesCollectorABI = mustParseABI(protocolFeesCollectorJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
