// Package ethereum adapts go-ethereum to the reconciliation core: it decodes
// raw logs and exchange call input, performs read-only contract calls and
// pulls settlement logs from an RPC node.
package ethereum

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20JSON = `[
	{"anonymous":false,"inputs":[
		{"indexed":true,"name":"from","type":"address"},
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":false,"name":"value","type":"uint256"}],
	 "name":"Transfer","type":"event"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

const erc721JSON = `[
	{"anonymous":false,"inputs":[
		{"indexed":true,"name":"from","type":"address"},
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":true,"name":"tokenId","type":"uint256"}],
	 "name":"Transfer","type":"event"},
	{"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"tokenURI","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

// Wyvern exchange (OpenSea v1/v2).
const exchangeJSON = `[
	{"anonymous":false,"inputs":[
		{"indexed":false,"name":"buyHash","type":"bytes32"},
		{"indexed":false,"name":"sellHash","type":"bytes32"},
		{"indexed":true,"name":"maker","type":"address"},
		{"indexed":true,"name":"taker","type":"address"},
		{"indexed":false,"name":"price","type":"uint256"},
		{"indexed":true,"name":"metadata","type":"bytes32"}],
	 "name":"OrdersMatched","type":"event"},
	{"inputs":[
		{"name":"addrs","type":"address[14]"},
		{"name":"uints","type":"uint256[18]"},
		{"name":"feeMethodsSidesKindsHowToCalls","type":"uint8[8]"},
		{"name":"calldataBuy","type":"bytes"},
		{"name":"calldataSell","type":"bytes"},
		{"name":"replacementPatternBuy","type":"bytes"},
		{"name":"replacementPatternSell","type":"bytes"},
		{"name":"staticExtradataBuy","type":"bytes"},
		{"name":"staticExtradataSell","type":"bytes"},
		{"name":"vs","type":"uint8[2]"},
		{"name":"rssMetadata","type":"bytes32[5]"}],
	 "name":"atomicMatch_","outputs":[],"stateMutability":"payable","type":"function"}
]`

// Uniswap V2 router.
const routerJSON = `[
	{"inputs":[
		{"name":"amountIn","type":"uint256"},
		{"name":"path","type":"address[]"}],
	 "name":"getAmountsOut","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"}
]`

var (
	erc20ABI    = mustParse(erc20JSON)
	erc721ABI   = mustParse(erc721JSON)
	exchangeABI = mustParse(exchangeJSON)
	routerABI   = mustParse(routerJSON)

	transferTopic      = erc20ABI.Events["Transfer"].ID
	ordersMatchedTopic = exchangeABI.Events["OrdersMatched"].ID
	atomicMatchMethod  = exchangeABI.Methods["atomicMatch_"]
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("ethereum: parse abi: " + err.Error())
	}
	return parsed
}
