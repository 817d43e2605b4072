package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Registry (top-level) contract methods.
const (
	MethodCreateArticle = "createArticle"
	MethodGetArticle    = "getArticle"
	MethodTitleCount    = "nTitles"
	MethodTitleAt       = "titlesList"
)

// Per-article contract methods.
const (
	MethodUpdate            = "update"
	MethodContentID         = "getArticleID"
	MethodModificationCount = "nModifications"
	MethodModificationAt    = "commits"
)

const registryJSON = `[
	{"type":"function","name":"createArticle","stateMutability":"nonpayable",
	 "inputs":[{"name":"titleHash","type":"bytes32"},{"name":"ID","type":"bytes32"},{"name":"authorized","type":"address[]"}],
	 "outputs":[]},
	{"type":"function","name":"getArticle","stateMutability":"view",
	 "inputs":[{"name":"titleHash","type":"bytes32"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"nTitles","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"titlesList","stateMutability":"view",
	 "inputs":[{"name":"","type":"uint256"}],
	 "outputs":[{"name":"","type":"bytes32"}]}
]`

const articleJSON = `[
	{"type":"function","name":"update","stateMutability":"nonpayable",
	 "inputs":[{"name":"newID","type":"bytes32"}],
	 "outputs":[]},
	{"type":"function","name":"getArticleID","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"nModifications","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"commits","stateMutability":"view",
	 "inputs":[{"name":"","type":"uint256"}],
	 "outputs":[{"name":"ID","type":"bytes32"},{"name":"author","type":"address"},{"name":"timestamp","type":"uint256"}]}
]`

var (
	// RegistryABI describes the top-level contract mapping titles to article contracts.
	RegistryABI = mustParseABI(registryJSON)
	// ArticleABI describes one article contract and its commit history.
	ArticleABI = mustParseABI(articleJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: invalid contract ABI: " + err.Error())
	}
	return parsed
}
