package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains    map[string]ChainDefinition `yaml:"chains"`
	Contracts ContractDefinition         `yaml:"contracts"`
}

// ChainDefinition describes the network the dashboard's contracts live on.
type ChainDefinition struct {
	ChainID     uint64 `yaml:"chain_id"`
	ExplorerURL string `yaml:"explorer_url"`
	Description string `yaml:"description"`
}

// ContractDefinition points at the token and swap contracts together with
// their ABIs. ABI paths are optional; the embedded defaults are used when
// they are empty. Method names override the swap contract's entry points.
type ContractDefinition struct {
	Token            string `yaml:"token"`
	Swap             string `yaml:"swap"`
	TokenABI         string `yaml:"token_abi"`
	SwapABI          string `yaml:"swap_abi"`
	BuyMethod        string `yaml:"buy_method"`
	NativeSwapMethod string `yaml:"native_swap_method"`
	TokenSwapMethod  string `yaml:"token_swap_method"`
}

// LoadChainDefinitions parses the YAML file containing chain and contract
// metadata. An empty path yields empty definitions.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// ExplorerTxURL builds a block-explorer link for a transaction hash, or
// returns an empty string when the chain has no explorer configured.
func (c ChainDefinition) ExplorerTxURL(hash string) string {
	base := strings.TrimRight(strings.TrimSpace(c.ExplorerURL), "/")
	if base == "" || hash == "" {
		return ""
	}
	return base + "/tx/" + hash
}
