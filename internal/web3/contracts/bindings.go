package contracts

import (
	"embed"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"SageChain/internal/web3"
)

//go:embed abi/*.json
var embeddedABIs embed.FS

const (
	defaultBuyMethod        = "buyTokens"
	defaultNativeSwapMethod = "swapETHToWBTC"
	defaultTokenSwapMethod  = "swapToken"

	methodBalanceOf = "balanceOf"
	methodAllowance = "allowance"
	methodApprove   = "approve"
)

// Default deployment addresses of the first two contracts on a fresh local
// Hardhat/Anvil chain.
const (
	DefaultTokenAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	DefaultSwapAddress  = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
)

// DefaultDefinition points at the local development deployment with the
// embedded ABIs.
func DefaultDefinition() web3.ContractDefinition {
	return web3.ContractDefinition{Token: DefaultTokenAddress, Swap: DefaultSwapAddress}
}

// Bindings packs and unpacks calls for the token and swap contracts.
type Bindings struct {
	token     abi.ABI
	swap      abi.ABI
	swapAddr  common.Address
	tokenAddr common.Address

	buyMethod        string
	nativeSwapMethod string
	tokenSwapMethod  string
}

// Load builds bindings from contract definitions. Relative ABI paths are
// resolved against baseDir.
func Load(def web3.ContractDefinition, baseDir string) (*Bindings, error) {
	if !common.IsHexAddress(def.Swap) {
		return nil, fmt.Errorf("兑换合约地址无效: %q", def.Swap)
	}
	if def.Token != "" && !common.IsHexAddress(def.Token) {
		return nil, fmt.Errorf("代币合约地址无效: %q", def.Token)
	}

	tokenABI, err := loadABI(def.TokenABI, "abi/SageToken.json", baseDir)
	if err != nil {
		return nil, err
	}
	swapABI, err := loadABI(def.SwapABI, "abi/TokenSwap.json", baseDir)
	if err != nil {
		return nil, err
	}

	b := &Bindings{
		token:            tokenABI,
		swap:             swapABI,
		swapAddr:         common.HexToAddress(def.Swap),
		buyMethod:        firstNonEmpty(def.BuyMethod, defaultBuyMethod),
		nativeSwapMethod: firstNonEmpty(def.NativeSwapMethod, defaultNativeSwapMethod),
		tokenSwapMethod:  firstNonEmpty(def.TokenSwapMethod, defaultTokenSwapMethod),
	}
	if def.Token != "" {
		b.tokenAddr = common.HexToAddress(def.Token)
	}

	for _, name := range []string{b.buyMethod, b.nativeSwapMethod, b.tokenSwapMethod} {
		if _, ok := b.swap.Methods[name]; !ok {
			return nil, fmt.Errorf("兑换合约 ABI 缺少方法 %s", name)
		}
	}
	for _, name := range []string{methodBalanceOf, methodAllowance, methodApprove} {
		if _, ok := b.token.Methods[name]; !ok {
			return nil, fmt.Errorf("代币合约 ABI 缺少方法 %s", name)
		}
	}
	return b, nil
}

func loadABI(path, embedded, baseDir string) (abi.ABI, error) {
	var reader io.Reader
	if strings.TrimSpace(path) == "" {
		file, err := embeddedABIs.Open(embedded)
		if err != nil {
			return abi.ABI{}, fmt.Errorf("读取内置 ABI 失败: %w", err)
		}
		defer file.Close()
		reader = file
	} else {
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		file, err := os.Open(path)
		if err != nil {
			return abi.ABI{}, fmt.Errorf("读取 ABI 文件失败: %w", err)
		}
		defer file.Close()
		reader = file
	}
	parsed, err := abi.JSON(reader)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("解析 ABI 失败: %w", err)
	}
	return parsed, nil
}

// SwapAddress returns the swap contract address.
func (b *Bindings) SwapAddress() common.Address { return b.swapAddr }

// TokenAddress returns the configured token contract address, which may be
// the zero address when only the swap contract is configured.
func (b *Bindings) TokenAddress() common.Address { return b.tokenAddr }

// PackBuy encodes the native-value buy entry point.
func (b *Bindings) PackBuy() ([]byte, error) {
	return b.swap.Pack(b.buyMethod)
}

// PackNativeSwap encodes the native-to-token swap entry point.
func (b *Bindings) PackNativeSwap() ([]byte, error) {
	return b.swap.Pack(b.nativeSwapMethod)
}

// PackSwapToken encodes swapToken(tokenIn, tokenOut, amount).
func (b *Bindings) PackSwapToken(tokenIn, tokenOut common.Address, amount *big.Int) ([]byte, error) {
	return b.swap.Pack(b.tokenSwapMethod, tokenIn, tokenOut, amount)
}

// PackApprove encodes approve(spender, amount) on a token contract.
func (b *Bindings) PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return b.token.Pack(methodApprove, spender, amount)
}

// PackAllowance encodes allowance(owner, spender) on a token contract.
func (b *Bindings) PackAllowance(owner, spender common.Address) ([]byte, error) {
	return b.token.Pack(methodAllowance, owner, spender)
}

// PackBalanceOf encodes balanceOf(account) on a token contract.
func (b *Bindings) PackBalanceOf(account common.Address) ([]byte, error) {
	return b.token.Pack(methodBalanceOf, account)
}

// UnpackAllowance decodes the uint256 returned by allowance.
func (b *Bindings) UnpackAllowance(data []byte) (*big.Int, error) {
	return b.unpackUint(methodAllowance, data)
}

// UnpackBalanceOf decodes the uint256 returned by balanceOf.
func (b *Bindings) UnpackBalanceOf(data []byte) (*big.Int, error) {
	return b.unpackUint(methodBalanceOf, data)
}

func (b *Bindings) unpackUint(method string, data []byte) (*big.Int, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%s 返回为空，目标地址可能不是合约", method)
	}
	values, err := b.token.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("解析 %s 返回值失败: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s 返回值数量异常: %d", method, len(values))
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s 返回值类型异常: %T", method, values[0])
	}
	return value, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
