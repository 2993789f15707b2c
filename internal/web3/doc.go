// Package web3 defines the wallet transport boundary used by the SageChain
// client: the EIP-1193 shaped Transport interface, the JSON-RPC parameter
// and receipt types exchanged over it, and the YAML chain/contract
// definitions that tell the client where the token and swap contracts live.
//
// Concrete transports live in web3/ethereum, the provider adapter that
// gates and normalizes every call lives in web3/provider, and ABI bindings
// for the contracts live in web3/contracts.
package web3
