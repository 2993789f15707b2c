// Package swap submits the token purchase and swap transactions of a wallet
// session and waits for their confirmation.
package swap
