// Package wallet owns the single wallet session of the client: which wallet
// is connected, the active account and its balance. The Session type is the
// façade callers use to connect, disconnect and observe that state; the
// Tracker keeps the account and balance in sync with the wallet.
package wallet
