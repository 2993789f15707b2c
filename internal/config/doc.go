// Package config loads the wallet client's JSON configuration and fills in
// defaults for every section the operator leaves out.
package config
