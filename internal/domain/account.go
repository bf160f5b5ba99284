package domain

import "fmt"

// Exchange identifies a supported trading venue.
type Exchange string

const (
	ExchangeBinance Exchange = "binance"
	ExchangeBitget  Exchange = "bitget"
	ExchangeBybit   Exchange = "bybit"
)

// Environment selects live trading, a testnet or a paper-trading sandbox.
type Environment string

const (
	EnvironmentLive Environment = "live"
	EnvironmentTest Environment = "test"
	EnvironmentDemo Environment = "demo"
)

// IsSandbox reports whether orders go to a non-production venue.
func (e Environment) IsSandbox() bool {
	return e == EnvironmentTest || e == EnvironmentDemo
}

// Validate checks the environment is one of the known values.
func (e Environment) Validate() error {
	switch e {
	case EnvironmentLive, EnvironmentTest, EnvironmentDemo:
		return nil
	}
	return fmt.Errorf("unknown environment %q", string(e))
}

// AccountStatus controls whether an account receives copies.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusPaused   AccountStatus = "paused"
	AccountStatusDisabled AccountStatus = "disabled"
)

// Validate checks the status is one of the known values.
func (s AccountStatus) Validate() error {
	switch s {
	case AccountStatusActive, AccountStatusPaused, AccountStatusDisabled:
		return nil
	}
	return fmt.Errorf("unknown account status %q", string(s))
}

// Credentials API access for one exchange account.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// String masks the secret parts so credentials can be logged safely.
func (c Credentials) String() string {
	return fmt.Sprintf("key=%s", mask(c.APIKey))
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

// Account is a follower (or leader) exchange account as seen by the copier.
type Account struct {
	ID          string
	Exchange    Exchange
	Environment Environment
	Credentials Credentials
	Status      AccountStatus
}

// IsActive reports whether the account should receive copies.
func (a Account) IsActive() bool {
	return a.Status == AccountStatusActive
}
