package model

import "strings"

// Scheme identifies how an account authenticates its requests.
type Scheme string

const (
	SchemeHMAC  Scheme = "hmac"
	SchemeAgent Scheme = "agent"
)

// Account holds the credentials of one exchange account. API key/secret select
// the HMAC scheme; user/signer/private key select the agent scheme.
type Account struct {
	Name        string `json:"name" mapstructure:"name"`
	DisplayName string `json:"display_name,omitempty" mapstructure:"display_name"`

	APIKey    string `json:"api_key,omitempty" mapstructure:"api_key"`
	APISecret string `json:"-" mapstructure:"api_secret"`

	User       string `json:"user,omitempty" mapstructure:"user"`
	Signer     string `json:"signer,omitempty" mapstructure:"signer"`
	PrivateKey string `json:"-" mapstructure:"private_key"`
}

func (a Account) Label() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Name
}

func (a Account) Scheme() Scheme {
	if strings.TrimSpace(a.APIKey) != "" || strings.TrimSpace(a.APISecret) != "" {
		return SchemeHMAC
	}
	return SchemeAgent
}

// Pair is two account names traded against each other.
type Pair struct {
	Long  string `json:"long_account" mapstructure:"long_account"`
	Short string `json:"short_account" mapstructure:"short_account"`
}

func (p Pair) String() string {
	return p.Long + "/" + p.Short
}
