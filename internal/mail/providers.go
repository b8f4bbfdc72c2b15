package mail

import "strings"

// IMAPConfig holds the connection parameters for one IMAP endpoint.
type IMAPConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	UseStartTLS bool   `json:"use_starttls"`
}

// ProviderConfig describes a known email provider.
type ProviderConfig struct {
	Name           string     `json:"name"`
	DisplayName    string     `json:"display_name"`
	IMAP           IMAPConfig `json:"imap"`
	OAuthSupported bool       `json:"oauth_supported"`
}

// providers is the static directory of supported providers.
var providers = []ProviderConfig{
	{
		Name:           "gmail",
		DisplayName:    "Gmail",
		IMAP:           IMAPConfig{Host: "imap.gmail.com", Port: 993, UseTLS: true},
		OAuthSupported: true,
	},
	{
		Name:           "outlook",
		DisplayName:    "Outlook / Office 365",
		IMAP:           IMAPConfig{Host: "outlook.office365.com", Port: 993, UseTLS: true},
		OAuthSupported: true,
	},
	{
		Name:        "qq",
		DisplayName: "QQ Mail",
		IMAP:        IMAPConfig{Host: "imap.qq.com", Port: 993, UseTLS: true},
	},
	{
		Name:        "163",
		DisplayName: "NetEase 163 Mail",
		IMAP:        IMAPConfig{Host: "imap.163.com", Port: 993, UseTLS: true},
	},
	{
		Name:        "126",
		DisplayName: "NetEase 126 Mail",
		IMAP:        IMAPConfig{Host: "imap.126.com", Port: 993, UseTLS: true},
	},
	{
		Name:        "icloud",
		DisplayName: "iCloud Mail",
		IMAP:        IMAPConfig{Host: "imap.mail.me.com", Port: 993, UseTLS: true},
	},
}

// domainProviders maps email domains to provider names.
var domainProviders = map[string]string{
	"gmail.com":   "gmail",
	"outlook.com": "outlook",
	"hotmail.com": "outlook",
	"live.com":    "outlook",
	"qq.com":      "qq",
	"163.com":     "163",
	"126.com":     "126",
	"icloud.com":  "icloud",
	"me.com":      "icloud",
	"mac.com":     "icloud",
}

// Providers returns the full provider directory.
func Providers() []ProviderConfig {
	out := make([]ProviderConfig, len(providers))
	copy(out, providers)
	return out
}

// ProviderByName looks up a provider by its name.
func ProviderByName(name string) (*ProviderConfig, bool) {
	for i := range providers {
		if providers[i].Name == name {
			p := providers[i]
			return &p, true
		}
	}
	return nil, false
}

// DetectProvider resolves the provider for an email address by its domain.
func DetectProvider(email string) (*ProviderConfig, bool) {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return nil, false
	}
	domain := strings.ToLower(email[at+1:])

	name, ok := domainProviders[domain]
	if !ok {
		return nil, false
	}
	return ProviderByName(name)
}
