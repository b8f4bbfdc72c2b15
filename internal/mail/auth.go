package mail

import "github.com/emersion/go-sasl"

// AuthMethod is the closed set of ways a session can authenticate:
// plain LOGIN with a password, or an XOAUTH2 bearer-token exchange.
type AuthMethod interface {
	authMethod()
}

// PasswordAuth authenticates with the IMAP LOGIN command.
type PasswordAuth struct {
	Username string
	Password string
}

func (PasswordAuth) authMethod() {}

// OAuthAuth authenticates with the XOAUTH2 SASL mechanism.
type OAuthAuth struct {
	Username    string
	AccessToken string
}

func (OAuthAuth) authMethod() {}

// TokenInfo is the opaque token bundle produced by an external OAuth flow.
type TokenInfo struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// TokenSource obtains OAuth tokens for a provider. The core treats the
// implementation (browser redirect, refresh exchange) as a black box.
type TokenSource interface {
	Token(provider, email string) (*TokenInfo, error)
}

// xoauth2State tracks the single-use SASL exchange.
type xoauth2State int

const (
	xoauth2Unsent xoauth2State = iota
	xoauth2Sent
)

// xoauth2Client implements sasl.Client for the XOAUTH2 mechanism. The
// credential string is sent once; any further server challenge (servers use
// one to deliver an error payload) is answered with an empty response.
type xoauth2Client struct {
	username string
	token    string
	state    xoauth2State
}

func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	// Initial response format: user=<user>\x01auth=Bearer <token>\x01\x01
	ir := []byte("user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01")
	c.state = xoauth2Sent
	return "XOAUTH2", ir, nil
}

func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}
