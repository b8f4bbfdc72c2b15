package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXOAuth2Client_Start(t *testing.T) {
	client := newXOAuth2Client("user@example.com", "ya29.token")

	mech, ir, err := client.Start()
	require.NoError(t, err)

	assert.Equal(t, "XOAUTH2", mech)
	assert.Equal(t, []byte("user=user@example.com\x01auth=Bearer ya29.token\x01\x01"), ir)
}

func TestXOAuth2Client_NextReturnsEmpty(t *testing.T) {
	client := newXOAuth2Client("user@example.com", "tok")

	_, _, err := client.Start()
	require.NoError(t, err)

	// Servers deliver a JSON error payload through a challenge; the reply
	// must be an empty response, not nil.
	resp, err := client.Next([]byte(`{"status":"400"}`))
	require.NoError(t, err)
	assert.NotNil(t, resp)
	assert.Empty(t, resp)
}
