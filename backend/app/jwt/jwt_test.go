package jwtutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndParse(t *testing.T) {
	s := &Signer{Secret: []byte("k"), Issuer: "shaka-fleet", ExpMin: 5}
	tok, id, err := s.Sign(7, "ops", "admin")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	c, err := s.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, uint(7), c.UserID)
	assert.Equal(t, "admin", c.Role)
	assert.Equal(t, id, c.ID)

	other := &Signer{Secret: []byte("other"), ExpMin: 5}
	_, err = other.Parse(tok)
	assert.Error(t, err)
}

func TestSignDevice(t *testing.T) {
	s := &Signer{Secret: []byte("k"), ExpMin: 5}
	tok, err := s.SignDevice("m1")
	require.NoError(t, err)
	c, err := s.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "m1", c.DeviceID)
}
