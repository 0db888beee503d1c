package token

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeeoIO/geeo-server/constants"
)

func TestIssueAndVerify(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	tok, err := m.Issue("ag1", "v1", []string{CapAgent, CapView})
	require.NoError(t, err)

	claims, err := m.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "ag1", claims.AgentID)
	assert.Equal(t, "v1", claims.ViewID)

	caps := claims.Capabilities()
	assert.True(t, caps.Agent)
	assert.True(t, caps.View)
	assert.False(t, caps.CreatePOI)
	assert.False(t, caps.CreateBeacon)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	m1 := NewManager("secret-one", time.Hour)
	m2 := NewManager("secret-two", time.Hour)

	tok, err := m1.Issue("ag1", "", []string{CapAgent})
	require.NoError(t, err)

	_, err = m2.Verify(tok)
	assert.True(t, errors.Is(err, constants.ErrInvalidToken))
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := NewManager("test-secret", -time.Minute)

	tok, err := m.Issue("ag1", "", []string{CapAgent})
	require.NoError(t, err)

	_, err = m.Verify(tok)
	assert.True(t, errors.Is(err, constants.ErrInvalidToken))
}

func TestVerifyRejectsMissing(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	_, err := m.Verify("")
	assert.True(t, errors.Is(err, constants.ErrInvalidToken))
}

func TestDevHandler(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	handler := DevHandler(m)

	req := httptest.NewRequest("GET", "/api/dev/token?agId=ag1&viewId=v1", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, 200, rec.Code)
	claims, err := m.Verify(rec.Body.String())
	require.NoError(t, err)
	assert.Equal(t, "ag1", claims.AgentID)
	assert.Equal(t, "v1", claims.ViewID)

	caps := claims.Capabilities()
	assert.True(t, caps.Agent && caps.View && caps.CreatePOI && caps.CreateBeacon)
}

func TestDevHandlerRejectsPost(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	rec := httptest.NewRecorder()
	DevHandler(m)(rec, httptest.NewRequest("POST", "/api/dev/token", nil))
	assert.Equal(t, 405, rec.Code)
}
