package webhook_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/renderq/webhook"
)

func TestSignKnownVector(t *testing.T) {
	// HMAC-SHA256 with an empty key over an empty message.
	assert.Equal(t,
		"sha256=b613679a0814d9ec772f95d778c35fc5ff1697c493715653c6c712144292c5ad",
		webhook.Sign("", nil))
}

func TestVerify(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"render.completed"}`)
	sig := webhook.Sign("s3cret", body)

	assert.True(t, webhook.Verify("s3cret", body, sig))
	assert.False(t, webhook.Verify("other", body, sig), "wrong secret")
	assert.False(t, webhook.Verify("s3cret", append(body, ' '), sig), "tampered body")
	assert.False(t, webhook.Verify("s3cret", body, strings.TrimPrefix(sig, "sha256=")), "missing prefix")
	assert.False(t, webhook.Verify("s3cret", body, "sha256=zz"), "not hex")
}

func TestNewSecret(t *testing.T) {
	a, err := webhook.NewSecret()
	require.NoError(t, err)
	b, err := webhook.NewSecret()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
