package momo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseXML(t *testing.T) {
	t.Run("soap envelope", func(t *testing.T) {
		body := []byte(`<?xml version="1.0" encoding="utf-8"?>
<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
	<soap12:Body>
		<paymentCallback>
			<externalId>42</externalId>
			<financialTransactionId>MM-7781</financialTransactionId>
			<amount>50000</amount>
			<status>successful</status>
		</paymentCallback>
	</soap12:Body>
</soap12:Envelope>`)
		cb, err := ParseXML(body)
		require.NoError(t, err)
		assert.Equal(t, int64(42), cb.TransactionID)
		assert.Equal(t, "MM-7781", cb.GatewayRef)
		assert.Equal(t, int64(50000), cb.Amount)
		assert.True(t, cb.Success())
	})

	t.Run("failed payment", func(t *testing.T) {
		body := []byte(`<paymentCallback><externalId>9</externalId><status>FAILED</status><reason>PAYER_NOT_FOUND</reason></paymentCallback>`)
		cb, err := ParseXML(body)
		require.NoError(t, err)
		assert.False(t, cb.Success())
		assert.Equal(t, "PAYER_NOT_FOUND", cb.Reason)
	})

	t.Run("missing element", func(t *testing.T) {
		_, err := ParseXML([]byte(`<other/>`))
		assert.Error(t, err)
	})

	t.Run("bad id", func(t *testing.T) {
		_, err := ParseXML([]byte(`<paymentCallback><externalId>abc</externalId><status>FAILED</status></paymentCallback>`))
		assert.Error(t, err)
	})

	t.Run("unknown status", func(t *testing.T) {
		_, err := ParseXML([]byte(`<paymentCallback><externalId>1</externalId><status>PENDING</status></paymentCallback>`))
		assert.Error(t, err)
	})
}

func TestParseJSON(t *testing.T) {
	cb, err := Parse("application/json", []byte(`{"externalId":"12","financialTransactionId":"MM-1","status":"SUCCESSFUL","amount":"1500"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(12), cb.TransactionID)
	assert.Equal(t, int64(1500), cb.Amount)
	assert.True(t, cb.Success())

	_, err = Parse("application/json", []byte(`{"status":"SUCCESSFUL"}`))
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"externalId":"12","status":"FAILED"}`)
	sig := Sign(body, "secret")

	assert.True(t, VerifySignature(body, sig, "secret"))
	assert.False(t, VerifySignature(body, sig, "other"))
	assert.False(t, VerifySignature([]byte(`{}`), sig, "secret"))
	assert.False(t, VerifySignature(body, "not-hex", "secret"))
}
