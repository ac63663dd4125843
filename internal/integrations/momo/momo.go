// Package momo reads mobile-money payment confirmations. The gateway echoes the id of the
// pending deposit as externalId and reports a final status.
package momo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// Status is the gateway's final payment state.
type Status string

const (
	StatusSuccessful Status = "SUCCESSFUL"
	StatusFailed     Status = "FAILED"
)

// Callback is one confirmation for a pending deposit.
type Callback struct {
	TransactionID int64  `json:"externalId,string"`
	GatewayRef    string `json:"financialTransactionId"`
	Status        Status `json:"status"`
	Amount        int64  `json:"amount,string"`
	Reason        string `json:"reason,omitempty"`
}

// Success reports whether the payment went through.
func (c *Callback) Success() bool {
	return c.Status == StatusSuccessful
}

func (c *Callback) validate() error {
	if c.TransactionID <= 0 {
		return fmt.Errorf("callback has no externalId")
	}
	c.Status = Status(strings.ToUpper(string(c.Status)))
	if c.Status != StatusSuccessful && c.Status != StatusFailed {
		return fmt.Errorf("unknown callback status %q", c.Status)
	}
	return nil
}

// ParseJSON decodes a JSON callback body.
func ParseJSON(body []byte) (*Callback, error) {
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("failed to parse JSON callback: %w", err)
	}
	if err := cb.validate(); err != nil {
		return nil, err
	}
	return &cb, nil
}

// ParseXML decodes an XML callback, bare or wrapped in a SOAP envelope.
func ParseXML(body []byte) (*Callback, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("failed to parse XML callback: %w", err)
	}
	root := doc.FindElement("//paymentCallback")
	if root == nil {
		return nil, fmt.Errorf("paymentCallback element not found")
	}

	var cb Callback
	id := text(root, "externalId")
	if id != "" {
		v, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid externalId %q", id)
		}
		cb.TransactionID = v
	}
	if amount := text(root, "amount"); amount != "" {
		v, err := strconv.ParseInt(amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q", amount)
		}
		cb.Amount = v
	}
	cb.GatewayRef = text(root, "financialTransactionId")
	cb.Status = Status(text(root, "status"))
	cb.Reason = text(root, "reason")
	if err := cb.validate(); err != nil {
		return nil, err
	}
	return &cb, nil
}

// Parse picks the decoder from the content type.
func Parse(contentType string, body []byte) (*Callback, error) {
	if strings.Contains(contentType, "xml") {
		return ParseXML(body)
	}
	return ParseJSON(body)
}

func text(parent *etree.Element, tag string) string {
	el := parent.FindElement("./" + tag)
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature compares signature against the HMAC of body in constant time.
func VerifySignature(body []byte, signature, secret string) bool {
	want, err := hex.DecodeString(Sign(body, secret))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}
