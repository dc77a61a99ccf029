// Package invoice decodes BOLT11 lightning payment requests far enough for
// display: the amount from the human-readable part and the description,
// payment hash, and expiry from the tagged fields. Signature recovery and
// feature-bit validation are out of scope; a receipt's invoice is rendered,
// not paid.
package invoice

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// Tagged field types from BOLT11.
const (
	fieldPaymentHash = 1
	fieldExpiry      = 6
	fieldDescription = 13
)

// signatureGroups is the size of the trailing signature in 5-bit groups
// (512-bit signature plus one recovery byte).
const signatureGroups = 104

// timestampGroups is the size of the leading timestamp in 5-bit groups.
const timestampGroups = 7

const defaultExpiry = time.Hour

// Invoice is the decoded, display-oriented subset of a payment request.
type Invoice struct {
	Network     string // "bc", "tb", "bcrt", ...
	MilliSat    uint64 // 0 when the invoice carries no amount
	Description string
	PaymentHash string
	Timestamp   time.Time
	Expiry      time.Duration
}

// Sats returns the amount in whole satoshis.
func (inv *Invoice) Sats() uint64 { return inv.MilliSat / 1000 }

// Decode parses a BOLT11 payment request string.
func Decode(bolt11 string) (*Invoice, error) {
	hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(strings.TrimSpace(bolt11)))
	if err != nil {
		return nil, fmt.Errorf("bech32 decode: %w", err)
	}
	if !strings.HasPrefix(hrp, "ln") {
		return nil, fmt.Errorf("not a lightning invoice: hrp %q", hrp)
	}

	network, amountPart, err := splitHRP(hrp[2:])
	if err != nil {
		return nil, err
	}
	msat, err := parseAmountMsat(amountPart)
	if err != nil {
		return nil, err
	}

	if len(data) < timestampGroups+signatureGroups {
		return nil, fmt.Errorf("invoice data too short: %d groups", len(data))
	}

	var ts uint64
	for _, g := range data[:timestampGroups] {
		ts = ts<<5 | uint64(g)
	}

	inv := &Invoice{
		Network:   network,
		MilliSat:  msat,
		Timestamp: time.Unix(int64(ts), 0).UTC(),
		Expiry:    defaultExpiry,
	}

	fields := data[timestampGroups : len(data)-signatureGroups]
	for len(fields) >= 3 {
		typ := fields[0]
		length := int(fields[1])<<5 | int(fields[2])
		if len(fields) < 3+length {
			return nil, fmt.Errorf("truncated tagged field %d", typ)
		}
		payload := fields[3 : 3+length]

		switch typ {
		case fieldDescription:
			b, err := bech32.ConvertBits(payload, 5, 8, false)
			if err != nil {
				return nil, fmt.Errorf("description field: %w", err)
			}
			inv.Description = string(b)
		case fieldPaymentHash:
			b, err := bech32.ConvertBits(payload, 5, 8, false)
			if err != nil {
				return nil, fmt.Errorf("payment hash field: %w", err)
			}
			inv.PaymentHash = hex.EncodeToString(b)
		case fieldExpiry:
			var secs uint64
			for _, g := range payload {
				secs = secs<<5 | uint64(g)
			}
			inv.Expiry = time.Duration(secs) * time.Second
		}
		// Unknown field types are skipped; BOLT11 requires readers to
		// ignore fields they do not understand.
		fields = fields[3+length:]
	}

	return inv, nil
}

// splitHRP splits the post-"ln" part of the HRP into network prefix and
// amount string.
func splitHRP(rest string) (network, amount string, err error) {
	for _, prefix := range []string{"bcrt", "tbs", "tb", "bc", "sb"} {
		if strings.HasPrefix(rest, prefix) {
			return prefix, rest[len(prefix):], nil
		}
	}
	return "", "", fmt.Errorf("unknown network prefix in hrp %q", rest)
}

// parseAmountMsat converts the HRP amount string (digits plus an optional
// m/u/n/p multiplier) into millisatoshis. An empty string means the invoice
// carries no amount.
func parseAmountMsat(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}

	mult := uint64(0)
	switch s[len(s)-1] {
	case 'm':
		mult, s = 100_000_000, s[:len(s)-1]
	case 'u':
		mult, s = 100_000, s[:len(s)-1]
	case 'n':
		mult, s = 100, s[:len(s)-1]
	case 'p':
		mult, s = 0, s[:len(s)-1] // handled below: 1p = 0.1 msat
	default:
		mult = 100_000_000_000 // whole bitcoin
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	if mult == 0 {
		if n%10 != 0 {
			return 0, fmt.Errorf("pico-bitcoin amount %d is not a multiple of 10", n)
		}
		return n / 10, nil
	}
	return n * mult, nil
}
