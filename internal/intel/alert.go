// Package intel ingests threat-intelligence alerts and republishes them as
// labeled settlement outcomes for the transactions they implicate.
package intel

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Alert is one raw intelligence item before extraction and scoring.
type Alert struct {
	ID        string
	Title     string
	Text      string
	Channel   string // news, twitter, telegram, discord
	Publisher string
	Severity  string // critical, high, medium, low
	Ts        int64  // unix ms
}

var (
	ethTxPattern   = regexp.MustCompile(`0x[a-fA-F0-9]{64}`)
	btcTxPattern   = regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`)
	ethAddrPattern = regexp.MustCompile(`0x[a-fA-F0-9]{40}`)
	btcAddrPattern = regexp.MustCompile(`\b(?:bc1[a-z0-9]{25,62}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})\b`)
)

// TxHashes extracts transaction identifiers mentioned in the alert body.
func (a Alert) TxHashes() []string {
	text := a.Title + " " + a.Text
	seen := map[string]bool{}
	var out []string
	add := func(h string) {
		h = strings.ToLower(h)
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	for _, h := range ethTxPattern.FindAllString(text, -1) {
		add(h)
	}
	for _, h := range btcTxPattern.FindAllString(text, -1) {
		// ethTxPattern already claimed 0x-prefixed hex
		if !strings.HasPrefix(strings.ToLower(h), "0x") {
			add(h)
		}
	}
	return out
}

// Addresses extracts wallet addresses mentioned in the alert body. Ethereum
// candidates are checksum-validated; bitcoin ones are shape-matched only.
func (a Alert) Addresses() []string {
	// a 64-hex tx hash would otherwise false-match the address pattern
	text := ethTxPattern.ReplaceAllString(a.Title+" "+a.Text, " ")
	seen := map[string]bool{}
	var out []string
	for _, m := range ethAddrPattern.FindAllString(text, -1) {
		if len(m) == 42 && common.IsHexAddress(m) {
			lower := strings.ToLower(m)
			if !seen[lower] {
				seen[lower] = true
				out = append(out, lower)
			}
		}
	}
	for _, m := range btcAddrPattern.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

var trustedPublishers = map[string]bool{
	"chainalysis": true,
	"certik":      true,
	"slowmist":    true,
	"peckshield":  true,
	"elliptic":    true,
}

// Confidence scores how actionable the alert is. Channel sets the base,
// explicit transaction hashes and a known publisher raise it, capped at 1.
func (a Alert) Confidence() float64 {
	conf := 0.5
	switch a.Channel {
	case "news":
		conf = 0.8
	case "twitter":
		conf = 0.7
	case "telegram":
		conf = 0.6
	case "discord":
		conf = 0.5
	}
	if len(a.TxHashes()) > 0 {
		conf += 0.1
	}
	if trustedPublishers[strings.ToLower(a.Publisher)] {
		conf += 0.2
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// Malicious reports whether the alert severity warrants a MALICIOUS label
// rather than SUSPICIOUS.
func (a Alert) Malicious() bool {
	switch strings.ToLower(a.Severity) {
	case "critical", "high":
		return true
	}
	return false
}
