package norm

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CanonicalKey is the fixed-order input tuple of the canonical-ID hash.
// Whitespace, case and input row order must never change the resulting ID.
type CanonicalKey struct {
	SourceTag    string
	EntityID     string // "" hashes as GLOBAL
	RecordType   string
	DocType      string
	DocNumber    string
	Counterparty string
	Currency     string
	Amount       decimal.Decimal
	DocDate      *time.Time
	DueDate      *time.Time
	LineID       string
}

// CanonicalID computes the idempotency hash: each component trimmed and
// uppercased, joined with `|`, SHA-256 hex digest.
func CanonicalID(k CanonicalKey) string {
	entity := k.EntityID
	if strings.TrimSpace(entity) == "" {
		entity = "GLOBAL"
	}
	counterparty := strings.TrimSpace(k.Counterparty)
	if len(counterparty) > 50 {
		counterparty = counterparty[:50]
	}
	parts := []string{
		k.SourceTag,
		entity,
		k.RecordType,
		k.DocType,
		k.DocNumber,
		counterparty,
		k.Currency,
		k.Amount.StringFixed(2),
		formatDate(k.DocDate),
		formatDate(k.DueDate),
		k.LineID,
	}
	for i, p := range parts {
		parts[i] = strings.ToUpper(strings.TrimSpace(p))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// RawHash computes the SHA-256 of a canonicalized raw payload: keys sorted,
// values trimmed, `key=value` pairs joined with newlines. Used to preserve
// provenance of each source row byte-for-byte semantics.
func RawHash(payload map[string]string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.TrimSpace(payload[k]))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// SchemaFingerprint hashes an ordered column list into a deterministic
// schema identity: sorted `name:type` pairs concatenated, SHA-256 hex.
func SchemaFingerprint(cols []Column) string {
	pairs := make([]string, len(cols))
	for i, c := range cols {
		pairs[i] = c.Name + ":" + c.Type
	}
	sort.Strings(pairs)
	sum := sha256.Sum256([]byte(strings.Join(pairs, ",")))
	return hex.EncodeToString(sum[:])
}

// Column is one entry of a connector-reported schema.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}
