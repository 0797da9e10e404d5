package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordType tags the canonical shape of an ingested row.
type RecordType string

const (
	RecordInvoice    RecordType = "INVOICE"
	RecordVendorBill RecordType = "VENDOR_BILL"
	RecordBankTxn    RecordType = "BANK_TXN"
	RecordFXRate     RecordType = "FX_RATE"
)

// Invoice is an open receivable belonging to one snapshot. The amount is
// immutable after ingestion; only prediction fields and reconciliation
// linkage mutate. (snapshot_id, canonical_id) is unique.
type Invoice struct {
	ID          string `db:"id"`
	SnapshotID  string `db:"snapshot_id"`
	CanonicalID string `db:"canonical_id"`

	DocumentNumber string          `db:"document_number"`
	Counterparty   string          `db:"counterparty"`
	Amount         decimal.Decimal `db:"amount"`
	Currency       string          `db:"currency"`
	IssueDate      time.Time       `db:"issue_date"`
	DueDate        time.Time       `db:"due_date"`
	PaymentDate    *time.Time      `db:"payment_date"`

	Country         string `db:"country"`
	Project         string `db:"project"`
	PaymentTermDays int    `db:"payment_term_days"`

	// Prediction fields, written by the forecast engine.
	PredictedPaymentDate *time.Time `db:"predicted_payment_date"`
	ConfidenceP25Date    *time.Time `db:"confidence_p25_date"`
	ConfidenceP75Date    *time.Time `db:"confidence_p75_date"`
	SegmentKey           string     `db:"segment_key"`

	// TruthLabel records the reconciliation outcome once known.
	TruthLabel string `db:"truth_label"`
}

// IsPaid reports whether a payment date has been recorded.
func (i *Invoice) IsPaid() bool { return i.PaymentDate != nil }

// DelayDays is payment_date - due_date in whole days. Only meaningful for
// paid invoices.
func (i *Invoice) DelayDays() int {
	if i.PaymentDate == nil {
		return 0
	}
	return int(i.PaymentDate.Sub(i.DueDate).Hours() / 24)
}

// VendorBill is an open payable belonging to one snapshot.
type VendorBill struct {
	ID          string `db:"id"`
	SnapshotID  string `db:"snapshot_id"`
	CanonicalID string `db:"canonical_id"`

	DocumentNumber string          `db:"document_number"`
	Counterparty   string          `db:"counterparty"`
	Amount         decimal.Decimal `db:"amount"`
	Currency       string          `db:"currency"`
	IssueDate      time.Time       `db:"issue_date"`
	DueDate        time.Time       `db:"due_date"`
	PaymentDate    *time.Time      `db:"payment_date"`

	Country         string `db:"country"`
	Project         string `db:"project"`
	Category        string `db:"category"`
	PaymentTermDays int    `db:"payment_term_days"`

	IsDiscretionary bool `db:"is_discretionary"`
	OnHold          bool `db:"on_hold"`

	ScheduledPaymentDate *time.Time `db:"scheduled_payment_date"`
	ApprovedAt           *time.Time `db:"approved_at"`
}

// ReconStatus is the reconciliation lifecycle of a bank transaction.
type ReconStatus string

const (
	ReconNone       ReconStatus = "UNRECONCILED"
	ReconSuggested  ReconStatus = "SUGGESTED"
	ReconReconciled ReconStatus = "RECONCILED"
)

// MatchTier classifies how a reconciliation link was produced.
type MatchTier string

const (
	TierDeterministic MatchTier = "deterministic"
	TierRule          MatchTier = "rule"
	TierSuggested     MatchTier = "suggested"
	TierManual        MatchTier = "manual"
	TierNone          MatchTier = "none"
)

// BankTransaction is a single bank posting. Sign convention: positive is an
// inflow, negative an outflow.
type BankTransaction struct {
	ID          string `db:"id"`
	SnapshotID  string `db:"snapshot_id"`
	CanonicalID string `db:"canonical_id"`

	BankAccountID string          `db:"bank_account_id"`
	TxnDate       time.Time       `db:"txn_date"`
	ValueDate     time.Time       `db:"value_date"`
	Amount        decimal.Decimal `db:"amount"`
	Currency      string          `db:"currency"`
	Reference     string          `db:"reference"`
	Counterparty  string          `db:"counterparty"`
	Fee           decimal.Decimal `db:"fee"`
	Writeoff      decimal.Decimal `db:"writeoff"`

	ReconStatus ReconStatus `db:"recon_status"`
	ReconType   MatchTier   `db:"recon_type"`
}

// IsInflow reports whether the transaction credits the account.
func (t *BankTransaction) IsInflow() bool { return t.Amount.Sign() > 0 }

// AllocationStatus is the lifecycle of one reconciliation allocation.
type AllocationStatus string

const (
	AllocationPending    AllocationStatus = "PENDING_APPROVAL"
	AllocationReconciled AllocationStatus = "RECONCILED"
	AllocationRejected   AllocationStatus = "REJECTED"
)

// TargetKind distinguishes whether an allocation points at an AR invoice or
// an AP bill.
type TargetKind string

const (
	TargetInvoice TargetKind = "INVOICE"
	TargetBill    TargetKind = "VENDOR_BILL"
)

// ReconciliationAllocation links one bank transaction to one invoice or
// bill with an allocated amount and the tier that produced it. Conservation:
// the allocations of a reconciled transaction plus fees and writeoffs sum
// to the absolute transaction amount.
type ReconciliationAllocation struct {
	ID         string `db:"id"`
	SnapshotID string `db:"snapshot_id"`

	TransactionID string     `db:"transaction_id"`
	TargetKind    TargetKind `db:"target_kind"`
	TargetID      string     `db:"target_id"`

	AllocatedAmount decimal.Decimal  `db:"allocated_amount"`
	Tier            MatchTier        `db:"tier"`
	Confidence      float64          `db:"confidence"`
	Status          AllocationStatus `db:"status"`

	CreatedAt  time.Time  `db:"created_at"`
	DecidedAt  *time.Time `db:"decided_at"`
	DecidedBy  string     `db:"decided_by"`
	DecideNote string     `db:"decide_note"`
}

// FXRate is a per-snapshot conversion rate. A missing rate routes amounts
// to the Unknown bucket; it is never defaulted to 1.0.
type FXRate struct {
	ID         string          `db:"id"`
	SnapshotID string          `db:"snapshot_id"`
	FromCcy    string          `db:"from_ccy"`
	ToCcy      string          `db:"to_ccy"`
	Rate       decimal.Decimal `db:"rate"`
}

// MatchingPolicy holds the per-entity/currency matching thresholds.
type MatchingPolicy struct {
	ID       string `db:"id" json:"id"`
	EntityID string `db:"entity_id" json:"entity_id"`
	Currency string `db:"currency" json:"currency"`

	AmountTolerance    float64 `db:"amount_tolerance" json:"amount_tolerance"` // fraction, e.g. 0.01
	DateWindowDays     int     `db:"date_window_days" json:"date_window_days"`
	Tier2MinConfidence float64 `db:"tier2_min_confidence" json:"tier2_min_confidence"`
	Tier3MinConfidence float64 `db:"tier3_min_confidence" json:"tier3_min_confidence"`
	AutoApplyTier1     bool    `db:"auto_apply_tier1" json:"auto_apply_tier1"`
	AutoApplyTier2     bool    `db:"auto_apply_tier2" json:"auto_apply_tier2"`
}

// DefaultMatchingPolicy returns the platform defaults used when an entity
// has no explicit policy row.
func DefaultMatchingPolicy() MatchingPolicy {
	return MatchingPolicy{
		AmountTolerance:    0.01,
		DateWindowDays:     7,
		Tier2MinConfidence: 0.80,
		Tier3MinConfidence: 0.60,
		AutoApplyTier1:     true,
		AutoApplyTier2:     true,
	}
}
