package postgres

import (
	"context"

	"github.com/ledgerline/cashops/internal/domain"
)

type documentRepo struct{ s *Store }

const invoiceColumns = `id, snapshot_id, canonical_id, document_number, counterparty,
	amount, currency, issue_date, due_date, payment_date, country, project,
	payment_term_days, predicted_payment_date, confidence_p25_date,
	confidence_p75_date, segment_key, truth_label`

func (r *documentRepo) InsertInvoice(ctx context.Context, inv *domain.Invoice) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&inv.ID)
	_, err := r.s.db.NamedExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (:id, :snapshot_id, :canonical_id, :document_number, :counterparty,
			:amount, :currency, :issue_date, :due_date, :payment_date, :country, :project,
			:payment_term_days, :predicted_payment_date, :confidence_p25_date,
			:confidence_p75_date, :segment_key, :truth_label)`, inv)
	if err != nil {
		return mapInsertErr(err, domain.CodeDuplicateCanonical,
			"invoice with canonical_id %s already exists in snapshot", inv.CanonicalID)
	}
	return nil
}

func (r *documentRepo) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var inv domain.Invoice
	err := r.s.db.GetContext(ctx, &inv,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	if err != nil {
		return nil, mapGetErr(err)
	}
	return &inv, nil
}

func (r *documentRepo) ListInvoices(ctx context.Context, snapshotID string) ([]*domain.Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var out []*domain.Invoice
	err := r.s.db.SelectContext(ctx, &out,
		`SELECT `+invoiceColumns+` FROM invoices WHERE snapshot_id = $1 ORDER BY due_date, id`, snapshotID)
	if err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	return out, nil
}

func (r *documentRepo) UpdateInvoicePrediction(ctx context.Context, inv *domain.Invoice) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	res, err := r.s.db.NamedExecContext(ctx, `
		UPDATE invoices SET predicted_payment_date = :predicted_payment_date,
			confidence_p25_date = :confidence_p25_date,
			confidence_p75_date = :confidence_p75_date,
			segment_key = :segment_key
		WHERE id = :id`, inv)
	if err != nil {
		return domain.NewInfraError("DB_UPDATE", err)
	}
	return requireRow(res)
}

func (r *documentRepo) SetInvoiceTruthLabel(ctx context.Context, invoiceID, label string) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	res, err := r.s.db.ExecContext(ctx,
		`UPDATE invoices SET truth_label = $2 WHERE id = $1`, invoiceID, label)
	if err != nil {
		return domain.NewInfraError("DB_UPDATE", err)
	}
	return requireRow(res)
}

const billColumns = `id, snapshot_id, canonical_id, document_number, counterparty,
	amount, currency, issue_date, due_date, payment_date, country, project,
	category, payment_term_days, is_discretionary, on_hold,
	scheduled_payment_date, approved_at`

func (r *documentRepo) InsertBill(ctx context.Context, b *domain.VendorBill) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&b.ID)
	_, err := r.s.db.NamedExecContext(ctx, `
		INSERT INTO vendor_bills (`+billColumns+`)
		VALUES (:id, :snapshot_id, :canonical_id, :document_number, :counterparty,
			:amount, :currency, :issue_date, :due_date, :payment_date, :country, :project,
			:category, :payment_term_days, :is_discretionary, :on_hold,
			:scheduled_payment_date, :approved_at)`, b)
	if err != nil {
		return mapInsertErr(err, domain.CodeDuplicateCanonical,
			"vendor bill with canonical_id %s already exists in snapshot", b.CanonicalID)
	}
	return nil
}

func (r *documentRepo) GetBill(ctx context.Context, id string) (*domain.VendorBill, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var b domain.VendorBill
	err := r.s.db.GetContext(ctx, &b,
		`SELECT `+billColumns+` FROM vendor_bills WHERE id = $1`, id)
	if err != nil {
		return nil, mapGetErr(err)
	}
	return &b, nil
}

func (r *documentRepo) ListBills(ctx context.Context, snapshotID string) ([]*domain.VendorBill, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var out []*domain.VendorBill
	err := r.s.db.SelectContext(ctx, &out,
		`SELECT `+billColumns+` FROM vendor_bills WHERE snapshot_id = $1 ORDER BY due_date, id`, snapshotID)
	if err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	return out, nil
}

func (r *documentRepo) InsertOutflowTemplate(ctx context.Context, item *domain.OutflowTemplateItem) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&item.ID)
	_, err := r.s.db.NamedExecContext(ctx, `
		INSERT INTO outflow_template_items (id, entity_id, category, amount, currency,
			planned_date, is_discretionary)
		VALUES (:id, :entity_id, :category, :amount, :currency, :planned_date, :is_discretionary)`, item)
	if err != nil {
		return mapInsertErr(err, "TEMPLATE_EXISTS", "template item %s already exists", item.ID)
	}
	return nil
}

func (r *documentRepo) ListOutflowTemplates(ctx context.Context, entityID string) ([]*domain.OutflowTemplateItem, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var out []*domain.OutflowTemplateItem
	err := r.s.db.SelectContext(ctx, &out, `
		SELECT id, entity_id, category, amount, currency, planned_date, is_discretionary
		FROM outflow_template_items WHERE entity_id = $1 ORDER BY planned_date, id`, entityID)
	if err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	return out, nil
}
