package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agri-market/agri-market/internal/domain/negotiation"
)

// NegotiationRepository implements negotiation.Repository. Messages live in
// their own append-only table keyed by (negotiation_id, seq).
type NegotiationRepository struct {
	pool *pgxpool.Pool
}

func NewNegotiationRepository(pool *pgxpool.Pool) *NegotiationRepository {
	return &NegotiationRepository{pool: pool}
}

const negotiationColumns = `negotiation_id, product_id, buyer_id, farmer_id, quantity, unit, initial_price::text, final_price::text, status, version, created_at, updated_at`

func (r *NegotiationRepository) Create(ctx context.Context, n *negotiation.Negotiation) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO negotiations
			(negotiation_id, product_id, buyer_id, farmer_id, quantity, unit, initial_price, final_price, status, version, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8::numeric,$9,1,$10,$11)
		`, n.NegotiationID, n.ProductID, n.BuyerID, n.FarmerID, n.Quantity, n.Unit, decimalArg(n.InitialPrice), nullableDecimalArg(n.FinalPrice), n.Status, n.CreatedAt, n.UpdatedAt); err != nil {
			return err
		}
		return insertMessages(ctx, tx, n.NegotiationID, 0, n.Messages)
	})
	if err != nil {
		return storeError(err)
	}
	n.Version = 1
	return nil
}

func (r *NegotiationRepository) GetByID(ctx context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+negotiationColumns+`
		FROM negotiations
		WHERE negotiation_id=$1
	`, negotiationID)
	n, err := scanNegotiation(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", negotiation.ErrNotFound, negotiationID)
		}
		return nil, storeError(err)
	}
	if err := r.loadMessages(ctx, []*negotiation.Negotiation{n}); err != nil {
		return nil, storeError(err)
	}
	return n, nil
}

func (r *NegotiationRepository) Update(ctx context.Context, n *negotiation.Negotiation, appended []negotiation.Message) error {
	firstSeq := len(n.Messages) - len(appended)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE negotiations
			SET status=$1, final_price=$2::numeric, version=version+1, updated_at=$3
			WHERE negotiation_id=$4 AND version=$5
		`, n.Status, nullableDecimalArg(n.FinalPrice), n.UpdatedAt, n.NegotiationID, n.Version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM negotiations WHERE negotiation_id=$1)`, n.NegotiationID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: %s", negotiation.ErrNotFound, n.NegotiationID)
			}
			return fmt.Errorf("%w: %s at version %d", negotiation.ErrStoreConflict, n.NegotiationID, n.Version)
		}
		return insertMessages(ctx, tx, n.NegotiationID, firstSeq, appended)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", negotiation.ErrStoreConflict, err)
		}
		return storeError(err)
	}
	n.Version++
	return nil
}

func (r *NegotiationRepository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]*negotiation.Negotiation, error) {
	return r.list(ctx, "buyer_id", buyerID, limit, offset)
}

func (r *NegotiationRepository) ListByFarmer(ctx context.Context, farmerID uuid.UUID, limit, offset int) ([]*negotiation.Negotiation, error) {
	return r.list(ctx, "farmer_id", farmerID, limit, offset)
}

func (r *NegotiationRepository) list(ctx context.Context, column string, id uuid.UUID, limit, offset int) ([]*negotiation.Negotiation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+negotiationColumns+`
		FROM negotiations
		WHERE `+column+`=$1
		ORDER BY updated_at DESC, negotiation_id ASC
		LIMIT $2 OFFSET $3
	`, id, limit, offset)
	if err != nil {
		return nil, storeError(err)
	}
	defer rows.Close()

	out := make([]*negotiation.Negotiation, 0)
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, storeError(err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err)
	}
	if err := r.loadMessages(ctx, out); err != nil {
		return nil, storeError(err)
	}
	return out, nil
}

func (r *NegotiationRepository) loadMessages(ctx context.Context, items []*negotiation.Negotiation) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(items))
	byID := make(map[uuid.UUID]*negotiation.Negotiation, len(items))
	for _, n := range items {
		ids = append(ids, n.NegotiationID)
		byID[n.NegotiationID] = n
		n.Messages = make([]negotiation.Message, 0)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT negotiation_id, message_id, sender_id, sender_role, offered_price::text, note, kind, created_at
		FROM negotiation_messages
		WHERE negotiation_id = ANY($1)
		ORDER BY negotiation_id, seq ASC
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			negotiationID uuid.UUID
			m             negotiation.Message
			price         *string
		)
		if err := rows.Scan(&negotiationID, &m.MessageID, &m.SenderID, &m.SenderRole, &price, &m.Note, &m.Kind, &m.Timestamp); err != nil {
			return err
		}
		if m.OfferedPrice, err = parseNullableDecimal(price); err != nil {
			return err
		}
		m.Timestamp = m.Timestamp.UTC()
		if n, ok := byID[negotiationID]; ok {
			n.Messages = append(n.Messages, m)
		}
	}
	return rows.Err()
}

func insertMessages(ctx context.Context, tx pgx.Tx, negotiationID uuid.UUID, firstSeq int, msgs []negotiation.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, m := range msgs {
		batch.Queue(`
			INSERT INTO negotiation_messages
			(message_id, negotiation_id, seq, sender_id, sender_role, offered_price, note, kind, created_at)
			VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9)
		`, m.MessageID, negotiationID, firstSeq+i, m.SenderID, m.SenderRole, nullableDecimalArg(m.OfferedPrice), m.Note, m.Kind, m.Timestamp)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func scanNegotiation(row pgx.Row) (*negotiation.Negotiation, error) {
	var (
		n          negotiation.Negotiation
		initial    string
		finalPrice *string
	)
	if err := row.Scan(&n.NegotiationID, &n.ProductID, &n.BuyerID, &n.FarmerID, &n.Quantity, &n.Unit, &initial, &finalPrice, &n.Status, &n.Version, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if n.InitialPrice, err = parseDecimal(initial); err != nil {
		return nil, err
	}
	if n.FinalPrice, err = parseNullableDecimal(finalPrice); err != nil {
		return nil, err
	}
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	return &n, nil
}
