package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const orderColumns = `product_id, order_no, tracking_number, status, buyer_name, buyer_phone, address, created_at`

type orderRepository struct {
	store *Store
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

func (r *orderRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(`SELECT ` + orderColumns + ` FROM orders`)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		fmt.Fprintf(&query, ` WHERE status = $%d`, len(args))
	}
	query.WriteString(` ORDER BY product_id ASC`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&query, ` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&query, ` OFFSET $%d`, len(args))
	}

	rows, err := r.store.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

func (r *orderRepository) Get(ctx context.Context, productID string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE product_id = $1`, productID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, err
	}
	return order, nil
}

// CreateBatch вставляет все заказы в одной транзакции: первый конфликт откатывает весь пакет.
func (r *orderRepository) CreateBatch(ctx context.Context, orders []domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.store.withTx(ctx, func(tx *sql.Tx) error {
		for _, order := range orders {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO orders (`+orderColumns+`)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`,
				order.ProductID,
				nullString(order.OrderNo),
				nullString(order.TrackingNumber),
				string(order.Status),
				order.BuyerName,
				order.BuyerPhone,
				order.Address,
				order.CreatedAt,
			)
			if err != nil {
				if conflict := conflictFromPg(err); conflict != nil {
					return conflict
				}
				return fmt.Errorf("insert order %s: %w", order.ProductID, err)
			}
		}
		return nil
	})
}

// UpdateBatch применяет патчи в одной транзакции; каждая позиция изолирована savepoint-ом,
// поэтому отказ одной позиции не откатывает соседние.
func (r *orderRepository) UpdateBatch(ctx context.Context, patches []domain.OrderPatch, guard domain.PatchGuard) ([]domain.PatchOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	outcomes := make([]domain.PatchOutcome, 0, len(patches))
	err := r.store.withTx(ctx, func(tx *sql.Tx) error {
		for _, patch := range patches {
			outcome, err := r.updateOne(ctx, tx, patch, guard)
			if err != nil {
				return err
			}
			outcomes = append(outcomes, outcome)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (r *orderRepository) updateOne(ctx context.Context, tx *sql.Tx, patch domain.OrderPatch, guard domain.PatchGuard) (domain.PatchOutcome, error) {
	outcome := domain.PatchOutcome{ProductID: patch.ProductID}

	if _, err := tx.ExecContext(ctx, `SAVEPOINT order_patch`); err != nil {
		return outcome, fmt.Errorf("savepoint: %w", err)
	}

	current, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE product_id = $1 FOR UPDATE`, patch.ProductID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			outcome.Err = domain.ErrOrderNotFound
			return outcome, releaseSavepoint(ctx, tx)
		}
		return outcome, err
	}

	if guard != nil {
		if err := guard(current, patch); err != nil {
			outcome.Err = err
			return outcome, releaseSavepoint(ctx, tx)
		}
	}

	assignments := patch.Assignments()
	sets := make([]string, 0, len(assignments))
	args := make([]any, 0, len(assignments)+1)
	for _, a := range assignments {
		args = append(args, a.Value)
		sets = append(sets, fmt.Sprintf("%s = $%d", a.Field, len(args)))
	}
	args = append(args, patch.ProductID)

	updated, err := scanOrder(tx.QueryRowContext(ctx, fmt.Sprintf(
		`UPDATE orders SET %s WHERE product_id = $%d RETURNING `+orderColumns,
		strings.Join(sets, ", "), len(args),
	), args...))
	if err != nil {
		if conflict := conflictFromPg(err); conflict != nil {
			if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT order_patch`); rbErr != nil {
				return outcome, fmt.Errorf("rollback to savepoint: %w", rbErr)
			}
			outcome.Err = conflict
			return outcome, nil
		}
		return outcome, fmt.Errorf("update order %s: %w", patch.ProductID, err)
	}

	outcome.Previous = current
	outcome.Updated = updated
	return outcome, releaseSavepoint(ctx, tx)
}

func (r *orderRepository) Delete(ctx context.Context, productID string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx, `DELETE FROM orders WHERE product_id = $1 RETURNING `+orderColumns, productID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, err
	}
	return order, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order          domain.Order
		orderNo        sql.NullString
		trackingNumber sql.NullString
		status         string
	)
	err := row.Scan(
		&order.ProductID,
		&orderNo,
		&trackingNumber,
		&status,
		&order.BuyerName,
		&order.BuyerPhone,
		&order.Address,
		&order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("scan order row: %w", err)
	}

	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	if orderNo.Valid {
		order.OrderNo = &orderNo.String
	}
	if trackingNumber.Valid {
		order.TrackingNumber = &trackingNumber.String
	}
	return order, nil
}

func releaseSavepoint(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT order_patch`); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// conflictFromPg переводит нарушение уникальности в доменную ошибку по имени ограничения.
func conflictFromPg(err error) error {
	pgErr, ok := uniqueViolation(err)
	if !ok {
		return nil
	}
	if pgErr.ConstraintName == constraintOrdersOrderNo {
		return domain.ErrOrderNoConflict
	}
	// orders_pkey
	return domain.ErrProductIDConflict
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

var _ domain.OrderRepository = (*orderRepository)(nil)
