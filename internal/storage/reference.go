package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bilancio/internal/core"
)

func (r *Repository) InsertAccount(ctx context.Context, a core.Account) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.Name, fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *Repository) GetAccount(ctx context.Context, id string) (core.Account, error) {
	var a core.Account
	var created, updated string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return a, nil
}

func (r *Repository) ListAccounts(ctx context.Context) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, created_at, updated_at FROM accounts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		var a core.Account
		var created, updated string
		if err := rows.Scan(&a.ID, &a.Name, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.CreatedAt = parseTime(created)
		a.UpdatedAt = parseTime(updated)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) InsertPerson(ctx context.Context, p core.Person) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO people (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert person: %w", err)
	}
	return nil
}

func (r *Repository) GetPerson(ctx context.Context, id string) (core.Person, error) {
	var p core.Person
	var created, updated string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at FROM people WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Person{}, fmt.Errorf("person %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Person{}, fmt.Errorf("get person: %w", err)
	}
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return p, nil
}

func (r *Repository) ListPeople(ctx context.Context) ([]core.Person, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, created_at, updated_at FROM people ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}
	defer rows.Close()

	var out []core.Person
	for rows.Next() {
		var p core.Person
		var created, updated string
		if err := rows.Scan(&p.ID, &p.Name, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		p.CreatedAt = parseTime(created)
		p.UpdatedAt = parseTime(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) InsertCategory(ctx context.Context, c core.Category) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, kind, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Kind, fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

// GetOrCreateCategory resolves a category by (name, kind), creating it when
// missing. The CSV importer relies on this for unseen category names.
func (r *Repository) GetOrCreateCategory(ctx context.Context, name, kind, newID string, now time.Time) (core.Category, error) {
	var c core.Category
	var created, updated string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, kind, created_at, updated_at FROM categories
		WHERE name = ? AND kind = ?`, name, kind).
		Scan(&c.ID, &c.Name, &c.Kind, &created, &updated)
	if err == nil {
		c.CreatedAt = parseTime(created)
		c.UpdatedAt = parseTime(updated)
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("get category: %w", err)
	}
	c = core.Category{ID: newID, Name: name, Kind: kind, CreatedAt: now, UpdatedAt: now}
	if err := r.InsertCategory(ctx, c); err != nil {
		return core.Category{}, err
	}
	return c, nil
}

func (r *Repository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, kind, created_at, updated_at FROM categories ORDER BY kind, name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		var created, updated string
		if err := rows.Scan(&c.ID, &c.Name, &c.Kind, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.CreatedAt = parseTime(created)
		c.UpdatedAt = parseTime(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) InsertShop(ctx context.Context, s core.Shop) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO shops (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		s.ID, s.Name, fmtTime(s.CreatedAt), fmtTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert shop: %w", err)
	}
	return nil
}

func (r *Repository) ListShops(ctx context.Context) ([]core.Shop, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, created_at, updated_at FROM shops ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list shops: %w", err)
	}
	defer rows.Close()

	var out []core.Shop
	for rows.Next() {
		var s core.Shop
		var created, updated string
		if err := rows.Scan(&s.ID, &s.Name, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan shop: %w", err)
		}
		s.CreatedAt = parseTime(created)
		s.UpdatedAt = parseTime(updated)
		out = append(out, s)
	}
	return out, rows.Err()
}

const subscriptionColumns = `id, name, account_id, person_id, category_id, amount_cents,
	every, start_date, end_date, last_billed_at, active, created_at, updated_at`

func (r *Repository) InsertSubscription(ctx context.Context, s core.Subscription) error {
	var end, billed any
	if !s.EndDate.IsZero() {
		end = fmtDate(s.EndDate)
	}
	if !s.LastBilledAt.IsZero() {
		billed = fmtTime(s.LastBilledAt)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.AccountID, nullStr(s.PersonID), nullStr(s.CategoryID),
		s.Amount.Cents, string(s.Every), fmtDate(s.StartDate), end, billed,
		boolInt(s.Active), fmtTime(s.CreatedAt), fmtTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (r *Repository) GetSubscription(ctx context.Context, id string) (core.Subscription, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	s, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Subscription{}, fmt.Errorf("subscription %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Subscription{}, fmt.Errorf("get subscription: %w", err)
	}
	return s, nil
}

// ListActiveSubscriptions returns every active subscription whose start date
// has passed and whose end date, if any, has not. Dueness against the billing
// interval is decided by the caller.
func (r *Repository) ListActiveSubscriptions(ctx context.Context, asOf time.Time) ([]core.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE active = 1 AND start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		ORDER BY name`, fmtDate(asOf), fmtDate(asOf))
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()

	var out []core.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) ListSubscriptions(ctx context.Context) ([]core.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []core.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkSubscriptionBilled records the billing timestamp in the same scope as
// the generated transaction, so a crash cannot double-bill the interval.
func (r *Repository) MarkSubscriptionBilled(ctx context.Context, q DBTX, id string, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE subscriptions SET last_billed_at = ?, updated_at = ? WHERE id = ?`,
		fmtTime(at), fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("mark subscription billed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark subscription billed rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("subscription %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *Repository) SetSubscriptionActive(ctx context.Context, id string, active bool, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("set subscription active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set subscription active rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("subscription %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func scanSubscription(row rowScanner) (core.Subscription, error) {
	var s core.Subscription
	var person, category, end, billed sql.NullString
	var every, start, created, updated string
	var active int
	err := row.Scan(&s.ID, &s.Name, &s.AccountID, &person, &category, &s.Amount.Cents,
		&every, &start, &end, &billed, &active, &created, &updated)
	if err != nil {
		return core.Subscription{}, err
	}
	s.PersonID = fromNull(person)
	s.CategoryID = fromNull(category)
	s.Every = core.RepetitionType(every)
	s.StartDate = parseDate(start)
	if end.Valid {
		s.EndDate = parseDate(end.String)
	}
	if billed.Valid {
		s.LastBilledAt = parseTime(billed.String)
	}
	s.Active = active != 0
	s.CreatedAt = parseTime(created)
	s.UpdatedAt = parseTime(updated)
	return s, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
