package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_owner_exists",
			SQL: `SELECT s.id FROM services s
                  LEFT JOIN users u ON u.id = s.owner_id
                  WHERE u.id IS NULL`,
		},
		{
			Name: "O2_timestamp_order",
			SQL:  `SELECT id FROM services WHERE updated_at < created_at`,
		},
		{
			Name: "O3_enum_domain",
			SQL: `SELECT id FROM services
                  WHERE status NOT IN ('pending','in_progress','completed','canceled')
                     OR step NOT IN ('analysis','execution','review','delivered')`,
		},
		{
			Name: "O4_required_fields",
			SQL: `SELECT id FROM services
                  WHERE btrim(title) = '' OR btrim(description) = '' OR btrim(responsible) = ''
                     OR start_date IS NULL`,
		},
		{
			Name: "O5_unique_username",
			SQL: `SELECT username, COUNT(*) FROM users
                  GROUP BY username HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_images_not_null",
			SQL:  `SELECT id FROM services WHERE images IS NULL`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
