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
			// The principal leaves custody at most once per escrow id. A second
			// row here means two terminal transitions both paid out.
			Name: "O1_no_double_payout",
			SQL: `SELECT escrow_id, COUNT(*) FROM transfers
                  WHERE kind = 'principal' AND src = 'escrow'
                  GROUP BY escrow_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_no_double_stake_payout",
			SQL: `SELECT escrow_id, COUNT(*) FROM transfers
                  WHERE kind = 'stake' AND src = 'escrow'
                  GROUP BY escrow_id HAVING COUNT(*) > 1`,
		},
		{
			// Custody conservation: the escrow account balance must equal the
			// principal plus stakes of every live transaction.
			Name: "O3_custody_conservation",
			SQL: `SELECT held.total, COALESCE(acct.balance, 0) AS balance FROM
                  (SELECT COALESCE(SUM(amount + dispute_stake), 0) AS total FROM escrow_transactions) held
                  LEFT JOIN accounts acct ON acct.id = 'escrow'
                  WHERE held.total <> COALESCE(acct.balance, 0)`,
		},
		{
			Name: "O4_timeline_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT escrow_id, seq,
                             LAG(seq) OVER (PARTITION BY escrow_id ORDER BY seq) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			// A terminal timeline event must coincide with erasure of the record.
			Name: "O5_terminal_means_erased",
			SQL: `SELECT e.escrow_id, e.type FROM timeline_events e
                  JOIN escrow_transactions t ON t.id = e.escrow_id
                  WHERE e.type IN ('ESCROW_CANCELLED', 'DELIVERY_CONFIRMED', 'PAYMENT_CLAIMED',
                                   'DISPUTE_RESOLVED', 'DISPUTE_RESOLVED_BY_TIMEOUT')`,
		},
		{
			// Stake is only ever held while a dispute is open.
			Name: "O6_stake_only_when_disputed",
			SQL: `SELECT id, state, dispute_stake FROM escrow_transactions
                  WHERE dispute_stake > 0 AND state <> 'disputed'`,
		},
		{
			Name: "O7_outbox_liveness",
			SQL: `SELECT id::text FROM outbox
                  WHERE status NOT IN ('processed', 'dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			// With fee = floor(value * bps / 10000) and bps < 10000, the fee
			// is strictly below the gross value, so the custodied principal
			// is always positive.
			Name: "O8_principal_positive",
			SQL: `SELECT escrow_id, amount FROM transfers
                  WHERE kind = 'principal' AND dst = 'escrow' AND amount <= 0`,
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
