package store

import "context"

// ContractStore looks up watched contracts by address so the scanner
// can tag contract_id. Contracts are written by the external HTTP
// surface; this store only reads.
type ContractStore struct {
	pool Querier
}

func NewContractStore(pool Querier) *ContractStore {
	return &ContractStore{pool: pool}
}

// LookupWatchedByAddress returns the contract id for a lower-cased
// 20-byte address, or (0, false) if there is no watched contract at
// that address.
func (s *ContractStore) LookupWatchedByAddress(ctx context.Context, addressLower string) (int64, bool, error) {
	var id int64
	row := s.pool.QueryRow(ctx, `
		SELECT id FROM contracts WHERE address = $1 AND is_watched = true
	`, addressLower)
	if err := row.Scan(&id); err != nil {
		if err == ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}
