package state

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/rlp"

	"escrowd/native/escrow"
	"escrowd/storage"
)

// storedRecord mirrors escrow.Record with RLP-friendly field types. CreatedAt
// is stored unsigned; the ledger never records pre-epoch timestamps.
type storedRecord struct {
	ID            uint64
	PartyA        [20]byte
	PartyB        [20]byte
	Agent         [20]byte
	Summary       string
	Amount        *big.Int
	Verifiables   []string
	DisputeReason string
	Status        uint8
	CreatedAt     uint64
}

func recordKey(id uint64) []byte {
	return []byte(recordPrefix + strconv.FormatUint(id, 10))
}

func custodyKey(id uint64) []byte {
	return []byte(custodyPrefix + strconv.FormatUint(id, 10))
}

// EscrowPut persists the supplied record after sanitising it.
func (m *Manager) EscrowPut(rec *escrow.Record) error {
	sanitized, err := escrow.SanitizeRecord(rec)
	if err != nil {
		return err
	}
	stored := storedRecord{
		ID:            sanitized.ID,
		PartyA:        sanitized.PartyA,
		PartyB:        sanitized.PartyB,
		Agent:         sanitized.Agent,
		Summary:       sanitized.Summary,
		Amount:        sanitized.Amount,
		Verifiables:   sanitized.Verifiables,
		DisputeReason: sanitized.DisputeReason,
		Status:        uint8(sanitized.Status),
		CreatedAt:     uint64(sanitized.CreatedAt),
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.db.Put(recordKey(sanitized.ID), encoded)
}

// EscrowGet loads the record for the supplied identifier.
func (m *Manager) EscrowGet(id uint64) (*escrow.Record, bool) {
	raw, err := m.db.Get(recordKey(id))
	if err != nil {
		return nil, false
	}
	var stored storedRecord
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	amount := stored.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	return &escrow.Record{
		ID:            stored.ID,
		PartyA:        stored.PartyA,
		PartyB:        stored.PartyB,
		Agent:         stored.Agent,
		Summary:       stored.Summary,
		Amount:        amount,
		Verifiables:   stored.Verifiables,
		DisputeReason: stored.DisputeReason,
		Status:        escrow.Status(stored.Status),
		CreatedAt:     int64(stored.CreatedAt),
	}, true
}

// EscrowNextID allocates the next sequential identifier. Identifiers start at
// zero and are never reused, even when the created record is later cancelled.
func (m *Manager) EscrowNextID() (uint64, error) {
	next, err := m.getCounter(nextIDKey)
	if err != nil {
		return 0, err
	}
	if err := m.putCounter(nextIDKey, next+1); err != nil {
		return 0, err
	}
	return next, nil
}

// EscrowCredit records custody value held on behalf of the identified record.
func (m *Manager) EscrowCredit(id uint64, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return errors.New("state: negative custody credit")
	}
	current, err := m.EscrowBalance(id)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(new(big.Int).Add(current, amt))
	if err != nil {
		return err
	}
	return m.db.Put(custodyKey(id), encoded)
}

// EscrowDebit releases custody value held on behalf of the identified record.
func (m *Manager) EscrowDebit(id uint64, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return errors.New("state: negative custody debit")
	}
	current, err := m.EscrowBalance(id)
	if err != nil {
		return err
	}
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("state: custody underflow for escrow %d", id)
	}
	encoded, err := rlp.EncodeToBytes(new(big.Int).Sub(current, amt))
	if err != nil {
		return err
	}
	return m.db.Put(custodyKey(id), encoded)
}

// EscrowBalance returns the custody value attributed to the identified record.
func (m *Manager) EscrowBalance(id uint64) (*big.Int, error) {
	raw, err := m.db.Get(custodyKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(raw, balance); err != nil {
		return nil, err
	}
	return balance, nil
}
