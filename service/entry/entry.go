// Package entry decodes ledger entry batches and assembles them from
// reconstructed FEC sets.
package entry

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// MaxEntriesPerBatch bounds the declared entry count of a batch.
const MaxEntriesPerBatch = 10_000

// minTransactionSize is one signature count byte, one signature and a
// minimal legacy message.
const minTransactionSize = 1 + 64 + 3 + 1 + 32 + 1

var (
	ErrTooManyEntries      = errors.New("entry count exceeds limit")
	ErrTooManyTransactions = errors.New("transaction count exceeds remaining bytes")
	ErrTruncated           = errors.New("entry batch truncated")
	ErrMalformedTx         = errors.New("malformed transaction")
)

// Entry is a decoded ledger entry.
type Entry struct {
	NumHashes    uint64
	Hash         solana.Hash
	Transactions []*solana.Transaction
}

// PartialEntryError reports that a batch could only be decoded up to Entry,
// the zero-based ordinal of the first entry that failed.
type PartialEntryError struct {
	Slot   uint64
	Entry  int
	Offset int
	Err    error
}

func (e *PartialEntryError) Error() string {
	return fmt.Sprintf("slot %d: entry %d at offset %d: %v", e.Slot, e.Entry, e.Offset, e.Err)
}

func (e *PartialEntryError) Unwrap() error { return e.Err }

// Decode parses an entry batch. On malformed or truncated input it returns
// every fully decoded entry together with a *PartialEntryError.
func Decode(slot uint64, buf []byte) ([]Entry, error) {
	dec := bin.NewBinDecoder(buf)
	fail := func(entries []Entry, ordinal int, err error) ([]Entry, error) {
		return entries, &PartialEntryError{Slot: slot, Entry: ordinal, Offset: int(dec.Position()), Err: err}
	}

	count, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return fail(nil, 0, fmt.Errorf("%w: entry count: %v", ErrTruncated, err))
	}
	if count > MaxEntriesPerBatch {
		return fail(nil, 0, fmt.Errorf("%w: %d", ErrTooManyEntries, count))
	}

	entries := make([]Entry, 0, count)
	for i := 0; i < int(count); i++ {
		e, err := decodeEntry(dec)
		if err != nil {
			return fail(entries, i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func decodeEntry(dec *bin.Decoder) (e Entry, err error) {
	if e.NumHashes, err = dec.ReadUint64(bin.LE); err != nil {
		return e, fmt.Errorf("%w: num hashes: %v", ErrTruncated, err)
	}
	if dec.Remaining() < len(e.Hash) {
		return e, fmt.Errorf("%w: hash", ErrTruncated)
	}
	if _, err = dec.Read(e.Hash[:]); err != nil {
		return e, fmt.Errorf("%w: hash: %v", ErrTruncated, err)
	}
	txCount, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return e, fmt.Errorf("%w: transaction count: %v", ErrTruncated, err)
	}
	if txCount > uint64(dec.Remaining()/minTransactionSize) {
		return e, fmt.Errorf("%w: %d transactions in %d bytes", ErrTooManyTransactions, txCount, dec.Remaining())
	}

	e.Transactions = make([]*solana.Transaction, 0, txCount)
	for j := uint64(0); j < txCount; j++ {
		tx, err := decodeTransaction(dec)
		if err != nil {
			return e, fmt.Errorf("transaction %d: %w", j, err)
		}
		e.Transactions = append(e.Transactions, tx)
	}
	return e, nil
}

// decodeTransaction guards the third-party decoder, which can panic on
// hostile length prefixes.
func decodeTransaction(dec *bin.Decoder) (tx *solana.Transaction, err error) {
	defer func() {
		if r := recover(); r != nil {
			tx, err = nil, fmt.Errorf("%w: %v", ErrMalformedTx, r)
		}
	}()
	tx, err = solana.TransactionFromDecoder(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	return tx, nil
}

// Encode serializes entries into the batch format Decode reads.
func Encode(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := bin.NewBinEncoder(&buf)
	if err := enc.WriteUint64(uint64(len(entries)), bin.LE); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := enc.WriteUint64(e.NumHashes, bin.LE); err != nil {
			return nil, err
		}
		if err := enc.WriteBytes(e.Hash[:], false); err != nil {
			return nil, err
		}
		if err := enc.WriteUint64(uint64(len(e.Transactions)), bin.LE); err != nil {
			return nil, err
		}
		for _, tx := range e.Transactions {
			raw, err := tx.MarshalBinary()
			if err != nil {
				return nil, fmt.Errorf("failed to encode transaction: %w", err)
			}
			if err := enc.WriteBytes(raw, false); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

// TransactionCount sums transactions across entries.
func TransactionCount(entries []Entry) int {
	n := 0
	for _, e := range entries {
		n += len(e.Transactions)
	}
	return n
}
