package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/xKoRx/arbiter/sdk/domain"
	"github.com/xKoRx/arbiter/sdk/utils"
)

const journalBucketName = "journal"

// JournalState es el estado de una entrada del journal.
type JournalState string

const (
	StatePending           JournalState = "PENDING"            // journalizada, aún sin despachar
	StateDispatched        JournalState = "DISPATCHED"         // submission en vuelo o ambigua
	StateProvenAbsent      JournalState = "PROVEN_ABSENT"      // exchange confirmó que nunca llegó
	StateConfirmed         JournalState = "CONFIRMED"          // terminal: exchange ack
	StateFailed            JournalState = "FAILED"             // terminal: rechazo explícito
	StatePermanentlyFailed JournalState = "PERMANENTLY_FAILED" // terminal: reconciliación agotada
)

// Terminal indica si el estado cierra la entrada.
func (s JournalState) Terminal() bool {
	switch s {
	case StateConfirmed, StateFailed, StatePermanentlyFailed:
		return true
	default:
		return false
	}
}

// journalTransitions define las transiciones permitidas. La historia nunca
// se reescribe: sólo movimientos hacia adelante, nunca de vuelta a un estado
// anterior ni fuera de un terminal.
var journalTransitions = map[JournalState][]JournalState{
	StatePending:      {StateDispatched},
	StateDispatched:   {StateConfirmed, StateFailed, StateProvenAbsent, StatePermanentlyFailed},
	StateProvenAbsent: {StateDispatched, StateConfirmed, StateFailed, StatePermanentlyFailed},
}

func transitionAllowed(from, to JournalState) bool {
	for _, next := range journalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// JournalEntry es el registro durable de un intent aceptado.
//
// Se escribe Pending ANTES de cualquier submission; la resolución (estado
// terminal) se escribe después. Entre ambos, un crash deja la entrada
// visible para el replay de arranque.
type JournalEntry struct {
	IntentID        string                 `json:"intent_id"`
	RunID           string                 `json:"run_id"`
	Hash            string                 `json:"hash"`          // digest canónico del intent
	ConfigDigest    string                 `json:"config_digest"` // digest del snapshot usado
	ClientOrderID   string                 `json:"client_order_id"`
	Intent          *domain.Intent         `json:"intent"`
	Quantized       domain.QuantizedFields `json:"quantized"`
	State           JournalState           `json:"state"`
	Attempts        int                    `json:"attempts"` // submissions despachadas
	ExchangeOrderID string                 `json:"exchange_order_id,omitempty"`
	LastError       string                 `json:"last_error,omitempty"`
	CreatedAtMs     int64                  `json:"created_at_ms"`
	UpdatedAtMs     int64                  `json:"updated_at_ms"`
}

// Journal es el WAL de decisiones sobre bbolt. Un append commiteado es
// durable antes de que Append retorne.
type Journal struct {
	db *bolt.DB
}

// OpenJournal abre (o crea) el journal en path.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir journal path: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(journalBucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close cierra la base subyacente.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append escribe una entrada nueva, exactamente una vez por intent_id.
//
// Un segundo Append con el mismo intent_id y el mismo hash retorna
// DUPLICATE_INTENT; con hash distinto retorna JOURNAL_CONFLICT (el mismo
// id no puede describir dos decisiones distintas).
func (j *Journal) Append(entry *JournalEntry) error {
	if entry == nil || entry.IntentID == "" {
		return domain.NewError(domain.ErrInvalidInput, "journal entry requires intent_id")
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(journalBucketName))
		key := []byte(entry.IntentID)
		if existing := b.Get(key); len(existing) > 0 {
			var prev JournalEntry
			if err := json.Unmarshal(existing, &prev); err == nil && prev.Hash != entry.Hash {
				return domain.NewError(domain.ErrJournalConflict, "intent_id already journaled with different hash").
					WithDetail("intent_id", entry.IntentID).
					WithDetail("existing_hash", prev.Hash).
					WithDetail("new_hash", entry.Hash)
			}
			return domain.NewError(domain.ErrDuplicateIntent, "intent already journaled").
				WithDetail("intent_id", entry.IntentID)
		}

		now := utils.NowUnixMilli()
		entry.State = StatePending
		entry.CreatedAtMs = now
		entry.UpdatedAtMs = now

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal journal entry: %w", err)
		}
		return b.Put(key, data)
	})
}

// Get retorna la entrada de un intent, o nil si no existe.
func (j *Journal) Get(intentID string) (*JournalEntry, error) {
	var entry *JournalEntry
	err := j.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(journalBucketName)).Get([]byte(intentID))
		if len(data) == 0 {
			return nil
		}
		var e JournalEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("unmarshal journal entry: %w", err)
		}
		entry = &e
		return nil
	})
	return entry, err
}

// Transition mueve una entrada a un nuevo estado aplicando mutate sobre la
// copia cargada. Rechaza transiciones no permitidas por la tabla.
func (j *Journal) Transition(intentID string, to JournalState, mutate func(*JournalEntry)) (*JournalEntry, error) {
	var updated *JournalEntry
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(journalBucketName))
		key := []byte(intentID)
		data := b.Get(key)
		if len(data) == 0 {
			return domain.NewError(domain.ErrNotFound, "journal entry not found").
				WithDetail("intent_id", intentID)
		}
		var entry JournalEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("unmarshal journal entry: %w", err)
		}
		if !transitionAllowed(entry.State, to) {
			return domain.NewError(domain.ErrJournalConflict, "journal transition not allowed").
				WithDetail("intent_id", intentID).
				WithDetail("from", string(entry.State)).
				WithDetail("to", string(to))
		}
		entry.State = to
		entry.UpdatedAtMs = utils.NowUnixMilli()
		if mutate != nil {
			mutate(&entry)
		}
		out, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal journal entry: %w", err)
		}
		if err := b.Put(key, out); err != nil {
			return err
		}
		updated = &entry
		return nil
	})
	return updated, err
}

// MarkDispatched transiciona a Dispatched incrementando el contador de
// submissions. Se escribe ANTES del Submit: un crash posterior deja la
// entrada en Dispatched y el replay la reconcilia, nunca la re-despacha
// a ciegas.
func (j *Journal) MarkDispatched(intentID string) (*JournalEntry, error) {
	return j.Transition(intentID, StateDispatched, func(e *JournalEntry) {
		e.Attempts++
	})
}

// Resolve escribe el estado terminal (o ProvenAbsent) de una entrada.
func (j *Journal) Resolve(intentID string, to JournalState, exchangeOrderID, lastError string) (*JournalEntry, error) {
	return j.Transition(intentID, to, func(e *JournalEntry) {
		if exchangeOrderID != "" {
			e.ExchangeOrderID = exchangeOrderID
		}
		e.LastError = lastError
	})
}

// ScanPending retorna todas las entradas no terminales, para el replay de
// arranque y el conteo de /status.
func (j *Journal) ScanPending() ([]*JournalEntry, error) {
	var results []*JournalEntry
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(journalBucketName)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) == 0 {
				continue
			}
			var entry JournalEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			if entry.State.Terminal() {
				continue
			}
			results = append(results, &entry)
		}
		return nil
	})
	return results, err
}

// PendingCount retorna el número de entradas no terminales.
func (j *Journal) PendingCount() (int, error) {
	entries, err := j.ScanPending()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
