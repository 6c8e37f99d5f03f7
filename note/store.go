package note

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/privacypay/privacypay/log"
)

// storeSchemaVersion guards the on-disk layout. Payloads with a different
// version fall back to an empty collection rather than failing to open.
const storeSchemaVersion = 1

// storeFile is the serialized form of the whole note collection: one JSON
// document per wallet-scoped store, mirroring the single localStorage slot
// the ledger pattern requires.
type storeFile struct {
	Version int             `json:"version"`
	Notes   map[string]Note `json:"notes"`
}

// Store is the durable per-wallet note collection. It is the only shared
// mutable resource in the system; every mutation is a full read-merge-write
// of the persisted collection under the store mutex, so overlapping flows
// (a shield completing while a mailbox drain runs) cannot lose updates.
type Store struct {
	mu   sync.Mutex
	path string
	seq  uint64
	lg   *log.Logger
}

// Open returns a store persisting to the given file path. The file does not
// need to exist yet; a missing, corrupt, or schema-mismatched payload reads
// as an empty collection.
func Open(path string, lg *log.Logger) *Store {
	if lg == nil {
		lg = log.Default()
	}
	return &Store{path: path, lg: lg.Module("notestore")}
}

// load reads the latest persisted collection. Unreadable payloads degrade to
// an empty collection so a damaged file never bricks the wallet; the damage
// is logged, not hidden.
func (s *Store) load() map[string]Note {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.lg.Warn("note store unreadable, starting empty", "path", s.path, "err", err)
		}
		return make(map[string]Note)
	}
	var f storeFile
	if err := json.Unmarshal(raw, &f); err != nil {
		s.lg.Warn("note store corrupt, starting empty", "path", s.path, "err", err)
		return make(map[string]Note)
	}
	if f.Version != storeSchemaVersion {
		s.lg.Warn("note store schema mismatch, starting empty", "path", s.path, "version", f.Version)
		return make(map[string]Note)
	}
	if f.Notes == nil {
		return make(map[string]Note)
	}
	return f.Notes
}

// persist writes the collection atomically: temp file in the same directory,
// fsync-free rename over the target.
func (s *Store) persist(notes map[string]Note) error {
	raw, err := json.Marshal(storeFile{Version: storeSchemaVersion, Notes: notes})
	if err != nil {
		return fmt.Errorf("note: encoding store: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".notes-*.tmp")
	if err != nil {
		return fmt.Errorf("note: creating temp store file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("note: writing store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("note: closing store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("note: replacing store: %w", err)
	}
	return nil
}

// newID assigns a fresh, never-reused local identifier. The nullifier prefix
// keeps IDs recognizable in logs; the sequence number disambiguates notes
// created within the same millisecond. Must be called with s.mu held.
func (s *Store) newID(n Note) string {
	s.seq++
	return fmt.Sprintf("%s-%d-%d", hex.EncodeToString(n.Nullifier[:4]), time.Now().UnixMilli(), s.seq)
}

// Insert adds a note under a fresh identifier and returns it.
func (s *Store) Insert(n Note) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	notes := s.load()
	id := s.newID(n)
	notes[id] = n
	if err := s.persist(notes); err != nil {
		return "", err
	}
	return id, nil
}

// InsertBatch adds several notes in a single read-merge-write, returning the
// assigned identifiers in input order. Used by mailbox drains so a batch of
// received notes lands atomically.
func (s *Store) InsertBatch(ns []Note) ([]string, error) {
	if len(ns) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	notes := s.load()
	ids := make([]string, 0, len(ns))
	for _, n := range ns {
		id := s.newID(n)
		notes[id] = n
		ids = append(ids, id)
	}
	if err := s.persist(notes); err != nil {
		return nil, err
	}
	return ids, nil
}

// Get returns the note stored under id.
func (s *Store) Get(id string) (Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.load()[id]
	if !ok {
		return Note{}, ErrNoteNotFound
	}
	return n, nil
}

// MarkSpent flips the note's spent flag. Unknown ids fail with
// ErrNoteNotFound; marking an already-spent note is a no-op, so the call is
// idempotent. The flag never reverts to false.
func (s *Store) MarkSpent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	notes := s.load()
	n, ok := notes[id]
	if !ok {
		return ErrNoteNotFound
	}
	if n.Spent {
		return nil
	}
	n.Spent = true
	notes[id] = n
	return s.persist(notes)
}

// SpendAndInsert marks the funding note spent and, when change is non-nil,
// inserts the change note in one read-merge-write, so no interleaving flow
// can observe the spend without its change. Returns the change note's id,
// or "" when there is none.
func (s *Store) SpendAndInsert(spendID string, change *Note) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	notes := s.load()
	n, ok := notes[spendID]
	if !ok {
		return "", ErrNoteNotFound
	}
	n.Spent = true
	notes[spendID] = n

	changeID := ""
	if change != nil {
		changeID = s.newID(*change)
		notes[changeID] = *change
	}
	if err := s.persist(notes); err != nil {
		return "", err
	}
	return changeID, nil
}

// Unspent returns the unspent notes matching the filter, ordered by creation
// time then id so selection policies are reproducible.
func (s *Store) Unspent(f Filter) []StoredNote {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []StoredNote
	for id, n := range s.load() {
		if !n.Spent && f.matches(n) {
			out = append(out, StoredNote{ID: id, Note: n})
		}
	}
	sortNotes(out)
	return out
}

// All returns every stored note, spent or not, ordered by creation time.
// History reconciliation needs spent notes to classify outgoing transfers.
func (s *Store) All() []StoredNote {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []StoredNote
	for id, n := range s.load() {
		out = append(out, StoredNote{ID: id, Note: n})
	}
	sortNotes(out)
	return out
}

// SumUnspent returns the private balance for the filter: the sum of all
// unspent note amounts. Notes whose stored amount does not parse are skipped
// with a warning rather than poisoning the total.
func (s *Store) SumUnspent(f Filter) *uint256.Int {
	sum := new(uint256.Int)
	for _, sn := range s.Unspent(f) {
		v, err := ParseAmount(sn.Amount)
		if err != nil {
			s.lg.Warn("skipping note with unparseable amount", "id", sn.ID, "amount", sn.Amount)
			continue
		}
		sum.Add(sum, v)
	}
	return sum
}

func sortNotes(ns []StoredNote) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Timestamp != ns[j].Timestamp {
			return ns[i].Timestamp < ns[j].Timestamp
		}
		return ns[i].ID < ns[j].ID
	})
}
