// Package repository provides the ledger's persistence backends.
package repository

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mines-wager-bot/internal/model"
)

// FileStore keeps the whole ledger in one JSON document. Every commit rewrites
// the document through a temp file and an atomic rename, so a crash leaves
// either the old or the new snapshot on disk. Journal lines go to a sibling
// append-only file.
type FileStore struct {
	path        string
	journalPath string

	mu     sync.Mutex
	doc    *model.Snapshot
	nextTx int64
	now    func() time.Time
}

// NewFileStore creates a store backed by the document at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:        path,
		journalPath: path + ".journal",
		now:         time.Now,
	}
}

// Load reads and migrates the snapshot. A missing file yields an empty ledger.
func (s *FileStore) Load(ctx context.Context) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := model.NewSnapshot()
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info().Str("path", s.path).Msg("No ledger snapshot found, starting empty")
	case err != nil:
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	default:
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
	}

	from := doc.Version
	doc.Migrate(s.now())
	if from != doc.Version {
		log.Info().Int("from", from).Int("to", doc.Version).Msg("Migrated ledger snapshot")
	}

	s.doc = doc
	s.nextTx = s.lastJournalID() + 1

	return cloneSnapshot(doc), nil
}

// Commit replaces the given accounts in the document and writes it out.
// On failure the document is left exactly as it was before the call.
func (s *FileStore) Commit(ctx context.Context, accounts []*model.Account, journal []model.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil {
		s.doc = model.NewSnapshot()
	}

	prev := make(map[string]*model.Account, len(accounts))
	for _, acc := range accounts {
		key := accountKey(acc.ID)
		if _, seen := prev[key]; !seen {
			prev[key] = s.doc.Accounts[key]
		}
		s.doc.Accounts[key] = acc.Clone()
	}

	if err := s.writeLocked(); err != nil {
		for key, old := range prev {
			if old == nil {
				delete(s.doc.Accounts, key)
			} else {
				s.doc.Accounts[key] = old
			}
		}
		return err
	}

	s.appendJournalLocked(journal)
	return nil
}

// AddChat records a chat for broadcasts. Known chats are a no-op.
func (s *FileStore) AddChat(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil {
		s.doc = model.NewSnapshot()
	}
	if slices.Contains(s.doc.Chats, chatID) {
		return nil
	}

	s.doc.Chats = append(s.doc.Chats, chatID)
	if err := s.writeLocked(); err != nil {
		s.doc.Chats = s.doc.Chats[:len(s.doc.Chats)-1]
		return err
	}
	return nil
}

// History returns the newest journal lines for an account, newest first.
func (s *FileStore) History(ctx context.Context, accountID int64, limit int) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.journalPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	var out []model.Transaction
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var tx model.Transaction
		if err := json.Unmarshal(sc.Bytes(), &tx); err != nil {
			continue
		}
		if tx.AccountID == accountID {
			out = append(out, tx)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FileStore) writeLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// appendJournalLocked is best effort: the snapshot is the source of truth.
func (s *FileStore) appendJournalLocked(journal []model.Transaction) {
	if len(journal) == 0 {
		return
	}

	f, err := os.OpenFile(s.journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to open ledger journal")
		return
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, tx := range journal {
		tx.ID = s.nextTx
		s.nextTx++
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = s.now()
		}
		line, err := json.Marshal(tx)
		if err != nil {
			continue
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		log.Warn().Err(err).Msg("Failed to append ledger journal")
	}
}

func (s *FileStore) lastJournalID() int64 {
	f, err := os.Open(s.journalPath)
	if err != nil {
		return 0
	}
	defer f.Close()

	var last int64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var tx model.Transaction
		if json.Unmarshal(sc.Bytes(), &tx) == nil && tx.ID > last {
			last = tx.ID
		}
	}
	return last
}

func accountKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func cloneSnapshot(doc *model.Snapshot) *model.Snapshot {
	out := &model.Snapshot{
		Version:  doc.Version,
		Accounts: make(map[string]*model.Account, len(doc.Accounts)),
		Chats:    slices.Clone(doc.Chats),
	}
	for k, acc := range doc.Accounts {
		if acc != nil {
			out.Accounts[k] = acc.Clone()
		}
	}
	return out
}
