// Package filestore is the JSON-file storage backend. Each logical store is
// one JSON document rewritten in full on every mutation. All mutations run
// inside one store-wide critical section so read-modify-write sequences
// (token id allocation in particular) never interleave.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/log"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store"
)

const (
	usersFile         = "users.json"
	credentialsFile   = "credentials.json"
	institutionsFile  = "institutions.json"
	verificationsFile = "verifications.json"
)

type usersDoc struct {
	Users    []model.Identity `json:"users"`
	Sessions []model.Session  `json:"sessions"`
}

type credentialsDoc struct {
	Credentials []model.Credential `json:"credentials"`
	NextTokenID int64              `json:"nextTokenId"`
}

type institutionsDoc struct {
	Institutions []model.Institution `json:"institutions"`
}

type verificationsDoc struct {
	Logs []model.VerificationLogEntry `json:"logs"`
}

// Store implements store.Store on top of JSON files in one directory.
type Store struct {
	dir string
	now func() time.Time

	mu            sync.RWMutex
	users         usersDoc
	credentials   credentialsDoc
	institutions  institutionsDoc
	verifications verificationsDoc
}

var _ store.Store = (*Store)(nil)

// Open loads (or initializes) the JSON documents in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Unavailable(err, "create data directory")
	}
	s := &Store{
		dir:         dir,
		now:         func() time.Time { return time.Now().UTC() },
		credentials: credentialsDoc{NextTokenID: 1},
	}
	if err := s.load(usersFile, &s.users); err != nil {
		return nil, err
	}
	if err := s.load(credentialsFile, &s.credentials); err != nil {
		return nil, err
	}
	if s.credentials.NextTokenID < 1 {
		s.credentials.NextTokenID = 1
	}
	if err := s.load(institutionsFile, &s.institutions); err != nil {
		return nil, err
	}
	if err := s.load(verificationsFile, &s.verifications); err != nil {
		return nil, err
	}
	log.Logger("filestore").WithField("dir", dir).Infof("Loaded %d users, %d institutions, %d credentials, %d verification logs",
		len(s.users.Users), len(s.institutions.Institutions), len(s.credentials.Credentials), len(s.verifications.Logs))
	return s, nil
}

// Close implements store.Store. Every mutation is already on disk.
func (s *Store) Close() error {
	return nil
}

// load reads name into v, writing v as the initial document when the file is missing.
func (s *Store) load(name string, v any) error {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s.write(name, v)
	}
	if err != nil {
		return apperr.Unavailable(err, "read "+name)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Unavailable(err, "decode "+name)
	}
	return nil
}

// write replaces name atomically (temp file + rename).
func (s *Store) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperr.Unavailable(err, "encode "+name)
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+"-*")
	if err != nil {
		return apperr.Unavailable(err, "write "+name)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperr.Unavailable(err, "write "+name)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperr.Unavailable(err, "sync "+name)
	}
	if err := tmp.Close(); err != nil {
		return apperr.Unavailable(err, "close "+name)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return apperr.Unavailable(err, fmt.Sprintf("replace %s", name))
	}
	return nil
}

// The mutate helpers run fn on a copy of the document under the write lock,
// persist the copy and only then swap it in, so a failed write leaves the
// in-memory state untouched.

func (s *Store) mutateUsers(fn func(doc *usersDoc) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := usersDoc{
		Users:    append([]model.Identity(nil), s.users.Users...),
		Sessions: append([]model.Session(nil), s.users.Sessions...),
	}
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.write(usersFile, next); err != nil {
		return err
	}
	s.users = next
	return nil
}

func (s *Store) mutateCredentials(fn func(doc *credentialsDoc) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := credentialsDoc{
		Credentials: append([]model.Credential(nil), s.credentials.Credentials...),
		NextTokenID: s.credentials.NextTokenID,
	}
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.write(credentialsFile, next); err != nil {
		return err
	}
	s.credentials = next
	return nil
}

func (s *Store) mutateInstitutions(fn func(doc *institutionsDoc) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := institutionsDoc{
		Institutions: append([]model.Institution(nil), s.institutions.Institutions...),
	}
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.write(institutionsFile, next); err != nil {
		return err
	}
	s.institutions = next
	return nil
}

func (s *Store) appendVerification(entry model.VerificationLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := verificationsDoc{
		Logs: append(append(make([]model.VerificationLogEntry, 0, len(s.verifications.Logs)+1), s.verifications.Logs...), entry),
	}
	if err := s.write(verificationsFile, next); err != nil {
		return err
	}
	s.verifications = next
	return nil
}
