package sessions

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/mozi/pkg/models"
)

// ErrSessionNotFound is returned by Update/RotateSegment/RevertToPreviousSegment
// when sessionKey names no known session.
var ErrSessionNotFound = errors.New("sessions: session not found")

// ErrNoPreviousSegment is returned by RevertToPreviousSegment when the
// latest segment has no prevSessionId.
var ErrNoPreviousSegment = errors.New("sessions: latest segment has no previous segment")

// Store is the session store: keyed session state persisted
// via a manifest file plus per-segment JSONL transcript files under
// {sessionsDir}/{agentId}/{sessionId}.jsonl.
type Store struct {
	mu          sync.Mutex
	sessionsDir string
	sessions    map[string]*models.Session // keyed by sessionKey
}

// NewStore opens (creating if absent) a Session Store rooted at
// sessionsDir, loading the manifest and every session's latest-segment
// transcript into memory.
func NewStore(sessionsDir string) (*Store, error) {
	if sessionsDir == "" {
		return nil, fmt.Errorf("sessions: sessionsDir is required")
	}
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{sessionsDir: sessionsDir, sessions: map[string]*models.Session{}}
	if err := s.loadManifest(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) manifestPath() string {
	return filepath.Join(s.sessionsDir, "sessions.json")
}

func (s *Store) segmentPath(agentID, segmentID string) string {
	return filepath.Join(s.sessionsDir, agentID, segmentID+".jsonl")
}

// loadManifest reads sessions.json (if present) and hydrates each
// session's in-memory Context from its latest segment's transcript file.
func (s *Store) loadManifest() error {
	data, err := os.ReadFile(s.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var manifest map[string]*models.Session
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("sessions: corrupt manifest: %w", err)
	}
	for key, sess := range manifest {
		if sess.LatestSessionID != "" {
			_, messages, err := readSegmentFile(s.segmentPath(sess.AgentID, sess.LatestSessionID))
			if err == nil {
				sess.Context = messages
			}
		}
		s.sessions[key] = sess
	}
	return nil
}

// persistManifestLocked writes the manifest atomically. Callers must hold s.mu.
func (s *Store) persistManifestLocked() error {
	snapshot := make(map[string]*models.Session, len(s.sessions))
	for k, v := range s.sessions {
		snapshot[k] = v
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.manifestPath(), payload)
}

// Get returns the in-memory session for sessionKey, if loaded. It never
// touches disk.
func (s *Store) Get(sessionKey string) (*models.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionKey]
	if !ok {
		return nil, false
	}
	return cloneSession(sess), true
}

// GetOrCreate returns the existing session for sessionKey, or allocates a
// fresh segment and session record if absent.
func (s *Store) GetOrCreate(sessionKey, agentID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionKey]; ok {
		return cloneSession(sess), nil
	}

	now := time.Now().UTC()
	segmentID := uuid.NewString()
	header := models.SegmentHeader{
		Type:       "session",
		SessionID:  segmentID,
		SessionKey: sessionKey,
		AgentID:    agentID,
		CreatedAt:  now,
	}
	if err := writeSegmentFile(s.segmentPath(agentID, segmentID), header, nil); err != nil {
		return nil, err
	}

	sess := &models.Session{
		SessionKey:      sessionKey,
		AgentID:         agentID,
		CreatedAt:       now,
		UpdatedAt:       now,
		LatestSessionID: segmentID,
		Context:         nil,
	}
	s.sessions[sessionKey] = sess
	if err := s.persistManifestLocked(); err != nil {
		return nil, err
	}
	return cloneSession(sess), nil
}

// Changes is the mutable subset of a Session that Update may apply.
// CurrentModel and Metadata are pointers/maps so a nil value means "leave
// unchanged"; Context, when non-nil, triggers a rewrite of the latest
// segment file.
type Changes struct {
	CurrentModel *string
	Metadata     map[string]any
	Context      []*models.Message
}

// Update merges changes into the cached session state:
// if Context is set, the latest segment file is rewritten as
// [header, ...messages]; archived segments may never be overwritten.
// updatedAt is always stamped.
func (s *Store) Update(sessionKey string, changes Changes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionKey]
	if !ok {
		return ErrSessionNotFound
	}

	if changes.CurrentModel != nil {
		sess.CurrentModel = *changes.CurrentModel
	}
	if changes.Metadata != nil {
		if sess.Metadata == nil {
			sess.Metadata = map[string]any{}
		}
		for k, v := range changes.Metadata {
			sess.Metadata[k] = v
		}
	}

	now := time.Now().UTC()

	if changes.Context != nil {
		path := s.segmentPath(sess.AgentID, sess.LatestSessionID)
		header, _, err := readSegmentFile(path)
		if err != nil {
			return err
		}
		if header.Archived {
			return fmt.Errorf("sessions: latest segment %s is archived and immutable", sess.LatestSessionID)
		}
		header.UpdatedAt = &now
		if err := writeSegmentFile(path, header, changes.Context); err != nil {
			return err
		}
		sess.Context = changes.Context
	}

	sess.UpdatedAt = now
	return s.persistManifestLocked()
}

// RotateSegment archives the current latest segment and starts a fresh
// one, linking prev and next segment ids.
func (s *Store) RotateSegment(sessionKey, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionKey]
	if !ok {
		return ErrSessionNotFound
	}

	now := time.Now().UTC()
	oldID := sess.LatestSessionID
	oldPath := s.segmentPath(agentID, oldID)
	oldHeader, oldMessages, err := readSegmentFile(oldPath)
	if err != nil {
		return err
	}

	newID := uuid.NewString()
	oldHeader.Archived = true
	oldHeader.UpdatedAt = &now
	oldHeader.NextSessionID = newID
	if err := writeSegmentFile(oldPath, oldHeader, oldMessages); err != nil {
		return err
	}

	newHeader := models.SegmentHeader{
		Type:          "session",
		SessionID:     newID,
		SessionKey:    sessionKey,
		AgentID:       agentID,
		CreatedAt:     now,
		PrevSessionID: oldID,
		Model:         sess.CurrentModel,
	}
	if err := writeSegmentFile(s.segmentPath(agentID, newID), newHeader, nil); err != nil {
		return err
	}

	sess.HistorySessionIDs = append(sess.HistorySessionIDs, oldID)
	sess.LatestSessionID = newID
	sess.Context = nil
	sess.UpdatedAt = now
	return s.persistManifestLocked()
}

// RevertToPreviousSegment undoes the most recent rotation: it concatenates
// the previous segment's messages with the current latest's into the
// previous segment's file, archives the (now superseded) latest, and
// makes the previous segment the latest again.
func (s *Store) RevertToPreviousSegment(sessionKey, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionKey]
	if !ok {
		return ErrSessionNotFound
	}

	latestID := sess.LatestSessionID
	latestPath := s.segmentPath(agentID, latestID)
	latestHeader, latestMessages, err := readSegmentFile(latestPath)
	if err != nil {
		return err
	}
	if latestHeader.PrevSessionID == "" {
		return ErrNoPreviousSegment
	}
	prevID := latestHeader.PrevSessionID
	prevPath := s.segmentPath(agentID, prevID)
	prevHeader, prevMessages, err := readSegmentFile(prevPath)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	combined := append(append([]*models.Message{}, prevMessages...), latestMessages...)

	prevHeader.Archived = false
	prevHeader.NextSessionID = ""
	prevHeader.UpdatedAt = &now
	if err := writeSegmentFile(prevPath, prevHeader, combined); err != nil {
		return err
	}

	latestHeader.Archived = true
	latestHeader.UpdatedAt = &now
	if err := writeSegmentFile(latestPath, latestHeader, latestMessages); err != nil {
		return err
	}

	sess.HistorySessionIDs = append(removeString(sess.HistorySessionIDs, prevID), latestID)
	sess.LatestSessionID = prevID
	sess.Context = combined
	sess.UpdatedAt = now
	return s.persistManifestLocked()
}

func removeString(items []string, target string) []string {
	out := make([]string, 0, len(items))
	for _, v := range items {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

// writeSegmentFile writes a segment as newline-delimited JSON: the header
// line, then one TranscriptLine per message.
func writeSegmentFile(path string, header models.SegmentHeader, messages []*models.Message) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf []byte
	headerLine, err := json.Marshal(header)
	if err != nil {
		return err
	}
	buf = append(buf, headerLine...)
	buf = append(buf, '\n')
	for _, msg := range messages {
		line, err := json.Marshal(models.TranscriptLine{Type: "message", Message: msg})
		if err != nil {
			return err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return writeFileAtomic(path, buf)
}

// readSegmentFile parses a segment's header and messages back out of its
// JSONL file.
func readSegmentFile(path string) (models.SegmentHeader, []*models.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.SegmentHeader{}, nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var header models.SegmentHeader
	var messages []*models.Message
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			if err := json.Unmarshal(line, &header); err != nil {
				return models.SegmentHeader{}, nil, fmt.Errorf("sessions: corrupt segment header in %s: %w", path, err)
			}
			first = false
			continue
		}
		var tl models.TranscriptLine
		if err := json.Unmarshal(line, &tl); err != nil {
			return models.SegmentHeader{}, nil, fmt.Errorf("sessions: corrupt transcript line in %s: %w", path, err)
		}
		if tl.Message != nil {
			messages = append(messages, tl.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return models.SegmentHeader{}, nil, err
	}
	return header, messages, nil
}

// writeFileAtomic writes data to path via a temp file and rename, so a
// reader never observes a partially-written segment or manifest.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// cloneSession returns a shallow copy of sess safe for callers to mutate
// without affecting the store's cached state, deep-copying the slices and
// maps a caller is likely to mutate.
func cloneSession(sess *models.Session) *models.Session {
	if sess == nil {
		return nil
	}
	clone := *sess
	clone.HistorySessionIDs = append([]string(nil), sess.HistorySessionIDs...)
	if sess.Metadata != nil {
		clone.Metadata = make(map[string]any, len(sess.Metadata))
		for k, v := range sess.Metadata {
			clone.Metadata[k] = v
		}
	}
	clone.Context = append([]*models.Message(nil), sess.Context...)
	return &clone
}
