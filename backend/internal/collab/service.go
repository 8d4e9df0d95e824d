package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"syncServer/backend/internal/ot"
)

var (
	ErrDocumentNotFound      = errors.New("DOCUMENT_NOT_FOUND")
	ErrRevisionAhead         = errors.New("REVISION_AHEAD")
	ErrUnresolvedConflict    = errors.New("UNRESOLVED_CONFLICT")
	ErrDuplicateOrOutOfOrder = errors.New("DUPLICATE_OR_OUT_OF_ORDER")
)

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	// HistoryWindow bounds the in-memory transform context per document.
	HistoryWindow int
	// FlushInterval is the periodic-sync tick draining pending queues.
	FlushInterval time.Duration
	// MaxRetry caps resubmission attempts for a pending operation
	// before it is dropped with a warning.
	MaxRetry int
	// Strategy resolves conflicts the transform rules cannot.
	Strategy ot.Strategy
}

func (o Options) withDefaults() Options {
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 1000
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.MaxRetry <= 0 {
		o.MaxRetry = 3
	}
	return o
}

// Applied reports the outcome of a successful submission.
type Applied struct {
	Operation ot.Operation
	Version   uint64
	Conflict  bool
	// Superseded is set when a resolution strategy decided an already
	// committed operation wins and the incoming one was dropped.
	Superseded bool
	AppliedAt  time.Time
}

// Snapshot is the result of GetSnapshot: materialized content at a
// version plus the checksum recomputed from it.
type Snapshot struct {
	Content  any    `json:"content"`
	Version  uint64 `json:"version"`
	Checksum string `json:"checksum"`
}

// Service is the synchronization engine. One explicitly constructed
// instance owns the document-state table; submissions for a given
// document are serialized on its per-document mutex while different
// documents proceed in parallel.
type Service struct {
	mu       sync.RWMutex
	docs     map[string]*docState
	sessions map[string]*syncSession

	store      OperationLog
	broadcast  Broadcaster
	dispatcher *Dispatcher
	onEvent    func(Event)

	log  zerolog.Logger
	opts Options

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewService wires the engine to its collaborators. dispatcher may be
// nil when no Kafka fan-out is configured.
func NewService(store OperationLog, broadcast Broadcaster, dispatcher *Dispatcher, logger zerolog.Logger, opts Options) *Service {
	return &Service{
		docs:       make(map[string]*docState),
		sessions:   make(map[string]*syncSession),
		store:      store,
		broadcast:  broadcast,
		dispatcher: dispatcher,
		log:        logger,
		opts:       opts.withDefaults(),
		done:       make(chan struct{}),
	}
}

// OnEvent installs the local event hook (operation-applied,
// operation-failed, optimistic-update, conflict-pending). Set before
// Start.
func (s *Service) OnEvent(fn func(Event)) { s.onEvent = fn }

// Start launches the periodic-sync flusher.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.flushLoop()
}

// Close stops background work. Document state stays persisted.
func (s *Service) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}

func (s *Service) emit(evt Event) {
	if s.onEvent != nil {
		s.onEvent(evt)
	}
}

// getOrLoadDoc returns the in-memory state for docID, loading it from
// the persistence layer (snapshot row + recent log for the transform
// window) or creating it fresh on first access.
func (s *Service) getOrLoadDoc(ctx context.Context, docID string, docType ot.DocumentType) (*docState, error) {
	s.mu.RLock()
	ds := s.docs[docID]
	s.mu.RUnlock()
	if ds != nil {
		return ds, nil
	}

	row, err := s.store.LoadState(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", docID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ds = s.docs[docID]; ds != nil {
		return ds, nil
	}

	if row != nil {
		docType = row.DocumentType
	}
	ds = newDocState(docID, docType)
	if row != nil {
		ds.version = row.Version
		if row.Content != nil {
			ds.content = row.Content
		}
		ds.checksum = row.Checksum
		ds.lastModified = row.UpdatedAt
		if ds.crdt != nil {
			if text, ok := row.Content.(string); ok {
				ds.crdt.Insert(0, text)
			}
		}
		window, err := s.store.RecentOperations(ctx, docID, s.opts.HistoryWindow)
		if err != nil {
			return nil, fmt.Errorf("load recent operations %s: %w", docID, err)
		}
		ds.window = window
	}
	s.docs[docID] = ds
	return ds, nil
}

// lookupDoc returns a loaded document or ErrDocumentNotFound, never
// creating one.
func (s *Service) lookupDoc(ctx context.Context, docID string) (*docState, error) {
	s.mu.RLock()
	ds := s.docs[docID]
	s.mu.RUnlock()
	if ds != nil {
		return ds, nil
	}
	row, err := s.store.LoadState(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", docID, err)
	}
	if row == nil {
		return nil, ErrDocumentNotFound
	}
	return s.getOrLoadDoc(ctx, docID, row.DocumentType)
}

func (s *Service) sessionFor(userID, docID string) *syncSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionKey(userID, docID)]
}

// ApplyFromClient guards against duplicate or out-of-order submissions
// from one client instance before running the apply pipeline. Client
// sequence numbers must be strictly increasing per clientID.
func (s *Service) ApplyFromClient(ctx context.Context, op ot.Operation, clientID string, clientSeq uint64) (Applied, error) {
	ds, err := s.getOrLoadDoc(ctx, op.DocumentID, op.DocumentType)
	if err != nil {
		return Applied{}, err
	}
	ds.mu.Lock()
	if last := ds.lastSeqByClient[clientID]; clientSeq <= last {
		ds.mu.Unlock()
		return Applied{}, ErrDuplicateOrOutOfOrder
	}
	ds.lastSeqByClient[clientID] = clientSeq
	ds.mu.Unlock()
	return s.ApplyOperation(ctx, op)
}

// ApplyOperation runs the full pipeline: transform against concurrent
// history, mutate (CRDT-backed for text/code), bump version, persist
// state+log transactionally, broadcast to every subscriber except the
// author. Any failure after mutation rolls the document back via the
// inverse operation before the error is returned.
func (s *Service) ApplyOperation(ctx context.Context, op ot.Operation) (Applied, error) {
	ds, err := s.getOrLoadDoc(ctx, op.DocumentID, op.DocumentType)
	if err != nil {
		return Applied{}, err
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if op.ParentVersion > ds.version {
		return Applied{}, fmt.Errorf("operation %s parent %d ahead of version %d: %w",
			op.ID, op.ParentVersion, ds.version, ErrRevisionAhead)
	}

	incoming := op
	conflicted := false
	if op.ParentVersion < ds.version {
		var superseded bool
		incoming, conflicted, superseded, err = s.transformIncoming(op, ds)
		if err != nil {
			return Applied{}, err
		}
		if superseded {
			return Applied{Operation: op, Version: ds.version, Conflict: true, Superseded: true}, nil
		}
	}

	sess := s.sessionFor(op.UserID, op.DocumentID)
	if sess != nil && (sess.mode == Optimistic || sess.mode == Eventual) {
		sess.enqueue(op)
	}
	if sess != nil && sess.mode == Optimistic {
		s.emit(newEvent(EventOptimisticUpdate, OperationEventData{Operation: incoming, Version: ds.version}))
	}

	prevVersion := ds.version
	prevChecksum := ds.checksum
	prevModified := ds.lastModified

	previous, err := s.mutate(ds, incoming)
	if err != nil {
		s.emit(newEvent(EventOperationFailed, OperationEventData{Operation: incoming, Version: ds.version}))
		return Applied{}, fmt.Errorf("apply operation %s: %w", incoming.ID, err)
	}

	now := time.Now()
	ds.version++
	ds.lastModified = now
	evicted, hadEvicted := ds.appendWindow(incoming, s.opts.HistoryWindow)
	ds.checksum = checksumOf(ds.content)

	row := SnapshotRow{
		DocumentID:   ds.id,
		DocumentType: ds.docType,
		Version:      ds.version,
		Content:      ds.content,
		Checksum:     ds.checksum,
		UpdatedAt:    now,
	}
	if err := s.store.SaveApplied(ctx, row, incoming, ds.version); err != nil {
		s.rollback(ds, incoming, previous, prevVersion, prevChecksum, prevModified, evicted, hadEvicted)
		s.emit(newEvent(EventOperationFailed, OperationEventData{Operation: incoming, Version: ds.version}))
		return Applied{}, fmt.Errorf("persist operation %s: %w", incoming.ID, err)
	}

	evt := newEvent(EventSyncOperation, OperationEventData{Operation: incoming, Version: ds.version})
	for uid := range ds.subscribers {
		if uid == op.UserID {
			continue
		}
		if err := s.broadcast.SendToUser(ctx, uid, evt); err != nil {
			s.log.Warn().Err(err).Str("doc", ds.id).Str("user", uid).Msg("broadcast failed")
		}
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Enqueue(ctx, SyncEvent{
			EventType:  EventSyncOperation,
			DocID:      ds.id,
			OpID:       incoming.ID,
			Version:    ds.version,
			UserID:     incoming.UserID,
			Operation:  incoming,
			Checksum:   ds.checksum,
			OccurredAt: now,
		}); err != nil {
			s.log.Warn().Err(err).Str("doc", ds.id).Msg("kafka enqueue failed")
		}
	}

	if sess != nil {
		sess.ack(op.ID)
	}
	s.emit(newEvent(EventOperationApplied, OperationEventData{Operation: incoming, Version: ds.version}))

	return Applied{Operation: incoming, Version: ds.version, Conflict: conflicted, AppliedAt: now}, nil
}

// transformIncoming folds op through the committed operations concurrent
// with it. Steps the transform rules settle on their own (tie-breaks,
// boundary shifts) keep the adjusted operation; only unresolved steps go
// through the configured strategy, and Manual escalates instead of
// deciding. Caller holds ds.mu.
func (s *Service) transformIncoming(op ot.Operation, ds *docState) (out ot.Operation, conflicted, superseded bool, err error) {
	out = op
	for _, h := range ds.concurrentSince(op.ParentVersion) {
		r := ot.Transform(out, h)
		if r.Conflict {
			conflicted = true
		}
		if !r.Unresolved {
			out = r.Op1
			continue
		}
		winner, resolved := ot.Resolve(s.opts.Strategy, r.Op1, h)
		if !resolved {
			s.emit(newEvent(EventConflictPending, OperationEventData{Operation: out, Version: ds.version}))
			return op, true, false, fmt.Errorf("operation %s vs committed %s: %w", op.ID, h.ID, ErrUnresolvedConflict)
		}
		if winner.ID == h.ID {
			// The committed side wins outright; nothing left to apply.
			s.log.Debug().Str("doc", ds.id).Str("op", op.ID).Str("winner", h.ID).Msg("incoming operation superseded")
			return op, true, true, nil
		}
		out = winner
	}
	return out, conflicted, false, nil
}

// mutate applies the causally positioned operation to the content,
// through the CRDT handle for text/code documents and by direct
// structural mutation otherwise. Returns the pre-image for rollback.
// Caller holds ds.mu.
func (s *Service) mutate(ds *docState, op ot.Operation) (previous any, err error) {
	if ds.crdt != nil {
		switch op.Type {
		case ot.OpInsert:
			ds.crdt.Insert(op.Position, op.Text())
		case ot.OpDelete:
			r := []rune(ds.crdt.String())
			p := clamp(op.Position, len(r))
			end := clamp(p+op.Length, len(r))
			previous = string(r[p:end])
			ds.crdt.Delete(op.Position, op.Length)
		case ot.OpUpdate:
			// Full-content replacement goes through the replica too, so
			// a later Insert/Delete never resurrects pre-update text.
			old := ds.crdt.String()
			previous = old
			ds.crdt.Delete(0, len([]rune(old)))
			ds.crdt.Insert(0, op.Text())
		case ot.OpFormat:
			ds.crdt.Format(op.Position, op.Length, op.Attributes)
			previous = map[string]any{}
		default:
			next, prev, aerr := applyToContent(ds.content, op)
			if aerr != nil {
				return nil, aerr
			}
			ds.content = next
			return prev, nil
		}
		ds.content = ds.crdt.String()
		return previous, nil
	}

	next, prev, err := applyToContent(ds.content, op)
	if err != nil {
		return nil, err
	}
	ds.content = next
	return prev, nil
}

// rollback undoes a mutated-but-unpersisted operation by synthesizing
// and applying its inverse, then restoring the version, checksum and
// window to their pre-operation values, including the entry the append
// evicted when the window was at capacity. Caller holds ds.mu.
func (s *Service) rollback(ds *docState, op ot.Operation, previous any, prevVersion uint64, prevChecksum string, prevModified time.Time, evicted ot.Operation, hadEvicted bool) {
	inv, err := ot.Inverse(op, previous)
	if err == nil {
		if ds.crdt != nil {
			switch inv.Type {
			case ot.OpInsert:
				ds.crdt.Insert(inv.Position, inv.Text())
			case ot.OpDelete:
				ds.crdt.Delete(inv.Position, inv.Length)
			case ot.OpUpdate:
				cur := ds.crdt.String()
				ds.crdt.Delete(0, len([]rune(cur)))
				ds.crdt.Insert(0, inv.Text())
			case ot.OpFormat:
				ds.crdt.Format(inv.Position, inv.Length, inv.Attributes)
			}
			ds.content = ds.crdt.String()
		} else {
			next, _, aerr := applyToContent(ds.content, inv)
			if aerr != nil {
				err = aerr
			} else {
				ds.content = next
			}
		}
	}
	if err != nil {
		s.log.Error().Err(err).Str("doc", ds.id).Str("op", op.ID).Msg("inverse rollback failed")
	}

	ds.version = prevVersion
	ds.checksum = prevChecksum
	ds.lastModified = prevModified
	if n := len(ds.window); n > 0 && ds.window[n-1].ID == op.ID {
		ds.window = ds.window[:n-1]
	}
	if hadEvicted {
		ds.window = append([]ot.Operation{evicted}, ds.window...)
	}
}

// GetDocument returns the live view of a known document.
func (s *Service) GetDocument(ctx context.Context, docID string) (Document, error) {
	ds, err := s.lookupDoc(ctx, docID)
	if err != nil {
		return Document{}, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.snapshotView(), nil
}

// Subscribe registers a user for broadcasts on a document, creating the
// document on first access and an editing session in the given mode.
func (s *Service) Subscribe(ctx context.Context, docID string, docType ot.DocumentType, userID string, mode SyncMode) (Document, error) {
	ds, err := s.getOrLoadDoc(ctx, docID, docType)
	if err != nil {
		return Document{}, err
	}
	ds.mu.Lock()
	ds.subscribers[userID] = struct{}{}
	view := ds.snapshotView()
	ds.mu.Unlock()

	s.mu.Lock()
	key := sessionKey(userID, docID)
	if _, ok := s.sessions[key]; !ok {
		s.sessions[key] = newSyncSession(userID, docID, mode)
	}
	s.mu.Unlock()
	return view, nil
}

// Unsubscribe removes the user's subscription and session. A document
// with no subscribers left is evicted from memory; the persisted state
// remains the source of truth for the next load.
func (s *Service) Unsubscribe(ctx context.Context, docID, userID string) {
	s.mu.Lock()
	delete(s.sessions, sessionKey(userID, docID))
	ds := s.docs[docID]
	s.mu.Unlock()
	if ds == nil {
		return
	}

	ds.mu.Lock()
	delete(ds.subscribers, userID)
	ds.unlock(userID)
	empty := len(ds.subscribers) == 0
	ds.mu.Unlock()

	if empty {
		s.mu.Lock()
		if cur := s.docs[docID]; cur == ds {
			delete(s.docs, docID)
		}
		s.mu.Unlock()
		s.log.Debug().Str("doc", docID).Msg("document evicted")
	}
}

// LockRange requests an advisory reservation over [start,end]. A false
// return is a normal denial, not an error. A grant is broadcast as a
// lock-update to the other subscribers.
func (s *Service) LockRange(ctx context.Context, docID, userID string, start, end int, exclusive bool) (bool, error) {
	ds, err := s.lookupDoc(ctx, docID)
	if err != nil {
		return false, err
	}
	ds.mu.Lock()
	granted := ds.tryLock(userID, start, end, exclusive, time.Now())
	data := LockEventData{DocumentID: docID, UserID: userID, Granted: granted, Locks: ds.activeLocks()}
	subs := subscriberList(ds, userID)
	ds.mu.Unlock()

	if granted {
		s.broadcastLock(ctx, subs, data)
	}
	return granted, nil
}

// UnlockRange releases the user's reservation unconditionally and
// broadcasts the new lock table.
func (s *Service) UnlockRange(ctx context.Context, docID, userID string) error {
	ds, err := s.lookupDoc(ctx, docID)
	if err != nil {
		return err
	}
	ds.mu.Lock()
	released := ds.unlock(userID)
	data := LockEventData{DocumentID: docID, UserID: userID, Released: released, Locks: ds.activeLocks()}
	subs := subscriberList(ds, userID)
	ds.mu.Unlock()

	s.broadcastLock(ctx, subs, data)
	return nil
}

func subscriberList(ds *docState, except string) []string {
	out := make([]string, 0, len(ds.subscribers))
	for uid := range ds.subscribers {
		if uid != except {
			out = append(out, uid)
		}
	}
	return out
}

func (s *Service) broadcastLock(ctx context.Context, subs []string, data LockEventData) {
	evt := newEvent(EventLockUpdate, data)
	for _, uid := range subs {
		if err := s.broadcast.SendToUser(ctx, uid, evt); err != nil {
			s.log.Warn().Err(err).Str("doc", data.DocumentID).Str("user", uid).Msg("lock broadcast failed")
		}
	}
	s.emit(evt)
}

// GetSnapshot returns the document at a historical version by replaying
// the persisted log from empty initial content, or the live state when
// version is zero or current. Replay always uses direct structural
// application, never the CRDT path, so reconstruction stays
// deterministic and auditable.
func (s *Service) GetSnapshot(ctx context.Context, docID string, version uint64) (Snapshot, error) {
	ds, err := s.lookupDoc(ctx, docID)
	if err != nil {
		return Snapshot{}, err
	}

	ds.mu.Lock()
	current := ds.version
	docType := ds.docType
	if version == 0 || version == current {
		snap := Snapshot{Content: cloneContent(ds.content), Version: current, Checksum: ds.checksum}
		ds.mu.Unlock()
		return snap, nil
	}
	ds.mu.Unlock()

	if version > current {
		return Snapshot{}, fmt.Errorf("snapshot %s@%d past version %d: %w", docID, version, current, ErrRevisionAhead)
	}

	ops, err := s.store.OperationsUpTo(ctx, docID, version)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load operations %s@%d: %w", docID, version, err)
	}
	content := emptyContent(docType)
	for _, op := range ops {
		content, _, err = applyToContent(content, op)
		if err != nil {
			return Snapshot{}, fmt.Errorf("replay %s@%d op %s: %w", docID, version, op.ID, err)
		}
	}
	return Snapshot{Content: content, Version: version, Checksum: checksumOf(content)}, nil
}

// CompressOperations merges adjacent same-user, same-type operations
// before serialization. Purely a wire optimization.
func (s *Service) CompressOperations(ops []ot.Operation) []ot.Operation {
	return ot.Compress(ops)
}

func (s *Service) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.flushPending(context.Background())
		}
	}
}

// flushPending resubmits every session's unacknowledged operations. A
// failure leaves the operation queued for the next tick until its
// attempts are exhausted.
func (s *Service) flushPending(ctx context.Context) {
	s.mu.RLock()
	sessions := make([]*syncSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		for _, p := range sess.snapshotPending() {
			if _, err := s.ApplyOperation(ctx, p.op); err != nil {
				dropped := sess.bumpAttempts(p.op.ID, s.opts.MaxRetry)
				lvl := s.log.Warn()
				if dropped {
					lvl = s.log.Error()
				}
				lvl.Err(err).Str("doc", sess.docID).Str("op", p.op.ID).
					Bool("dropped", dropped).Msg("pending operation resubmit failed")
			}
		}
	}
}
