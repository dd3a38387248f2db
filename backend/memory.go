package backend

import (
	"context"
	"sort"
	"sync"

	"github.com/treecrdt/authsync/opmodel"
	"github.com/treecrdt/authsync/scope"
)

type docState struct {
	ops     map[opmodel.OpRef]opmodel.Operation
	parent  map[opmodel.NodeId]opmodel.NodeId
	haveNode map[opmodel.NodeId]bool
	maxLamport uint64

	pendingOrder []opmodel.OpRef
	pending      map[opmodel.OpRef]PendingOp

	auth map[opmodel.OpRef]OpAuth
}

func newDocState() *docState {
	return &docState{
		ops:      make(map[opmodel.OpRef]opmodel.Operation),
		parent:   make(map[opmodel.NodeId]opmodel.NodeId),
		haveNode: make(map[opmodel.NodeId]bool),
		pending:  make(map[opmodel.OpRef]PendingOp),
		auth:     make(map[opmodel.OpRef]OpAuth),
	}
}

// Memory is an in-memory Backend, suitable for tests and for exercising
// SyncAuth/SyncPeer without a real document store.
type Memory struct {
	mu   sync.Mutex
	docs map[string]*docState
}

// NewMemory returns an empty in-memory Backend.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]*docState)}
}

func (m *Memory) doc(docId string) *docState {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[docId]
	if !ok {
		d = newDocState()
		m.docs[docId] = d
	}
	return d
}

func (m *Memory) ListOpRefs(_ context.Context, docId string) ([]opmodel.OpRef, error) {
	d := m.doc(docId)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]opmodel.OpRef, 0, len(d.ops))
	for ref := range d.ops {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i][:]) < string(out[j][:]) })
	return out, nil
}

func (m *Memory) GetOp(_ context.Context, docId string, ref opmodel.OpRef) (opmodel.Operation, bool, error) {
	d := m.doc(docId)
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := d.ops[ref]
	return op, ok, nil
}

func (m *Memory) ApplyOps(_ context.Context, docId string, ops []opmodel.Operation) error {
	d := m.doc(docId)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		ref := op.Ref(docId)
		if _, exists := d.ops[ref]; exists {
			continue
		}
		d.ops[ref] = op
		if op.Meta.Lamport > d.maxLamport {
			d.maxLamport = op.Meta.Lamport
		}
		switch op.Kind {
		case opmodel.KindInsert:
			d.parent[op.Node] = op.Parent
			d.haveNode[op.Node] = true
		case opmodel.KindMove:
			d.parent[op.Node] = op.NewParent
		}
	}
	return nil
}

func (m *Memory) MaxLamport(_ context.Context, docId string) (uint64, error) {
	d := m.doc(docId)
	m.mu.Lock()
	defer m.mu.Unlock()
	return d.maxLamport, nil
}

func (m *Memory) ListPendingOps(_ context.Context, docId string) ([]PendingOp, error) {
	d := m.doc(docId)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingOp, 0, len(d.pendingOrder))
	for _, ref := range d.pendingOrder {
		if row, ok := d.pending[ref]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *Memory) ListPendingOpRefs(_ context.Context, docId string) ([]opmodel.OpRef, error) {
	d := m.doc(docId)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]opmodel.OpRef, 0, len(d.pendingOrder))
	for _, ref := range d.pendingOrder {
		if _, ok := d.pending[ref]; ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (m *Memory) StorePendingOps(_ context.Context, docId string, rows []PendingOp) error {
	d := m.doc(docId)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		if _, exists := d.pending[row.OpRef]; !exists {
			d.pendingOrder = append(d.pendingOrder, row.OpRef)
		}
		d.pending[row.OpRef] = row
	}
	return nil
}

func (m *Memory) DeletePendingOps(_ context.Context, docId string, refs []opmodel.OpRef) error {
	d := m.doc(docId)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ref := range refs {
		delete(d.pending, ref)
	}
	return nil
}

func (m *Memory) GetOpAuth(_ context.Context, docId string, ref opmodel.OpRef) (OpAuth, bool, error) {
	d := m.doc(docId)
	m.mu.Lock()
	defer m.mu.Unlock()
	auth, ok := d.auth[ref]
	return auth, ok, nil
}

func (m *Memory) PutOpAuth(_ context.Context, docId string, ref opmodel.OpRef, auth OpAuth) error {
	d := m.doc(docId)
	m.mu.Lock()
	defer m.mu.Unlock()
	d.auth[ref] = auth
	return nil
}

// TreeContextFor returns a scope.TreeContext reading docId's parent links
// as recorded by applied insert/move ops.
func (m *Memory) TreeContextFor(docId string) scope.TreeContext {
	return memoryTreeContext{m: m, docId: docId}
}

type memoryTreeContext struct {
	m     *Memory
	docId string
}

func (tc memoryTreeContext) Parent(_ context.Context, node opmodel.NodeId) (opmodel.NodeId, bool, error) {
	if node == (opmodel.NodeId{}) {
		// The document root has no parent.
		return opmodel.NodeId{}, false, nil
	}

	d := tc.m.doc(tc.docId)
	tc.m.mu.Lock()
	defer tc.m.mu.Unlock()
	if !d.haveNode[node] {
		return opmodel.NodeId{}, false, scope.ErrAncestryUnavailable
	}
	return d.parent[node], true, nil
}
