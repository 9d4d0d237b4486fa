// Package runtime implements the Runtime Kernel (spec §4.5, C5): the
// single-threaded tick loop that merges inputs, drives the Consensus
// Engine per replica, captures snapshots on meaningful ticks, and ingests
// anchor-chain events as j_event transactions.
//
// Grounded on the teacher's cmd/empower1d/main.go top-level wiring
// (blockCreationLoop driving proposer + mempool + broadcast on a
// time.Sleep loop), restructured into the cooperative, replayable,
// non-threaded ApplyServerInput contract spec §5 requires — no goroutine
// runs a tick; a caller (cmd/xlnd or a test) drives the kernel explicitly.
package runtime

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xlnfinance/xln/internal/anchor"
	"github.com/xlnfinance/xln/internal/consensus"
	"github.com/xlnfinance/xln/internal/entitytx"
	"github.com/xlnfinance/xln/internal/fabric"
	"github.com/xlnfinance/xln/internal/snapshot"
	"github.com/xlnfinance/xln/internal/store"
	"github.com/xlnfinance/xln/internal/xcrypto"
	"github.com/xlnfinance/xln/internal/xerr"
	"github.com/xlnfinance/xln/internal/xid"
)

// MaxCascadeIterations bounds processUntilEmpty (spec §4.5 "Cascade"). A
// var, not a const, so cmd/xlnd's `max_cascade_iterations` runtime option
// (§6) can override the default of 10 at startup.
var MaxCascadeIterations = 10

// Resource bounds checked at the top of ApplyServerInput (spec §7).
const (
	MaxServerTxsPerTick    = 1000
	MaxEntityInputsPerTick = 10000
)

// ReplicaKey addresses one validator's view of one entity.
type ReplicaKey struct {
	EntityID xid.EntityId
	SignerID xid.SignerId
}

// ServerTxType is the closed set of server-level (env-scoped) commands.
// Only importReplica is defined (spec §4.5 step 4).
type ServerTxType string

const ServerTxImportReplica ServerTxType = "importReplica"

// ServerTx is one server-level command appended to the persistent
// env.serverInput queue.
type ServerTx struct {
	Type     ServerTxType
	EntityID xid.EntityId
	SignerID xid.SignerId
	Config   entitytx.Config
}

// RoutedEntityInput addresses a consensus.EntityInput at a specific
// replica, crossing either intra-entity consensus routing (same EntityID,
// different SignerID — produced directly by consensus.RoutedInput) or
// inter-entity delivery via the Channel Fabric (different EntityID).
type RoutedEntityInput struct {
	EntityID xid.EntityId
	SignerID xid.SignerId
	Input    consensus.EntityInput
}

// Env is the Runtime Kernel's persistent environment (spec §4.5
// "Snapshot": {height, timestamp, replicas, serverInput, serverOutputs}).
type Env struct {
	Height        uint64
	Timestamp     int64
	Replicas      map[ReplicaKey]*consensus.Replica
	ServerInput   []ServerTx
	ServerOutputs []entitytx.Output
	Description   string
}

// Kernel drives Env through ticks, owning the Channel Fabric and the
// snapshot store as explicit, lifecycle-scoped components (spec §9 design
// note: no package-level singleton, unlike the teacher's channel-manager/
// gossip globals).
type Kernel struct {
	env    *Env
	fabric *fabric.Fabric
	store  store.KVStore
	log    *zap.Logger
}

// New constructs a Kernel with an empty environment.
func New(fab *fabric.Fabric, st store.KVStore, log *zap.Logger) *Kernel {
	return &Kernel{
		env: &Env{
			Replicas: make(map[ReplicaKey]*consensus.Replica),
		},
		fabric: fab,
		store:  st,
		log:    log,
	}
}

// Env returns the live environment. Callers must not retain pointers into
// Replicas across ticks; ApplyServerInput may replace map values.
func (k *Kernel) Env() *Env { return k.env }

// sortedReplicaKeys orders keys deterministically: by EntityID, then by
// SignerID within an entity.
func sortedReplicaKeys(merged map[ReplicaKey]consensus.EntityInput) []ReplicaKey {
	keys := make([]ReplicaKey, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].EntityID != keys[j].EntityID {
			return keys[i].EntityID.Less(keys[j].EntityID)
		}
		return keys[i].SignerID < keys[j].SignerID
	})
	return keys
}

func mergeInputs(merged map[ReplicaKey]consensus.EntityInput, incoming []RoutedEntityInput) map[ReplicaKey]consensus.EntityInput {
	for _, ri := range incoming {
		key := ReplicaKey{EntityID: ri.EntityID, SignerID: ri.SignerID}
		cur := merged[key]
		if len(ri.Input.EntityTxs) > 0 {
			cur.EntityTxs = append(cur.EntityTxs, ri.Input.EntityTxs...)
		}
		if len(ri.Input.Precommits) > 0 {
			if cur.Precommits == nil {
				cur.Precommits = make(map[xid.SignerId][]byte, len(ri.Input.Precommits))
			}
			for signer, sig := range ri.Input.Precommits {
				cur.Precommits[signer] = sig // idempotent: identical redelivery is a no-op overwrite
			}
		}
		if ri.Input.ProposedFrame != nil {
			cur.ProposedFrame = ri.Input.ProposedFrame // keep the latest, per spec §4.5 step 3
		}
		merged[key] = cur
	}
	return merged
}

// ApplyServerInput runs one Kernel tick (spec §4.5 steps 1-8). It returns
// the diagnostic/announce outputs produced this tick and the set of
// routed messages the Consensus Engine emitted, ready to feed the next
// processUntilEmpty iteration.
func (k *Kernel) ApplyServerInput(ctx context.Context, serverTxs []ServerTx, entityInputs []RoutedEntityInput) ([]entitytx.Output, []RoutedEntityInput, error) {
	if len(serverTxs) > MaxServerTxsPerTick || len(entityInputs) > MaxEntityInputsPerTick {
		return nil, nil, xerr.Validation("runtime: tick exceeds resource bounds (serverTxs=%d entityInputs=%d)", len(serverTxs), len(entityInputs))
	}

	// Step 2: append to the persistent queue.
	k.env.ServerInput = append(k.env.ServerInput, serverTxs...)

	// Step 3: merge inputs.
	merged := mergeInputs(make(map[ReplicaKey]consensus.EntityInput), entityInputs)

	// Step 4: apply serverTxs.
	for _, tx := range serverTxs {
		if tx.Type == ServerTxImportReplica {
			k.importReplica(tx)
		}
	}

	// Step 5: drain pending channel messages into the input queue.
	entities := make(map[xid.EntityId]struct{})
	for key := range k.env.Replicas {
		entities[key.EntityID] = struct{}{}
	}
	var drained []RoutedEntityInput
	for entity := range entities {
		for _, msg := range k.fabric.GetPending(entity) {
			drained = append(drained, RoutedEntityInput{EntityID: msg.To, SignerID: msg.SignerID, Input: msg.Input})
		}
	}
	merged = mergeInputs(merged, drained)

	// Step 6: run the Consensus Engine per merged input, in a stable
	// order — ranging the merged map directly would randomize the order
	// ServerOutputs are appended in from one tick to the next (spec §5),
	// even though each replica's own committed state is unaffected since
	// replicas don't interact within a tick.
	var outputs []entitytx.Output
	var nextRouted []RoutedEntityInput
	now := time.Now().UnixMilli()
	for _, key := range sortedReplicaKeys(merged) {
		input := merged[key]
		replica := k.resolveReplica(key)
		if replica == nil {
			outputs = append(outputs, entitytx.Output{Kind: entitytx.OutputDiagnostic, Message: "runtime: no replica for entity " + key.EntityID.String()})
			continue
		}
		routed, out, err := consensus.ProcessInput(replica, input, now)
		if err != nil {
			if xerr.Recoverable(err) {
				outputs = append(outputs, entitytx.Output{Kind: entitytx.OutputDiagnostic, Message: err.Error(), Entity: key.EntityID})
				continue
			}
			return outputs, nextRouted, err
		}
		outputs = append(outputs, out...)
		for _, r := range routed {
			nextRouted = append(nextRouted, RoutedEntityInput{EntityID: key.EntityID, SignerID: r.To, Input: r.Input})
		}
	}
	k.env.ServerOutputs = outputs

	// Step 7: commit a kernel frame only on a meaningful tick.
	if len(serverTxs) > 0 || len(entityInputs) > 0 || len(outputs) > 0 {
		if err := k.commitFrame(ctx, now); err != nil {
			return outputs, nextRouted, err
		}
	}

	return outputs, nextRouted, nil
}

// ProcessUntilEmpty feeds each tick's routed messages back in as the next
// tick's input, bounded at MaxCascadeIterations (spec §4.5 "Cascade"). A
// cascade still producing routed messages at the bound is a
// ConsensusLivelockFault: a mis-wired forwarder loop must not be silently
// dropped.
func (k *Kernel) ProcessUntilEmpty(ctx context.Context, serverTxs []ServerTx, entityInputs []RoutedEntityInput) ([]entitytx.Output, error) {
	var all []entitytx.Output
	for i := 0; i < MaxCascadeIterations; i++ {
		outputs, next, err := k.ApplyServerInput(ctx, serverTxs, entityInputs)
		if err != nil {
			return all, err
		}
		all = append(all, outputs...)
		if len(next) == 0 {
			return all, nil
		}
		serverTxs = nil
		entityInputs = next
	}
	return all, xerr.Livelock("runtime: processUntilEmpty exceeded %d iterations", MaxCascadeIterations)
}

func (k *Kernel) resolveReplica(key ReplicaKey) *consensus.Replica {
	if r, ok := k.env.Replicas[key]; ok {
		return r
	}
	if key.SignerID == "system" {
		return k.anyReplicaFor(key.EntityID)
	}
	return nil
}

func (k *Kernel) anyReplicaFor(entity xid.EntityId) *consensus.Replica {
	for key, r := range k.env.Replicas {
		if key.EntityID == entity {
			return r
		}
	}
	return nil
}

func (k *Kernel) importReplica(tx ServerTx) {
	key := ReplicaKey{EntityID: tx.EntityID, SignerID: tx.SignerID}
	if _, exists := k.env.Replicas[key]; exists {
		return
	}
	k.env.Replicas[key] = &consensus.Replica{
		EntityID: tx.EntityID,
		SignerID: tx.SignerID,
		Config:   tx.Config,
		State:    entitytx.NewEntityState(tx.Config),
	}
	k.fabric.Register(tx.EntityID)
	if k.log != nil {
		k.log.Info("imported replica", zap.String("entity", tx.EntityID.String()), zap.String("signer", string(tx.SignerID)))
	}
}

// commitFrame persists a snapshot of the environment (spec §4.5 step 7,
// "Snapshot").
func (k *Kernel) commitFrame(ctx context.Context, now int64) error {
	k.env.Height++
	k.env.Timestamp = now

	data, err := snapshot.Encode(k.env)
	if err != nil {
		return xerr.Validation("runtime: encode snapshot: %v", err)
	}
	if err := k.store.Put(ctx, snapshot.HeightKey(k.env.Height), data); err != nil {
		return xerr.TransientIo("runtime: persist snapshot at height %d: %v", k.env.Height, err)
	}
	if err := k.store.Put(ctx, snapshot.LatestHeightKey, snapshot.EncodeHeight(k.env.Height)); err != nil {
		return xerr.TransientIo("runtime: persist latest_height: %v", err)
	}
	if k.log != nil {
		k.log.Debug("committed kernel frame", zap.Uint64("height", k.env.Height))
	}
	return nil
}

// AttachKeys reattaches a signing KeyPair to a replica after Replay: a
// decoded Replica's Keys field is always nil, because private keys are
// never persisted into a snapshot (see consensus.Replica.GobEncode).
func (k *Kernel) AttachKeys(key ReplicaKey, keys *xcrypto.KeyPair) {
	if r, ok := k.env.Replicas[key]; ok {
		r.Keys = keys
	}
}

// Replay reconstructs the live environment from the most recent snapshot
// (spec §4.5 "Replay"). Snapshot 0 is implicit: an absent latest_height key
// leaves the Kernel at its freshly constructed, empty state. Replayed
// replicas have no signing key until the caller calls AttachKeys.
func (k *Kernel) Replay(ctx context.Context) error {
	latest, err := k.store.Get(ctx, snapshot.LatestHeightKey)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return xerr.TransientIo("runtime: read latest_height: %v", err)
	}
	height, err := snapshot.DecodeHeight(latest)
	if err != nil {
		return xerr.Validation("runtime: %v", err)
	}
	data, err := k.store.Get(ctx, snapshot.HeightKey(height))
	if err != nil {
		return xerr.TransientIo("runtime: read snapshot at height %d: %v", height, err)
	}
	var env Env
	if err := snapshot.Decode(data, &env); err != nil {
		return xerr.Validation("runtime: decode snapshot at height %d: %v", height, err)
	}
	k.env = &env
	for key := range k.env.Replicas {
		k.fabric.Register(key.EntityID)
	}
	return nil
}

// IngestAnchorEvent constructs a j_event transaction from ev and addresses
// it to every proposer replica of the affected entity (spec §4.5
// "Anchor-event ingestion"). Idempotent absorption is enforced downstream
// by entitytx.applyJEvent via EntityState.ProcessedRequests.
func (k *Kernel) IngestAnchorEvent(ev anchor.Event) []RoutedEntityInput {
	entity := affectedEntity(ev)
	tx := entitytx.EntityTx{Type: entitytx.TxJEvent, JEvent: &entitytx.JEventPayload{Event: ev}}

	var routed []RoutedEntityInput
	for key, r := range k.env.Replicas {
		if key.EntityID == entity && r.Config.Proposer() == key.SignerID {
			routed = append(routed, RoutedEntityInput{
				EntityID: key.EntityID,
				SignerID: key.SignerID,
				Input:    consensus.EntityInput{EntityTxs: []entitytx.EntityTx{tx}},
			})
		}
	}
	return routed
}

func affectedEntity(ev anchor.Event) xid.EntityId {
	switch ev.Type {
	case anchor.EventEntityRegistered:
		return ev.Payload.EntityID
	case anchor.EventControlSharesReleased:
		return ev.Payload.Depository
	default:
		return ev.Payload.Entity
	}
}
