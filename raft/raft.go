package raft

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/tunakv/tunakv/common"
)

// ApplyMsg reports the outcome of applying one committed entry to the FSM.
type ApplyMsg struct {
	Err   error
	Bytes []byte
}

// RaftServer is one member of a raft cluster. All RPC handlers and
// timer-driven transitions funnel through a single mutex, so the embedded
// state is never observed mid-transition. Peers are reached exclusively
// through the injected RPC manager, never through shared memory.
type RaftServer struct {
	// Access to state must be synchronized between multiple goroutines
	state

	// Data stores
	FSM             common.FSM
	Log             *ReplicatedLog
	PersistentStore common.PersistentStore

	// Peers
	MyID    uuid.UUID
	Peers   []common.RPCServer
	Manager common.RPCManager

	// Synchronization primitives
	Mutex                sync.Mutex
	ElectionTimeoutChan  chan bool
	HeartbeatTimeoutChan chan bool
	ApplyChan            map[int64]chan ApplyMsg
	StopChan             chan bool

	ProposeTimeout time.Duration

	logger zerolog.Logger

	// Testing primitives
	Disconnected bool
}

var _ common.RPCServer = &RaftServer{}

func NewRaftServer(
	me common.Server,
	cluster common.ClusterConfig,
	fsm common.FSM,
	logStore common.LogStore,
	persistentStore common.PersistentStore,
	manager common.RPCManager,
) (*RaftServer, error) {
	if err := cluster.Validate(); err != nil {
		return nil, err
	}
	term, err := loadTerm(persistentStore)
	if err != nil {
		return nil, err
	}
	votedFor, err := loadVotedFor(persistentStore)
	if err != nil {
		return nil, err
	}
	commitIndex, err := loadCommitIndex(persistentStore)
	if err != nil {
		return nil, err
	}
	log, err := NewReplicatedLog(logStore)
	if err != nil {
		return nil, err
	}

	server := &RaftServer{
		state: state{
			Term:          term,
			VotedFor:      votedFor,
			CommitIndex:   commitIndex,
			State:         Follower,
			AppliedIndex:  0,
			NextIndexMap:  make(map[uuid.UUID]int64),
			MatchIndexMap: make(map[uuid.UUID]int64),
		},
		FSM:             fsm,
		Log:             log,
		PersistentStore: persistentStore,
		MyID:            me.ID,
		Manager:         manager,
		ProposeTimeout:  cluster.ProposeTimeout,
		logger:          common.NewLogger("raft").With().Stringer("node", me.ID).Logger(),
	}
	if server.ProposeTimeout <= 0 {
		server.ProposeTimeout = common.DefaultProposeTimeout
	}

	for _, peer := range cluster.Cluster {
		if peer.ID == me.ID {
			continue
		}
		connection, err := manager.ConnectToPeer(peer.NetAddress, peer.ID)
		if err != nil {
			return nil, fmt.Errorf("can't connect to peer %s: %w", peer.NetAddress, err)
		}
		server.Peers = append(server.Peers, connection)
	}
	for _, peer := range server.Peers {
		server.NextIndexMap[peer.GetID()] = 1
		server.MatchIndexMap[peer.GetID()] = 0
	}

	server.ElectionTimeoutChan = make(chan bool, 10)
	server.HeartbeatTimeoutChan = make(chan bool, 10)
	server.ApplyChan = make(map[int64]chan ApplyMsg)
	server.StopChan = make(chan bool)

	server.ElectionTimeoutChan <- true
	server.HeartbeatTimeoutChan <- false
	go server.electionTimeoutController(cluster.ElectionTimeout)
	go server.heartbeatTimeoutController(cluster.HeartBeatTimeout)
	go func() {
		if err := manager.Start(me.NetAddress, server); err != nil {
			server.logger.Error().Err(err).Msg("failed to start RPC server")
		}
	}()

	server.logger.Info().Msg("initialization complete")
	return server, nil
}

func (server *RaftServer) GetID() uuid.UUID {
	return server.MyID
}

// ClientRequest serves a client command. Non-leaders transparently forward
// the request to the leader they believe in; if they don't know one the
// caller gets a redirect signal instead of an error.
func (server *RaftServer) ClientRequest(args *common.ClientRequestRPC, result *common.ClientRequestRPCResult) error {
	if server.Disconnected {
		return fmt.Errorf("%v is disconnected", server.MyID)
	}
	server.logger.Debug().Msg("received client request")
	index, data, err := server.Propose(args.Data)
	if err == nil {
		result.Success = true
		result.Data = data
		result.CommitIndex = index
		return nil
	}
	var notLeader *common.NotLeaderError
	if errors.As(err, &notLeader) {
		result.LeaderHint = notLeader.LeaderHint
		if notLeader.LeaderHint != nil {
			for _, peer := range server.Peers {
				if peer.GetID() == *notLeader.LeaderHint {
					return peer.ClientRequest(args, result)
				}
			}
		}
	}
	result.Success = false
	result.Error = err.Error()
	return nil
}

// Propose submits a command for replication. Only the current leader
// accepts proposals; everyone else returns a NotLeaderError carrying a
// redirect hint when one is known. The call blocks until the entry is
// committed on a majority and applied locally, or the propose timeout
// elapses (the entry may still commit afterwards).
func (server *RaftServer) Propose(command []byte) (int64, []byte, error) {
	server.Mutex.Lock()
	if server.State != Leader {
		hint := server.CurrentLeader
		server.Mutex.Unlock()
		return 0, nil, &common.NotLeaderError{LeaderHint: hint}
	}
	last, err := server.Log.Last()
	if err != nil {
		server.Mutex.Unlock()
		return 0, nil, fmt.Errorf("unable to read log tail: %w", err)
	}
	entry := common.LogEntry{
		Index: last.Index + 1,
		Term:  server.Term,
		Data:  command,
	}
	if err := server.Log.Append(entry); err != nil {
		server.Mutex.Unlock()
		return 0, nil, fmt.Errorf("unable to append to leader log: %w", err)
	}
	applied := make(chan ApplyMsg, 1)
	server.ApplyChan[entry.Index] = applied
	server.Mutex.Unlock()

	server.broadcastAppendEntries()

	select {
	case msg := <-applied:
		return entry.Index, msg.Bytes, msg.Err
	case <-time.After(server.ProposeTimeout):
		server.Mutex.Lock()
		delete(server.ApplyChan, entry.Index)
		server.Mutex.Unlock()
		return 0, nil, fmt.Errorf("proposal at index %d timed out after %v", entry.Index, server.ProposeTimeout)
	}
}

func (server *RaftServer) RequestVote(args *common.RequestVoteRPC, result *common.RequestVoteRPCResult) error {
	if server.Disconnected {
		return fmt.Errorf("%v is disconnected", server.MyID)
	}
	server.Mutex.Lock()
	defer server.Mutex.Unlock()
	if args.Term > server.Term {
		// Update term and convert to follower
		server.Term = args.Term
		server.VotedFor = nil
		server.persistTermAndVote()
		server.convertToFollower()
	}
	result.Term = server.Term
	// Reject stale candidates (Section 5.1)
	if args.Term < server.Term {
		result.VoteGranted = false
		return nil
	}
	// Don't vote twice in one term (Section 5.2)
	if server.VotedFor != nil && *server.VotedFor != args.CandidateID {
		result.VoteGranted = false
		return nil
	}
	// Only vote if the candidate's log is at least as up-to-date as ours,
	// comparing (lastLogTerm, lastLogIndex) lexicographically (Section 5.4)
	lastLogEntry, err := server.Log.Last()
	if err != nil {
		server.logger.Error().Err(err).Msg("error reading log tail")
		return err
	}
	upToDate := args.LastLogTerm > lastLogEntry.Term ||
		(args.LastLogTerm == lastLogEntry.Term && args.LastLogIndex >= lastLogEntry.Index)
	if !upToDate {
		result.VoteGranted = false
		return nil
	}
	result.VoteGranted = true
	server.VotedFor = &args.CandidateID
	server.persistTermAndVote()
	// granting a vote concedes this election round
	server.ElectionTimeoutChan <- true
	return nil
}

func (server *RaftServer) AppendEntries(args *common.AppendEntriesRPC, result *common.AppendEntriesRPCResult) error {
	if server.Disconnected {
		return fmt.Errorf("%v is disconnected", server.MyID)
	}
	server.Mutex.Lock()
	defer server.Mutex.Unlock()
	result.Term = server.Term
	if args.Term < server.Term {
		// leader is stale, reject request
		result.Success = false
		return nil
	}
	if args.Term > server.Term {
		server.Term = args.Term
		server.VotedFor = nil
		server.persistTermAndVote()
		result.Term = server.Term
	}
	// A valid AppendEntries for the current term demotes candidates and
	// stale leaders alike.
	if server.State != Follower {
		server.convertToFollower()
	}
	server.CurrentLeader = &args.Leader
	defer func() {
		server.ElectionTimeoutChan <- true
	}()

	if !server.Log.MatchesAt(args.PrevLogIndex, args.PrevLogTerm) {
		// our log diverges from (or is behind) the leader's at PrevLogIndex;
		// the leader will back off and retry
		result.Success = false
		return nil
	}
	for _, entry := range args.Entries {
		if existing, err := server.Log.EntryAt(entry.Index); err == nil {
			if existing.Term == entry.Term {
				// duplicate delivery, entry already present
				continue
			}
			// conflicting suffix, drop it before appending
			if err := server.Log.TruncateFrom(entry.Index); err != nil {
				return fmt.Errorf("unable to truncate conflicting suffix: %w", err)
			}
		}
		if err := server.Log.Append(entry); err != nil {
			return fmt.Errorf("unable to append entry: %w", err)
		}
	}
	result.Success = true

	lastNewEntry := args.PrevLogIndex + int64(len(args.Entries))
	newCommitIndex := args.LeaderCommitIndex
	if lastNewEntry < newCommitIndex {
		newCommitIndex = lastNewEntry
	}
	if newCommitIndex > server.CommitIndex {
		server.CommitIndex = newCommitIndex
		server.persistCommitIndex()
	}
	server.applyCommitted()
	return nil
}

// Stop stops the raft server. It does not guarantee releasing any memory,
// and any call on a stopped server may block forever instead of returning
// an error. No method (including Stop) should be called twice.
func (server *RaftServer) Stop() error {
	// acquire mutex to prevent any other goroutine from making progress;
	// we will never release this lock
	server.Mutex.Lock()
	close(server.StopChan)
	managerErr := server.Manager.Stop()
	logErr := server.Log.Close()
	storeErr := server.PersistentStore.Close()
	server.logger.Info().Msg("shutdown")
	return multierr.Combine(managerErr, logErr, storeErr)
}

// Disconnect creates an artificial network partition separating this server
// from its peers (bi-directional). The underlying transport still works;
// the implementations are merely aware of the partition and fail calls
// crossing it. Reconnect heals the partition.
func (server *RaftServer) Disconnect() {
	server.Disconnected = true
	server.Manager.Disconnect()
}

func (server *RaftServer) Reconnect() {
	server.Disconnected = false
	server.Manager.Reconnect()
}

func (server *RaftServer) persistTermAndVote() {
	if err := saveTerm(server.PersistentStore, server.Term); err != nil {
		server.logger.Error().Err(err).Msg("failed to persist term")
	}
	if err := saveVotedFor(server.PersistentStore, server.VotedFor); err != nil {
		server.logger.Error().Err(err).Msg("failed to persist votedFor")
	}
}

func (server *RaftServer) persistCommitIndex() {
	if err := saveCommitIndex(server.PersistentStore, server.CommitIndex); err != nil {
		server.logger.Error().Err(err).Msg("failed to persist commitIndex")
	}
}

// convertToFollower initiates transition to the follower role. The caller
// must hold the mutex.
func (server *RaftServer) convertToFollower() {
	server.logger.Info().Int64("term", server.Term).Msg("converting to follower")
	server.State = Follower
	server.CurrentLeader = nil
	// (Re)start election timeouts
	server.ElectionTimeoutChan <- true
	server.HeartbeatTimeoutChan <- false
}

// convertToCandidate initiates transition to the candidate role and starts
// an election for the next term. The caller must hold the mutex.
func (server *RaftServer) convertToCandidate() {
	server.State = Candidate
	server.CurrentLeader = nil
	server.Term++
	server.VotedFor = &server.MyID
	server.persistTermAndVote()
	server.logger.Info().Int64("term", server.Term).Msg("converting to candidate")

	totalServers := len(server.Peers) + 1
	votesNeeded := totalServers/2 + 1

	lastLogEntry, err := server.Log.Last()
	if err != nil {
		server.logger.Error().Err(err).Msg("error reading log tail")
		return
	}
	request := common.RequestVoteRPC{
		Term:         server.Term,
		CandidateID:  server.MyID,
		LastLogIndex: lastLogEntry.Index,
		LastLogTerm:  lastLogEntry.Term,
	}

	votes := make(chan bool, totalServers)
	for _, peer := range server.Peers {
		peer := peer
		go func() {
			var response common.RequestVoteRPCResult
			if err := peer.RequestVote(&request, &response); err != nil {
				server.logger.Debug().Err(err).Msg("error requesting vote from peer")
				votes <- false
				return
			}
			server.Mutex.Lock()
			defer server.Mutex.Unlock()
			if response.Term > server.Term {
				server.becomeFollowerAtTerm(response.Term)
			}
			votes <- response.VoteGranted
		}()
	}
	go func() {
		// We always vote for ourselves
		votesReceived, votesGranted := 1, 1
		for votesGranted < votesNeeded && votesReceived < totalServers {
			if <-votes {
				votesGranted++
			}
			votesReceived++
		}
		if votesGranted >= votesNeeded {
			server.Mutex.Lock()
			defer server.Mutex.Unlock()
			server.logger.Info().Int64("term", request.Term).Int("votes", votesGranted).Msg("won majority vote")
			server.convertToLeader(request.Term)
		}
	}()
}

// convertToLeader sets up transition to the leader role. The caller must
// hold the mutex. The transition is discarded if the server's term moved on
// while the election was in flight (stale election).
func (server *RaftServer) convertToLeader(term int64) {
	if term != server.Term {
		server.logger.Info().Int64("electionTerm", term).Int64("term", server.Term).Msg("discarding stale election result")
		if term > server.Term {
			panic("fatal: election term ahead of server term")
		}
		return
	}
	if server.State != Candidate {
		// A second majority for the same term would mean two leaders; only
		// candidates may be promoted.
		if server.State == Leader {
			return
		}
		panic("fatal: invalid transition follower -> leader")
	}
	server.logger.Info().Int64("term", server.Term).Msg("converting to leader")
	server.State = Leader
	server.CurrentLeader = &server.MyID
	server.ElectionTimeoutChan <- false
	server.HeartbeatTimeoutChan <- true

	lastLogEntry, err := server.Log.Last()
	if err != nil {
		server.logger.Error().Err(err).Msg("error reading log tail")
		return
	}
	for peerID := range server.NextIndexMap {
		// Optimistically assume peers hold everything but our last entry.
		// Starting at lastIndex (not lastIndex+1 as in the paper) keeps
		// followers converging even when no new client requests arrive.
		server.NextIndexMap[peerID] = lastLogEntry.Index
		if lastLogEntry.Index == 0 {
			server.NextIndexMap[peerID] = 1
		}
		// And pessimistically assume nothing is known to be replicated.
		server.MatchIndexMap[peerID] = 0
	}
	server.broadcastAppendEntries()
}

// becomeFollowerAtTerm adopts a higher term discovered in an RPC exchange
// and steps down. The caller must hold the mutex.
func (server *RaftServer) becomeFollowerAtTerm(term int64) {
	server.Term = term
	server.VotedFor = nil
	server.persistTermAndVote()
	server.convertToFollower()
}

// broadcastAppendEntries sends append entry RPCs to all peers and processes
// their responses, updating nextIndex/matchIndex and the commit index.
func (server *RaftServer) broadcastAppendEntries() {
	server.logger.Debug().Msg("broadcasting append entries")
	for _, peer := range server.Peers {
		peer := peer
		go func() {
			server.Mutex.Lock()
			if server.State != Leader {
				server.Mutex.Unlock()
				return
			}
			request := common.AppendEntriesRPC{
				Term:              server.Term,
				Leader:            server.MyID,
				LeaderCommitIndex: server.CommitIndex,
			}
			next := server.NextIndexMap[peer.GetID()]
			prevLogEntry, err := server.Log.EntryAt(next - 1)
			if err != nil {
				server.Mutex.Unlock()
				server.logger.Error().Err(err).Msg("failed to read previous entry from log")
				return
			}
			request.PrevLogIndex = prevLogEntry.Index
			request.PrevLogTerm = prevLogEntry.Term
			length, err := server.Log.Length()
			if err != nil {
				server.Mutex.Unlock()
				server.logger.Error().Err(err).Msg("failed to read log length")
				return
			}
			for index := next; index < length && len(request.Entries) < maxAppendBatch; index++ {
				entry, err := server.Log.EntryAt(index)
				if err != nil {
					server.Mutex.Unlock()
					server.logger.Error().Err(err).Msg("failed to read entry from log")
					return
				}
				request.Entries = append(request.Entries, *entry)
			}
			server.Mutex.Unlock()

			var response common.AppendEntriesRPCResult
			if err := peer.AppendEntries(&request, &response); err != nil {
				server.logger.Debug().Err(err).Msg("append entries RPC failed")
				return
			}

			server.Mutex.Lock()
			defer server.Mutex.Unlock()
			if response.Term != server.Term {
				// Either the peer is on a higher term, or our own term moved
				// on concurrently. In both cases this response is void.
				if response.Term > server.Term {
					server.becomeFollowerAtTerm(response.Term)
				}
				return
			}
			if server.State != Leader {
				return
			}
			peerID := peer.GetID()
			if response.Success {
				matched := request.PrevLogIndex + int64(len(request.Entries))
				if matched+1 > server.NextIndexMap[peerID] {
					server.NextIndexMap[peerID] = matched + 1
				}
				if matched > server.MatchIndexMap[peerID] {
					server.MatchIndexMap[peerID] = matched
					server.commitEntries()
				}
			} else {
				server.logger.Debug().Stringer("peer", peerID).Msg("append entries rejected, backing off")
				// The peer's log diverges before PrevLogIndex, walk back
				if server.NextIndexMap[peerID] > 1 {
					server.NextIndexMap[peerID]--
				}
			}
		}()
	}
}

// commitEntries advances the commit index to the highest entry replicated
// on a strict majority, then applies newly committed entries. Only entries
// of the current term commit by counting (Section 5.4.2); older entries
// commit implicitly with them. The caller must hold the mutex.
func (server *RaftServer) commitEntries() {
	var matchIndexes []int64
	for _, index := range server.MatchIndexMap {
		matchIndexes = append(matchIndexes, index)
	}
	if len(matchIndexes) == 0 {
		return
	}
	sort.Slice(matchIndexes, func(i, j int) bool {
		return matchIndexes[i] < matchIndexes[j]
	})
	// The i-th value of matchIndexes is replicated on at least n-i servers
	// (counting ourselves), so the value at floor(n/2) is replicated on a
	// strict majority. Note n here is the cluster size, not len(matchIndexes).
	n := len(matchIndexes) + 1
	candidate := matchIndexes[n/2]

	if candidate > server.CommitIndex {
		entry, err := server.Log.EntryAt(candidate)
		if err != nil {
			server.logger.Error().Err(err).Msg("failed to read entry from log")
			return
		}
		if entry.Term == server.Term {
			server.CommitIndex = candidate
			server.persistCommitIndex()
		}
	}
	server.applyCommitted()
}

// applyCommitted applies all committed-but-unapplied entries to the FSM in
// index order and wakes up any proposals waiting on them. The caller must
// hold the mutex.
func (server *RaftServer) applyCommitted() {
	for server.AppliedIndex < server.CommitIndex {
		next := server.AppliedIndex + 1
		entry, err := server.Log.EntryAt(next)
		if err != nil {
			server.logger.Error().Err(err).Msg("failed to read committed entry from log")
			break
		}
		bytes, err := server.FSM.Apply(*entry)
		if err != nil {
			// FSM errors (e.g. reads of absent keys) are results for the
			// proposer, not replication failures
			server.logger.Debug().Err(err).Int64("index", next).Msg("FSM returned error")
		}
		if applied, ok := server.ApplyChan[next]; ok {
			applied <- ApplyMsg{Err: err, Bytes: bytes}
			delete(server.ApplyChan, next)
		}
		server.AppliedIndex = next
	}
}

// electionTimeoutController runs in its own goroutine and manages the
// election timer. Sending false on ElectionTimeoutChan disables the timer,
// sending true (re)arms it with a fresh randomized duration. The jitter
// keeps repeated split votes from synchronizing across the cluster. When
// the timer fires on a non-leader it initiates an election.
func (server *RaftServer) electionTimeoutController(timeout time.Duration) {
	randomized := func(timeout time.Duration) time.Duration {
		return timeout + time.Duration(rand.Float64()*float64(timeout))
	}
	server.logger.Debug().Msg("election timeout controller started")
	ticker := time.NewTicker(randomized(timeout))
	for {
		select {
		case _, ok := <-server.StopChan:
			if !ok {
				ticker.Stop()
				return
			}
			panic("value should never be sent to stop channel")
		case <-ticker.C:
			ticker.Stop()
			server.Mutex.Lock()
			if server.State != Leader {
				server.logger.Debug().Msg("election timeout elapsed")
				server.convertToCandidate()
			}
			server.Mutex.Unlock()
			ticker.Reset(randomized(timeout))
		case reset := <-server.ElectionTimeoutChan:
			if reset {
				ticker.Reset(randomized(timeout))
			} else {
				ticker.Stop()
			}
		}
	}
}

// heartbeatTimeoutController runs in its own goroutine and manages the
// leader's heartbeat timer, controlled through HeartbeatTimeoutChan the
// same way the election controller is. Every tick broadcasts (possibly
// empty) append entries to all peers, which doubles as the retry mechanism
// for lagging followers.
func (server *RaftServer) heartbeatTimeoutController(timeout time.Duration) {
	ticker := time.NewTicker(timeout)
	for {
		select {
		case _, ok := <-server.StopChan:
			if !ok {
				ticker.Stop()
				return
			}
			panic("value should never be sent to stop channel")
		case <-ticker.C:
			ticker.Stop()
			server.Mutex.Lock()
			// A queued tick may arrive after the timer was disabled; the
			// role check keeps it from triggering a spurious broadcast.
			if server.State == Leader {
				server.broadcastAppendEntries()
			}
			server.Mutex.Unlock()
			ticker.Reset(timeout)
		case reset := <-server.HeartbeatTimeoutChan:
			if reset {
				ticker.Reset(timeout)
			} else {
				ticker.Stop()
			}
		}
	}
}
