package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/untoldecay/healer/internal/storage/sqlite"
	"github.com/untoldecay/healer/internal/types"
	"github.com/untoldecay/healer/internal/worker"
)

// fakeProc stands in for a worker process. Terminate and Kill both end it.
type fakeProc struct {
	pid  int
	done chan struct{}
	once sync.Once
}

func (p *fakeProc) PID() int              { return p.pid }
func (p *fakeProc) Terminate() error      { p.exit(); return nil }
func (p *fakeProc) Kill() error           { p.exit(); return nil }
func (p *fakeProc) Done() <-chan struct{} { return p.done }
func (p *fakeProc) exit()                 { p.once.Do(func() { close(p.done) }) }

type fakeLauncher struct {
	mu      sync.Mutex
	nextPID int
	specs   []*worker.Spec
	procs   map[int64]*fakeProc
	failAll bool
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{nextPID: 1000, procs: make(map[int64]*fakeProc)}
}

func (f *fakeLauncher) launch(spec *worker.Spec) (Proc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, fmt.Errorf("launch refused")
	}
	f.nextPID++
	p := &fakeProc{pid: f.nextPID, done: make(chan struct{})}
	f.specs = append(f.specs, spec)
	f.procs[spec.SessionID] = p
	return p, nil
}

func (f *fakeLauncher) launched() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}

func newTestDaemon(t *testing.T) (*Daemon, *sqlite.Store, *fakeLauncher) {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "healer.db"))
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	fl := newFakeLauncher()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New("127.0.0.1:0", store, fl.launch, log), store, fl
}

func dispatch(t *testing.T, d *Daemon, action string, args interface{}) Reply {
	t.Helper()
	data, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshaling args: %v", err)
	}
	result := d.Dispatch(context.Background(), Command{Action: action, Data: data})
	reply, ok := result.(Reply)
	if !ok {
		t.Fatalf("unexpected reply type %T", result)
	}
	return reply
}

func mustSuccess(t *testing.T, reply Reply) Reply {
	t.Helper()
	if reply.Status != StatusSuccess {
		t.Fatalf("command failed: %s", reply.Message)
	}
	return reply
}

func seedAvatar(t *testing.T, store *sqlite.Store, name string) int64 {
	t.Helper()
	a, err := store.CreateAvatar(context.Background(), name, []byte("photo-"+name), "info-"+name)
	if err != nil {
		t.Fatalf("creating avatar %s: %v", name, err)
	}
	return a.ID
}

func seedIC(t *testing.T, store *sqlite.Store, name string) int64 {
	t.Helper()
	ic, err := store.CreateIC(context.Background(), name, []byte("wav-"+name))
	if err != nil {
		t.Fatalf("creating information copy %s: %v", name, err)
	}
	return ic.ID
}

func seedRequest(t *testing.T, store *sqlite.Store, name string) int64 {
	t.Helper()
	r, err := store.CreateRequest(context.Background(), name, "text-"+name)
	if err != nil {
		t.Fatalf("creating request %s: %v", name, err)
	}
	return r.ID
}

func seedGroup(t *testing.T, store *sqlite.Store, kind types.EntityKind, name string, memberIDs ...int64) int64 {
	t.Helper()
	g, err := store.CreateGroup(context.Background(), kind, name)
	if err != nil {
		t.Fatalf("creating %s group %s: %v", kind, name, err)
	}
	for _, id := range memberIDs {
		if _, err := store.AddMember(context.Background(), kind, g.ID, id); err != nil {
			t.Fatalf("adding member %d: %v", id, err)
		}
	}
	return g.ID
}

func sessionsByStatus(t *testing.T, store *sqlite.Store, status types.SessionStatus) []*types.Session {
	t.Helper()
	sessions, err := store.SessionsByStatus(context.Background(), status)
	if err != nil {
		t.Fatalf("listing %s sessions: %v", status, err)
	}
	return sessions
}

func TestStartICSingleAvatar(t *testing.T) {
	d, store, fl := newTestDaemon(t)
	avatarID := seedAvatar(t, store, "alice")
	icID := seedIC(t, store, "copy1")

	reply := mustSuccess(t, dispatch(t, d, ActionStartIC, StartICArgs{
		ICID: icID, AvatarID: &avatarID,
	}))
	if !strings.Contains(reply.Message, "Started 1 session(s).") {
		t.Errorf("unexpected message %q", reply.Message)
	}

	running := sessionsByStatus(t, store, types.StatusRunning)
	if len(running) != 1 {
		t.Fatalf("want 1 running session, got %d", len(running))
	}
	sess := running[0]
	if sess.IsGroup || sess.ParentID != nil {
		t.Errorf("single-avatar start must not create a group parent")
	}
	if sess.WorkerPID == nil {
		t.Errorf("running session has no worker pid")
	}
	if sess.Description != "'alice' <=> 'copy1'" {
		t.Errorf("unexpected description %q", sess.Description)
	}
	if fl.launched() != 1 {
		t.Errorf("want 1 launch, got %d", fl.launched())
	}
}

func TestStartICGroupExpansion(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	a1 := seedAvatar(t, store, "a1")
	a2 := seedAvatar(t, store, "a2")
	a3 := seedAvatar(t, store, "a3")
	icID := seedIC(t, store, "copy1")
	seedGroup(t, store, types.EntityAvatar, "crew", a1, a2, a3)

	mustSuccess(t, dispatch(t, d, ActionStartIC, StartICArgs{
		ICID: icID, AvatarGroup: "crew",
	}))

	running := sessionsByStatus(t, store, types.StatusRunning)
	var parent *types.Session
	var leaves []*types.Session
	for _, sess := range running {
		if sess.IsGroup {
			parent = sess
		} else {
			leaves = append(leaves, sess)
		}
	}
	if parent == nil {
		t.Fatal("group start must create a parent session")
	}
	if parent.Description != "IC 'copy1' on Avatar Group 'crew'" {
		t.Errorf("unexpected parent description %q", parent.Description)
	}
	if len(leaves) != 3 {
		t.Fatalf("want 3 leaves, got %d", len(leaves))
	}
	for _, leaf := range leaves {
		if leaf.ParentID == nil || *leaf.ParentID != parent.ID {
			t.Errorf("leaf %d not linked to parent", leaf.ID)
		}
		if !strings.Contains(leaf.Description, fmt.Sprintf("(from Group Op #%d)", parent.ID)) {
			t.Errorf("leaf description %q missing parent reference", leaf.Description)
		}
		if !leaf.StartTime.Equal(parent.StartTime) {
			t.Errorf("leaf start %v differs from parent start %v", leaf.StartTime, parent.StartTime)
		}
	}
}

func TestStartGroupCartesianProduct(t *testing.T) {
	d, store, fl := newTestDaemon(t)
	a1 := seedAvatar(t, store, "a1")
	a2 := seedAvatar(t, store, "a2")
	ic1 := seedIC(t, store, "c1")
	ic2 := seedIC(t, store, "c2")
	seedGroup(t, store, types.EntityAvatar, "crew", a1, a2)
	seedGroup(t, store, types.EntityIC, "tapes", ic1, ic2)

	duration := 30
	mustSuccess(t, dispatch(t, d, ActionStartGroup, StartGroupArgs{
		AvatarGroup: "crew", ICGroup: "tapes", Duration: &duration,
	}))

	running := sessionsByStatus(t, store, types.StatusRunning)
	var parent *types.Session
	leafCount := 0
	for _, sess := range running {
		if sess.IsGroup {
			parent = sess
		} else {
			leafCount++
			if sess.Kind != types.KindICSession {
				t.Errorf("leaf kind = %s, want %s", sess.Kind, types.KindICSession)
			}
		}
	}
	if parent == nil || parent.Kind != types.KindGroupICSession {
		t.Fatalf("missing group_ic_session parent")
	}
	if m := parent.DurationMinutes(); m == nil || *m != 30 {
		t.Errorf("parent duration = %v, want 30", m)
	}
	if leafCount != 4 {
		t.Errorf("want 2x2=4 leaves, got %d", leafCount)
	}
	if fl.launched() != 4 {
		t.Errorf("want 4 worker launches, got %d", fl.launched())
	}
}

func TestStartLinkSkipsSelfLink(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	src := seedAvatar(t, store, "src")
	other := seedAvatar(t, store, "other")
	seedGroup(t, store, types.EntityAvatar, "peers", src, other)

	reply := mustSuccess(t, dispatch(t, d, ActionStartLink, StartLinkArgs{
		SourceID: src, DestGroup: "peers",
	}))
	if !strings.Contains(reply.Message, "Started 1 link session(s).") {
		t.Errorf("unexpected message %q", reply.Message)
	}

	running := sessionsByStatus(t, store, types.StatusRunning)
	for _, sess := range running {
		if sess.IsGroup {
			continue
		}
		if sess.DestAvatarID == nil || *sess.DestAvatarID != other {
			t.Errorf("leaf links to %v, want %d", sess.DestAvatarID, other)
		}
		if !strings.HasPrefix(sess.Description, "Link: 'src' -> 'other'") {
			t.Errorf("unexpected description %q", sess.Description)
		}
	}
}

func TestStartRequestGroupByGroup(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	a1 := seedAvatar(t, store, "a1")
	a2 := seedAvatar(t, store, "a2")
	r1 := seedRequest(t, store, "r1")
	r2 := seedRequest(t, store, "r2")
	seedGroup(t, store, types.EntityAvatar, "crew", a1, a2)
	seedGroup(t, store, types.EntityRequest, "asks", r1, r2)

	mustSuccess(t, dispatch(t, d, ActionStartRequest, StartRequestArgs{
		AvatarGroup: "crew", RequestGroup: "asks",
	}))

	running := sessionsByStatus(t, store, types.StatusRunning)
	var parent *types.Session
	leafCount := 0
	for _, sess := range running {
		if sess.IsGroup {
			parent = sess
		} else {
			leafCount++
		}
	}
	if parent == nil {
		t.Fatal("missing parent session")
	}
	if parent.Description != "Request Group 'asks' on Avatar Group 'crew'" {
		t.Errorf("unexpected parent description %q", parent.Description)
	}
	if parent.AvatarGroupID == nil || parent.RequestGroupID == nil {
		t.Errorf("cross-group parent must reference both groups")
	}
	if leafCount != 4 {
		t.Errorf("want 4 leaves, got %d", leafCount)
	}
}

func TestStartICEmptyGroupFails(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	icID := seedIC(t, store, "copy1")
	seedGroup(t, store, types.EntityAvatar, "empty")

	reply := dispatch(t, d, ActionStartIC, StartICArgs{ICID: icID, AvatarGroup: "empty"})
	if reply.Status != StatusError {
		t.Fatalf("empty group start must fail, got %q", reply.Message)
	}
	if !strings.Contains(reply.Message, "empty") {
		t.Errorf("error %q does not mention the empty group", reply.Message)
	}
	if got := sessionsByStatus(t, store, types.StatusRunning); len(got) != 0 {
		t.Errorf("no sessions should exist after a failed start, got %d", len(got))
	}
}

func TestStopParentStopsChildren(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	a1 := seedAvatar(t, store, "a1")
	a2 := seedAvatar(t, store, "a2")
	icID := seedIC(t, store, "copy1")
	seedGroup(t, store, types.EntityAvatar, "crew", a1, a2)

	mustSuccess(t, dispatch(t, d, ActionStartIC, StartICArgs{ICID: icID, AvatarGroup: "crew"}))

	running := sessionsByStatus(t, store, types.StatusRunning)
	var parentID int64
	for _, sess := range running {
		if sess.IsGroup {
			parentID = sess.ID
		}
	}

	reply := mustSuccess(t, dispatch(t, d, ActionStopSession, StopSessionArgs{SessionID: parentID}))
	if !strings.Contains(reply.Message, "Stopped 3 session(s).") {
		t.Errorf("unexpected message %q", reply.Message)
	}
	if got := sessionsByStatus(t, store, types.StatusRunning); len(got) != 0 {
		t.Errorf("want no running sessions, got %d", len(got))
	}
	if got := sessionsByStatus(t, store, types.StatusStopped); len(got) != 3 {
		t.Errorf("want 3 stopped sessions, got %d", len(got))
	}
	if d.sup.Live() != 0 {
		t.Errorf("supervisor still tracks %d workers", d.sup.Live())
	}
}

func TestStopSessionAlreadyTerminal(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	avatarID := seedAvatar(t, store, "alice")
	icID := seedIC(t, store, "copy1")
	mustSuccess(t, dispatch(t, d, ActionStartIC, StartICArgs{ICID: icID, AvatarID: &avatarID}))

	sessID := sessionsByStatus(t, store, types.StatusRunning)[0].ID
	mustSuccess(t, dispatch(t, d, ActionStopSession, StopSessionArgs{SessionID: sessID}))
	reply := mustSuccess(t, dispatch(t, d, ActionStopSession, StopSessionArgs{SessionID: sessID}))
	if !strings.Contains(reply.Message, "terminal") {
		t.Errorf("second stop should be a terminal-state no-op, got %q", reply.Message)
	}
}

func TestAddAvatarToGroupSpawnsRetroactively(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	a1 := seedAvatar(t, store, "a1")
	icID := seedIC(t, store, "copy1")
	seedGroup(t, store, types.EntityAvatar, "crew", a1)
	mustSuccess(t, dispatch(t, d, ActionStartIC, StartICArgs{ICID: icID, AvatarGroup: "crew"}))

	newcomer := seedAvatar(t, store, "a2")
	reply := mustSuccess(t, dispatch(t, d, ActionAddMember, MemberArgs{
		GroupType: "avatar", GroupName: "crew", MemberID: newcomer,
	}))
	if !strings.Contains(reply.Message, "Started 1 new live session(s).") {
		t.Errorf("unexpected message %q", reply.Message)
	}

	running := sessionsByStatus(t, store, types.StatusRunning)
	// parent + original leaf + retroactive leaf
	if len(running) != 3 {
		t.Fatalf("want 3 running sessions, got %d", len(running))
	}
	var retro *types.Session
	for _, sess := range running {
		if !sess.IsGroup && sess.AvatarID != nil && *sess.AvatarID == newcomer {
			retro = sess
		}
	}
	if retro == nil {
		t.Fatal("no session spawned for the new member")
	}
	if !strings.Contains(retro.Description, "'a2' <=> 'copy1'") {
		t.Errorf("unexpected description %q", retro.Description)
	}
}

func TestAddICToGroupSpawnsAcrossAvatars(t *testing.T) {
	d, store, fl := newTestDaemon(t)
	a1 := seedAvatar(t, store, "a1")
	a2 := seedAvatar(t, store, "a2")
	ic1 := seedIC(t, store, "c1")
	seedGroup(t, store, types.EntityAvatar, "crew", a1, a2)
	seedGroup(t, store, types.EntityIC, "tapes", ic1)
	mustSuccess(t, dispatch(t, d, ActionStartGroup, StartGroupArgs{AvatarGroup: "crew", ICGroup: "tapes"}))

	before := fl.launched()
	ic2 := seedIC(t, store, "c2")
	reply := mustSuccess(t, dispatch(t, d, ActionAddMember, MemberArgs{
		GroupType: "ic", GroupName: "tapes", MemberID: ic2,
	}))
	if !strings.Contains(reply.Message, "Started 2 new live session(s).") {
		t.Errorf("unexpected message %q", reply.Message)
	}
	if fl.launched()-before != 2 {
		t.Errorf("want 2 new launches, got %d", fl.launched()-before)
	}
}

func TestAddRequestToGroupNeverSpawns(t *testing.T) {
	d, store, fl := newTestDaemon(t)
	a1 := seedAvatar(t, store, "a1")
	r1 := seedRequest(t, store, "r1")
	seedGroup(t, store, types.EntityAvatar, "crew", a1)
	seedGroup(t, store, types.EntityRequest, "asks", r1)
	mustSuccess(t, dispatch(t, d, ActionStartRequest, StartRequestArgs{
		AvatarGroup: "crew", RequestGroup: "asks",
	}))

	before := fl.launched()
	r2 := seedRequest(t, store, "r2")
	reply := mustSuccess(t, dispatch(t, d, ActionAddMember, MemberArgs{
		GroupType: "request", GroupName: "asks", MemberID: r2,
	}))
	if !strings.Contains(reply.Message, "No new sessions started.") {
		t.Errorf("unexpected message %q", reply.Message)
	}
	if fl.launched() != before {
		t.Errorf("request group add must not launch workers")
	}
}

func TestRemoveMemberStopsItsSessions(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	a1 := seedAvatar(t, store, "a1")
	a2 := seedAvatar(t, store, "a2")
	icID := seedIC(t, store, "copy1")
	seedGroup(t, store, types.EntityAvatar, "crew", a1, a2)
	mustSuccess(t, dispatch(t, d, ActionStartIC, StartICArgs{ICID: icID, AvatarGroup: "crew"}))

	reply := mustSuccess(t, dispatch(t, d, ActionRemoveMember, MemberArgs{
		GroupType: "avatar", GroupName: "crew", MemberID: a1,
	}))
	if !strings.Contains(reply.Message, "Stopped 1 live session(s).") {
		t.Errorf("unexpected message %q", reply.Message)
	}

	for _, sess := range sessionsByStatus(t, store, types.StatusRunning) {
		if !sess.IsGroup && sess.AvatarID != nil && *sess.AvatarID == a1 {
			t.Errorf("session %d for removed member still running", sess.ID)
		}
	}
}

func TestUpdateEntityRestartsItsSessions(t *testing.T) {
	d, store, fl := newTestDaemon(t)
	avatarID := seedAvatar(t, store, "alice")
	icID := seedIC(t, store, "copy1")
	mustSuccess(t, dispatch(t, d, ActionStartIC, StartICArgs{ICID: icID, AvatarID: &avatarID}))

	before := fl.launched()
	info := "new info"
	reply := mustSuccess(t, dispatch(t, d, ActionUpdateEntity, UpdateEntityArgs{
		EntityType: "avatar", ID: avatarID, InfoData: &info,
	}))
	if !strings.Contains(reply.Message, "Restarted 1 active session(s).") {
		t.Errorf("unexpected message %q", reply.Message)
	}
	if fl.launched()-before != 1 {
		t.Errorf("want exactly one relaunch, got %d", fl.launched()-before)
	}

	// The relaunched worker must see the fresh payload, not the cached one.
	last := fl.specs[len(fl.specs)-1]
	if !strings.Contains(decodeForTest(t, last.Item1B64), "new info") {
		t.Errorf("relaunched worker payload missing updated info")
	}
}

func decodeForTest(t *testing.T, b64 string) string {
	t.Helper()
	b, err := decodeB64("payload", b64)
	if err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	return string(b)
}

func TestRemoveEntityStopsAndDeletes(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	avatarID := seedAvatar(t, store, "alice")
	icID := seedIC(t, store, "copy1")
	mustSuccess(t, dispatch(t, d, ActionStartIC, StartICArgs{ICID: icID, AvatarID: &avatarID}))

	reply := mustSuccess(t, dispatch(t, d, ActionRemoveEntity, RemoveEntityArgs{
		EntityType: "avatar", ID: avatarID,
	}))
	if !strings.Contains(reply.Message, "Stopped 1 session(s)") {
		t.Errorf("unexpected message %q", reply.Message)
	}
	if got := sessionsByStatus(t, store, types.StatusRunning); len(got) != 0 {
		t.Errorf("sessions survived entity removal")
	}
	// Second removal is a no-op success.
	reply = mustSuccess(t, dispatch(t, d, ActionRemoveEntity, RemoveEntityArgs{
		EntityType: "avatar", ID: avatarID,
	}))
	if !strings.Contains(reply.Message, "already deleted") {
		t.Errorf("unexpected message %q", reply.Message)
	}
}

func TestFailAllThenRedo(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	a1 := seedAvatar(t, store, "a1")
	a2 := seedAvatar(t, store, "a2")
	icID := seedIC(t, store, "copy1")
	seedGroup(t, store, types.EntityAvatar, "crew", a1, a2)
	mustSuccess(t, dispatch(t, d, ActionStartIC, StartICArgs{ICID: icID, AvatarGroup: "crew"}))

	reply := mustSuccess(t, dispatch(t, d, ActionFailAll, struct{}{}))
	if !strings.Contains(reply.Message, "failed 3 running session(s).") {
		t.Errorf("unexpected message %q", reply.Message)
	}
	if got := sessionsByStatus(t, store, types.StatusFailed); len(got) != 3 {
		t.Fatalf("want 3 failed sessions, got %d", len(got))
	}

	reply = mustSuccess(t, dispatch(t, d, ActionRedoFailed, struct{}{}))
	if !strings.Contains(reply.Message, "restarted 2 failed session(s).") {
		t.Errorf("unexpected message %q", reply.Message)
	}

	running := sessionsByStatus(t, store, types.StatusRunning)
	if len(running) != 2 {
		t.Fatalf("want 2 running redo sessions, got %d", len(running))
	}
	for _, sess := range running {
		if !strings.HasPrefix(sess.Description, "[REDO] ") {
			t.Errorf("redo session description %q missing prefix", sess.Description)
		}
	}
	if got := sessionsByStatus(t, store, types.StatusRestarted); len(got) != 3 {
		t.Errorf("want 3 restarted sessions (parent included), got %d", len(got))
	}
}

func TestFailOnTargetGroupFailsParents(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	a1 := seedAvatar(t, store, "a1")
	icID := seedIC(t, store, "copy1")
	seedGroup(t, store, types.EntityAvatar, "crew", a1)
	mustSuccess(t, dispatch(t, d, ActionStartIC, StartICArgs{ICID: icID, AvatarGroup: "crew"}))

	reply := mustSuccess(t, dispatch(t, d, ActionFailOnTarget, FailOnTargetArgs{AvatarGroup: "crew"}))
	if !strings.Contains(reply.Message, "to FAILED.") {
		t.Errorf("unexpected message %q", reply.Message)
	}
	if got := sessionsByStatus(t, store, types.StatusFailed); len(got) != 2 {
		t.Errorf("want parent and leaf failed, got %d", len(got))
	}
}

func TestFailOnTargetAvatarFailsLinkParent(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	src := seedAvatar(t, store, "src")
	dst := seedAvatar(t, store, "dst")
	seedGroup(t, store, types.EntityAvatar, "peers", dst)
	mustSuccess(t, dispatch(t, d, ActionStartLink, StartLinkArgs{
		SourceID: src, DestGroup: "peers",
	}))

	reply := mustSuccess(t, dispatch(t, d, ActionFailOnTarget, FailOnTargetArgs{AvatarID: &src}))
	if !strings.Contains(reply.Message, "Set 2 session(s)") {
		t.Errorf("unexpected message %q", reply.Message)
	}
	if got := sessionsByStatus(t, store, types.StatusRunning); len(got) != 0 {
		t.Errorf("want nothing running, got %d", len(got))
	}
	failed := sessionsByStatus(t, store, types.StatusFailed)
	if len(failed) != 2 {
		t.Fatalf("want parent and leaf failed, got %d", len(failed))
	}
	sawParent := false
	for _, sess := range failed {
		if sess.IsGroup {
			sawParent = true
			if sess.AvatarID == nil || *sess.AvatarID != src {
				t.Errorf("failed parent does not reference the source avatar")
			}
		}
	}
	if !sawParent {
		t.Error("link parent referencing the avatar survived the fail")
	}
}

func TestRemoveMemberNotInGroupIsNoOp(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	a1 := seedAvatar(t, store, "a1")
	outsider := seedAvatar(t, store, "outsider")
	icID := seedIC(t, store, "copy1")
	seedGroup(t, store, types.EntityAvatar, "crew", a1)
	mustSuccess(t, dispatch(t, d, ActionStartIC, StartICArgs{ICID: icID, AvatarGroup: "crew"}))

	reply := mustSuccess(t, dispatch(t, d, ActionRemoveMember, MemberArgs{
		GroupType: "avatar", GroupName: "crew", MemberID: outsider,
	}))
	if !strings.Contains(reply.Message, "was not in group") {
		t.Errorf("unexpected message %q", reply.Message)
	}
	// parent + member leaf untouched
	if got := sessionsByStatus(t, store, types.StatusRunning); len(got) != 2 {
		t.Errorf("no-op removal changed session state: %d running", len(got))
	}
}

func TestViewRunningOnPromotesGroupChildren(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	a1 := seedAvatar(t, store, "alice")
	icID := seedIC(t, store, "copy1")
	seedGroup(t, store, types.EntityAvatar, "crew", a1)
	mustSuccess(t, dispatch(t, d, ActionStartIC, StartICArgs{ICID: icID, AvatarGroup: "crew"}))

	data, _ := json.Marshal(ViewArgs{AvatarIdentifier: "alice"})
	result := d.Dispatch(context.Background(), Command{Action: ActionViewRunningOn, Data: data})
	view, ok := result.(ViewReply)
	if !ok {
		t.Fatalf("unexpected reply type %T", result)
	}
	if view.AvatarName != "alice" || view.AvatarID != a1 {
		t.Errorf("wrong avatar resolved: %s/%d", view.AvatarName, view.AvatarID)
	}
	if len(view.Data) != 1 {
		t.Fatalf("want 1 row, got %d", len(view.Data))
	}
	if !strings.HasPrefix(view.Data[0].Target, "Part of Group Session #") {
		t.Errorf("group child target not promoted: %q", view.Data[0].Target)
	}
	if view.Data[0].DurationMinutes != nil {
		t.Errorf("infinite session must report null duration")
	}
}

func TestSpawnFailureMarksSessionFailed(t *testing.T) {
	d, store, fl := newTestDaemon(t)
	avatarID := seedAvatar(t, store, "alice")
	icID := seedIC(t, store, "copy1")
	fl.failAll = true

	reply := dispatch(t, d, ActionStartIC, StartICArgs{ICID: icID, AvatarID: &avatarID})
	if reply.Status != StatusError {
		t.Fatalf("all-spawns-failed start should report an error, got %q", reply.Message)
	}
	if got := sessionsByStatus(t, store, types.StatusFailed); len(got) != 1 {
		t.Errorf("want the session FAILED after launch refusal, got %d", len(got))
	}
}

func TestUnknownActionRejected(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	reply := dispatch(t, d, "frobnicate", struct{}{})
	if reply.Status != StatusError || !strings.Contains(reply.Message, "unknown action") {
		t.Errorf("unexpected reply %+v", reply)
	}
}

func TestRunRecoversOrphanedSessions(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	ctx := context.Background()

	avatarID := seedAvatar(t, store, "alice")
	icID := seedIC(t, store, "copy1")
	pid := 4242
	orphan := &types.Session{
		Kind:      types.KindICSession,
		AvatarID:  &avatarID,
		ICID:      &icID,
		Status:    types.StatusRunning,
		WorkerPID: &pid,
	}
	if err := store.CreateSession(ctx, orphan); err != nil {
		t.Fatalf("seeding orphan: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(runCtx) }()

	select {
	case <-d.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon never became ready")
	}

	conn, err := net.Dial("tcp", d.Addr())
	if err != nil {
		t.Fatalf("dialing daemon: %v", err)
	}
	if err := json.NewEncoder(conn).Encode(Command{Action: ActionPing, Data: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("sending ping: %v", err)
	}
	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		t.Fatalf("reading reply: %v", err)
	}
	conn.Close()
	if reply.Status != StatusSuccess || reply.Message != "pong" {
		t.Errorf("unexpected ping reply %+v", reply)
	}

	got, err := store.GetSession(ctx, orphan.ID)
	if err != nil {
		t.Fatalf("reloading orphan: %v", err)
	}
	if got.Status != types.StatusFailed {
		t.Errorf("orphan status = %s, want %s", got.Status, types.StatusFailed)
	}
	if got.WorkerPID != nil {
		t.Errorf("orphan still carries a worker pid")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("daemon run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("daemon did not shut down")
	}
}
