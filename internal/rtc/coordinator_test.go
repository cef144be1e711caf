package rtc

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/aveles/syncroom/internal/domain"
)

type fakeFactory struct {
	mu   sync.Mutex
	made []*fakeTransport
}

func (f *fakeFactory) new() (MediaTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr := newFakeTransport()
	f.made = append(f.made, tr)
	return tr, nil
}

func (f *fakeFactory) transport(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.made[i]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.made)
}

func newTestCoordinator(self domain.UserID) (*Coordinator, *fakeFactory) {
	f := &fakeFactory{}
	return NewCoordinator(self, f.new), f
}

// drainEvents empties whatever is currently buffered on the event channel.
func drainEvents(c *Coordinator) []Event {
	var out []Event
	for {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestCreateOfferReplacesExistingLink(t *testing.T) {
	c, f := newTestCoordinator("self")
	defer c.Destroy()

	if _, err := c.CreateOffer("peer", nil); err != nil {
		t.Fatalf("first CreateOffer: %v", err)
	}
	if _, err := c.CreateOffer("peer", nil); err != nil {
		t.Fatalf("second CreateOffer: %v", err)
	}

	if !f.transport(0).isClosed() {
		t.Error("first transport not closed on replacement")
	}
	if f.transport(1).isClosed() {
		t.Error("replacement transport closed")
	}
	if got := c.LinkCount(); got != 1 {
		t.Errorf("LinkCount: got %d, want 1", got)
	}
	if st, ok := c.LinkState("peer"); !ok || st != StateOffering {
		t.Errorf("link state: got %s ok=%v, want offering", st, ok)
	}
}

func TestCreateOfferToSelfRejected(t *testing.T) {
	c, _ := newTestCoordinator("self")
	defer c.Destroy()
	if _, err := c.CreateOffer("self", nil); err == nil {
		t.Error("offer to self succeeded")
	}
}

func TestHandleAnswerWithoutLinkIsLoggedNoOp(t *testing.T) {
	c, _ := newTestCoordinator("self")
	defer c.Destroy()
	c.HandleAnswer("stranger", fakeAnswer())
	if got := c.LinkCount(); got != 0 {
		t.Errorf("no-op answer created a link: count %d", got)
	}
}

func TestHandleAnswerOutsideOfferingIsDropped(t *testing.T) {
	c, f := newTestCoordinator("self")
	defer c.Destroy()

	if _, err := c.HandleOffer("peer", fakeOffer(), nil); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	c.HandleAnswer("peer", fakeAnswer())

	if st, _ := c.LinkState("peer"); st != StateAnswering {
		t.Errorf("state after stray answer: got %s, want answering", st)
	}
	if got := len(f.transport(0).remote); got != 1 {
		t.Errorf("remote description applied %d times, want 1 (the offer)", got)
	}
}

func TestPlaceholderQueueSurvivesUntilOfferArrives(t *testing.T) {
	c, f := newTestCoordinator("self")
	defer c.Destroy()

	c.AddICECandidate("peer", cand("c0"))
	c.AddICECandidate("peer", cand("c1"))
	if got := c.LinkCount(); got != 0 {
		t.Fatalf("placeholder queue created a link: count %d", got)
	}

	if _, err := c.HandleOffer("peer", fakeOffer(), nil); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	applied := f.transport(0).appliedCandidates()
	if len(applied) != 2 || applied[0].Candidate != "c0" || applied[1].Candidate != "c1" {
		t.Errorf("adopted candidates misapplied: %v", applied)
	}
}

// Placeholder queues exist for candidates that outran their offer; a peer
// whose offer never comes must not let them grow without bound.
func TestPlaceholderQueuesAreBounded(t *testing.T) {
	c, f := newTestCoordinator("self")
	defer c.Destroy()

	for i := 0; i < maxPendingCandidates+5; i++ {
		c.AddICECandidate("peer", cand(fmt.Sprintf("c%d", i)))
	}
	if _, err := c.HandleOffer("peer", fakeOffer(), nil); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if got := len(f.transport(0).appliedCandidates()); got != maxPendingCandidates {
		t.Errorf("adopted candidates: got %d, want cap %d", got, maxPendingCandidates)
	}

	for i := 0; i < maxPendingPeers+5; i++ {
		c.AddICECandidate(domain.UserID(fmt.Sprintf("stranger%d", i)), cand("x"))
	}
	c.mu.Lock()
	held := len(c.orphans)
	c.mu.Unlock()
	if held != maxPendingPeers {
		t.Errorf("placeholder peers: got %d, want cap %d", held, maxPendingPeers)
	}
}

func TestLocalCandidatesEmitImmediately(t *testing.T) {
	c, f := newTestCoordinator("self")
	defer c.Destroy()

	if _, err := c.CreateOffer("peer", nil); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	drainEvents(c)

	f.transport(0).onICE(cand("local0"))

	events := drainEvents(c)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev, ok := events[0].(LocalCandidateEvent)
	if !ok {
		t.Fatalf("got %T, want LocalCandidateEvent", events[0])
	}
	if ev.PeerID != "peer" || ev.Candidate.Candidate != "local0" {
		t.Errorf("unexpected event payload: %+v", ev)
	}
}

func TestRemoteTracksCoalesceIntoOneStreamPerPeer(t *testing.T) {
	c, f := newTestCoordinator("self")
	defer c.Destroy()

	if _, err := c.HandleOffer("peer", fakeOffer(), nil); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	drainEvents(c)

	tr := f.transport(0)
	tr.onTrack(RemoteTrack{ID: "video", StreamID: "stream-a"})
	tr.onTrack(RemoteTrack{ID: "audio", StreamID: "stream-b"})
	tr.onTrack(RemoteTrack{ID: "video", StreamID: "stream-a"}) // duplicate arrival

	events := drainEvents(c)
	if len(events) != 2 {
		t.Fatalf("got %d track events, want 2", len(events))
	}
	for _, raw := range events {
		ev, ok := raw.(RemoteTrackEvent)
		if !ok {
			t.Fatalf("got %T, want RemoteTrackEvent", raw)
		}
		if ev.StreamID != "stream-a" {
			t.Errorf("track %s carried stream %s, want pinned stream-a", ev.Track.ID, ev.StreamID)
		}
	}
}

func TestTransportFailureMarksLinkFailed(t *testing.T) {
	c, f := newTestCoordinator("self")
	defer c.Destroy()

	if _, err := c.CreateOffer("peer", nil); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	drainEvents(c)

	f.transport(0).onState(webrtc.PeerConnectionStateFailed)

	if st, _ := c.LinkState("peer"); st != StateFailed {
		t.Fatalf("state after transport failure: got %s, want failed", st)
	}
	events := drainEvents(c)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if ev, ok := events[0].(PeerStateEvent); !ok || ev.State != StateFailed {
		t.Errorf("got %+v, want failed PeerStateEvent", events[0])
	}

	// Recovery is a fresh link, not a resurrected one.
	if _, err := c.CreateOffer("peer", nil); err != nil {
		t.Fatalf("re-offer after failure: %v", err)
	}
	if f.count() != 2 {
		t.Errorf("re-offer reused transport: %d transports", f.count())
	}
	if st, _ := c.LinkState("peer"); st != StateOffering {
		t.Errorf("fresh link state: got %s, want offering", st)
	}
}

func TestAnsweringSideConnectsOnTransportSignal(t *testing.T) {
	c, f := newTestCoordinator("self")
	defer c.Destroy()

	if _, err := c.HandleOffer("peer", fakeOffer(), nil); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	f.transport(0).onState(webrtc.PeerConnectionStateConnected)

	if st, _ := c.LinkState("peer"); st != StateConnected {
		t.Errorf("state: got %s, want connected", st)
	}
}

// Star topology: host H shares to V1 (already present) and V2 (late join).
// H ends with one link per viewer; viewers hold a single link to H and none
// to each other.
func TestShareSessionBuildsStarTopology(t *testing.T) {
	host, _ := newTestCoordinator("H")
	v1, _ := newTestCoordinator("V1")
	v2, _ := newTestCoordinator("V2")
	defer host.Destroy()
	defer v1.Destroy()
	defer v2.Destroy()

	connect := func(viewer *Coordinator, id domain.UserID) {
		t.Helper()
		offer, err := host.CreateOffer(id, nil)
		if err != nil {
			t.Fatalf("host offer to %s: %v", id, err)
		}
		answer, err := viewer.HandleOffer("H", offer, nil)
		if err != nil {
			t.Fatalf("%s answer: %v", id, err)
		}
		host.HandleAnswer(id, answer)
	}

	connect(v1, "V1")
	connect(v2, "V2") // late joiner gets its own fresh offer

	if got := host.LinkCount(); got != 2 {
		t.Errorf("host link count: got %d, want 2", got)
	}
	for id, viewer := range map[domain.UserID]*Coordinator{"V1": v1, "V2": v2} {
		if got := viewer.LinkCount(); got != 1 {
			t.Errorf("%s link count: got %d, want 1", id, got)
		}
		if _, ok := viewer.LinkState("H"); !ok {
			t.Errorf("%s has no link to host", id)
		}
		if st, _ := host.LinkState(id); st != StateConnected {
			t.Errorf("host link to %s: got %s, want connected", id, st)
		}
	}
	if _, ok := v1.LinkState("V2"); ok {
		t.Error("viewer V1 holds a link to viewer V2")
	}
	if _, ok := v2.LinkState("V1"); ok {
		t.Error("viewer V2 holds a link to viewer V1")
	}
}

func TestCloseAllSparesException(t *testing.T) {
	c, _ := newTestCoordinator("self")
	defer c.Destroy()

	if _, err := c.CreateOffer("a", nil); err != nil {
		t.Fatalf("offer a: %v", err)
	}
	if _, err := c.CreateOffer("b", nil); err != nil {
		t.Fatalf("offer b: %v", err)
	}

	c.CloseAll("a")
	if got := c.LinkCount(); got != 1 {
		t.Errorf("LinkCount after CloseAll: got %d, want 1", got)
	}
	if _, ok := c.LinkState("a"); !ok {
		t.Error("excepted link was closed")
	}
}

func TestDestroyClosesLinksAndEventChannel(t *testing.T) {
	c, f := newTestCoordinator("self")
	if _, err := c.CreateOffer("peer", nil); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	c.Destroy()
	c.Destroy() // idempotent

	if !f.transport(0).isClosed() {
		t.Error("transport not closed by Destroy")
	}
	if _, err := c.CreateOffer("peer", nil); err != ErrCoordinatorDestroyed {
		t.Errorf("offer after Destroy: got %v, want ErrCoordinatorDestroyed", err)
	}
	// The event channel must drain to closed.
	for range c.Events() {
	}
}
