package rtc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

func newTestLink(tr MediaTransport) *PeerLink {
	return newPeerLink("remote", tr, zerolog.Nop())
}

func TestOfferMovesNewToOffering(t *testing.T) {
	tr := newFakeTransport()
	link := newTestLink(tr)

	sdp, err := link.Offer(nil)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if sdp.SDP == "" {
		t.Error("Offer returned empty SDP")
	}
	if got := link.State(); got != StateOffering {
		t.Errorf("state after Offer: got %s, want offering", got)
	}

	if _, err := link.Offer(nil); !errors.Is(err, ErrBadLinkState) {
		t.Errorf("second Offer: got %v, want ErrBadLinkState", err)
	}
}

func TestCandidatesQueueUntilRemoteDescriptionThenFlushInOrder(t *testing.T) {
	tr := newFakeTransport()
	link := newTestLink(tr)

	for i := 0; i < 3; i++ {
		if err := link.AddRemoteCandidate(cand(fmt.Sprintf("c%d", i))); err != nil {
			t.Fatalf("AddRemoteCandidate c%d: %v", i, err)
		}
	}
	if got := len(tr.appliedCandidates()); got != 0 {
		t.Fatalf("candidates applied before remote description: %d", got)
	}
	if got := link.PendingCandidates(); got != 3 {
		t.Fatalf("pending queue size: got %d, want 3", got)
	}

	if _, err := link.Answer(fakeOffer(), nil); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	applied := tr.appliedCandidates()
	if len(applied) != 3 {
		t.Fatalf("applied after flush: got %d, want 3", len(applied))
	}
	for i, c := range applied {
		if want := fmt.Sprintf("c%d", i); c.Candidate != want {
			t.Errorf("flush order at %d: got %s, want %s", i, c.Candidate, want)
		}
	}
	if got := link.PendingCandidates(); got != 0 {
		t.Errorf("queue not cleared after flush: %d", got)
	}

	// A later candidate applies immediately, exactly once.
	if err := link.AddRemoteCandidate(cand("late")); err != nil {
		t.Fatalf("late AddRemoteCandidate: %v", err)
	}
	applied = tr.appliedCandidates()
	if len(applied) != 4 || applied[3].Candidate != "late" {
		t.Errorf("late candidate not applied directly: %v", applied)
	}
}

func TestAnswerMovesNewToAnswering(t *testing.T) {
	tr := newFakeTransport()
	link := newTestLink(tr)

	sdp, err := link.Answer(fakeOffer(), nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if sdp.SDP == "" {
		t.Error("Answer returned empty SDP")
	}
	if got := link.State(); got != StateAnswering {
		t.Errorf("state after Answer: got %s, want answering", got)
	}
	if !link.RemoteDescriptionSet() {
		t.Error("remote description flag not set after Answer")
	}
}

func TestAcceptAnswerOnlyWhileOffering(t *testing.T) {
	t.Run("accepted in offering", func(t *testing.T) {
		tr := newFakeTransport()
		link := newTestLink(tr)
		if _, err := link.Offer(nil); err != nil {
			t.Fatalf("Offer: %v", err)
		}
		if err := link.AcceptAnswer(fakeAnswer()); err != nil {
			t.Fatalf("AcceptAnswer: %v", err)
		}
		if got := link.State(); got != StateConnected {
			t.Errorf("state after AcceptAnswer: got %s, want connected", got)
		}
	})

	t.Run("rejected in new", func(t *testing.T) {
		link := newTestLink(newFakeTransport())
		if err := link.AcceptAnswer(fakeAnswer()); !errors.Is(err, ErrBadLinkState) {
			t.Errorf("got %v, want ErrBadLinkState", err)
		}
	})

	t.Run("rejected while answering", func(t *testing.T) {
		link := newTestLink(newFakeTransport())
		if _, err := link.Answer(fakeOffer(), nil); err != nil {
			t.Fatalf("Answer: %v", err)
		}
		if err := link.AcceptAnswer(fakeAnswer()); !errors.Is(err, ErrBadLinkState) {
			t.Errorf("got %v, want ErrBadLinkState", err)
		}
	})

	t.Run("duplicate answer rejected", func(t *testing.T) {
		tr := newFakeTransport()
		link := newTestLink(tr)
		if _, err := link.Offer(nil); err != nil {
			t.Fatalf("Offer: %v", err)
		}
		if err := link.AcceptAnswer(fakeAnswer()); err != nil {
			t.Fatalf("first AcceptAnswer: %v", err)
		}
		if err := link.AcceptAnswer(fakeAnswer()); !errors.Is(err, ErrBadLinkState) {
			t.Errorf("second AcceptAnswer: got %v, want ErrBadLinkState", err)
		}
		if got := len(tr.remote); got != 1 {
			t.Errorf("remote description set %d times, want 1", got)
		}
	})
}

func TestMalformedCandidateIsSwallowed(t *testing.T) {
	tr := newFakeTransport()
	link := newTestLink(tr)
	if _, err := link.Answer(fakeOffer(), nil); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	tr.candidateErr = errors.New("malformed candidate")
	if err := link.AddRemoteCandidate(cand("bad")); err != nil {
		t.Errorf("bad candidate should be swallowed, got %v", err)
	}
	if got := link.State(); got != StateAnswering {
		t.Errorf("link state after bad candidate: got %s, want answering", got)
	}
}

func TestTerminalStatesAdmitNoFurtherOperations(t *testing.T) {
	terminalize := map[string]func(*PeerLink){
		"closed": func(l *PeerLink) { l.Close() },
		"failed": func(l *PeerLink) { l.Fail() },
	}
	for name, makeTerminal := range terminalize {
		t.Run(name, func(t *testing.T) {
			tr := newFakeTransport()
			link := newTestLink(tr)
			if err := link.AddRemoteCandidate(cand("early")); err != nil {
				t.Fatalf("seed candidate: %v", err)
			}
			makeTerminal(link)

			if !link.State().Terminal() {
				t.Fatalf("state %s is not terminal", link.State())
			}
			if err := link.AddRemoteCandidate(cand("after")); !errors.Is(err, ErrLinkTerminal) {
				t.Errorf("AddRemoteCandidate: got %v, want ErrLinkTerminal", err)
			}
			if _, err := link.Offer(nil); !errors.Is(err, ErrLinkTerminal) {
				t.Errorf("Offer: got %v, want ErrLinkTerminal", err)
			}
			if _, err := link.Answer(fakeOffer(), nil); !errors.Is(err, ErrLinkTerminal) {
				t.Errorf("Answer: got %v, want ErrLinkTerminal", err)
			}
			if err := link.AcceptAnswer(fakeAnswer()); !errors.Is(err, ErrLinkTerminal) {
				t.Errorf("AcceptAnswer: got %v, want ErrLinkTerminal", err)
			}
			if got := link.PendingCandidates(); got != 0 {
				t.Errorf("terminal link kept %d queued candidates", got)
			}
			if got := len(tr.appliedCandidates()); got != 0 {
				t.Errorf("terminal link applied %d candidates", got)
			}
		})
	}
}

func TestCloseIsIdempotentAndReleasesTransport(t *testing.T) {
	tr := newFakeTransport()
	link := newTestLink(tr)

	link.Close()
	link.Close()
	if !tr.isClosed() {
		t.Error("transport not closed")
	}
	if got := link.State(); got != StateClosed {
		t.Errorf("state: got %s, want closed", got)
	}
}

func TestFailThenCloseReleasesTransport(t *testing.T) {
	tr := newFakeTransport()
	link := newTestLink(tr)

	if !link.Fail() {
		t.Fatal("Fail reported no transition")
	}
	if link.Fail() {
		t.Error("second Fail reported a transition")
	}
	link.Close()
	if !tr.isClosed() {
		t.Error("transport not released after fail/close")
	}
}
