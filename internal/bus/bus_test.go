package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMsg struct {
	ID string
}

func (m fakeMsg) MessageType() string { return "fake" }
func (m fakeMsg) Validate() error     { return requireNonBlank("fake", "id", m.ID) }

func TestBroadcastDeliversToSubscriber(t *testing.T) {
	b := New(zap.NewNop().Sugar())

	var mu sync.Mutex
	var got Envelope
	done := make(chan struct{})

	err := b.Subscribe("topic.test", func(env Envelope) {
		mu.Lock()
		got = env
		mu.Unlock()
		close(done)
	})
	require.NoError(t, err)

	b.Broadcast("topic.test", fakeMsg{ID: "a"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "fake", got.MessageType)
	require.Equal(t, fakeMsg{ID: "a"}, got.Body)
}

func TestSendTargetsOnlyOneSubscriber(t *testing.T) {
	b := New(zap.NewNop().Sugar())

	oneDone := make(chan struct{})
	otherDone := make(chan struct{})

	require.NoError(t, b.Subscribe(targetChannel("chan", "one"), func(Envelope) { close(oneDone) }))
	require.NoError(t, b.Subscribe(targetChannel("chan", "other"), func(Envelope) { close(otherDone) }))

	b.Send("one", "chan", fakeMsg{ID: "x"})

	select {
	case <-oneDone:
	case <-time.After(time.Second):
		t.Fatal("targeted subscriber never ran")
	}

	select {
	case <-otherDone:
		t.Fatal("non-targeted subscriber should not have run")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribePanicIsIsolated(t *testing.T) {
	b := New(zap.NewNop().Sugar())

	done := make(chan struct{})
	require.NoError(t, b.Subscribe("topic.panic", func(Envelope) {
		defer close(done)
		panic("boom")
	}))

	require.NotPanics(t, func() {
		b.Broadcast("topic.panic", fakeMsg{ID: "a"})
		<-done
		time.Sleep(10 * time.Millisecond)
	})
}

func TestUnsubscribeRemovesTheWrappedHandler(t *testing.T) {
	b := New(zap.NewNop().Sugar())

	calls := make(chan struct{}, 1)
	var handler Handler = func(Envelope) { calls <- struct{}{} }

	require.NoError(t, b.Subscribe("topic.unsub", handler))
	b.Broadcast("topic.unsub", fakeMsg{ID: "a"})

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("handler never ran before unsubscribing")
	}

	require.NoError(t, b.Unsubscribe("topic.unsub", handler))
	b.Broadcast("topic.unsub", fakeMsg{ID: "b"})

	select {
	case <-calls:
		t.Fatal("handler ran after being unsubscribed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeUnknownHandlerReturnsError(t *testing.T) {
	b := New(zap.NewNop().Sugar())

	err := b.Unsubscribe("topic.never-subscribed", func(Envelope) {})
	require.Error(t, err)
}

func TestValidateStructRejectsBlankRequiredField(t *testing.T) {
	err := ValidateStruct("fake", struct {
		ID string `valid:"required"`
	}{""})
	require.Error(t, err)
}

func TestValidateStructAcceptsPopulatedFields(t *testing.T) {
	err := ValidateStruct("fake", struct {
		ID string `valid:"required"`
	}{"present"})
	require.NoError(t, err)
}
