package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/events"
)

type countingSaver struct {
	mu     sync.Mutex
	calls  int
	stored [][]chat.SerializedChatData
}

func (s *countingSaver) StoreSessions(sessions ...chat.SerializedChatData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.stored = append(s.stored, sessions)
	return nil
}

func (s *countingSaver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixedSource struct {
	sessions []chat.SerializedChatData
}

func (s *fixedSource) SerializeSessions() []chat.SerializedChatData { return s.sessions }

func TestAutoSaverCoalescesRapidTriggers(t *testing.T) {
	saver := &countingSaver{}
	source := &fixedSource{}
	autoSaver := NewAutoSaver(saver, source, WithSaveDelay(50*time.Millisecond))

	autoSaver.Schedule()
	time.Sleep(10 * time.Millisecond)
	autoSaver.Schedule()
	time.Sleep(10 * time.Millisecond)
	autoSaver.Schedule()

	require.Eventually(t, func() bool { return saver.callCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	// no further saves fire without another trigger
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, saver.callCount())
}

func TestAutoSaverFlush(t *testing.T) {
	saver := &countingSaver{}
	source := &fixedSource{sessions: []chat.SerializedChatData{{Version: chat.ChatDataVersion}}}
	autoSaver := NewAutoSaver(saver, source, WithSaveDelay(time.Hour))

	autoSaver.Schedule()
	require.NoError(t, autoSaver.Flush())
	require.Equal(t, 1, saver.callCount())
	require.Len(t, saver.stored[0], 1)

	// the pending timer was cancelled by the flush
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, saver.callCount())
}

func TestAutoSaverReactsToSessionEvents(t *testing.T) {
	router, err := events.NewEventRouter()
	require.NoError(t, err)
	defer func() { _ = router.Close() }()

	saver := &countingSaver{}
	autoSaver := NewAutoSaver(saver, &fixedSource{}, WithSaveDelay(20*time.Millisecond))
	autoSaver.Attach(router)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = router.Run(ctx) }()
	<-router.Running()

	require.NoError(t, router.PublishSessionEvent(ctx, events.NewSessionEvent(events.EventTypeResponseCompleted, "session-1")))
	require.Eventually(t, func() bool { return saver.callCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	// request additions alone do not trigger a save
	require.NoError(t, router.PublishSessionEvent(ctx, events.NewSessionEvent(events.EventTypeRequestAdded, "session-1")))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, saver.callCount())
}

func TestAutoSaverReactsToChangeSetUpdates(t *testing.T) {
	router, err := events.NewEventRouter()
	require.NoError(t, err)
	defer func() { _ = router.Close() }()

	service := NewService(WithEventRouter(router))
	saver := &countingSaver{}
	autoSaver := NewAutoSaver(saver, service, WithSaveDelay(20*time.Millisecond))
	autoSaver.Attach(router)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = router.Run(ctx) }()
	<-router.Running()

	session := service.CreateSession(chat.LocationPanel)
	request, err := session.Model().AddRequest(chat.NewParsedText("change this file"), "agent-1")
	require.NoError(t, err)

	changeSet := chat.NewChangeSet()
	request.SetChangeSet(changeSet)
	changeSet.AddElements(&chat.FileElement{FileURI: "file:///a.go", SuggestedContent: "package a"})

	require.Eventually(t, func() bool { return saver.callCount() >= 1 },
		2*time.Second, 10*time.Millisecond)
}
