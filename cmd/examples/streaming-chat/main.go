package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/session"
)

// weatherAgent streams its answer in small pieces the way a model-backed
// agent would: text deltas, a tool call whose arguments arrive chunked and
// whose result lands after later content already streamed in, then a
// markdown wrap-up.
type weatherAgent struct{}

func (a *weatherAgent) ID() string                 { return "weather" }
func (a *weatherAgent) Name() string               { return "weather" }
func (a *weatherAgent) Description() string        { return "answers weather questions" }
func (a *weatherAgent) Locations() []chat.Location { return nil }

func (a *weatherAgent) Invoke(ctx context.Context, request *chat.RequestModel) error {
	response := request.Response()

	for _, delta := range []string{"Let me look ", "at the forecast."} {
		response.AddContent(chat.NewTextContent(delta))
		time.Sleep(50 * time.Millisecond)
	}

	response.AddContent(chat.NewToolCallContent("call-1", "get_forecast", ""))
	response.AddContent(chat.NewToolCallContent("call-1", "", `{"city":"Paris"}`))
	response.AddContent(chat.NewProgressContent("querying forecast service"))
	time.Sleep(50 * time.Millisecond)

	// the tool finishes after later content already streamed in
	response.AddContent(&chat.ToolCallContent{ID: "call-1", Finished: true, Result: "sunny, 24C"})

	response.AddContent(chat.NewMarkdownContent("**Paris**: sunny at 24C all afternoon."))
	response.Complete()
	return nil
}

type registry struct {
	agents []chat.Agent
}

func (r *registry) FindAgent(nameOrID string) chat.Agent {
	for _, agent := range r.agents {
		if agent.ID() == nameOrID || agent.Name() == nameOrID {
			return agent
		}
	}
	return nil
}

func (r *registry) GetAgents() []chat.Agent { return r.agents }

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("streaming chat example failed")
	}
}

func run() error {
	dir, err := os.MkdirTemp("", "parley-streaming-chat-")
	if err != nil {
		return err
	}

	store, err := session.NewStore(dir)
	if err != nil {
		return err
	}

	router, err := events.NewEventRouter()
	if err != nil {
		return err
	}
	defer func() { _ = router.Close() }()
	router.AddHandler("event-log", events.TopicChatSessions, router.DumpRawEvents)

	agents := &registry{agents: []chat.Agent{&weatherAgent{}}}
	service := session.NewService(
		session.WithAgentLookup(agents),
		session.WithEventRouter(router),
		session.WithDefaultAgent("weather"),
	)

	autoSaver := session.NewAutoSaver(store, service, session.WithSaveDelay(200*time.Millisecond))
	autoSaver.Attach(router)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()

		sess := service.CreateSession(chat.LocationPanel, session.WithTitle("weather demo"))
		pending, err := service.SendRequest(ctx, sess.ID(), chat.Request{Text: "what is the weather in Paris?"})
		if err != nil {
			return err
		}
		<-pending.Done()

		fmt.Printf("> %s\n", pending.Request.Request().Text)
		fmt.Println(pending.Request.Response().AsDisplayString())

		if err := autoSaver.Flush(); err != nil {
			return err
		}
		log.Info().Str("dir", dir).Int("sessions", len(store.SessionIndex())).Msg("sessions persisted")
		return nil
	})
	return eg.Wait()
}
