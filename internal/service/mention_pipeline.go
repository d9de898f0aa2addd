package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/teamhub-realtime/internal/mention"
	"github.com/noah-isme/teamhub-realtime/internal/models"
	"github.com/noah-isme/teamhub-realtime/internal/observability"
	"github.com/noah-isme/teamhub-realtime/internal/repository"
)

// mentionPipeline resolves @mentions against room membership and creates
// notifications off the send path. Failures are logged and never reach the sender.
type mentionPipeline struct {
	members  repository.MemberRepository
	sink     NotificationSink
	timeout  time.Duration
	logger   zerolog.Logger

	// mu orders dispatch against wait so no job is added once draining starts.
	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

func newMentionPipeline(members repository.MemberRepository, sink NotificationSink, timeout time.Duration, logger zerolog.Logger) *mentionPipeline {
	return &mentionPipeline{
		members: members,
		sink:    sink,
		timeout: timeout,
		logger:  logger.With().Str("component", "mention_pipeline").Logger(),
	}
}

func (p *mentionPipeline) dispatch(message models.ChatMessage) {
	tokens := mention.Extract(message.Content)
	if len(tokens) == 0 || p.members == nil {
		return
	}

	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		p.logger.Warn().Uint("message_id", message.ID).Msg("mention pipeline draining, skipping notifications")
		return
	}
	p.inflight.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.inflight.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				p.logger.Error().Interface("panic", recovered).Uint("message_id", message.ID).Msg("mention pipeline panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.process(ctx, message, tokens); err != nil {
			observability.MentionFailures().Inc()
			p.logger.Warn().Err(err).Uint("message_id", message.ID).Msg("failed to deliver mention notifications")
		}
	}()
}

func (p *mentionPipeline) process(ctx context.Context, message models.ChatMessage, tokens []string) error {
	members, err := p.members.ListByRoom(ctx, message.RoomType, message.RoomID)
	if err != nil {
		return err
	}

	candidates := make([]mention.Candidate, 0, len(members))
	for _, member := range members {
		if member.UserID == message.AuthorID {
			continue
		}
		candidates = append(candidates, mention.Candidate{UserID: member.UserID, Name: member.Name, Email: member.Email})
	}

	resolution := mention.Resolve(tokens, candidates)
	if len(resolution.Ambiguous) > 0 {
		p.logger.Debug().Strs("tokens", resolution.Ambiguous).Uint("message_id", message.ID).Msg("ambiguous mentions resolved to first match")
	}
	if len(resolution.Users) == 0 {
		return nil
	}

	payloads := mention.BuildNotifications(resolution.Users, mention.Source{
		MessageID:  message.ID,
		AuthorName: message.AuthorName,
		RoomID:     message.RoomID,
		RoomType:   string(message.RoomType),
	})

	_, err = p.sink.CreateMany(ctx, payloads)
	return err
}

// wait stops accepting jobs and blocks until in-flight ones finish or ctx ends.
func (p *mentionPipeline) wait(ctx context.Context) error {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
