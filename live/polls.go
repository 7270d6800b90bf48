package live

import (
	"context"
	"time"

	"github.com/airheartdev/workshop"
	"github.com/airheartdev/workshop/client"
	"github.com/airheartdev/workshop/mutation"
	"github.com/airheartdev/workshop/optimistic"
)

// VoteMatchWindow is how far apart a pending vote and a confirmed vote by
// the same user on the same poll may be created and still be matched.
const VoteMatchWindow = time.Second

type Polls struct {
	polls       *Collection[int64, workshop.Poll]
	votes       *Collection[int64, workshop.PollVote]
	pollStream  Source
	coordinator *mutation.Coordinator
	client      *client.Client
	options     options
}

func NewPolls(c *client.Client, polls, votes Source, coordinator *mutation.Coordinator, opts ...Option) *Polls {
	return &Polls{
		polls: NewCollection(polls, coordinator, optimistic.Merger[int64, workshop.Poll]{
			Key: func(p workshop.Poll) int64 { return p.ID },
			Less: func(a, b workshop.Poll) bool { return a.CreatedAt.Before(b.CreatedAt) },
		}),
		votes:       NewCollection(votes, coordinator, VoteMerger()),
		pollStream:  polls,
		coordinator: coordinator,
		client:      c,
		options:     newOptions(opts),
	}
}

func VoteMerger() optimistic.Merger[int64, workshop.PollVote] {
	return optimistic.Merger[int64, workshop.PollVote]{
		Key: func(v workshop.PollVote) int64 { return v.ID },
		Less: func(a, b workshop.PollVote) bool { return a.CreatedAt.Before(b.CreatedAt) },
		Correlation: func(v workshop.PollVote) string { return v.CorrelationID },
		Match: func(confirmed, pending workshop.PollVote) bool {
			if confirmed.PollID != pending.PollID || confirmed.UserID != pending.UserID {
				return false
			}
			d := confirmed.CreatedAt.Sub(pending.CreatedAt)
			return d <= VoteMatchWindow && d >= -VoteMatchWindow
		},
		Combine: func(confirmed, pending workshop.PollVote) workshop.PollVote {
			return confirmed
		},
	}
}

func (p *Polls) View() ([]workshop.Poll, error) {
	return p.polls.View()
}

func (p *Polls) Votes() ([]workshop.PollVote, error) {
	return p.votes.View()
}

// Tally counts displayed votes per poll.
func (p *Polls) Tally() (map[int64]int, error) {
	votes, err := p.votes.View()
	if err != nil {
		return nil, err
	}
	tally := make(map[int64]int)
	for _, v := range votes {
		tally[v.PollID]++
	}
	return tally, nil
}

// Create adds a poll. Polls are not shown before they are confirmed.
func (p *Polls) Create(ctx context.Context, in workshop.NewPoll) (workshop.Poll, error) {
	poll, _, err := mutation.Do(ctx, p.coordinator, p.pollStream, func(ctx context.Context) (workshop.Poll, workshop.Txid, error) {
		return p.client.CreatePoll(ctx, in)
	})
	return poll, err
}

// Vote records a vote by the session user. The vote shows immediately and
// is confirmed on the poll_votes shape.
func (p *Polls) Vote(ctx context.Context, pollID int64) (workshop.PollVote, error) {
	session, err := p.client.Session()
	if err != nil {
		return workshop.PollVote{}, err
	}

	now := p.options.now()
	correlationID := p.options.correlationID()

	var vote workshop.PollVote
	_, err = p.votes.Mutate(ctx, optimistic.Entry[int64, workshop.PollVote]{
		Value: workshop.PollVote{
			PollID:        pollID,
			UserID:        session.UserID,
			CorrelationID: correlationID,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		CorrelationID: correlationID,
	}, func(ctx context.Context) (workshop.Txid, error) {
		v, txid, err := p.client.Vote(ctx, pollID, correlationID)
		vote = v
		return txid, err
	})
	return vote, err
}
