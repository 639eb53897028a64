package lobby

import (
	"context"
	"errors"
	"time"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/metrics"
)

// Search puts the player in the random matchmaking pool and pairs them
// with the longest-waiting opponent. Removing both pool entries is the
// commit point of a claim, so when two searchers claim the same opponent
// exactly one wins and the other keeps searching. A searcher that is
// claimed by someone else finds the new match through FindMatchFor,
// anchored on the backend's enqueue timestamp. After
// the search timeout the player's entry is removed and ErrSearchTimeout
// returned.
func (c *Controller) Search(ctx context.Context) (battle.Joined, error) {
	if err := c.begin(StateSearching); err != nil {
		return battle.Joined{}, err
	}
	entry, err := c.gw.Enqueue(ctx, c.playerID)
	if err != nil {
		c.set(StateIdle)
		return battle.Joined{}, err
	}
	// A claim can only happen while we are in the pool, so any battle that
	// started at or after our backend enqueue time is ours.
	since := entry.EnqueuedAt

	searchCtx, cancel := context.WithTimeout(ctx, c.searchTimeout)
	defer cancel()

	t := time.NewTicker(c.pollInterval)
	defer t.Stop()
	for {
		if joined, ok := c.trySearch(searchCtx, since); ok {
			return c.matched(joined), nil
		}

		select {
		case <-searchCtx.Done():
			return c.giveUp(ctx, since)
		case <-t.C:
		}
	}
}

// trySearch runs one round of the search: check whether another player
// claimed us, then try to claim someone.
func (c *Controller) trySearch(ctx context.Context, since time.Time) (battle.Joined, bool) {
	if joined, ok := c.claimedBy(ctx, since); ok {
		return joined, true
	}

	waiting, err := c.gw.ListWaiting(ctx)
	if err != nil {
		c.logger.Warn("listing matchmaking pool", "error", err)
		return battle.Joined{}, false
	}
	for _, e := range waiting {
		if e.PlayerID == c.playerID {
			continue
		}
		joined, err := c.gw.ClaimOpponent(ctx, c.playerID, e.PlayerID)
		switch {
		case err == nil:
			metrics.MatchmakingClaims.WithLabelValues("won").Inc()
			c.logger.Info("opponent claimed", "battle_id", joined.MatchID, "opponent_id", e.PlayerID)
			return joined, true
		case errors.Is(err, battle.ErrClaimLost):
			metrics.MatchmakingClaims.WithLabelValues("lost").Inc()
			c.logger.Debug("claim lost", "opponent_id", e.PlayerID)
		default:
			metrics.MatchmakingClaims.WithLabelValues("error").Inc()
			c.logger.Warn("claiming opponent", "opponent_id", e.PlayerID, "error", err)
		}
		// One claim attempt per poll; a lost claim may mean we were the one
		// claimed, which the next poll detects.
		return battle.Joined{}, false
	}
	return battle.Joined{}, false
}

func (c *Controller) claimedBy(ctx context.Context, since time.Time) (battle.Joined, bool) {
	m, err := c.gw.FindMatchFor(ctx, c.playerID, since)
	if err != nil {
		if !errors.Is(err, battle.ErrNotFound) {
			c.logger.Warn("checking for match", "error", err)
		}
		return battle.Joined{}, false
	}
	joined := battle.Joined{MatchID: m.ID}
	if st, err := c.gw.FetchMatchState(ctx, m.ID); err == nil && st.Round != nil {
		joined.PuzzleID = st.Round.PuzzleID
	}
	c.logger.Info("claimed by opponent", "battle_id", m.ID, "opponent_id", m.Opponent(c.playerID))
	return joined, true
}

func (c *Controller) matched(joined battle.Joined) battle.Joined {
	c.mu.Lock()
	c.matchID = joined.MatchID
	c.mu.Unlock()
	c.set(StateActive)
	return joined
}

// giveUp leaves the pool. A claim can land right at the timeout, so it
// checks one last time before reporting failure.
func (c *Controller) giveUp(ctx context.Context, since time.Time) (battle.Joined, error) {
	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := c.gw.Dequeue(cleanup, c.playerID); err != nil {
		c.logger.Warn("leaving matchmaking pool", "error", err)
	}
	if joined, ok := c.claimedBy(cleanup, since); ok {
		return c.matched(joined), nil
	}

	c.set(StateIdle)
	if err := ctx.Err(); err != nil {
		return battle.Joined{}, err
	}
	return battle.Joined{}, ErrSearchTimeout
}
