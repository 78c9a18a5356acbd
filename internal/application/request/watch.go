package request

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bincheck-api/internal/domain"
	"github.com/bincheck-api/internal/infrastructure/events"
)

// Error fragments the Telegram Bot API returns when it cannot message a user
// who never opened the bot.
var unreachableMarkers = []string{
	"chat not found",
	"bot was blocked",
	"can't initiate conversation",
	"bot can't initiate",
}

// Watch emits exactly one Outcome for the request and then closes the channel.
// A request that settled and was already swept still reports its outcome for a
// while. Cancelling ctx closes the channel without an outcome and leaves the
// record alone.
func (s *service) Watch(ctx context.Context, kind domain.RequestKind, requestID string) (<-chan domain.Outcome, error) {
	if s.events == nil {
		return nil, fmt.Errorf("status events unavailable: %w", domain.ErrStore)
	}
	// Subscribe before reading so a resolution between the two is not missed.
	updates, release := s.events.Subscribe(events.ForRequest(kind, requestID))
	pr, err := s.requests.Get(ctx, kind, requestID)
	out := make(chan domain.Outcome, 1)
	if err != nil {
		release()
		// The record is deleted right after it settles; the broker still
		// remembers how it ended.
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		e, ok := s.events.Settled(kind, requestID)
		if !ok {
			return nil, err
		}
		out <- outcomeFor(kind, e.Status, e.Error, false)
		close(out)
		return out, nil
	}

	now := s.now()
	if pr.Status != domain.StatusPending || pr.Expired(now) {
		release()
		out <- outcomeFor(pr.Kind, pr.Status, pr.Error, pr.Expired(now))
		close(out)
		return out, nil
	}

	timer := time.NewTimer(time.Unix(pr.ExpiresAt, 0).Sub(now))
	go func() {
		defer close(out)
		defer release()
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				out <- outcomeFor(kind, domain.StatusExpired, "", true)
				return
			case e, ok := <-updates:
				if !ok {
					return
				}
				if e.Status == domain.StatusPending {
					continue
				}
				out <- outcomeFor(kind, e.Status, e.Error, false)
				return
			}
		}
	}()
	return out, nil
}

func outcomeFor(kind domain.RequestKind, status domain.RequestStatus, errMsg string, expired bool) domain.Outcome {
	switch {
	case status.Succeeded():
		if kind == domain.KindPasswordReset {
			return domain.Outcome{Kind: domain.OutcomeSuccess, Status: status, Message: "Password updated. You can now sign in with your new password."}
		}
		return domain.Outcome{Kind: domain.OutcomeSuccess, Status: status, Message: "Registration approved. You can now sign in."}
	case status.Declined():
		if kind == domain.KindPasswordReset {
			return domain.Outcome{Kind: domain.OutcomeCancelled, Status: status, Message: "Password reset was cancelled in Telegram."}
		}
		return domain.Outcome{Kind: domain.OutcomeCancelled, Status: status, Message: "Registration was declined in Telegram."}
	case status == domain.StatusFailed:
		return domain.Outcome{Kind: domain.OutcomeFailed, Status: status, Message: failureMessage(errMsg)}
	case status == domain.StatusExpired || expired:
		return domain.Outcome{Kind: domain.OutcomeExpired, Status: domain.StatusExpired, Message: "The confirmation request expired. Please submit again."}
	}
	return domain.Outcome{Kind: domain.OutcomeFailed, Status: status, Message: failureMessage(errMsg)}
}

func failureMessage(errMsg string) string {
	lower := strings.ToLower(errMsg)
	for _, m := range unreachableMarkers {
		if strings.Contains(lower, m) {
			return "We could not reach you on Telegram. Open the bot, press Start, then submit again."
		}
	}
	if errMsg == "" {
		return "Confirmation failed. Please try again."
	}
	return "Confirmation failed: " + errMsg
}
