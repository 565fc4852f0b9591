package identio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestResetStore(t *testing.T) *resetTokenStore {
	t.Helper()
	_, client := newTestRedis(t)
	return newResetTokenStore(client)
}

func TestResetStoreIssueAndRedeem(t *testing.T) {
	store := newTestResetStore(t)
	ctx := context.Background()

	token, err := store.Issue(ctx, purposePasswordReset, "u1", "alice@example.com", time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	record, err := store.Redeem(ctx, purposePasswordReset, token)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if record.UserID != "u1" || record.Email != "alice@example.com" {
		t.Fatalf("unexpected record: %+v", record)
	}

	if _, err := store.Redeem(ctx, purposePasswordReset, token); !errors.Is(err, errResetNotFound) {
		t.Fatalf("replay: expected errResetNotFound, got %v", err)
	}
}

func TestResetStoreRejectsGarbageAndWrongPurpose(t *testing.T) {
	store := newTestResetStore(t)
	ctx := context.Background()

	if _, err := store.Redeem(ctx, purposePasswordReset, "not-a-token"); !errors.Is(err, errResetNotFound) {
		t.Fatalf("garbage: expected errResetNotFound, got %v", err)
	}

	token, err := store.Issue(ctx, purposeEmailVerify, "u1", "alice@example.com", time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := store.Redeem(ctx, purposePasswordReset, token); !errors.Is(err, errResetNotFound) {
		t.Fatalf("wrong purpose: expected errResetNotFound, got %v", err)
	}
}

func TestResetStoreSupersedePerPurpose(t *testing.T) {
	store := newTestResetStore(t)
	ctx := context.Background()

	resetToken, err := store.Issue(ctx, purposePasswordReset, "u1", "alice@example.com", time.Minute)
	if err != nil {
		t.Fatalf("Issue reset failed: %v", err)
	}
	verifyToken, err := store.Issue(ctx, purposeEmailVerify, "u1", "alice@example.com", time.Minute)
	if err != nil {
		t.Fatalf("Issue verify failed: %v", err)
	}

	// Purposes supersede independently: a new verify token must not touch
	// the live reset token.
	if _, err := store.Issue(ctx, purposeEmailVerify, "u1", "alice@example.com", time.Minute); err != nil {
		t.Fatalf("reissue verify failed: %v", err)
	}

	if _, err := store.Redeem(ctx, purposePasswordReset, resetToken); err != nil {
		t.Fatalf("reset token must survive verify reissue: %v", err)
	}
	if _, err := store.Redeem(ctx, purposeEmailVerify, verifyToken); !errors.Is(err, errResetNotFound) {
		t.Fatalf("superseded verify token: expected errResetNotFound, got %v", err)
	}
}

func TestResetStoreConcurrentRedeemHasOneWinner(t *testing.T) {
	store := newTestResetStore(t)
	ctx := context.Background()

	token, err := store.Issue(ctx, purposePasswordReset, "u1", "alice@example.com", time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	results := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, results[slot] = store.Redeem(ctx, purposePasswordReset, token)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, errResetNotFound):
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestResetStoreConcurrentIssueLeavesOneLiveToken(t *testing.T) {
	store := newTestResetStore(t)
	ctx := context.Background()

	const racers = 4
	var wg sync.WaitGroup
	tokens := make([]string, racers)
	issueErrs := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			tokens[slot], issueErrs[slot] = store.Issue(ctx, purposePasswordReset, "u1", "alice@example.com", time.Minute)
		}(i)
	}
	wg.Wait()

	issued := 0
	live := 0
	for i, token := range tokens {
		if issueErrs[i] != nil {
			// A racer may exhaust its WATCH retries; it then holds no token.
			if errors.Is(issueErrs[i], errResetUnavailable) {
				continue
			}
			t.Fatalf("unexpected issue error: %v", issueErrs[i])
		}
		issued++

		_, err := store.Redeem(ctx, purposePasswordReset, token)
		switch {
		case err == nil:
			live++
		case errors.Is(err, errResetNotFound):
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}

	if issued == 0 {
		t.Fatal("no issue succeeded")
	}
	if live != 1 {
		t.Fatalf("expected exactly one live token, got %d of %d issued", live, issued)
	}
}

func TestResetStoreExpiredToken(t *testing.T) {
	store := newTestResetStore(t)
	ctx := context.Background()

	token, err := store.Issue(ctx, purposePasswordReset, "u1", "alice@example.com", -time.Second)
	if err == nil {
		if _, err := store.Redeem(ctx, purposePasswordReset, token); !errors.Is(err, errResetNotFound) {
			t.Fatalf("expired token: expected errResetNotFound, got %v", err)
		}
	}
}
