package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsSerializationError(t *testing.T) {
	if !isSerializationError(fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"})) {
		t.Fatalf("expected wrapped 40001 to be detected")
	}
	if isSerializationError(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("unique violation is not a serialization failure")
	}
	if isSerializationError(errors.New("boom")) {
		t.Fatalf("plain error is not a serialization failure")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: inviteConstraint}
	if !isUniqueViolation(err, inviteConstraint) {
		t.Fatalf("expected invite code violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23505", ConstraintName: "players_pkey"}, inviteConstraint) {
		t.Fatalf("other constraints must not match")
	}
}

func TestSleepWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepWithContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
}
