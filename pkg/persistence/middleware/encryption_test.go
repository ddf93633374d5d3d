package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"strings"
	"testing"

	"github.com/aretw0/pitch/pkg/adapters/memory"
	"github.com/aretw0/pitch/pkg/domain"
	"github.com/aretw0/pitch/pkg/persistence/middleware"
	"github.com/aretw0/pitch/pkg/ports"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func seedUser(t *testing.T, store ports.VisitStore, identity string) *domain.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), identity)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return u
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlyingStore := memory.NewStore()
	key := generateKey(t)
	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})(underlyingStore)

	ctx := context.Background()
	user := seedUser(t, secureStore, "+15550001")

	visit := &domain.Visit{
		UserID:      user.ID,
		CurrentNode: "room_choice",
		NextNode:    "room_choice",
		State:       domain.AppState{"secret": "my-secret-sauce"},
	}
	if err := secureStore.CreateVisit(ctx, visit); err != nil {
		t.Fatalf("CreateVisit failed: %v", err)
	}
	if visit.ID == "" || visit.Seq == 0 {
		t.Fatal("Expected store-assigned ID and Seq on the caller's visit")
	}
	if visit.State["secret"] != "my-secret-sauce" {
		t.Fatal("Middleware modified the caller's state")
	}

	msg := &domain.Message{UserID: user.ID, VisitID: visit.ID, Direction: domain.DirectionInbound, Body: "my pin is 1234"}
	if err := secureStore.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if msg.ID == "" || msg.Body != "my pin is 1234" {
		t.Fatalf("Unexpected caller message after append: %+v", msg)
	}

	// The underlying store holds ciphertext only.
	raw, err := underlyingStore.History(ctx, "+15550001")
	if err != nil {
		t.Fatalf("Underlying history failed: %v", err)
	}
	if _, ok := raw.Visits[0].State["secret"]; ok {
		t.Fatal("Expected secret to be hidden")
	}
	if _, ok := raw.Visits[0].State["__encrypted__"]; !ok {
		t.Fatal("Expected __encrypted__ field in state")
	}
	if !strings.HasPrefix(raw.Messages[0].Body, "enc:v1:") || strings.Contains(raw.Messages[0].Body, "1234") {
		t.Fatalf("Expected encrypted body, got %q", raw.Messages[0].Body)
	}
	if raw.Visits[0].NextNode != "room_choice" {
		t.Error("Node names must stay readable")
	}

	// Reads through the middleware are decrypted.
	latest, err := secureStore.LatestVisit(ctx, user.ID)
	if err != nil {
		t.Fatalf("LatestVisit failed: %v", err)
	}
	if latest.State["secret"] != "my-secret-sauce" {
		t.Errorf("Expected 'my-secret-sauce', got %v", latest.State["secret"])
	}

	h, err := secureStore.History(ctx, "+15550001")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if h.Messages[0].Body != "my pin is 1234" {
		t.Errorf("Expected decrypted body, got %q", h.Messages[0].Body)
	}
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlyingStore := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)
	ctx := context.Background()

	secureStoreOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlyingStore)
	user := seedUser(t, secureStoreOld, "rotation")
	if err := secureStoreOld.CreateVisit(ctx, &domain.Visit{
		UserID: user.ID,
		State:  domain.AppState{"data": "encrypted-with-old-key"},
	}); err != nil {
		t.Fatalf("CreateVisit failed: %v", err)
	}

	secureStoreNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlyingStore)

	latest, err := secureStoreNew.LatestVisit(ctx, user.ID)
	if err != nil {
		t.Fatalf("Load with rotation failed: %v", err)
	}
	if latest.State["data"] != "encrypted-with-old-key" {
		t.Errorf("Data mismatch: %v", latest.State["data"])
	}

	// Without the fallback, the state is unreadable.
	strict := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: newKey})(underlyingStore)
	if _, err := strict.LatestVisit(ctx, user.ID); err == nil {
		t.Error("Expected decryption failure without the old key")
	}
}

func TestEncryptionMiddleware_PlaintextState(t *testing.T) {
	underlyingStore := memory.NewStore()
	ctx := context.Background()
	user := seedUser(t, underlyingStore, "legacy")
	if err := underlyingStore.CreateVisit(ctx, &domain.Visit{UserID: user.ID, State: domain.AppState{"a": 1}}); err != nil {
		t.Fatal(err)
	}
	if err := underlyingStore.AppendMessage(ctx, &domain.Message{UserID: user.ID, Body: "hello"}); err != nil {
		t.Fatal(err)
	}

	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)
	if _, err := secureStore.LatestVisit(ctx, user.ID); err == nil {
		t.Error("Expected plaintext state to be rejected")
	}
}

func TestEncryptionMiddleware_BadKeyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for short key")
		}
	}()
	middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short")})
}
