package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	svc := NewJWTService("test-secret-key", time.Hour)

	token, err := svc.GenerateToken("user-123", "test@example.com")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}

	if claims.UserID != "user-123" {
		t.Errorf("expected UserID 'user-123', got '%s'", claims.UserID)
	}
	if claims.Email != "test@example.com" {
		t.Errorf("expected Email 'test@example.com', got '%s'", claims.Email)
	}
	if claims.ID == "" {
		t.Error("expected token to carry a jti")
	}
	if time.Until(claims.ExpiresAt.Time) > time.Hour {
		t.Errorf("expiry beyond configured TTL: %v", claims.ExpiresAt.Time)
	}
}

func TestGenerateTokenUniqueIDs(t *testing.T) {
	svc := NewJWTService("test-secret-key", time.Hour)

	a, _ := svc.GenerateToken("user-1", "a@example.com")
	b, _ := svc.GenerateToken("user-1", "a@example.com")

	ca, err := svc.ValidateToken(a)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	cb, err := svc.ValidateToken(b)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if ca.ID == cb.ID {
		t.Error("two tokens for the same user must not share a jti")
	}
}

func TestNewJWTServiceDefaultTTL(t *testing.T) {
	svc := NewJWTService("k", 0)
	if svc.accessDuration != 24*time.Hour {
		t.Errorf("expected default TTL 24h, got %v", svc.accessDuration)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	svc := &JWTService{
		secretKey:      []byte("test-secret-key"),
		accessDuration: -1 * time.Hour,
	}

	token, err := svc.GenerateToken("user-123", "test@example.com")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	_, err = svc.ValidateToken(token)
	if err == nil {
		t.Fatal("expected error for expired token, got nil")
	}
}

func TestValidateInvalidToken(t *testing.T) {
	svc := NewJWTService("test-secret-key", time.Hour)

	_, err := svc.ValidateToken("not-a-valid-token")
	if err == nil {
		t.Fatal("expected error for invalid token, got nil")
	}

	// Token signed with different key
	otherSvc := NewJWTService("different-secret-key", time.Hour)
	token, err := otherSvc.GenerateToken("user-123", "test@example.com")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	_, err = svc.ValidateToken(token)
	if err == nil {
		t.Fatal("expected error for token signed with different key, got nil")
	}
}

// --- Security Tests ---

// TestJWTAlgorithmConfusionNone verifies that tokens with alg:none are rejected.
func TestJWTAlgorithmConfusionNone(t *testing.T) {
	svc := NewJWTService("test-secret-key", time.Hour)

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"admin","email":"admin@evil.com","exp":9999999999}`))
	fakeToken := header + "." + payload + "."

	_, err := svc.ValidateToken(fakeToken)
	if err == nil {
		t.Fatal("SECURITY: accepted token with alg:none")
	}
}

// TestJWTAlgorithmConfusionES256 verifies that tokens signed with a different
// algorithm family are rejected even if they are valid JWTs.
func TestJWTAlgorithmConfusionES256(t *testing.T) {
	svc := NewJWTService("test-secret-key", time.Hour)

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate EC key: %v", err)
	}

	claims := jwt.MapClaims{
		"sub":   "admin",
		"email": "admin@evil.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(ecKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	_, err = svc.ValidateToken(tokenStr)
	if err == nil {
		t.Fatal("SECURITY: accepted token signed with ES256 when expecting HS256")
	}
}

func TestJWTRejectsHS512(t *testing.T) {
	svc := NewJWTService("test-secret-key", time.Hour)

	claims := jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret-key"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := svc.ValidateToken(tokenStr); err == nil {
		t.Fatal("expected HS512 token to be rejected")
	}
}

func TestJWTRequiresExpiry(t *testing.T) {
	svc := NewJWTService("test-secret-key", time.Hour)

	claims := jwt.MapClaims{"sub": "user-1", "email": "u@example.com"}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := svc.ValidateToken(tokenStr); err == nil {
		t.Fatal("SECURITY: accepted token without exp claim")
	}
}

func TestJWTRequiresSubject(t *testing.T) {
	svc := NewJWTService("test-secret-key", time.Hour)

	claims := jwt.MapClaims{"email": "u@example.com", "exp": time.Now().Add(time.Hour).Unix()}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := svc.ValidateToken(tokenStr); err == nil {
		t.Fatal("expected token without subject to be rejected")
	}
}

// TestJWTTokenTampering verifies that modifying claims in a signed token
// causes validation to fail.
func TestJWTTokenTampering(t *testing.T) {
	svc := NewJWTService("test-secret-key", time.Hour)

	token, err := svc.GenerateToken("user-123", "user@example.com")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatal("expected 3 JWT parts")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	payload["sub"] = "admin-escalated"
	payload["email"] = "admin@evil.com"

	tamperedPayload, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}

	tamperedToken := parts[0] + "." + base64.RawURLEncoding.EncodeToString(tamperedPayload) + "." + parts[2]

	if _, err := svc.ValidateToken(tamperedToken); err == nil {
		t.Fatal("SECURITY: accepted tampered token")
	}
}
