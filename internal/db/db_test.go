package db

import (
	"context"
	"testing"
)

func TestNewWithEmptyURL(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty database URL, got nil")
	}
}

func TestNewWithInvalidURL(t *testing.T) {
	_, err := New(context.Background(), "postgres://invalid:5432/nonexistent?connect_timeout=1")
	if err == nil {
		t.Fatal("expected error for invalid database URL, got nil")
	}
}

func TestRunMigrationsBadSource(t *testing.T) {
	err := RunMigrations("postgres://invalid:5432/nonexistent?connect_timeout=1&sslmode=disable", "/nonexistent/migrations")
	if err == nil {
		t.Fatal("expected error for missing migrations directory, got nil")
	}
}
