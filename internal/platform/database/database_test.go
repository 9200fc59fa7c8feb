package database

import (
	"context"
	"testing"

	"github.com/percolation-labs/p8k8/internal/platform/config"
)

func TestOpenRejectsEmptyDSN(t *testing.T) {
	if _, err := Open(context.Background(), config.DatabaseConfig{URL: "   "}); err == nil {
		t.Fatal("expected an error for a blank connection string")
	}
}
