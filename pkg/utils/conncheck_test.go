package utils

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFromDBURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"with port", "postgresql://user:pw@dbhost:5433/ntg", "dbhost:5433"},
		{"default port", "postgresql://user:pw@dbhost/ntg", "dbhost:5432"},
		{"postgres scheme", "postgres://user@localhost:5432/ntg?sslmode=disable", "localhost:5432"},
		{"no credentials", "postgresql://dbhost/ntg", "dbhost:5432"},
		{"other scheme", "mysql://user@dbhost/ntg", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractFromDBURL(tt.url))
		})
	}
}

func TestExtractFromNatsURL(t *testing.T) {
	assert.Equal(t, "nats:4222", ExtractFromNatsURL("nats://nats"))
	assert.Equal(t, "localhost:4223", ExtractFromNatsURL("nats://localhost:4223"))
	assert.Equal(t, "", ExtractFromNatsURL("::invalid"))
}

func TestWaitForTCP(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()
	go func() {
		for {
			c, err := lis.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	assert.NoError(t, WaitForTCP(lis.Addr().String(), time.Second))
}
