package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrepareURLForDB(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"postgresql://u:p@db/ntg", "postgresql://u:p@db/ntg?sslmode=disable"},
		{"postgresql://u:p@db/ntg?application_name=x", "postgresql://u:p@db/ntg?application_name=x&sslmode=disable"},
		{"postgresql://u:p@db/ntg?sslmode=require", "postgresql://u:p@db/ntg?sslmode=require"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, prepareURLForDB(tt.url))
	}
}
