package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	id := NewID("thr")
	assert.True(t, strings.HasPrefix(id, "thr_"))
	assert.Len(t, id, len("thr_")+32)
	assert.NotEqual(t, id, NewID("thr"))
	assert.Len(t, NewID(""), 32)
}
