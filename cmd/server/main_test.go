package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/advance-engine/advance"
)

func TestWriteTimeout_CoversSlowestRequest(t *testing.T) {
	for _, gw := range []time.Duration{time.Second, 5 * time.Second, 30 * time.Second} {
		assert.Greater(t, writeTimeout(gw), advance.MaxProcessingTime(gw), gw.String())
	}
	assert.Equal(t, 30*time.Second, writeTimeout(5*time.Second))
}
