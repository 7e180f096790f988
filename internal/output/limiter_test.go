package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimit_UnderCap(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 100)
	result, truncated := Limit(data)
	assert.False(t, truncated)
	assert.Equal(t, data, result)
}

func TestLimit_OverCap(t *testing.T) {
	data := bytes.Repeat([]byte("a"), MaxBytes+1024)
	result, truncated := Limit(data)
	assert.True(t, truncated)
	assert.Equal(t, MaxBytes, len(result))
}

func TestAggregate_PrefersStderrOnContention(t *testing.T) {
	stdout := bytes.Repeat([]byte("a"), MaxBytes)
	stderr := bytes.Repeat([]byte("b"), MaxBytes)

	aggregated := Aggregate(stdout, stderr)
	stdoutCap := MaxBytes / 3
	stderrCap := MaxBytes - stdoutCap

	assert.Equal(t, MaxBytes, len(aggregated))
	assert.Equal(t, bytes.Repeat([]byte("a"), stdoutCap), aggregated[:stdoutCap])
	assert.Equal(t, bytes.Repeat([]byte("b"), stderrCap), aggregated[stdoutCap:])
}

func TestAggregate_RebalancesWhenStderrIsSmall(t *testing.T) {
	stdout := bytes.Repeat([]byte("a"), MaxBytes)
	stderr := []byte("b")

	aggregated := Aggregate(stdout, stderr)
	stdoutLen := MaxBytes - 1

	assert.Equal(t, MaxBytes, len(aggregated))
	assert.Equal(t, []byte("b"), aggregated[stdoutLen:])
}

func TestAggregate_UnderCapKeepsOrder(t *testing.T) {
	stdout := []byte("out")
	stderr := []byte("err")

	aggregated := Aggregate(stdout, stderr)
	assert.Equal(t, []byte("outerr"), aggregated)
}
