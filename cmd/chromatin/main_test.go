package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanupRunsInReverseOrder(t *testing.T) {
	var order []string
	c := &cleanup{logger: slog.Default()}
	c.add("postgres", func() error { order = append(order, "postgres"); return nil })
	c.add("redis", func() error { order = append(order, "redis"); return errors.New("already closed") })
	c.add("statsd", func() error { order = append(order, "statsd"); return nil })

	c.run(context.Background())

	assert.Equal(t, []string{"statsd", "redis", "postgres"}, order)
}
