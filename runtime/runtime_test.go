/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package runtime_test

import (
	"context"
	"testing"
	"time"

	"geotxn/logging"
	"geotxn/runtime"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModule struct {
	fail bool
}

func (m *stubModule) Run(ctx context.Context) error {
	if m.fail {
		return errors.New("boom")
	}
	<-ctx.Done()
	return nil
}

func TestSupervisorStopsAllOnCancel(t *testing.T) {
	s := runtime.NewSupervisor(logging.New("t"))
	s.Add("a", &stubModule{})
	s.Add("b", &stubModule{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	assert.NoError(t, err)
}

func TestSupervisorPropagatesFirstError(t *testing.T) {
	s := runtime.NewSupervisor(logging.New("t"))
	s.Add("a", &stubModule{})
	s.Add("failing", &stubModule{fail: true})

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop after a module error")
	}
}
