/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sched

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type LoopTestSuite struct {
	suite.Suite
}

func (s *LoopTestSuite) TestFIFOOrder() {
	l := NewLoop()
	defer l.Close()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		s.Require().Nil(l.Post(func() { got = append(got, i) }))
	}
	s.Require().Nil(l.Do(func() {}))
	s.Require().Len(got, 100)
	for i, v := range got {
		s.Require().Equal(i, v)
	}
}

func (s *LoopTestSuite) TestDoWaits() {
	l := NewLoop()
	defer l.Close()

	done := false
	s.Require().Nil(l.Do(func() { done = true }))
	s.Require().True(done)
}

func (s *LoopTestSuite) TestReentrantDo() {
	l := NewLoop()
	defer l.Close()

	var inner bool
	err := l.Do(func() {
		// must run inline, not deadlock
		s.Require().Nil(l.Do(func() { inner = true }))
	})
	s.Require().Nil(err)
	s.Require().True(inner)
}

func (s *LoopTestSuite) TestPostFromTaskRunsLater() {
	l := NewLoop()
	defer l.Close()

	var order []string
	s.Require().Nil(l.Do(func() {
		s.Require().Nil(l.Post(func() { order = append(order, "posted") }))
		order = append(order, "turn")
	}))
	s.Require().Nil(l.Do(func() {}))
	s.Require().Equal([]string{"turn", "posted"}, order)
}

func (s *LoopTestSuite) TestCloseReleasesWaiters() {
	l := NewLoop()

	gate := make(chan struct{})
	s.Require().Nil(l.Post(func() { <-gate }))

	var wg sync.WaitGroup
	wg.Add(1)
	errCh := make(chan error, 1)
	go func() {
		defer wg.Done()
		errCh <- l.Do(func() {})
	}()

	time.Sleep(50 * time.Millisecond)
	l.Close()
	close(gate)
	wg.Wait()
	s.Require().Equal(ErrLoopClosed, <-errCh)
}

func (s *LoopTestSuite) TestClosedLoopRejectsTasks() {
	l := NewLoop()
	l.Close()
	l.Close() // idempotent

	s.Require().Equal(ErrLoopClosed, l.Post(func() {}))
	s.Require().Equal(ErrLoopClosed, l.Do(func() {}))
	s.Require().True(l.Closed())
}

func TestLoopTestSuite(t *testing.T) {
	suite.Run(t, new(LoopTestSuite))
}

func TestCurrentGoID(t *testing.T) {
	assert.NotEqual(t, uint64(0), currentGoID())

	other := make(chan uint64, 1)
	go func() { other <- currentGoID() }()
	assert.NotEqual(t, currentGoID(), <-other)
}
