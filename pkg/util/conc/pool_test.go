// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conc

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestPoolSubmit(t *testing.T) {
	pool := NewPool[int](2, WithExpiryDuration(time.Second))
	defer pool.Release()

	futures := make([]*Future[int], 0, 8)
	for i := 0; i < 8; i++ {
		futures = append(futures, pool.Submit(func() (int, error) {
			return i * i, nil
		}))
	}
	assert.NoError(t, AwaitAll(futures...))
	for i, f := range futures {
		assert.True(t, f.Done())
		assert.Equal(t, i*i, f.Value())
	}
	assert.Equal(t, 2, pool.Cap())
}

func TestPoolConcealPanic(t *testing.T) {
	pool := NewPool[int](1, WithConcealPanic(true))
	defer pool.Release()

	f := pool.Submit(func() (int, error) { panic("responder exploded") })
	_, err := f.Await()
	assert.ErrorContains(t, err, "responder exploded")

	// worker 仍然可用。
	v, err := pool.Submit(func() (int, error) { return 2, nil }).Await()
	assert.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestPoolNonBlocking(t *testing.T) {
	pool := NewPool[struct{}](1, WithNonBlocking(true))
	defer pool.Release()

	release := make(chan struct{})
	busy := pool.Submit(func() (struct{}, error) {
		<-release
		return struct{}{}, nil
	})
	assert.Error(t, pool.Submit(func() (struct{}, error) { return struct{}{}, nil }).Err())
	close(release)
	assert.NoError(t, busy.Err())
}

func TestPoolSubmitError(t *testing.T) {
	pool := NewDefaultPool[struct{}]()
	defer pool.Release()

	boom := errors.New("boom")
	f := pool.Submit(func() (struct{}, error) { return struct{}{}, boom })
	_, err := f.Await()
	assert.ErrorIs(t, err, boom)
	assert.False(t, f.OK())
}

func TestPoolReleased(t *testing.T) {
	pool := NewPool[int](1)
	pool.Release()

	f := pool.Submit(func() (int, error) { return 1, nil })
	assert.Error(t, f.Err())
}

func TestGo(t *testing.T) {
	f := Go(func() (string, error) { return "done", nil })
	<-f.Inner()
	v, err := f.Await()
	assert.NoError(t, err)
	assert.Equal(t, "done", v)
}
