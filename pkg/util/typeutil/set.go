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

package typeutil

import (
	"sync"

	"github.com/samber/lo"
)

// ConcurrentSet 是并发安全的集合，需经 NewConcurrentSet 创建。
type ConcurrentSet[T comparable] struct {
	mu    sync.RWMutex
	items map[T]struct{}
}

func NewConcurrentSet[T comparable](elements ...T) *ConcurrentSet[T] {
	set := &ConcurrentSet[T]{items: make(map[T]struct{}, len(elements))}
	set.Upsert(elements...)
	return set
}

// Upsert 插入元素，已存在的保持不变。
func (set *ConcurrentSet[T]) Upsert(elements ...T) {
	set.mu.Lock()
	defer set.mu.Unlock()
	for _, e := range elements {
		set.items[e] = struct{}{}
	}
}

// Insert 插入单个元素，此前不存在时返回 true。多个协程同时插入同一元素时只有一个得到 true。
func (set *ConcurrentSet[T]) Insert(element T) bool {
	set.mu.Lock()
	defer set.mu.Unlock()
	if _, ok := set.items[element]; ok {
		return false
	}
	set.items[element] = struct{}{}
	return true
}

// Contain 判断所有元素是否都在集合中。
func (set *ConcurrentSet[T]) Contain(elements ...T) bool {
	set.mu.RLock()
	defer set.mu.RUnlock()
	return lo.EveryBy(elements, func(e T) bool {
		_, ok := set.items[e]
		return ok
	})
}

// Remove 移除元素，不存在的忽略。
func (set *ConcurrentSet[T]) Remove(elements ...T) {
	set.mu.Lock()
	defer set.mu.Unlock()
	for _, e := range elements {
		delete(set.items, e)
	}
}

// TryRemove 移除单个元素，元素不存在时返回 false。
func (set *ConcurrentSet[T]) TryRemove(element T) bool {
	set.mu.Lock()
	defer set.mu.Unlock()
	_, ok := set.items[element]
	delete(set.items, element)
	return ok
}

// Collect 返回集合元素的副本，顺序不确定。
func (set *ConcurrentSet[T]) Collect() []T {
	set.mu.RLock()
	defer set.mu.RUnlock()
	return lo.Keys(set.items)
}

func (set *ConcurrentSet[T]) Len() int {
	set.mu.RLock()
	defer set.mu.RUnlock()
	return len(set.items)
}
