/*
 * Copyright 2025 Carver Automation Corporation.
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

package loader

import (
	"slices"
	"sync"

	"github.com/carverauto/adapterhub/pkg/adapter"
)

// Catalog maps native class names to zero-argument constructors.
type Catalog struct {
	mu    sync.RWMutex
	ctors map[string]adapter.Constructor
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{ctors: make(map[string]adapter.Constructor)}
}

// Register adds or replaces the constructor for class.
func (c *Catalog) Register(class string, ctor adapter.Constructor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ctors[class] = ctor
}

// Lookup returns the constructor for class.
func (c *Catalog) Lookup(class string) (adapter.Constructor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ctor, ok := c.ctors[class]

	return ctor, ok
}

// Classes lists registered class names in sorted order.
func (c *Catalog) Classes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.ctors))
	for name := range c.ctors {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}
